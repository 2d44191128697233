package pgsql

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
	portsrepo "github.com/LaazAlae/expenseTracker-sub000/internal/core/ports/repositories"
)

// PgxLedgerStore persists the ledger document as a single JSONB row.
type PgxLedgerStore struct {
	db *pgxpool.Pool
}

// NewLedgerStore creates a ledger store backed by a pgx connection pool. The
// ledger_documents table is created by the startup migrations.
func NewLedgerStore(db *pgxpool.Pool) portsrepo.LedgerStore {
	return &PgxLedgerStore{db: db}
}

var _ portsrepo.LedgerStore = (*PgxLedgerStore)(nil)

func (s *PgxLedgerStore) Load(ctx context.Context) (domain.LedgerDocument, error) {
	var raw []byte
	err := s.db.QueryRow(ctx, `SELECT doc FROM ledger_documents WHERE id = 1`).Scan(&raw)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.LedgerDocument{Entries: make(map[string][]domain.LedgerEntry)}, nil
	}
	if err != nil {
		return domain.LedgerDocument{}, fmt.Errorf("failed to load ledger document: %w", err)
	}

	var doc domain.LedgerDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.LedgerDocument{}, fmt.Errorf("failed to decode ledger document: %w", err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string][]domain.LedgerEntry)
	}
	return doc, nil
}

func (s *PgxLedgerStore) Save(ctx context.Context, doc domain.LedgerDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode ledger document: %w", err)
	}

	query := `
        INSERT INTO ledger_documents (id, doc, updated_at)
        VALUES (1, $1, now())
        ON CONFLICT (id) DO UPDATE SET
            doc = EXCLUDED.doc,
            updated_at = EXCLUDED.updated_at;
    `
	if _, err := s.db.Exec(ctx, query, raw); err != nil {
		return fmt.Errorf("failed to save ledger document: %w", err)
	}
	return nil
}

func (s *PgxLedgerStore) Close() error {
	s.db.Close()
	return nil
}
