package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	// Import sqlite driver
	_ "modernc.org/sqlite"

	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
	portsrepo "github.com/LaazAlae/expenseTracker-sub000/internal/core/ports/repositories"
)

// LedgerStore persists the ledger document as JSON in a single-file sqlite
// database. This is the default store: one file on disk, no external service.
type LedgerStore struct {
	conn *sql.DB
}

// NewLedgerStore opens (or creates) the database at path and runs migrations.
func NewLedgerStore(path string) (*LedgerStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	store := &LedgerStore{conn: conn}
	if err := store.migrate(); err != nil {
		return nil, err
	}
	return store, nil
}

var _ portsrepo.LedgerStore = (*LedgerStore)(nil)

func (s *LedgerStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS ledger_documents (
			id INTEGER PRIMARY KEY CHECK (id = 1),
			doc TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
	}
	for _, m := range migrations {
		if _, err := s.conn.Exec(m); err != nil {
			return fmt.Errorf("failed to run sqlite migration: %w", err)
		}
	}
	return nil
}

func (s *LedgerStore) Load(ctx context.Context) (domain.LedgerDocument, error) {
	var raw string
	err := s.conn.QueryRowContext(ctx, `SELECT doc FROM ledger_documents WHERE id = 1`).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.LedgerDocument{Entries: make(map[string][]domain.LedgerEntry)}, nil
	}
	if err != nil {
		return domain.LedgerDocument{}, fmt.Errorf("failed to load ledger document: %w", err)
	}

	var doc domain.LedgerDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return domain.LedgerDocument{}, fmt.Errorf("failed to decode ledger document: %w", err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string][]domain.LedgerEntry)
	}
	return doc, nil
}

func (s *LedgerStore) Save(ctx context.Context, doc domain.LedgerDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to encode ledger document: %w", err)
	}

	query := `
		INSERT INTO ledger_documents (id, doc, updated_at)
		VALUES (1, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (id) DO UPDATE SET
			doc = excluded.doc,
			updated_at = excluded.updated_at
	`
	if _, err := s.conn.ExecContext(ctx, query, string(raw)); err != nil {
		return fmt.Errorf("failed to save ledger document: %w", err)
	}
	return nil
}

func (s *LedgerStore) Close() error {
	return s.conn.Close()
}
