package services

import (
	"context"
	"fmt"
	"sync"

	"github.com/LaazAlae/expenseTracker-sub000/internal/apperrors"
	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
	portsrepo "github.com/LaazAlae/expenseTracker-sub000/internal/core/ports/repositories"
)

// documentAuthority owns the in-memory ledger document and its persistence.
// It is shared by the budget and user services: both mutate the same document
// and persist it whole through the store. Structural access is guarded by mu;
// logical read-modify-write cycles are serialized by the callers (per-user
// keyed mutex in the budget service, a single mutex in the user service).
type documentAuthority struct {
	store portsrepo.LedgerStore

	mu  sync.RWMutex
	doc domain.LedgerDocument

	// saveMu serializes store writes so two concurrent saves for different
	// users cannot interleave a torn document.
	saveMu sync.Mutex
}

// newDocumentAuthority loads the persisted document into memory.
func newDocumentAuthority(ctx context.Context, store portsrepo.LedgerStore) (*documentAuthority, error) {
	doc, err := store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load ledger document: %w", err)
	}
	if doc.Entries == nil {
		doc.Entries = make(map[string][]domain.LedgerEntry)
	}
	return &documentAuthority{store: store, doc: doc}, nil
}

// persist snapshots the current document and writes it to the store. The
// snapshot is taken under the read lock; the write itself runs without it so
// slow storage never blocks readers.
func (a *documentAuthority) persist(ctx context.Context) error {
	a.mu.RLock()
	snapshot := a.doc.Clone()
	a.mu.RUnlock()

	a.saveMu.Lock()
	defer a.saveMu.Unlock()
	if err := a.store.Save(ctx, snapshot); err != nil {
		return fmt.Errorf("%w: %v", apperrors.ErrPersistence, err)
	}
	return nil
}

// entriesCopy returns a copy of one user's entry sequence.
func (a *documentAuthority) entriesCopy(userID string) []domain.LedgerEntry {
	a.mu.RLock()
	defer a.mu.RUnlock()
	entries := a.doc.Entries[userID]
	seq := make([]domain.LedgerEntry, len(entries))
	copy(seq, entries)
	return seq
}
