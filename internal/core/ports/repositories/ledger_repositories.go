package repositories

import (
	"context"

	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
)

// LedgerStore defines durable persistence of the whole ledger document.
// Implementations are free to serialize however they like; callers always
// load and save the complete document.
type LedgerStore interface {
	// Load reads the persisted document. A store with no prior document
	// returns an empty document, not an error.
	Load(ctx context.Context) (domain.LedgerDocument, error)

	// Save durably writes the complete document, replacing any prior one.
	Save(ctx context.Context, doc domain.LedgerDocument) error

	// Close releases the underlying resources.
	Close() error
}
