package services

import (
	"context"

	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
	"github.com/LaazAlae/expenseTracker-sub000/internal/dto"
	"github.com/shopspring/decimal"
)

// BudgetSvcFacade is the single authority over entry sequences. Operations
// for the same user id are mutually exclusive; operations for different
// users run in parallel. Every mutation returns the entry (or count) it
// produced together with the freshly recomputed BudgetState, so callers
// never derive totals themselves.
type BudgetSvcFacade interface {
	// AddFunds records a fund addition. amount must be positive.
	AddFunds(ctx context.Context, userID string, amount decimal.Decimal, actor string) (*domain.LedgerEntry, domain.BudgetState, error)

	// AddTransaction records an expense entry.
	AddTransaction(ctx context.Context, userID string, fields dto.TransactionFields, actor string) (*domain.LedgerEntry, domain.BudgetState, error)

	// EditTransaction applies a partial update to an existing entry and
	// stamps the modification audit fields.
	EditTransaction(ctx context.Context, userID string, entryID string, update dto.TransactionUpdate, actor string) (*domain.LedgerEntry, domain.BudgetState, error)

	// DeleteTransaction removes an entry from the sequence.
	DeleteTransaction(ctx context.Context, userID string, entryID string, actor string) (*domain.LedgerEntry, domain.BudgetState, error)

	// AssignBatchTag sets the batch tag on every listed entry that exists.
	// Missing ids are skipped; the returned count is the number updated.
	AssignBatchTag(ctx context.Context, userID string, entryIDs []string, tag string, actor string) (int, domain.BudgetState, error)

	// Snapshot returns the current entries and BudgetState without taking
	// the user's lock (the fold runs over an already-consistent copy).
	Snapshot(ctx context.Context, userID string) ([]domain.LedgerEntry, domain.BudgetState, error)
}
