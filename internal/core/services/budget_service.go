package services

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/LaazAlae/expenseTracker-sub000/internal/apperrors"
	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
	portssvc "github.com/LaazAlae/expenseTracker-sub000/internal/core/ports/services"
	"github.com/LaazAlae/expenseTracker-sub000/internal/dto"
	"github.com/LaazAlae/expenseTracker-sub000/internal/utils/syncutils"
)

// budgetService is the only code path that mutates entry sequences. Each
// operation acquires the user's keyed lock, mutates the in-memory sequence,
// persists the whole document, and only then releases the lock and returns
// the recomputed BudgetState. A persistence failure is reported but the
// in-memory mutation stands (eventual durability).
type budgetService struct {
	authority *documentAuthority
	locks     *syncutils.KeyedMutex
}

// NewBudgetService creates the budget manager over a shared document authority.
func NewBudgetService(authority *documentAuthority) portssvc.BudgetSvcFacade {
	return &budgetService{
		authority: authority,
		locks:     syncutils.NewKeyedMutex(),
	}
}

var _ portssvc.BudgetSvcFacade = (*budgetService)(nil)

func (s *budgetService) AddFunds(ctx context.Context, userID string, amount decimal.Decimal, actor string) (*domain.LedgerEntry, domain.BudgetState, error) {
	if !amount.IsPositive() {
		return nil, domain.BudgetState{}, fmt.Errorf("%w: amount must be positive", apperrors.ErrValidation)
	}

	if err := s.locks.Lock(ctx, userID); err != nil {
		return nil, domain.BudgetState{}, err
	}
	defer s.locks.Unlock(userID)

	entry := domain.LedgerEntry{
		EntryID:   uuid.NewString(),
		Kind:      domain.FundAddition,
		Amount:    amount,
		CreatedBy: actor,
		CreatedAt: time.Now().UTC(),
	}
	state := s.prepend(userID, entry)

	if err := s.authority.persist(ctx); err != nil {
		return nil, domain.BudgetState{}, err
	}
	return &entry, state, nil
}

func (s *budgetService) AddTransaction(ctx context.Context, userID string, fields dto.TransactionFields, actor string) (*domain.LedgerEntry, domain.BudgetState, error) {
	if !fields.Amount.IsPositive() {
		return nil, domain.BudgetState{}, fmt.Errorf("%w: amount must be positive", apperrors.ErrValidation)
	}
	if fields.Beneficiary == "" || fields.ItemDescription == "" || fields.InvoiceNumber == "" ||
		fields.PurchaseDate == "" || fields.ReimbursementDate == "" {
		return nil, domain.BudgetState{}, fmt.Errorf("%w: required expense fields missing", apperrors.ErrValidation)
	}

	if err := s.locks.Lock(ctx, userID); err != nil {
		return nil, domain.BudgetState{}, err
	}
	defer s.locks.Unlock(userID)

	entry := domain.LedgerEntry{
		EntryID:           uuid.NewString(),
		Kind:              domain.Expense,
		Amount:            fields.Amount,
		Beneficiary:       fields.Beneficiary,
		ItemDescription:   fields.ItemDescription,
		InvoiceNumber:     fields.InvoiceNumber,
		PurchaseDate:      fields.PurchaseDate,
		ReimbursementDate: fields.ReimbursementDate,
		FlightNumber:      fields.FlightNumber,
		LuggageCount:      fields.LuggageCount,
		Observations:      fields.Observations,
		BatchTag:          fields.BatchTag,
		CreatedBy:         actor,
		CreatedAt:         time.Now().UTC(),
	}
	state := s.prepend(userID, entry)

	if err := s.authority.persist(ctx); err != nil {
		return nil, domain.BudgetState{}, err
	}
	return &entry, state, nil
}

func (s *budgetService) EditTransaction(ctx context.Context, userID string, entryID string, update dto.TransactionUpdate, actor string) (*domain.LedgerEntry, domain.BudgetState, error) {
	if update.Amount != nil && !update.Amount.IsPositive() {
		return nil, domain.BudgetState{}, fmt.Errorf("%w: amount must be positive", apperrors.ErrValidation)
	}

	if err := s.locks.Lock(ctx, userID); err != nil {
		return nil, domain.BudgetState{}, err
	}
	defer s.locks.Unlock(userID)

	var updated *domain.LedgerEntry
	var state domain.BudgetState
	s.authority.mu.Lock()
	entries := s.authority.doc.Entries[userID]
	for i := range entries {
		if entries[i].EntryID != entryID {
			continue
		}
		applyUpdate(&entries[i], update)
		now := time.Now().UTC()
		entries[i].ModifiedBy = &actor
		entries[i].ModifiedAt = &now
		entryCopy := entries[i]
		updated = &entryCopy
		state = domain.ComputeBudgetState(entries)
		break
	}
	s.authority.mu.Unlock()

	if updated == nil {
		return nil, domain.BudgetState{}, fmt.Errorf("%w: entry %s", apperrors.ErrNotFound, entryID)
	}
	if err := s.authority.persist(ctx); err != nil {
		return nil, domain.BudgetState{}, err
	}
	return updated, state, nil
}

func (s *budgetService) DeleteTransaction(ctx context.Context, userID string, entryID string, actor string) (*domain.LedgerEntry, domain.BudgetState, error) {
	if err := s.locks.Lock(ctx, userID); err != nil {
		return nil, domain.BudgetState{}, err
	}
	defer s.locks.Unlock(userID)

	var deleted *domain.LedgerEntry
	var state domain.BudgetState
	s.authority.mu.Lock()
	entries := s.authority.doc.Entries[userID]
	for i := range entries {
		if entries[i].EntryID != entryID {
			continue
		}
		entryCopy := entries[i]
		deleted = &entryCopy
		entries = append(entries[:i], entries[i+1:]...)
		s.authority.doc.Entries[userID] = entries
		state = domain.ComputeBudgetState(entries)
		break
	}
	s.authority.mu.Unlock()

	if deleted == nil {
		return nil, domain.BudgetState{}, fmt.Errorf("%w: entry %s", apperrors.ErrNotFound, entryID)
	}
	if err := s.authority.persist(ctx); err != nil {
		return nil, domain.BudgetState{}, err
	}
	return deleted, state, nil
}

func (s *budgetService) AssignBatchTag(ctx context.Context, userID string, entryIDs []string, tag string, actor string) (int, domain.BudgetState, error) {
	if err := s.locks.Lock(ctx, userID); err != nil {
		return 0, domain.BudgetState{}, err
	}
	defer s.locks.Unlock(userID)

	wanted := make(map[string]bool, len(entryIDs))
	for _, id := range entryIDs {
		wanted[id] = true
	}

	count := 0
	now := time.Now().UTC()
	s.authority.mu.Lock()
	entries := s.authority.doc.Entries[userID]
	for i := range entries {
		if !wanted[entries[i].EntryID] {
			continue
		}
		entries[i].BatchTag = tag
		entries[i].ModifiedBy = &actor
		entries[i].ModifiedAt = &now
		count++
	}
	state := domain.ComputeBudgetState(entries)
	s.authority.mu.Unlock()

	if count > 0 {
		if err := s.authority.persist(ctx); err != nil {
			return 0, domain.BudgetState{}, err
		}
	}
	return count, state, nil
}

func (s *budgetService) Snapshot(ctx context.Context, userID string) ([]domain.LedgerEntry, domain.BudgetState, error) {
	entries := s.authority.entriesCopy(userID)
	return entries, domain.ComputeBudgetState(entries), nil
}

// prepend inserts a new entry at the front of the user's sequence (newest
// first) and returns the recomputed state. The sequence is created lazily on
// first mutation.
func (s *budgetService) prepend(userID string, entry domain.LedgerEntry) domain.BudgetState {
	s.authority.mu.Lock()
	defer s.authority.mu.Unlock()
	entries := append([]domain.LedgerEntry{entry}, s.authority.doc.Entries[userID]...)
	s.authority.doc.Entries[userID] = entries
	return domain.ComputeBudgetState(entries)
}

func applyUpdate(entry *domain.LedgerEntry, update dto.TransactionUpdate) {
	if update.Amount != nil {
		entry.Amount = *update.Amount
	}
	if update.Beneficiary != nil {
		entry.Beneficiary = *update.Beneficiary
	}
	if update.ItemDescription != nil {
		entry.ItemDescription = *update.ItemDescription
	}
	if update.InvoiceNumber != nil {
		entry.InvoiceNumber = *update.InvoiceNumber
	}
	if update.PurchaseDate != nil {
		entry.PurchaseDate = *update.PurchaseDate
	}
	if update.ReimbursementDate != nil {
		entry.ReimbursementDate = *update.ReimbursementDate
	}
	if update.FlightNumber != nil {
		entry.FlightNumber = *update.FlightNumber
	}
	if update.LuggageCount != nil {
		entry.LuggageCount = update.LuggageCount
	}
	if update.Observations != nil {
		entry.Observations = *update.Observations
	}
	if update.BatchTag != nil {
		entry.BatchTag = *update.BatchTag
	}
}
