package syncclient

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
	"github.com/LaazAlae/expenseTracker-sub000/internal/dto"
	"github.com/LaazAlae/expenseTracker-sub000/pkg/syncproto"
)

// optimisticKind names the operations that have a natural local
// approximation. Edits and batch tags wait for the authoritative broadcast.
type optimisticKind int

const (
	optimisticAddFunds optimisticKind = iota
	optimisticAddTransaction
	optimisticDelete
)

// optimisticOp is a locally applied mutation awaiting server confirmation.
type optimisticOp struct {
	requestID string
	kind      optimisticKind
	entry     domain.LedgerEntry // synthetic entry for adds
	entryID   string             // target for deletes
}

// Reconciler holds the client's view of its ledger: the last authoritative
// snapshot plus any pending optimistic mutations. The projected BudgetState
// is derived with the same fold the server uses, so optimistic and
// authoritative projections are structurally identical once they agree.
// Authoritative broadcasts always replace; there is no field-level merging.
type Reconciler struct {
	mu      sync.Mutex
	entries []domain.LedgerEntry
	state   domain.BudgetState
	pending []optimisticOp
}

// NewReconciler creates an empty reconciler.
func NewReconciler() *Reconciler {
	return &Reconciler{state: domain.ComputeBudgetState(nil)}
}

// SetAuthoritative replaces the authoritative snapshot wholesale (the hello
// message). Pending optimistic operations are kept and re-projected on top.
func (r *Reconciler) SetAuthoritative(entries []domain.LedgerEntry, state domain.BudgetState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append([]domain.LedgerEntry(nil), entries...)
	r.state = state
}

// ApplyBroadcast folds an applied mutation for this ledger into the
// authoritative sequence and unconditionally adopts the broadcast
// BudgetState. If the broadcast confirms one of our own requests, the
// matching optimistic operation is cleared.
func (r *Reconciler) ApplyBroadcast(opType string, requestID string, payload syncproto.MutationAppliedPayload) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch opType {
	case syncproto.AppliedType(syncproto.TypeAddFunds), syncproto.AppliedType(syncproto.TypeAddTransaction):
		if payload.Entry != nil {
			r.entries = append([]domain.LedgerEntry{*payload.Entry}, r.entries...)
		}
	case syncproto.AppliedType(syncproto.TypeEditTransaction):
		if payload.Entry != nil {
			for i := range r.entries {
				if r.entries[i].EntryID == payload.Entry.EntryID {
					r.entries[i] = *payload.Entry
					break
				}
			}
		}
	case syncproto.AppliedType(syncproto.TypeDeleteTransaction):
		if payload.Entry != nil {
			for i := range r.entries {
				if r.entries[i].EntryID == payload.Entry.EntryID {
					r.entries = append(r.entries[:i], r.entries[i+1:]...)
					break
				}
			}
		}
	case syncproto.AppliedType(syncproto.TypeAssignBatchTag):
		// The broadcast carries only the count; tags are reconciled from
		// BudgetState plus the next full snapshot. Totals are unaffected.
	}

	// The server is always right.
	r.state = payload.BudgetState
	r.removePendingLocked(requestID)
}

// ApplyOptimisticAddFunds projects a fund addition locally and returns the
// projected BudgetState.
func (r *Reconciler) ApplyOptimisticAddFunds(requestID string, amount decimal.Decimal) domain.BudgetState {
	entry := domain.LedgerEntry{
		EntryID:   "pending-" + requestID,
		Kind:      domain.FundAddition,
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	}
	return r.addPending(optimisticOp{requestID: requestID, kind: optimisticAddFunds, entry: entry})
}

// ApplyOptimisticAddTransaction projects an expense locally.
func (r *Reconciler) ApplyOptimisticAddTransaction(requestID string, fields dto.TransactionFields) domain.BudgetState {
	entry := domain.LedgerEntry{
		EntryID:           "pending-" + requestID,
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
		CreatedAt:         time.Now().UTC(),
	}
	return r.addPending(optimisticOp{requestID: requestID, kind: optimisticAddTransaction, entry: entry})
}

// ApplyOptimisticDelete projects an entry removal locally.
func (r *Reconciler) ApplyOptimisticDelete(requestID string, entryID string) domain.BudgetState {
	return r.addPending(optimisticOp{requestID: requestID, kind: optimisticDelete, entryID: entryID})
}

// Rollback discards a pending optimistic operation (server error, or the
// request was dropped for staleness) and collapses the projection back onto
// the last authoritative state.
func (r *Reconciler) Rollback(requestID string) domain.BudgetState {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removePendingLocked(requestID)
	return r.projectedStateLocked()
}

// State returns the projected BudgetState: the last authoritative state with
// any pending optimistic operations folded on top.
func (r *Reconciler) State() domain.BudgetState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.projectedStateLocked()
}

// Entries returns the projected entry sequence.
func (r *Reconciler) Entries() []domain.LedgerEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.projectedEntriesLocked()
}

// PendingCount reports outstanding optimistic operations.
func (r *Reconciler) PendingCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}

func (r *Reconciler) addPending(op optimisticOp) domain.BudgetState {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending = append(r.pending, op)
	return r.projectedStateLocked()
}

func (r *Reconciler) removePendingLocked(requestID string) {
	if requestID == "" {
		return
	}
	for i := range r.pending {
		if r.pending[i].requestID == requestID {
			r.pending = append(r.pending[:i], r.pending[i+1:]...)
			return
		}
	}
}

func (r *Reconciler) projectedEntriesLocked() []domain.LedgerEntry {
	projected := append([]domain.LedgerEntry(nil), r.entries...)
	for _, op := range r.pending {
		switch op.kind {
		case optimisticAddFunds, optimisticAddTransaction:
			projected = append([]domain.LedgerEntry{op.entry}, projected...)
		case optimisticDelete:
			for i := range projected {
				if projected[i].EntryID == op.entryID {
					projected = append(projected[:i], projected[i+1:]...)
					break
				}
			}
		}
	}
	return projected
}

// projectedStateLocked derives the projection. With no pending operations
// the authoritative state is returned untouched rather than recomputed.
func (r *Reconciler) projectedStateLocked() domain.BudgetState {
	if len(r.pending) == 0 {
		return r.state
	}
	return domain.ComputeBudgetState(r.projectedEntriesLocked())
}
