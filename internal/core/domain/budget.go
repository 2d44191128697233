package domain

import "github.com/shopspring/decimal"

// HintSetLimit caps each autocomplete hint set at the most-recently-seen
// distinct values.
const HintSetLimit = 50

// BudgetState holds the derived totals and autocomplete hints for one entry
// sequence. It is never persisted: it is recomputed from the sequence on every
// mutation, so stored and displayed totals cannot drift apart.
type BudgetState struct {
	TotalFundsAdded decimal.Decimal `json:"totalFundsAdded"`
	TotalExpenses   decimal.Decimal `json:"totalExpenses"`
	AvailableBudget decimal.Decimal `json:"availableBudget"`

	Beneficiaries    []string `json:"beneficiaries"`
	ItemDescriptions []string `json:"itemDescriptions"`
	FlightNumbers    []string `json:"flightNumbers"`
}

// ComputeBudgetState folds an entry sequence (newest first) into its derived
// BudgetState. It is a pure function: any two observers folding the same
// sequence obtain identical values.
func ComputeBudgetState(entries []LedgerEntry) BudgetState {
	state := BudgetState{
		TotalFundsAdded:  decimal.Zero,
		TotalExpenses:    decimal.Zero,
		AvailableBudget:  decimal.Zero,
		Beneficiaries:    []string{},
		ItemDescriptions: []string{},
		FlightNumbers:    []string{},
	}

	for _, entry := range entries {
		switch entry.Kind {
		case FundAddition:
			state.TotalFundsAdded = state.TotalFundsAdded.Add(entry.Amount)
		case Expense:
			state.TotalExpenses = state.TotalExpenses.Add(entry.Amount)
			state.Beneficiaries = appendHint(state.Beneficiaries, entry.Beneficiary)
			state.ItemDescriptions = appendHint(state.ItemDescriptions, entry.ItemDescription)
			state.FlightNumbers = appendHint(state.FlightNumbers, entry.FlightNumber)
		}
	}

	state.AvailableBudget = state.TotalFundsAdded.Sub(state.TotalExpenses)
	return state
}

// appendHint adds a value to a hint set if it is non-empty and not already
// present (case-sensitive exact match), keeping at most HintSetLimit values.
// The sequence is newest-first, so appending preserves recency order.
func appendHint(hints []string, value string) []string {
	if value == "" || len(hints) >= HintSetLimit {
		return hints
	}
	for _, existing := range hints {
		if existing == value {
			return hints
		}
	}
	return append(hints, value)
}
