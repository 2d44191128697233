package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EntryKind distinguishes money flowing into the ledger from money spent.
type EntryKind string

const (
	Expense      EntryKind = "expense"
	FundAddition EntryKind = "fund_addition"
)

// LedgerEntry is one recorded fund addition or expense. EntryID is stable for
// the lifetime of the entry; edits mutate fields in place, deletion removes
// the entry from its sequence.
type LedgerEntry struct {
	EntryID string          `json:"entryID"`
	Kind    EntryKind       `json:"kind"`
	Amount  decimal.Decimal `json:"amount"` // Positive; minor-unit precision

	// Expense-only fields. Empty for fund additions.
	Beneficiary       string `json:"beneficiary,omitempty"`
	ItemDescription   string `json:"itemDescription,omitempty"`
	InvoiceNumber     string `json:"invoiceNumber,omitempty"`
	PurchaseDate      string `json:"purchaseDate,omitempty"`
	ReimbursementDate string `json:"reimbursementDate,omitempty"`
	FlightNumber      string `json:"flightNumber,omitempty"`
	LuggageCount      *int   `json:"luggageCount,omitempty"`
	Observations      string `json:"observations,omitempty"`
	BatchTag          string `json:"batchTag,omitempty"` // The "BD number" grouping label

	CreatedBy  string     `json:"createdBy"`
	CreatedAt  time.Time  `json:"createdAt"`
	ModifiedBy *string    `json:"modifiedBy,omitempty"`
	ModifiedAt *time.Time `json:"modifiedAt,omitempty"`
}
