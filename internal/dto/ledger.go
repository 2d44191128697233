package dto

import (
	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
	"github.com/shopspring/decimal"
)

// TransactionFields carries the caller-supplied fields for a new expense
// entry. Validation tags are enforced both by gin binding on the REST path
// and by the sync server's validator instance on the socket path.
type TransactionFields struct {
	Amount            decimal.Decimal `json:"amount" binding:"required" validate:"required"`
	Beneficiary       string          `json:"beneficiary" binding:"required" validate:"required"`
	ItemDescription   string          `json:"itemDescription" binding:"required" validate:"required"`
	InvoiceNumber     string          `json:"invoiceNumber" binding:"required" validate:"required"`
	PurchaseDate      string          `json:"purchaseDate" binding:"required" validate:"required"`
	ReimbursementDate string          `json:"reimbursementDate" binding:"required" validate:"required"`
	FlightNumber      string          `json:"flightNumber,omitempty" validate:"omitempty"`
	LuggageCount      *int            `json:"luggageCount,omitempty" validate:"omitempty,min=0"`
	Observations      string          `json:"observations,omitempty"`
	BatchTag          string          `json:"batchTag,omitempty"`
}

// TransactionUpdate is a partial update: nil fields are left untouched.
type TransactionUpdate struct {
	Amount            *decimal.Decimal `json:"amount,omitempty"`
	Beneficiary       *string          `json:"beneficiary,omitempty"`
	ItemDescription   *string          `json:"itemDescription,omitempty"`
	InvoiceNumber     *string          `json:"invoiceNumber,omitempty"`
	PurchaseDate      *string          `json:"purchaseDate,omitempty"`
	ReimbursementDate *string          `json:"reimbursementDate,omitempty"`
	FlightNumber      *string          `json:"flightNumber,omitempty"`
	LuggageCount      *int             `json:"luggageCount,omitempty"`
	Observations      *string          `json:"observations,omitempty"`
	BatchTag          *string          `json:"batchTag,omitempty"`
}

// LedgerResponse is the one-shot REST view of a user's ledger.
type LedgerResponse struct {
	UserID      string               `json:"userID"`
	Entries     []domain.LedgerEntry `json:"entries"`
	BudgetState domain.BudgetState   `json:"budgetState"`
}
