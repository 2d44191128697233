// Package syncproto defines the messages exchanged over the persistent sync
// connection. Both the server and the client package encode/decode through
// these types, so the wire contract lives in exactly one place.
package syncproto

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
	"github.com/LaazAlae/expenseTracker-sub000/internal/dto"
)

// Client → server message types.
const (
	TypeAuthenticate       = "authenticate"
	TypeAddFunds           = "add_funds"
	TypeAddTransaction     = "add_transaction"
	TypeEditTransaction    = "edit_transaction"
	TypeDeleteTransaction  = "delete_transaction"
	TypeAssignBatchTag     = "assign_batch_tag"
	TypeAdminCreateUser    = "admin_create_user"
	TypeAdminListUsers     = "admin_list_users"
	TypeAdminDeleteUser    = "admin_delete_user"
	TypeAdminResetPassword = "admin_reset_password"
	TypePing               = "ping"
)

// Server → client message types.
const (
	TypeAuthenticated = "authenticated"
	TypeAuthError     = "auth_error"
	TypeError         = "error"
	TypePong          = "pong"
)

// AppliedType returns the broadcast type for a mutation, e.g.
// "add_funds_applied".
func AppliedType(op string) string { return op + "_applied" }

// Error codes carried by ErrorPayload.
const (
	CodeValidation   = "validation"
	CodeNotFound     = "not_found"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodePersistence  = "persistence"
	CodeInternal     = "internal"
)

// Envelope frames every message: a type tag, an optional request id echoed
// back on responses and applied broadcasts, and a type-specific payload.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"requestId,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope marshals payload into an Envelope. A nil payload produces an
// envelope with no payload field (liveness probes).
func NewEnvelope(msgType, requestID string, payload any) (Envelope, error) {
	envelope := Envelope{Type: msgType, RequestID: requestID}
	if payload == nil {
		return envelope, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("failed to encode %s payload: %w", msgType, err)
	}
	envelope.Payload = raw
	return envelope, nil
}

// AuthenticatePayload presents a bearer token.
type AuthenticatePayload struct {
	Token string `json:"token" validate:"required"`
}

// AddFundsPayload records a fund addition.
type AddFundsPayload struct {
	Amount decimal.Decimal `json:"amount" validate:"required"`
}

// AddTransactionPayload records an expense entry.
type AddTransactionPayload struct {
	Fields dto.TransactionFields `json:"fields" validate:"required"`
}

// EditTransactionPayload partially updates an entry.
type EditTransactionPayload struct {
	EntryID string                `json:"entryID" validate:"required"`
	Fields  dto.TransactionUpdate `json:"fields"`
}

// DeleteTransactionPayload removes an entry.
type DeleteTransactionPayload struct {
	EntryID string `json:"entryID" validate:"required"`
}

// AssignBatchTagPayload sets the batch tag on a group of entries.
type AssignBatchTagPayload struct {
	EntryIDs []string `json:"entryIDs" validate:"required,min=1"`
	Tag      string   `json:"tag"`
}

// AdminCreateUserPayload creates an account (administrator only).
type AdminCreateUserPayload struct {
	Username string `json:"username" validate:"required,min=3,max=64"`
	Password string `json:"password" validate:"required,min=8"`
	IsAdmin  bool   `json:"isAdmin"`
}

// AdminDeleteUserPayload removes an account (administrator only).
type AdminDeleteUserPayload struct {
	UserID string `json:"userID" validate:"required"`
}

// AdminResetPasswordPayload replaces an account password (administrator only).
type AdminResetPasswordPayload struct {
	UserID      string `json:"userID" validate:"required"`
	NewPassword string `json:"newPassword" validate:"required,min=8"`
}

// AuthenticatedPayload is the authoritative hello: the bound identity plus
// the current state of the caller's ledger.
type AuthenticatedPayload struct {
	User        dto.UserResponse     `json:"user"`
	Entries     []domain.LedgerEntry `json:"entries"`
	BudgetState domain.BudgetState   `json:"budgetState"`
}

// MutationAppliedPayload is broadcast to every connection after a successful
// mutation. UserID names the ledger that changed; Entry carries the
// created/edited/deleted entry for single-entry operations, UpdatedCount the
// result of a batch tag assignment.
type MutationAppliedPayload struct {
	UserID       string              `json:"userID"`
	Entry        *domain.LedgerEntry `json:"entry,omitempty"`
	UpdatedCount int                 `json:"updatedCount,omitempty"`
	BatchTag     string              `json:"batchTag,omitempty"`
	BudgetState  domain.BudgetState  `json:"budgetState"`
}

// UserListPayload answers admin_list_users.
type UserListPayload struct {
	Users []dto.UserResponse `json:"users"`
}

// UserPayload answers admin_create_user.
type UserPayload struct {
	User dto.UserResponse `json:"user"`
}

// ErrorPayload reports a scoped failure to the requesting connection only.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
