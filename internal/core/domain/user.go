package domain

import "time"

// User represents an account on the shared ledger. IsAdmin is an explicit
// attribute assigned at creation time; the bootstrap path marks the first
// registered user as administrator.
type User struct {
	UserID       string `json:"userID"`
	Username     string `json:"username"`
	PasswordHash string `json:"-"`
	IsAdmin      bool   `json:"isAdmin"`

	// Login lockout counters.
	FailedLogins int        `json:"-"`
	LockedUntil  *time.Time `json:"-"`

	CreatedAt time.Time  `json:"createdAt"`
	CreatedBy string     `json:"createdBy"`
	UpdatedAt time.Time  `json:"updatedAt"`
	UpdatedBy string     `json:"updatedBy"`
	DeletedAt *time.Time `json:"deletedAt,omitempty"`
}
