package apperrors

import "errors"

// ErrNotFound indicates that a requested resource could not be found.
var ErrNotFound = errors.New("resource not found")

// ErrValidation indicates that input data failed validation checks.
var ErrValidation = errors.New("validation error")

// ErrDuplicate indicates that an attempt was made to create a resource that already exists.
var ErrDuplicate = errors.New("resource already exists")

// ErrUnauthorized indicates a missing, invalid or expired credential.
// Terminal for a sync connection: clients must not retry with the same token.
var ErrUnauthorized = errors.New("unauthorized")

// ErrForbidden indicates the caller is authenticated but lacks the required
// privilege (e.g. a non-administrator issuing admin operations).
var ErrForbidden = errors.New("forbidden")

// ErrPersistence indicates the store failed to durably write the ledger
// document. The in-memory mutation has already been applied when this is
// returned; durability is eventual.
var ErrPersistence = errors.New("persistence failure")

// ErrAccountLocked indicates too many failed login attempts.
var ErrAccountLocked = errors.New("account temporarily locked")
