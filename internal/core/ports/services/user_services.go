package services

import (
	"context"

	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
)

// UserReaderSvc defines read operations for user data.
type UserReaderSvc interface {
	// GetUserByID retrieves a user by ID.
	GetUserByID(ctx context.Context, userID string) (*domain.User, error)

	// GetUserByUsername retrieves a user by username.
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)

	// ListUsers retrieves all users.
	ListUsers(ctx context.Context) ([]domain.User, error)
}

// UserWriterSvc defines write operations for user data.
type UserWriterSvc interface {
	// Register creates an account via self-service signup. The first
	// account ever created is marked administrator.
	Register(ctx context.Context, username, password string) (*domain.User, error)

	// CreateUser creates an account on behalf of an administrator.
	CreateUser(ctx context.Context, username, password string, isAdmin bool, creatorUserID string) (*domain.User, error)

	// ResetPassword replaces a user's password hash and clears lockout state.
	ResetPassword(ctx context.Context, userID, newPassword, actorUserID string) error

	// DeleteUser removes an account and its entry sequence.
	DeleteUser(ctx context.Context, userID, actorUserID string) error
}

// UserAuthSvc defines operations for user authentication.
type UserAuthSvc interface {
	// AuthenticateUser checks credentials, maintaining lockout counters.
	AuthenticateUser(ctx context.Context, username, password string) (*domain.User, error)
}

// UserSvcFacade combines all user-related service interfaces.
type UserSvcFacade interface {
	UserReaderSvc
	UserWriterSvc
	UserAuthSvc
}
