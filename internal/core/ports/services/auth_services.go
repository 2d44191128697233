package services

import (
	"context"
	"time"

	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
)

// TokenSvcFacade is the authenticator capability: it issues bearer tokens and
// resolves a presented token back to a user identity.
type TokenSvcFacade interface {
	// IssueToken creates a signed bearer token for the user.
	IssueToken(ctx context.Context, user *domain.User) (string, time.Time, error)

	// ValidateToken checks a bearer token and returns the user it
	// identifies, or apperrors.ErrUnauthorized.
	ValidateToken(ctx context.Context, token string) (*domain.User, error)
}
