package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/LaazAlae/expenseTracker-sub000/internal/apperrors"
	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
	portssvc "github.com/LaazAlae/expenseTracker-sub000/internal/core/ports/services"
	"github.com/LaazAlae/expenseTracker-sub000/internal/utils"
	"github.com/LaazAlae/expenseTracker-sub000/pkg/config"
)

// tokenService implements the authenticator capability with HMAC-signed JWTs.
// It needs configuration for the secret, expiry and issuer, and the user
// service to resolve a token subject back into a live account.
type tokenService struct {
	cfg         *config.Config
	userService portssvc.UserReaderSvc
}

// NewTokenService creates a new instance of tokenService.
func NewTokenService(cfg *config.Config, userService portssvc.UserReaderSvc) portssvc.TokenSvcFacade {
	return &tokenService{cfg: cfg, userService: userService}
}

var _ portssvc.TokenSvcFacade = (*tokenService)(nil)

func (s *tokenService) IssueToken(ctx context.Context, user *domain.User) (string, time.Time, error) {
	expiryTime := time.Now().Add(s.cfg.JWTExpiryDuration)
	token, err := utils.GenerateJWT(user.UserID, s.cfg.JWTSecret, s.cfg.JWTExpiryDuration, s.cfg.JWTIssuer)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiryTime, nil
}

func (s *tokenService) ValidateToken(ctx context.Context, token string) (*domain.User, error) {
	claims, err := utils.ParseAndValidateJWT(token, s.cfg.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperrors.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: token has no subject", apperrors.ErrUnauthorized)
	}

	user, err := s.userService.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			return nil, fmt.Errorf("%w: unknown user", apperrors.ErrUnauthorized)
		}
		return nil, err
	}
	return user, nil
}
