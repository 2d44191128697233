package services

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/LaazAlae/expenseTracker-sub000/internal/apperrors"
	"github.com/LaazAlae/expenseTracker-sub000/internal/core/domain"
	portssvc "github.com/LaazAlae/expenseTracker-sub000/internal/core/ports/services"
	"github.com/LaazAlae/expenseTracker-sub000/internal/utils"
)

// Lockout policy: after maxFailedLogins consecutive failures the account is
// locked for lockoutDuration.
const (
	maxFailedLogins = 5
	lockoutDuration = 15 * time.Minute
)

// userService manages accounts stored inside the ledger document. User writes
// are serialized by a single mutex (user churn is rare compared to ledger
// traffic); entry sequences are untouched except on account deletion.
type userService struct {
	authority *documentAuthority
	writeMu   sync.Mutex
}

// NewUserService creates the user service over a shared document authority.
func NewUserService(authority *documentAuthority) portssvc.UserSvcFacade {
	return &userService{authority: authority}
}

var _ portssvc.UserSvcFacade = (*userService)(nil)

func (s *userService) GetUserByID(ctx context.Context, userID string) (*domain.User, error) {
	s.authority.mu.RLock()
	defer s.authority.mu.RUnlock()
	for i := range s.authority.doc.Users {
		if s.authority.doc.Users[i].UserID == userID {
			user := s.authority.doc.Users[i]
			return &user, nil
		}
	}
	return nil, fmt.Errorf("%w: user %s", apperrors.ErrNotFound, userID)
}

func (s *userService) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	s.authority.mu.RLock()
	defer s.authority.mu.RUnlock()
	for i := range s.authority.doc.Users {
		if s.authority.doc.Users[i].Username == username {
			user := s.authority.doc.Users[i]
			return &user, nil
		}
	}
	return nil, fmt.Errorf("%w: user %q", apperrors.ErrNotFound, username)
}

func (s *userService) ListUsers(ctx context.Context) ([]domain.User, error) {
	s.authority.mu.RLock()
	defer s.authority.mu.RUnlock()
	users := make([]domain.User, len(s.authority.doc.Users))
	copy(users, s.authority.doc.Users)
	return users, nil
}

func (s *userService) Register(ctx context.Context, username, password string) (*domain.User, error) {
	return s.create(ctx, username, password, false, "", true)
}

func (s *userService) CreateUser(ctx context.Context, username, password string, isAdmin bool, creatorUserID string) (*domain.User, error) {
	return s.create(ctx, username, password, isAdmin, creatorUserID, false)
}

// create adds an account. firstIsAdmin promotes the very first account to
// administrator regardless of the isAdmin argument (bootstrap path).
func (s *userService) create(ctx context.Context, username, password string, isAdmin bool, creatorUserID string, firstIsAdmin bool) (*domain.User, error) {
	if username == "" || password == "" {
		return nil, fmt.Errorf("%w: username and password are required", apperrors.ErrValidation)
	}

	hash, err := utils.HashPassword(password)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.authority.mu.Lock()
	for i := range s.authority.doc.Users {
		if s.authority.doc.Users[i].Username == username {
			s.authority.mu.Unlock()
			return nil, fmt.Errorf("%w: username %q", apperrors.ErrDuplicate, username)
		}
	}

	now := time.Now().UTC()
	user := domain.User{
		UserID:       uuid.NewString(),
		Username:     username,
		PasswordHash: hash,
		IsAdmin:      isAdmin,
		CreatedAt:    now,
		UpdatedAt:    now,
		CreatedBy:    creatorUserID,
		UpdatedBy:    creatorUserID,
	}
	if firstIsAdmin && len(s.authority.doc.Users) == 0 {
		user.IsAdmin = true
	}
	if user.CreatedBy == "" {
		user.CreatedBy = user.UserID
		user.UpdatedBy = user.UserID
	}
	s.authority.doc.Users = append(s.authority.doc.Users, user)
	s.authority.mu.Unlock()

	if err := s.authority.persist(ctx); err != nil {
		return nil, err
	}
	return &user, nil
}

func (s *userService) ResetPassword(ctx context.Context, userID, newPassword, actorUserID string) error {
	if newPassword == "" {
		return fmt.Errorf("%w: password is required", apperrors.ErrValidation)
	}
	hash, err := utils.HashPassword(newPassword)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	found := false
	s.authority.mu.Lock()
	for i := range s.authority.doc.Users {
		if s.authority.doc.Users[i].UserID != userID {
			continue
		}
		s.authority.doc.Users[i].PasswordHash = hash
		s.authority.doc.Users[i].FailedLogins = 0
		s.authority.doc.Users[i].LockedUntil = nil
		s.authority.doc.Users[i].UpdatedAt = time.Now().UTC()
		s.authority.doc.Users[i].UpdatedBy = actorUserID
		found = true
		break
	}
	s.authority.mu.Unlock()

	if !found {
		return fmt.Errorf("%w: user %s", apperrors.ErrNotFound, userID)
	}
	return s.authority.persist(ctx)
}

func (s *userService) DeleteUser(ctx context.Context, userID, actorUserID string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	found := false
	s.authority.mu.Lock()
	users := s.authority.doc.Users
	for i := range users {
		if users[i].UserID != userID {
			continue
		}
		s.authority.doc.Users = append(users[:i], users[i+1:]...)
		delete(s.authority.doc.Entries, userID)
		found = true
		break
	}
	s.authority.mu.Unlock()

	if !found {
		return fmt.Errorf("%w: user %s", apperrors.ErrNotFound, userID)
	}
	return s.authority.persist(ctx)
}

func (s *userService) AuthenticateUser(ctx context.Context, username, password string) (*domain.User, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.authority.mu.Lock()
	var user *domain.User
	for i := range s.authority.doc.Users {
		if s.authority.doc.Users[i].Username == username {
			user = &s.authority.doc.Users[i]
			break
		}
	}
	if user == nil {
		s.authority.mu.Unlock()
		return nil, fmt.Errorf("%w: invalid credentials", apperrors.ErrUnauthorized)
	}

	now := time.Now().UTC()
	if user.LockedUntil != nil && now.Before(*user.LockedUntil) {
		s.authority.mu.Unlock()
		return nil, fmt.Errorf("%w until %s", apperrors.ErrAccountLocked, user.LockedUntil.Format(time.RFC3339))
	}

	if !utils.CheckPasswordHash(password, user.PasswordHash) {
		user.FailedLogins++
		if user.FailedLogins >= maxFailedLogins {
			lockedUntil := now.Add(lockoutDuration)
			user.LockedUntil = &lockedUntil
			user.FailedLogins = 0
		}
		s.authority.mu.Unlock()
		// Lockout counters persist best-effort; a failed save must not turn
		// a bad password into an internal error.
		_ = s.authority.persist(ctx)
		return nil, fmt.Errorf("%w: invalid credentials", apperrors.ErrUnauthorized)
	}

	user.FailedLogins = 0
	user.LockedUntil = nil
	userCopy := *user
	s.authority.mu.Unlock()

	return &userCopy, nil
}
