package service

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/issue-service/internal/auth"
	"github.com/spec-kit/issue-service/internal/config"
	"github.com/spec-kit/issue-service/internal/domain"
	"github.com/spec-kit/issue-service/internal/repository"
	apperrors "github.com/spec-kit/issue-service/pkg/util/errorutil"
)

const minPasswordLength = 6

// AuthService coordinates login and credential changes.
type AuthService struct {
	users      repository.UserRepository
	tokenMgr   *auth.TokenManager
	bcryptCost int
	logger     *zap.Logger
}

// NewAuthService builds the service.
func NewAuthService(cfg config.AuthConfig, users repository.UserRepository, tokens *auth.TokenManager, logger *zap.Logger) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthService{
		users:      users,
		tokenMgr:   tokens,
		bcryptCost: cfg.BcryptCost,
		logger:     logger,
	}
}

// Login authenticates by email and password and issues an access token. Unknown
// emails and wrong passwords produce the same error.
func (s *AuthService) Login(ctx context.Context, email, password string) (*domain.User, string, time.Time, error) {
	details := map[string]any{}
	if strings.TrimSpace(email) == "" {
		details["email"] = "is required"
	}
	if password == "" {
		details["password"] = "is required"
	}
	if len(details) > 0 {
		return nil, "", time.Time{}, apperrors.NewValidationError("validation failed", details)
	}

	user, found, err := s.users.GetByEmail(ctx, strings.TrimSpace(email))
	if err != nil {
		return nil, "", time.Time{}, err
	}
	if !found || auth.ComparePassword(user.PasswordHash, password) != nil {
		s.logger.Info("login rejected", zap.String("email", strings.ToLower(email)))
		return nil, "", time.Time{}, apperrors.NewUnauthorized("invalid email or password")
	}

	token, exp, err := s.tokenMgr.GenerateToken(user.ID, user.Role)
	if err != nil {
		return nil, "", time.Time{}, err
	}
	return user, token, exp, nil
}

// ChangePassword replaces the caller's password after verifying the current one.
func (s *AuthService) ChangePassword(ctx context.Context, principal domain.Principal, currentPassword, newPassword string) error {
	if len(newPassword) < minPasswordLength {
		return apperrors.NewValidationError("validation failed", map[string]any{
			"new_password": "must be at least 6 characters",
		})
	}

	user, found, err := s.users.GetByID(ctx, principal.UserID)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.NewNotFound("user", principal.UserID)
	}
	if err := auth.ComparePassword(user.PasswordHash, currentPassword); err != nil {
		return apperrors.NewUnauthorized("current password is incorrect")
	}

	hash, err := auth.HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	user.PasswordHash = hash
	return s.users.Update(ctx, user)
}

// TokenManager exposes the token manager for middleware wiring.
func (s *AuthService) TokenManager() *auth.TokenManager {
	return s.tokenMgr
}
