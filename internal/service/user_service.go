package service

import (
	"context"
	"errors"
	"net/mail"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/issue-service/internal/auth"
	"github.com/spec-kit/issue-service/internal/domain"
	"github.com/spec-kit/issue-service/internal/repository"
	apperrors "github.com/spec-kit/issue-service/pkg/util/errorutil"
)

// UserService manages accounts on behalf of admins.
type UserService struct {
	users       repository.UserRepository
	issues      repository.IssueRepository
	leaderboard *LeaderboardService
	bcryptCost  int
	logger      *zap.Logger
}

// UserDependencies bundles collaborators for the user service.
type UserDependencies struct {
	UserRepo    repository.UserRepository
	IssueRepo   repository.IssueRepository
	Leaderboard *LeaderboardService
	BcryptCost  int
	Logger      *zap.Logger
}

// UserInput describes a user to create or update. An empty Password on update
// keeps the current one; an empty Role means USER.
type UserInput struct {
	Username string
	Email    string
	Password string
	Role     string
}

// NewUserService constructs the service.
func NewUserService(deps UserDependencies) *UserService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserService{
		users:       deps.UserRepo,
		issues:      deps.IssueRepo,
		leaderboard: deps.Leaderboard,
		bcryptCost:  deps.BcryptCost,
		logger:      logger,
	}
}

// Create registers a user with a zero balance.
func (s *UserService) Create(ctx context.Context, input UserInput) (*domain.User, error) {
	username, email, role, details := validateUserInput(input, true)
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("validation failed", details)
	}

	hash, err := auth.HashPassword(input.Password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	user := &domain.User{Username: username, Email: email, PasswordHash: hash, Role: role}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, mapUserWriteError(err, email)
	}

	s.invalidateLeaderboard(ctx)
	s.logger.Info("user created", zap.String("user_id", user.ID), zap.String("role", string(user.Role)))
	return user, nil
}

// Update replaces profile fields. The balance is never touched.
func (s *UserService) Update(ctx context.Context, userID string, input UserInput) (*domain.User, error) {
	username, email, role, details := validateUserInput(input, false)
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("validation failed", details)
	}

	user, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	user.Username = username
	user.Email = email
	user.Role = role
	if input.Password != "" {
		hash, err := auth.HashPassword(input.Password, s.bcryptCost)
		if err != nil {
			return nil, err
		}
		user.PasswordHash = hash
	}

	if err := s.users.Update(ctx, user); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, apperrors.NewNotFound("user", userID)
		}
		return nil, mapUserWriteError(err, email)
	}
	s.invalidateLeaderboard(ctx)
	return s.Get(ctx, userID)
}

// List returns every user in creation order.
func (s *UserService) List(ctx context.Context) ([]domain.User, error) {
	return s.users.List(ctx)
}

// Get returns one user.
func (s *UserService) Get(ctx context.Context, userID string) (*domain.User, error) {
	user, found, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NewNotFound("user", userID)
	}
	return user, nil
}

// Me returns the caller's own profile.
func (s *UserService) Me(ctx context.Context, principal domain.Principal) (*domain.User, error) {
	return s.Get(ctx, principal.UserID)
}

// Delete removes a user who neither holds points nor is assigned to an issue.
// Removing such a user would break the ledger to issue correspondence.
func (s *UserService) Delete(ctx context.Context, principal domain.Principal, userID string) error {
	user, err := s.Get(ctx, userID)
	if err != nil {
		return err
	}
	if user.ID == principal.UserID {
		return apperrors.NewConflict("cannot delete your own account", map[string]any{"user_id": userID})
	}
	if user.RewardPoints > 0 {
		return userInUseError(userID)
	}
	assignee := userID
	_, owned, err := s.issues.List(ctx, repository.IssueFilter{AssigneeID: &assignee, Limit: 1})
	if err != nil {
		return err
	}
	if owned > 0 {
		return userInUseError(userID)
	}

	deleted, err := s.users.Delete(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrReferenced) {
			return userInUseError(userID)
		}
		return err
	}
	if !deleted {
		return apperrors.NewNotFound("user", userID)
	}

	s.invalidateLeaderboard(ctx)
	s.logger.Info("user deleted", zap.String("user_id", userID), zap.String("actor_id", principal.UserID))
	return nil
}

func (s *UserService) invalidateLeaderboard(ctx context.Context) {
	if s.leaderboard != nil {
		s.leaderboard.Invalidate(ctx)
	}
}

func validateUserInput(input UserInput, create bool) (string, string, domain.Role, map[string]any) {
	details := map[string]any{}

	username := strings.TrimSpace(input.Username)
	if n := len([]rune(username)); n < 3 || n > 30 {
		details["username"] = "must be between 3 and 30 characters"
	}

	email := strings.ToLower(strings.TrimSpace(input.Email))
	if addr, err := mail.ParseAddress(email); err != nil || addr.Address != email {
		details["email"] = "must be a valid email address"
	}

	if create || input.Password != "" {
		if len(input.Password) < minPasswordLength {
			details["password"] = "must be at least 6 characters"
		}
	}

	role := domain.RoleUser
	if strings.TrimSpace(input.Role) != "" {
		parsed, ok := domain.ParseRole(input.Role)
		if !ok {
			details["role"] = "must be ADMIN or USER"
		} else {
			role = parsed
		}
	}
	return username, email, role, details
}

func mapUserWriteError(err error, email string) error {
	if errors.Is(err, repository.ErrDuplicateEmail) {
		return apperrors.NewConflict("email already registered", map[string]any{"email": email})
	}
	return err
}

func userInUseError(userID string) error {
	return apperrors.NewConflict("user still owns issues or reward points", map[string]any{"user_id": userID})
}
