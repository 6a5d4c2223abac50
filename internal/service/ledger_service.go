package service

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spec-kit/issue-service/internal/cache"
	"github.com/spec-kit/issue-service/internal/domain"
	"github.com/spec-kit/issue-service/internal/events"
	"github.com/spec-kit/issue-service/internal/observability"
	"github.com/spec-kit/issue-service/internal/repository"
	apperrors "github.com/spec-kit/issue-service/pkg/util/errorutil"
)

// LeaderboardCacheKey holds the cached ledger ranking.
const LeaderboardCacheKey = "leaderboard:top"

// LedgerService owns every change to a user's reward balance.
type LedgerService struct {
	users      repository.UserRepository
	issues     repository.IssueRepository
	history    repository.IssueHistoryRepository
	cache      *cache.Cache
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
}

// LedgerDependencies bundles collaborators for the ledger.
type LedgerDependencies struct {
	UserRepo    repository.UserRepository
	IssueRepo   repository.IssueRepository
	HistoryRepo repository.IssueHistoryRepository
	Cache       *cache.Cache
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
}

// LedgerDrift describes a user whose balance disagrees with their closed issues.
type LedgerDrift struct {
	UserID       string `json:"user_id"`
	LedgerPoints int    `json:"ledger_points"`
	IssuePoints  int    `json:"issue_points"`
	Repaired     bool   `json:"repaired"`
}

// NewLedgerService constructs the service.
func NewLedgerService(deps LedgerDependencies) *LedgerService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c := deps.Cache
	if c == nil {
		c = cache.New(nil, logger)
	}
	return &LedgerService{
		users:      deps.UserRepo,
		issues:     deps.IssueRepo,
		history:    deps.HistoryRepo,
		cache:      c,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
	}
}

// CreditPoints atomically adds amount to userID's balance.
func (s *LedgerService) CreditPoints(ctx context.Context, userID string, amount int) error {
	if amount < 0 {
		return apperrors.NewValidationError("validation failed", map[string]any{
			"amount": "must not be negative",
		})
	}

	ok, err := s.users.CreditPoints(ctx, userID, amount)
	if err != nil {
		return err
	}
	if !ok {
		return apperrors.NewNotFound("user", userID)
	}

	s.cache.Invalidate(ctx, LeaderboardCacheKey)
	s.metrics.PointsCredited(amount)
	s.logger.Info("reward credited", zap.String("user_id", userID), zap.Int("amount", amount))
	publish(ctx, s.dispatcher, events.Event{
		Type:    events.EventRewardCredited,
		Payload: events.RewardCreditedPayload{UserID: userID, Amount: amount},
	})
	return nil
}

// Reconcile compares each balance with the rewards of the user's closed issues.
// With repair set, deficits are credited. Surpluses are only reported since the
// ledger never decreases.
func (s *LedgerService) Reconcile(ctx context.Context, repair bool) ([]LedgerDrift, error) {
	totals, err := s.issues.RewardTotals(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}

	drifts := []LedgerDrift{}
	seen := make(map[string]struct{}, len(users))
	for _, user := range users {
		seen[user.ID] = struct{}{}
		issuePoints := totals[user.ID]
		if issuePoints == user.RewardPoints {
			continue
		}
		drift := LedgerDrift{UserID: user.ID, LedgerPoints: user.RewardPoints, IssuePoints: issuePoints}
		if repair && issuePoints > user.RewardPoints {
			if err := s.CreditPoints(ctx, user.ID, issuePoints-user.RewardPoints); err != nil {
				return nil, err
			}
			drift.Repaired = true
			s.logger.Warn("ledger repaired",
				zap.String("user_id", user.ID),
				zap.Int("ledger_points", user.RewardPoints),
				zap.Int("issue_points", issuePoints),
			)
		}
		drifts = append(drifts, drift)
	}
	for userID, issuePoints := range totals {
		if _, ok := seen[userID]; !ok {
			drifts = append(drifts, LedgerDrift{UserID: userID, IssuePoints: issuePoints})
		}
	}

	sort.Slice(drifts, func(i, j int) bool { return drifts[i].UserID < drifts[j].UserID })
	if len(drifts) > 0 {
		s.logger.Warn("ledger drift detected", zap.Int("users", len(drifts)), zap.Bool("repair", repair))
	}
	return drifts, nil
}

// PendingCredits lists closes whose credit failed and awaits reconciliation.
func (s *LedgerService) PendingCredits(ctx context.Context) ([]domain.IssueHistory, error) {
	if s.history == nil {
		return []domain.IssueHistory{}, nil
	}
	return s.history.ListByChangeType(ctx, domain.ChangeTypeRewardPending)
}

func publish(ctx context.Context, dispatcher events.Dispatcher, event events.Event) {
	if dispatcher == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	_ = dispatcher.Publish(ctx, event)
}
