package service

import (
	"context"
	"sort"
	"time"

	"github.com/spec-kit/issue-service/internal/cache"
	"github.com/spec-kit/issue-service/internal/domain"
	"github.com/spec-kit/issue-service/internal/repository"
)

const (
	defaultLeaderboardLimit = 10
	maxLeaderboardLimit     = 100
)

// LeaderboardEntry is one ranked user.
type LeaderboardEntry struct {
	UserID      string `json:"user_id"`
	Username    string `json:"username"`
	TotalPoints int    `json:"total_points"`
}

// LeaderboardService ranks users by earned points.
type LeaderboardService struct {
	users  repository.UserRepository
	issues repository.IssueRepository
	cache  *cache.Cache
	ttl    time.Duration
}

// NewLeaderboardService constructs the service. A nil cache disables caching.
func NewLeaderboardService(users repository.UserRepository, issues repository.IssueRepository, c *cache.Cache, ttl time.Duration) *LeaderboardService {
	if c == nil {
		c = cache.New(nil, nil)
	}
	return &LeaderboardService{users: users, issues: issues, cache: c, ttl: ttl}
}

// Top ranks users by ledger balance. The full top list is cached and trimmed to limit.
func (s *LeaderboardService) Top(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	limit = normalizeLeaderboardLimit(limit)
	entries, err := cache.GetOrLoadJSON(ctx, s.cache, LeaderboardCacheKey, s.ttl,
		func(ctx context.Context) ([]LeaderboardEntry, error) {
			users, err := s.users.TopByPoints(ctx, maxLeaderboardLimit)
			if err != nil {
				return nil, err
			}
			entries := make([]LeaderboardEntry, 0, len(users))
			for _, user := range users {
				entries = append(entries, entryFor(user, user.RewardPoints))
			}
			return entries, nil
		})
	if err != nil {
		return nil, err
	}
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// FromIssues ranks users by the summed rewards of their closed issues.
func (s *LeaderboardService) FromIssues(ctx context.Context, limit int) ([]LeaderboardEntry, error) {
	limit = normalizeLeaderboardLimit(limit)
	totals, err := s.issues.RewardTotals(ctx)
	if err != nil {
		return nil, err
	}
	users, err := s.users.List(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]LeaderboardEntry, 0, len(users))
	for _, user := range users {
		entries = append(entries, entryFor(user, totals[user.ID]))
	}
	// users arrive in creation order, which breaks ties
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].TotalPoints > entries[j].TotalPoints
	})
	if len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

func entryFor(user domain.User, points int) LeaderboardEntry {
	return LeaderboardEntry{UserID: user.ID, Username: user.Username, TotalPoints: points}
}

func normalizeLeaderboardLimit(limit int) int {
	switch {
	case limit <= 0:
		return defaultLeaderboardLimit
	case limit > maxLeaderboardLimit:
		return maxLeaderboardLimit
	default:
		return limit
	}
}

// Invalidate drops the cached ranking.
func (s *LeaderboardService) Invalidate(ctx context.Context) {
	s.cache.Invalidate(ctx, LeaderboardCacheKey)
}
