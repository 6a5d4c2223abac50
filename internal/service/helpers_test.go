package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/issue-service/internal/cache"
	"github.com/spec-kit/issue-service/internal/domain"
	"github.com/spec-kit/issue-service/internal/repository"
	"github.com/spec-kit/issue-service/internal/service"
)

type testEnv struct {
	issues      *repository.MemoryIssueRepository
	hooks       *hookedIssueRepository
	users       *repository.MemoryUserRepository
	history     *repository.MemoryIssueHistoryRepository
	ledger      *service.LedgerService
	leaderboard *service.LeaderboardService
	issueSvc    *service.IssueService
	userSvc     *service.UserService
	creditUsers *flakyUserRepository
}

// hookedIssueRepository runs a one-shot hook right before the named write
// reaches the store, simulating a request that lands between load and write.
type hookedIssueRepository struct {
	*repository.MemoryIssueRepository

	mu    sync.Mutex
	hooks map[string]func()
}

func (r *hookedIssueRepository) before(method string, fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.hooks == nil {
		r.hooks = make(map[string]func())
	}
	r.hooks[method] = fn
}

func (r *hookedIssueRepository) fire(method string) {
	r.mu.Lock()
	fn := r.hooks[method]
	delete(r.hooks, method)
	r.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (r *hookedIssueRepository) UpdateDetails(ctx context.Context, issue *domain.Issue, expectedOwner *string) error {
	r.fire("UpdateDetails")
	return r.MemoryIssueRepository.UpdateDetails(ctx, issue, expectedOwner)
}

func (r *hookedIssueRepository) CloseIfNotClosed(ctx context.Context, id string, rewardPoints int, expectedOwner *string) (string, bool, error) {
	r.fire("CloseIfNotClosed")
	return r.MemoryIssueRepository.CloseIfNotClosed(ctx, id, rewardPoints, expectedOwner)
}

func (r *hookedIssueRepository) SetStatusIfNotClosed(ctx context.Context, id string, status domain.IssueStatus, expectedOwner *string) (bool, error) {
	r.fire("SetStatusIfNotClosed")
	return r.MemoryIssueRepository.SetStatusIfNotClosed(ctx, id, status, expectedOwner)
}

func (r *hookedIssueRepository) Delete(ctx context.Context, id string, expectedOwner *string) (bool, error) {
	r.fire("Delete")
	return r.MemoryIssueRepository.Delete(ctx, id, expectedOwner)
}

// flakyUserRepository fails CreditPoints while failing is set. Like a real
// store it refuses to write on a cancelled context.
type flakyUserRepository struct {
	*repository.MemoryUserRepository

	mu      sync.Mutex
	failing bool
}

func (r *flakyUserRepository) setFailing(v bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failing = v
}

func (r *flakyUserRepository) CreditPoints(ctx context.Context, id string, amount int) (bool, error) {
	r.mu.Lock()
	failing := r.failing
	r.mu.Unlock()
	if failing {
		return false, errors.New("ledger unavailable")
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return r.MemoryUserRepository.CreditPoints(ctx, id, amount)
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newCachedTestEnv(t, nil)
}

// newCachedTestEnv shares c between the ledger and the leaderboard the way the
// server wires them. A nil c disables caching.
func newCachedTestEnv(t *testing.T, c *cache.Cache) *testEnv {
	t.Helper()

	env := &testEnv{
		issues:  repository.NewMemoryIssueRepository(),
		users:   repository.NewMemoryUserRepository(),
		history: repository.NewMemoryIssueHistoryRepository(),
	}
	env.hooks = &hookedIssueRepository{MemoryIssueRepository: env.issues}
	env.creditUsers = &flakyUserRepository{MemoryUserRepository: env.users}
	env.ledger = service.NewLedgerService(service.LedgerDependencies{
		UserRepo:    env.creditUsers,
		IssueRepo:   env.issues,
		HistoryRepo: env.history,
		Cache:       c,
	})
	env.leaderboard = service.NewLeaderboardService(env.users, env.issues, c, time.Minute)
	env.issueSvc = service.NewIssueService(service.IssueDependencies{
		IssueRepo:   env.hooks,
		UserRepo:    env.users,
		HistoryRepo: env.history,
		Ledger:      env.ledger,
		Now:         func() time.Time { return time.Date(2024, 5, 10, 15, 0, 0, 0, time.UTC) },
	})
	env.userSvc = service.NewUserService(service.UserDependencies{
		UserRepo:    env.users,
		IssueRepo:   env.issues,
		Leaderboard: env.leaderboard,
		BcryptCost:  4,
	})
	return env
}

func (e *testEnv) addUser(t *testing.T, name string, role domain.Role) domain.Principal {
	t.Helper()

	user := domain.User{Username: name, Email: name + "@example.com", PasswordHash: "x", Role: role}
	if err := e.users.Create(context.Background(), &user); err != nil {
		t.Fatalf("create user %s: %v", name, err)
	}
	return domain.Principal{UserID: user.ID, Role: role}
}

func (e *testEnv) createIssue(t *testing.T, principal domain.Principal, difficulty string) *domain.Issue {
	t.Helper()

	issue, err := e.issueSvc.CreateIssue(context.Background(), principal, service.CreateIssueInput{
		Title:       "Fix login",
		Description: "Login returns 500",
		Difficulty:  difficulty,
	})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	return issue
}

func (e *testEnv) balance(t *testing.T, userID string) int {
	t.Helper()

	user, found, err := e.users.GetByID(context.Background(), userID)
	if err != nil || !found {
		t.Fatalf("GetByID(%s) = %v, %v", userID, found, err)
	}
	return user.RewardPoints
}

func closeInput(issue *domain.Issue) service.UpdateIssueInput {
	status := string(domain.IssueStatusClosed)
	return service.UpdateIssueInput{
		Title:       issue.Title,
		Description: issue.Description,
		Difficulty:  string(issue.Difficulty),
		Status:      &status,
	}
}

func strPtr(s string) *string { return &s }
