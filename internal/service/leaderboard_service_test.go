package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/spec-kit/issue-service/internal/cache"
	"github.com/spec-kit/issue-service/internal/domain"
	"github.com/spec-kit/issue-service/internal/repository"
	"github.com/spec-kit/issue-service/internal/service"
)

// rankingUsers counts TopByPoints calls and runs afterRead once, after the
// ranking was read but before the caller sees it.
type rankingUsers struct {
	*repository.MemoryUserRepository

	mu        sync.Mutex
	calls     int
	afterRead func()
}

func (r *rankingUsers) TopByPoints(ctx context.Context, n int) ([]domain.User, error) {
	users, err := r.MemoryUserRepository.TopByPoints(ctx, n)
	r.mu.Lock()
	r.calls++
	hook := r.afterRead
	r.afterRead = nil
	r.mu.Unlock()
	if hook != nil {
		hook()
	}
	return users, err
}

func (r *rankingUsers) loads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

func TestLeaderboardStrategiesAgree(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	names := []string{"ann", "bob", "cat", "dan", "eve"}
	devs := make([]domain.Principal, 0, len(names))
	for _, name := range names {
		devs = append(devs, env.addUser(t, name, domain.RoleUser))
	}
	plan := map[int][]string{
		0: {"EASY"},
		1: {"MEDIUM", "EASY"},
		2: {"HARD"},
		4: {"MEDIUM"},
	}
	for idx, difficulties := range plan {
		for _, difficulty := range difficulties {
			issue := env.createIssue(t, devs[idx], difficulty)
			if _, err := env.issueSvc.Update(ctx, devs[idx], issue.ID, closeInput(issue)); err != nil {
				t.Fatal(err)
			}
		}
	}

	for _, limit := range []int{0, 1, 3, 5, 500} {
		top, err := env.leaderboard.Top(ctx, limit)
		if err != nil {
			t.Fatalf("Top(%d) error = %v", limit, err)
		}
		fromIssues, err := env.leaderboard.FromIssues(ctx, limit)
		if err != nil {
			t.Fatalf("FromIssues(%d) error = %v", limit, err)
		}

		want := limit
		if want <= 0 {
			want = 10
		}
		if len(top) > want {
			t.Errorf("Top(%d) returned %d entries", limit, len(top))
		}
		assertNonIncreasing(t, top)
		if len(top) != len(fromIssues) {
			t.Fatalf("limit %d: strategies returned %d and %d entries", limit, len(top), len(fromIssues))
		}
		for i := range top {
			if top[i] != fromIssues[i] {
				t.Errorf("limit %d position %d: %+v != %+v", limit, i, top[i], fromIssues[i])
			}
		}
	}

	top, _ := env.leaderboard.Top(ctx, 2)
	// bob and cat tie at 30; bob was created first
	if top[0].UserID != devs[1].UserID || top[1].UserID != devs[2].UserID {
		t.Errorf("tie order = %+v", top)
	}
}

func assertNonIncreasing(t *testing.T, entries []service.LeaderboardEntry) {
	t.Helper()
	for i := 1; i < len(entries); i++ {
		if entries[i].TotalPoints > entries[i-1].TotalPoints {
			t.Fatalf("leaderboard not sorted at %d: %+v", i, entries)
		}
	}
}

func TestCachedLeaderboardDropsRankingReadBeforeCredit(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	env := newCachedTestEnv(t, cache.New(rdb, nil))

	ann := env.addUser(t, "ann", domain.RoleUser)
	bob := env.addUser(t, "bob", domain.RoleUser)
	easy := env.createIssue(t, ann, "EASY")
	if _, err := env.issueSvc.Update(ctx, ann, easy.ID, closeInput(easy)); err != nil {
		t.Fatal(err)
	}
	hard := env.createIssue(t, bob, "HARD")

	users := &rankingUsers{MemoryUserRepository: env.users}
	users.afterRead = func() {
		if _, err := env.issueSvc.Update(ctx, bob, hard.ID, closeInput(hard)); err != nil {
			t.Errorf("Update() error = %v", err)
		}
	}
	leaderboard := service.NewLeaderboardService(users, env.issues, cache.New(rdb, nil), time.Minute)

	if _, err := leaderboard.Top(ctx, 10); err != nil {
		t.Fatalf("Top() error = %v", err)
	}
	if mr.Exists(service.LeaderboardCacheKey) {
		t.Fatal("ranking read before the credit was cached")
	}

	top, err := leaderboard.Top(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	fromIssues, err := leaderboard.FromIssues(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(top) != len(fromIssues) {
		t.Fatalf("Top() = %+v, FromIssues() = %+v", top, fromIssues)
	}
	for i := range top {
		if top[i] != fromIssues[i] {
			t.Fatalf("position %d: %+v != %+v", i, top[i], fromIssues[i])
		}
	}
	if top[0].UserID != bob.UserID || top[0].TotalPoints != 30 {
		t.Fatalf("leader = %+v, want bob with 30", top[0])
	}

	if _, err := leaderboard.Top(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if got := users.loads(); got != 2 {
		t.Errorf("TopByPoints called %d times, want 2 with the last read served from redis", got)
	}
}
