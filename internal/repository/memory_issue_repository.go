package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/issue-service/internal/domain"
)

type memoryIssue struct {
	issue   domain.Issue
	deleted bool
}

// MemoryIssueRepository keeps issues in process memory. Every method takes the
// repository lock, so the conditional writes are atomic like their SQL counterparts.
type MemoryIssueRepository struct {
	mu    sync.RWMutex
	items map[string]*memoryIssue
	order []string
	now   func() time.Time
}

var _ IssueRepository = (*MemoryIssueRepository)(nil)

// NewMemoryIssueRepository builds an empty repository.
func NewMemoryIssueRepository() *MemoryIssueRepository {
	return &MemoryIssueRepository{
		items: make(map[string]*memoryIssue),
		now:   time.Now,
	}
}

func (r *MemoryIssueRepository) Create(_ context.Context, issue *domain.Issue) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	issue.ID = uuid.NewString()
	issue.CreatedAt = now
	issue.UpdatedAt = now
	r.items[issue.ID] = &memoryIssue{issue: cloneIssue(*issue)}
	r.order = append(r.order, issue.ID)
	return nil
}

func (r *MemoryIssueRepository) UpdateDetails(_ context.Context, issue *domain.Issue, expectedOwner *string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.live(issue.ID)
	if !ok || !ownedBy(item.issue, expectedOwner) {
		return ErrNotFound
	}
	item.issue.Title = issue.Title
	item.issue.Description = issue.Description
	item.issue.Difficulty = issue.Difficulty
	item.issue.DueDate = cloneTime(issue.DueDate)
	item.issue.UpdatedAt = r.now()
	issue.UpdatedAt = item.issue.UpdatedAt
	return nil
}

func (r *MemoryIssueRepository) GetByID(_ context.Context, id string) (*domain.Issue, bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	item, ok := r.live(id)
	if !ok {
		return nil, false, nil
	}
	issue := cloneIssue(item.issue)
	return &issue, true, nil
}

func (r *MemoryIssueRepository) Exists(_ context.Context, id string) (bool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	_, ok := r.live(id)
	return ok, nil
}

func (r *MemoryIssueRepository) Delete(_ context.Context, id string, expectedOwner *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.live(id)
	if !ok || !ownedBy(item.issue, expectedOwner) {
		return false, nil
	}
	item.deleted = true
	item.issue.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryIssueRepository) List(_ context.Context, filter IssueFilter) ([]domain.Issue, int64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matched []domain.Issue
	for _, id := range r.order {
		item := r.items[id]
		if item.deleted {
			continue
		}
		if filter.Status != nil && item.issue.Status != *filter.Status {
			continue
		}
		if filter.Difficulty != nil && item.issue.Difficulty != *filter.Difficulty {
			continue
		}
		if filter.AssigneeID != nil && (item.issue.AssignedTo == nil || *item.issue.AssignedTo != *filter.AssigneeID) {
			continue
		}
		matched = append(matched, cloneIssue(item.issue))
	}

	total := int64(len(matched))
	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(matched) {
		return []domain.Issue{}, total, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[offset:end], total, nil
}

func (r *MemoryIssueRepository) CloseIfNotClosed(_ context.Context, id string, rewardPoints int, expectedOwner *string) (string, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.live(id)
	if !ok || item.issue.Status == domain.IssueStatusClosed || item.issue.AssignedTo == nil || !ownedBy(item.issue, expectedOwner) {
		return "", false, nil
	}
	reward := rewardPoints
	item.issue.Status = domain.IssueStatusClosed
	item.issue.RewardPoints = &reward
	item.issue.UpdatedAt = r.now()
	return *item.issue.AssignedTo, true, nil
}

func (r *MemoryIssueRepository) AssignIfNotClosed(_ context.Context, id, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.live(id)
	if !ok || item.issue.Status == domain.IssueStatusClosed {
		return false, nil
	}
	assignee := userID
	item.issue.AssignedTo = &assignee
	item.issue.Status = domain.IssueStatusClaimed
	item.issue.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryIssueRepository) SetStatusIfNotClosed(_ context.Context, id string, status domain.IssueStatus, expectedOwner *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	item, ok := r.live(id)
	if !ok || item.issue.Status == domain.IssueStatusClosed || !ownedBy(item.issue, expectedOwner) {
		return false, nil
	}
	item.issue.Status = status
	item.issue.UpdatedAt = r.now()
	return true, nil
}

func (r *MemoryIssueRepository) RewardTotals(_ context.Context) (map[string]int, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	totals := make(map[string]int)
	for _, item := range r.items {
		issue := item.issue
		if issue.Status != domain.IssueStatusClosed || issue.AssignedTo == nil || issue.RewardPoints == nil {
			continue
		}
		totals[*issue.AssignedTo] += *issue.RewardPoints
	}
	return totals, nil
}

func (r *MemoryIssueRepository) Stats(_ context.Context) (IssueStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := IssueStats{
		ByDifficulty: make(map[domain.Difficulty]int64),
		ByStatus:     make(map[domain.IssueStatus]int64),
	}
	for _, item := range r.items {
		if item.deleted {
			continue
		}
		stats.Total++
		if item.issue.AssignedTo != nil {
			stats.Assigned++
		} else {
			stats.Unassigned++
		}
		stats.ByDifficulty[item.issue.Difficulty]++
		stats.ByStatus[item.issue.Status]++
	}
	return stats, nil
}

func (r *MemoryIssueRepository) ListOverdue(_ context.Context, before time.Time) ([]domain.Issue, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var result []domain.Issue
	for _, id := range r.order {
		item := r.items[id]
		if item.deleted || item.issue.DueDate == nil || item.issue.Status == domain.IssueStatusClosed {
			continue
		}
		if item.issue.DueDate.Before(before) {
			result = append(result, cloneIssue(item.issue))
		}
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].DueDate.Before(*result[j].DueDate)
	})
	return result, nil
}

func (r *MemoryIssueRepository) live(id string) (*memoryIssue, bool) {
	item, ok := r.items[id]
	if !ok || item.deleted {
		return nil, false
	}
	return item, true
}

func ownedBy(issue domain.Issue, expectedOwner *string) bool {
	if expectedOwner == nil {
		return true
	}
	return issue.AssignedTo != nil && *issue.AssignedTo == *expectedOwner
}

func cloneIssue(issue domain.Issue) domain.Issue {
	if issue.AssignedTo != nil {
		assignee := *issue.AssignedTo
		issue.AssignedTo = &assignee
	}
	if issue.RewardPoints != nil {
		reward := *issue.RewardPoints
		issue.RewardPoints = &reward
	}
	issue.DueDate = cloneTime(issue.DueDate)
	return issue
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
