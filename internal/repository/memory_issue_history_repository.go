package repository

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/spec-kit/issue-service/internal/domain"
)

// MemoryIssueHistoryRepository keeps the audit trail in process memory.
type MemoryIssueHistoryRepository struct {
	mu      sync.RWMutex
	entries []domain.IssueHistory
}

var _ IssueHistoryRepository = (*MemoryIssueHistoryRepository)(nil)

// NewMemoryIssueHistoryRepository builds an empty repository.
func NewMemoryIssueHistoryRepository() *MemoryIssueHistoryRepository {
	return &MemoryIssueHistoryRepository{}
}

func (r *MemoryIssueHistoryRepository) Create(_ context.Context, history *domain.IssueHistory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	history.ID = uuid.NewString()
	history.CreatedAt = time.Now()
	r.entries = append(r.entries, *history)
	return nil
}

func (r *MemoryIssueHistoryRepository) ListByIssue(_ context.Context, issueID string) ([]domain.IssueHistory, error) {
	return r.filter(func(entry domain.IssueHistory) bool { return entry.IssueID == issueID }), nil
}

func (r *MemoryIssueHistoryRepository) ListByChangeType(_ context.Context, changeType domain.IssueChangeType) ([]domain.IssueHistory, error) {
	return r.filter(func(entry domain.IssueHistory) bool { return entry.ChangeType == changeType }), nil
}

func (r *MemoryIssueHistoryRepository) filter(keep func(domain.IssueHistory) bool) []domain.IssueHistory {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := []domain.IssueHistory{}
	for _, entry := range r.entries {
		if keep(entry) {
			result = append(result, entry)
		}
	}
	return result
}
