package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/issue-service/internal/domain"
)

// IssueHistoryRepository stores audit entries.
type IssueHistoryRepository interface {
	Create(ctx context.Context, history *domain.IssueHistory) error
	ListByIssue(ctx context.Context, issueID string) ([]domain.IssueHistory, error)
	ListByChangeType(ctx context.Context, changeType domain.IssueChangeType) ([]domain.IssueHistory, error)
}

type issueHistoryRepository struct {
	pool *pgxpool.Pool
}

// NewIssueHistoryRepository builds repository.
func NewIssueHistoryRepository(pool *pgxpool.Pool) IssueHistoryRepository {
	return &issueHistoryRepository{pool: pool}
}

func (r *issueHistoryRepository) Create(ctx context.Context, history *domain.IssueHistory) error {
	const query = `
        INSERT INTO issue_history (issue_id, changed_by_id, change_type, old_value, new_value)
        VALUES ($1,$2,$3,$4,$5)
        RETURNING id, created_at`
	return r.pool.QueryRow(ctx, query,
		history.IssueID,
		history.ChangedByID,
		history.ChangeType,
		history.OldValue,
		history.NewValue,
	).Scan(&history.ID, &history.CreatedAt)
}

func (r *issueHistoryRepository) ListByIssue(ctx context.Context, issueID string) ([]domain.IssueHistory, error) {
	const query = `
        SELECT id, issue_id, changed_by_id, change_type, old_value, new_value, created_at
        FROM issue_history WHERE issue_id=$1 ORDER BY created_at ASC, id ASC`
	return r.list(ctx, query, issueID)
}

func (r *issueHistoryRepository) ListByChangeType(ctx context.Context, changeType domain.IssueChangeType) ([]domain.IssueHistory, error) {
	const query = `
        SELECT id, issue_id, changed_by_id, change_type, old_value, new_value, created_at
        FROM issue_history WHERE change_type=$1 ORDER BY created_at ASC, id ASC`
	return r.list(ctx, query, changeType)
}

func (r *issueHistoryRepository) list(ctx context.Context, query string, arg any) ([]domain.IssueHistory, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.IssueHistory
	for rows.Next() {
		var history domain.IssueHistory
		if err := rows.Scan(
			&history.ID,
			&history.IssueID,
			&history.ChangedByID,
			&history.ChangeType,
			&history.OldValue,
			&history.NewValue,
			&history.CreatedAt,
		); err != nil {
			return nil, err
		}
		result = append(result, history)
	}
	return result, rows.Err()
}
