package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spec-kit/issue-service/internal/domain"
)

// IssueFilter captures listing parameters.
type IssueFilter struct {
	Status     *domain.IssueStatus
	Difficulty *domain.Difficulty
	AssigneeID *string
	Limit      int
	Offset     int
}

// IssueStats summarizes the issue table.
type IssueStats struct {
	Total        int64                        `json:"total"`
	Assigned     int64                        `json:"assigned"`
	Unassigned   int64                        `json:"unassigned"`
	ByDifficulty map[domain.Difficulty]int64  `json:"by_difficulty"`
	ByStatus     map[domain.IssueStatus]int64 `json:"by_status"`
}

// IssueRepository encapsulates issue persistence.
//
// Status, assignee and reward are only written through the conditional
// methods, which never modify a CLOSED row. Deleted issues disappear from
// reads but keep contributing to RewardTotals, since the points they paid
// out stay on the ledger.
//
// Writes taking expectedOwner only match a row still assigned to that user;
// a nil expectedOwner matches any assignee.
type IssueRepository interface {
	Create(ctx context.Context, issue *domain.Issue) error
	// UpdateDetails writes title, description, difficulty and due date. It
	// returns ErrNotFound when no row matches.
	UpdateDetails(ctx context.Context, issue *domain.Issue, expectedOwner *string) error
	GetByID(ctx context.Context, id string) (*domain.Issue, bool, error)
	Exists(ctx context.Context, id string) (bool, error)
	Delete(ctx context.Context, id string, expectedOwner *string) (bool, error)
	List(ctx context.Context, filter IssueFilter) ([]domain.Issue, int64, error)
	// CloseIfNotClosed closes the issue and stores its reward. It returns the
	// assignee at the moment of closing and whether this call performed the close.
	CloseIfNotClosed(ctx context.Context, id string, rewardPoints int, expectedOwner *string) (string, bool, error)
	AssignIfNotClosed(ctx context.Context, id, userID string) (bool, error)
	SetStatusIfNotClosed(ctx context.Context, id string, status domain.IssueStatus, expectedOwner *string) (bool, error)
	// RewardTotals sums reward points of closed issues per assignee.
	RewardTotals(ctx context.Context) (map[string]int, error)
	Stats(ctx context.Context) (IssueStats, error)
	ListOverdue(ctx context.Context, before time.Time) ([]domain.Issue, error)
}

type issueRepository struct {
	pool *pgxpool.Pool
}

// NewIssueRepository instantiates a Postgres-backed repository.
func NewIssueRepository(pool *pgxpool.Pool) IssueRepository {
	return &issueRepository{pool: pool}
}

const issueColumns = `id, title, description, difficulty, status, assigned_to, reward_points, due_date, created_at, updated_at`

func (r *issueRepository) Create(ctx context.Context, issue *domain.Issue) error {
	const query = `
        INSERT INTO issues (title, description, difficulty, status, assigned_to, due_date)
        VALUES ($1,$2,$3,$4,$5,$6)
        RETURNING id, created_at, updated_at`
	return r.pool.QueryRow(ctx, query,
		issue.Title,
		issue.Description,
		issue.Difficulty,
		issue.Status,
		issue.AssignedTo,
		issue.DueDate,
	).Scan(&issue.ID, &issue.CreatedAt, &issue.UpdatedAt)
}

func (r *issueRepository) UpdateDetails(ctx context.Context, issue *domain.Issue, expectedOwner *string) error {
	const query = `
        UPDATE issues SET title=$1, description=$2, difficulty=$3, due_date=$4, updated_at=NOW()
        WHERE id=$5 AND deleted_at IS NULL AND ($6::text IS NULL OR assigned_to = $6)
        RETURNING updated_at`
	err := r.pool.QueryRow(ctx, query,
		issue.Title,
		issue.Description,
		issue.Difficulty,
		issue.DueDate,
		issue.ID,
		expectedOwner,
	).Scan(&issue.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (r *issueRepository) GetByID(ctx context.Context, id string) (*domain.Issue, bool, error) {
	query := `SELECT ` + issueColumns + ` FROM issues WHERE id=$1 AND deleted_at IS NULL`
	issue, err := scanIssue(r.pool.QueryRow(ctx, query, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return issue, true, nil
}

func (r *issueRepository) Exists(ctx context.Context, id string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM issues WHERE id=$1 AND deleted_at IS NULL)`, id,
	).Scan(&exists)
	return exists, err
}

func (r *issueRepository) Delete(ctx context.Context, id string, expectedOwner *string) (bool, error) {
	cmd, err := r.pool.Exec(ctx, `
        UPDATE issues SET deleted_at=NOW(), updated_at=NOW()
        WHERE id=$1 AND deleted_at IS NULL AND ($2::text IS NULL OR assigned_to = $2)`,
		id, expectedOwner)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *issueRepository) List(ctx context.Context, filter IssueFilter) ([]domain.Issue, int64, error) {
	clauses := []string{"deleted_at IS NULL"}
	args := []any{}

	if filter.Status != nil {
		args = append(args, *filter.Status)
		clauses = append(clauses, fmt.Sprintf("status=$%d", len(args)))
	}
	if filter.Difficulty != nil {
		args = append(args, *filter.Difficulty)
		clauses = append(clauses, fmt.Sprintf("difficulty=$%d", len(args)))
	}
	if filter.AssigneeID != nil {
		args = append(args, *filter.AssigneeID)
		clauses = append(clauses, fmt.Sprintf("assigned_to=$%d", len(args)))
	}
	where := strings.Join(clauses, " AND ")

	var total int64
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM issues WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 10
	}
	offset := filter.Offset
	if offset < 0 {
		offset = 0
	}

	query := fmt.Sprintf(`SELECT %s FROM issues WHERE %s ORDER BY created_at ASC, id ASC LIMIT %d OFFSET %d`,
		issueColumns, where, limit, offset)

	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	issues, err := scanIssues(rows)
	if err != nil {
		return nil, 0, err
	}
	return issues, total, nil
}

func (r *issueRepository) CloseIfNotClosed(ctx context.Context, id string, rewardPoints int, expectedOwner *string) (string, bool, error) {
	const query = `
        UPDATE issues SET status=$1, reward_points=$2, updated_at=NOW()
        WHERE id=$3 AND status <> $1 AND assigned_to IS NOT NULL AND deleted_at IS NULL
          AND ($4::text IS NULL OR assigned_to = $4)
        RETURNING assigned_to`
	var assignee string
	err := r.pool.QueryRow(ctx, query, domain.IssueStatusClosed, rewardPoints, id, expectedOwner).Scan(&assignee)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return assignee, true, nil
}

func (r *issueRepository) AssignIfNotClosed(ctx context.Context, id, userID string) (bool, error) {
	const query = `
        UPDATE issues SET assigned_to=$1, status=$2, updated_at=NOW()
        WHERE id=$3 AND status <> $4 AND deleted_at IS NULL`
	cmd, err := r.pool.Exec(ctx, query, userID, domain.IssueStatusClaimed, id, domain.IssueStatusClosed)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *issueRepository) SetStatusIfNotClosed(ctx context.Context, id string, status domain.IssueStatus, expectedOwner *string) (bool, error) {
	const query = `
        UPDATE issues SET status=$1, updated_at=NOW()
        WHERE id=$2 AND status <> $3 AND deleted_at IS NULL
          AND ($4::text IS NULL OR assigned_to = $4)`
	cmd, err := r.pool.Exec(ctx, query, status, id, domain.IssueStatusClosed, expectedOwner)
	if err != nil {
		return false, err
	}
	return cmd.RowsAffected() > 0, nil
}

func (r *issueRepository) RewardTotals(ctx context.Context) (map[string]int, error) {
	const query = `
        SELECT assigned_to, COALESCE(SUM(reward_points), 0)
        FROM issues
        WHERE status=$1 AND assigned_to IS NOT NULL AND reward_points IS NOT NULL
        GROUP BY assigned_to`
	rows, err := r.pool.Query(ctx, query, domain.IssueStatusClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	totals := make(map[string]int)
	for rows.Next() {
		var (
			userID string
			sum    int64
		)
		if err := rows.Scan(&userID, &sum); err != nil {
			return nil, err
		}
		totals[userID] = int(sum)
	}
	return totals, rows.Err()
}

func (r *issueRepository) Stats(ctx context.Context) (IssueStats, error) {
	stats := IssueStats{
		ByDifficulty: make(map[domain.Difficulty]int64),
		ByStatus:     make(map[domain.IssueStatus]int64),
	}
	if err := r.pool.QueryRow(ctx, `
        SELECT COUNT(*), COUNT(assigned_to), COUNT(*) - COUNT(assigned_to)
        FROM issues WHERE deleted_at IS NULL`,
	).Scan(&stats.Total, &stats.Assigned, &stats.Unassigned); err != nil {
		return IssueStats{}, err
	}

	rows, err := r.pool.Query(ctx, `
        SELECT difficulty, status, COUNT(*)
        FROM issues WHERE deleted_at IS NULL
        GROUP BY difficulty, status`)
	if err != nil {
		return IssueStats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			difficulty domain.Difficulty
			status     domain.IssueStatus
			count      int64
		)
		if err := rows.Scan(&difficulty, &status, &count); err != nil {
			return IssueStats{}, err
		}
		stats.ByDifficulty[difficulty] += count
		stats.ByStatus[status] += count
	}
	return stats, rows.Err()
}

func (r *issueRepository) ListOverdue(ctx context.Context, before time.Time) ([]domain.Issue, error) {
	query := `SELECT ` + issueColumns + ` FROM issues
        WHERE deleted_at IS NULL AND due_date IS NOT NULL AND due_date < $1 AND status <> $2
        ORDER BY due_date ASC, created_at ASC`
	rows, err := r.pool.Query(ctx, query, before, domain.IssueStatusClosed)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanIssues(rows)
}

func scanIssue(row pgx.Row) (*domain.Issue, error) {
	var issue domain.Issue
	if err := row.Scan(
		&issue.ID,
		&issue.Title,
		&issue.Description,
		&issue.Difficulty,
		&issue.Status,
		&issue.AssignedTo,
		&issue.RewardPoints,
		&issue.DueDate,
		&issue.CreatedAt,
		&issue.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &issue, nil
}

func scanIssues(rows pgx.Rows) ([]domain.Issue, error) {
	var result []domain.Issue
	for rows.Next() {
		issue, err := scanIssue(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *issue)
	}
	return result, rows.Err()
}
