package dto

import (
	"time"

	"github.com/spec-kit/issue-service/internal/domain"
)

// DateLayout is the wire format of due dates.
const DateLayout = "2006-01-02"

// CreateIssueRequest payload. AssigneeID and Unassigned are honored for admins only.
type CreateIssueRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Difficulty  string  `json:"difficulty"`
	DueDate     *string `json:"due_date"`
	AssigneeID  *string `json:"assignee_id"`
	Unassigned  bool    `json:"unassigned"`
}

// UpdateIssueRequest payload.
type UpdateIssueRequest struct {
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Difficulty  string  `json:"difficulty"`
	Status      *string `json:"status"`
	DueDate     *string `json:"due_date"`
}

// IssueResponse represents an issue on the wire.
type IssueResponse struct {
	ID           string             `json:"id"`
	Title        string             `json:"title"`
	Description  string             `json:"description"`
	Difficulty   domain.Difficulty  `json:"difficulty"`
	Status       domain.IssueStatus `json:"status"`
	AssignedTo   *string            `json:"assigned_to"`
	RewardPoints *int               `json:"reward_points"`
	DueDate      *string            `json:"due_date"`
	Overdue      bool               `json:"overdue"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}

// IssuePageResponse wraps a page of issues.
type IssuePageResponse struct {
	Items []IssueResponse `json:"items"`
	Total int64           `json:"total"`
	Page  int             `json:"page"`
	Size  int             `json:"size"`
}

// IssueHistoryResponse is one audit entry.
type IssueHistoryResponse struct {
	ID          string                 `json:"id"`
	ChangeType  domain.IssueChangeType `json:"change_type"`
	ChangedByID *string                `json:"changed_by_id"`
	OldValue    map[string]any         `json:"old_value,omitempty"`
	NewValue    map[string]any         `json:"new_value,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}

// NewIssueResponse converts a domain issue.
func NewIssueResponse(issue *domain.Issue, now time.Time) IssueResponse {
	resp := IssueResponse{
		ID:           issue.ID,
		Title:        issue.Title,
		Description:  issue.Description,
		Difficulty:   issue.Difficulty,
		Status:       issue.Status,
		AssignedTo:   issue.AssignedTo,
		RewardPoints: issue.RewardPoints,
		Overdue:      issue.IsOverdue(now),
		CreatedAt:    issue.CreatedAt,
		UpdatedAt:    issue.UpdatedAt,
	}
	if issue.DueDate != nil {
		due := issue.DueDate.Format(DateLayout)
		resp.DueDate = &due
	}
	return resp
}

// NewIssueResponses converts a slice of domain issues.
func NewIssueResponses(issues []domain.Issue, now time.Time) []IssueResponse {
	resp := make([]IssueResponse, 0, len(issues))
	for i := range issues {
		resp = append(resp, NewIssueResponse(&issues[i], now))
	}
	return resp
}

// NewIssueHistoryResponses converts audit entries.
func NewIssueHistoryResponses(entries []domain.IssueHistory) []IssueHistoryResponse {
	resp := make([]IssueHistoryResponse, 0, len(entries))
	for _, entry := range entries {
		resp = append(resp, IssueHistoryResponse{
			ID:          entry.ID,
			ChangeType:  entry.ChangeType,
			ChangedByID: entry.ChangedByID,
			OldValue:    entry.OldValue,
			NewValue:    entry.NewValue,
			CreatedAt:   entry.CreatedAt,
		})
	}
	return resp
}
