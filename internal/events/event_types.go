package events

import (
	"time"

	"github.com/spec-kit/issue-service/internal/domain"
)

// EventType enumerates supported event identifiers.
type EventType string

const (
	EventIssueCreated       EventType = "issue_created"
	EventIssueAssigned      EventType = "issue_assigned"
	EventIssueStatusChanged EventType = "issue_status_changed"
	EventIssueClosed        EventType = "issue_closed"
	EventIssueDeleted       EventType = "issue_deleted"
	EventRewardCredited     EventType = "reward_credited"
)

// Event represents a domain event emitted by services.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	IssueID   string    `json:"issue_id,omitempty"`
	ActorID   *string   `json:"actor_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// IssueCreatedPayload payload.
type IssueCreatedPayload struct {
	Title      string             `json:"title"`
	Difficulty domain.Difficulty  `json:"difficulty"`
	Status     domain.IssueStatus `json:"status"`
	AssignedTo *string            `json:"assigned_to,omitempty"`
}

// IssueAssignedPayload payload.
type IssueAssignedPayload struct {
	PreviousAssignee *string `json:"previous_assignee,omitempty"`
	AssigneeID       string  `json:"assignee_id"`
}

// IssueStatusChangedPayload payload.
type IssueStatusChangedPayload struct {
	OldStatus domain.IssueStatus `json:"old_status"`
	NewStatus domain.IssueStatus `json:"new_status"`
}

// IssueClosedPayload payload.
type IssueClosedPayload struct {
	AssigneeID   string            `json:"assignee_id"`
	Difficulty   domain.Difficulty `json:"difficulty"`
	RewardPoints int               `json:"reward_points"`
}

// RewardCreditedPayload payload.
type RewardCreditedPayload struct {
	UserID string `json:"user_id"`
	Amount int    `json:"amount"`
}
