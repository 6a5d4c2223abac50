package domain

import (
	"strings"
	"time"
)

// IssueStatus enumerates lifecycle states for issues.
type IssueStatus string

const (
	IssueStatusOpen    IssueStatus = "OPEN"
	IssueStatusClaimed IssueStatus = "CLAIMED"
	IssueStatusClosed  IssueStatus = "CLOSED"
)

// ParseIssueStatus normalizes a client supplied status.
func ParseIssueStatus(raw string) (IssueStatus, bool) {
	switch status := IssueStatus(strings.ToUpper(strings.TrimSpace(raw))); status {
	case IssueStatusOpen, IssueStatusClaimed, IssueStatusClosed:
		return status, true
	default:
		return "", false
	}
}

// IsTerminal reports whether no further transitions are allowed.
func (s IssueStatus) IsTerminal() bool {
	return s == IssueStatusClosed
}

// RequiresAssignee reports whether an issue in this status must have an owner.
func (s IssueStatus) RequiresAssignee() bool {
	return s == IssueStatusClaimed || s == IssueStatusClosed
}

// Difficulty classifies the size of an issue and drives its reward.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// ParseDifficulty normalizes a client supplied difficulty.
func ParseDifficulty(raw string) (Difficulty, bool) {
	switch difficulty := Difficulty(strings.ToUpper(strings.TrimSpace(raw))); difficulty {
	case DifficultyEasy, DifficultyMedium, DifficultyHard:
		return difficulty, true
	default:
		return "", false
	}
}

// Issue is the aggregate for a unit of work.
type Issue struct {
	ID           string
	Title        string
	Description  string
	Difficulty   Difficulty
	Status       IssueStatus
	AssignedTo   *string
	RewardPoints *int
	DueDate      *time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// IsOverdue reports whether the due date lies before the day of now.
// Closed issues are never overdue.
func (i *Issue) IsOverdue(now time.Time) bool {
	if i.DueDate == nil || i.Status == IssueStatusClosed {
		return false
	}
	return i.DueDate.Before(StartOfDay(now))
}

// StartOfDay truncates t to midnight in its own location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
