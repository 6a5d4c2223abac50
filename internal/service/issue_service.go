package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/issue-service/internal/auth"
	"github.com/spec-kit/issue-service/internal/domain"
	"github.com/spec-kit/issue-service/internal/events"
	"github.com/spec-kit/issue-service/internal/observability"
	"github.com/spec-kit/issue-service/internal/repository"
	apperrors "github.com/spec-kit/issue-service/pkg/util/errorutil"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
)

// IssueService coordinates the issue lifecycle.
type IssueService struct {
	issues     repository.IssueRepository
	users      repository.UserRepository
	history    repository.IssueHistoryRepository
	ledger     *LedgerService
	dispatcher events.Dispatcher
	metrics    *observability.Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// IssueDependencies bundles collaborators for the issue service.
type IssueDependencies struct {
	IssueRepo   repository.IssueRepository
	UserRepo    repository.UserRepository
	HistoryRepo repository.IssueHistoryRepository
	Ledger      *LedgerService
	Dispatcher  events.Dispatcher
	Metrics     *observability.Metrics
	Logger      *zap.Logger
	Now         func() time.Time
}

// CreateIssueInput describes issue creation. AssigneeID and Unassigned are admin-only.
type CreateIssueInput struct {
	Title       string
	Description string
	Difficulty  string
	DueDate     *time.Time
	AssigneeID  *string
	Unassigned  bool
}

// UpdateIssueInput describes an issue edit. A nil Status leaves the status alone,
// a nil DueDate keeps the stored one.
type UpdateIssueInput struct {
	Title       string
	Description string
	Difficulty  string
	Status      *string
	DueDate     *time.Time
}

// IssueQuery describes listing filters. Page is zero-based.
type IssueQuery struct {
	Status     string
	Difficulty string
	Page       int
	Size       int
}

// Page is one slice of a paginated listing.
type Page[T any] struct {
	Items []T   `json:"items"`
	Total int64 `json:"total"`
	Page  int   `json:"page"`
	Size  int   `json:"size"`
}

// NewIssueService constructs the service.
func NewIssueService(deps IssueDependencies) *IssueService {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &IssueService{
		issues:     deps.IssueRepo,
		users:      deps.UserRepo,
		history:    deps.HistoryRepo,
		ledger:     deps.Ledger,
		dispatcher: deps.Dispatcher,
		metrics:    deps.Metrics,
		logger:     logger,
		now:        now,
	}
}

// CreateIssue creates an issue claimed by the requester. Admins may create on
// behalf of another user or leave the issue unassigned and OPEN.
func (s *IssueService) CreateIssue(ctx context.Context, principal domain.Principal, input CreateIssueInput) (*domain.Issue, error) {
	title, description, difficulty, details := validateIssueFields(input.Title, input.Description, input.Difficulty)
	if input.AssigneeID != nil && input.Unassigned {
		details["assignee_id"] = "cannot be combined with unassigned"
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("validation failed", details)
	}
	if (input.AssigneeID != nil || input.Unassigned) && !principal.IsAdmin() {
		return nil, apperrors.NewForbidden("only admins may choose the assignee")
	}

	issue := &domain.Issue{
		Title:       title,
		Description: description,
		Difficulty:  difficulty,
		DueDate:     truncateDate(input.DueDate),
	}
	switch {
	case input.Unassigned:
		issue.Status = domain.IssueStatusOpen
	case input.AssigneeID != nil:
		if _, err := s.requireUser(ctx, *input.AssigneeID); err != nil {
			return nil, err
		}
		assignee := *input.AssigneeID
		issue.AssignedTo = &assignee
		issue.Status = domain.IssueStatusClaimed
	default:
		requester := principal.UserID
		issue.AssignedTo = &requester
		issue.Status = domain.IssueStatusClaimed
	}

	if err := s.issues.Create(ctx, issue); err != nil {
		return nil, err
	}

	s.recordHistory(ctx, issue.ID, principal.UserID, domain.ChangeTypeCreated, nil, map[string]any{
		"title":       issue.Title,
		"difficulty":  issue.Difficulty,
		"status":      issue.Status,
		"assigned_to": issue.AssignedTo,
	})
	s.publish(ctx, principal, issue.ID, events.EventIssueCreated, events.IssueCreatedPayload{
		Title:      issue.Title,
		Difficulty: issue.Difficulty,
		Status:     issue.Status,
		AssignedTo: issue.AssignedTo,
	})
	return issue, nil
}

// Assign gives an issue to targetUserID and marks it CLAIMED. Admin only.
func (s *IssueService) Assign(ctx context.Context, principal domain.Principal, issueID, targetUserID string) (*domain.Issue, error) {
	if !principal.IsAdmin() {
		return nil, apperrors.NewForbidden("only admins may assign issues")
	}

	issue, err := s.requireIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if issue.Status.IsTerminal() {
		return nil, closedIssueError(issueID)
	}
	if _, err := s.requireUser(ctx, targetUserID); err != nil {
		return nil, err
	}

	ok, err := s.issues.AssignIfNotClosed(ctx, issueID, targetUserID)
	if err != nil {
		return nil, err
	}
	if !ok {
		// closed or deleted since it was loaded
		if _, err := s.requireIssue(ctx, issueID); err != nil {
			return nil, err
		}
		return nil, closedIssueError(issueID)
	}

	s.recordHistory(ctx, issueID, principal.UserID, domain.ChangeTypeAssignee,
		map[string]any{"assigned_to": issue.AssignedTo},
		map[string]any{"assigned_to": targetUserID},
	)
	if issue.Status != domain.IssueStatusClaimed {
		s.recordStatusChange(ctx, principal, issueID, issue.Status, domain.IssueStatusClaimed)
	}
	s.publish(ctx, principal, issueID, events.EventIssueAssigned, events.IssueAssignedPayload{
		PreviousAssignee: issue.AssignedTo,
		AssigneeID:       targetUserID,
	})

	return s.requireIssue(ctx, issueID)
}

// Update edits an issue. The requester must be an admin or the current assignee.
// Closing credits the assignee exactly once; a CLOSED issue keeps its status and
// reward while the other fields are still applied.
func (s *IssueService) Update(ctx context.Context, principal domain.Principal, issueID string, input UpdateIssueInput) (*domain.Issue, error) {
	title, description, difficulty, details := validateIssueFields(input.Title, input.Description, input.Difficulty)
	var requested *domain.IssueStatus
	if input.Status != nil {
		status, ok := domain.ParseIssueStatus(*input.Status)
		if !ok {
			details["status"] = "must be one of OPEN, CLAIMED, CLOSED"
		} else {
			requested = &status
		}
	}
	if len(details) > 0 {
		return nil, apperrors.NewValidationError("validation failed", details)
	}

	issue, err := s.requireIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize(principal, issue.AssignedTo); err != nil {
		return nil, err
	}

	wasClosed := issue.Status.IsTerminal()
	if requested != nil && !wasClosed && requested.RequiresAssignee() && issue.AssignedTo == nil {
		return nil, apperrors.NewValidationError("validation failed", map[string]any{
			"status": "issue has no assignee",
		})
	}

	if err := s.applyDetails(ctx, principal, issue, title, description, difficulty, input.DueDate); err != nil {
		return nil, err
	}

	switch {
	case requested == nil || wasClosed || *requested == issue.Status:
	case *requested == domain.IssueStatusClosed:
		if err := s.close(ctx, principal, issue); err != nil {
			return nil, err
		}
	default:
		ok, err := s.issues.SetStatusIfNotClosed(ctx, issueID, *requested, ownerGuard(principal))
		if err != nil {
			return nil, err
		}
		if !ok {
			// a concurrent close wins without error
			if err := s.guardFailure(ctx, principal, issueID); err != nil {
				return nil, err
			}
			break
		}
		s.recordStatusChange(ctx, principal, issueID, issue.Status, *requested)
	}

	return s.requireIssue(ctx, issueID)
}

// Delete soft-deletes an issue. Rewards already paid stay on the ledger.
func (s *IssueService) Delete(ctx context.Context, principal domain.Principal, issueID string) error {
	issue, err := s.requireIssue(ctx, issueID)
	if err != nil {
		return err
	}
	if err := auth.Authorize(principal, issue.AssignedTo); err != nil {
		return err
	}

	deleted, err := s.issues.Delete(ctx, issueID, ownerGuard(principal))
	if err != nil {
		return err
	}
	if !deleted {
		if err := s.guardFailure(ctx, principal, issueID); err != nil {
			return err
		}
		return apperrors.NewNotFound("issue", issueID)
	}
	s.logger.Info("issue deleted", zap.String("issue_id", issueID), zap.String("actor_id", principal.UserID))
	s.publish(ctx, principal, issueID, events.EventIssueDeleted, nil)
	return nil
}

// Get returns a single issue.
func (s *IssueService) Get(ctx context.Context, issueID string) (*domain.Issue, error) {
	return s.requireIssue(ctx, issueID)
}

// Filter lists issues matching query, oldest first.
func (s *IssueService) Filter(ctx context.Context, query IssueQuery) (Page[domain.Issue], error) {
	filter, page, size, err := buildIssueFilter(query)
	if err != nil {
		return Page[domain.Issue]{}, err
	}
	items, total, err := s.issues.List(ctx, filter)
	if err != nil {
		return Page[domain.Issue]{}, err
	}
	if items == nil {
		items = []domain.Issue{}
	}
	return Page[domain.Issue]{Items: items, Total: total, Page: page, Size: size}, nil
}

// History returns the audit trail of an issue. Admin or assignee only.
func (s *IssueService) History(ctx context.Context, principal domain.Principal, issueID string) ([]domain.IssueHistory, error) {
	issue, err := s.requireIssue(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if err := auth.Authorize(principal, issue.AssignedTo); err != nil {
		return nil, err
	}
	return s.history.ListByIssue(ctx, issueID)
}

// Overdue lists open work whose due date is before today.
func (s *IssueService) Overdue(ctx context.Context) ([]domain.Issue, error) {
	issues, err := s.issues.ListOverdue(ctx, domain.StartOfDay(s.now()))
	if err != nil {
		return nil, err
	}
	if issues == nil {
		issues = []domain.Issue{}
	}
	return issues, nil
}

// Stats summarizes live issues.
func (s *IssueService) Stats(ctx context.Context) (repository.IssueStats, error) {
	return s.issues.Stats(ctx)
}

func (s *IssueService) applyDetails(ctx context.Context, principal domain.Principal, issue *domain.Issue, title, description string, difficulty domain.Difficulty, dueDate *time.Time) error {
	old := map[string]any{"title": issue.Title, "description": issue.Description, "difficulty": issue.Difficulty}
	changed := issue.Title != title || issue.Description != description || issue.Difficulty != difficulty

	issue.Title = title
	issue.Description = description
	issue.Difficulty = difficulty
	if dueDate != nil {
		changed = changed || issue.DueDate == nil || !issue.DueDate.Equal(*truncateDate(dueDate))
		issue.DueDate = truncateDate(dueDate)
	}

	if err := s.issues.UpdateDetails(ctx, issue, ownerGuard(principal)); err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			return err
		}
		if err := s.guardFailure(ctx, principal, issue.ID); err != nil {
			return err
		}
		return apperrors.NewConflict("issue changed concurrently", map[string]any{"issue_id": issue.ID})
	}
	if changed {
		s.recordHistory(ctx, issue.ID, principal.UserID, domain.ChangeTypeDetails, old, map[string]any{
			"title":       title,
			"description": description,
			"difficulty":  difficulty,
		})
	}
	return nil
}

// close moves issue to CLOSED and credits whoever held it at that moment. Losing
// the race to another close is not an error: the issue is closed either way.
// Once the close commits the credit runs to completion even if the caller goes away.
func (s *IssueService) close(ctx context.Context, principal domain.Principal, issue *domain.Issue) error {
	reward := domain.RewardFor(issue.Difficulty)
	assignee, closed, err := s.issues.CloseIfNotClosed(ctx, issue.ID, reward, ownerGuard(principal))
	if err != nil {
		return err
	}
	if !closed {
		return s.guardFailure(ctx, principal, issue.ID)
	}
	ctx = context.WithoutCancel(ctx)

	s.metrics.IssueClosed(string(issue.Difficulty))
	s.logger.Info("issue closed",
		zap.String("issue_id", issue.ID),
		zap.String("assignee_id", assignee),
		zap.Int("reward", reward),
	)
	s.recordStatusChange(ctx, principal, issue.ID, issue.Status, domain.IssueStatusClosed)
	s.publish(ctx, principal, issue.ID, events.EventIssueClosed, events.IssueClosedPayload{
		AssigneeID:   assignee,
		Difficulty:   issue.Difficulty,
		RewardPoints: reward,
	})

	credit := map[string]any{"user_id": assignee, "amount": reward}
	if err := s.ledger.CreditPoints(ctx, assignee, reward); err != nil {
		s.metrics.CreditFailure()
		s.logger.Error("reward credit failed after close",
			zap.String("issue_id", issue.ID),
			zap.String("assignee_id", assignee),
			zap.Int("reward", reward),
			zap.Error(err),
		)
		s.recordHistory(ctx, issue.ID, principal.UserID, domain.ChangeTypeRewardPending, nil, credit)
		return apperrors.NewInconsistency("issue closed but reward credit failed", map[string]any{
			"issue_id": issue.ID,
			"user_id":  assignee,
			"amount":   reward,
		}, err)
	}
	s.recordHistory(ctx, issue.ID, principal.UserID, domain.ChangeTypeRewardCredited, nil, credit)
	return nil
}

// ownerGuard is the assignee a conditional write must still see. Admins are unguarded.
func ownerGuard(principal domain.Principal) *string {
	if principal.IsAdmin() {
		return nil
	}
	id := principal.UserID
	return &id
}

// guardFailure explains why a guarded write matched no row. It returns nil when
// the issue still exists and the principal may still act on it.
func (s *IssueService) guardFailure(ctx context.Context, principal domain.Principal, issueID string) error {
	current, found, err := s.issues.GetByID(ctx, issueID)
	if err != nil {
		return err
	}
	if !found {
		return apperrors.NewNotFound("issue", issueID)
	}
	if !principal.IsAdmin() && !auth.IsOwner(current, principal.UserID) {
		s.logger.Info("issue reassigned during write",
			zap.String("issue_id", issueID),
			zap.String("actor_id", principal.UserID),
		)
		return apperrors.NewForbidden("not allowed to modify this issue")
	}
	return nil
}

func (s *IssueService) recordStatusChange(ctx context.Context, principal domain.Principal, issueID string, from, to domain.IssueStatus) {
	s.recordHistory(ctx, issueID, principal.UserID, domain.ChangeTypeStatus,
		map[string]any{"status": from},
		map[string]any{"status": to},
	)
	if to == domain.IssueStatusClosed {
		return
	}
	s.publish(ctx, principal, issueID, events.EventIssueStatusChanged, events.IssueStatusChangedPayload{
		OldStatus: from,
		NewStatus: to,
	})
}

// recordHistory never fails the request: the state change already committed.
func (s *IssueService) recordHistory(ctx context.Context, issueID, actorID string, changeType domain.IssueChangeType, oldValue, newValue map[string]any) {
	if s.history == nil {
		return
	}
	var changedBy *string
	if actorID != "" {
		changedBy = &actorID
	}
	entry := &domain.IssueHistory{
		IssueID:     issueID,
		ChangedByID: changedBy,
		ChangeType:  changeType,
		OldValue:    oldValue,
		NewValue:    newValue,
	}
	if err := s.history.Create(ctx, entry); err != nil {
		s.logger.Warn("record issue history",
			zap.String("issue_id", issueID),
			zap.String("change_type", string(changeType)),
			zap.Error(err),
		)
	}
}

func (s *IssueService) publish(ctx context.Context, principal domain.Principal, issueID string, eventType events.EventType, payload any) {
	var actor *string
	if principal.UserID != "" {
		id := principal.UserID
		actor = &id
	}
	publish(ctx, s.dispatcher, events.Event{
		Type:      eventType,
		IssueID:   issueID,
		ActorID:   actor,
		Timestamp: s.now(),
		Payload:   payload,
	})
}

func (s *IssueService) requireIssue(ctx context.Context, issueID string) (*domain.Issue, error) {
	issue, found, err := s.issues.GetByID(ctx, issueID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NewNotFound("issue", issueID)
	}
	return issue, nil
}

func (s *IssueService) requireUser(ctx context.Context, userID string) (*domain.User, error) {
	user, found, err := s.users.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apperrors.NewNotFound("user", userID)
	}
	return user, nil
}

func validateIssueFields(rawTitle, rawDescription, rawDifficulty string) (string, string, domain.Difficulty, map[string]any) {
	details := map[string]any{}
	title := strings.TrimSpace(rawTitle)
	if title == "" {
		details["title"] = "is required"
	}
	description := strings.TrimSpace(rawDescription)
	if description == "" {
		details["description"] = "is required"
	}
	difficulty, ok := domain.ParseDifficulty(rawDifficulty)
	if !ok {
		details["difficulty"] = "must be one of EASY, MEDIUM, HARD"
	}
	return title, description, difficulty, details
}

func buildIssueFilter(query IssueQuery) (repository.IssueFilter, int, int, error) {
	details := map[string]any{}
	var filter repository.IssueFilter

	if strings.TrimSpace(query.Status) != "" {
		status, ok := domain.ParseIssueStatus(query.Status)
		if !ok {
			details["status"] = "must be one of OPEN, CLAIMED, CLOSED"
		} else {
			filter.Status = &status
		}
	}
	if strings.TrimSpace(query.Difficulty) != "" {
		difficulty, ok := domain.ParseDifficulty(query.Difficulty)
		if !ok {
			details["difficulty"] = "must be one of EASY, MEDIUM, HARD"
		} else {
			filter.Difficulty = &difficulty
		}
	}
	if query.Page < 0 {
		details["page"] = "must not be negative"
	}
	if len(details) > 0 {
		return repository.IssueFilter{}, 0, 0, apperrors.NewValidationError("validation failed", details)
	}

	size := query.Size
	switch {
	case size <= 0:
		size = defaultPageSize
	case size > maxPageSize:
		size = maxPageSize
	}
	filter.Limit = size
	filter.Offset = query.Page * size
	return filter, query.Page, size, nil
}

func closedIssueError(issueID string) error {
	return apperrors.NewInvalidTransition("issue is closed", map[string]any{"issue_id": issueID})
}

func truncateDate(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	day := domain.StartOfDay(*t)
	return &day
}
