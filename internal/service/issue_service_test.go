package service_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/spec-kit/issue-service/internal/domain"
	"github.com/spec-kit/issue-service/internal/service"
	apperrors "github.com/spec-kit/issue-service/pkg/util/errorutil"
)

func TestCreateAndCloseMediumIssueCreditsTwenty(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	dev := env.addUser(t, "dev", domain.RoleUser)

	issue := env.createIssue(t, dev, "medium")
	if issue.Status != domain.IssueStatusClaimed || issue.AssignedTo == nil || *issue.AssignedTo != dev.UserID {
		t.Fatalf("new issue = %+v, want CLAIMED by requester", issue)
	}

	closed, err := env.issueSvc.Update(ctx, dev, issue.ID, closeInput(issue))
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if closed.Status != domain.IssueStatusClosed || closed.RewardPoints == nil || *closed.RewardPoints != 20 {
		t.Fatalf("closed issue = %+v", closed)
	}
	if got := env.balance(t, dev.UserID); got != 20 {
		t.Fatalf("balance = %d, want 20", got)
	}
}

func TestAdminAssignMovesOpenToClaimed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	admin := env.addUser(t, "admin", domain.RoleAdmin)
	dev := env.addUser(t, "dev", domain.RoleUser)

	issue, err := env.issueSvc.CreateIssue(ctx, admin, service.CreateIssueInput{
		Title: "Triage", Description: "Needs an owner", Difficulty: "EASY", Unassigned: true,
	})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	if issue.Status != domain.IssueStatusOpen || issue.AssignedTo != nil {
		t.Fatalf("unassigned issue = %+v", issue)
	}

	assigned, err := env.issueSvc.Assign(ctx, admin, issue.ID, dev.UserID)
	if err != nil {
		t.Fatalf("Assign() error = %v", err)
	}
	if assigned.Status != domain.IssueStatusClaimed || *assigned.AssignedTo != dev.UserID {
		t.Fatalf("assigned issue = %+v", assigned)
	}

	history, err := env.issueSvc.History(ctx, dev, issue.ID)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	want := []domain.IssueChangeType{domain.ChangeTypeCreated, domain.ChangeTypeAssignee, domain.ChangeTypeStatus}
	if len(history) != len(want) {
		t.Fatalf("history has %d entries, want %d", len(history), len(want))
	}
	for i, changeType := range want {
		if history[i].ChangeType != changeType {
			t.Errorf("history[%d] = %s, want %s", i, history[i].ChangeType, changeType)
		}
	}
}

func TestAssignErrors(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	admin := env.addUser(t, "admin", domain.RoleAdmin)
	dev := env.addUser(t, "dev", domain.RoleUser)
	open := env.createIssue(t, dev, "EASY")
	closed := env.createIssue(t, dev, "HARD")
	if _, err := env.issueSvc.Update(ctx, dev, closed.ID, closeInput(closed)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		principal domain.Principal
		issueID   string
		userID    string
		wantCode  string
	}{
		{name: "non admin", principal: dev, issueID: open.ID, userID: dev.UserID, wantCode: apperrors.CodeForbidden},
		{name: "missing issue", principal: admin, issueID: "nope", userID: dev.UserID, wantCode: apperrors.CodeNotFound},
		{name: "missing user", principal: admin, issueID: open.ID, userID: "nope", wantCode: apperrors.CodeNotFound},
		{name: "closed issue", principal: admin, issueID: closed.ID, userID: admin.UserID, wantCode: apperrors.CodeInvalidTransition},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.issueSvc.Assign(ctx, tt.principal, tt.issueID, tt.userID)
			if !apperrors.HasCode(err, tt.wantCode) {
				t.Fatalf("Assign() error = %v, want %s", err, tt.wantCode)
			}
		})
	}

	got, _ := env.issueSvc.Get(ctx, closed.ID)
	if *got.AssignedTo != dev.UserID {
		t.Error("assign on a closed issue changed the assignee")
	}
}

func TestNonOwnerUpdateIsRejectedWithoutChanges(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.addUser(t, "owner", domain.RoleUser)
	other := env.addUser(t, "other", domain.RoleUser)
	issue := env.createIssue(t, owner, "HARD")

	input := closeInput(issue)
	input.Title = "hijacked"
	_, err := env.issueSvc.Update(ctx, other, issue.ID, input)
	if !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("Update() error = %v, want FORBIDDEN", err)
	}

	got, err := env.issueSvc.Get(ctx, issue.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != issue.Title || got.Status != domain.IssueStatusClaimed || got.RewardPoints != nil {
		t.Fatalf("issue changed after rejected update: %+v", got)
	}
	if env.balance(t, owner.UserID) != 0 || env.balance(t, other.UserID) != 0 {
		t.Fatal("balances changed after rejected update")
	}
}

func TestReassignBetweenLoadAndWriteRevokesFormerOwner(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		hook      string
		status    domain.IssueStatus
		wantTitle string
	}{
		{name: "details write", hook: "UpdateDetails", status: domain.IssueStatusClosed, wantTitle: "Fix login"},
		{name: "close", hook: "CloseIfNotClosed", status: domain.IssueStatusClosed, wantTitle: "edited"},
		{name: "status change", hook: "SetStatusIfNotClosed", status: domain.IssueStatusOpen, wantTitle: "edited"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			ctx := context.Background()
			env := newTestEnv(t)
			admin := env.addUser(t, "admin", domain.RoleAdmin)
			former := env.addUser(t, "former", domain.RoleUser)
			next := env.addUser(t, "next", domain.RoleUser)
			issue := env.createIssue(t, former, "HARD")

			env.hooks.before(tt.hook, func() {
				if _, err := env.issueSvc.Assign(ctx, admin, issue.ID, next.UserID); err != nil {
					t.Errorf("Assign() error = %v", err)
				}
			})

			status := string(tt.status)
			input := closeInput(issue)
			input.Title = "edited"
			input.Status = &status
			_, err := env.issueSvc.Update(ctx, former, issue.ID, input)
			if !apperrors.HasCode(err, apperrors.CodeForbidden) {
				t.Fatalf("Update() error = %v, want FORBIDDEN", err)
			}

			got, err := env.issueSvc.Get(ctx, issue.ID)
			if err != nil {
				t.Fatal(err)
			}
			if got.Status != domain.IssueStatusClaimed || got.RewardPoints != nil {
				t.Fatalf("status = %s reward = %v, want CLAIMED without reward", got.Status, got.RewardPoints)
			}
			if got.AssignedTo == nil || *got.AssignedTo != next.UserID {
				t.Fatalf("assignee = %v, want %s", got.AssignedTo, next.UserID)
			}
			if got.Title != tt.wantTitle {
				t.Fatalf("title = %q, want %q", got.Title, tt.wantTitle)
			}
			if env.balance(t, former.UserID) != 0 || env.balance(t, next.UserID) != 0 {
				t.Fatal("rejected update credited a reward")
			}
		})
	}
}

func TestReassignBeforeDeleteRevokesFormerOwner(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	admin := env.addUser(t, "admin", domain.RoleAdmin)
	former := env.addUser(t, "former", domain.RoleUser)
	next := env.addUser(t, "next", domain.RoleUser)
	issue := env.createIssue(t, former, "EASY")

	env.hooks.before("Delete", func() {
		if _, err := env.issueSvc.Assign(ctx, admin, issue.ID, next.UserID); err != nil {
			t.Errorf("Assign() error = %v", err)
		}
	})
	if err := env.issueSvc.Delete(ctx, former, issue.ID); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("Delete() error = %v, want FORBIDDEN", err)
	}
	if _, err := env.issueSvc.Get(ctx, issue.ID); err != nil {
		t.Fatalf("Get() after rejected delete error = %v", err)
	}
	if err := env.issueSvc.Delete(ctx, next, issue.ID); err != nil {
		t.Fatalf("Delete() by new assignee error = %v", err)
	}
}

func TestAdminCloseCreditsAssigneeAtCloseTime(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	admin := env.addUser(t, "admin", domain.RoleAdmin)
	former := env.addUser(t, "former", domain.RoleUser)
	next := env.addUser(t, "next", domain.RoleUser)
	issue := env.createIssue(t, former, "MEDIUM")

	env.hooks.before("CloseIfNotClosed", func() {
		if _, err := env.issueSvc.Assign(ctx, admin, issue.ID, next.UserID); err != nil {
			t.Errorf("Assign() error = %v", err)
		}
	})
	if _, err := env.issueSvc.Update(ctx, admin, issue.ID, closeInput(issue)); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got := env.balance(t, next.UserID); got != 20 {
		t.Fatalf("new assignee balance = %d, want 20", got)
	}
	if got := env.balance(t, former.UserID); got != 0 {
		t.Fatalf("former assignee balance = %d, want 0", got)
	}
}

func TestCloseCreditsEvenIfCallerCancels(t *testing.T) {
	t.Parallel()

	env := newTestEnv(t)
	dev := env.addUser(t, "dev", domain.RoleUser)
	issue := env.createIssue(t, dev, "HARD")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	env.hooks.before("CloseIfNotClosed", cancel)

	closed, err := env.issueSvc.Update(ctx, dev, issue.ID, closeInput(issue))
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if closed.Status != domain.IssueStatusClosed {
		t.Fatalf("status = %s, want CLOSED", closed.Status)
	}
	if got := env.balance(t, dev.UserID); got != 30 {
		t.Fatalf("balance = %d, want 30", got)
	}
	drift, err := env.ledger.Reconcile(context.Background(), false)
	if err != nil {
		t.Fatal(err)
	}
	if len(drift) != 0 {
		t.Fatalf("Reconcile() = %+v, want no drift", drift)
	}
}

func TestUpdateOnClosedIssueKeepsStatusAndAppliesEdits(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	dev := env.addUser(t, "dev", domain.RoleUser)
	issue := env.createIssue(t, dev, "EASY")
	if _, err := env.issueSvc.Update(ctx, dev, issue.ID, closeInput(issue)); err != nil {
		t.Fatal(err)
	}

	reopen := string(domain.IssueStatusOpen)
	got, err := env.issueSvc.Update(ctx, dev, issue.ID, service.UpdateIssueInput{
		Title:       "Renamed",
		Description: issue.Description,
		Difficulty:  "HARD",
		Status:      &reopen,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Status != domain.IssueStatusClosed {
		t.Errorf("status = %s, want CLOSED", got.Status)
	}
	if got.Title != "Renamed" || got.Difficulty != domain.DifficultyHard {
		t.Errorf("edits not applied: %+v", got)
	}
	if *got.RewardPoints != 10 {
		t.Errorf("reward = %d, want the original 10", *got.RewardPoints)
	}
	if env.balance(t, dev.UserID) != 10 {
		t.Errorf("balance = %d, want 10", env.balance(t, dev.UserID))
	}

	// closing again is a no-op
	if _, err := env.issueSvc.Update(ctx, dev, issue.ID, closeInput(got)); err != nil {
		t.Fatal(err)
	}
	if env.balance(t, dev.UserID) != 10 {
		t.Errorf("second close credited again: balance = %d", env.balance(t, dev.UserID))
	}
}

func TestConcurrentClosesCreditExactlyOnce(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	dev := env.addUser(t, "dev", domain.RoleUser)
	admin := env.addUser(t, "admin", domain.RoleAdmin)
	issue := env.createIssue(t, dev, "MEDIUM")

	const workers = 32
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		principal := dev
		if i%2 == 0 {
			principal = admin
		}
		wg.Add(1)
		go func(p domain.Principal) {
			defer wg.Done()
			if _, err := env.issueSvc.Update(ctx, p, issue.ID, closeInput(issue)); err != nil {
				t.Errorf("Update() error = %v", err)
			}
		}(principal)
	}
	wg.Wait()

	if got := env.balance(t, dev.UserID); got != 20 {
		t.Fatalf("balance = %d after %d concurrent closes, want 20", got, workers)
	}
	credited, err := env.history.ListByChangeType(ctx, domain.ChangeTypeRewardCredited)
	if err != nil {
		t.Fatal(err)
	}
	if len(credited) != 1 {
		t.Fatalf("%d credit entries, want 1", len(credited))
	}
}

func TestCloseWithoutAssigneeIsRejected(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	admin := env.addUser(t, "admin", domain.RoleAdmin)
	issue, err := env.issueSvc.CreateIssue(ctx, admin, service.CreateIssueInput{
		Title: "t", Description: "d", Difficulty: "EASY", Unassigned: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	_, err = env.issueSvc.Update(ctx, admin, issue.ID, closeInput(issue))
	if !apperrors.HasCode(err, apperrors.CodeValidationFailed) {
		t.Fatalf("Update() error = %v, want VALIDATION_FAILED", err)
	}
	got, _ := env.issueSvc.Get(ctx, issue.ID)
	if got.Status != domain.IssueStatusOpen {
		t.Fatalf("status = %s, want OPEN", got.Status)
	}
}

func TestCreateIssueValidation(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	dev := env.addUser(t, "dev", domain.RoleUser)

	tests := []struct {
		name     string
		input    service.CreateIssueInput
		wantCode string
	}{
		{name: "blank title", input: service.CreateIssueInput{Title: "  ", Description: "d", Difficulty: "EASY"}, wantCode: apperrors.CodeValidationFailed},
		{name: "blank description", input: service.CreateIssueInput{Title: "t", Description: "", Difficulty: "EASY"}, wantCode: apperrors.CodeValidationFailed},
		{name: "unknown difficulty", input: service.CreateIssueInput{Title: "t", Description: "d", Difficulty: "EPIC"}, wantCode: apperrors.CodeValidationFailed},
		{name: "assignee by non admin", input: service.CreateIssueInput{Title: "t", Description: "d", Difficulty: "EASY", AssigneeID: strPtr(dev.UserID)}, wantCode: apperrors.CodeForbidden},
		{name: "unassigned by non admin", input: service.CreateIssueInput{Title: "t", Description: "d", Difficulty: "EASY", Unassigned: true}, wantCode: apperrors.CodeForbidden},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.issueSvc.CreateIssue(ctx, dev, tt.input)
			if !apperrors.HasCode(err, tt.wantCode) {
				t.Fatalf("CreateIssue() error = %v, want %s", err, tt.wantCode)
			}
		})
	}

	_, err := env.issueSvc.CreateIssue(ctx, dev, service.CreateIssueInput{Title: "", Description: "", Difficulty: "x"})
	details := apperrors.ToDomainError(err).Details
	for _, field := range []string{"title", "description", "difficulty"} {
		if _, ok := details[field]; !ok {
			t.Errorf("missing detail for %s in %v", field, details)
		}
	}
}

func TestAdminCreatesOnBehalfOfUser(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	admin := env.addUser(t, "admin", domain.RoleAdmin)
	dev := env.addUser(t, "dev", domain.RoleUser)

	issue, err := env.issueSvc.CreateIssue(ctx, admin, service.CreateIssueInput{
		Title: "t", Description: "d", Difficulty: "HARD", AssigneeID: strPtr(dev.UserID),
	})
	if err != nil {
		t.Fatalf("CreateIssue() error = %v", err)
	}
	if *issue.AssignedTo != dev.UserID {
		t.Fatalf("assignee = %s, want %s", *issue.AssignedTo, dev.UserID)
	}

	_, err = env.issueSvc.CreateIssue(ctx, admin, service.CreateIssueInput{
		Title: "t", Description: "d", Difficulty: "HARD", AssigneeID: strPtr("ghost"),
	})
	if !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("CreateIssue() error = %v, want NOT_FOUND", err)
	}
}

func TestDeleteIssue(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	owner := env.addUser(t, "owner", domain.RoleUser)
	other := env.addUser(t, "other", domain.RoleUser)
	issue := env.createIssue(t, owner, "HARD")
	if _, err := env.issueSvc.Update(ctx, owner, issue.ID, closeInput(issue)); err != nil {
		t.Fatal(err)
	}

	if err := env.issueSvc.Delete(ctx, other, issue.ID); !apperrors.HasCode(err, apperrors.CodeForbidden) {
		t.Fatalf("Delete() by non-owner error = %v", err)
	}
	if err := env.issueSvc.Delete(ctx, owner, issue.ID); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := env.issueSvc.Get(ctx, issue.ID); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("Get() after delete error = %v", err)
	}
	if err := env.issueSvc.Delete(ctx, owner, issue.ID); !apperrors.HasCode(err, apperrors.CodeNotFound) {
		t.Fatalf("second Delete() error = %v", err)
	}
	if env.balance(t, owner.UserID) != 30 {
		t.Fatal("delete reversed the reward")
	}
}

func TestStatusChangesBetweenOpenAndClaimed(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	dev := env.addUser(t, "dev", domain.RoleUser)
	issue := env.createIssue(t, dev, "EASY")

	open := "open"
	got, err := env.issueSvc.Update(ctx, dev, issue.ID, service.UpdateIssueInput{
		Title: issue.Title, Description: issue.Description, Difficulty: "EASY", Status: &open,
	})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if got.Status != domain.IssueStatusOpen || *got.AssignedTo != dev.UserID {
		t.Fatalf("issue = %+v, want OPEN and still assigned", got)
	}

	bogus := "DONE"
	_, err = env.issueSvc.Update(ctx, dev, issue.ID, service.UpdateIssueInput{
		Title: issue.Title, Description: issue.Description, Difficulty: "EASY", Status: &bogus,
	})
	if !apperrors.HasCode(err, apperrors.CodeValidationFailed) {
		t.Fatalf("Update() error = %v, want VALIDATION_FAILED", err)
	}
}

func TestFilterIssues(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	dev := env.addUser(t, "dev", domain.RoleUser)
	for i := 0; i < 12; i++ {
		env.createIssue(t, dev, "EASY")
	}
	hard := env.createIssue(t, dev, "HARD")
	if _, err := env.issueSvc.Update(ctx, dev, hard.ID, closeInput(hard)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name      string
		query     service.IssueQuery
		wantItems int
		wantTotal int64
		wantSize  int
		wantCode  string
	}{
		{name: "default size", query: service.IssueQuery{}, wantItems: 10, wantTotal: 13, wantSize: 10},
		{name: "second page", query: service.IssueQuery{Page: 1}, wantItems: 3, wantTotal: 13, wantSize: 10},
		{name: "size capped", query: service.IssueQuery{Size: 500}, wantItems: 13, wantTotal: 13, wantSize: 100},
		{name: "case insensitive status", query: service.IssueQuery{Status: "closed"}, wantItems: 1, wantTotal: 1, wantSize: 10},
		{name: "difficulty", query: service.IssueQuery{Difficulty: "easy", Size: 5}, wantItems: 5, wantTotal: 12, wantSize: 5},
		{name: "bad status", query: service.IssueQuery{Status: "DONE"}, wantCode: apperrors.CodeValidationFailed},
		{name: "negative page", query: service.IssueQuery{Page: -1}, wantCode: apperrors.CodeValidationFailed},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			page, err := env.issueSvc.Filter(ctx, tt.query)
			if tt.wantCode != "" {
				if !apperrors.HasCode(err, tt.wantCode) {
					t.Fatalf("Filter() error = %v, want %s", err, tt.wantCode)
				}
				return
			}
			if err != nil {
				t.Fatalf("Filter() error = %v", err)
			}
			if len(page.Items) != tt.wantItems || page.Total != tt.wantTotal || page.Size != tt.wantSize {
				t.Errorf("Filter() = %d items, total %d, size %d", len(page.Items), page.Total, page.Size)
			}
		})
	}
}

func TestOverdueAndStats(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newTestEnv(t)
	dev := env.addUser(t, "dev", domain.RoleUser)

	due := func(day int) *time.Time {
		d := time.Date(2024, 5, day, 0, 0, 0, 0, time.UTC)
		return &d
	}
	late, err := env.issueSvc.CreateIssue(ctx, dev, service.CreateIssueInput{Title: "late", Description: "d", Difficulty: "EASY", DueDate: due(9)})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := env.issueSvc.CreateIssue(ctx, dev, service.CreateIssueInput{Title: "today", Description: "d", Difficulty: "EASY", DueDate: due(10)}); err != nil {
		t.Fatal(err)
	}

	overdue, err := env.issueSvc.Overdue(ctx)
	if err != nil {
		t.Fatalf("Overdue() error = %v", err)
	}
	if len(overdue) != 1 || overdue[0].ID != late.ID {
		t.Fatalf("Overdue() = %+v, want only the issue due yesterday", overdue)
	}

	stats, err := env.issueSvc.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Total != 2 || stats.ByDifficulty[domain.DifficultyEasy] != 2 {
		t.Fatalf("Stats() = %+v", stats)
	}
}
