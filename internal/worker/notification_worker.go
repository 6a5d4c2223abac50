package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/spec-kit/issue-service/internal/domain"
	"github.com/spec-kit/issue-service/internal/service"
)

// StartNotificationWorker registers notification handlers.
func StartNotificationWorker(notificationService *service.NotificationService) {
	if notificationService == nil {
		return
	}
	notificationService.RegisterHandlers()
}

// OverdueSource lists issues past their due date.
type OverdueSource interface {
	Overdue(ctx context.Context) ([]domain.Issue, error)
}

// RunOverdueScanner logs overdue issues every interval until ctx is done.
// A non-positive interval returns immediately.
func RunOverdueScanner(ctx context.Context, source OverdueSource, interval time.Duration, logger *zap.Logger) {
	if source == nil || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scanOverdue(ctx, source, logger)
		}
	}
}

func scanOverdue(ctx context.Context, source OverdueSource, logger *zap.Logger) int {
	issues, err := source.Overdue(ctx)
	if err != nil {
		logger.Warn("overdue scan failed", zap.Error(err))
		return 0
	}
	for _, issue := range issues {
		fields := []zap.Field{
			zap.String("issue_id", issue.ID),
			zap.String("status", string(issue.Status)),
		}
		if issue.DueDate != nil {
			fields = append(fields, zap.Time("due_date", *issue.DueDate))
		}
		if issue.AssignedTo != nil {
			fields = append(fields, zap.String("assignee_id", *issue.AssignedTo))
		}
		logger.Info("issue overdue", fields...)
	}
	return len(issues)
}
