package service

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spec-kit/issue-service/internal/config"
	"github.com/spec-kit/issue-service/internal/events"
)

// NotificationService turns domain events into (stubbed) outbound notifications.
type NotificationService struct {
	dispatcher events.Dispatcher
	logger     *zap.Logger
	cfg        config.NotificationConfig
}

// NewNotificationService creates the service.
func NewNotificationService(dispatcher events.Dispatcher, logger *zap.Logger, cfg config.NotificationConfig) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NotificationService{
		dispatcher: dispatcher,
		logger:     logger,
		cfg:        cfg,
	}
}

// RegisterHandlers subscribes to events.
func (n *NotificationService) RegisterHandlers() {
	if n.dispatcher == nil {
		return
	}
	n.dispatcher.Subscribe(events.EventIssueCreated, n.handleIssueCreated)
	n.dispatcher.Subscribe(events.EventIssueAssigned, n.handleIssueAssigned)
	n.dispatcher.Subscribe(events.EventIssueStatusChanged, n.handleIssueStatusChanged)
	n.dispatcher.Subscribe(events.EventIssueClosed, n.handleIssueClosed)
	n.dispatcher.Subscribe(events.EventIssueDeleted, n.handleIssueDeleted)
	n.dispatcher.Subscribe(events.EventRewardCredited, n.handleRewardCredited)
}

func (n *NotificationService) handleIssueCreated(ctx context.Context, event events.Event) error {
	n.logger.Info("IssueCreated", zap.String("issue_id", event.IssueID), zap.Any("payload", event.Payload))
	n.sendWebhook(ctx, event)
	return nil
}

func (n *NotificationService) handleIssueAssigned(ctx context.Context, event events.Event) error {
	n.logger.Info("IssueAssigned", zap.String("issue_id", event.IssueID), zap.Any("payload", event.Payload))
	n.sendEmail(ctx, event)
	n.sendWebhook(ctx, event)
	return nil
}

func (n *NotificationService) handleIssueStatusChanged(ctx context.Context, event events.Event) error {
	n.logger.Info("IssueStatusChanged", zap.String("issue_id", event.IssueID), zap.Any("payload", event.Payload))
	n.sendWebhook(ctx, event)
	return nil
}

func (n *NotificationService) handleIssueClosed(ctx context.Context, event events.Event) error {
	n.logger.Info("IssueClosed", zap.String("issue_id", event.IssueID), zap.Any("payload", event.Payload))
	n.sendEmail(ctx, event)
	n.sendWebhook(ctx, event)
	return nil
}

func (n *NotificationService) handleIssueDeleted(ctx context.Context, event events.Event) error {
	n.logger.Info("IssueDeleted", zap.String("issue_id", event.IssueID))
	n.sendWebhook(ctx, event)
	return nil
}

func (n *NotificationService) handleRewardCredited(ctx context.Context, event events.Event) error {
	n.logger.Debug("RewardCredited", zap.Any("payload", event.Payload))
	n.sendEmail(ctx, event)
	return nil
}

func (n *NotificationService) sendEmail(_ context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.EmailFrom) == "" {
		return
	}
	n.logger.Debug("sendEmailNotificationStub",
		zap.String("from", n.cfg.EmailFrom),
		zap.String("issue_id", event.IssueID),
		zap.String("event_type", string(event.Type)))
}

func (n *NotificationService) sendWebhook(_ context.Context, event events.Event) {
	if strings.TrimSpace(n.cfg.WebhookURL) == "" {
		return
	}
	n.logger.Debug("sendWebhookNotificationStub",
		zap.String("url", n.cfg.WebhookURL),
		zap.String("issue_id", event.IssueID),
		zap.String("event_type", string(event.Type)))
}
