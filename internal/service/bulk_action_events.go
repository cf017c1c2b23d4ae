package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/seb-admin-api/internal/models"
)

// BulkActionCompletedEvent announces a finished bulk action.
type BulkActionCompletedEvent struct {
	Type        models.BulkActionType `json:"type"`
	SourceType  models.EntityType     `json:"source_type"`
	Sources     []models.EntityKey    `json:"sources"`
	Processed   int                   `json:"processed"`
	Failed      int                   `json:"failed"`
	PrincipalID string                `json:"principal_id,omitempty"`
	CompletedAt time.Time             `json:"completed_at"`
}

// BulkActionEventPublisher delivers bulk action events to other instances.
type BulkActionEventPublisher interface {
	PublishBulkActionCompleted(ctx context.Context, event BulkActionCompletedEvent) error
}

type eventPublisher interface {
	Publish(ctx context.Context, channel string, payload interface{}) (int64, error)
}

// RedisBulkActionEventPublisher publishes events over Redis pub/sub.
type RedisBulkActionEventPublisher struct {
	events  eventPublisher
	channel string
	logger  *zap.Logger
}

// NewRedisBulkActionEventPublisher constructs the publisher.
func NewRedisBulkActionEventPublisher(events eventPublisher, channel string, logger *zap.Logger) *RedisBulkActionEventPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RedisBulkActionEventPublisher{events: events, channel: channel, logger: logger}
}

// PublishBulkActionCompleted implements BulkActionEventPublisher.
func (p *RedisBulkActionEventPublisher) PublishBulkActionCompleted(ctx context.Context, event BulkActionCompletedEvent) error {
	receivers, err := p.events.Publish(ctx, p.channel, event)
	if err != nil {
		return err
	}
	p.logger.Sugar().Debugw("bulk action event published", "channel", p.channel, "receivers", receivers, "type", event.Type)
	return nil
}

// NopBulkActionEventPublisher discards events.
type NopBulkActionEventPublisher struct{}

// PublishBulkActionCompleted implements BulkActionEventPublisher.
func (NopBulkActionEventPublisher) PublishBulkActionCompleted(context.Context, BulkActionCompletedEvent) error {
	return nil
}
