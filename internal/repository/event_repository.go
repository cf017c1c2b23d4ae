package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventRepository publishes JSON encoded events over Redis pub/sub.
type EventRepository struct {
	client *redis.Client
	logger *zap.Logger
}

// NewEventRepository constructs an event repository.
func NewEventRepository(client *redis.Client, logger *zap.Logger) *EventRepository {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventRepository{client: client, logger: logger}
}

// Publish marshals the payload and publishes it on channel. It returns the
// number of subscribers that received the message.
func (r *EventRepository) Publish(ctx context.Context, channel string, payload interface{}) (int64, error) {
	if r.client == nil {
		return 0, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("marshal event for %s: %w", channel, err)
	}

	receivers, err := r.client.Publish(ctx, channel, raw).Result()
	if err != nil {
		return 0, fmt.Errorf("redis publish %s: %w", channel, err)
	}
	r.logger.Debug("event published", zap.String("channel", channel), zap.Int64("receivers", receivers))
	return receivers, nil
}
