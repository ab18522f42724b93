package pub

import (
	"context"
	"encoding/json"
	"fmt"

	"savings-service/internal/domain"

	"go.uber.org/zap"
)

type channelPublisher interface {
	Publish(ctx context.Context, channel string, payload []byte) error
}

// RedisPublisher broadcasts events on a Redis pub/sub channel for in-cluster
// listeners such as the notification service.
type RedisPublisher struct {
	client  channelPublisher
	channel string
	logger  *zap.Logger
}

func NewRedisPublisher(client channelPublisher, channel string, logger *zap.Logger) *RedisPublisher {
	return &RedisPublisher{client: client, channel: channel, logger: logger}
}

func (p *RedisPublisher) Publish(ctx context.Context, e *domain.Event) error {
	payload, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.client.Publish(ctx, p.channel, payload); err != nil {
		eventsPublished.WithLabelValues("redis", "error").Inc()
		return fmt.Errorf("failed to publish event: %w", err)
	}

	eventsPublished.WithLabelValues("redis", "ok").Inc()
	p.logger.Debug("event published",
		zap.String("channel", p.channel),
		zap.String("type", string(e.Type)),
		zap.String("id", e.ID))
	return nil
}
