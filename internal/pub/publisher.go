package pub

import (
	"context"
	"errors"

	"savings-service/internal/domain"

	"go.uber.org/zap"
)

// Publisher hands committed-state events to a delivery system.
type Publisher interface {
	Publish(ctx context.Context, e *domain.Event) error
}

// Multi fans an event out to every publisher and joins their errors.
type Multi []Publisher

func (m Multi) Publish(ctx context.Context, e *domain.Event) error {
	var errs []error
	for _, p := range m {
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// LogPublisher writes events to the log. It is used when no broker is set up.
type LogPublisher struct {
	logger *zap.Logger
}

func NewLogPublisher(logger *zap.Logger) *LogPublisher {
	return &LogPublisher{logger: logger}
}

func (p *LogPublisher) Publish(ctx context.Context, e *domain.Event) error {
	p.logger.Info("event",
		zap.String("id", e.ID),
		zap.String("type", string(e.Type)),
		zap.String("user_id", e.UserID),
		zap.String("group_id", e.GroupID),
		zap.String("transaction_id", e.TransactionID))
	return nil
}
