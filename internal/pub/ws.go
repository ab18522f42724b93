package pub

import (
	"context"

	"savings-service/internal/domain"
)

type UserNotifier interface {
	NotifyEvent(userID string, e *domain.Event)
}

// RecipientsKey lists extra users an event should be pushed to.
const RecipientsKey = "recipients"

// WSPublisher pushes events to the connected users they concern.
type WSPublisher struct {
	notifier UserNotifier
}

func NewWSPublisher(n UserNotifier) *WSPublisher {
	return &WSPublisher{notifier: n}
}

func (p *WSPublisher) Publish(ctx context.Context, e *domain.Event) error {
	sent := make(map[string]bool)
	if e.UserID != "" {
		p.notifier.NotifyEvent(e.UserID, e)
		sent[e.UserID] = true
	}
	if ids, ok := e.Metadata[RecipientsKey].([]string); ok {
		for _, id := range ids {
			if !sent[id] {
				p.notifier.NotifyEvent(id, e)
				sent[id] = true
			}
		}
	}
	return nil
}
