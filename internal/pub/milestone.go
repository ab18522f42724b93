package pub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"savings-service/internal/domain"
	"savings-service/internal/usecase/group"
	"savings-service/pkg/utils"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

var milestonesFired = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Name: "savings_group_milestones_total",
		Help: "Group milestone notifications emitted",
	},
	[]string{"milestone"},
)

// Deduper remembers which notifications were already sent.
type Deduper interface {
	// MarkOnce reports true the first time key is marked.
	MarkOnce(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

type MemoryDeduper struct {
	mu   sync.Mutex
	seen map[string]bool
}

func NewMemoryDeduper() *MemoryDeduper {
	return &MemoryDeduper{seen: make(map[string]bool)}
}

func (d *MemoryDeduper) MarkOnce(ctx context.Context, key string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[key] {
		return false, nil
	}
	d.seen[key] = true
	return true, nil
}

func (d *MemoryDeduper) Forget(ctx context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, key)
	return nil
}

type onceStore interface {
	SetOnce(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Delete(ctx context.Context, key string) error
}

// RedisDeduper shares notification marks across instances.
type RedisDeduper struct {
	store onceStore
	ttl   time.Duration
}

func NewRedisDeduper(store onceStore, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{store: store, ttl: ttl}
}

func (d *RedisDeduper) MarkOnce(ctx context.Context, key string) (bool, error) {
	return d.store.SetOnce(ctx, "notified:"+key, d.ttl)
}

func (d *RedisDeduper) Forget(ctx context.Context, key string) error {
	return d.store.Delete(ctx, "notified:"+key)
}

// MilestoneNotifier turns milestone flags into notifications. Each crossing
// of a threshold is announced once; the mark clears when the group falls
// back below it.
type MilestoneNotifier struct {
	publisher Publisher
	dedupe    Deduper
	logger    *zap.Logger
	now       func() time.Time
}

func NewMilestoneNotifier(p Publisher, d Deduper, logger *zap.Logger) *MilestoneNotifier {
	return &MilestoneNotifier{publisher: p, dedupe: d, logger: logger, now: time.Now}
}

func milestoneKey(groupID string, pct int) string {
	return fmt.Sprintf("milestone:%s:%d", groupID, pct)
}

// Notify fires the milestones v has reached and not yet announced, and
// re-arms those it is below. The caller serializes calls per group.
func (n *MilestoneNotifier) Notify(ctx context.Context, v *group.BalanceView) error {
	type pending struct {
		reached bool
		pct     int
		typ     domain.EventType
	}
	checks := []pending{
		{v.Milestones.ReachedFifty, 50, domain.EventGroupMilestone50},
		{v.Milestones.ReachedFull, 100, domain.EventGroupMilestone100},
	}

	for _, c := range checks {
		key := milestoneKey(v.GroupID, c.pct)
		if !c.reached {
			// Below the threshold again: the next crossing is announced.
			if err := n.dedupe.Forget(ctx, key); err != nil {
				return fmt.Errorf("milestone rearm: %w", err)
			}
			continue
		}
		first, err := n.dedupe.MarkOnce(ctx, key)
		if err != nil {
			return fmt.Errorf("milestone dedupe: %w", err)
		}
		if !first {
			continue
		}

		derived := v.Derived
		e := &domain.Event{
			ID:         utils.GenerateTxID("evt"),
			Type:       c.typ,
			GroupID:    v.GroupID,
			Amount:     &derived,
			OccurredAt: n.now().UTC(),
			Metadata: map[string]interface{}{
				"group_name":  v.Name,
				"target":      v.Target.String(),
				"progress":    v.Progress.String(),
				RecipientsKey: v.MemberIDs,
			},
		}
		if err := n.publisher.Publish(ctx, e); err != nil {
			if ferr := n.dedupe.Forget(ctx, key); ferr != nil {
				n.logger.Warn("failed to clear milestone mark", zap.String("key", key), zap.Error(ferr))
			}
			return fmt.Errorf("publish milestone: %w", err)
		}

		milestonesFired.WithLabelValues(fmt.Sprintf("%d", c.pct)).Inc()
		n.logger.Info("group milestone reached",
			zap.String("group_id", v.GroupID),
			zap.Int("milestone", c.pct),
			zap.String("derived", v.Derived.String()))
	}
	return nil
}
