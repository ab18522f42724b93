package pub

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"savings-service/internal/domain"
	"savings-service/internal/usecase/group"

	"github.com/segmentio/kafka-go"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []*domain.Event
	err    error
}

func (p *recordingPublisher) Publish(ctx context.Context, e *domain.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, e)
	return nil
}

type fakeWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

type fakeChannel struct {
	channel  string
	payloads [][]byte
}

func (c *fakeChannel) Publish(ctx context.Context, channel string, payload []byte) error {
	c.channel = channel
	c.payloads = append(c.payloads, payload)
	return nil
}

type fakeUserNotifier struct {
	got map[string][]domain.EventType
}

func (n *fakeUserNotifier) NotifyEvent(userID string, e *domain.Event) {
	if n.got == nil {
		n.got = map[string][]domain.EventType{}
	}
	n.got[userID] = append(n.got[userID], e.Type)
}

func view(derived string) *group.BalanceView {
	d := decimal.RequireFromString(derived)
	target := decimal.NewFromInt(100)
	g := &domain.Group{Target: target}
	return &group.BalanceView{
		GroupID:    "g1",
		Name:       "Trip",
		Target:     target,
		Derived:    d,
		Progress:   domain.Progress(g, d),
		Milestones: domain.CheckMilestones(g, d),
		MemberIDs:  []string{"m1", "m2"},
	}
}

func TestMilestoneNotifierFiresOnce(t *testing.T) {
	rec := &recordingPublisher{}
	n := NewMilestoneNotifier(rec, NewMemoryDeduper(), zap.NewNop())
	ctx := context.Background()

	require.NoError(t, n.Notify(ctx, view("30")))
	assert.Empty(t, rec.events)

	require.NoError(t, n.Notify(ctx, view("50")))
	require.NoError(t, n.Notify(ctx, view("70")))
	require.Len(t, rec.events, 1)
	assert.Equal(t, domain.EventGroupMilestone50, rec.events[0].Type)
	assert.Equal(t, "g1", rec.events[0].GroupID)
	assert.Equal(t, []string{"m1", "m2"}, rec.events[0].Metadata[RecipientsKey])

	require.NoError(t, n.Notify(ctx, view("100")))
	require.NoError(t, n.Notify(ctx, view("100")))
	require.Len(t, rec.events, 2)
	assert.Equal(t, domain.EventGroupMilestone100, rec.events[1].Type)
}

func TestMilestoneNotifierRearmsBelowThreshold(t *testing.T) {
	rec := &recordingPublisher{}
	n := NewMilestoneNotifier(rec, NewMemoryDeduper(), zap.NewNop())
	ctx := context.Background()

	for _, derived := range []string{"60", "40", "55", "80", "45", "50"} {
		require.NoError(t, n.Notify(ctx, view(derived)))
	}
	require.Len(t, rec.events, 3)
	for _, e := range rec.events {
		assert.Equal(t, domain.EventGroupMilestone50, e.Type)
	}
}

func TestMilestoneNotifierRetriesAfterPublishFailure(t *testing.T) {
	rec := &recordingPublisher{err: errors.New("broker down")}
	n := NewMilestoneNotifier(rec, NewMemoryDeduper(), zap.NewNop())
	ctx := context.Background()

	assert.Error(t, n.Notify(ctx, view("55")))

	rec.err = nil
	require.NoError(t, n.Notify(ctx, view("55")))
	assert.Len(t, rec.events, 1)
}

func TestMultiJoinsErrors(t *testing.T) {
	ok := &recordingPublisher{}
	bad := &recordingPublisher{err: errors.New("nope")}

	err := Multi{bad, ok}.Publish(context.Background(), &domain.Event{Type: domain.EventWalletDeposit})
	assert.Error(t, err)
	assert.Len(t, ok.events, 1)

	assert.NoError(t, Multi{ok}.Publish(context.Background(), &domain.Event{}))
}

func TestKafkaPublisherKeysByStream(t *testing.T) {
	w := &fakeWriter{}
	p := NewKafkaPublisher(w, zap.NewNop())
	at := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, p.Publish(context.Background(), &domain.Event{ID: "e1", Type: domain.EventGroupContribution, UserID: "u1", GroupID: "g1", OccurredAt: at}))
	require.NoError(t, p.Publish(context.Background(), &domain.Event{ID: "e2", Type: domain.EventWalletDeposit, UserID: "u1", OccurredAt: at}))

	require.Len(t, w.msgs, 2)
	assert.Equal(t, "g1", string(w.msgs[0].Key))
	assert.Equal(t, "u1", string(w.msgs[1].Key))
	assert.Equal(t, "event_type", w.msgs[0].Headers[0].Key)

	var decoded domain.Event
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &decoded))
	assert.Equal(t, "e2", decoded.ID)

	w.err = errors.New("leader not available")
	assert.Error(t, p.Publish(context.Background(), &domain.Event{ID: "e3"}))
}

func TestRedisPublisher(t *testing.T) {
	ch := &fakeChannel{}
	p := NewRedisPublisher(ch, "savings:events", zap.NewNop())

	require.NoError(t, p.Publish(context.Background(), &domain.Event{ID: "e1", Type: domain.EventLowBalance}))
	assert.Equal(t, "savings:events", ch.channel)
	assert.Contains(t, string(ch.payloads[0]), `"wallet.low_balance"`)
}

func TestWSPublisherReachesRecipients(t *testing.T) {
	n := &fakeUserNotifier{}
	p := NewWSPublisher(n)

	require.NoError(t, p.Publish(context.Background(), &domain.Event{
		Type:     domain.EventGroupMilestone50,
		UserID:   "m1",
		Metadata: map[string]interface{}{RecipientsKey: []string{"m1", "m2"}},
	}))

	assert.Len(t, n.got["m1"], 1)
	assert.Len(t, n.got["m2"], 1)
}
