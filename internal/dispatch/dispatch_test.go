package dispatch

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/pkg/kafka"
)

type fakePublisher struct {
	mu       sync.Mutex
	events   []*Event
	failures atomic.Int32 // remaining failures before success
	attempts atomic.Int32
	block    chan struct{}
}

func (p *fakePublisher) Publish(ctx context.Context, e *Event) error {
	p.attempts.Add(1)
	if p.block != nil {
		<-p.block
	}
	if p.failures.Load() > 0 {
		p.failures.Add(-1)
		return errors.New("broker unavailable")
	}
	p.mu.Lock()
	p.events = append(p.events, e)
	p.mu.Unlock()
	return nil
}

func (p *fakePublisher) delivered() []*Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Event, len(p.events))
	copy(out, p.events)
	return out
}

var fixedNow = time.Date(2024, 6, 1, 15, 30, 0, 0, time.UTC)

func newTestQueue(pub Publisher, cfg QueueConfig) *Queue {
	if cfg.Backoff == 0 {
		cfg.Backoff = time.Millisecond
	}
	if cfg.MaxBackoff == 0 {
		cfg.MaxBackoff = 4 * time.Millisecond
	}
	cfg.Clock = func() time.Time { return fixedNow }
	return NewQueue(cfg, pub, nil)
}

func TestQueue_DeliversEvents(t *testing.T) {
	pub := &fakePublisher{}
	q := newTestQueue(pub, QueueConfig{MaxRetries: 2})

	ctx := context.Background()
	require.NoError(t, q.RecomputeSnapshot(ctx, "acme", 3, time.Time{}))
	require.NoError(t, q.NotifyAssignment(ctx, "acme", "u2", 9))
	require.NoError(t, q.NotifyStatusChange(ctx, "acme", 9, domain.StatusOpen, domain.StatusInProgress))
	require.NoError(t, q.Close(ctx))

	got := pub.delivered()
	require.Len(t, got, 3)

	assert.Equal(t, EventRecomputeSnapshot, got[0].Type)
	assert.Equal(t, int64(3), got[0].ProjectID)
	assert.Equal(t, "2024-06-01", got[0].Date)

	assert.Equal(t, EventNotifyAssignment, got[1].Type)
	assert.Equal(t, "u2", got[1].UserID)

	assert.Equal(t, EventNotifyStatusChange, got[2].Type)
	assert.Equal(t, "OPEN", got[2].OldStatus)
	assert.Equal(t, "IN_PROGRESS", got[2].NewStatus)
	assert.NotEmpty(t, got[2].ID)
}

func TestQueue_RetriesWithBackoff(t *testing.T) {
	pub := &fakePublisher{}
	pub.failures.Store(2)
	q := newTestQueue(pub, QueueConfig{MaxRetries: 3})

	require.NoError(t, q.NotifyAssignment(context.Background(), "acme", "u1", 1))
	require.NoError(t, q.Close(context.Background()))

	assert.Equal(t, int32(3), pub.attempts.Load())
	assert.Len(t, pub.delivered(), 1)
}

func TestQueue_GivesUpAfterMaxRetries(t *testing.T) {
	pub := &fakePublisher{}
	pub.failures.Store(100)
	q := newTestQueue(pub, QueueConfig{MaxRetries: 2})

	require.NoError(t, q.NotifyAssignment(context.Background(), "acme", "u1", 1))
	require.NoError(t, q.Close(context.Background()))

	assert.Equal(t, int32(3), pub.attempts.Load(), "one attempt plus two retries")
	assert.Empty(t, pub.delivered())
}

func TestQueue_FullBuffer(t *testing.T) {
	pub := &fakePublisher{block: make(chan struct{})}
	q := newTestQueue(pub, QueueConfig{BufferSize: 1})
	ctx := context.Background()

	// first event is taken by the blocked worker, second fills the buffer
	require.NoError(t, q.NotifyAssignment(ctx, "acme", "u1", 1))
	require.Eventually(t, func() bool { return pub.attempts.Load() == 1 }, time.Second, time.Millisecond)
	require.NoError(t, q.NotifyAssignment(ctx, "acme", "u1", 2))

	err := q.NotifyAssignment(ctx, "acme", "u1", 3)
	assert.ErrorIs(t, err, ErrQueueFull)

	close(pub.block)
	require.NoError(t, q.Close(ctx))
	assert.Len(t, pub.delivered(), 2)
}

func TestQueue_ClosedRejects(t *testing.T) {
	q := newTestQueue(&fakePublisher{}, QueueConfig{})
	require.NoError(t, q.Close(context.Background()))
	require.NoError(t, q.Close(context.Background()), "close is idempotent")

	err := q.RecomputeSnapshot(context.Background(), "acme", 1, fixedNow)
	assert.ErrorIs(t, err, ErrQueueClosed)
}

func TestQueue_CloseDeadlineAbandonsRetries(t *testing.T) {
	pub := &fakePublisher{}
	pub.failures.Store(1000)
	q := NewQueue(QueueConfig{MaxRetries: 1000, Backoff: 50 * time.Millisecond, MaxBackoff: 50 * time.Millisecond}, pub, nil)

	require.NoError(t, q.NotifyAssignment(context.Background(), "acme", "u1", 1))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type recordingProducer struct {
	msgs []kafka.Message
	err  error
}

func (p *recordingProducer) Publish(_ context.Context, msg kafka.Message) error {
	if p.err != nil {
		return p.err
	}
	p.msgs = append(p.msgs, msg)
	return nil
}

func TestKafkaPublisher(t *testing.T) {
	prod := &recordingProducer{}
	pub := NewKafkaPublisher(prod, "analytics", "notifications")
	ctx := context.Background()

	recompute := newEvent(EventRecomputeSnapshot, "acme", fixedNow)
	recompute.ProjectID = 4
	recompute.Date = "2024-06-01"
	require.NoError(t, pub.Publish(ctx, recompute))

	notify := newEvent(EventNotifyStatusChange, "acme", fixedNow)
	require.NoError(t, pub.Publish(ctx, notify))

	require.Len(t, prod.msgs, 2)
	assert.Equal(t, "analytics", prod.msgs[0].Topic)
	assert.Equal(t, []byte("acme"), prod.msgs[0].Key)
	assert.Equal(t, string(EventRecomputeSnapshot), prod.msgs[0].Headers["event_type"])
	assert.Equal(t, "notifications", prod.msgs[1].Topic)

	decoded, err := DecodeEvent(prod.msgs[0].Value)
	require.NoError(t, err)
	assert.Equal(t, recompute.ID, decoded.ID)
	day, err := decoded.Day()
	require.NoError(t, err)
	assert.Equal(t, domain.Day(fixedNow), day)

	err = pub.Publish(ctx, &Event{Type: "bogus", TenantID: "acme"})
	assert.Error(t, err)
}

func TestDecodeEvent_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: "nope"},
		{name: "missing type", input: `{"tenant_id":"a"}`},
		{name: "missing tenant", input: `{"type":"analytics.recompute_snapshot"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeEvent([]byte(tt.input))
			assert.Error(t, err)
		})
	}
}
