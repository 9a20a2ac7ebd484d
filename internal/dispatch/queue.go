package dispatch

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/pkg/logger"
	"github.com/prohmpiriya/taskflow/pkg/telemetry"
)

var (
	ErrQueueFull   = errors.New("dispatch queue is full")
	ErrQueueClosed = errors.New("dispatch queue is closed")
)

// QueueConfig holds configuration for the dispatch queue
type QueueConfig struct {
	// BufferSize is the number of events held before Enqueue fails (default: 1000)
	BufferSize int
	// MaxRetries is the number of redeliveries after the first attempt (default: 5)
	MaxRetries int
	// Backoff is the delay before the first retry, doubled each time (default: 100ms)
	Backoff time.Duration
	// MaxBackoff caps the retry delay (default: 5s)
	MaxBackoff time.Duration
	// Clock is used for event timestamps (default: time.Now)
	Clock func() time.Time
}

// Queue is an asynchronous Dispatcher. Events are buffered and delivered by a
// single background worker with bounded exponential backoff.
type Queue struct {
	cfg       QueueConfig
	publisher Publisher
	log       *logger.Logger

	buffer chan *Event
	mu     sync.RWMutex
	closed bool

	wg        sync.WaitGroup
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once

	delivered *telemetry.Counter
	failed    *telemetry.Counter
	dropped   *telemetry.Counter
}

// NewQueue creates a queue and starts its worker
func NewQueue(cfg QueueConfig, publisher Publisher, log *logger.Logger) *Queue {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1000
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = 100 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	q := &Queue{
		cfg:       cfg,
		publisher: publisher,
		log:       log,
		buffer:    make(chan *Event, cfg.BufferSize),
		ctx:       ctx,
		cancel:    cancel,
	}

	q.delivered, _ = telemetry.NewCounter(telemetry.MetricOpts{Name: "dispatch_delivered_total", Description: "Events delivered"})
	q.failed, _ = telemetry.NewCounter(telemetry.MetricOpts{Name: "dispatch_failed_total", Description: "Events abandoned after retries"})
	q.dropped, _ = telemetry.NewCounter(telemetry.MetricOpts{Name: "dispatch_dropped_total", Description: "Events rejected by a full queue"})
	_ = telemetry.NewGaugeWithCallback(telemetry.MetricOpts{Name: "dispatch_queue_depth", Description: "Buffered events"},
		func() int64 { return int64(q.Len()) })

	q.wg.Add(1)
	go q.worker()

	return q
}

// RecomputeSnapshot implements Dispatcher
func (q *Queue) RecomputeSnapshot(ctx context.Context, tenantID string, projectID int64, date time.Time) error {
	e := newEvent(EventRecomputeSnapshot, tenantID, q.cfg.Clock())
	e.ProjectID = projectID
	if date.IsZero() {
		date = e.OccurredAt
	}
	e.Date = domain.Day(date).Format(dateLayout)
	return q.Enqueue(ctx, e)
}

// NotifyAssignment implements Dispatcher
func (q *Queue) NotifyAssignment(ctx context.Context, tenantID, userID string, taskID int64) error {
	e := newEvent(EventNotifyAssignment, tenantID, q.cfg.Clock())
	e.UserID = userID
	e.TaskID = taskID
	return q.Enqueue(ctx, e)
}

// NotifyStatusChange implements Dispatcher
func (q *Queue) NotifyStatusChange(ctx context.Context, tenantID string, taskID int64, oldStatus, newStatus domain.Status) error {
	e := newEvent(EventNotifyStatusChange, tenantID, q.cfg.Clock())
	e.TaskID = taskID
	e.OldStatus = string(oldStatus)
	e.NewStatus = string(newStatus)
	return q.Enqueue(ctx, e)
}

// Enqueue adds an event to the buffer without blocking
func (q *Queue) Enqueue(ctx context.Context, e *Event) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrQueueClosed
	}

	select {
	case q.buffer <- e:
		return nil
	default:
		q.dropped.Inc(ctx, telemetry.TenantIDAttr(e.TenantID))
		return ErrQueueFull
	}
}

// Len returns the number of buffered events
func (q *Queue) Len() int {
	return len(q.buffer)
}

// Close stops accepting events and waits for buffered events to be
// delivered. When ctx expires first, pending retries are abandoned.
func (q *Queue) Close(ctx context.Context) error {
	var err error
	q.closeOnce.Do(func() {
		q.mu.Lock()
		q.closed = true
		close(q.buffer)
		q.mu.Unlock()

		done := make(chan struct{})
		go func() {
			q.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
		case <-ctx.Done():
			q.cancel()
			<-done
			err = ctx.Err()
		}
		q.cancel()
	})
	return err
}

// worker delivers events in the background
func (q *Queue) worker() {
	defer q.wg.Done()

	for e := range q.buffer {
		q.deliver(e)
	}
}

func (q *Queue) deliver(e *Event) {
	backoff := q.cfg.Backoff
	var lastErr error

	for attempt := 0; attempt <= q.cfg.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-q.ctx.Done():
				q.abandon(e, attempt, lastErr)
				return
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > q.cfg.MaxBackoff {
				backoff = q.cfg.MaxBackoff
			}
		}

		if lastErr = q.publisher.Publish(q.ctx, e); lastErr == nil {
			q.delivered.Inc(q.ctx, telemetry.OperationAttr(string(e.Type)))
			return
		}

		q.log.Debug("dispatch attempt failed",
			zap.String("event_id", e.ID),
			zap.String("event_type", string(e.Type)),
			zap.Int("attempt", attempt+1),
			zap.Error(lastErr),
		)
	}

	q.abandon(e, q.cfg.MaxRetries+1, lastErr)
}

func (q *Queue) abandon(e *Event, attempts int, err error) {
	q.failed.Inc(context.Background(), telemetry.OperationAttr(string(e.Type)))
	q.log.Warn("dispatch event abandoned",
		zap.String("event_id", e.ID),
		zap.String("event_type", string(e.Type)),
		zap.String("tenant_id", e.TenantID),
		zap.Int("attempts", attempts),
		zap.Error(err),
	)
}
