package analytics

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/pkg/kafka"
	"github.com/prohmpiriya/taskflow/pkg/logger"
)

// RecordSource is a consumer group. *kafka.Consumer satisfies it.
type RecordSource interface {
	Run(ctx context.Context, handle kafka.Handler) error
}

// RetryConfig bounds how often a record failing with a transient storage
// error is handled again before its offset is committed
type RetryConfig struct {
	// MaxRetries is the number of attempts after the first (default: 3,
	// negative disables retries)
	MaxRetries int
	// Backoff is the delay before the first retry, doubled each time (default: 200ms)
	Backoff time.Duration
	// MaxBackoff caps the retry delay (default: 5s)
	MaxBackoff time.Duration
}

// Worker feeds recompute records from Kafka into a Service. Each record is
// processed under its own tenant context.
type Worker struct {
	source RecordSource
	svc    *Service
	log    *logger.Logger
	retry  RetryConfig
}

// NewWorker creates a worker. Errors left after retrying are reported by the
// consumer's OnError hook.
func NewWorker(source RecordSource, svc *Service, log *logger.Logger) *Worker {
	if log == nil {
		log = logger.Nop()
	}
	return &Worker{source: source, svc: svc, log: log, retry: RetryConfig{}.withDefaults()}
}

// WithRetry replaces the retry policy
func (w *Worker) WithRetry(cfg RetryConfig) *Worker {
	w.retry = cfg.withDefaults()
	return w
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	} else if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.Backoff <= 0 {
		c.Backoff = 200 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 5 * time.Second
	}
	return c
}

// Run blocks until ctx is cancelled
func (w *Worker) Run(ctx context.Context) error {
	w.log.Info("analytics worker started")
	err := w.source.Run(ctx, w.handle)
	w.log.Info("analytics worker stopped", zap.Error(err))
	return err
}

// handle retries transient failures so the record is not committed while the
// tenant's storage is briefly unavailable
func (w *Worker) handle(ctx context.Context, rec kafka.Record) error {
	backoff := w.retry.Backoff
	for attempt := 0; ; attempt++ {
		err := w.svc.HandleRecord(ctx, rec)
		if err == nil || !IsTransient(err) || attempt >= w.retry.MaxRetries {
			return err
		}

		w.log.Debug("analytics record failed, retrying",
			zap.Int64("offset", rec.Offset),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", backoff),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.retry.MaxBackoff {
			backoff = w.retry.MaxBackoff
		}
	}
}

// IsTransient reports whether err may succeed when tried again
func IsTransient(err error) bool {
	return errors.Is(err, domain.ErrStorageUnavailable) || errors.Is(err, domain.ErrStorageTimeout)
}

// LogErrors returns an OnError hook for kafka.Consumer
func LogErrors(log *logger.Logger) func(rec kafka.Record, err error) {
	return func(rec kafka.Record, err error) {
		log.Warn("analytics record failed",
			zap.String("topic", rec.Topic),
			zap.Int32("partition", rec.Partition),
			zap.Int64("offset", rec.Offset),
			zap.String("tenant_id", rec.Headers["tenant_id"]),
			zap.Error(err),
		)
	}
}
