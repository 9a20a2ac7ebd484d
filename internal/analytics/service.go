// Package analytics maintains daily per-project snapshots from recompute
// events emitted by the lifecycle engine.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/taskflow/internal/dispatch"
	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/tenantctx"
	"github.com/prohmpiriya/taskflow/internal/tenantdb"
	"github.com/prohmpiriya/taskflow/pkg/kafka"
	"github.com/prohmpiriya/taskflow/pkg/logger"
	"github.com/prohmpiriya/taskflow/pkg/telemetry"
)

// Resolver turns a tenant id into a handle. *tenantdb.Registry satisfies it.
type Resolver interface {
	Resolve(ctx context.Context, tenantID string) (*tenantdb.Handle, error)
}

// Config holds analytics settings
type Config struct {
	// TrackerTTL is how long a computation time is remembered (default: 10m)
	TrackerTTL time.Duration
	// Timeout bounds one recompute (default: 10s)
	Timeout time.Duration
	Clock   func() time.Time
}

// Service recomputes and serves snapshots
type Service struct {
	resolver Resolver
	tracker  Tracker
	cfg      Config
	log      *logger.Logger

	recomputes *telemetry.Counter
}

// NewService creates a service. A nil tracker disables de-duplication.
func NewService(cfg Config, resolver Resolver, tracker Tracker, log *logger.Logger) *Service {
	if cfg.TrackerTTL <= 0 {
		cfg.TrackerTTL = 10 * time.Minute
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}

	s := &Service{resolver: resolver, tracker: tracker, cfg: cfg, log: log}
	s.recomputes, _ = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "analytics_recomputes_total",
		Description: "Snapshot recomputations by outcome",
	})
	return s
}

// Recompute aggregates the project's current task state into the snapshot
// for day and stores it
func (s *Service) Recompute(ctx context.Context, h *tenantdb.Handle, projectID int64, day time.Time) (*domain.Snapshot, error) {
	if h == nil {
		return nil, domain.ErrTenantNotFound
	}
	ctx, span := telemetry.StartSpan(ctx, "analytics.recompute")
	defer span.End()
	telemetry.SetSpanAttributes(ctx, telemetry.TenantIDAttr(h.TenantID()), telemetry.ProjectIDAttr(projectID))
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	st := h.Store()
	snap, err := st.ComputeSnapshot(ctx, projectID, domain.Day(day))
	if err != nil {
		return nil, domain.StorageError(err)
	}
	snap.ComputedAt = s.cfg.Clock().UTC()
	if err := st.UpsertSnapshot(ctx, snap); err != nil {
		return nil, domain.StorageError(err)
	}

	if s.tracker != nil {
		key := trackerKey(h.TenantID(), projectID, snap.Date)
		if err := s.tracker.MarkComputed(ctx, key, snap.ComputedAt, s.cfg.TrackerTTL); err != nil {
			s.log.WarnContext(ctx, "failed to track snapshot computation", zap.String("key", key), zap.Error(err))
		}
	}
	return snap, nil
}

// GetSnapshot returns the stored snapshot, computing it when none exists yet
func (s *Service) GetSnapshot(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, projectID int64, day time.Time) (*domain.Snapshot, error) {
	if actor.ID == "" || actor.Role == "" {
		return nil, domain.ErrPermissionDenied
	}
	if h == nil {
		return nil, domain.ErrTenantNotFound
	}
	snap, err := h.Store().GetSnapshot(ctx, projectID, domain.Day(day))
	if err != nil {
		return nil, domain.StorageError(err)
	}
	if snap != nil {
		return snap, nil
	}
	return s.Recompute(ctx, h, projectID, day)
}

// HandleEvent processes one recompute event. Events already covered by a
// later computation are skipped.
func (s *Service) HandleEvent(ctx context.Context, e *dispatch.Event) error {
	if e.Type != dispatch.EventRecomputeSnapshot {
		return nil
	}
	day, err := e.Day()
	if err != nil {
		s.recomputes.Inc(ctx, telemetry.OutcomeAttr("invalid"))
		return fmt.Errorf("recompute event %s: %w", e.ID, err)
	}

	h, err := s.resolver.Resolve(ctx, e.TenantID)
	if err != nil {
		s.recomputes.Inc(ctx, telemetry.OutcomeAttr("unresolved"))
		return fmt.Errorf("resolve tenant %s: %w", e.TenantID, err)
	}
	ctx = tenantctx.WithHandle(ctx, h)

	if s.tracker != nil && !e.OccurredAt.IsZero() {
		last, ok, err := s.tracker.LastComputed(ctx, trackerKey(e.TenantID, e.ProjectID, day))
		if err != nil {
			s.log.WarnContext(ctx, "snapshot tracker unavailable", zap.Error(err))
		} else if ok && last.After(e.OccurredAt) {
			s.recomputes.Inc(ctx, telemetry.OutcomeAttr("skipped"))
			return nil
		}
	}

	if _, err := s.Recompute(ctx, h, e.ProjectID, day); err != nil {
		if errors.Is(err, domain.ErrProjectNotFound) {
			// Project deleted after the event was emitted
			s.recomputes.Inc(ctx, telemetry.OutcomeAttr("gone"))
			return nil
		}
		s.recomputes.Inc(ctx, telemetry.OutcomeAttr("error"))
		return err
	}
	s.recomputes.Inc(ctx, telemetry.OutcomeAttr("ok"))
	s.log.DebugContext(ctx, "snapshot recomputed",
		zap.Int64("project_id", e.ProjectID),
		zap.String("date", day.Format("2006-01-02")),
	)
	return nil
}

// HandleRecord is a kafka.Handler decoding and processing one record
func (s *Service) HandleRecord(ctx context.Context, rec kafka.Record) error {
	e, err := dispatch.DecodeEvent(rec.Value)
	if err != nil {
		s.recomputes.Inc(ctx, telemetry.OutcomeAttr("invalid"))
		return err
	}
	return s.HandleEvent(ctx, e)
}

// Publisher returns a dispatch.Publisher that handles recompute events in
// process. It is put behind a dispatch.Queue when no broker is configured, so
// recomputes stay off the request path and failures are retried by the queue.
// Notifications are logged.
func (s *Service) Publisher() dispatch.Publisher {
	return &localPublisher{svc: s, notifications: dispatch.NewLogPublisher(s.log)}
}

type localPublisher struct {
	svc           *Service
	notifications *dispatch.LogPublisher
}

func (p *localPublisher) Publish(ctx context.Context, e *dispatch.Event) error {
	if e.Type != dispatch.EventRecomputeSnapshot {
		return p.notifications.Publish(ctx, e)
	}
	return p.svc.HandleEvent(ctx, e)
}
