// Package lifecycle implements task and project operations on a resolved
// tenant handle.
package lifecycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/prohmpiriya/taskflow/internal/activity"
	"github.com/prohmpiriya/taskflow/internal/dispatch"
	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/permission"
	"github.com/prohmpiriya/taskflow/internal/store"
	"github.com/prohmpiriya/taskflow/internal/tenantdb"
	"github.com/prohmpiriya/taskflow/pkg/logger"
	"github.com/prohmpiriya/taskflow/pkg/telemetry"
)

// Config holds engine settings
type Config struct {
	// OperationTimeout bounds every storage unit of work (0 disables)
	OperationTimeout time.Duration
	// Clock returns the current time (default: time.Now)
	Clock func() time.Time
}

// Engine applies task lifecycle rules. It holds no tenant state; every
// operation receives the handle it works on.
type Engine struct {
	perms      permission.Checker
	dispatcher dispatch.Dispatcher
	writer     *activity.Writer
	timeout    time.Duration
	now        func() time.Time
	log        *logger.Logger

	operations  *telemetry.Counter
	transitions *telemetry.Counter
	duration    *telemetry.Histogram
	dispatchErr *telemetry.Counter
}

// NewEngine creates an engine
func NewEngine(cfg Config, perms permission.Checker, dispatcher dispatch.Dispatcher, log *logger.Logger) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if perms == nil {
		perms = permission.DefaultRoleTable()
	}
	if log == nil {
		log = logger.Nop()
	}

	e := &Engine{
		perms:      perms,
		dispatcher: dispatcher,
		writer:     activity.NewWriter(cfg.Clock),
		timeout:    cfg.OperationTimeout,
		now:        func() time.Time { return cfg.Clock().UTC() },
		log:        log,
	}

	e.operations, _ = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "task_operations_total",
		Description: "Lifecycle operations by outcome",
	})
	e.transitions, _ = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "task_transitions_total",
		Description: "Applied task status transitions",
	})
	e.duration, _ = telemetry.NewHistogram(telemetry.MetricOpts{
		Name:        "task_operation_duration_seconds",
		Description: "Lifecycle operation latency",
		Unit:        "s",
	})
	e.dispatchErr, _ = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "task_dispatch_errors_total",
		Description: "Outbound events that could not be queued",
	})
	return e
}

// begin starts the span and deadline of one operation. The returned finish
// func records the outcome.
func (e *Engine) begin(ctx context.Context, op string, h *tenantdb.Handle) (context.Context, func(*error)) {
	start := time.Now()
	ctx, span := telemetry.StartSpan(ctx, "lifecycle."+op)

	cancel := func() {}
	if e.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
	}
	if h != nil {
		telemetry.SetSpanAttributes(ctx, telemetry.TenantIDAttr(h.TenantID()), telemetry.OperationAttr(op))
	}

	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		outcome := outcomeOf(err)
		if err != nil && outcome == "error" {
			telemetry.SetSpanError(ctx, err)
		}
		e.operations.Inc(ctx, telemetry.OperationAttr(op), telemetry.OutcomeAttr(outcome))
		e.duration.Record(ctx, time.Since(start).Seconds(), telemetry.OperationAttr(op))
		cancel()
		span.End()
	}
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, domain.ErrPermissionDenied):
		return "denied"
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrInvalidTransition):
		return "rejected"
	case errors.Is(err, domain.ErrTaskNotFound), errors.Is(err, domain.ErrProjectNotFound), errors.Is(err, domain.ErrUserNotFound):
		return "not_found"
	case errors.Is(err, domain.ErrStorageTimeout):
		return "timeout"
	default:
		return "error"
	}
}

func storeOf(h *tenantdb.Handle) (store.Store, error) {
	if h == nil || h.Store() == nil {
		return nil, domain.ErrTenantNotFound
	}
	return h.Store(), nil
}

// authorize checks a capability. It runs before any lookup so a denial
// never reveals whether the target exists.
func (e *Engine) authorize(actor domain.Actor, capability permission.Capability) error {
	if !e.perms.HasCapability(actor, capability) {
		return domain.ErrPermissionDenied
	}
	return nil
}

// authenticated guards read operations
func authenticated(actor domain.Actor) error {
	if actor.ID == "" || actor.Role == "" {
		return domain.ErrPermissionDenied
	}
	return nil
}

// dispatch runs a best-effort outbound call. Failures are logged and counted
// but never returned.
func (e *Engine) dispatch(ctx context.Context, h *tenantdb.Handle, what string, fn func(ctx context.Context, d dispatch.Dispatcher, tenantID string) error) {
	if e.dispatcher == nil {
		return
	}
	ctx = context.WithoutCancel(ctx)
	if err := fn(ctx, e.dispatcher, h.TenantID()); err != nil {
		e.dispatchErr.Inc(ctx, telemetry.OperationAttr(what))
		e.log.WarnContext(ctx, "best-effort dispatch failed",
			zap.String("tenant_id", h.TenantID()),
			zap.String("event", what),
			zap.Error(err),
		)
	}
}
