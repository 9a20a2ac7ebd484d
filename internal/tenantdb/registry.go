// Package tenantdb resolves tenant identifiers to live storage handles.
package tenantdb

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/prohmpiriya/taskflow/internal/directory"
	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/store"
	"github.com/prohmpiriya/taskflow/pkg/logger"
	"github.com/prohmpiriya/taskflow/pkg/telemetry"
)

// Handle is a resolved tenant storage handle. It is immutable and safe to
// share between concurrent operations of the same tenant.
type Handle struct {
	tenantID string
	store    store.Store
}

// NewHandle binds a store to a tenant
func NewHandle(tenantID string, s store.Store) *Handle {
	return &Handle{tenantID: tenantID, store: s}
}

// TenantID returns the tenant the handle was resolved for
func (h *Handle) TenantID() string {
	return h.tenantID
}

// Store returns the tenant's store
func (h *Handle) Store() store.Store {
	return h.store
}

// Connector opens the store described by a storage record
type Connector interface {
	Connect(ctx context.Context, rec *domain.StorageRecord) (store.Store, error)
}

// ConnectorFunc adapts a function to Connector
type ConnectorFunc func(ctx context.Context, rec *domain.StorageRecord) (store.Store, error)

// Connect implements Connector
func (f ConnectorFunc) Connect(ctx context.Context, rec *domain.StorageRecord) (store.Store, error) {
	return f(ctx, rec)
}

// Registry caches one handle per tenant per process
type Registry struct {
	dir       directory.Directory
	connector Connector
	log       *logger.Logger

	mu      sync.RWMutex
	handles map[string]*Handle
	group   singleflight.Group

	metrics *registryMetrics
}

type registryMetrics struct {
	resolutions *telemetry.Counter
	cacheHits   *telemetry.Counter
	connectTime *telemetry.Histogram
	open        *telemetry.UpDownCounter
}

// NewRegistry creates a registry
func NewRegistry(dir directory.Directory, connector Connector, log *logger.Logger) *Registry {
	if log == nil {
		log = logger.Nop()
	}
	r := &Registry{
		dir:       dir,
		connector: connector,
		log:       log,
		handles:   make(map[string]*Handle),
	}
	r.metrics = newRegistryMetrics()
	return r
}

func newRegistryMetrics() *registryMetrics {
	m := &registryMetrics{}
	m.resolutions, _ = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "tenant_resolutions_total",
		Description: "Tenant handle resolutions by outcome",
	})
	m.cacheHits, _ = telemetry.NewCounter(telemetry.MetricOpts{
		Name:        "tenant_cache_hits_total",
		Description: "Tenant handle cache hits",
	})
	m.connectTime, _ = telemetry.NewHistogram(telemetry.MetricOpts{
		Name:        "tenant_connect_duration_seconds",
		Description: "Time spent opening a tenant database",
		Unit:        "s",
	})
	m.open, _ = telemetry.NewUpDownCounter(telemetry.MetricOpts{
		Name:        "tenant_handles_open",
		Description: "Cached tenant handles",
	})
	return m
}

// Resolve returns the handle of an active tenant. The directory is consulted
// on every call so deactivation takes effect immediately; the connection is
// established at most once concurrently per tenant and failures are not cached.
func (r *Registry) Resolve(ctx context.Context, tenantID string) (*Handle, error) {
	ctx, span := telemetry.StartSpan(ctx, "tenantdb.resolve")
	defer span.End()
	telemetry.SetSpanAttributes(ctx, telemetry.TenantIDAttr(tenantID))

	if tenantID == "" {
		return nil, domain.ErrTenantNotFound
	}

	if _, err := r.dir.GetActiveTenant(ctx, tenantID); err != nil {
		r.metrics.resolutions.Inc(ctx, telemetry.TenantIDAttr(tenantID), telemetry.OutcomeAttr("rejected"))
		return nil, err
	}

	if h := r.cached(tenantID); h != nil {
		r.metrics.cacheHits.Inc(ctx, telemetry.TenantIDAttr(tenantID))
		return h, nil
	}

	// The connect sequence is shared, so one caller's cancellation must not
	// fail the others
	ch := r.group.DoChan(tenantID, func() (any, error) {
		return r.connect(context.WithoutCancel(ctx), tenantID)
	})

	select {
	case <-ctx.Done():
		return nil, domain.StorageError(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			r.metrics.resolutions.Inc(ctx, telemetry.TenantIDAttr(tenantID), telemetry.OutcomeAttr("error"))
			telemetry.SetSpanError(ctx, res.Err)
			return nil, res.Err
		}
		r.metrics.resolutions.Inc(ctx, telemetry.TenantIDAttr(tenantID), telemetry.OutcomeAttr("connected"))
		return res.Val.(*Handle), nil
	}
}

func (r *Registry) cached(tenantID string) *Handle {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.handles[tenantID]
}

func (r *Registry) connect(ctx context.Context, tenantID string) (*Handle, error) {
	// A concurrent flight may have finished between the cache miss and here
	if h := r.cached(tenantID); h != nil {
		return h, nil
	}

	rec, err := r.dir.GetStorageRecord(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	s, err := r.connector.Connect(ctx, rec)
	r.metrics.connectTime.Record(ctx, time.Since(start).Seconds(), telemetry.TenantIDAttr(tenantID))
	if err != nil {
		r.log.Warn("tenant database connect failed",
			zap.String("tenant_id", tenantID),
			zap.String("target", rec.String()),
			zap.Error(err),
		)
		if errors.Is(err, domain.ErrStorageUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}

	h := NewHandle(tenantID, s)

	r.mu.Lock()
	r.handles[tenantID] = h
	r.mu.Unlock()
	r.metrics.open.Inc(ctx)

	r.log.Info("tenant database connected",
		zap.String("tenant_id", tenantID),
		zap.String("target", rec.String()),
	)
	return h, nil
}

// Invalidate drops and closes the cached handle of a tenant
func (r *Registry) Invalidate(tenantID string) {
	r.mu.Lock()
	h, ok := r.handles[tenantID]
	delete(r.handles, tenantID)
	r.mu.Unlock()

	if ok {
		h.store.Close()
		r.metrics.open.Dec(context.Background())
	}
}

// Len returns the number of cached handles
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.handles)
}

// Close closes every cached handle
func (r *Registry) Close() {
	r.mu.Lock()
	handles := r.handles
	r.handles = make(map[string]*Handle)
	r.mu.Unlock()

	for _, h := range handles {
		h.store.Close()
		r.metrics.open.Dec(context.Background())
	}
}
