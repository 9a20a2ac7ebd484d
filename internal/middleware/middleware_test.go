package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/store"
	"github.com/prohmpiriya/taskflow/internal/tenantdb"
	"github.com/prohmpiriya/taskflow/pkg/logger"
	pkgmw "github.com/prohmpiriya/taskflow/pkg/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubResolver map[string]error

func (r stubResolver) Resolve(_ context.Context, id string) (*tenantdb.Handle, error) {
	if err, ok := r[id]; ok && err != nil {
		return nil, err
	}
	if _, ok := r[id]; !ok {
		return nil, domain.ErrTenantNotFound
	}
	return tenantdb.NewHandle(id, store.NewMemoryStore()), nil
}

func withClaims(tenantID, userID, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set(pkgmw.ContextKeyTenantID, tenantID)
		c.Set(pkgmw.ContextKeyUserID, userID)
		c.Set(pkgmw.ContextKeyRole, role)
		c.Next()
	}
}

func TestTenant(t *testing.T) {
	resolver := stubResolver{
		"tenant-a":        nil,
		"tenant-inactive": domain.ErrTenantInactive,
		"tenant-down":     fmt.Errorf("%w: dial tcp: refused", domain.ErrStorageUnavailable),
	}

	tests := []struct {
		name       string
		tenantID   string
		wantStatus int
		wantCode   string
	}{
		{name: "resolved", tenantID: "tenant-a", wantStatus: http.StatusOK},
		{name: "missing claim", tenantID: "", wantStatus: http.StatusForbidden, wantCode: "TENANT_NOT_FOUND"},
		{name: "unknown tenant", tenantID: "tenant-x", wantStatus: http.StatusForbidden, wantCode: "TENANT_NOT_FOUND"},
		{name: "inactive tenant", tenantID: "tenant-inactive", wantStatus: http.StatusForbidden, wantCode: "TENANT_INACTIVE"},
		{name: "storage down", tenantID: "tenant-down", wantStatus: http.StatusServiceUnavailable, wantCode: "STORAGE_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			metrics := NewHTTPMetrics("test", prometheus.NewRegistry())
			router := gin.New()
			router.Use(withClaims(tt.tenantID, "user-1", "MEMBER"), Tenant(resolver, metrics, nil))
			router.GET("/", func(c *gin.Context) {
				h, ok := GetHandle(c)
				require.True(t, ok)
				actor := GetActor(c)
				c.JSON(http.StatusOK, gin.H{"tenant": h.TenantID(), "actor": actor.ID, "role": string(actor.Role)})
			})

			w := httptest.NewRecorder()
			router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantCode != "" {
				assert.Contains(t, w.Body.String(), tt.wantCode)
			} else {
				assert.JSONEq(t, `{"tenant":"tenant-a","actor":"user-1","role":"MEMBER"}`, w.Body.String())
			}
		})
	}
}

func TestGetActor_Missing(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Equal(t, domain.Actor{}, GetActor(c))
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		err        error
		wantStatus int
		wantCode   string
	}{
		{&domain.InvalidTransitionError{From: domain.StatusOpen, To: domain.StatusDone}, http.StatusConflict, "INVALID_TRANSITION"},
		{domain.Required("title"), http.StatusBadRequest, "VALIDATION_FAILED"},
		{domain.ErrPermissionDenied, http.StatusForbidden, "FORBIDDEN"},
		{domain.ErrTaskNotFound, http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrProjectNotFound, http.StatusNotFound, "NOT_FOUND"},
		{domain.ErrUserNotFound, http.StatusNotFound, "NOT_FOUND"},
		{fmt.Errorf("%w: deadline", domain.ErrStorageTimeout), http.StatusGatewayTimeout, "STORAGE_TIMEOUT"},
		{domain.ErrStorageUnavailable, http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
		{errors.New("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			status, body := ErrorResponse(tt.err)
			assert.Equal(t, tt.wantStatus, status)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.wantCode, body.Error.Code)
		})
	}

	_, body := ErrorResponse(&domain.InvalidTransitionError{From: domain.StatusOpen, To: domain.StatusDone})
	assert.Equal(t, map[string]string{"from": "OPEN", "to": "DONE"}, body.Error.Details)
}

type failingLimiter struct{}

func (failingLimiter) Hit(context.Context, string, time.Duration) (int64, error) {
	return 0, errors.New("redis: connection refused")
}

func rateLimitedRouter(tenantID string, cfg RateLimitConfig, limiter WindowLimiter) *gin.Engine {
	router := gin.New()
	router.Use(
		withClaims(tenantID, "user-1", "ADMIN"),
		Tenant(stubResolver{"tenant-a": nil, "tenant-b": nil}, nil, nil),
		TenantRateLimit(cfg, limiter, NewHTTPMetrics("test", prometheus.NewRegistry()), nil),
	)
	router.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return router
}

func TestTenantRateLimit(t *testing.T) {
	now := time.Date(2024, 1, 1, 10, 0, 10, 0, time.UTC)
	clock := func() time.Time { return now }
	limiter := NewLocalWindowLimiter(clock)
	cfg := RateLimitConfig{Requests: 3, Window: time.Minute, Clock: clock}

	routerA := rateLimitedRouter("tenant-a", cfg, limiter)
	routerB := rateLimitedRouter("tenant-b", cfg, limiter)

	do := func(r *gin.Engine) *httptest.ResponseRecorder {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		return w
	}

	for i := range 3 {
		w := do(routerA)
		require.Equal(t, http.StatusOK, w.Code, "request %d", i+1)
		assert.Equal(t, fmt.Sprint(2-i), w.Header().Get("X-RateLimit-Remaining"))
	}

	w := do(routerA)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "50", w.Header().Get("Retry-After"))
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	assert.Contains(t, w.Body.String(), "TOO_MANY_REQUESTS")

	assert.Equal(t, http.StatusOK, do(routerB).Code, "tenants have separate budgets")

	now = now.Add(time.Minute)
	assert.Equal(t, http.StatusOK, do(routerA).Code, "a new window resets the count")
}

func TestTenantRateLimit_FailOpen(t *testing.T) {
	router := rateLimitedRouter("tenant-a", RateLimitConfig{Requests: 1}, failingLimiter{})
	for range 3 {
		w := httptest.NewRecorder()
		router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestWindowKey(t *testing.T) {
	start := time.Unix(1700000000, 0)
	assert.Equal(t, "rl:tenant:t1:window:1700000000", windowKey("t1", start))
}

func TestRequestID(t *testing.T) {
	router := gin.New()
	router.Use(RequestID())
	router.GET("/", func(c *gin.Context) {
		id, _ := c.Request.Context().Value(logger.RequestIDKey).(string)
		c.String(http.StatusOK, id)
	})

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(HeaderRequestID, "req-123")
	router.ServeHTTP(w, req)
	assert.Equal(t, "req-123", w.Header().Get(HeaderRequestID))
	assert.Equal(t, "req-123", w.Body.String())

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, w.Header().Get(HeaderRequestID), 36)
	assert.Equal(t, w.Header().Get(HeaderRequestID), w.Body.String())
}

func TestHTTPMetrics(t *testing.T) {
	metrics := NewHTTPMetrics("taskflow", prometheus.NewRegistry())

	router := gin.New()
	router.Use(metrics.Middleware())
	router.GET("/api/v1/tasks/:id", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	router.GET("/metrics", metrics.Handler())

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/tasks/7", nil))
	require.Equal(t, http.StatusNoContent, w.Code)

	metrics.tenantMissing()

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, w.Code)

	body := w.Body.String()
	assert.True(t, strings.Contains(body, `taskflow_http_requests_total{method="GET",path="/api/v1/tasks/:id",status="204"} 1`), body)
	assert.Contains(t, body, "taskflow_tenant_context_missing_total 1")
}
