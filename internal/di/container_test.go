package di

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/taskflow/internal/analytics"
	"github.com/prohmpiriya/taskflow/internal/directory"
	"github.com/prohmpiriya/taskflow/internal/dispatch"
	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/handler"
	"github.com/prohmpiriya/taskflow/internal/lifecycle"
	"github.com/prohmpiriya/taskflow/internal/middleware"
	"github.com/prohmpiriya/taskflow/internal/provision"
	"github.com/prohmpiriya/taskflow/internal/store"
	"github.com/prohmpiriya/taskflow/internal/tenantdb"
	"github.com/prohmpiriya/taskflow/pkg/config"
	"github.com/prohmpiriya/taskflow/pkg/logger"
	pkgmw "github.com/prohmpiriya/taskflow/pkg/middleware"
)

const (
	testSecret   = "router-test-secret"
	testAdminKey = "router-admin-key"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type noopStorage struct{}

func (noopStorage) CreateDatabase(context.Context, string) error          { return nil }
func (noopStorage) Migrate(context.Context, *domain.StorageRecord) error { return nil }

type okPinger struct{}

func (okPinger) Ping(context.Context) error { return nil }

// newTestContainer wires the container the way NewContainer does, with
// in-memory storage in place of PostgreSQL
func newTestContainer(t *testing.T, mutate func(*config.Config)) *Container {
	t.Helper()

	cfg := &config.Config{
		JWT:       config.JWTConfig{Secret: testSecret, Issuer: "taskflow"},
		RateLimit: config.RateLimitConfig{Enabled: false, Requests: 100, Window: time.Minute},
		Admin:     config.AdminConfig{APIKey: testAdminKey},
	}
	if mutate != nil {
		mutate(cfg)
	}

	dir := directory.NewMemoryDirectory()
	connector := tenantdb.ConnectorFunc(func(context.Context, *domain.StorageRecord) (store.Store, error) {
		return store.NewMemoryStore(), nil
	})

	c := &Container{
		Config:     cfg,
		Log:        logger.Nop(),
		Directory:  dir,
		Prometheus: prometheus.NewRegistry(),
	}
	c.Metrics = middleware.NewHTTPMetrics("taskflow", c.Prometheus)
	c.Registry = tenantdb.NewRegistry(dir, connector, nil)
	c.Analytics = analytics.NewService(analytics.Config{}, c.Registry, analytics.NewMemoryTracker(), nil)
	c.Queue = dispatch.NewQueue(dispatch.QueueConfig{Backoff: time.Millisecond}, c.Analytics.Publisher(), nil)
	c.Engine = lifecycle.NewEngine(lifecycle.Config{OperationTimeout: time.Second}, nil, c.Queue, nil)
	c.Limiter = middleware.NewLocalWindowLimiter(nil)
	c.Provisioner = provision.NewService(dir, noopStorage{}, c.Registry, provision.Target{Host: "localhost", Port: 5432}, nil)
	c.AuditLog = pkgmw.NewAuditLogger(&pkgmw.AuditConfig{FlushInterval: time.Hour})
	c.Health = handler.NewHealthHandler(okPinger{}, c.Registry.Len)
	c.Tasks = handler.NewTaskHandler(c.Engine)
	c.Projects = handler.NewProjectHandler(c.Engine, c.Analytics)
	c.Users = handler.NewUserHandler(c.Engine)
	c.TenantAdmin = handler.NewTenantHandler(c.Provisioner)

	t.Cleanup(func() { c.Close(time.Second) })
	return c
}

func token(t *testing.T, tenantID, role string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id":   "user-1",
		"role":      role,
		"tenant_id": tenantID,
		"iss":       "taskflow",
		"exp":       time.Now().Add(time.Hour).Unix(),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func do(router http.Handler, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	var rdr io.Reader
	if body != "" {
		rdr = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func provisionTenant(t *testing.T, router http.Handler, name string) string {
	t.Helper()
	w := do(router, http.MethodPost, "/admin/tenants", `{"name":"`+name+`"}`, map[string]string{
		middleware.HeaderAdminKey: testAdminKey,
	})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	var body struct {
		Data domain.Tenant `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.True(t, body.Data.IsActive)
	return body.Data.ID
}

func TestRouter_PublicEndpoints(t *testing.T) {
	router := newTestContainer(t, nil).Router()

	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/health", "", nil).Code)
	assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/ready", "", nil).Code)

	w := do(router, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `taskflow_http_requests_total{method="GET",path="/health",status="200"} 1`)
}

func TestRouter_TenantRequestFlow(t *testing.T) {
	c := newTestContainer(t, nil)
	router := c.Router()
	tenantID := provisionTenant(t, router, "acme")

	w := do(router, http.MethodGet, "/api/v1/projects", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code, "api routes require a token")

	auth := map[string]string{"Authorization": "Bearer " + token(t, tenantID, "manager")}
	w = do(router, http.MethodPost, "/api/v1/projects", `{"name":"Launch"}`, auth)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = do(router, http.MethodGet, "/api/v1/projects", "", auth)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Launch")
	assert.Equal(t, 1, c.Registry.Len())

	other := map[string]string{"Authorization": "Bearer " + token(t, "1b4e28ba-2fa1-11d2-883f-0016d3cca427", "manager")}
	w = do(router, http.MethodGet, "/api/v1/projects", "", other)
	assert.Equal(t, http.StatusForbidden, w.Code, "unknown tenants are rejected")

	w = do(router, http.MethodPost, "/admin/tenants/"+tenantID+"/deactivate", "", map[string]string{
		middleware.HeaderAdminKey: testAdminKey,
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = do(router, http.MethodGet, "/api/v1/projects", "", auth)
	assert.Equal(t, http.StatusForbidden, w.Code, "deactivated tenants lose access immediately")
	assert.Equal(t, 0, c.Registry.Len())
}

func TestRouter_RateLimit(t *testing.T) {
	router := newTestContainer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: true, Requests: 2, Window: time.Hour}
	}).Router()
	tenantID := provisionTenant(t, router, "acme")
	auth := map[string]string{"Authorization": "Bearer " + token(t, tenantID, "member")}

	for range 2 {
		require.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/tasks", "", auth).Code)
	}
	assert.Equal(t, http.StatusTooManyRequests, do(router, http.MethodGet, "/api/v1/tasks", "", auth).Code)
}

func TestRouter_RateLimitDisabled(t *testing.T) {
	router := newTestContainer(t, func(cfg *config.Config) {
		cfg.RateLimit = config.RateLimitConfig{Enabled: false, Requests: 1, Window: time.Hour}
	}).Router()
	tenantID := provisionTenant(t, router, "acme")
	auth := map[string]string{"Authorization": "Bearer " + token(t, tenantID, "member")}

	for range 3 {
		assert.Equal(t, http.StatusOK, do(router, http.MethodGet, "/api/v1/tasks", "", auth).Code)
	}
}

func TestRouter_AdminRoutes(t *testing.T) {
	router := newTestContainer(t, nil).Router()

	w := do(router, http.MethodPost, "/admin/tenants", `{"name":"acme"}`, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(router, http.MethodPost, "/admin/tenants", `{"name":"acme"}`, map[string]string{
		middleware.HeaderAdminKey: "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	disabled := newTestContainer(t, func(cfg *config.Config) { cfg.Admin.APIKey = "" }).Router()
	w = do(disabled, http.MethodPost, "/admin/tenants", `{"name":"acme"}`, nil)
	assert.Equal(t, http.StatusNotFound, w.Code, "admin routes are not mounted without a key")
}

func TestPostgresConfig(t *testing.T) {
	pc := PostgresConfig(config.DatabaseConfig{
		Host:     "db",
		Port:     5433,
		User:     "taskflow",
		Password: "secret",
		DBName:   "master",
		SSLMode:  "disable",
	}, config.TenantPoolConfig{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		TimeZone:        "UTC",
	})

	assert.Equal(t, "master", pc.Database)
	assert.Equal(t, int32(10), pc.MaxConns)
	assert.Equal(t, int32(2), pc.MinConns)
	assert.Equal(t, time.Hour, pc.MaxConnLifetime)
	assert.True(t, strings.Contains(pc.DSN(), "host=db"))
}
