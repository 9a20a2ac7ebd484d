package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTPMetrics holds the Prometheus collectors of the HTTP surface
type HTTPMetrics struct {
	requests      *prometheus.CounterVec
	duration      *prometheus.HistogramVec
	missingTenant prometheus.Counter
	rateLimited   *prometheus.CounterVec
	gatherer      prometheus.Gatherer
}

// NewHTTPMetrics registers the collectors on reg. Each registry can hold one
// set, so tests pass a fresh prometheus.NewRegistry().
func NewHTTPMetrics(prefix string, reg *prometheus.Registry) *HTTPMetrics {
	factory := promauto.With(reg)
	return &HTTPMetrics{
		requests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    prefix + "_http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path", "status"},
		),
		missingTenant: factory.NewCounter(prometheus.CounterOpts{
			Name: prefix + "_tenant_context_missing_total",
			Help: "Total number of requests without tenant context",
		}),
		rateLimited: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: prefix + "_rate_limited_total",
				Help: "Requests rejected by the per-tenant rate limit",
			},
			[]string{"tenant_id"},
		),
		gatherer: reg,
	}
}

// Middleware records request count and latency by route template
func (m *HTTPMetrics) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		status := strconv.Itoa(c.Writer.Status())
		m.requests.WithLabelValues(c.Request.Method, path, status).Inc()
		m.duration.WithLabelValues(c.Request.Method, path, status).Observe(time.Since(start).Seconds())
	}
}

// Handler serves the registry in the Prometheus text format
func (m *HTTPMetrics) Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{}))
}

func (m *HTTPMetrics) tenantMissing() {
	if m != nil {
		m.missingTenant.Inc()
	}
}

func (m *HTTPMetrics) limited(tenantID string) {
	if m != nil {
		m.rateLimited.WithLabelValues(tenantID).Inc()
	}
}
