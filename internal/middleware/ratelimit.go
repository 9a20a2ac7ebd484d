package middleware

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/prohmpiriya/taskflow/pkg/logger"
	pkgredis "github.com/prohmpiriya/taskflow/pkg/redis"
	"github.com/prohmpiriya/taskflow/pkg/response"
)

// RateLimitConfig holds the per-tenant fixed-window limit
type RateLimitConfig struct {
	// Requests allowed per tenant per window
	Requests int
	// Window length (default: 1m)
	Window time.Duration
	// Clock is used to compute window boundaries (default: time.Now)
	Clock func() time.Time
}

// WindowLimiter counts requests in fixed windows
type WindowLimiter interface {
	// Hit counts one request for key and returns the count so far
	Hit(ctx context.Context, key string, window time.Duration) (int64, error)
}

func windowKey(tenantID string, start time.Time) string {
	return fmt.Sprintf("rl:tenant:%s:window:%d", tenantID, start.Unix())
}

// LocalWindowLimiter keeps counters in process memory
type LocalWindowLimiter struct {
	mu      sync.Mutex
	counts  map[string]int64
	expires map[string]time.Time
	now     func() time.Time
}

// NewLocalWindowLimiter creates an in-memory limiter
func NewLocalWindowLimiter(clock func() time.Time) *LocalWindowLimiter {
	if clock == nil {
		clock = time.Now
	}
	return &LocalWindowLimiter{
		counts:  make(map[string]int64),
		expires: make(map[string]time.Time),
		now:     clock,
	}
}

// Hit implements WindowLimiter
func (l *LocalWindowLimiter) Hit(_ context.Context, key string, window time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	for k, exp := range l.expires {
		if now.After(exp) {
			delete(l.expires, k)
			delete(l.counts, k)
		}
	}

	if _, ok := l.expires[key]; !ok {
		l.expires[key] = now.Add(window)
	}
	l.counts[key]++
	return l.counts[key], nil
}

const windowScriptName = "tenant_rate_limit"

// INCR the window key and set its expiry on first use
const windowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
    redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return count
`

// RedisWindowLimiter keeps counters in Redis
type RedisWindowLimiter struct {
	client *pkgredis.Client
}

// NewRedisWindowLimiter loads the counting script
func NewRedisWindowLimiter(ctx context.Context, client *pkgredis.Client) (*RedisWindowLimiter, error) {
	if _, err := client.LoadScript(ctx, windowScriptName, windowScript); err != nil {
		return nil, err
	}
	return &RedisWindowLimiter{client: client}, nil
}

// Hit implements WindowLimiter
func (l *RedisWindowLimiter) Hit(ctx context.Context, key string, window time.Duration) (int64, error) {
	return l.client.EvalShaByName(ctx, windowScriptName, []string{key}, window.Milliseconds()).Int64()
}

// TenantRateLimit limits requests per tenant. It must run after Tenant. A
// failing backend lets the request through.
func TenantRateLimit(cfg RateLimitConfig, limiter WindowLimiter, metrics *HTTPMetrics, log *logger.Logger) gin.HandlerFunc {
	if cfg.Window <= 0 {
		cfg.Window = time.Minute
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if log == nil {
		log = logger.Nop()
	}

	return func(c *gin.Context) {
		h, ok := GetHandle(c)
		if !ok || cfg.Requests <= 0 {
			c.Next()
			return
		}

		now := cfg.Clock()
		start := now.Truncate(cfg.Window)
		reset := start.Add(cfg.Window)

		count, err := limiter.Hit(c.Request.Context(), windowKey(h.TenantID(), start), cfg.Window)
		if err != nil {
			log.WarnContext(c.Request.Context(), "rate limiter unavailable, allowing request", zap.Error(err))
			c.Next()
			return
		}

		remaining := int64(cfg.Requests) - count
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Limit", strconv.Itoa(cfg.Requests))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(reset.Unix(), 10))

		if count > int64(cfg.Requests) {
			retryAfter := int(reset.Sub(now).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Header("Retry-After", strconv.Itoa(retryAfter))
			metrics.limited(h.TenantID())
			c.AbortWithStatusJSON(http.StatusTooManyRequests,
				response.TooManyRequests("Rate limit exceeded. Please retry after "+strconv.Itoa(retryAfter)+" second(s)."))
			return
		}

		c.Next()
	}
}
