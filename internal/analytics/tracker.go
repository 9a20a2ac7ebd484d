package analytics

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// Tracker remembers when a snapshot was last computed so bursts of recompute
// requests for the same project and day collapse into one aggregation.
type Tracker interface {
	LastComputed(ctx context.Context, key string) (time.Time, bool, error)
	MarkComputed(ctx context.Context, key string, at time.Time, ttl time.Duration) error
}

func trackerKey(tenantID string, projectID int64, day time.Time) string {
	return fmt.Sprintf("analytics:snapshot:%s:%d:%s", tenantID, projectID, day.Format("2006-01-02"))
}

// RedisTracker stores computation times as unix nanoseconds
type RedisTracker struct {
	client goredis.Cmdable
}

// NewRedisTracker creates a tracker on a go-redis client
func NewRedisTracker(client goredis.Cmdable) *RedisTracker {
	return &RedisTracker{client: client}
}

// LastComputed implements Tracker
func (t *RedisTracker) LastComputed(ctx context.Context, key string) (time.Time, bool, error) {
	v, err := t.client.Get(ctx, key).Result()
	if errors.Is(err, goredis.Nil) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("failed to read %s: %w", key, err)
	}
	ns, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, nil
	}
	return time.Unix(0, ns).UTC(), true, nil
}

// MarkComputed implements Tracker
func (t *RedisTracker) MarkComputed(ctx context.Context, key string, at time.Time, ttl time.Duration) error {
	if err := t.client.Set(ctx, key, strconv.FormatInt(at.UnixNano(), 10), ttl).Err(); err != nil {
		return fmt.Errorf("failed to write %s: %w", key, err)
	}
	return nil
}

// MemoryTracker is an in-process Tracker. Expiry is ignored.
type MemoryTracker struct {
	mu   sync.Mutex
	seen map[string]time.Time
}

func NewMemoryTracker() *MemoryTracker {
	return &MemoryTracker{seen: make(map[string]time.Time)}
}

// LastComputed implements Tracker
func (t *MemoryTracker) LastComputed(_ context.Context, key string) (time.Time, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	at, ok := t.seen[key]
	return at, ok, nil
}

// MarkComputed implements Tracker
func (t *MemoryTracker) MarkComputed(_ context.Context, key string, at time.Time, _ time.Duration) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if prev, ok := t.seen[key]; !ok || at.After(prev) {
		t.seen[key] = at
	}
	return nil
}
