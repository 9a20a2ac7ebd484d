package middleware

import (
	"context"
	"encoding/json"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditAction names an administrative operation
type AuditAction string

const (
	AuditActionProvision  AuditAction = "tenant.provision"
	AuditActionResume     AuditAction = "tenant.resume"
	AuditActionActivate   AuditAction = "tenant.activate"
	AuditActionDeactivate AuditAction = "tenant.deactivate"
)

// Context keys for audit data
const (
	ContextKeyAuditAction   = "audit_action"
	ContextKeyAuditTenantID = "audit_tenant_id"
	ContextKeyAuditMetadata = "audit_metadata"
)

// AuditEntry is one administrative request
type AuditEntry struct {
	ID        string         `json:"id"`
	Action    AuditAction    `json:"action"`
	TenantID  *string        `json:"tenant_id,omitempty"`
	Status    int            `json:"status"`
	IPAddress string         `json:"ip_address,omitempty"`
	UserAgent string         `json:"user_agent,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

// AuditSink persists audit entries
type AuditSink interface {
	Write(ctx context.Context, entries []*AuditEntry) error
}

// PostgresAuditSink writes to admin_audit_log in the master database
type PostgresAuditSink struct {
	pool *pgxpool.Pool
}

// NewPostgresAuditSink creates a sink on pool
func NewPostgresAuditSink(pool *pgxpool.Pool) *PostgresAuditSink {
	return &PostgresAuditSink{pool: pool}
}

const insertAuditSQL = `
	INSERT INTO admin_audit_log (
		id, action, tenant_id, status, ip_address, user_agent, request_id, metadata, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
`

// Write inserts entries in a single round trip
func (s *PostgresAuditSink) Write(ctx context.Context, entries []*AuditEntry) error {
	batch := &pgx.Batch{}
	for _, e := range entries {
		meta, _ := json.Marshal(e.Metadata)
		if string(meta) == "null" {
			meta = []byte("{}")
		}
		batch.Queue(insertAuditSQL,
			e.ID, string(e.Action), e.TenantID, e.Status,
			e.IPAddress, e.UserAgent, e.RequestID, meta, e.CreatedAt,
		)
	}
	return s.pool.SendBatch(ctx, batch).Close()
}

// AuditConfig holds configuration for the audit logger
type AuditConfig struct {
	// Sink stores flushed entries
	Sink AuditSink
	// BufferSize is the size of the async buffer (default: 256)
	BufferSize int
	// FlushInterval is how often to flush the buffer (default: 2 seconds)
	FlushInterval time.Duration
	// BatchSize is the maximum number of entries written at once (default: 50)
	BatchSize int
	// OnError is called when a flush fails
	OnError func(err error, dropped int)
}

// AuditLogger buffers entries and writes them in the background. Auditing
// never blocks a request: entries are dropped when the buffer is full.
type AuditLogger struct {
	config    *AuditConfig
	buffer    chan *AuditEntry
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewAuditLogger creates and starts an audit logger
func NewAuditLogger(config *AuditConfig) *AuditLogger {
	if config.BufferSize <= 0 {
		config.BufferSize = 256
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 2 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 50
	}

	al := &AuditLogger{
		config: config,
		buffer: make(chan *AuditEntry, config.BufferSize),
	}

	al.wg.Add(1)
	go al.worker()

	return al
}

// Log enqueues an entry without blocking
func (al *AuditLogger) Log(entry *AuditEntry) bool {
	select {
	case al.buffer <- entry:
		return true
	default:
		return false
	}
}

// Close flushes what is buffered and stops the worker
func (al *AuditLogger) Close() error {
	al.closeOnce.Do(func() {
		close(al.buffer)
		al.wg.Wait()
	})
	return nil
}

func (al *AuditLogger) worker() {
	defer al.wg.Done()

	ticker := time.NewTicker(al.config.FlushInterval)
	defer ticker.Stop()

	batch := make([]*AuditEntry, 0, al.config.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		al.flush(batch)
		batch = make([]*AuditEntry, 0, al.config.BatchSize)
	}

	for {
		select {
		case entry, ok := <-al.buffer:
			if !ok {
				flush()
				return
			}
			batch = append(batch, entry)
			if len(batch) >= al.config.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (al *AuditLogger) flush(entries []*AuditEntry) {
	if al.config.Sink == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := al.config.Sink.Write(ctx, entries); err != nil && al.config.OnError != nil {
		al.config.OnError(err, len(entries))
	}
}

// AuditMiddleware records every request a handler tagged with SetAuditAction
func AuditMiddleware(al *AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		startTime := time.Now()

		c.Next()

		action, ok := c.Get(ContextKeyAuditAction)
		if !ok {
			return
		}

		entry := &AuditEntry{
			ID:        uuid.New().String(),
			Action:    action.(AuditAction),
			Status:    c.Writer.Status(),
			IPAddress: getClientIP(c),
			UserAgent: c.GetHeader("User-Agent"),
			RequestID: c.Writer.Header().Get("X-Request-ID"),
			CreatedAt: startTime,
		}
		if entry.RequestID == "" {
			entry.RequestID = c.GetHeader("X-Request-ID")
		}
		if id := c.GetString(ContextKeyAuditTenantID); id != "" {
			entry.TenantID = &id
		}
		if meta, exists := c.Get(ContextKeyAuditMetadata); exists {
			entry.Metadata, _ = meta.(map[string]any)
		}

		al.Log(entry)
	}
}

// getClientIP extracts the client IP address
func getClientIP(c *gin.Context) string {
	if xff := c.GetHeader("X-Forwarded-For"); xff != "" {
		ips := strings.Split(xff, ",")
		return strings.TrimSpace(ips[0])
	}

	if xri := c.GetHeader("X-Real-IP"); xri != "" {
		return xri
	}

	ip, _, err := net.SplitHostPort(c.Request.RemoteAddr)
	if err != nil {
		return c.Request.RemoteAddr
	}
	return ip
}

// SetAuditAction tags the request for the audit trail
func SetAuditAction(c *gin.Context, action AuditAction) {
	c.Set(ContextKeyAuditAction, action)
}

// SetAuditTenantID names the tenant the request acted on
func SetAuditTenantID(c *gin.Context, tenantID string) {
	c.Set(ContextKeyAuditTenantID, tenantID)
}

// SetAuditMetadata attaches extra fields to the entry
func SetAuditMetadata(c *gin.Context, metadata map[string]any) {
	c.Set(ContextKeyAuditMetadata, metadata)
}
