package di

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/prohmpiriya/taskflow/internal/analytics"
	"github.com/prohmpiriya/taskflow/internal/directory"
	"github.com/prohmpiriya/taskflow/internal/dispatch"
	"github.com/prohmpiriya/taskflow/internal/handler"
	"github.com/prohmpiriya/taskflow/internal/lifecycle"
	"github.com/prohmpiriya/taskflow/internal/middleware"
	"github.com/prohmpiriya/taskflow/internal/provision"
	"github.com/prohmpiriya/taskflow/internal/tenantdb"
	"github.com/prohmpiriya/taskflow/pkg/config"
	"github.com/prohmpiriya/taskflow/pkg/database"
	"github.com/prohmpiriya/taskflow/pkg/kafka"
	"github.com/prohmpiriya/taskflow/pkg/logger"
	pkgmw "github.com/prohmpiriya/taskflow/pkg/middleware"
	pkgredis "github.com/prohmpiriya/taskflow/pkg/redis"
)

// Container holds all dependencies of the task service
type Container struct {
	Config *config.Config
	Log    *logger.Logger

	// Infrastructure
	MasterDB *database.PostgresDB
	AdminDB  *database.PostgresDB
	Redis    *pkgredis.Client
	Producer *kafka.Producer

	// Services
	Directory   directory.Directory
	Registry    *tenantdb.Registry
	Queue       *dispatch.Queue
	Engine      *lifecycle.Engine
	Analytics   *analytics.Service
	Provisioner *provision.Service
	AuditLog    *pkgmw.AuditLogger

	// HTTP
	Metrics     *middleware.HTTPMetrics
	Limiter     middleware.WindowLimiter
	Prometheus  *prometheus.Registry
	Health      *handler.HealthHandler
	Tasks       *handler.TaskHandler
	Projects    *handler.ProjectHandler
	Users       *handler.UserHandler
	TenantAdmin *handler.TenantHandler
}

// ContainerConfig contains configuration for building the container. Redis,
// Producer and AdminDB are optional.
type ContainerConfig struct {
	Config   *config.Config
	Log      *logger.Logger
	MasterDB *database.PostgresDB
	AdminDB  *database.PostgresDB
	Redis    *pkgredis.Client
	Producer *kafka.Producer
}

// PostgresConfig builds the pool config of db with the tenant pool policy
func PostgresConfig(db config.DatabaseConfig, pool config.TenantPoolConfig) *database.PostgresConfig {
	return &database.PostgresConfig{
		Host:              db.Host,
		Port:              db.Port,
		User:              db.User,
		Password:          db.Password,
		Database:          db.DBName,
		SSLMode:           db.SSLMode,
		MaxConns:          pool.MaxConns,
		MinConns:          pool.MinConns,
		MaxConnLifetime:   pool.MaxConnLifetime,
		MaxConnIdleTime:   pool.MaxConnIdleTime,
		HealthCheckPeriod: pool.HealthCheckPeriod,
		ConnectTimeout:    pool.ConnectTimeout,
		MaxRetries:        pool.MaxRetries,
		RetryInterval:     pool.RetryInterval,
		TimeZone:          pool.TimeZone,
	}
}

// NewContainer creates a new dependency injection container
func NewContainer(ctx context.Context, cfg *ContainerConfig) (*Container, error) {
	if cfg.Log == nil {
		cfg.Log = logger.Nop()
	}
	app := cfg.Config

	c := &Container{
		Config:     app,
		Log:        cfg.Log,
		MasterDB:   cfg.MasterDB,
		AdminDB:    cfg.AdminDB,
		Redis:      cfg.Redis,
		Producer:   cfg.Producer,
		Prometheus: prometheus.NewRegistry(),
	}
	c.Prometheus.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	c.Metrics = middleware.NewHTTPMetrics("taskflow", c.Prometheus)

	// Tenant resolution
	c.Directory = directory.NewPostgresDirectory(c.MasterDB.Pool())
	connector := tenantdb.NewPostgresConnector(PostgresConfig(app.MasterDatabase, app.TenantPool))
	c.Registry = tenantdb.NewRegistry(c.Directory, connector, c.Log.WithService("tenantdb"))

	// Analytics
	var tracker analytics.Tracker = analytics.NewMemoryTracker()
	if c.Redis != nil {
		tracker = analytics.NewRedisTracker(c.Redis.Client)
	}
	c.Analytics = analytics.NewService(analytics.Config{
		TrackerTTL: app.Lifecycle.SnapshotCacheTTL,
	}, c.Registry, tracker, c.Log.WithService("analytics"))

	// Outbound events go through Kafka when a broker is configured and are
	// handled in process otherwise. Both paths are queued off the request.
	var publisher dispatch.Publisher
	if c.Producer != nil {
		publisher = dispatch.NewKafkaPublisher(c.Producer, app.Kafka.AnalyticsTopic, app.Kafka.NotificationsTopic)
	} else {
		c.Log.Warn("no kafka brokers configured, snapshots are recomputed in process")
		publisher = c.Analytics.Publisher()
	}
	c.Queue = dispatch.NewQueue(dispatch.QueueConfig{
		BufferSize: app.Lifecycle.DispatchBufferSize,
		MaxRetries: app.Lifecycle.DispatchMaxRetries,
		Backoff:    app.Lifecycle.DispatchBackoff,
		MaxBackoff: app.Lifecycle.DispatchMaxBackoff,
	}, publisher, c.Log.WithService("dispatch"))

	c.Engine = lifecycle.NewEngine(lifecycle.Config{
		OperationTimeout: app.Lifecycle.OperationTimeout,
	}, nil, c.Queue, c.Log.WithService("lifecycle"))

	// Rate limiting
	c.Limiter = middleware.NewLocalWindowLimiter(nil)
	if app.RateLimit.UseRedis && c.Redis != nil {
		limiter, err := middleware.NewRedisWindowLimiter(ctx, c.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to load rate limit script: %w", err)
		}
		c.Limiter = limiter
	}

	// Provisioning
	if c.AdminDB != nil {
		c.Provisioner = provision.NewService(
			c.Directory,
			provision.NewPostgresStorage(c.AdminDB.Pool(), connector),
			c.Registry,
			provision.Target{
				Host:     app.MasterDatabase.Host,
				Port:     app.MasterDatabase.Port,
				User:     app.MasterDatabase.User,
				Password: app.MasterDatabase.Password,
				SSLMode:  app.MasterDatabase.SSLMode,
			},
			c.Log.WithService("provision"),
		)
		auditLog := c.Log.WithService("audit")
		c.AuditLog = pkgmw.NewAuditLogger(&pkgmw.AuditConfig{
			Sink: pkgmw.NewPostgresAuditSink(c.MasterDB.Pool()),
			OnError: func(err error, dropped int) {
				auditLog.Error("failed to write audit entries", zap.Int("dropped", dropped), zap.Error(err))
			},
		})
		c.TenantAdmin = handler.NewTenantHandler(c.Provisioner)
	}

	// Handlers
	c.Health = handler.NewHealthHandler(c.MasterDB, c.Registry.Len)
	c.Tasks = handler.NewTaskHandler(c.Engine)
	c.Projects = handler.NewProjectHandler(c.Engine, c.Analytics)
	c.Users = handler.NewUserHandler(c.Engine)

	return c, nil
}

// Close releases everything the container owns. Buffered events get
// timeout to drain.
func (c *Container) Close(timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if c.Queue != nil {
		if err := c.Queue.Close(ctx); err != nil {
			c.Log.Warn("dispatch queue closed before draining", zap.Error(err))
		}
	}
	if c.AuditLog != nil {
		_ = c.AuditLog.Close()
	}
	c.Registry.Close()
}
