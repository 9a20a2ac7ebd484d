package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	App            AppConfig        `mapstructure:"app"`
	Server         ServerConfig     `mapstructure:"server"`
	MasterDatabase DatabaseConfig   `mapstructure:"master_database"`
	TenantPool     TenantPoolConfig `mapstructure:"tenant_pool"`
	Redis          RedisConfig      `mapstructure:"redis"`
	Kafka          KafkaConfig      `mapstructure:"kafka"`
	RateLimit      RateLimitConfig  `mapstructure:"rate_limit"`
	JWT            JWTConfig        `mapstructure:"jwt"`
	OTel           OTelConfig       `mapstructure:"otel"`
	Lifecycle      LifecycleConfig  `mapstructure:"lifecycle"`
	Admin          AdminConfig      `mapstructure:"admin"`
}

// AppConfig holds application-level settings
type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"` // development, staging, production
	Debug       bool   `mapstructure:"debug"`
	Version     string `mapstructure:"version"`
	LogLevel    string `mapstructure:"log_level"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
	IdleTimeout  time.Duration `mapstructure:"idle_timeout"`
}

// Addr returns the listen address
func (s *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig holds PostgreSQL connection settings for the master directory
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
	SSLMode  string `mapstructure:"sslmode"`
	// AdminDBName is the maintenance database used to issue CREATE DATABASE
	AdminDBName string `mapstructure:"admin_dbname"`
}

// DSN returns the PostgreSQL connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// TenantPoolConfig is the baseline connection policy shared by the master
// database and every tenant database opened at runtime.
type TenantPoolConfig struct {
	MaxConns          int32         `mapstructure:"max_conns"`
	MinConns          int32         `mapstructure:"min_conns"`
	MaxConnLifetime   time.Duration `mapstructure:"max_conn_lifetime"`
	MaxConnIdleTime   time.Duration `mapstructure:"max_conn_idle_time"`
	HealthCheckPeriod time.Duration `mapstructure:"health_check_period"`
	ConnectTimeout    time.Duration `mapstructure:"connect_timeout"`
	MaxRetries        int           `mapstructure:"max_retries"`
	RetryInterval     time.Duration `mapstructure:"retry_interval"`
	TimeZone          string        `mapstructure:"timezone"`
}

// RedisConfig holds Redis connection settings
type RedisConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Password     string        `mapstructure:"password"`
	DB           int           `mapstructure:"db"`
	PoolSize     int           `mapstructure:"pool_size"`
	MinIdleConns int           `mapstructure:"min_idle_conns"`
	DialTimeout  time.Duration `mapstructure:"dial_timeout"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// Addr returns the Redis address
func (r *RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// KafkaConfig holds Kafka/Redpanda connection settings
type KafkaConfig struct {
	Brokers            []string `mapstructure:"brokers"`
	ConsumerGroup      string   `mapstructure:"consumer_group"`
	ClientID           string   `mapstructure:"client_id"`
	AnalyticsTopic     string   `mapstructure:"analytics_topic"`
	NotificationsTopic string   `mapstructure:"notifications_topic"`
}

// RateLimitConfig holds the fixed-window limit applied per tenant
type RateLimitConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Requests int           `mapstructure:"requests"`
	Window   time.Duration `mapstructure:"window"`
	UseRedis bool          `mapstructure:"use_redis"`
}

// JWTConfig holds JWT settings
type JWTConfig struct {
	Secret string `mapstructure:"secret"`
	Issuer string `mapstructure:"issuer"`
}

// OTelConfig holds OpenTelemetry settings
type OTelConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	ServiceName   string `mapstructure:"service_name"`
	CollectorAddr string `mapstructure:"collector_addr"`
}

// LifecycleConfig holds task lifecycle engine settings
type LifecycleConfig struct {
	OperationTimeout      time.Duration `mapstructure:"operation_timeout"`
	DispatchBufferSize    int           `mapstructure:"dispatch_buffer_size"`
	DispatchMaxRetries    int           `mapstructure:"dispatch_max_retries"`
	DispatchBackoff       time.Duration `mapstructure:"dispatch_backoff"`
	DispatchMaxBackoff    time.Duration `mapstructure:"dispatch_max_backoff"`
	SnapshotCacheTTL      time.Duration `mapstructure:"snapshot_cache_ttl"`
	AnalyticsConsumerWait time.Duration `mapstructure:"analytics_consumer_wait"`
}

// AdminConfig guards the tenant provisioning endpoints
type AdminConfig struct {
	// APIKey must be sent in X-Admin-Key; empty disables the admin routes
	APIKey string `mapstructure:"api_key"`
}

// Load loads configuration from environment variables and .env file
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigFile(".env")
	v.SetConfigType("env")

	// A missing .env is fine; environment variables may carry everything.
	_ = v.ReadInConfig()

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadWithPath loads configuration from a specific path
func LoadWithPath(path string) (*Config, error) {
	v := viper.New()

	v.SetConfigFile(path)
	v.SetConfigType("env")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	cfg := &Config{}
	if err := bindConfig(v, cfg); err != nil {
		return nil, fmt.Errorf("failed to bind config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	// App defaults
	v.SetDefault("APP_NAME", "taskflow")
	v.SetDefault("APP_ENVIRONMENT", "development")
	v.SetDefault("APP_DEBUG", true)
	v.SetDefault("APP_VERSION", "1.0.0")
	v.SetDefault("APP_LOG_LEVEL", "info")

	// Server defaults
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("SERVER_PORT", 8080)
	v.SetDefault("SERVER_READ_TIMEOUT", "30s")
	v.SetDefault("SERVER_WRITE_TIMEOUT", "30s")
	v.SetDefault("SERVER_IDLE_TIMEOUT", "120s")

	// Master database defaults
	v.SetDefault("MASTER_DATABASE_HOST", "localhost")
	v.SetDefault("MASTER_DATABASE_PORT", 5432)
	v.SetDefault("MASTER_DATABASE_USER", "postgres")
	v.SetDefault("MASTER_DATABASE_PASSWORD", "postgres")
	v.SetDefault("MASTER_DATABASE_DBNAME", "taskflow_master")
	v.SetDefault("MASTER_DATABASE_SSLMODE", "disable")
	v.SetDefault("MASTER_DATABASE_ADMIN_DBNAME", "postgres")

	// Tenant pool baseline
	v.SetDefault("TENANT_POOL_MAX_CONNS", 10)
	v.SetDefault("TENANT_POOL_MIN_CONNS", 1)
	v.SetDefault("TENANT_POOL_MAX_CONN_LIFETIME", "1h")
	v.SetDefault("TENANT_POOL_MAX_CONN_IDLE_TIME", "30m")
	v.SetDefault("TENANT_POOL_HEALTH_CHECK_PERIOD", "1m")
	v.SetDefault("TENANT_POOL_CONNECT_TIMEOUT", "5s")
	v.SetDefault("TENANT_POOL_MAX_RETRIES", 3)
	v.SetDefault("TENANT_POOL_RETRY_INTERVAL", "1s")
	v.SetDefault("TENANT_POOL_TIMEZONE", "UTC")

	// Redis defaults
	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 50)
	v.SetDefault("REDIS_MIN_IDLE_CONNS", 5)
	v.SetDefault("REDIS_DIAL_TIMEOUT", "5s")
	v.SetDefault("REDIS_READ_TIMEOUT", "3s")
	v.SetDefault("REDIS_WRITE_TIMEOUT", "3s")

	// Kafka defaults
	v.SetDefault("KAFKA_BROKERS", "localhost:9092")
	v.SetDefault("KAFKA_CONSUMER_GROUP", "taskflow-analytics")
	v.SetDefault("KAFKA_CLIENT_ID", "taskflow")
	v.SetDefault("KAFKA_ANALYTICS_TOPIC", "taskflow.analytics.recompute")
	v.SetDefault("KAFKA_NOTIFICATIONS_TOPIC", "taskflow.notifications")

	// Rate limit defaults: 100 requests per tenant per minute
	v.SetDefault("RATE_LIMIT_ENABLED", true)
	v.SetDefault("RATE_LIMIT_REQUESTS", 100)
	v.SetDefault("RATE_LIMIT_WINDOW", "60s")
	v.SetDefault("RATE_LIMIT_USE_REDIS", false)

	// JWT defaults
	v.SetDefault("JWT_SECRET", "your-secret-key-change-in-production")
	v.SetDefault("JWT_ISSUER", "taskflow")

	// OTel defaults
	v.SetDefault("OTEL_ENABLED", false)
	v.SetDefault("OTEL_SERVICE_NAME", "taskflow")
	v.SetDefault("OTEL_COLLECTOR_ADDR", "localhost:4317")

	// Lifecycle defaults
	v.SetDefault("LIFECYCLE_OPERATION_TIMEOUT", "5s")
	v.SetDefault("LIFECYCLE_DISPATCH_BUFFER_SIZE", 1000)
	v.SetDefault("LIFECYCLE_DISPATCH_MAX_RETRIES", 3)
	v.SetDefault("LIFECYCLE_DISPATCH_BACKOFF", "200ms")
	v.SetDefault("LIFECYCLE_DISPATCH_MAX_BACKOFF", "5s")
	v.SetDefault("LIFECYCLE_SNAPSHOT_CACHE_TTL", "10m")
	v.SetDefault("LIFECYCLE_ANALYTICS_CONSUMER_WAIT", "1s")

	// Admin defaults
	v.SetDefault("ADMIN_API_KEY", "")
}

func bindConfig(v *viper.Viper, cfg *Config) error {
	// App
	cfg.App.Name = v.GetString("APP_NAME")
	cfg.App.Environment = v.GetString("APP_ENVIRONMENT")
	cfg.App.Debug = v.GetBool("APP_DEBUG")
	cfg.App.Version = v.GetString("APP_VERSION")
	cfg.App.LogLevel = v.GetString("APP_LOG_LEVEL")

	// Server
	cfg.Server.Host = v.GetString("SERVER_HOST")
	cfg.Server.Port = v.GetInt("SERVER_PORT")
	cfg.Server.ReadTimeout = v.GetDuration("SERVER_READ_TIMEOUT")
	cfg.Server.WriteTimeout = v.GetDuration("SERVER_WRITE_TIMEOUT")
	cfg.Server.IdleTimeout = v.GetDuration("SERVER_IDLE_TIMEOUT")

	// Master database
	cfg.MasterDatabase.Host = v.GetString("MASTER_DATABASE_HOST")
	cfg.MasterDatabase.Port = v.GetInt("MASTER_DATABASE_PORT")
	cfg.MasterDatabase.User = v.GetString("MASTER_DATABASE_USER")
	cfg.MasterDatabase.Password = v.GetString("MASTER_DATABASE_PASSWORD")
	cfg.MasterDatabase.DBName = v.GetString("MASTER_DATABASE_DBNAME")
	cfg.MasterDatabase.SSLMode = v.GetString("MASTER_DATABASE_SSLMODE")
	cfg.MasterDatabase.AdminDBName = v.GetString("MASTER_DATABASE_ADMIN_DBNAME")

	// Tenant pool
	cfg.TenantPool.MaxConns = v.GetInt32("TENANT_POOL_MAX_CONNS")
	cfg.TenantPool.MinConns = v.GetInt32("TENANT_POOL_MIN_CONNS")
	cfg.TenantPool.MaxConnLifetime = v.GetDuration("TENANT_POOL_MAX_CONN_LIFETIME")
	cfg.TenantPool.MaxConnIdleTime = v.GetDuration("TENANT_POOL_MAX_CONN_IDLE_TIME")
	cfg.TenantPool.HealthCheckPeriod = v.GetDuration("TENANT_POOL_HEALTH_CHECK_PERIOD")
	cfg.TenantPool.ConnectTimeout = v.GetDuration("TENANT_POOL_CONNECT_TIMEOUT")
	cfg.TenantPool.MaxRetries = v.GetInt("TENANT_POOL_MAX_RETRIES")
	cfg.TenantPool.RetryInterval = v.GetDuration("TENANT_POOL_RETRY_INTERVAL")
	cfg.TenantPool.TimeZone = v.GetString("TENANT_POOL_TIMEZONE")

	// Redis
	cfg.Redis.Host = v.GetString("REDIS_HOST")
	cfg.Redis.Port = v.GetInt("REDIS_PORT")
	cfg.Redis.Password = v.GetString("REDIS_PASSWORD")
	cfg.Redis.DB = v.GetInt("REDIS_DB")
	cfg.Redis.PoolSize = v.GetInt("REDIS_POOL_SIZE")
	cfg.Redis.MinIdleConns = v.GetInt("REDIS_MIN_IDLE_CONNS")
	cfg.Redis.DialTimeout = v.GetDuration("REDIS_DIAL_TIMEOUT")
	cfg.Redis.ReadTimeout = v.GetDuration("REDIS_READ_TIMEOUT")
	cfg.Redis.WriteTimeout = v.GetDuration("REDIS_WRITE_TIMEOUT")

	// Kafka
	// An empty KAFKA_BROKERS runs without a broker
	cfg.Kafka.Brokers = nil
	for _, b := range strings.Split(v.GetString("KAFKA_BROKERS"), ",") {
		if b = strings.TrimSpace(b); b != "" {
			cfg.Kafka.Brokers = append(cfg.Kafka.Brokers, b)
		}
	}
	cfg.Kafka.ConsumerGroup = v.GetString("KAFKA_CONSUMER_GROUP")
	cfg.Kafka.ClientID = v.GetString("KAFKA_CLIENT_ID")
	cfg.Kafka.AnalyticsTopic = v.GetString("KAFKA_ANALYTICS_TOPIC")
	cfg.Kafka.NotificationsTopic = v.GetString("KAFKA_NOTIFICATIONS_TOPIC")

	// Rate limit
	cfg.RateLimit.Enabled = v.GetBool("RATE_LIMIT_ENABLED")
	cfg.RateLimit.Requests = v.GetInt("RATE_LIMIT_REQUESTS")
	cfg.RateLimit.Window = v.GetDuration("RATE_LIMIT_WINDOW")
	cfg.RateLimit.UseRedis = v.GetBool("RATE_LIMIT_USE_REDIS")

	// JWT
	cfg.JWT.Secret = v.GetString("JWT_SECRET")
	cfg.JWT.Issuer = v.GetString("JWT_ISSUER")

	// OTel
	cfg.OTel.Enabled = v.GetBool("OTEL_ENABLED")
	cfg.OTel.ServiceName = v.GetString("OTEL_SERVICE_NAME")
	cfg.OTel.CollectorAddr = v.GetString("OTEL_COLLECTOR_ADDR")

	// Lifecycle
	cfg.Lifecycle.OperationTimeout = v.GetDuration("LIFECYCLE_OPERATION_TIMEOUT")
	cfg.Lifecycle.DispatchBufferSize = v.GetInt("LIFECYCLE_DISPATCH_BUFFER_SIZE")
	cfg.Lifecycle.DispatchMaxRetries = v.GetInt("LIFECYCLE_DISPATCH_MAX_RETRIES")
	cfg.Lifecycle.DispatchBackoff = v.GetDuration("LIFECYCLE_DISPATCH_BACKOFF")
	cfg.Lifecycle.DispatchMaxBackoff = v.GetDuration("LIFECYCLE_DISPATCH_MAX_BACKOFF")
	cfg.Lifecycle.SnapshotCacheTTL = v.GetDuration("LIFECYCLE_SNAPSHOT_CACHE_TTL")
	cfg.Lifecycle.AnalyticsConsumerWait = v.GetDuration("LIFECYCLE_ANALYTICS_CONSUMER_WAIT")

	// Admin
	cfg.Admin.APIKey = v.GetString("ADMIN_API_KEY")

	return nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}

	if c.MasterDatabase.Host == "" {
		return fmt.Errorf("master database host is required")
	}

	if c.MasterDatabase.DBName == "" {
		return fmt.Errorf("master database name is required")
	}

	if c.TenantPool.MaxConns <= 0 {
		return fmt.Errorf("tenant pool max conns must be positive: %d", c.TenantPool.MaxConns)
	}

	if c.TenantPool.MinConns > c.TenantPool.MaxConns {
		return fmt.Errorf("tenant pool min conns (%d) exceeds max conns (%d)", c.TenantPool.MinConns, c.TenantPool.MaxConns)
	}

	if c.JWT.Secret == "" {
		return fmt.Errorf("JWT secret is required")
	}

	if c.App.Environment == "production" && c.JWT.Secret == "your-secret-key-change-in-production" {
		return fmt.Errorf("JWT secret must be changed in production")
	}

	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window < time.Second) {
		return fmt.Errorf("rate limit needs positive requests and a window of at least 1s")
	}

	if c.Lifecycle.DispatchBufferSize <= 0 {
		return fmt.Errorf("dispatch buffer size must be positive: %d", c.Lifecycle.DispatchBufferSize)
	}

	return nil
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.App.Environment == "production"
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == "development"
}
