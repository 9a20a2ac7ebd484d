package config

import (
	"os"
	"testing"
	"time"
)

func validConfig() Config {
	return Config{
		App:            AppConfig{Name: "test", Environment: "development"},
		Server:         ServerConfig{Port: 8080},
		MasterDatabase: DatabaseConfig{Host: "localhost", DBName: "taskflow_master"},
		TenantPool:     TenantPoolConfig{MaxConns: 10, MinConns: 1},
		JWT:            JWTConfig{Secret: "secret"},
		Lifecycle:      LifecycleConfig{DispatchBufferSize: 10},
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.App.Name != "taskflow" {
		t.Errorf("App.Name = %q, want %q", cfg.App.Name, "taskflow")
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 8080)
	}

	if cfg.MasterDatabase.DBName != "taskflow_master" {
		t.Errorf("MasterDatabase.DBName = %q, want %q", cfg.MasterDatabase.DBName, "taskflow_master")
	}

	if cfg.TenantPool.MaxConns != 10 {
		t.Errorf("TenantPool.MaxConns = %d, want %d", cfg.TenantPool.MaxConns, 10)
	}

	if cfg.Lifecycle.OperationTimeout != 5*time.Second {
		t.Errorf("Lifecycle.OperationTimeout = %v, want %v", cfg.Lifecycle.OperationTimeout, 5*time.Second)
	}

	if cfg.RateLimit.Requests != 100 || cfg.RateLimit.Window != time.Minute {
		t.Errorf("RateLimit = %+v, want 100 per minute", cfg.RateLimit)
	}

	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("Kafka.Brokers = %v, want [localhost:9092]", cfg.Kafka.Brokers)
	}
}

func TestLoad_WithEnvOverride(t *testing.T) {
	os.Setenv("APP_NAME", "test-app")
	os.Setenv("SERVER_PORT", "9090")
	os.Setenv("MASTER_DATABASE_HOST", "master-db.example.com")
	os.Setenv("TENANT_POOL_MAX_CONNS", "4")
	os.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	defer func() {
		os.Unsetenv("APP_NAME")
		os.Unsetenv("SERVER_PORT")
		os.Unsetenv("MASTER_DATABASE_HOST")
		os.Unsetenv("TENANT_POOL_MAX_CONNS")
		os.Unsetenv("KAFKA_BROKERS")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.App.Name != "test-app" {
		t.Errorf("App.Name = %q, want %q", cfg.App.Name, "test-app")
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want %d", cfg.Server.Port, 9090)
	}

	if cfg.MasterDatabase.Host != "master-db.example.com" {
		t.Errorf("MasterDatabase.Host = %q, want %q", cfg.MasterDatabase.Host, "master-db.example.com")
	}

	if cfg.TenantPool.MaxConns != 4 {
		t.Errorf("TenantPool.MaxConns = %d, want %d", cfg.TenantPool.MaxConns, 4)
	}

	if len(cfg.Kafka.Brokers) != 2 {
		t.Errorf("Kafka.Brokers = %v, want 2 brokers", cfg.Kafka.Brokers)
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		DBName:   "testdb",
		SSLMode:  "disable",
	}

	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"
	if dsn := cfg.DSN(); dsn != expected {
		t.Errorf("DSN() = %q, want %q", dsn, expected)
	}
}

func TestRedisConfig_Addr(t *testing.T) {
	cfg := RedisConfig{
		Host: "redis.example.com",
		Port: 6380,
	}

	expected := "redis.example.com:6380"
	if addr := cfg.Addr(); addr != expected {
		t.Errorf("Addr() = %q, want %q", addr, expected)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}, wantErr: false},
		{name: "missing app name", mutate: func(c *Config) { c.App.Name = "" }, wantErr: true},
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = -1 }, wantErr: true},
		{name: "port too high", mutate: func(c *Config) { c.Server.Port = 70000 }, wantErr: true},
		{name: "missing master host", mutate: func(c *Config) { c.MasterDatabase.Host = "" }, wantErr: true},
		{name: "missing master dbname", mutate: func(c *Config) { c.MasterDatabase.DBName = "" }, wantErr: true},
		{name: "zero max conns", mutate: func(c *Config) { c.TenantPool.MaxConns = 0 }, wantErr: true},
		{name: "min exceeds max", mutate: func(c *Config) { c.TenantPool.MinConns = 20 }, wantErr: true},
		{name: "missing JWT secret", mutate: func(c *Config) { c.JWT.Secret = "" }, wantErr: true},
		{
			name: "default JWT secret in production",
			mutate: func(c *Config) {
				c.App.Environment = "production"
				c.JWT.Secret = "your-secret-key-change-in-production"
			},
			wantErr: true,
		},
		{
			name:    "rate limit without window",
			mutate:  func(c *Config) { c.RateLimit = RateLimitConfig{Enabled: true, Requests: 10} },
			wantErr: true,
		},
		{
			name: "rate limit valid",
			mutate: func(c *Config) {
				c.RateLimit = RateLimitConfig{Enabled: true, Requests: 10, Window: time.Minute}
			},
			wantErr: false,
		},
		{name: "zero dispatch buffer", mutate: func(c *Config) { c.Lifecycle.DispatchBufferSize = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestConfig_IsProduction(t *testing.T) {
	cfg := &Config{
		App: AppConfig{Environment: "production"},
	}
	if !cfg.IsProduction() {
		t.Error("IsProduction() = false, want true")
	}

	cfg.App.Environment = "development"
	if cfg.IsProduction() {
		t.Error("IsProduction() = true, want false")
	}
}

func TestConfig_IsDevelopment(t *testing.T) {
	cfg := &Config{
		App: AppConfig{Environment: "development"},
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true")
	}

	cfg.App.Environment = "production"
	if cfg.IsDevelopment() {
		t.Error("IsDevelopment() = true, want false")
	}
}

func TestLoad_EmptyBrokers(t *testing.T) {
	os.Setenv("KAFKA_BROKERS", " , ")
	os.Setenv("ADMIN_API_KEY", "admin-key")
	defer func() {
		os.Unsetenv("KAFKA_BROKERS")
		os.Unsetenv("ADMIN_API_KEY")
	}()

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if len(cfg.Kafka.Brokers) != 0 {
		t.Errorf("Kafka.Brokers = %v, want none", cfg.Kafka.Brokers)
	}

	if cfg.Admin.APIKey != "admin-key" {
		t.Errorf("Admin.APIKey = %q, want %q", cfg.Admin.APIKey, "admin-key")
	}
}
