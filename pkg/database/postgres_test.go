package database

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"testing"
	"testing/fstest"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// getTestConfig returns config for testing
// Uses environment variables or defaults
func getTestConfig() *PostgresConfig {
	cfg := DefaultPostgresConfig()

	if host := os.Getenv("TEST_POSTGRES_HOST"); host != "" {
		cfg.Host = host
	}
	if port := os.Getenv("TEST_POSTGRES_PORT"); port != "" {
		var p int
		if _, err := fmt.Sscanf(port, "%d", &p); err == nil {
			cfg.Port = p
		}
	}
	if user := os.Getenv("TEST_POSTGRES_USER"); user != "" {
		cfg.User = user
	}
	if password := os.Getenv("TEST_POSTGRES_PASSWORD"); password != "" {
		cfg.Password = password
	}
	if dbname := os.Getenv("TEST_POSTGRES_DATABASE"); dbname != "" {
		cfg.Database = dbname
	}

	return cfg
}

// skipIfNoDatabase skips test if database is not available
func skipIfNoDatabase(t *testing.T, db *PostgresDB) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := db.Ping(ctx); err != nil {
		t.Skipf("Skipping test: database not available: %v", err)
	}
}

func TestDefaultPostgresConfig(t *testing.T) {
	cfg := DefaultPostgresConfig()

	if cfg.Host != "localhost" {
		t.Errorf("Expected host 'localhost', got '%s'", cfg.Host)
	}
	if cfg.Port != 5432 {
		t.Errorf("Expected port 5432, got %d", cfg.Port)
	}
	if cfg.MaxConns != 25 {
		t.Errorf("Expected max conns 25, got %d", cfg.MaxConns)
	}
	if cfg.MinConns != 5 {
		t.Errorf("Expected min conns 5, got %d", cfg.MinConns)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("Expected max retries 3, got %d", cfg.MaxRetries)
	}
}

func TestPostgresConfig_DSN(t *testing.T) {
	cfg := &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "testuser",
		Password: "testpass",
		Database: "testdb",
		SSLMode:  "disable",
	}

	dsn := cfg.DSN()
	expected := "host=localhost port=5432 user=testuser password=testpass dbname=testdb sslmode=disable"

	if dsn != expected {
		t.Errorf("DSN mismatch:\nExpected: %s\nGot: %s", expected, dsn)
	}
}

func TestPostgresConfig_WithDatabase(t *testing.T) {
	base := DefaultPostgresConfig()
	base.MaxConns = 7

	tenant := base.WithDatabase("tenant_abc")

	assert.Equal(t, "tenant_abc", tenant.Database)
	assert.Equal(t, int32(7), tenant.MaxConns)
	assert.Equal(t, "postgres", base.Database, "original config must not change")
}

func TestIsUniqueViolation(t *testing.T) {
	assert.True(t, IsUniqueViolation(&pgconn.PgError{Code: "23505"}))
	assert.True(t, IsUniqueViolation(fmt.Errorf("wrapped: %w", &pgconn.PgError{Code: "23505"})))
	assert.False(t, IsUniqueViolation(&pgconn.PgError{Code: "23503"}))
	assert.False(t, IsUniqueViolation(errors.New("boom")))
	assert.True(t, IsForeignKeyViolation(&pgconn.PgError{Code: "23503"}))
}

func TestNewPostgres_InvalidConfig(t *testing.T) {
	cfg := &PostgresConfig{
		Host:           "invalid-host-that-does-not-exist",
		Port:           9999,
		User:           "invalid",
		Password:       "invalid",
		Database:       "invalid",
		SSLMode:        "disable",
		MaxRetries:     0,
		RetryInterval:  100 * time.Millisecond,
		ConnectTimeout: 1 * time.Second,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := NewPostgres(ctx, cfg)
	if err == nil {
		t.Error("Expected error for invalid config, got nil")
	}
}

// Integration tests - run only when database is available

func TestNewPostgres_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := getTestConfig()
	ctx := context.Background()

	db, err := NewPostgres(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer db.Close()

	// Test Ping
	if err := db.Ping(ctx); err != nil {
		t.Errorf("Ping failed: %v", err)
	}

	// Test IsConnected
	if !db.IsConnected(ctx) {
		t.Error("Expected IsConnected to return true")
	}

	// Test Pool not nil
	if db.Pool() == nil {
		t.Error("Expected Pool() to return non-nil")
	}

	// Test Stats
	stats := db.Stats()
	if stats == nil {
		t.Error("Expected Stats() to return non-nil")
	}
}

func TestPostgresDB_HealthCheck_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := getTestConfig()
	ctx := context.Background()

	db, err := NewPostgres(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer db.Close()

	if err := db.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestMigrate_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	ctx := context.Background()
	db, err := NewPostgres(ctx, getTestConfig())
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer db.Close()

	suffix := strconv.FormatInt(time.Now().UnixNano(), 36)
	table := "migrate_probe_" + suffix
	migrations := fstest.MapFS{
		"0001_" + suffix + ".sql": {Data: []byte("CREATE TABLE " + table + " (id BIGSERIAL PRIMARY KEY)")},
		"0002_" + suffix + ".sql": {Data: []byte("ALTER TABLE " + table + " ADD COLUMN name TEXT")},
		"README.md":               {Data: []byte("ignored")},
	}
	defer func() {
		_ = db.Exec(ctx, "DROP TABLE IF EXISTS "+table)
		_ = db.Exec(ctx, "DELETE FROM schema_migrations WHERE version LIKE $1", "%_"+suffix)
	}()

	applied, err := Migrate(ctx, db.Pool(), migrations)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_" + suffix, "0002_" + suffix}, applied)

	applied, err = Migrate(ctx, db.Pool(), migrations)
	require.NoError(t, err)
	assert.Empty(t, applied, "applied migrations are skipped")

	require.NoError(t, db.Exec(ctx, "INSERT INTO "+table+" (name) VALUES ($1)", "probe"))
}

func TestMigrate_FailureRollsBack_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	ctx := context.Background()
	db, err := NewPostgres(ctx, getTestConfig())
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}
	defer db.Close()

	version := "0001_broken_" + strconv.FormatInt(time.Now().UnixNano(), 36)
	_, err = Migrate(ctx, db.Pool(), fstest.MapFS{
		version + ".sql": {Data: []byte("CREATE TABLE nope (")},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), version)

	var recorded bool
	require.NoError(t, db.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE version = $1)", version,
	).Scan(&recorded))
	assert.False(t, recorded)
}

func TestPostgresDB_Close(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := getTestConfig()
	ctx := context.Background()

	db, err := NewPostgres(ctx, cfg)
	if err != nil {
		t.Fatalf("Failed to connect to postgres: %v", err)
	}

	// Close should not panic
	db.Close()

	// After close, ping should fail
	err = db.Ping(ctx)
	if err == nil {
		t.Error("Expected Ping to fail after Close")
	}
}
