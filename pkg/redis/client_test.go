package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getTestConfig() *Config {
	cfg := DefaultConfig()

	if host := os.Getenv("TEST_REDIS_HOST"); host != "" {
		cfg.Host = host
	}
	if password := os.Getenv("TEST_REDIS_PASSWORD"); password != "" {
		cfg.Password = password
	}

	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "localhost", cfg.Host)
	assert.Equal(t, 6379, cfg.Port)
	assert.Equal(t, "localhost:6379", cfg.Addr())
	assert.Equal(t, 50, cfg.PoolSize)
}

func TestNewClient_Unreachable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Host = "127.0.0.1"
	cfg.Port = 1
	cfg.DialTimeout = 200 * time.Millisecond
	cfg.MaxRetries = 0

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	_, err := NewClient(ctx, cfg)
	assert.Error(t, err)
}

const incrScript = `
local v = redis.call("INCRBY", KEYS[1], ARGV[1])
redis.call("EXPIRE", KEYS[1], ARGV[2])
return v
`

func TestClient_Scripts_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, getTestConfig())
	require.NoError(t, err)
	defer client.Close()

	key := "test:script:incr"
	defer client.Del(ctx, key)

	_, err = client.LoadScript(ctx, "incr", incrScript)
	require.NoError(t, err)

	v, err := client.EvalShaByName(ctx, "incr", []string{key}, 3, 60).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	// Flushing the script cache must not break callers
	require.NoError(t, client.ScriptFlush(ctx).Err())

	v, err = client.EvalShaByName(ctx, "incr", []string{key}, 2, 60).Int64()
	require.NoError(t, err)
	assert.Equal(t, int64(5), v)
}

func TestClient_EvalShaByName_Unknown_Integration(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	ctx := context.Background()
	client, err := NewClient(ctx, getTestConfig())
	require.NoError(t, err)
	defer client.Close()

	err = client.EvalShaByName(ctx, "missing", []string{"k"}).Err()
	assert.Error(t, err)
}
