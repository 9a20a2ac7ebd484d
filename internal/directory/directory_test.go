package directory

import (
	"context"
	"os"
	"strconv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/pkg/database"
)

func exerciseDirectory(t *testing.T, d Directory) {
	ctx := context.Background()
	id := uuid.New().String()
	name := "acme-" + id[:8]

	_, err := d.GetActiveTenant(ctx, id)
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)

	require.NoError(t, d.CreateTenant(ctx, &domain.Tenant{
		ID:        id,
		Name:      name,
		IsActive:  true,
		CreatedAt: time.Now().UTC(),
	}))

	exists, err := d.ExistsByName(ctx, name)
	require.NoError(t, err)
	assert.True(t, exists)

	err = d.CreateTenant(ctx, &domain.Tenant{ID: uuid.New().String(), Name: name, CreatedAt: time.Now()})
	assert.ErrorIs(t, err, domain.ErrValidation)

	got, err := d.GetActiveTenant(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, name, got.Name)

	_, err = d.GetStorageRecord(ctx, id)
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)

	rec := &domain.StorageRecord{
		TenantID: id,
		Host:     "db.internal",
		Port:     5432,
		User:     "tenant",
		Password: "secret",
		DBName:   "tenant_" + id[:8],
		SSLMode:  "disable",
	}
	require.NoError(t, d.PutStorageRecord(ctx, rec))

	stored, err := d.GetStorageRecord(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, rec.DBName, stored.DBName)
	assert.Equal(t, "secret", stored.Password)

	require.NoError(t, d.SetActive(ctx, id, false))
	_, err = d.GetActiveTenant(ctx, id)
	assert.ErrorIs(t, err, domain.ErrTenantInactive)

	inactive, err := d.GetTenant(ctx, id)
	require.NoError(t, err)
	assert.False(t, inactive.IsActive)

	assert.ErrorIs(t, d.SetActive(ctx, uuid.New().String(), true), domain.ErrTenantNotFound)
}

func TestMemoryDirectory(t *testing.T) {
	exerciseDirectory(t, NewMemoryDirectory())
}

func TestMemoryDirectory_StorageRecordRequiresTenant(t *testing.T) {
	d := NewMemoryDirectory()
	err := d.PutStorageRecord(context.Background(), &domain.StorageRecord{TenantID: "missing"})
	assert.ErrorIs(t, err, domain.ErrTenantNotFound)
}

func TestPostgresDirectory(t *testing.T) {
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := database.DefaultPostgresConfig()
	if v := os.Getenv("TEST_POSTGRES_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("TEST_POSTGRES_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		require.NoError(t, err)
		cfg.Port = port
	}
	if v := os.Getenv("TEST_POSTGRES_PASSWORD"); v != "" {
		cfg.Password = v
	}
	cfg.Database = "taskflow_master_test"
	cfg.MaxRetries = 0

	ctx := context.Background()
	db, err := database.NewPostgres(ctx, cfg)
	require.NoError(t, err)
	defer db.Close()

	_, err = database.Migrate(ctx, db.Pool(), Migrations())
	require.NoError(t, err)

	exerciseDirectory(t, NewPostgresDirectory(db.Pool()))
}
