// Package directory is the master record of tenants and the connection
// parameters of their databases. It never holds tenant data.
package directory

import (
	"context"
	"embed"
	"io/fs"

	"github.com/prohmpiriya/taskflow/internal/domain"
)

//go:embed migrations/*.sql
var masterMigrations embed.FS

// Migrations returns the master database schema
func Migrations() fs.FS {
	sub, _ := fs.Sub(masterMigrations, "migrations")
	return sub
}

// Directory defines the master-store operations
type Directory interface {
	// GetActiveTenant returns the tenant, domain.ErrTenantNotFound or domain.ErrTenantInactive
	GetActiveTenant(ctx context.Context, id string) (*domain.Tenant, error)
	// GetTenant returns the tenant regardless of activation state
	GetTenant(ctx context.Context, id string) (*domain.Tenant, error)
	// ExistsByName checks if a tenant with this name exists
	ExistsByName(ctx context.Context, name string) (bool, error)
	// CreateTenant inserts a new tenant
	CreateTenant(ctx context.Context, t *domain.Tenant) error
	// SetActive flips the activation flag
	SetActive(ctx context.Context, id string, active bool) error

	// GetStorageRecord returns the connection parameters of a tenant database
	GetStorageRecord(ctx context.Context, tenantID string) (*domain.StorageRecord, error)
	// PutStorageRecord stores the connection parameters, once per tenant
	PutStorageRecord(ctx context.Context, rec *domain.StorageRecord) error
}

func activeOrErr(t *domain.Tenant) (*domain.Tenant, error) {
	if !t.IsActive {
		return nil, domain.ErrTenantInactive
	}
	return t, nil
}
