package directory

import (
	"context"
	"sync"

	"github.com/prohmpiriya/taskflow/internal/domain"
)

// MemoryDirectory is an in-memory Directory for tests and local development
type MemoryDirectory struct {
	mu      sync.RWMutex
	tenants map[string]*domain.Tenant
	storage map[string]*domain.StorageRecord
}

// NewMemoryDirectory creates an empty directory
func NewMemoryDirectory() *MemoryDirectory {
	return &MemoryDirectory{
		tenants: make(map[string]*domain.Tenant),
		storage: make(map[string]*domain.StorageRecord),
	}
}

// GetActiveTenant implements Directory
func (d *MemoryDirectory) GetActiveTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	t, err := d.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	return activeOrErr(t)
}

// GetTenant implements Directory
func (d *MemoryDirectory) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.StorageError(err)
	}
	d.mu.RLock()
	defer d.mu.RUnlock()

	t, ok := d.tenants[id]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	cp := *t
	return &cp, nil
}

// ExistsByName implements Directory
func (d *MemoryDirectory) ExistsByName(ctx context.Context, name string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, t := range d.tenants {
		if t.Name == name {
			return true, nil
		}
	}
	return false, nil
}

// CreateTenant implements Directory
func (d *MemoryDirectory) CreateTenant(ctx context.Context, t *domain.Tenant) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, existing := range d.tenants {
		if existing.Name == t.Name {
			return &domain.ValidationError{Field: "name", Message: "already exists"}
		}
	}
	cp := *t
	d.tenants[t.ID] = &cp
	return nil
}

// SetActive implements Directory
func (d *MemoryDirectory) SetActive(ctx context.Context, id string, active bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.tenants[id]
	if !ok {
		return domain.ErrTenantNotFound
	}
	t.IsActive = active
	return nil
}

// GetStorageRecord implements Directory
func (d *MemoryDirectory) GetStorageRecord(ctx context.Context, tenantID string) (*domain.StorageRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	rec, ok := d.storage[tenantID]
	if !ok {
		return nil, domain.ErrTenantNotFound
	}
	cp := *rec
	return &cp, nil
}

// PutStorageRecord implements Directory
func (d *MemoryDirectory) PutStorageRecord(ctx context.Context, rec *domain.StorageRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.tenants[rec.TenantID]; !ok {
		return domain.ErrTenantNotFound
	}
	if _, ok := d.storage[rec.TenantID]; ok {
		return &domain.ValidationError{Field: "tenant_id", Message: "already has a storage record"}
	}
	cp := *rec
	d.storage[rec.TenantID] = &cp
	return nil
}
