package directory

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/pkg/database"
)

// PostgresDirectory implements Directory on the master database
type PostgresDirectory struct {
	pool *pgxpool.Pool
}

// NewPostgresDirectory creates a new PostgresDirectory
func NewPostgresDirectory(pool *pgxpool.Pool) *PostgresDirectory {
	return &PostgresDirectory{pool: pool}
}

// GetActiveTenant implements Directory
func (d *PostgresDirectory) GetActiveTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	t, err := d.GetTenant(ctx, id)
	if err != nil {
		return nil, err
	}
	return activeOrErr(t)
}

// GetTenant implements Directory
func (d *PostgresDirectory) GetTenant(ctx context.Context, id string) (*domain.Tenant, error) {
	query := `
		SELECT id::text, name, is_active, created_at
		FROM tenants
		WHERE id::text = $1
	`
	t := &domain.Tenant{}
	err := d.pool.QueryRow(ctx, query, id).Scan(
		&t.ID,
		&t.Name,
		&t.IsActive,
		&t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, directoryErr("get tenant", err)
	}
	return t, nil
}

// ExistsByName implements Directory
func (d *PostgresDirectory) ExistsByName(ctx context.Context, name string) (bool, error) {
	var exists bool
	err := d.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tenants WHERE name = $1)`, name).Scan(&exists)
	if err != nil {
		return false, directoryErr("check tenant name", err)
	}
	return exists, nil
}

// CreateTenant implements Directory
func (d *PostgresDirectory) CreateTenant(ctx context.Context, t *domain.Tenant) error {
	query := `
		INSERT INTO tenants (id, name, is_active, created_at)
		VALUES ($1, $2, $3, $4)
	`
	_, err := d.pool.Exec(ctx, query, t.ID, t.Name, t.IsActive, t.CreatedAt)
	if err != nil {
		if database.IsUniqueViolation(err) {
			return &domain.ValidationError{Field: "name", Message: "already exists"}
		}
		return directoryErr("create tenant", err)
	}
	return nil
}

// SetActive implements Directory
func (d *PostgresDirectory) SetActive(ctx context.Context, id string, active bool) error {
	tag, err := d.pool.Exec(ctx, `UPDATE tenants SET is_active = $2 WHERE id::text = $1`, id, active)
	if err != nil {
		return directoryErr("update tenant", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTenantNotFound
	}
	return nil
}

// GetStorageRecord implements Directory
func (d *PostgresDirectory) GetStorageRecord(ctx context.Context, tenantID string) (*domain.StorageRecord, error) {
	query := `
		SELECT tenant_id::text, host, port, db_user, password, db_name, ssl_mode
		FROM tenant_storage
		WHERE tenant_id::text = $1
	`
	rec := &domain.StorageRecord{}
	err := d.pool.QueryRow(ctx, query, tenantID).Scan(
		&rec.TenantID,
		&rec.Host,
		&rec.Port,
		&rec.User,
		&rec.Password,
		&rec.DBName,
		&rec.SSLMode,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrTenantNotFound
		}
		return nil, directoryErr("get storage record", err)
	}
	return rec, nil
}

// PutStorageRecord implements Directory
func (d *PostgresDirectory) PutStorageRecord(ctx context.Context, rec *domain.StorageRecord) error {
	query := `
		INSERT INTO tenant_storage (tenant_id, host, port, db_user, password, db_name, ssl_mode)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := d.pool.Exec(ctx, query,
		rec.TenantID,
		rec.Host,
		rec.Port,
		rec.User,
		rec.Password,
		rec.DBName,
		rec.SSLMode,
	)
	if err != nil {
		if database.IsForeignKeyViolation(err) {
			return domain.ErrTenantNotFound
		}
		if database.IsUniqueViolation(err) {
			return &domain.ValidationError{Field: "tenant_id", Message: "already has a storage record"}
		}
		return directoryErr("put storage record", err)
	}
	return nil
}

// directoryErr reports master store failures as storage unavailability
// unless the context expired first
func directoryErr(op string, err error) error {
	classified := domain.StorageError(err)
	if errors.Is(classified, domain.ErrStorageTimeout) {
		return fmt.Errorf("directory %s: %w", op, classified)
	}
	return fmt.Errorf("directory %s: %w: %v", op, domain.ErrStorageUnavailable, err)
}
