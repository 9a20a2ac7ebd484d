// Package provision creates tenants together with their isolated databases.
package provision

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/prohmpiriya/taskflow/internal/directory"
	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/pkg/logger"
)

// Storage creates and migrates physical tenant databases
type Storage interface {
	CreateDatabase(ctx context.Context, name string) error
	Migrate(ctx context.Context, rec *domain.StorageRecord) error
}

// Invalidator drops cached tenant handles. *tenantdb.Registry satisfies it.
type Invalidator interface {
	Invalidate(tenantID string)
}

// Target is where new tenant databases are placed
type Target struct {
	Host     string
	Port     int
	User     string
	Password string
	SSLMode  string
}

// Service provisions and deactivates tenants
type Service struct {
	dir     directory.Directory
	storage Storage
	cache   Invalidator
	target  Target
	now     func() time.Time
	newID   func() string
	log     *logger.Logger
}

// NewService creates a provisioning service
func NewService(dir directory.Directory, storage Storage, cache Invalidator, target Target, log *logger.Logger) *Service {
	if log == nil {
		log = logger.Nop()
	}
	return &Service{
		dir:     dir,
		storage: storage,
		cache:   cache,
		target:  target,
		now:     time.Now,
		newID:   uuid.NewString,
		log:     log,
	}
}

// DatabaseName returns the physical database name of a tenant
func DatabaseName(tenantID string) string {
	return "tenant_" + strings.ReplaceAll(tenantID, "-", "")
}

// Provision registers a tenant, creates its database and applies the tenant
// schema. The tenant stays inactive until every step has succeeded, so a
// half-provisioned tenant can never be resolved.
func (s *Service) Provision(ctx context.Context, name string) (*domain.Tenant, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.Required("name")
	}

	exists, err := s.dir.ExistsByName(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, &domain.ValidationError{Field: "name", Message: "already exists"}
	}

	tenant := &domain.Tenant{
		ID:        s.newID(),
		Name:      name,
		IsActive:  false,
		CreatedAt: s.now().UTC(),
	}
	if err := s.dir.CreateTenant(ctx, tenant); err != nil {
		return nil, fmt.Errorf("failed to register tenant: %w", err)
	}
	log := s.log.WithFields(zap.String("tenant_id", tenant.ID), zap.String("tenant_name", name))

	rec := s.record(tenant.ID)
	if err := s.storage.CreateDatabase(ctx, rec.DBName); err != nil {
		log.Error("failed to create tenant database", zap.String("db_name", rec.DBName), zap.Error(err))
		return nil, fmt.Errorf("%w: create database: %v", domain.ErrStorageUnavailable, err)
	}
	if err := s.dir.PutStorageRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to store connection parameters: %w", err)
	}
	if err := s.storage.Migrate(ctx, rec); err != nil {
		log.Error("failed to migrate tenant database", zap.String("db_name", rec.DBName), zap.Error(err))
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrStorageUnavailable, err)
	}

	if err := s.dir.SetActive(ctx, tenant.ID, true); err != nil {
		return nil, fmt.Errorf("failed to activate tenant: %w", err)
	}
	tenant.IsActive = true

	log.Info("tenant provisioned", zap.String("db", rec.String()))
	return tenant, nil
}

// Resume finishes a provisioning run that stopped before activation. All
// steps are idempotent.
func (s *Service) Resume(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	tenant, err := s.dir.GetTenant(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if tenant.IsActive {
		return tenant, nil
	}

	rec, err := s.dir.GetStorageRecord(ctx, tenantID)
	if errors.Is(err, domain.ErrTenantNotFound) {
		rec = s.record(tenantID)
		err = s.dir.PutStorageRecord(ctx, rec)
	}
	if err != nil {
		return nil, err
	}
	if err := s.storage.CreateDatabase(ctx, rec.DBName); err != nil {
		return nil, fmt.Errorf("%w: create database: %v", domain.ErrStorageUnavailable, err)
	}
	if err := s.storage.Migrate(ctx, rec); err != nil {
		return nil, fmt.Errorf("%w: migrate: %v", domain.ErrStorageUnavailable, err)
	}
	if err := s.dir.SetActive(ctx, tenantID, true); err != nil {
		return nil, err
	}
	tenant.IsActive = true
	return tenant, nil
}

func (s *Service) record(tenantID string) *domain.StorageRecord {
	return &domain.StorageRecord{
		TenantID: tenantID,
		Host:     s.target.Host,
		Port:     s.target.Port,
		User:     s.target.User,
		Password: s.target.Password,
		DBName:   DatabaseName(tenantID),
		SSLMode:  s.target.SSLMode,
	}
}

// Deactivate marks a tenant inactive and closes its cached handle. Data is
// kept.
func (s *Service) Deactivate(ctx context.Context, tenantID string) error {
	if err := s.dir.SetActive(ctx, tenantID, false); err != nil {
		return err
	}
	if s.cache != nil {
		s.cache.Invalidate(tenantID)
	}
	s.log.Info("tenant deactivated", zap.String("tenant_id", tenantID))
	return nil
}

// Activate enables an inactive tenant. The database and schema steps of
// Resume run first, so a tenant whose provisioning stopped before the schema
// was applied is completed instead of served without tables.
func (s *Service) Activate(ctx context.Context, tenantID string) error {
	if _, err := s.Resume(ctx, tenantID); err != nil {
		return err
	}
	s.log.Info("tenant activated", zap.String("tenant_id", tenantID))
	return nil
}

// Tenant returns a tenant regardless of activation state
func (s *Service) Tenant(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	return s.dir.GetTenant(ctx, tenantID)
}
