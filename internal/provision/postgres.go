package provision

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/store"
	"github.com/prohmpiriya/taskflow/internal/tenantdb"
	"github.com/prohmpiriya/taskflow/pkg/database"
)

// PostgresStorage creates tenant databases through a maintenance connection
type PostgresStorage struct {
	admin     *pgxpool.Pool
	connector *tenantdb.PostgresConnector
}

// NewPostgresStorage creates a PostgresStorage. admin must be connected to a
// database other than the ones it creates (usually "postgres").
func NewPostgresStorage(admin *pgxpool.Pool, connector *tenantdb.PostgresConnector) *PostgresStorage {
	return &PostgresStorage{admin: admin, connector: connector}
}

// CreateDatabase implements Storage. An existing database is not an error.
func (p *PostgresStorage) CreateDatabase(ctx context.Context, name string) error {
	_, err := p.admin.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize())
	if err != nil && !isDuplicateDatabase(err) {
		return fmt.Errorf("failed to create database %s: %w", name, err)
	}
	return nil
}

// Migrate implements Storage
func (p *PostgresStorage) Migrate(ctx context.Context, rec *domain.StorageRecord) error {
	cfg := p.connector.Config(rec)
	cfg.MinConns = 0
	cfg.MaxConns = 2

	db, err := database.NewPostgres(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	if _, err := database.Migrate(ctx, db.Pool(), store.TenantMigrations()); err != nil {
		return err
	}
	return nil
}

func isDuplicateDatabase(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "42P04"
}
