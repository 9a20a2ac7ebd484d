package tenantdb

import (
	"context"
	"fmt"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/store"
	"github.com/prohmpiriya/taskflow/pkg/database"
)

// PostgresConnector opens tenant databases with the pool policy of the
// master database
type PostgresConnector struct {
	baseline *database.PostgresConfig
}

// NewPostgresConnector creates a connector. Only the pool, timeout, retry and
// timezone settings of baseline are used; the target comes from the record.
func NewPostgresConnector(baseline *database.PostgresConfig) *PostgresConnector {
	if baseline == nil {
		baseline = database.DefaultPostgresConfig()
	}
	return &PostgresConnector{baseline: baseline}
}

// Config returns the pool config used for rec
func (c *PostgresConnector) Config(rec *domain.StorageRecord) *database.PostgresConfig {
	cfg := c.baseline.WithDatabase(rec.DBName)
	cfg.Host = rec.Host
	cfg.Port = rec.Port
	cfg.User = rec.User
	cfg.Password = rec.Password
	if rec.SSLMode != "" {
		cfg.SSLMode = rec.SSLMode
	}
	return cfg
}

// Connect implements Connector
func (c *PostgresConnector) Connect(ctx context.Context, rec *domain.StorageRecord) (store.Store, error) {
	db, err := database.NewPostgres(ctx, c.Config(rec))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return store.NewPostgresStore(db.Pool()), nil
}
