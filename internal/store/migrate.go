package store

import (
	"embed"
	"io/fs"
)

//go:embed migrations/*.sql
var tenantMigrations embed.FS

// TenantMigrations returns the schema applied to every tenant database
func TenantMigrations() fs.FS {
	sub, _ := fs.Sub(tenantMigrations, "migrations")
	return sub
}
