package domain

import (
	"fmt"
	"time"
)

// Tenant is an organisation owning an isolated dataset. Tenants are never
// removed, only deactivated.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at"`
}

// StorageRecord holds the connection parameters of a tenant database
type StorageRecord struct {
	TenantID string `json:"tenant_id"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	User     string `json:"user"`
	Password string `json:"-"`
	DBName   string `json:"db_name"`
	SSLMode  string `json:"ssl_mode"`
}

func (r StorageRecord) String() string {
	return fmt.Sprintf("%s@%s:%d/%s", r.User, r.Host, r.Port, r.DBName)
}
