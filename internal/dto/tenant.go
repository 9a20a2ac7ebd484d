package dto

// CreateTenantRequest represents request to provision a tenant
type CreateTenantRequest struct {
	Name string `json:"name" binding:"required,min=2,max=255"`
}
