package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/dto"
	"github.com/prohmpiriya/taskflow/internal/provision"
	pkgmw "github.com/prohmpiriya/taskflow/pkg/middleware"
	"github.com/prohmpiriya/taskflow/pkg/response"
)

// TenantHandler handles tenant administration HTTP requests
type TenantHandler struct {
	provisioner *provision.Service
}

// NewTenantHandler creates a new TenantHandler
func NewTenantHandler(provisioner *provision.Service) *TenantHandler {
	return &TenantHandler{provisioner: provisioner}
}

// RegisterRoutes mounts the admin routes on rg
func (h *TenantHandler) RegisterRoutes(rg *gin.RouterGroup) {
	tenants := rg.Group("/tenants")
	tenants.POST("", h.Create)
	tenants.GET("/:id", h.GetByID)
	tenants.POST("/:id/resume", h.Resume)
	tenants.POST("/:id/activate", h.Activate)
	tenants.POST("/:id/deactivate", h.Deactivate)
}

func tenantID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest("Invalid tenant ID"))
		return "", false
	}
	pkgmw.SetAuditTenantID(c, id)
	return id, true
}

func tenantError(c *gin.Context, err error) {
	var ve *domain.ValidationError
	switch {
	case errors.Is(err, domain.ErrTenantNotFound):
		c.JSON(http.StatusNotFound, response.NotFound("Tenant not found"))
	case errors.As(err, &ve) && ve.Field == "name" && ve.Message == "already exists":
		c.JSON(http.StatusConflict, response.Error("TENANT_EXISTS", "Tenant with this name already exists"))
	default:
		fail(c, err)
	}
}

// Create handles tenant provisioning
// POST /admin/tenants
func (h *TenantHandler) Create(c *gin.Context) {
	pkgmw.SetAuditAction(c, pkgmw.AuditActionProvision)

	var req dto.CreateTenantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}
	pkgmw.SetAuditMetadata(c, map[string]any{"name": req.Name})

	tenant, err := h.provisioner.Provision(c.Request.Context(), req.Name)
	if err != nil {
		tenantError(c, err)
		return
	}
	pkgmw.SetAuditTenantID(c, tenant.ID)

	c.JSON(http.StatusCreated, response.Success(tenant))
}

// GetByID handles retrieving a tenant
// GET /admin/tenants/:id
func (h *TenantHandler) GetByID(c *gin.Context) {
	id, ok := tenantID(c)
	if !ok {
		return
	}

	tenant, err := h.provisioner.Tenant(c.Request.Context(), id)
	if err != nil {
		tenantError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(tenant))
}

// Resume handles finishing an interrupted provisioning run
// POST /admin/tenants/:id/resume
func (h *TenantHandler) Resume(c *gin.Context) {
	pkgmw.SetAuditAction(c, pkgmw.AuditActionResume)
	id, ok := tenantID(c)
	if !ok {
		return
	}

	tenant, err := h.provisioner.Resume(c.Request.Context(), id)
	if err != nil {
		tenantError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(tenant))
}

// Activate handles re-enabling a tenant
// POST /admin/tenants/:id/activate
func (h *TenantHandler) Activate(c *gin.Context) {
	pkgmw.SetAuditAction(c, pkgmw.AuditActionActivate)
	id, ok := tenantID(c)
	if !ok {
		return
	}

	if err := h.provisioner.Activate(c.Request.Context(), id); err != nil {
		tenantError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(gin.H{"message": "Tenant activated"}))
}

// Deactivate handles disabling a tenant. Its data is kept.
// POST /admin/tenants/:id/deactivate
func (h *TenantHandler) Deactivate(c *gin.Context) {
	pkgmw.SetAuditAction(c, pkgmw.AuditActionDeactivate)
	id, ok := tenantID(c)
	if !ok {
		return
	}

	if err := h.provisioner.Deactivate(c.Request.Context(), id); err != nil {
		tenantError(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(gin.H{"message": "Tenant deactivated"}))
}
