package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/taskflow/internal/analytics"
	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/dto"
	"github.com/prohmpiriya/taskflow/internal/lifecycle"
	"github.com/prohmpiriya/taskflow/pkg/response"
)

// ProjectHandler handles project and snapshot HTTP requests
type ProjectHandler struct {
	engine    *lifecycle.Engine
	analytics *analytics.Service
	now       func() time.Time
}

// NewProjectHandler creates a new ProjectHandler
func NewProjectHandler(engine *lifecycle.Engine, analytics *analytics.Service) *ProjectHandler {
	return &ProjectHandler{engine: engine, analytics: analytics, now: time.Now}
}

// RegisterRoutes mounts the project routes on rg
func (h *ProjectHandler) RegisterRoutes(rg *gin.RouterGroup) {
	projects := rg.Group("/projects")
	projects.GET("", h.List)
	projects.POST("", h.Create)
	projects.GET("/:id", h.Get)
	projects.PATCH("/:id", h.Update)
	projects.DELETE("/:id", h.Delete)
	projects.GET("/:id/snapshots/:date", h.Snapshot)
}

// List handles listing projects
// GET /api/v1/projects
func (h *ProjectHandler) List(c *gin.Context) {
	handle, actor := scope(c)
	projects, err := h.engine.ListProjects(c.Request.Context(), handle, actor)
	if err != nil {
		fail(c, err)
		return
	}
	if projects == nil {
		projects = []*domain.Project{}
	}

	c.JSON(http.StatusOK, response.Success(projects))
}

// Create handles project creation
// POST /api/v1/projects
func (h *ProjectHandler) Create(c *gin.Context) {
	var req dto.CreateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	handle, actor := scope(c)
	project, err := h.engine.CreateProject(c.Request.Context(), handle, actor, req.Name, req.Description)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(project))
}

// Get handles retrieving a project by ID
// GET /api/v1/projects/:id
func (h *ProjectHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id", "project")
	if !ok {
		return
	}

	handle, actor := scope(c)
	project, err := h.engine.GetProject(c.Request.Context(), handle, actor, id)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(project))
}

// Update handles project update
// PATCH /api/v1/projects/:id
func (h *ProjectHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id", "project")
	if !ok {
		return
	}

	var req dto.UpdateProjectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}
	if valid, msg := req.Validate(); !valid {
		c.JSON(http.StatusBadRequest, response.Error("INVALID_UPDATE", msg))
		return
	}

	handle, actor := scope(c)
	project, err := h.engine.UpdateProject(c.Request.Context(), handle, actor, id, req.Changes())
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(project))
}

// Delete handles project deletion. Tasks of the project go with it.
// DELETE /api/v1/projects/:id
func (h *ProjectHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id", "project")
	if !ok {
		return
	}

	handle, actor := scope(c)
	if err := h.engine.DeleteProject(c.Request.Context(), handle, actor, id); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(gin.H{"message": "Project deleted successfully"}))
}

// Snapshot handles retrieving the daily analytics snapshot. The date is
// YYYY-MM-DD or "today".
// GET /api/v1/projects/:id/snapshots/:date
func (h *ProjectHandler) Snapshot(c *gin.Context) {
	id, ok := pathID(c, "id", "project")
	if !ok {
		return
	}

	day := h.now()
	if raw := c.Param("date"); raw != "today" {
		parsed, err := time.Parse(time.DateOnly, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, response.BadRequest("Date must be formatted as YYYY-MM-DD"))
			return
		}
		day = parsed
	}

	handle, actor := scope(c)
	snap, err := h.analytics.GetSnapshot(c.Request.Context(), handle, actor, id, day)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(snap))
}
