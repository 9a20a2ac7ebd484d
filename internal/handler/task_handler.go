package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/dto"
	"github.com/prohmpiriya/taskflow/internal/lifecycle"
	"github.com/prohmpiriya/taskflow/pkg/response"
)

// TaskHandler handles task HTTP requests
type TaskHandler struct {
	engine *lifecycle.Engine
}

// NewTaskHandler creates a new TaskHandler
func NewTaskHandler(engine *lifecycle.Engine) *TaskHandler {
	return &TaskHandler{engine: engine}
}

// RegisterRoutes mounts the task routes on rg
func (h *TaskHandler) RegisterRoutes(rg *gin.RouterGroup) {
	tasks := rg.Group("/tasks")
	tasks.GET("", h.List)
	tasks.POST("", h.Create)
	tasks.GET("/:id", h.Get)
	tasks.PATCH("/:id", h.Update)
	tasks.DELETE("/:id", h.Delete)
	tasks.GET("/:id/activities", h.Activities)
	tasks.POST("/:id/comments", h.Comment)
	tasks.GET("/:id/sla", h.SLA)
}

// List handles listing tasks
// GET /api/v1/tasks?project_id=&status=&assignee=
func (h *TaskHandler) List(c *gin.Context) {
	var query dto.ListTasksQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}
	filter, err := query.Filter()
	if err != nil {
		fail(c, err)
		return
	}

	handle, actor := scope(c)
	tasks := make([]*domain.Task, 0)
	for t, err := range h.engine.ListTasks(c.Request.Context(), handle, actor, filter) {
		if err != nil {
			fail(c, err)
			return
		}
		tasks = append(tasks, t)
	}

	c.JSON(http.StatusOK, response.Success(tasks))
}

// Create handles task creation
// POST /api/v1/tasks
func (h *TaskHandler) Create(c *gin.Context) {
	var req dto.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	handle, actor := scope(c)
	task, err := h.engine.CreateTask(c.Request.Context(), handle, actor, lifecycle.CreateTaskInput{
		ProjectID:   req.ProjectID,
		Title:       req.Title,
		Description: req.Description,
		Assignee:    req.Assignee,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(task))
}

// Get handles retrieving a task by ID
// GET /api/v1/tasks/:id
func (h *TaskHandler) Get(c *gin.Context) {
	id, ok := pathID(c, "id", "task")
	if !ok {
		return
	}

	handle, actor := scope(c)
	task, err := h.engine.GetTask(c.Request.Context(), handle, actor, id)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(task))
}

// Update handles partial task updates including status transitions
// PATCH /api/v1/tasks/:id
func (h *TaskHandler) Update(c *gin.Context) {
	id, ok := pathID(c, "id", "task")
	if !ok {
		return
	}

	var req dto.UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}
	if valid, msg := req.Validate(); !valid {
		c.JSON(http.StatusBadRequest, response.Error("INVALID_UPDATE", msg))
		return
	}

	handle, actor := scope(c)
	task, err := h.engine.UpdateTask(c.Request.Context(), handle, actor, id, req.Changes())
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(task))
}

// Delete handles soft deletion
// DELETE /api/v1/tasks/:id
func (h *TaskHandler) Delete(c *gin.Context) {
	id, ok := pathID(c, "id", "task")
	if !ok {
		return
	}

	handle, actor := scope(c)
	if err := h.engine.SoftDelete(c.Request.Context(), handle, actor, id); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(gin.H{"message": "Task deleted successfully"}))
}

// Activities handles retrieving the audit history of a task
// GET /api/v1/tasks/:id/activities
func (h *TaskHandler) Activities(c *gin.Context) {
	id, ok := pathID(c, "id", "task")
	if !ok {
		return
	}

	handle, actor := scope(c)
	acts, err := h.engine.ListActivities(c.Request.Context(), handle, actor, id)
	if err != nil {
		fail(c, err)
		return
	}
	if acts == nil {
		acts = []domain.Activity{}
	}

	c.JSON(http.StatusOK, response.Success(acts))
}

// Comment handles adding a comment
// POST /api/v1/tasks/:id/comments
func (h *TaskHandler) Comment(c *gin.Context) {
	id, ok := pathID(c, "id", "task")
	if !ok {
		return
	}

	var req dto.CommentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	handle, actor := scope(c)
	rec, err := h.engine.AddComment(c.Request.Context(), handle, actor, id, req.Text)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(rec))
}

// SLA handles retrieving time spent per status
// GET /api/v1/tasks/:id/sla
func (h *TaskHandler) SLA(c *gin.Context) {
	id, ok := pathID(c, "id", "task")
	if !ok {
		return
	}

	handle, actor := scope(c)
	rec, err := h.engine.GetSLA(c.Request.Context(), handle, actor, id)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(dto.NewSLAResponse(rec)))
}
