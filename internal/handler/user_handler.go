package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/taskflow/internal/dto"
	"github.com/prohmpiriya/taskflow/internal/lifecycle"
	"github.com/prohmpiriya/taskflow/pkg/response"
)

// UserHandler handles tenant user HTTP requests
type UserHandler struct {
	engine *lifecycle.Engine
}

// NewUserHandler creates a new UserHandler
func NewUserHandler(engine *lifecycle.Engine) *UserHandler {
	return &UserHandler{engine: engine}
}

// RegisterRoutes mounts the user routes on rg
func (h *UserHandler) RegisterRoutes(rg *gin.RouterGroup) {
	users := rg.Group("/users")
	users.GET("", h.List)
	users.POST("", h.Create)
	users.GET("/:id", h.Get)
	users.PATCH("/:id", h.Update)
	users.DELETE("/:id", h.Delete)
}

// List handles listing the tenant's users
// GET /api/v1/users
func (h *UserHandler) List(c *gin.Context) {
	handle, actor := scope(c)
	users, err := h.engine.ListUsers(c.Request.Context(), handle, actor)
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(users))
}

// Create handles user creation
// POST /api/v1/users
func (h *UserHandler) Create(c *gin.Context) {
	var req dto.CreateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}

	handle, actor := scope(c)
	user, err := h.engine.CreateUser(c.Request.Context(), handle, actor, lifecycle.CreateUserInput{
		ID:       req.ID,
		Username: req.Username,
		Email:    req.Email,
		Role:     req.Role,
	})
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusCreated, response.Success(user))
}

// Get handles retrieving a user by ID
// GET /api/v1/users/:id
func (h *UserHandler) Get(c *gin.Context) {
	handle, actor := scope(c)
	user, err := h.engine.GetUser(c.Request.Context(), handle, actor, c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(user))
}

// Update handles user update
// PATCH /api/v1/users/:id
func (h *UserHandler) Update(c *gin.Context) {
	var req dto.UpdateUserRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, response.BadRequest(err.Error()))
		return
	}
	if valid, msg := req.Validate(); !valid {
		c.JSON(http.StatusBadRequest, response.Error("INVALID_UPDATE", msg))
		return
	}

	handle, actor := scope(c)
	user, err := h.engine.UpdateUser(c.Request.Context(), handle, actor, c.Param("id"), req.Changes())
	if err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(user))
}

// Delete handles user deletion. Tasks assigned to the user become unassigned.
// DELETE /api/v1/users/:id
func (h *UserHandler) Delete(c *gin.Context) {
	handle, actor := scope(c)
	if err := h.engine.DeleteUser(c.Request.Context(), handle, actor, c.Param("id")); err != nil {
		fail(c, err)
		return
	}

	c.JSON(http.StatusOK, response.Success(gin.H{"message": "User deleted successfully"}))
}
