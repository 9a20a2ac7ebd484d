// Package handler holds the HTTP handlers of the task API
package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/middleware"
	"github.com/prohmpiriya/taskflow/internal/tenantdb"
	"github.com/prohmpiriya/taskflow/pkg/response"
)

// pathID parses a numeric path parameter, writing 400 when it is malformed
func pathID(c *gin.Context, name, label string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, response.BadRequest("Invalid "+label+" ID"))
		return 0, false
	}
	return id, true
}

// scope returns the tenant handle and actor bound by the tenant middleware.
// A missing handle is passed through as nil; the engine rejects it.
func scope(c *gin.Context) (*tenantdb.Handle, domain.Actor) {
	h, _ := middleware.GetHandle(c)
	return h, middleware.GetActor(c)
}

func fail(c *gin.Context, err error) {
	status, body := middleware.ErrorResponse(err)
	c.JSON(status, body)
}
