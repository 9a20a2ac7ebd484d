// Package middleware holds the gin middleware of the task API.
package middleware

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/pkg/response"
)

// ErrorResponse maps a domain error to its HTTP status and body. The status
// follows response.ErrorCodeToHTTPStatus.
func ErrorResponse(err error) (int, *response.Response) {
	body := errorBody(err)
	return response.GetHTTPStatus(body.Error.Code), body
}

func errorBody(err error) *response.Response {
	var ite *domain.InvalidTransitionError
	var ve *domain.ValidationError

	switch {
	case errors.As(err, &ite):
		return response.InvalidTransition(string(ite.From), string(ite.To))
	case errors.As(err, &ve):
		return response.ValidationFailed(map[string]string{ve.Field: ve.Message})
	case errors.Is(err, domain.ErrPermissionDenied):
		return response.Forbidden("")
	case errors.Is(err, domain.ErrTenantNotFound):
		return response.Error(response.ErrCodeTenantNotFound, "Tenant not found")
	case errors.Is(err, domain.ErrTenantInactive):
		return response.Error(response.ErrCodeTenantInactive, "Tenant is inactive")
	case errors.Is(err, domain.ErrTaskNotFound):
		return response.NotFound("Task not found")
	case errors.Is(err, domain.ErrProjectNotFound):
		return response.NotFound("Project not found")
	case errors.Is(err, domain.ErrUserNotFound):
		return response.NotFound("User not found")
	case errors.Is(err, domain.ErrStorageTimeout):
		return response.Error(response.ErrCodeStorageTimeout, "Storage did not respond in time")
	case errors.Is(err, domain.ErrStorageUnavailable):
		return response.Error(response.ErrCodeStorageUnavailable, "Tenant storage unavailable")
	case errors.Is(err, domain.ErrValidation):
		return response.ValidationFailed(nil)
	default:
		return response.InternalError("")
	}
}

// AbortWithError writes the mapped error and stops the chain
func AbortWithError(c *gin.Context, err error) {
	status, body := ErrorResponse(err)
	c.AbortWithStatusJSON(status, body)
}
