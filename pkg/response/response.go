package response

import "net/http"

// Response is the envelope of every API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo represents error details in the response
type ErrorInfo struct {
	Code    string            `json:"code"`
	Message string            `json:"message"`
	Details map[string]string `json:"details,omitempty"`
}

// Error codes
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeForbidden          = "FORBIDDEN"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeConflict           = "CONFLICT"
	ErrCodeTooManyRequests    = "TOO_MANY_REQUESTS"
	ErrCodeInternalError      = "INTERNAL_ERROR"
	ErrCodeValidationFailed   = "VALIDATION_FAILED"
	ErrCodeInvalidTransition  = "INVALID_TRANSITION"
	ErrCodeTenantNotFound     = "TENANT_NOT_FOUND"
	ErrCodeTenantInactive     = "TENANT_INACTIVE"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeStorageTimeout     = "STORAGE_TIMEOUT"
)

// ErrorCodeToHTTPStatus maps error codes to HTTP status codes. Unknown and
// inactive tenants are both reported as forbidden.
var ErrorCodeToHTTPStatus = map[string]int{
	ErrCodeBadRequest:         http.StatusBadRequest,
	ErrCodeUnauthorized:       http.StatusUnauthorized,
	ErrCodeForbidden:          http.StatusForbidden,
	ErrCodeNotFound:           http.StatusNotFound,
	ErrCodeConflict:           http.StatusConflict,
	ErrCodeTooManyRequests:    http.StatusTooManyRequests,
	ErrCodeInternalError:      http.StatusInternalServerError,
	ErrCodeValidationFailed:   http.StatusBadRequest,
	ErrCodeInvalidTransition:  http.StatusConflict,
	ErrCodeTenantNotFound:     http.StatusForbidden,
	ErrCodeTenantInactive:     http.StatusForbidden,
	ErrCodeStorageUnavailable: http.StatusServiceUnavailable,
	ErrCodeStorageTimeout:     http.StatusGatewayTimeout,
}

// GetHTTPStatus returns the HTTP status code for an error code
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeToHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Success creates a success response with data
func Success(data any) *Response {
	return &Response{Success: true, Data: data}
}

// Error creates an error response
func Error(code, message string) *Response {
	return &Response{Error: &ErrorInfo{Code: code, Message: message}}
}

// ErrorWithDetails creates an error response with additional details
func ErrorWithDetails(code, message string, details map[string]string) *Response {
	return &Response{Error: &ErrorInfo{Code: code, Message: message, Details: details}}
}

func orDefault(message, fallback string) string {
	if message == "" {
		return fallback
	}
	return message
}

// BadRequest creates a bad request error response
func BadRequest(message string) *Response {
	return Error(ErrCodeBadRequest, message)
}

// Unauthorized creates an unauthorized error response
func Unauthorized(message string) *Response {
	return Error(ErrCodeUnauthorized, orDefault(message, "Authentication required"))
}

// Forbidden creates a forbidden error response
func Forbidden(message string) *Response {
	return Error(ErrCodeForbidden, orDefault(message, "Access denied"))
}

// NotFound creates a not found error response
func NotFound(message string) *Response {
	return Error(ErrCodeNotFound, orDefault(message, "Resource not found"))
}

// InternalError creates an internal server error response
func InternalError(message string) *Response {
	return Error(ErrCodeInternalError, orDefault(message, "An internal error occurred"))
}

// ValidationFailed creates a validation error response with field details
func ValidationFailed(details map[string]string) *Response {
	return ErrorWithDetails(ErrCodeValidationFailed, "Validation failed", details)
}

// InvalidTransition names the rejected status pair
func InvalidTransition(from, to string) *Response {
	return ErrorWithDetails(ErrCodeInvalidTransition, "Invalid status transition", map[string]string{
		"from": from,
		"to":   to,
	})
}

// TooManyRequests creates a rate limit error response
func TooManyRequests(message string) *Response {
	return Error(ErrCodeTooManyRequests, orDefault(message, "Too many requests, please try again later"))
}
