package domain

import (
	"context"
	"errors"
	"fmt"
)

var (
	ErrTenantNotFound     = errors.New("tenant not found")
	ErrTenantInactive     = errors.New("tenant is inactive")
	ErrStorageUnavailable = errors.New("tenant storage unavailable")
	ErrStorageTimeout     = errors.New("tenant storage timeout")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrInvalidTransition  = errors.New("invalid status transition")
	ErrTaskNotFound       = errors.New("task not found")
	ErrProjectNotFound    = errors.New("project not found")
	ErrUserNotFound       = errors.New("user not found")
	ErrValidation         = errors.New("validation failed")
)

// InvalidTransitionError names the rejected status pair
type InvalidTransitionError struct {
	From Status
	To   Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid status transition %s -> %s", e.From, e.To)
}

func (e *InvalidTransitionError) Unwrap() error {
	return ErrInvalidTransition
}

// ValidationError reports a missing or malformed input field
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// Required returns a ValidationError for an absent field
func Required(field string) error {
	return &ValidationError{Field: field, Message: "is required"}
}

// StorageError classifies an error coming out of tenant storage. Deadline and
// cancellation become ErrStorageTimeout; domain sentinels pass through.
func StorageError(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, ErrStorageTimeout),
		errors.Is(err, ErrStorageUnavailable),
		errors.Is(err, ErrTaskNotFound),
		errors.Is(err, ErrProjectNotFound),
		errors.Is(err, ErrUserNotFound),
		errors.Is(err, ErrInvalidTransition),
		errors.Is(err, ErrPermissionDenied),
		errors.Is(err, ErrValidation):
		return err
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("%w: %v", ErrStorageTimeout, err)
	default:
		return err
	}
}
