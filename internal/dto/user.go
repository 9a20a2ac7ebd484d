package dto

import "github.com/prohmpiriya/taskflow/internal/domain"

// CreateUserRequest represents request to add a user to the tenant. ID is the
// user_id claim the identity provider issues; it is generated when absent.
type CreateUserRequest struct {
	ID       string `json:"id" binding:"max=255"`
	Username string `json:"username" binding:"required,max=150"`
	Email    string `json:"email" binding:"required,max=254"`
	Role     string `json:"role" binding:"required"`
}

// UpdateUserRequest represents a partial user update
type UpdateUserRequest struct {
	Username *string `json:"username" binding:"omitempty,max=150"`
	Email    *string `json:"email" binding:"omitempty,max=254"`
	Role     *string `json:"role"`
}

// Validate validates that at least one field is provided for update
func (r *UpdateUserRequest) Validate() (bool, string) {
	if r.Username == nil && r.Email == nil && r.Role == nil {
		return false, "At least one field must be provided for update"
	}
	return true, ""
}

// Changes converts the request to a domain update
func (r *UpdateUserRequest) Changes() domain.UserChanges {
	changes := domain.UserChanges{Username: r.Username, Email: r.Email}
	if r.Role != nil {
		role := domain.Role(*r.Role)
		changes.Role = &role
	}
	return changes
}
