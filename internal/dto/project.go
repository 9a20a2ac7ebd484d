package dto

import "github.com/prohmpiriya/taskflow/internal/domain"

// CreateProjectRequest represents request to create a project
type CreateProjectRequest struct {
	Name        string `json:"name" binding:"max=255"`
	Description string `json:"description" binding:"max=10000"`
}

// UpdateProjectRequest represents a partial project update
type UpdateProjectRequest struct {
	Name        *string `json:"name" binding:"omitempty,max=255"`
	Description *string `json:"description" binding:"omitempty,max=10000"`
}

// Validate validates that at least one field is provided for update
func (r *UpdateProjectRequest) Validate() (bool, string) {
	if r.Name == nil && r.Description == nil {
		return false, "At least one field must be provided for update"
	}
	return true, ""
}

// Changes converts the request to a domain update
func (r *UpdateProjectRequest) Changes() domain.ProjectChanges {
	return domain.ProjectChanges{Name: r.Name, Description: r.Description}
}
