package domain

import "time"

// Project owns tasks. Deleting a project removes its tasks with their SLA
// and activity history.
type Project struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description"`
	CreatedBy   string    `json:"created_by"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ProjectChanges is a partial project update
type ProjectChanges struct {
	Name        *string `json:"name,omitempty"`
	Description *string `json:"description,omitempty"`
}
