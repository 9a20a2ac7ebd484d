package dto

import (
	"time"

	"github.com/prohmpiriya/taskflow/internal/domain"
)

// CreateTaskRequest represents request to create a task
type CreateTaskRequest struct {
	ProjectID   int64   `json:"project_id" binding:"required,min=1"`
	Title       string  `json:"title" binding:"max=500"`
	Description string  `json:"description" binding:"max=10000"`
	Assignee    *string `json:"assignee" binding:"omitempty,max=255"`
}

// UpdateTaskRequest is a partial task update. An empty assignee clears the
// assignment; an absent field is left unchanged.
type UpdateTaskRequest struct {
	Title       *string `json:"title" binding:"omitempty,max=500"`
	Description *string `json:"description" binding:"omitempty,max=10000"`
	Status      *string `json:"status"`
	Assignee    *string `json:"assignee" binding:"omitempty,max=255"`
}

// Validate validates that at least one field is provided for update
func (r *UpdateTaskRequest) Validate() (bool, string) {
	if r.Title == nil && r.Description == nil && r.Status == nil && r.Assignee == nil {
		return false, "At least one field must be provided for update"
	}
	return true, ""
}

// Changes converts the request to a domain update
func (r *UpdateTaskRequest) Changes() domain.TaskChanges {
	changes := domain.TaskChanges{
		Title:       r.Title,
		Description: r.Description,
		Assignee:    r.Assignee,
	}
	if r.Status != nil {
		s := domain.Status(*r.Status)
		changes.Status = &s
	}
	return changes
}

// ListTasksQuery represents the task list filters
type ListTasksQuery struct {
	ProjectID int64  `form:"project_id" binding:"omitempty,min=1"`
	Status    string `form:"status"`
	Assignee  string `form:"assignee"`
}

// Filter converts the query to a domain filter
func (q *ListTasksQuery) Filter() (domain.TaskFilter, error) {
	var f domain.TaskFilter
	if q.ProjectID > 0 {
		id := q.ProjectID
		f.ProjectID = &id
	}
	if q.Status != "" {
		s, ok := domain.ParseStatus(q.Status)
		if !ok {
			return f, &domain.ValidationError{Field: "status", Message: "is not a known status"}
		}
		f.Status = &s
	}
	if q.Assignee != "" {
		a := q.Assignee
		f.Assignee = &a
	}
	return f, nil
}

// CommentRequest represents a comment on a task
type CommentRequest struct {
	Text string `json:"text" binding:"required,max=10000"`
}

// SLAResponse reports time spent per status
type SLAResponse struct {
	TaskID              int64     `json:"task_id"`
	OpenSeconds         int64     `json:"open_seconds"`
	InProgressSeconds   int64     `json:"in_progress_seconds"`
	BlockedSeconds      int64     `json:"blocked_seconds"`
	TotalSeconds        int64     `json:"total_seconds"`
	LastStatus          string    `json:"last_status"`
	LastStatusChangedAt time.Time `json:"last_status_changed_at"`
}

// NewSLAResponse builds the response from a record
func NewSLAResponse(rec *domain.SLARecord) *SLAResponse {
	return &SLAResponse{
		TaskID:              rec.TaskID,
		OpenSeconds:         rec.OpenSeconds,
		InProgressSeconds:   rec.InProgressSeconds,
		BlockedSeconds:      rec.BlockedSeconds,
		TotalSeconds:        rec.Counters().Total(),
		LastStatus:          string(rec.LastStatus),
		LastStatusChangedAt: rec.LastStatusChangedAt,
	}
}
