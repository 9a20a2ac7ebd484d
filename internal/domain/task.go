package domain

import (
	"strings"
	"time"
)

// Status is the lifecycle state of a task
type Status string

const (
	StatusOpen       Status = "OPEN"
	StatusInProgress Status = "IN_PROGRESS"
	StatusBlocked    Status = "BLOCKED"
	StatusDone       Status = "DONE"
)

// validTransitions maps a status to the statuses it may move to
var validTransitions = map[Status][]Status{
	StatusOpen:       {StatusInProgress},
	StatusInProgress: {StatusBlocked, StatusDone},
	StatusBlocked:    {StatusInProgress},
	StatusDone:       {}, // Terminal state
}

// Statuses lists every status in display order
func Statuses() []Status {
	return []Status{StatusOpen, StatusInProgress, StatusBlocked, StatusDone}
}

// ParseStatus accepts any casing of a known status
func ParseStatus(s string) (Status, bool) {
	st := Status(strings.ToUpper(strings.TrimSpace(s)))
	return st, st.IsValid()
}

// IsTerminal returns true if no transition leaves this status
func (s Status) IsTerminal() bool {
	return s == StatusDone
}

// IsValid returns true if the status is one of the four lifecycle states
func (s Status) IsValid() bool {
	_, exists := validTransitions[s]
	return exists
}

// CanTransitionTo returns true if moving to target is allowed
func (s Status) CanTransitionTo(target Status) bool {
	for _, allowed := range validTransitions[s] {
		if allowed == target {
			return true
		}
	}
	return false
}

func (s Status) String() string {
	return string(s)
}

// Task is a unit of work inside a project
type Task struct {
	ID          int64      `json:"id"`
	ProjectID   int64      `json:"project_id"`
	Title       string     `json:"title"`
	Description string     `json:"description"`
	Status      Status     `json:"status"`
	Assignee    *string    `json:"assignee,omitempty"`
	IsDeleted   bool       `json:"-"`
	CreatedBy   string     `json:"created_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy
func (t *Task) Clone() *Task {
	if t == nil {
		return nil
	}
	cp := *t
	if t.Assignee != nil {
		a := *t.Assignee
		cp.Assignee = &a
	}
	if t.CompletedAt != nil {
		c := *t.CompletedAt
		cp.CompletedAt = &c
	}
	return &cp
}

// AssigneeValue returns the assignee or "" when unassigned
func (t *Task) AssigneeValue() string {
	if t.Assignee == nil {
		return ""
	}
	return *t.Assignee
}

// TaskChanges is a partial update. Nil fields are left untouched; a non-nil
// Assignee pointing at "" clears the assignment.
type TaskChanges struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Status      *Status `json:"status,omitempty"`
	Assignee    *string `json:"assignee,omitempty"`
}

// IsEmpty reports whether no field is set
func (c TaskChanges) IsEmpty() bool {
	return c.Title == nil && c.Description == nil && c.Status == nil && c.Assignee == nil
}

// TaskFilter narrows ListTasks
type TaskFilter struct {
	ProjectID *int64
	Status    *Status
	Assignee  *string
}
