package domain

import "time"

// Snapshot is the daily analytics summary of one project
type Snapshot struct {
	ProjectID            int64     `json:"project_id"`
	Date                 time.Time `json:"date"`
	TasksOpen            int64     `json:"tasks_open"`
	TasksInProgress      int64     `json:"tasks_in_progress"`
	TasksBlocked         int64     `json:"tasks_blocked"`
	TasksDone            int64     `json:"tasks_done"`
	TasksCreated         int64     `json:"tasks_created"`
	TasksCompleted       int64     `json:"tasks_completed"`
	AvgCompletionSeconds int64     `json:"avg_completion_seconds"`
	ComputedAt           time.Time `json:"computed_at"`
}

// Day truncates t to a UTC calendar date
func Day(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
