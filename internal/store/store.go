// Package store persists users, projects, tasks, SLA records, activities
// and analytics snapshots inside one tenant's database.
package store

import (
	"context"
	"iter"
	"time"

	"github.com/prohmpiriya/taskflow/internal/domain"
)

// Store is the tenant-scoped storage handle. A Store only ever reaches the
// database of the tenant it was opened for.
type Store interface {
	// InTx runs fn in a transaction. The transaction commits when fn returns
	// nil and rolls back otherwise.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	// GetTask returns a non-deleted task or domain.ErrTaskNotFound
	GetTask(ctx context.Context, id int64) (*domain.Task, error)
	// GetTaskIncludingDeleted returns a task even if soft-deleted
	GetTaskIncludingDeleted(ctx context.Context, id int64) (*domain.Task, error)
	// ListTasks yields non-deleted tasks newest first
	ListTasks(ctx context.Context, filter domain.TaskFilter) iter.Seq2[*domain.Task, error]
	// ListActivities returns a task's activity newest first, deleted tasks included
	ListActivities(ctx context.Context, taskID int64) ([]domain.Activity, error)
	// GetSLA returns the SLA record of a task
	GetSLA(ctx context.Context, taskID int64) (*domain.SLARecord, error)

	GetProject(ctx context.Context, id int64) (*domain.Project, error)
	ListProjects(ctx context.Context) ([]*domain.Project, error)

	// GetUser returns a user or domain.ErrUserNotFound
	GetUser(ctx context.Context, id string) (*domain.User, error)
	// ListUsers returns the tenant's users ordered by username
	ListUsers(ctx context.Context) ([]*domain.User, error)

	// ComputeSnapshot aggregates the current task state of a project for day
	ComputeSnapshot(ctx context.Context, projectID int64, day time.Time) (*domain.Snapshot, error)
	UpsertSnapshot(ctx context.Context, snap *domain.Snapshot) error
	GetSnapshot(ctx context.Context, projectID int64, day time.Time) (*domain.Snapshot, error)

	Ping(ctx context.Context) error
	Close()
}

// Tx is the write side of a Store, valid only inside InTx
type Tx interface {
	InsertProject(ctx context.Context, p *domain.Project) error
	// LockProject returns the project row locked for update
	LockProject(ctx context.Context, id int64) (*domain.Project, error)
	UpdateProject(ctx context.Context, p *domain.Project) error
	// DeleteProject removes a project with its tasks, SLA records and activity
	DeleteProject(ctx context.Context, id int64) error

	// InsertUser stores u. A taken username or email is a domain.ValidationError.
	InsertUser(ctx context.Context, u *domain.User) error
	// LockUser returns the user row locked for update
	LockUser(ctx context.Context, id string) (*domain.User, error)
	UpdateUser(ctx context.Context, u *domain.User) error
	// DeleteUser removes a user and clears it as assignee of its tasks
	DeleteUser(ctx context.Context, id string) error
	// RequireUser fails with domain.ErrUserNotFound unless the user exists,
	// and keeps it from being deleted until the transaction ends
	RequireUser(ctx context.Context, id string) error

	// InsertTask stores t and assigns its ID
	InsertTask(ctx context.Context, t *domain.Task) error
	// LockTask returns the non-deleted task row locked for update
	LockTask(ctx context.Context, id int64) (*domain.Task, error)
	UpdateTask(ctx context.Context, t *domain.Task) error

	InsertSLA(ctx context.Context, r *domain.SLARecord) error
	// LockSLA returns the SLA row locked for update
	LockSLA(ctx context.Context, taskID int64) (*domain.SLARecord, error)
	UpdateSLA(ctx context.Context, r *domain.SLARecord) error

	ActivityAppender
}

// ActivityAppender appends audit records. There is no update or delete.
type ActivityAppender interface {
	AppendActivity(ctx context.Context, a *domain.Activity) error
}
