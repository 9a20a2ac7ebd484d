package lifecycle

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/prohmpiriya/taskflow/internal/activity"
	"github.com/prohmpiriya/taskflow/internal/dispatch"
	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/permission"
	"github.com/prohmpiriya/taskflow/internal/sla"
	"github.com/prohmpiriya/taskflow/internal/store"
	"github.com/prohmpiriya/taskflow/internal/tenantdb"
	"github.com/prohmpiriya/taskflow/pkg/telemetry"
)

// CreateTaskInput holds the fields of a new task
type CreateTaskInput struct {
	ProjectID   int64
	Title       string
	Description string
	Assignee    *string
}

// checkAssignee enforces that the least privileged role may only assign
// tasks to itself
func checkAssignee(actor domain.Actor, assignee *string) error {
	if assignee == nil || !actor.IsLeastPrivileged() {
		return nil
	}
	if *assignee != actor.ID {
		return domain.ErrPermissionDenied
	}
	return nil
}

// requireAssignee fails with a validation error when id names no user of the
// tenant
func requireAssignee(ctx context.Context, tx store.Tx, id string) error {
	err := tx.RequireUser(ctx, id)
	if errors.Is(err, domain.ErrUserNotFound) {
		return &domain.ValidationError{Field: "assignee", Message: "unknown user"}
	}
	return err
}

func normalizeAssignee(a *string) *string {
	if a == nil {
		return nil
	}
	v := strings.TrimSpace(*a)
	if v == "" {
		return nil
	}
	return &v
}

// CreateTask creates an OPEN task with a zeroed SLA record and a CREATE
// activity in one transaction
func (e *Engine) CreateTask(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, in CreateTaskInput) (task *domain.Task, err error) {
	ctx, finish := e.begin(ctx, "CreateTask", h)
	defer finish(&err)

	if err := e.authorize(actor, permission.CreateTask); err != nil {
		return nil, err
	}
	assignee := normalizeAssignee(in.Assignee)
	if err := checkAssignee(actor, assignee); err != nil {
		return nil, err
	}

	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, domain.Required("title")
	}
	if in.ProjectID <= 0 {
		return nil, domain.Required("project_id")
	}

	s, err := storeOf(h)
	if err != nil {
		return nil, err
	}

	now := e.now()
	task = &domain.Task{
		ProjectID:   in.ProjectID,
		Title:       title,
		Description: in.Description,
		Status:      domain.StatusOpen,
		Assignee:    assignee,
		CreatedBy:   actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	err = s.InTx(ctx, func(tx store.Tx) error {
		if assignee != nil {
			if err := requireAssignee(ctx, tx, *assignee); err != nil {
				return err
			}
		}
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		if err := tx.InsertSLA(ctx, sla.New(task.ID, task.Status, now)); err != nil {
			return err
		}
		_, err := e.writer.Append(ctx, tx, activity.Entry{
			TaskID:   task.ID,
			Action:   domain.ActionCreate,
			ActorID:  actor.ID,
			NewValue: taskValues(task),
		})
		return err
	})
	if err != nil {
		return nil, domain.StorageError(err)
	}

	e.afterWrite(ctx, h, task.ProjectID)
	if assignee != nil {
		e.dispatch(ctx, h, string(dispatch.EventNotifyAssignment), func(ctx context.Context, d dispatch.Dispatcher, tenantID string) error {
			return d.NotifyAssignment(ctx, tenantID, *assignee, task.ID)
		})
	}
	return task, nil
}

// UpdateTask applies a partial update. A status equal to the current one is
// ignored. A legal transition accrues SLA time for the status being left, in
// the same transaction as the task row and its activity record.
func (e *Engine) UpdateTask(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, taskID int64, changes domain.TaskChanges) (task *domain.Task, err error) {
	ctx, finish := e.begin(ctx, "UpdateTask", h)
	defer finish(&err)

	if err := e.authorize(actor, permission.UpdateTaskStatus); err != nil {
		return nil, err
	}
	// Clearing counts as reassignment and is denied to the least privileged role
	if changes.Assignee != nil && actor.IsLeastPrivileged() && *changes.Assignee != actor.ID {
		return nil, domain.ErrPermissionDenied
	}
	if changes.Title != nil && strings.TrimSpace(*changes.Title) == "" {
		return nil, domain.Required("title")
	}
	if changes.Status != nil && !changes.Status.IsValid() {
		return nil, &domain.ValidationError{Field: "status", Message: "must be one of OPEN, IN_PROGRESS, BLOCKED, DONE"}
	}

	s, err := storeOf(h)
	if err != nil {
		return nil, err
	}

	var (
		oldStatus, newStatus domain.Status
		statusChanged        bool
		assigned             *string
		changed              bool
	)

	err = s.InTx(ctx, func(tx store.Tx) error {
		current, err := tx.LockTask(ctx, taskID)
		if err != nil {
			return err
		}
		task = current

		oldVals := domain.ChangeSet{}
		newVals := domain.ChangeSet{}
		now := e.now()

		if changes.Status != nil && *changes.Status != task.Status {
			next := *changes.Status
			if !task.Status.CanTransitionTo(next) {
				return &domain.InvalidTransitionError{From: task.Status, To: next}
			}

			rec, err := tx.LockSLA(ctx, task.ID)
			if err != nil {
				return err
			}
			sla.Transition(rec, next, now)
			if err := tx.UpdateSLA(ctx, rec); err != nil {
				return err
			}

			oldVals["status"] = string(task.Status)
			newVals["status"] = string(next)
			oldStatus, newStatus = task.Status, next
			statusChanged = true

			task.Status = next
			if next == domain.StatusDone {
				task.CompletedAt = &now
			}
		}

		if changes.Title != nil {
			if title := strings.TrimSpace(*changes.Title); title != task.Title {
				oldVals["title"] = task.Title
				newVals["title"] = title
				task.Title = title
			}
		}
		if changes.Description != nil && *changes.Description != task.Description {
			oldVals["description"] = task.Description
			newVals["description"] = *changes.Description
			task.Description = *changes.Description
		}
		if changes.Assignee != nil {
			next := normalizeAssignee(changes.Assignee)
			if valueOf(next) != task.AssigneeValue() {
				if next != nil {
					if err := requireAssignee(ctx, tx, *next); err != nil {
						return err
					}
				}
				oldVals["assignee"] = nullable(task.Assignee)
				newVals["assignee"] = nullable(next)
				task.Assignee = next
				assigned = next
			}
		}

		if len(oldVals) == 0 {
			return nil
		}
		changed = true

		task.UpdatedAt = now
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}

		kind := domain.ActionUpdate
		switch {
		case statusChanged:
			kind = domain.ActionStatusChange
		case assigneeOnly(newVals):
			kind = domain.ActionAssign
		}
		_, err = e.writer.Append(ctx, tx, activity.Entry{
			TaskID:   task.ID,
			Action:   kind,
			ActorID:  actor.ID,
			OldValue: oldVals,
			NewValue: newVals,
		})
		return err
	})
	if err != nil {
		return nil, domain.StorageError(err)
	}
	if !changed {
		return task, nil
	}

	if statusChanged {
		e.transitions.Inc(ctx, telemetry.TransitionAttrs(string(oldStatus), string(newStatus))...)
		e.dispatch(ctx, h, string(dispatch.EventNotifyStatusChange), func(ctx context.Context, d dispatch.Dispatcher, tenantID string) error {
			return d.NotifyStatusChange(ctx, tenantID, task.ID, oldStatus, newStatus)
		})
	}
	if assigned != nil {
		e.dispatch(ctx, h, string(dispatch.EventNotifyAssignment), func(ctx context.Context, d dispatch.Dispatcher, tenantID string) error {
			return d.NotifyAssignment(ctx, tenantID, *assigned, task.ID)
		})
	}
	e.afterWrite(ctx, h, task.ProjectID)
	return task, nil
}

// SoftDelete flags a task as deleted and records a DELETE activity. The row,
// its SLA record and its history are kept.
func (e *Engine) SoftDelete(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, taskID int64) (err error) {
	ctx, finish := e.begin(ctx, "SoftDelete", h)
	defer finish(&err)

	if err := e.authorize(actor, permission.DeleteTask); err != nil {
		return err
	}
	s, err := storeOf(h)
	if err != nil {
		return err
	}

	var projectID int64
	err = s.InTx(ctx, func(tx store.Tx) error {
		task, err := tx.LockTask(ctx, taskID)
		if err != nil {
			return err
		}
		projectID = task.ProjectID

		task.IsDeleted = true
		task.UpdatedAt = e.now()
		if err := tx.UpdateTask(ctx, task); err != nil {
			return err
		}
		_, err = e.writer.Append(ctx, tx, activity.Entry{
			TaskID:  task.ID,
			Action:  domain.ActionDelete,
			ActorID: actor.ID,
		})
		return err
	})
	if err != nil {
		return domain.StorageError(err)
	}

	e.afterWrite(ctx, h, projectID)
	return nil
}

// GetTask returns a non-deleted task
func (e *Engine) GetTask(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, taskID int64) (task *domain.Task, err error) {
	ctx, finish := e.begin(ctx, "GetTask", h)
	defer finish(&err)

	if err := authenticated(actor); err != nil {
		return nil, err
	}
	s, err := storeOf(h)
	if err != nil {
		return nil, err
	}
	task, err = s.GetTask(ctx, taskID)
	return task, domain.StorageError(err)
}

// ListTasks streams non-deleted tasks newest first. Each range over the
// result runs a fresh query.
func (e *Engine) ListTasks(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, filter domain.TaskFilter) iter.Seq2[*domain.Task, error] {
	return func(yield func(*domain.Task, error) bool) {
		var err error
		ctx, finish := e.begin(ctx, "ListTasks", h)
		defer func() { finish(&err) }()

		if err = authenticated(actor); err != nil {
			yield(nil, err)
			return
		}
		var s store.Store
		if s, err = storeOf(h); err != nil {
			yield(nil, err)
			return
		}

		for task, iterErr := range s.ListTasks(ctx, filter) {
			if iterErr != nil {
				err = domain.StorageError(iterErr)
				yield(nil, err)
				return
			}
			if !yield(task, nil) {
				return
			}
		}
	}
}

// CollectTasks drains ListTasks into a slice
func (e *Engine) CollectTasks(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, filter domain.TaskFilter) ([]*domain.Task, error) {
	out := make([]*domain.Task, 0)
	for task, err := range e.ListTasks(ctx, h, actor, filter) {
		if err != nil {
			return nil, err
		}
		out = append(out, task)
	}
	return out, nil
}

// AddComment appends a COMMENT activity to a live task
func (e *Engine) AddComment(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, taskID int64, text string) (rec *domain.Activity, err error) {
	ctx, finish := e.begin(ctx, "AddComment", h)
	defer finish(&err)

	if err := e.authorize(actor, permission.UpdateTaskStatus); err != nil {
		return nil, err
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, domain.Required("comment")
	}
	s, err := storeOf(h)
	if err != nil {
		return nil, err
	}

	err = s.InTx(ctx, func(tx store.Tx) error {
		if _, err := tx.LockTask(ctx, taskID); err != nil {
			return err
		}
		rec, err = e.writer.Append(ctx, tx, activity.Entry{
			TaskID:  taskID,
			Action:  domain.ActionComment,
			ActorID: actor.ID,
			Comment: text,
		})
		return err
	})
	if err != nil {
		return nil, domain.StorageError(err)
	}
	return rec, nil
}

// ListActivities returns the history of a task newest first. It works for
// soft-deleted tasks.
func (e *Engine) ListActivities(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, taskID int64) (acts []domain.Activity, err error) {
	ctx, finish := e.begin(ctx, "ListActivities", h)
	defer finish(&err)

	if err := authenticated(actor); err != nil {
		return nil, err
	}
	s, err := storeOf(h)
	if err != nil {
		return nil, err
	}
	if _, err := s.GetTaskIncludingDeleted(ctx, taskID); err != nil {
		return nil, domain.StorageError(err)
	}
	acts, err = s.ListActivities(ctx, taskID)
	return acts, domain.StorageError(err)
}

// GetSLA returns the SLA record of a task
func (e *Engine) GetSLA(ctx context.Context, h *tenantdb.Handle, actor domain.Actor, taskID int64) (rec *domain.SLARecord, err error) {
	ctx, finish := e.begin(ctx, "GetSLA", h)
	defer finish(&err)

	if err := authenticated(actor); err != nil {
		return nil, err
	}
	s, err := storeOf(h)
	if err != nil {
		return nil, err
	}
	rec, err = s.GetSLA(ctx, taskID)
	return rec, domain.StorageError(err)
}

// afterWrite requests a snapshot recompute for the project
func (e *Engine) afterWrite(ctx context.Context, h *tenantdb.Handle, projectID int64) {
	day := e.now()
	e.dispatch(ctx, h, string(dispatch.EventRecomputeSnapshot), func(ctx context.Context, d dispatch.Dispatcher, tenantID string) error {
		return d.RecomputeSnapshot(ctx, tenantID, projectID, day)
	})
}

func taskValues(t *domain.Task) domain.ChangeSet {
	return domain.ChangeSet{
		"title":       t.Title,
		"description": t.Description,
		"status":      string(t.Status),
		"assignee":    nullable(t.Assignee),
		"project_id":  t.ProjectID,
	}
}

// assigneeOnly reports whether the assignee is the single changed field
func assigneeOnly(c domain.ChangeSet) bool {
	_, ok := c["assignee"]
	return ok && len(c) == 1
}

func nullable(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func valueOf(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
