// Package activity appends audit records for task mutations.
package activity

import (
	"context"
	"fmt"
	"time"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/internal/store"
)

// Entry describes one record to append
type Entry struct {
	TaskID   int64
	Action   domain.ActionKind
	ActorID  string
	OldValue domain.ChangeSet
	NewValue domain.ChangeSet
	Comment  string
}

// Writer appends activity records through an ActivityAppender. Inside a
// store transaction the record commits or rolls back with the mutation.
type Writer struct {
	now func() time.Time
}

// NewWriter creates a writer using clock for timestamps (time.Now if nil)
func NewWriter(clock func() time.Time) *Writer {
	if clock == nil {
		clock = time.Now
	}
	return &Writer{now: clock}
}

// Append writes e and returns the stored record
func (w *Writer) Append(ctx context.Context, a store.ActivityAppender, e Entry) (*domain.Activity, error) {
	if e.TaskID == 0 {
		return nil, domain.Required("task_id")
	}
	if e.ActorID == "" {
		return nil, domain.Required("actor_id")
	}

	rec := &domain.Activity{
		TaskID:    e.TaskID,
		Action:    e.Action,
		OldValue:  e.OldValue,
		NewValue:  e.NewValue,
		Comment:   e.Comment,
		ActorID:   e.ActorID,
		CreatedAt: w.now().UTC(),
	}
	if err := a.AppendActivity(ctx, rec); err != nil {
		return nil, fmt.Errorf("append %s activity for task %d: %w", e.Action, e.TaskID, err)
	}
	return rec, nil
}
