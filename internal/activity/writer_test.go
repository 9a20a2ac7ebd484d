package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/taskflow/internal/domain"
)

type recordingAppender struct {
	got []*domain.Activity
	err error
}

func (r *recordingAppender) AppendActivity(_ context.Context, a *domain.Activity) error {
	if r.err != nil {
		return r.err
	}
	a.ID = int64(len(r.got) + 1)
	r.got = append(r.got, a)
	return nil
}

func TestWriter_Append(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	w := NewWriter(func() time.Time { return now })
	app := &recordingAppender{}

	rec, err := w.Append(context.Background(), app, Entry{
		TaskID:   7,
		Action:   domain.ActionStatusChange,
		ActorID:  "u1",
		OldValue: domain.ChangeSet{"status": "OPEN"},
		NewValue: domain.ChangeSet{"status": "IN_PROGRESS"},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(1), rec.ID)
	assert.Equal(t, now, rec.CreatedAt)
	assert.Equal(t, "IN_PROGRESS", rec.NewValue["status"])
	require.Len(t, app.got, 1)
}

func TestWriter_Append_Validation(t *testing.T) {
	w := NewWriter(nil)
	app := &recordingAppender{}

	_, err := w.Append(context.Background(), app, Entry{Action: domain.ActionCreate, ActorID: "u1"})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = w.Append(context.Background(), app, Entry{TaskID: 1, Action: domain.ActionCreate})
	assert.ErrorIs(t, err, domain.ErrValidation)
	assert.Empty(t, app.got)
}

func TestWriter_Append_PropagatesStorageError(t *testing.T) {
	w := NewWriter(nil)
	app := &recordingAppender{err: domain.ErrStorageTimeout}

	_, err := w.Append(context.Background(), app, Entry{TaskID: 1, Action: domain.ActionDelete, ActorID: "u1"})
	assert.True(t, errors.Is(err, domain.ErrStorageTimeout))
}
