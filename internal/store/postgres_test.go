package store

import (
	"context"
	"os"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prohmpiriya/taskflow/internal/domain"
	"github.com/prohmpiriya/taskflow/pkg/database"
)

// Run with: INTEGRATION_TEST=true TEST_POSTGRES_HOST=<host> TEST_POSTGRES_DB=<db> go test ./internal/store/... -run Postgres
func newTestPostgresStore(t *testing.T) *PostgresStore {
	t.Helper()
	if os.Getenv("INTEGRATION_TEST") != "true" {
		t.Skip("Skipping integration test. Set INTEGRATION_TEST=true to run")
	}

	cfg := database.DefaultPostgresConfig()
	if v := os.Getenv("TEST_POSTGRES_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("TEST_POSTGRES_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		require.NoError(t, err)
		cfg.Port = port
	}
	if v := os.Getenv("TEST_POSTGRES_USER"); v != "" {
		cfg.User = v
	}
	if v := os.Getenv("TEST_POSTGRES_PASSWORD"); v != "" {
		cfg.Password = v
	}
	cfg.Database = "taskflow_store_test"
	if v := os.Getenv("TEST_POSTGRES_DB"); v != "" {
		cfg.Database = v
	}
	cfg.MaxRetries = 0

	ctx := context.Background()
	db, err := database.NewPostgres(ctx, cfg)
	require.NoError(t, err)

	_, err = database.Migrate(ctx, db.Pool(), TenantMigrations())
	require.NoError(t, err)

	_, err = db.Pool().Exec(ctx, `TRUNCATE projects, users RESTART IDENTITY CASCADE`)
	require.NoError(t, err)

	s := NewPostgresStore(db.Pool())
	t.Cleanup(s.Close)
	return s
}

func TestPostgresStore_TaskLifecycle(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	p := &domain.Project{Name: "Alpha", CreatedBy: "u1", CreatedAt: now, UpdatedAt: now}
	task := &domain.Task{ProjectID: 0, Title: "write docs", Status: domain.StatusOpen, CreatedBy: "u1", CreatedAt: now, UpdatedAt: now}

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertProject(ctx, p); err != nil {
			return err
		}
		task.ProjectID = p.ID
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		if err := tx.InsertSLA(ctx, &domain.SLARecord{TaskID: task.ID, LastStatus: domain.StatusOpen, LastStatusChangedAt: now}); err != nil {
			return err
		}
		return tx.AppendActivity(ctx, &domain.Activity{
			TaskID:    task.ID,
			Action:    domain.ActionCreate,
			NewValue:  domain.ChangeSet{"title": task.Title},
			ActorID:   "u1",
			CreatedAt: now,
		})
	}))

	got, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, "write docs", got.Title)
	assert.Nil(t, got.Assignee)

	acts, err := s.ListActivities(ctx, task.ID)
	require.NoError(t, err)
	require.Len(t, acts, 1)
	assert.Equal(t, "write docs", acts[0].NewValue["title"])
	assert.Nil(t, acts[0].OldValue)

	var listed []*domain.Task
	for tk, err := range s.ListTasks(ctx, domain.TaskFilter{ProjectID: &p.ID}) {
		require.NoError(t, err)
		listed = append(listed, tk)
	}
	assert.Len(t, listed, 1)

	snap, err := s.ComputeSnapshot(ctx, p.ID, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.TasksOpen)
	assert.Equal(t, int64(1), snap.TasksCreated)

	snap.ComputedAt = now
	require.NoError(t, s.UpsertSnapshot(ctx, snap))
	require.NoError(t, s.UpsertSnapshot(ctx, snap))

	stored, err := s.GetSnapshot(ctx, p.ID, now)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, int64(1), stored.TasksOpen)
}

func TestPostgresStore_NotFound(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()

	_, err := s.GetTask(ctx, 12345)
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)

	_, err = s.GetProject(ctx, 12345)
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)

	err = s.InTx(ctx, func(tx Tx) error {
		return tx.InsertTask(ctx, &domain.Task{ProjectID: 12345, Title: "orphan", Status: domain.StatusOpen, CreatedAt: time.Now()})
	})
	assert.ErrorIs(t, err, domain.ErrProjectNotFound)
}

func TestPostgresStore_Users(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	u := &domain.User{ID: "u-mia", Username: "mia", Email: "mia@example.com", Role: domain.RoleMember, CreatedAt: now, UpdatedAt: now}
	p := &domain.Project{Name: "Alpha", CreatedAt: now, UpdatedAt: now}
	task := &domain.Task{Title: "x", Status: domain.StatusOpen, Assignee: &u.ID, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertUser(ctx, u); err != nil {
			return err
		}
		if err := tx.InsertProject(ctx, p); err != nil {
			return err
		}
		task.ProjectID = p.ID
		return tx.InsertTask(ctx, task)
	}))

	err := s.InTx(ctx, func(tx Tx) error {
		return tx.InsertUser(ctx, &domain.User{ID: "u-2", Username: "x", Email: "MIA@example.com", Role: domain.RoleMember, CreatedAt: now, UpdatedAt: now})
	})
	var ve *domain.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, "email", ve.Field)

	err = s.InTx(ctx, func(tx Tx) error {
		return tx.InsertTask(ctx, &domain.Task{ProjectID: p.ID, Title: "y", Status: domain.StatusOpen, Assignee: str("ghost"), CreatedAt: now, UpdatedAt: now})
	})
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	got, err := s.GetUser(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, "mia", got.Username)
	assert.Equal(t, domain.RoleMember, got.Role)
	assert.True(t, now.Equal(got.CreatedAt))

	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		return tx.DeleteUser(ctx, u.ID)
	}))
	left, err := s.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Nil(t, left.Assignee)
}

func str(s string) *string { return &s }

func TestPostgresStore_LockSerializesSameTask(t *testing.T) {
	s := newTestPostgresStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	p := &domain.Project{Name: "Alpha", CreatedAt: now, UpdatedAt: now}
	task := &domain.Task{Title: "counter", Status: domain.StatusOpen, CreatedAt: now, UpdatedAt: now}
	require.NoError(t, s.InTx(ctx, func(tx Tx) error {
		if err := tx.InsertProject(ctx, p); err != nil {
			return err
		}
		task.ProjectID = p.ID
		if err := tx.InsertTask(ctx, task); err != nil {
			return err
		}
		return tx.InsertSLA(ctx, &domain.SLARecord{TaskID: task.ID, LastStatus: domain.StatusOpen, LastStatusChangedAt: now})
	}))

	const workers = 10
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = s.InTx(ctx, func(tx Tx) error {
				rec, err := tx.LockSLA(ctx, task.ID)
				if err != nil {
					return err
				}
				rec.OpenSeconds++
				return tx.UpdateSLA(ctx, rec)
			})
		}()
	}
	wg.Wait()

	rec, err := s.GetSLA(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(workers), rec.OpenSeconds, "row lock must prevent lost updates")
}
