package store

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/prohmpiriya/taskflow/internal/domain"
)

// PostgresStore implements Store on one tenant database
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore wraps a tenant pool. The store owns the pool and closes it.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying pool
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

// InTx implements Store
func (s *PostgresStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return wrapErr("begin transaction", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return wrapErr("commit transaction", err)
	}
	return nil
}

const taskColumns = `id, project_id, title, description, status, assignee, is_deleted,
	created_by, created_at, updated_at, completed_at`

func scanTask(row pgx.Row) (*domain.Task, error) {
	var t domain.Task
	var status string
	err := row.Scan(
		&t.ID,
		&t.ProjectID,
		&t.Title,
		&t.Description,
		&status,
		&t.Assignee,
		&t.IsDeleted,
		&t.CreatedBy,
		&t.CreatedAt,
		&t.UpdatedAt,
		&t.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Status = domain.Status(status)
	return &t, nil
}

// GetTask implements Store
func (s *PostgresStore) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND NOT is_deleted`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrTaskNotFound, "get task")
	}
	return t, nil
}

// GetTaskIncludingDeleted implements Store
func (s *PostgresStore) GetTaskIncludingDeleted(ctx context.Context, id int64) (*domain.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrTaskNotFound, "get task")
	}
	return t, nil
}

// ListTasks implements Store. Rows are streamed from the server; breaking out
// of the loop closes the cursor.
func (s *PostgresStore) ListTasks(ctx context.Context, filter domain.TaskFilter) iter.Seq2[*domain.Task, error] {
	return func(yield func(*domain.Task, error) bool) {
		where := []string{"NOT is_deleted"}
		var args []any
		if filter.ProjectID != nil {
			args = append(args, *filter.ProjectID)
			where = append(where, fmt.Sprintf("project_id = $%d", len(args)))
		}
		if filter.Status != nil {
			args = append(args, string(*filter.Status))
			where = append(where, fmt.Sprintf("status = $%d", len(args)))
		}
		if filter.Assignee != nil {
			args = append(args, *filter.Assignee)
			where = append(where, fmt.Sprintf("assignee = $%d", len(args)))
		}

		query := `SELECT ` + taskColumns + ` FROM tasks WHERE ` + strings.Join(where, " AND ") +
			` ORDER BY created_at DESC, id DESC`

		rows, err := s.pool.Query(ctx, query, args...)
		if err != nil {
			yield(nil, wrapErr("list tasks", err))
			return
		}
		defer rows.Close()

		for rows.Next() {
			t, err := scanTask(rows)
			if err != nil {
				yield(nil, wrapErr("scan task", err))
				return
			}
			if !yield(t, nil) {
				return
			}
		}
		if err := rows.Err(); err != nil {
			yield(nil, wrapErr("list tasks", err))
		}
	}
}

// ListActivities implements Store
func (s *PostgresStore) ListActivities(ctx context.Context, taskID int64) ([]domain.Activity, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, task_id, action, old_value, new_value, comment, actor_id, created_at
		FROM task_activities
		WHERE task_id = $1
		ORDER BY created_at DESC, id DESC`, taskID)
	if err != nil {
		return nil, wrapErr("list activities", err)
	}
	defer rows.Close()

	out := make([]domain.Activity, 0)
	for rows.Next() {
		var a domain.Activity
		var action string
		var oldJSON, newJSON []byte
		if err := rows.Scan(&a.ID, &a.TaskID, &action, &oldJSON, &newJSON, &a.Comment, &a.ActorID, &a.CreatedAt); err != nil {
			return nil, wrapErr("scan activity", err)
		}
		a.Action = domain.ActionKind(action)
		if a.OldValue, err = domain.ParseChangeSet(oldJSON); err != nil {
			return nil, fmt.Errorf("failed to decode old_value of activity %d: %w", a.ID, err)
		}
		if a.NewValue, err = domain.ParseChangeSet(newJSON); err != nil {
			return nil, fmt.Errorf("failed to decode new_value of activity %d: %w", a.ID, err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list activities", err)
	}
	return out, nil
}

const slaColumns = `task_id, open_seconds, in_progress_seconds, blocked_seconds, last_status, last_status_changed_at`

func scanSLA(row pgx.Row) (*domain.SLARecord, error) {
	var r domain.SLARecord
	var last string
	if err := row.Scan(&r.TaskID, &r.OpenSeconds, &r.InProgressSeconds, &r.BlockedSeconds, &last, &r.LastStatusChangedAt); err != nil {
		return nil, err
	}
	r.LastStatus = domain.Status(last)
	return &r, nil
}

// GetSLA implements Store
func (s *PostgresStore) GetSLA(ctx context.Context, taskID int64) (*domain.SLARecord, error) {
	r, err := scanSLA(s.pool.QueryRow(ctx, `SELECT `+slaColumns+` FROM task_sla WHERE task_id = $1`, taskID))
	if err != nil {
		return nil, notFound(err, domain.ErrTaskNotFound, "get sla")
	}
	return r, nil
}

const projectColumns = `id, name, description, created_by, created_at, updated_at`

func scanProject(row pgx.Row) (*domain.Project, error) {
	var p domain.Project
	if err := row.Scan(&p.ID, &p.Name, &p.Description, &p.CreatedBy, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	return &p, nil
}

// GetProject implements Store
func (s *PostgresStore) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrProjectNotFound, "get project")
	}
	return p, nil
}

// ListProjects implements Store
func (s *PostgresStore) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+projectColumns+` FROM projects ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, wrapErr("list projects", err)
	}
	defer rows.Close()

	out := make([]*domain.Project, 0)
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, wrapErr("scan project", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list projects", err)
	}
	return out, nil
}

const userColumns = `id, username, email, role, created_at, updated_at`

func scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	var role string
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, err
	}
	u.Role = domain.Role(role)
	return &u, nil
}

// GetUser implements Store
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(s.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrUserNotFound, "get user")
	}
	return u, nil
}

// ListUsers implements Store
func (s *PostgresStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+userColumns+` FROM users ORDER BY lower(username)`)
	if err != nil {
		return nil, wrapErr("list users", err)
	}
	defer rows.Close()

	out := make([]*domain.User, 0)
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, wrapErr("scan user", err)
		}
		out = append(out, u)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("list users", err)
	}
	return out, nil
}

// ComputeSnapshot implements Store
func (s *PostgresStore) ComputeSnapshot(ctx context.Context, projectID int64, day time.Time) (*domain.Snapshot, error) {
	if _, err := s.GetProject(ctx, projectID); err != nil {
		return nil, err
	}

	day = domain.Day(day)
	snap := &domain.Snapshot{ProjectID: projectID, Date: day}

	err := s.pool.QueryRow(ctx, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'OPEN'),
			COUNT(*) FILTER (WHERE status = 'IN_PROGRESS'),
			COUNT(*) FILTER (WHERE status = 'BLOCKED'),
			COUNT(*) FILTER (WHERE status = 'DONE'),
			COUNT(*) FILTER (WHERE (created_at AT TIME ZONE 'UTC')::date = $2::date),
			COUNT(*) FILTER (WHERE status = 'DONE' AND (completed_at AT TIME ZONE 'UTC')::date = $2::date)
		FROM tasks
		WHERE project_id = $1 AND NOT is_deleted`, projectID, day,
	).Scan(
		&snap.TasksOpen,
		&snap.TasksInProgress,
		&snap.TasksBlocked,
		&snap.TasksDone,
		&snap.TasksCreated,
		&snap.TasksCompleted,
	)
	if err != nil {
		return nil, wrapErr("compute snapshot counts", err)
	}

	err = s.pool.QueryRow(ctx, `
		SELECT COALESCE(AVG(s.in_progress_seconds), 0)::BIGINT
		FROM task_sla s
		JOIN tasks t ON t.id = s.task_id
		WHERE t.project_id = $1`, projectID,
	).Scan(&snap.AvgCompletionSeconds)
	if err != nil {
		return nil, wrapErr("compute snapshot average", err)
	}

	return snap, nil
}

// UpsertSnapshot implements Store
func (s *PostgresStore) UpsertSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO analytics_snapshots (
			project_id, date, tasks_open, tasks_in_progress, tasks_blocked, tasks_done,
			tasks_created, tasks_completed, avg_completion_seconds, computed_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (project_id, date) DO UPDATE SET
			tasks_open = EXCLUDED.tasks_open,
			tasks_in_progress = EXCLUDED.tasks_in_progress,
			tasks_blocked = EXCLUDED.tasks_blocked,
			tasks_done = EXCLUDED.tasks_done,
			tasks_created = EXCLUDED.tasks_created,
			tasks_completed = EXCLUDED.tasks_completed,
			avg_completion_seconds = EXCLUDED.avg_completion_seconds,
			computed_at = EXCLUDED.computed_at`,
		snap.ProjectID,
		domain.Day(snap.Date),
		snap.TasksOpen,
		snap.TasksInProgress,
		snap.TasksBlocked,
		snap.TasksDone,
		snap.TasksCreated,
		snap.TasksCompleted,
		snap.AvgCompletionSeconds,
		snap.ComputedAt,
	)
	if err != nil {
		return wrapErr("upsert snapshot", err)
	}
	return nil
}

// GetSnapshot implements Store. A missing snapshot is (nil, nil).
func (s *PostgresStore) GetSnapshot(ctx context.Context, projectID int64, day time.Time) (*domain.Snapshot, error) {
	var snap domain.Snapshot
	err := s.pool.QueryRow(ctx, `
		SELECT project_id, date, tasks_open, tasks_in_progress, tasks_blocked, tasks_done,
			tasks_created, tasks_completed, avg_completion_seconds, computed_at
		FROM analytics_snapshots
		WHERE project_id = $1 AND date = $2`, projectID, domain.Day(day),
	).Scan(
		&snap.ProjectID,
		&snap.Date,
		&snap.TasksOpen,
		&snap.TasksInProgress,
		&snap.TasksBlocked,
		&snap.TasksDone,
		&snap.TasksCreated,
		&snap.TasksCompleted,
		&snap.AvgCompletionSeconds,
		&snap.ComputedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, wrapErr("get snapshot", err)
	}
	return &snap, nil
}

// Ping implements Store
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrStorageUnavailable, err)
	}
	return nil
}

// Close implements Store
func (s *PostgresStore) Close() {
	s.pool.Close()
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) InsertProject(ctx context.Context, p *domain.Project) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO projects (name, description, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id`,
		p.Name, p.Description, p.CreatedBy, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
	return wrapErr("insert project", err)
}

func (t *pgTx) LockProject(ctx context.Context, id int64) (*domain.Project, error) {
	p, err := scanProject(t.tx.QueryRow(ctx, `SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrProjectNotFound, "lock project")
	}
	return p, nil
}

func (t *pgTx) UpdateProject(ctx context.Context, p *domain.Project) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE projects SET name = $2, description = $3, updated_at = $4 WHERE id = $1`,
		p.ID, p.Name, p.Description, p.UpdatedAt)
	if err != nil {
		return wrapErr("update project", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

func (t *pgTx) DeleteProject(ctx context.Context, id int64) error {
	// tasks, task_sla, task_activities and analytics_snapshots cascade
	tag, err := t.tx.Exec(ctx, `DELETE FROM projects WHERE id = $1`, id)
	if err != nil {
		return wrapErr("delete project", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrProjectNotFound
	}
	return nil
}

func (t *pgTx) InsertUser(ctx context.Context, u *domain.User) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		u.ID, u.Username, u.Email, string(u.Role), u.CreatedAt, u.UpdatedAt)
	if err != nil {
		if verr := duplicateUser(err); verr != nil {
			return verr
		}
		return wrapErr("insert user", err)
	}
	return nil
}

func (t *pgTx) LockUser(ctx context.Context, id string) (*domain.User, error) {
	u, err := scanUser(t.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrUserNotFound, "lock user")
	}
	return u, nil
}

func (t *pgTx) UpdateUser(ctx context.Context, u *domain.User) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE users SET username = $2, email = $3, role = $4, updated_at = $5 WHERE id = $1`,
		u.ID, u.Username, u.Email, string(u.Role), u.UpdatedAt)
	if err != nil {
		if verr := duplicateUser(err); verr != nil {
			return verr
		}
		return wrapErr("update user", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (t *pgTx) DeleteUser(ctx context.Context, id string) error {
	// fk_tasks_assignee clears the assignee of the user's tasks
	tag, err := t.tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return wrapErr("delete user", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

func (t *pgTx) RequireUser(ctx context.Context, id string) error {
	var one int
	err := t.tx.QueryRow(ctx, `SELECT 1 FROM users WHERE id = $1 FOR KEY SHARE`, id).Scan(&one)
	return notFound(err, domain.ErrUserNotFound, "require user")
}

func (t *pgTx) InsertTask(ctx context.Context, task *domain.Task) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO tasks (project_id, title, description, status, assignee, is_deleted,
			created_by, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id`,
		task.ProjectID,
		task.Title,
		task.Description,
		string(task.Status),
		task.Assignee,
		task.IsDeleted,
		task.CreatedBy,
		task.CreatedAt,
		task.UpdatedAt,
		task.CompletedAt,
	).Scan(&task.ID)
	if err != nil {
		if c, ok := foreignKeyViolation(err); ok {
			if c == assigneeConstraint {
				return domain.ErrUserNotFound
			}
			return domain.ErrProjectNotFound
		}
		return wrapErr("insert task", err)
	}
	return nil
}

func (t *pgTx) LockTask(ctx context.Context, id int64) (*domain.Task, error) {
	task, err := scanTask(t.tx.QueryRow(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = $1 AND NOT is_deleted FOR UPDATE`, id))
	if err != nil {
		return nil, notFound(err, domain.ErrTaskNotFound, "lock task")
	}
	return task, nil
}

func (t *pgTx) UpdateTask(ctx context.Context, task *domain.Task) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE tasks SET
			title = $2, description = $3, status = $4, assignee = $5,
			is_deleted = $6, updated_at = $7, completed_at = $8
		WHERE id = $1`,
		task.ID,
		task.Title,
		task.Description,
		string(task.Status),
		task.Assignee,
		task.IsDeleted,
		task.UpdatedAt,
		task.CompletedAt,
	)
	if err != nil {
		if c, ok := foreignKeyViolation(err); ok && c == assigneeConstraint {
			return domain.ErrUserNotFound
		}
		return wrapErr("update task", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func (t *pgTx) InsertSLA(ctx context.Context, r *domain.SLARecord) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO task_sla (`+slaColumns+`) VALUES ($1, $2, $3, $4, $5, $6)`,
		r.TaskID, r.OpenSeconds, r.InProgressSeconds, r.BlockedSeconds, string(r.LastStatus), r.LastStatusChangedAt)
	return wrapErr("insert sla", err)
}

func (t *pgTx) LockSLA(ctx context.Context, taskID int64) (*domain.SLARecord, error) {
	r, err := scanSLA(t.tx.QueryRow(ctx, `SELECT `+slaColumns+` FROM task_sla WHERE task_id = $1 FOR UPDATE`, taskID))
	if err != nil {
		return nil, notFound(err, domain.ErrTaskNotFound, "lock sla")
	}
	return r, nil
}

func (t *pgTx) UpdateSLA(ctx context.Context, r *domain.SLARecord) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE task_sla SET
			open_seconds = $2, in_progress_seconds = $3, blocked_seconds = $4,
			last_status = $5, last_status_changed_at = $6
		WHERE task_id = $1`,
		r.TaskID, r.OpenSeconds, r.InProgressSeconds, r.BlockedSeconds, string(r.LastStatus), r.LastStatusChangedAt)
	if err != nil {
		return wrapErr("update sla", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrTaskNotFound
	}
	return nil
}

func (t *pgTx) AppendActivity(ctx context.Context, a *domain.Activity) error {
	oldJSON, err := a.OldValue.MarshalJSONB()
	if err != nil {
		return fmt.Errorf("failed to encode old_value: %w", err)
	}
	newJSON, err := a.NewValue.MarshalJSONB()
	if err != nil {
		return fmt.Errorf("failed to encode new_value: %w", err)
	}

	err = t.tx.QueryRow(ctx, `
		INSERT INTO task_activities (task_id, action, old_value, new_value, comment, actor_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`,
		a.TaskID, string(a.Action), oldJSON, newJSON, a.Comment, a.ActorID, a.CreatedAt,
	).Scan(&a.ID)
	return wrapErr("append activity", err)
}
