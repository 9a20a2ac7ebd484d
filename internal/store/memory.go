package store

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prohmpiriya/taskflow/internal/domain"
)

type snapshotKey struct {
	projectID int64
	day       time.Time
}

type memState struct {
	users        map[string]*domain.User
	projects     map[int64]*domain.Project
	tasks        map[int64]*domain.Task
	sla          map[int64]*domain.SLARecord
	activities   []domain.Activity
	snapshots    map[snapshotKey]*domain.Snapshot
	nextProject  int64
	nextTask     int64
	nextActivity int64
}

func newMemState() *memState {
	return &memState{
		users:     make(map[string]*domain.User),
		projects:  make(map[int64]*domain.Project),
		tasks:     make(map[int64]*domain.Task),
		sla:       make(map[int64]*domain.SLARecord),
		snapshots: make(map[snapshotKey]*domain.Snapshot),
	}
}

func (s *memState) clone() *memState {
	cp := &memState{
		users:        make(map[string]*domain.User, len(s.users)),
		projects:     make(map[int64]*domain.Project, len(s.projects)),
		tasks:        make(map[int64]*domain.Task, len(s.tasks)),
		sla:          make(map[int64]*domain.SLARecord, len(s.sla)),
		activities:   slices.Clone(s.activities),
		snapshots:    make(map[snapshotKey]*domain.Snapshot, len(s.snapshots)),
		nextProject:  s.nextProject,
		nextTask:     s.nextTask,
		nextActivity: s.nextActivity,
	}
	for k, v := range s.users {
		u := *v
		cp.users[k] = &u
	}
	for k, v := range s.projects {
		p := *v
		cp.projects[k] = &p
	}
	for k, v := range s.tasks {
		cp.tasks[k] = v.Clone()
	}
	for k, v := range s.sla {
		r := *v
		cp.sla[k] = &r
	}
	for k, v := range s.snapshots {
		sn := *v
		cp.snapshots[k] = &sn
	}
	return cp
}

// FaultFunc is consulted before every memory store operation. Returning an
// error makes the operation fail with it.
type FaultFunc func(ctx context.Context, op string) error

// MemoryStore is an in-memory Store for tests and local development.
// Transactions are serialized and work on a private copy that replaces the
// committed state only on success.
type MemoryStore struct {
	txMu   sync.Mutex
	mu     sync.RWMutex
	st     *memState
	closed atomic.Bool

	faultMu sync.RWMutex
	fault   FaultFunc
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{st: newMemState()}
}

// SetFault installs a fault hook (nil clears it)
func (s *MemoryStore) SetFault(f FaultFunc) {
	s.faultMu.Lock()
	s.fault = f
	s.faultMu.Unlock()
}

func (s *MemoryStore) check(ctx context.Context, op string) error {
	if s.closed.Load() {
		return fmt.Errorf("%w: store closed", domain.ErrStorageUnavailable)
	}
	if err := ctx.Err(); err != nil {
		return domain.StorageError(err)
	}
	s.faultMu.RLock()
	f := s.fault
	s.faultMu.RUnlock()
	if f != nil {
		if err := f(ctx, op); err != nil {
			return domain.StorageError(err)
		}
	}
	return nil
}

// InTx implements Store
func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := s.check(ctx, "begin"); err != nil {
		return err
	}

	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.RLock()
	work := s.st.clone()
	s.mu.RUnlock()

	if err := fn(&memTx{store: s, st: work}); err != nil {
		return err
	}

	if err := s.check(ctx, "commit"); err != nil {
		return err
	}

	s.mu.Lock()
	s.st = work
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) read(ctx context.Context, op string) (*memState, func(), error) {
	if err := s.check(ctx, op); err != nil {
		return nil, nil, err
	}
	s.mu.RLock()
	return s.st, s.mu.RUnlock, nil
}

// GetTask implements Store
func (s *MemoryStore) GetTask(ctx context.Context, id int64) (*domain.Task, error) {
	t, err := s.GetTaskIncludingDeleted(ctx, id)
	if err != nil {
		return nil, err
	}
	if t.IsDeleted {
		return nil, domain.ErrTaskNotFound
	}
	return t, nil
}

// GetTaskIncludingDeleted implements Store
func (s *MemoryStore) GetTaskIncludingDeleted(ctx context.Context, id int64) (*domain.Task, error) {
	st, unlock, err := s.read(ctx, "GetTask")
	if err != nil {
		return nil, err
	}
	defer unlock()

	t, ok := st.tasks[id]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	return t.Clone(), nil
}

// ListTasks implements Store. The result set is captured when iteration starts.
func (s *MemoryStore) ListTasks(ctx context.Context, filter domain.TaskFilter) iter.Seq2[*domain.Task, error] {
	return func(yield func(*domain.Task, error) bool) {
		st, unlock, err := s.read(ctx, "ListTasks")
		if err != nil {
			yield(nil, err)
			return
		}
		var out []*domain.Task
		for _, t := range st.tasks {
			if t.IsDeleted || !matches(t, filter) {
				continue
			}
			out = append(out, t.Clone())
		}
		unlock()

		slices.SortFunc(out, func(a, b *domain.Task) int {
			if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
				return c
			}
			return int(b.ID - a.ID)
		})

		for _, t := range out {
			if err := ctx.Err(); err != nil {
				yield(nil, domain.StorageError(err))
				return
			}
			if !yield(t, nil) {
				return
			}
		}
	}
}

func matches(t *domain.Task, f domain.TaskFilter) bool {
	if f.ProjectID != nil && t.ProjectID != *f.ProjectID {
		return false
	}
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.Assignee != nil && t.AssigneeValue() != *f.Assignee {
		return false
	}
	return true
}

// ListActivities implements Store
func (s *MemoryStore) ListActivities(ctx context.Context, taskID int64) ([]domain.Activity, error) {
	st, unlock, err := s.read(ctx, "ListActivities")
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]domain.Activity, 0)
	for _, a := range st.activities {
		if a.TaskID == taskID {
			out = append(out, a)
		}
	}
	slices.SortFunc(out, func(a, b domain.Activity) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return out, nil
}

// GetSLA implements Store
func (s *MemoryStore) GetSLA(ctx context.Context, taskID int64) (*domain.SLARecord, error) {
	st, unlock, err := s.read(ctx, "GetSLA")
	if err != nil {
		return nil, err
	}
	defer unlock()

	r, ok := st.sla[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	cp := *r
	return &cp, nil
}

// GetProject implements Store
func (s *MemoryStore) GetProject(ctx context.Context, id int64) (*domain.Project, error) {
	st, unlock, err := s.read(ctx, "GetProject")
	if err != nil {
		return nil, err
	}
	defer unlock()

	p, ok := st.projects[id]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

// ListProjects implements Store
func (s *MemoryStore) ListProjects(ctx context.Context) ([]*domain.Project, error) {
	st, unlock, err := s.read(ctx, "ListProjects")
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]*domain.Project, 0, len(st.projects))
	for _, p := range st.projects {
		cp := *p
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *domain.Project) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	return out, nil
}

// GetUser implements Store
func (s *MemoryStore) GetUser(ctx context.Context, id string) (*domain.User, error) {
	st, unlock, err := s.read(ctx, "GetUser")
	if err != nil {
		return nil, err
	}
	defer unlock()

	u, ok := st.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

// ListUsers implements Store
func (s *MemoryStore) ListUsers(ctx context.Context) ([]*domain.User, error) {
	st, unlock, err := s.read(ctx, "ListUsers")
	if err != nil {
		return nil, err
	}
	defer unlock()

	out := make([]*domain.User, 0, len(st.users))
	for _, u := range st.users {
		cp := *u
		out = append(out, &cp)
	}
	slices.SortFunc(out, func(a, b *domain.User) int {
		return strings.Compare(strings.ToLower(a.Username), strings.ToLower(b.Username))
	})
	return out, nil
}

// ComputeSnapshot implements Store
func (s *MemoryStore) ComputeSnapshot(ctx context.Context, projectID int64, day time.Time) (*domain.Snapshot, error) {
	st, unlock, err := s.read(ctx, "ComputeSnapshot")
	if err != nil {
		return nil, err
	}
	defer unlock()

	if _, ok := st.projects[projectID]; !ok {
		return nil, domain.ErrProjectNotFound
	}

	day = domain.Day(day)
	snap := &domain.Snapshot{ProjectID: projectID, Date: day}
	var inProgressTotal, slaCount int64
	for _, t := range st.tasks {
		if t.ProjectID != projectID {
			continue
		}
		if r, ok := st.sla[t.ID]; ok {
			inProgressTotal += r.InProgressSeconds
			slaCount++
		}
		if t.IsDeleted {
			continue
		}
		switch t.Status {
		case domain.StatusOpen:
			snap.TasksOpen++
		case domain.StatusInProgress:
			snap.TasksInProgress++
		case domain.StatusBlocked:
			snap.TasksBlocked++
		case domain.StatusDone:
			snap.TasksDone++
			if t.CompletedAt != nil && domain.Day(*t.CompletedAt).Equal(day) {
				snap.TasksCompleted++
			}
		}
		if domain.Day(t.CreatedAt).Equal(day) {
			snap.TasksCreated++
		}
	}
	if slaCount > 0 {
		snap.AvgCompletionSeconds = inProgressTotal / slaCount
	}
	return snap, nil
}

// UpsertSnapshot implements Store
func (s *MemoryStore) UpsertSnapshot(ctx context.Context, snap *domain.Snapshot) error {
	return s.InTx(ctx, func(tx Tx) error {
		mt := tx.(*memTx)
		cp := *snap
		cp.Date = domain.Day(snap.Date)
		mt.st.snapshots[snapshotKey{snap.ProjectID, cp.Date}] = &cp
		return nil
	})
}

// GetSnapshot implements Store
func (s *MemoryStore) GetSnapshot(ctx context.Context, projectID int64, day time.Time) (*domain.Snapshot, error) {
	st, unlock, err := s.read(ctx, "GetSnapshot")
	if err != nil {
		return nil, err
	}
	defer unlock()

	sn, ok := st.snapshots[snapshotKey{projectID, domain.Day(day)}]
	if !ok {
		return nil, nil
	}
	cp := *sn
	return &cp, nil
}

// Ping implements Store
func (s *MemoryStore) Ping(ctx context.Context) error {
	return s.check(ctx, "Ping")
}

// Close implements Store
func (s *MemoryStore) Close() {
	s.closed.Store(true)
}

// ActivityCount returns the total number of activity records (for testing)
func (s *MemoryStore) ActivityCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.activities)
}

// TaskCount returns the number of stored tasks including deleted (for testing)
func (s *MemoryStore) TaskCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.st.tasks)
}

type memTx struct {
	store *MemoryStore
	st    *memState
}

func (tx *memTx) InsertProject(ctx context.Context, p *domain.Project) error {
	if err := tx.store.check(ctx, "InsertProject"); err != nil {
		return err
	}
	tx.st.nextProject++
	p.ID = tx.st.nextProject
	cp := *p
	tx.st.projects[p.ID] = &cp
	return nil
}

func (tx *memTx) LockProject(ctx context.Context, id int64) (*domain.Project, error) {
	if err := tx.store.check(ctx, "LockProject"); err != nil {
		return nil, err
	}
	p, ok := tx.st.projects[id]
	if !ok {
		return nil, domain.ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (tx *memTx) UpdateProject(ctx context.Context, p *domain.Project) error {
	if err := tx.store.check(ctx, "UpdateProject"); err != nil {
		return err
	}
	if _, ok := tx.st.projects[p.ID]; !ok {
		return domain.ErrProjectNotFound
	}
	cp := *p
	tx.st.projects[p.ID] = &cp
	return nil
}

func (tx *memTx) DeleteProject(ctx context.Context, id int64) error {
	if err := tx.store.check(ctx, "DeleteProject"); err != nil {
		return err
	}
	if _, ok := tx.st.projects[id]; !ok {
		return domain.ErrProjectNotFound
	}
	delete(tx.st.projects, id)

	removed := make(map[int64]struct{})
	for tid, t := range tx.st.tasks {
		if t.ProjectID == id {
			removed[tid] = struct{}{}
			delete(tx.st.tasks, tid)
			delete(tx.st.sla, tid)
		}
	}
	tx.st.activities = slices.DeleteFunc(tx.st.activities, func(a domain.Activity) bool {
		_, gone := removed[a.TaskID]
		return gone
	})
	for k := range tx.st.snapshots {
		if k.projectID == id {
			delete(tx.st.snapshots, k)
		}
	}
	return nil
}

// checkUnique rejects a username or email already held by another user
func (tx *memTx) checkUnique(u *domain.User) error {
	for id, other := range tx.st.users {
		if id == u.ID {
			continue
		}
		if strings.EqualFold(other.Username, u.Username) {
			return &domain.ValidationError{Field: "username", Message: "already exists"}
		}
		if strings.EqualFold(other.Email, u.Email) {
			return &domain.ValidationError{Field: "email", Message: "already exists"}
		}
	}
	return nil
}

func (tx *memTx) InsertUser(ctx context.Context, u *domain.User) error {
	if err := tx.store.check(ctx, "InsertUser"); err != nil {
		return err
	}
	if _, ok := tx.st.users[u.ID]; ok {
		return &domain.ValidationError{Field: "id", Message: "already exists"}
	}
	if err := tx.checkUnique(u); err != nil {
		return err
	}
	cp := *u
	tx.st.users[u.ID] = &cp
	return nil
}

func (tx *memTx) LockUser(ctx context.Context, id string) (*domain.User, error) {
	if err := tx.store.check(ctx, "LockUser"); err != nil {
		return nil, err
	}
	u, ok := tx.st.users[id]
	if !ok {
		return nil, domain.ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (tx *memTx) UpdateUser(ctx context.Context, u *domain.User) error {
	if err := tx.store.check(ctx, "UpdateUser"); err != nil {
		return err
	}
	if _, ok := tx.st.users[u.ID]; !ok {
		return domain.ErrUserNotFound
	}
	if err := tx.checkUnique(u); err != nil {
		return err
	}
	cp := *u
	tx.st.users[u.ID] = &cp
	return nil
}

func (tx *memTx) DeleteUser(ctx context.Context, id string) error {
	if err := tx.store.check(ctx, "DeleteUser"); err != nil {
		return err
	}
	if _, ok := tx.st.users[id]; !ok {
		return domain.ErrUserNotFound
	}
	delete(tx.st.users, id)
	for _, t := range tx.st.tasks {
		if t.AssigneeValue() == id {
			t.Assignee = nil
		}
	}
	return nil
}

func (tx *memTx) RequireUser(ctx context.Context, id string) error {
	if err := tx.store.check(ctx, "RequireUser"); err != nil {
		return err
	}
	if _, ok := tx.st.users[id]; !ok {
		return domain.ErrUserNotFound
	}
	return nil
}

func (tx *memTx) InsertTask(ctx context.Context, t *domain.Task) error {
	if err := tx.store.check(ctx, "InsertTask"); err != nil {
		return err
	}
	if _, ok := tx.st.projects[t.ProjectID]; !ok {
		return domain.ErrProjectNotFound
	}
	tx.st.nextTask++
	t.ID = tx.st.nextTask
	tx.st.tasks[t.ID] = t.Clone()
	return nil
}

func (tx *memTx) LockTask(ctx context.Context, id int64) (*domain.Task, error) {
	if err := tx.store.check(ctx, "LockTask"); err != nil {
		return nil, err
	}
	t, ok := tx.st.tasks[id]
	if !ok || t.IsDeleted {
		return nil, domain.ErrTaskNotFound
	}
	return t.Clone(), nil
}

func (tx *memTx) UpdateTask(ctx context.Context, t *domain.Task) error {
	if err := tx.store.check(ctx, "UpdateTask"); err != nil {
		return err
	}
	if _, ok := tx.st.tasks[t.ID]; !ok {
		return domain.ErrTaskNotFound
	}
	tx.st.tasks[t.ID] = t.Clone()
	return nil
}

func (tx *memTx) InsertSLA(ctx context.Context, r *domain.SLARecord) error {
	if err := tx.store.check(ctx, "InsertSLA"); err != nil {
		return err
	}
	if _, ok := tx.st.sla[r.TaskID]; ok {
		return fmt.Errorf("sla record for task %d already exists", r.TaskID)
	}
	cp := *r
	tx.st.sla[r.TaskID] = &cp
	return nil
}

func (tx *memTx) LockSLA(ctx context.Context, taskID int64) (*domain.SLARecord, error) {
	if err := tx.store.check(ctx, "LockSLA"); err != nil {
		return nil, err
	}
	r, ok := tx.st.sla[taskID]
	if !ok {
		return nil, domain.ErrTaskNotFound
	}
	cp := *r
	return &cp, nil
}

func (tx *memTx) UpdateSLA(ctx context.Context, r *domain.SLARecord) error {
	if err := tx.store.check(ctx, "UpdateSLA"); err != nil {
		return err
	}
	if _, ok := tx.st.sla[r.TaskID]; !ok {
		return domain.ErrTaskNotFound
	}
	cp := *r
	tx.st.sla[r.TaskID] = &cp
	return nil
}

func (tx *memTx) AppendActivity(ctx context.Context, a *domain.Activity) error {
	if err := tx.store.check(ctx, "AppendActivity"); err != nil {
		return err
	}
	if _, ok := tx.st.tasks[a.TaskID]; !ok {
		return domain.ErrTaskNotFound
	}
	tx.st.nextActivity++
	a.ID = tx.st.nextActivity
	tx.st.activities = append(tx.st.activities, *a)
	return nil
}
