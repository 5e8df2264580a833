package engine

import (
	"context"
	"log/slog"
	"sync"

	"remindline/internal/domain"
)

// Persistence loads and saves whole task collections.
type Persistence interface {
	LoadTasks(ctx context.Context, set domain.TaskSet) ([]domain.Task, error)
	SaveTasks(ctx context.Context, set domain.TaskSet, tasks []domain.Task) error
}

// Store owns the active and archived task collections for the process. Every
// mutation runs under mu and is persisted before it becomes visible.
type Store struct {
	mu       sync.Mutex
	persist  Persistence
	active   []domain.Task
	archived []domain.Task
	lastID   int64
}

func NewStore(p Persistence) *Store {
	return &Store{persist: p}
}

// Load replaces the in-memory state with what the persistence layer holds.
// An id present in both collections is an archival that stopped after the
// archive was written; the active copy is dropped to finish it.
func (s *Store) Load(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	archived, err := s.persist.LoadTasks(ctx, domain.ArchivedSet)
	if err != nil {
		return domain.Persistence("load archived tasks", err)
	}
	active, err := s.persist.LoadTasks(ctx, domain.ActiveSet)
	if err != nil {
		return domain.Persistence("load active tasks", err)
	}
	inArchive := make(map[int64]struct{}, len(archived))
	for _, t := range archived {
		inArchive[t.ID] = struct{}{}
	}
	kept := active[:0]
	for _, t := range active {
		if _, dup := inArchive[t.ID]; dup {
			slog.Warn("dropping active copy of archived task", "task_id", t.ID)
			continue
		}
		kept = append(kept, t)
	}
	s.active = kept
	s.archived = archived
	s.lastID = maxID(s.active, s.archived, s.lastID)
	return nil
}

// state is the working copy handed to one critical section.
type state struct {
	active        []domain.Task
	archived      []domain.Task
	lastID        int64
	activeDirty   bool
	archivedDirty bool
	idx           *forest
}

func (s *Store) snapshot() *state {
	return &state{
		active:   append([]domain.Task(nil), s.active...),
		archived: append([]domain.Task(nil), s.archived...),
		lastID:   s.lastID,
	}
}

// update runs fn on a copy of the state, persists what fn changed and then
// swaps the copy in. Nothing changes in memory if fn or a save fails.
func (s *Store) update(ctx context.Context, fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.snapshot()
	if err := fn(st); err != nil {
		return err
	}
	if st.archivedDirty {
		if err := s.persist.SaveTasks(ctx, domain.ArchivedSet, st.archived); err != nil {
			return domain.Persistence("save archived tasks", err)
		}
	}
	if st.activeDirty {
		if err := s.persist.SaveTasks(ctx, domain.ActiveSet, st.active); err != nil {
			return domain.Persistence("save active tasks", err)
		}
	}
	s.active = st.active
	s.archived = st.archived
	s.lastID = st.lastID
	return nil
}

func (s *Store) view(fn func(st *state) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&state{active: s.active, archived: s.archived, lastID: s.lastID})
}

func (st *state) index() *forest {
	if st.idx == nil {
		st.idx = newForest(st.active)
	}
	return st.idx
}

func (st *state) setActive(tasks []domain.Task) {
	st.active = tasks
	st.activeDirty = true
	st.idx = nil
}

func (st *state) setArchived(tasks []domain.Task) {
	st.archived = tasks
	st.archivedDirty = true
}

// replaceActive stores t over the active task with the same id.
func (st *state) replaceActive(t domain.Task) {
	pos := st.index().byID[t.ID]
	st.active[pos] = t
	st.activeDirty = true
	st.idx = nil
}

func (st *state) appendActive(t domain.Task) {
	st.active = append(st.active, t)
	st.activeDirty = true
	st.idx = nil
}

func (st *state) nextID() int64 {
	st.lastID = maxID(st.active, st.archived, st.lastID) + 1
	return st.lastID
}

func (st *state) activeTask(id int64) (domain.Task, bool) {
	pos, ok := st.index().byID[id]
	if !ok {
		return domain.Task{}, false
	}
	return st.active[pos], true
}

func (st *state) archivedTask(id int64) (domain.Task, bool) {
	for _, t := range st.archived {
		if t.ID == id {
			return t, true
		}
	}
	return domain.Task{}, false
}

// anyTask looks in the active collection first, then the archive.
func (st *state) anyTask(id int64) (domain.Task, bool) {
	if t, ok := st.activeTask(id); ok {
		return t, true
	}
	return st.archivedTask(id)
}

func (st *state) mustActive(id int64) (domain.Task, error) {
	t, ok := st.activeTask(id)
	if !ok {
		return domain.Task{}, domain.NotFound("task", id)
	}
	return t, nil
}

func maxID(active, archived []domain.Task, floor int64) int64 {
	m := floor
	for _, t := range active {
		if t.ID > m {
			m = t.ID
		}
	}
	for _, t := range archived {
		if t.ID > m {
			m = t.ID
		}
	}
	return m
}

func cloneAll(tasks []domain.Task) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Clone())
	}
	return out
}
