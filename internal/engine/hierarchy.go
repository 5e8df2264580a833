package engine

import (
	"context"
	"iter"

	"remindline/internal/domain"
)

// forest indexes the active tasks by id and by parent.
type forest struct {
	byID     map[int64]int
	children map[int64][]int64
}

func newForest(tasks []domain.Task) *forest {
	f := &forest{
		byID:     make(map[int64]int, len(tasks)),
		children: make(map[int64][]int64),
	}
	for i, t := range tasks {
		f.byID[t.ID] = i
		if t.ParentID != nil {
			f.children[*t.ParentID] = append(f.children[*t.ParentID], t.ID)
		}
	}
	return f
}

// descendants yields every task below id, breadth first. The walk keeps a
// visited set so malformed legacy data with a cycle still terminates.
func (f *forest) descendants(id int64) iter.Seq[int64] {
	return func(yield func(int64) bool) {
		visited := map[int64]struct{}{id: {}}
		queue := append([]int64(nil), f.children[id]...)
		for len(queue) > 0 {
			next := queue[0]
			queue = queue[1:]
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			if !yield(next) {
				return
			}
			queue = append(queue, f.children[next]...)
		}
	}
}

func (st *state) validateParent(taskID, parentID int64) error {
	if _, ok := st.activeTask(parentID); !ok {
		return domain.NotFound("parent task", parentID)
	}
	if parentID == taskID {
		return domain.Invalid("task %d cannot be its own parent", taskID)
	}
	seen := map[int64]struct{}{}
	cur := parentID
	for {
		if cur == taskID {
			return domain.Invalid("parent %d would create a cycle under task %d", parentID, taskID)
		}
		if _, loop := seen[cur]; loop {
			return nil
		}
		seen[cur] = struct{}{}
		t, ok := st.activeTask(cur)
		if !ok || t.ParentID == nil {
			return nil
		}
		cur = *t.ParentID
	}
}

func (st *state) validateDependencies(taskID int64, deps []int64) error {
	for _, dep := range deps {
		if dep == taskID {
			return domain.Invalid("task %d cannot depend on itself", taskID)
		}
		if _, ok := st.anyTask(dep); !ok {
			return domain.NotFound("dependency", dep)
		}
	}
	return nil
}

// canComplete reports whether every dependency and every direct child of
// the task is completed. A dependency that no longer exists does not block.
func (st *state) canComplete(t domain.Task) bool {
	for _, dep := range t.Dependencies {
		if d, ok := st.anyTask(dep); ok && !d.Completed {
			return false
		}
	}
	for _, childID := range st.index().children[t.ID] {
		if child, ok := st.activeTask(childID); ok && !child.Completed {
			return false
		}
	}
	return true
}

// cascadeDelete removes id and its whole subtree from the active collection.
func (st *state) cascadeDelete(id int64) ([]int64, error) {
	if _, err := st.mustActive(id); err != nil {
		return nil, err
	}
	removed := []int64{id}
	for d := range st.index().descendants(id) {
		removed = append(removed, d)
	}
	drop := make(map[int64]struct{}, len(removed))
	for _, r := range removed {
		drop[r] = struct{}{}
	}
	kept := make([]domain.Task, 0, len(st.active))
	for _, t := range st.active {
		if _, gone := drop[t.ID]; !gone {
			kept = append(kept, t)
		}
	}
	st.setActive(kept)
	return removed, nil
}

// ValidateParent checks that parentID is an active task and that linking
// taskID under it keeps the hierarchy acyclic.
func (e Engine) ValidateParent(ctx context.Context, taskID, parentID int64) error {
	return e.Store.view(func(st *state) error {
		return st.validateParent(taskID, parentID)
	})
}

// ValidateDependencies checks that every id exists in either collection.
func (e Engine) ValidateDependencies(ctx context.Context, taskID int64, deps []int64) error {
	return e.Store.view(func(st *state) error {
		return st.validateDependencies(taskID, deps)
	})
}

// Descendants returns the ids of every active task below id.
func (e Engine) Descendants(ctx context.Context, id int64) ([]int64, error) {
	var out []int64
	err := e.Store.view(func(st *state) error {
		if _, err := st.mustActive(id); err != nil {
			return err
		}
		for d := range st.index().descendants(id) {
			out = append(out, d)
		}
		return nil
	})
	return out, err
}

// CanComplete reports whether the task may be marked completed.
func (e Engine) CanComplete(ctx context.Context, id int64) (bool, error) {
	var ok bool
	err := e.Store.view(func(st *state) error {
		t, err := st.mustActive(id)
		if err != nil {
			return err
		}
		ok = st.canComplete(t)
		return nil
	})
	return ok, err
}

// CascadeDelete removes the task and all of its descendants and returns the
// removed ids.
func (e Engine) CascadeDelete(ctx context.Context, id int64, actorID string) ([]int64, error) {
	var removed []int64
	var orphans []domain.FileDescriptor
	err := e.Store.update(ctx, func(st *state) error {
		var attached []domain.FileDescriptor
		before := st.active
		var err error
		removed, err = st.cascadeDelete(id)
		if err != nil {
			return err
		}
		gone := make(map[int64]struct{}, len(removed))
		for _, r := range removed {
			gone[r] = struct{}{}
		}
		for _, t := range before {
			if _, ok := gone[t.ID]; ok {
				attached = append(attached, t.Files...)
			}
		}
		seen := map[string]struct{}{}
		for _, f := range attached {
			if _, dup := seen[f.Path]; dup || st.fileReferenced(f.Path) {
				continue
			}
			seen[f.Path] = struct{}{}
			orphans = append(orphans, f)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.removeFiles(ctx, orphans)
	e.emit(ctx, "task.deleted", "task", id, actorID, map[string]any{"removed": removed})
	return removed, nil
}

// Subtasks returns the direct children of a task.
func (e Engine) Subtasks(ctx context.Context, id int64) ([]domain.Task, error) {
	var out []domain.Task
	err := e.Store.view(func(st *state) error {
		if _, err := st.mustActive(id); err != nil {
			return err
		}
		for _, childID := range st.index().children[id] {
			child, _ := st.activeTask(childID)
			out = append(out, child.Clone())
		}
		return nil
	})
	return out, err
}
