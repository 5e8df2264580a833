package engine

import (
	"context"
	"strconv"

	"remindline/internal/domain"
)

// ArchiveCompleted moves every completed active task, together with its
// whole subtree, into the archive. Subtasks move whatever their own state.
// The archive is written before the active collection, and ids already in the
// archive are not appended twice, so a retry after a failed save is safe.
func (e Engine) ArchiveCompleted(ctx context.Context, actorID string) ([]int64, error) {
	var moved []int64
	err := e.Store.update(ctx, func(st *state) error {
		idx := st.index()
		move := map[int64]struct{}{}
		for _, t := range st.active {
			if !t.Completed {
				continue
			}
			move[t.ID] = struct{}{}
			for d := range idx.descendants(t.ID) {
				move[d] = struct{}{}
			}
		}
		if len(move) == 0 {
			return nil
		}
		inArchive := make(map[int64]struct{}, len(st.archived))
		for _, t := range st.archived {
			inArchive[t.ID] = struct{}{}
		}
		archived := append([]domain.Task(nil), st.archived...)
		kept := make([]domain.Task, 0, len(st.active)-len(move))
		for _, t := range st.active {
			if _, ok := move[t.ID]; !ok {
				kept = append(kept, t)
				continue
			}
			moved = append(moved, t.ID)
			if _, dup := inArchive[t.ID]; !dup {
				archived = append(archived, t)
			}
		}
		st.setArchived(archived)
		st.setActive(kept)
		return nil
	})
	if err != nil {
		return nil, err
	}
	if len(moved) > 0 {
		e.emit(ctx, "tasks.archived", "task", 0, actorID, map[string]any{"ids": moved})
	}
	return moved, nil
}

// ListArchived returns a copy of the archive.
func (e Engine) ListArchived(ctx context.Context, filter TaskFilter) ([]domain.Task, error) {
	var out []domain.Task
	err := e.Store.view(func(st *state) error {
		out = filter.apply(st.archived, e.location())
		return nil
	})
	return out, err
}

// DeleteArchived permanently removes one archived task. Attachment bytes no
// other task references are removed from the file store as well.
func (e Engine) DeleteArchived(ctx context.Context, id int64, actorID string) error {
	var removed domain.Task
	var orphans []domain.FileDescriptor
	err := e.Store.update(ctx, func(st *state) error {
		t, ok := st.archivedTask(id)
		if !ok {
			return domain.NotFound("archived task", id)
		}
		removed = t
		kept := make([]domain.Task, 0, len(st.archived))
		for _, a := range st.archived {
			if a.ID != id {
				kept = append(kept, a)
			}
		}
		st.setArchived(kept)
		for _, f := range t.Files {
			if !st.fileReferenced(f.Path) {
				orphans = append(orphans, f)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.removeFiles(ctx, orphans)
	e.emit(ctx, "archive.deleted", "task", id, actorID, map[string]any{"text": removed.Text})
	return nil
}

func taskEntityID(id int64) string {
	if id == 0 {
		return ""
	}
	return strconv.FormatInt(id, 10)
}
