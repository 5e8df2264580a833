package engine

import (
	"context"
	"io"
	"strings"

	"remindline/internal/domain"
	"remindline/internal/events"
)

// AttachFile stores content and records its descriptor on an active task.
func (e Engine) AttachFile(ctx context.Context, taskID int64, name string, content io.Reader, actorID string) (domain.FileDescriptor, error) {
	if e.Files == nil {
		return domain.FileDescriptor{}, domain.Invalid("file storage is not configured")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.FileDescriptor{}, domain.Invalid("file name is required")
	}
	if _, err := e.GetTask(ctx, taskID); err != nil {
		return domain.FileDescriptor{}, err
	}
	fd, err := e.Files.Put(ctx, name, content)
	if err != nil {
		return domain.FileDescriptor{}, domain.Persistence("store file", err)
	}
	err = e.Store.update(ctx, func(st *state) error {
		t, err := st.mustActive(taskID)
		if err != nil {
			return err
		}
		t = t.Clone()
		t.Files = append(t.Files, fd)
		st.replaceActive(t)
		return nil
	})
	if err != nil {
		e.removeFiles(ctx, []domain.FileDescriptor{fd})
		return domain.FileDescriptor{}, err
	}
	e.emit(ctx, "task.file.attached", "task", taskID, actorID, events.EventPayload{"file_id": fd.ID, "name": fd.Name})
	return fd, nil
}

// OpenFile returns an attachment of an active or archived task.
func (e Engine) OpenFile(ctx context.Context, taskID int64, fileID string) (domain.FileDescriptor, []byte, error) {
	var fd domain.FileDescriptor
	err := e.Store.view(func(st *state) error {
		t, ok := st.anyTask(taskID)
		if !ok {
			return domain.NotFound("task", taskID)
		}
		for _, f := range t.Files {
			if f.ID == fileID {
				fd = f
				return nil
			}
		}
		return domain.NotFound("file", fileID)
	})
	if err != nil {
		return fd, nil, err
	}
	if e.Files == nil {
		return fd, nil, domain.Invalid("file storage is not configured")
	}
	data, err := e.Files.Retrieve(ctx, fd.Path)
	if err != nil {
		return fd, nil, domain.Persistence("read file", err)
	}
	return fd, data, nil
}

// DetachFile removes an attachment from an active task.
func (e Engine) DetachFile(ctx context.Context, taskID int64, fileID, actorID string) error {
	var orphans []domain.FileDescriptor
	err := e.Store.update(ctx, func(st *state) error {
		t, err := st.mustActive(taskID)
		if err != nil {
			return err
		}
		t = t.Clone()
		idx := -1
		for i, f := range t.Files {
			if f.ID == fileID {
				idx = i
				break
			}
		}
		if idx < 0 {
			return domain.NotFound("file", fileID)
		}
		fd := t.Files[idx]
		t.Files = append(t.Files[:idx], t.Files[idx+1:]...)
		if len(t.Files) == 0 {
			t.Files = nil
		}
		st.replaceActive(t)
		if !st.fileReferenced(fd.Path) {
			orphans = append(orphans, fd)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.removeFiles(ctx, orphans)
	e.emit(ctx, "task.file.detached", "task", taskID, actorID, events.EventPayload{"file_id": fileID})
	return nil
}

// fileReferenced reports whether any task in either collection still points
// at path. Recurring occurrences share their source's attachments.
func (st *state) fileReferenced(path string) bool {
	for _, set := range [][]domain.Task{st.active, st.archived} {
		for _, t := range set {
			for _, f := range t.Files {
				if f.Path == path {
					return true
				}
			}
		}
	}
	return false
}

func (e Engine) removeFiles(ctx context.Context, fds []domain.FileDescriptor) {
	if e.Files == nil {
		return
	}
	for _, fd := range fds {
		if err := e.Files.Delete(ctx, fd.Path); err != nil {
			e.logger().Warn("remove file failed", "path", fd.Path, "err", err)
		}
	}
}
