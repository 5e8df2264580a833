package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"remindline/internal/domain"
)

// JSONFiles keeps the two task collections as tasks.json and
// archived_tasks.json in a directory.
type JSONFiles struct {
	mu  sync.Mutex
	dir string
}

func NewJSONFiles(dir string) (*JSONFiles, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &JSONFiles{dir: dir}, nil
}

func (j *JSONFiles) path(set domain.TaskSet) string {
	if set == domain.ArchivedSet {
		return filepath.Join(j.dir, "archived_tasks.json")
	}
	return filepath.Join(j.dir, "tasks.json")
}

func (j *JSONFiles) LoadTasks(ctx context.Context, set domain.TaskSet) ([]domain.Task, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	b, err := os.ReadFile(j.path(set))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var tasks []domain.Task
	if err := json.Unmarshal(b, &tasks); err != nil {
		return nil, fmt.Errorf("decode %s: %w", j.path(set), err)
	}
	return tasks, nil
}

// SaveTasks writes through a temp file and rename so a crash never leaves a
// truncated collection behind.
func (j *JSONFiles) SaveTasks(ctx context.Context, set domain.TaskSet, tasks []domain.Task) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if tasks == nil {
		tasks = []domain.Task{}
	}
	b, err := json.MarshalIndent(tasks, "", "  ")
	if err != nil {
		return err
	}
	target := j.path(set)
	tmp, err := os.CreateTemp(j.dir, filepath.Base(target)+".*.tmp")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(b); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), target)
}
