package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"remindline/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

// LoadTasks returns one task collection in stored order.
func (r Repo) LoadTasks(ctx context.Context, set domain.TaskSet) ([]domain.Task, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,body_json FROM tasks WHERE task_set=? ORDER BY position ASC`, string(set))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		var (
			id   int64
			body string
		)
		if err := rows.Scan(&id, &body); err != nil {
			return nil, err
		}
		var t domain.Task
		if err := json.Unmarshal([]byte(body), &t); err != nil {
			return nil, fmt.Errorf("decode task %d: %w", id, err)
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// SaveTasks replaces one task collection.
func (r Repo) SaveTasks(ctx context.Context, set domain.TaskSet, tasks []domain.Task) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if _, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE task_set=?`, string(set)); err != nil {
		return fmt.Errorf("clear %s tasks: %w", set, err)
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO tasks(task_set,position,id,body_json) VALUES (?,?,?,?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i, t := range tasks {
		body, err := json.Marshal(t)
		if err != nil {
			return fmt.Errorf("encode task %d: %w", t.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, string(set), i, t.ID, string(body)); err != nil {
			return fmt.Errorf("insert task %d: %w", t.ID, err)
		}
	}
	return tx.Commit()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
