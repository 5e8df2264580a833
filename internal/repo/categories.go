package repo

import (
	"context"
)

func (r Repo) ListCategories(ctx context.Context) ([]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT name FROM categories ORDER BY position ASC, name ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		res = append(res, name)
	}
	return res, rows.Err()
}

func (r Repo) AddCategory(ctx context.Context, name string) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO categories(name,position) VALUES (?,(SELECT COALESCE(MAX(position),-1)+1 FROM categories))`, name)
	return err
}

func (r Repo) DeleteCategory(ctx context.Context, name string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM categories WHERE name=?`, name)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) RenameCategory(ctx context.Context, from, to string) error {
	res, err := r.DB.ExecContext(ctx, `UPDATE categories SET name=? WHERE name=?`, to, from)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// ReorderCategories rewrites positions to follow names.
func (r Repo) ReorderCategories(ctx context.Context, names []string) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i, name := range names {
		if _, err := tx.ExecContext(ctx, `UPDATE categories SET position=? WHERE name=?`, i, name); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// SeedCategories inserts the given categories when the table is empty.
func (r Repo) SeedCategories(ctx context.Context, names []string) error {
	var n int
	if err := r.DB.QueryRowContext(ctx, `SELECT COUNT(*) FROM categories`).Scan(&n); err != nil {
		return err
	}
	if n > 0 {
		return nil
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for i, name := range names {
		if _, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO categories(name,position) VALUES (?,?)`, name, i); err != nil {
			return err
		}
	}
	return tx.Commit()
}
