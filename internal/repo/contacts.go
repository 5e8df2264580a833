package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"remindline/internal/domain"
)

const contactColumns = `chat_id,COALESCE(username,''),name,COALESCE(group_name,''),COALESCE(last_text,''),updated_at`

func scanContact(row interface{ Scan(...any) error }) (domain.Contact, error) {
	var c domain.Contact
	err := row.Scan(&c.ChatID, &c.Username, &c.Name, &c.Group, &c.Text, &c.Timestamp)
	if err == sql.ErrNoRows {
		return c, ErrNotFound
	}
	return c, err
}

// RecordContact stores the latest message of a chat. A known contact keeps
// its display name and group; username is refreshed when present.
func (r Repo) RecordContact(ctx context.Context, c domain.Contact) error {
	name := c.Name
	if name == "" {
		name = fmt.Sprintf("%d", c.ChatID)
	}
	_, err := r.DB.ExecContext(ctx, `INSERT INTO contacts(chat_id,username,name,group_name,last_text,updated_at) VALUES (?,?,?,NULL,?,?)
ON CONFLICT(chat_id) DO UPDATE SET
  username=COALESCE(excluded.username,contacts.username),
  last_text=excluded.last_text,
  updated_at=excluded.updated_at`,
		c.ChatID, nullable(strings.TrimPrefix(c.Username, "@")), name, nullable(c.Text), c.Timestamp)
	return err
}

func (r Repo) GetContact(ctx context.Context, chatID int64) (domain.Contact, error) {
	return scanContact(r.DB.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE chat_id=?`, chatID))
}

// ContactByUsername matches with or without a leading @.
func (r Repo) ContactByUsername(ctx context.Context, username string) (domain.Contact, error) {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	return scanContact(r.DB.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE username=? COLLATE NOCASE`, username))
}

func (r Repo) ListContacts(ctx context.Context) ([]domain.Contact, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+contactColumns+` FROM contacts ORDER BY name ASC, chat_id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	res := []domain.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, c)
	}
	return res, rows.Err()
}

// UpdateContact changes the display name and/or group. An empty group
// removes the contact from its group.
func (r Repo) UpdateContact(ctx context.Context, chatID int64, name, group *string) (domain.Contact, error) {
	var (
		fields []string
		args   []any
	)
	if name != nil {
		fields = append(fields, "name=?")
		args = append(args, strings.TrimSpace(*name))
	}
	if group != nil {
		fields = append(fields, "group_name=?")
		args = append(args, nullable(strings.TrimSpace(*group)))
	}
	if len(fields) > 0 {
		args = append(args, chatID)
		res, err := r.DB.ExecContext(ctx, fmt.Sprintf(`UPDATE contacts SET %s WHERE chat_id=?`, strings.Join(fields, ",")), args...)
		if err != nil {
			return domain.Contact{}, err
		}
		if affected, _ := res.RowsAffected(); affected == 0 {
			return domain.Contact{}, ErrNotFound
		}
	}
	return r.GetContact(ctx, chatID)
}

func (r Repo) DeleteContact(ctx context.Context, chatID int64) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM contacts WHERE chat_id=?`, chatID)
	if err != nil {
		return err
	}
	if affected, _ := res.RowsAffected(); affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Resolve returns the recipient registered under chatID.
func (r Repo) Resolve(ctx context.Context, chatID int64) (domain.Contact, error) {
	return r.GetContact(ctx, chatID)
}

// ResolveGroup returns the chat ids of every member of a group.
func (r Repo) ResolveGroup(ctx context.Context, name string) ([]int64, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT chat_id FROM contacts WHERE group_name=? ORDER BY chat_id ASC`, name)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
