package remindlinesdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal remindline HTTP API client.
type Client struct {
	BaseURL    string
	ActorID    string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// New creates a client with sane defaults. baseURL includes the API base
// path, e.g. http://localhost:8080/api.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Task represents the API task model.
type Task struct {
	ID             int64   `json:"id"`
	Text           string  `json:"text"`
	Description    string  `json:"description,omitempty"`
	Category       *string `json:"category,omitempty"`
	Completed      bool    `json:"completed"`
	Datetime       *string `json:"datetime,omitempty"`
	ReminderTime   *int    `json:"reminder_time,omitempty"`
	ParentID       *int64  `json:"parent_id,omitempty"`
	Dependencies   []int64 `json:"dependencies,omitempty"`
	ChatIDs        []int64 `json:"chat_ids,omitempty"`
	Group          *string `json:"group,omitempty"`
	RepeatInterval *string `json:"repeat_interval,omitempty"`
	RepeatCount    *int    `json:"repeat_count,omitempty"`
	RepeatUntil    *string `json:"repeat_until,omitempty"`
	OriginalTaskID *int64  `json:"original_task_id,omitempty"`
	Files          []File  `json:"files,omitempty"`
}

// File describes an attachment.
type File struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Size       int64  `json:"size"`
	UploadedAt string `json:"uploaded_at,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

// TaskList is the listing of active and archived tasks.
type TaskList struct {
	Tasks         []Task `json:"tasks"`
	ArchivedTasks []Task `json:"archived_tasks"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s message=%s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task. fields holds optional attributes such as
// datetime, reminder_time, chat_ids or repeat_interval.
func (c *Client) CreateTask(ctx context.Context, text string, fields map[string]any) (Task, error) {
	body := map[string]any{}
	for k, v := range fields {
		body[k] = v
	}
	body["text"] = text
	var resp Task
	err := c.do(ctx, http.MethodPost, "tasks", body, &resp)
	return resp, err
}

// UpdateTask applies a partial update. A nil value clears the field.
func (c *Client) UpdateTask(ctx context.Context, id int64, fields map[string]any) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("tasks/%d", id), fields, &resp)
	return resp, err
}

// CompleteTask marks a task completed.
func (c *Client) CompleteTask(ctx context.Context, id int64) (Task, error) {
	return c.UpdateTask(ctx, id, map[string]any{"completed": true})
}

func (c *Client) GetTask(ctx context.Context, id int64) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%d", id), nil, &resp)
	return resp, err
}

// ListTasks lists tasks. date, when set, narrows to one calendar day.
func (c *Client) ListTasks(ctx context.Context, date string) (TaskList, error) {
	endpoint := "tasks"
	if date != "" {
		endpoint += "?date=" + url.QueryEscape(date)
	}
	var resp TaskList
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// DeleteTask removes a task with its subtasks and returns the removed ids.
func (c *Client) DeleteTask(ctx context.Context, id int64) ([]int64, error) {
	var resp struct {
		Deleted []int64 `json:"deleted"`
	}
	err := c.do(ctx, http.MethodDelete, fmt.Sprintf("tasks/%d", id), nil, &resp)
	return resp.Deleted, err
}

func (c *Client) CanComplete(ctx context.Context, id int64) (bool, error) {
	var resp struct {
		CanComplete bool `json:"can_complete"`
	}
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("tasks/%d/can-complete", id), nil, &resp)
	return resp.CanComplete, err
}

// Archive moves completed tasks to the archive.
func (c *Client) Archive(ctx context.Context) ([]int64, error) {
	var resp struct {
		Archived []int64 `json:"archived"`
	}
	err := c.do(ctx, http.MethodPost, "archive", nil, &resp)
	return resp.Archived, err
}

// ProcessRepeating generates due occurrences and returns how many were made.
func (c *Client) ProcessRepeating(ctx context.Context) (int, error) {
	var resp struct {
		Created int `json:"created"`
	}
	err := c.do(ctx, http.MethodPost, "process-repeating", nil, &resp)
	return resp.Created, err
}

func (c *Client) Categories(ctx context.Context) ([]string, error) {
	var resp []string
	err := c.do(ctx, http.MethodGet, "categories", nil, &resp)
	return resp, err
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int, evtType string) ([]Event, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", fmt.Sprint(limit))
	}
	if evtType != "" {
		q.Set("type", evtType)
	}
	endpoint := "events"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.ActorID != "" {
		req.Header.Set("X-Actor-Id", c.ActorID)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var env struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &env) == nil {
			apiErr.Code = env.Error.Code
			apiErr.Message = env.Error.Message
		}
		return apiErr
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
