package server

import (
	"encoding/json"

	"remindline/internal/domain"
)

// Request payloads

type CreateTaskRequest struct {
	Text           string  `json:"text" minLength:"1"`
	Description    *string `json:"description,omitempty"`
	Category       *string `json:"category,omitempty"`
	Completed      *bool   `json:"completed,omitempty"`
	Datetime       *string `json:"datetime,omitempty" example:"2025-03-01T09:00"`
	ReminderTime   *int    `json:"reminder_time,omitempty" minimum:"0"`
	ParentID       *int64  `json:"parent_id,omitempty"`
	Dependencies   []int64 `json:"dependencies,omitempty"`
	ChatIDs        []int64 `json:"chat_ids,omitempty"`
	Group          *string `json:"group,omitempty"`
	RepeatInterval *string `json:"repeat_interval,omitempty" enum:"day,week,month,quarter,year"`
	RepeatCount    *int    `json:"repeat_count,omitempty" minimum:"1"`
	RepeatUntil    *string `json:"repeat_until,omitempty" example:"2025-12-31"`
}

// UpdateTaskRequest fields are all optional. Sending null clears an optional
// field.
type UpdateTaskRequest struct {
	Text           *string  `json:"text,omitempty"`
	Description    *string  `json:"description,omitempty" nullable:"true"`
	Category       *string  `json:"category,omitempty" nullable:"true"`
	Completed      *bool    `json:"completed,omitempty"`
	Datetime       *string  `json:"datetime,omitempty" nullable:"true"`
	ReminderTime   *int     `json:"reminder_time,omitempty" nullable:"true"`
	ParentID       *int64   `json:"parent_id,omitempty" nullable:"true"`
	Dependencies   *[]int64 `json:"dependencies,omitempty"`
	ChatIDs        *[]int64 `json:"chat_ids,omitempty"`
	Group          *string  `json:"group,omitempty" nullable:"true"`
	RepeatInterval *string  `json:"repeat_interval,omitempty" nullable:"true"`
	RepeatCount    *int     `json:"repeat_count,omitempty" nullable:"true"`
	RepeatUntil    *string  `json:"repeat_until,omitempty" nullable:"true"`
}

type CategoryRequest struct {
	Category string `json:"category" minLength:"1"`
}

type RenameCategoryRequest struct {
	Name string `json:"name" minLength:"1"`
}

type ReorderCategoriesRequest struct {
	Categories []string `json:"categories"`
}

type UpdateContactRequest struct {
	Name  *string `json:"name,omitempty"`
	Group *string `json:"group,omitempty" nullable:"true"`
}

// Responses

type TaskListResponse struct {
	Tasks         []domain.Task `json:"tasks"`
	ArchivedTasks []domain.Task `json:"archived_tasks"`
}

type DeleteTaskResponse struct {
	Deleted []int64 `json:"deleted"`
}

type ArchiveResponse struct {
	Archived []int64 `json:"archived"`
}

type CanCompleteResponse struct {
	ID          int64 `json:"id"`
	CanComplete bool  `json:"can_complete"`
}

type DescendantsResponse struct {
	ID          int64   `json:"id"`
	Descendants []int64 `json:"descendants"`
}

type ProcessRepeatingResponse struct {
	Created int `json:"created"`
}

type ImportResponse struct {
	Imported int `json:"imported"`
}

type EventResponse struct {
	ID         int64           `json:"id"`
	TS         string          `json:"ts"`
	Type       string          `json:"type"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	Payload    json.RawMessage `json:"payload,omitempty"`
}

func eventResponse(evt domain.Event) EventResponse {
	res := EventResponse{
		ID:         evt.ID,
		TS:         evt.TS,
		Type:       evt.Type,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
	}
	if evt.Payload != "" && json.Valid([]byte(evt.Payload)) {
		res.Payload = json.RawMessage(evt.Payload)
	}
	return res
}

func nonNilTasks(items []domain.Task) []domain.Task {
	if items == nil {
		return []domain.Task{}
	}
	return items
}
