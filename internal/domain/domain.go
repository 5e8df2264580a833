package domain

import (
	"fmt"
	"strings"
	"time"
)

// TaskSet names one of the two persisted task collections.
type TaskSet string

const (
	ActiveSet   TaskSet = "active"
	ArchivedSet TaskSet = "archived"
)

// RepeatInterval is the unit a recurring task advances by.
type RepeatInterval string

const (
	RepeatDay     RepeatInterval = "day"
	RepeatWeek    RepeatInterval = "week"
	RepeatMonth   RepeatInterval = "month"
	RepeatQuarter RepeatInterval = "quarter"
	RepeatYear    RepeatInterval = "year"
)

func (r RepeatInterval) Valid() bool {
	switch r {
	case RepeatDay, RepeatWeek, RepeatMonth, RepeatQuarter, RepeatYear:
		return true
	}
	return false
}

type Task struct {
	ID             int64            `json:"id"`
	Text           string           `json:"text"`
	Description    string           `json:"description,omitempty"`
	Category       *string          `json:"category,omitempty"`
	Completed      bool             `json:"completed"`
	Datetime       *string          `json:"datetime,omitempty"`
	ReminderTime   *int             `json:"reminder_time,omitempty" minimum:"0"`
	ParentID       *int64           `json:"parent_id,omitempty"`
	Dependencies   []int64          `json:"dependencies,omitempty"`
	ChatIDs        []int64          `json:"chat_ids,omitempty"`
	Group          *string          `json:"group,omitempty"`
	RepeatInterval *RepeatInterval  `json:"repeat_interval,omitempty" enum:"day,week,month,quarter,year"`
	RepeatCount    *int             `json:"repeat_count,omitempty"`
	RepeatUntil    *string          `json:"repeat_until,omitempty"`
	OriginalTaskID *int64           `json:"original_task_id,omitempty"`
	Files          []FileDescriptor `json:"files,omitempty"`
	CreatedAt      *string          `json:"created_at,omitempty"`
}

// RootID is the id of the recurrence series the task belongs to.
func (t Task) RootID() int64 {
	if t.OriginalTaskID != nil {
		return *t.OriginalTaskID
	}
	return t.ID
}

// Clone returns a deep copy; slices and pointers are not shared.
func (t Task) Clone() Task {
	c := t
	c.Category = clonePtr(t.Category)
	c.Datetime = clonePtr(t.Datetime)
	c.ReminderTime = clonePtr(t.ReminderTime)
	c.ParentID = clonePtr(t.ParentID)
	c.Group = clonePtr(t.Group)
	c.RepeatInterval = clonePtr(t.RepeatInterval)
	c.RepeatCount = clonePtr(t.RepeatCount)
	c.RepeatUntil = clonePtr(t.RepeatUntil)
	c.OriginalTaskID = clonePtr(t.OriginalTaskID)
	c.CreatedAt = clonePtr(t.CreatedAt)
	if t.Dependencies != nil {
		c.Dependencies = append([]int64(nil), t.Dependencies...)
	}
	if t.ChatIDs != nil {
		c.ChatIDs = append([]int64(nil), t.ChatIDs...)
	}
	if t.Files != nil {
		c.Files = append([]FileDescriptor(nil), t.Files...)
	}
	return c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }

type FileDescriptor struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Path       string `json:"path"`
	Size       int64  `json:"size"`
	UploadedAt string `json:"uploaded_at,omitempty" format:"date-time"`
}

// Contact is a chat recipient known to the bot.
type Contact struct {
	ChatID    int64  `json:"chat_id"`
	Username  string `json:"username,omitempty"`
	Name      string `json:"name"`
	Group     string `json:"group,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp string `json:"timestamp,omitempty" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload"`
}

type Stats struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
}

var instantLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ParseInstant parses the datetime layouts accepted on task fields. Values
// without an offset are read in loc.
func ParseInstant(value string, loc *time.Location) (time.Time, string, error) {
	value = strings.TrimSpace(value)
	if loc == nil {
		loc = time.Local
	}
	for _, layout := range instantLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, layout, nil
		}
	}
	return time.Time{}, "", fmt.Errorf("invalid datetime %q", value)
}

// ParseDeadline parses repeat_until. A bare date covers the whole day.
func ParseDeadline(value string, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.Local
	}
	if d, err := time.ParseInLocation("2006-01-02", strings.TrimSpace(value), loc); err == nil {
		return d.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
	}
	t, _, err := ParseInstant(value, loc)
	return t, err
}
