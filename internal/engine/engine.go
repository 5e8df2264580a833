package engine

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"time"

	"remindline/internal/domain"
	"remindline/internal/events"
	"remindline/internal/files"
)

// Catalog stores the ordered category list.
type Catalog interface {
	ListCategories(ctx context.Context) ([]string, error)
	AddCategory(ctx context.Context, name string) error
	DeleteCategory(ctx context.Context, name string) error
	RenameCategory(ctx context.Context, from, to string) error
	ReorderCategories(ctx context.Context, names []string) error
}

type Engine struct {
	Store      *Store
	Categories Catalog
	Files      files.Store
	Events     events.Writer
	Location   *time.Location
	Log        *slog.Logger
	Now        func() time.Time
}

func New(store *Store, categories Catalog, fileStore files.Store, ev events.Writer) Engine {
	return Engine{
		Store:      store,
		Categories: categories,
		Files:      fileStore,
		Events:     ev,
		Location:   time.Local,
		Now:        time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// CurrentTime is the engine clock.
func (e Engine) CurrentTime() time.Time {
	return e.now()
}

func (e Engine) location() *time.Location {
	if e.Location != nil {
		return e.Location
	}
	return time.Local
}

func (e Engine) logger() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return slog.Default()
}

func (e Engine) emit(ctx context.Context, evtType, entityKind string, id int64, actorID string, payload events.EventPayload) {
	if err := e.Events.Append(ctx, evtType, entityKind, taskEntityID(id), actorID, payload); err != nil {
		e.logger().Warn("append event failed", "type", evtType, "task_id", id, "err", err)
	}
}

// TaskCreateOptions are parameters for creating a task.
type TaskCreateOptions struct {
	Text           string
	Description    string
	Category       string
	Completed      bool
	Datetime       string
	ReminderTime   *int
	ParentID       *int64
	Dependencies   []int64
	ChatIDs        []int64
	Group          string
	RepeatInterval string
	RepeatCount    *int
	RepeatUntil    string
	ActorID        string
}

func (e Engine) CreateTask(ctx context.Context, opts TaskCreateOptions) (domain.Task, error) {
	text := strings.TrimSpace(opts.Text)
	if text == "" {
		return domain.Task{}, domain.Invalid("text is required")
	}
	t := domain.Task{
		Text:         text,
		Description:  opts.Description,
		Completed:    opts.Completed,
		ParentID:     opts.ParentID,
		Dependencies: dedupeIDs(opts.Dependencies),
		ChatIDs:      dedupeIDs(opts.ChatIDs),
		ReminderTime: opts.ReminderTime,
		RepeatCount:  opts.RepeatCount,
		CreatedAt:    domain.Ptr(e.now().Format(time.RFC3339)),
	}
	var err error
	if t.Category, err = e.resolveCategory(ctx, opts.Category); err != nil {
		return domain.Task{}, err
	}
	if t.Datetime, err = e.datetimeField(opts.Datetime); err != nil {
		return domain.Task{}, err
	}
	if t.RepeatUntil, err = e.deadlineField(opts.RepeatUntil); err != nil {
		return domain.Task{}, err
	}
	if t.RepeatInterval, err = intervalField(opts.RepeatInterval); err != nil {
		return domain.Task{}, err
	}
	t.Group = optionalString(opts.Group)
	if err := checkCounts(t.ReminderTime, t.RepeatCount); err != nil {
		return domain.Task{}, err
	}
	err = e.Store.update(ctx, func(st *state) error {
		t.ID = st.nextID()
		if t.ParentID != nil {
			if err := st.validateParent(t.ID, *t.ParentID); err != nil {
				return err
			}
		}
		if err := st.validateDependencies(t.ID, t.Dependencies); err != nil {
			return err
		}
		if t.Completed && !st.canComplete(t) {
			return blocked(t.ID)
		}
		st.appendActive(t)
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.emit(ctx, "task.created", "task", t.ID, opts.ActorID, events.EventPayload{"text": t.Text})
	return t.Clone(), nil
}

// TaskUpdateOptions encapsulates allowed updates. Nil pointers leave a field
// untouched; the Clear flags and empty strings remove optional values.
type TaskUpdateOptions struct {
	ID               int64
	Text             *string
	Description      *string
	Category         *string
	Completed        *bool
	Datetime         *string
	ReminderTime     *int
	ClearReminder    bool
	ParentID         *int64
	ClearParent      bool
	Dependencies     *[]int64
	ChatIDs          *[]int64
	Group            *string
	RepeatInterval   *string
	RepeatCount      *int
	ClearRepeatCount bool
	RepeatUntil      *string
	ActorID          string
}

func (e Engine) UpdateTask(ctx context.Context, opts TaskUpdateOptions) (domain.Task, error) {
	var (
		category *string
		err      error
	)
	if opts.Category != nil {
		if category, err = e.resolveCategory(ctx, *opts.Category); err != nil {
			return domain.Task{}, err
		}
	}
	var updated domain.Task
	err = e.Store.update(ctx, func(st *state) error {
		cur, err := st.mustActive(opts.ID)
		if err != nil {
			return err
		}
		t := cur.Clone()
		if opts.Text != nil {
			text := strings.TrimSpace(*opts.Text)
			if text == "" {
				return domain.Invalid("text is required")
			}
			t.Text = text
		}
		if opts.Description != nil {
			t.Description = *opts.Description
		}
		if opts.Category != nil {
			t.Category = category
		}
		if opts.Datetime != nil {
			if t.Datetime, err = e.datetimeField(*opts.Datetime); err != nil {
				return err
			}
		}
		switch {
		case opts.ClearReminder:
			t.ReminderTime = nil
		case opts.ReminderTime != nil:
			t.ReminderTime = domain.Ptr(*opts.ReminderTime)
		}
		switch {
		case opts.ClearParent:
			t.ParentID = nil
		case opts.ParentID != nil:
			if err := st.validateParent(t.ID, *opts.ParentID); err != nil {
				return err
			}
			t.ParentID = domain.Ptr(*opts.ParentID)
		}
		if opts.Dependencies != nil {
			deps := dedupeIDs(*opts.Dependencies)
			if err := st.validateDependencies(t.ID, deps); err != nil {
				return err
			}
			t.Dependencies = deps
		}
		if opts.ChatIDs != nil {
			t.ChatIDs = dedupeIDs(*opts.ChatIDs)
		}
		if opts.Group != nil {
			t.Group = optionalString(*opts.Group)
		}
		if opts.RepeatInterval != nil {
			if t.RepeatInterval, err = intervalField(*opts.RepeatInterval); err != nil {
				return err
			}
		}
		switch {
		case opts.ClearRepeatCount:
			t.RepeatCount = nil
		case opts.RepeatCount != nil:
			t.RepeatCount = domain.Ptr(*opts.RepeatCount)
		}
		if opts.RepeatUntil != nil {
			if t.RepeatUntil, err = e.deadlineField(*opts.RepeatUntil); err != nil {
				return err
			}
		}
		if err := checkCounts(t.ReminderTime, t.RepeatCount); err != nil {
			return err
		}
		if opts.Completed != nil {
			if *opts.Completed && !cur.Completed && !st.canComplete(t) {
				return blocked(t.ID)
			}
			t.Completed = *opts.Completed
		}
		st.replaceActive(t)
		updated = t
		return nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	e.emit(ctx, "task.updated", "task", updated.ID, opts.ActorID, events.EventPayload{"completed": updated.Completed})
	return updated.Clone(), nil
}

// GetTask returns an active task.
func (e Engine) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	var t domain.Task
	err := e.Store.view(func(st *state) error {
		found, err := st.mustActive(id)
		t = found.Clone()
		return err
	})
	return t, err
}

// TaskFilter narrows task listings. Zero values match everything.
type TaskFilter struct {
	Date      string
	ParentID  *int64
	Completed *bool
	Category  string
}

func (f TaskFilter) apply(tasks []domain.Task, loc *time.Location) []domain.Task {
	out := make([]domain.Task, 0, len(tasks))
	for _, t := range tasks {
		if f.ParentID != nil && (t.ParentID == nil || *t.ParentID != *f.ParentID) {
			continue
		}
		if f.Completed != nil && t.Completed != *f.Completed {
			continue
		}
		if f.Category != "" && (t.Category == nil || *t.Category != f.Category) {
			continue
		}
		if f.Date != "" {
			if t.Datetime == nil {
				continue
			}
			at, _, err := domain.ParseInstant(*t.Datetime, loc)
			if err != nil || at.In(loc).Format("2006-01-02") != f.Date {
				continue
			}
		}
		out = append(out, t.Clone())
	}
	return out
}

// ListTasks returns copies of the active tasks matching filter.
func (e Engine) ListTasks(ctx context.Context, filter TaskFilter) ([]domain.Task, error) {
	if filter.Date != "" {
		if _, err := time.Parse("2006-01-02", filter.Date); err != nil {
			return nil, domain.Invalid("date must be YYYY-MM-DD")
		}
	}
	var out []domain.Task
	err := e.Store.view(func(st *state) error {
		out = filter.apply(st.active, e.location())
		return nil
	})
	return out, err
}

// ActiveTasks returns a copy of every active task.
func (e Engine) ActiveTasks(ctx context.Context) []domain.Task {
	var out []domain.Task
	_ = e.Store.view(func(st *state) error {
		out = cloneAll(st.active)
		return nil
	})
	return out
}

func (e Engine) Stats(ctx context.Context) domain.Stats {
	var s domain.Stats
	_ = e.Store.view(func(st *state) error {
		s.Total = len(st.active)
		for _, t := range st.active {
			if t.Completed {
				s.Completed++
			}
		}
		return nil
	})
	return s
}

// ImportTasks replaces the active collection. Tasks without an id get a
// fresh one and unknown categories fall back to the first known category.
func (e Engine) ImportTasks(ctx context.Context, tasks []domain.Task, actorID string) (int, error) {
	cats, err := e.Categories.ListCategories(ctx)
	if err != nil {
		return 0, domain.Persistence("list categories", err)
	}
	incoming := cloneAll(tasks)
	err = e.Store.update(ctx, func(st *state) error {
		st.setActive(nil)
		seen := map[int64]struct{}{}
		for _, t := range st.archived {
			seen[t.ID] = struct{}{}
		}
		for _, t := range incoming {
			if t.ID > st.lastID {
				st.lastID = t.ID
			}
		}
		for i := range incoming {
			t := &incoming[i]
			t.Text = strings.TrimSpace(t.Text)
			if t.Text == "" {
				return domain.Invalid("task %d: text is required", i)
			}
			if t.ID <= 0 {
				t.ID = st.nextID()
			}
			if _, dup := seen[t.ID]; dup {
				return domain.Invalid("duplicate task id %d", t.ID)
			}
			seen[t.ID] = struct{}{}
			if t.Category != nil && !slices.Contains(cats, *t.Category) {
				t.Category = nil
				if len(cats) > 0 {
					t.Category = domain.Ptr(cats[0])
				}
			}
			if t.RepeatInterval != nil && !t.RepeatInterval.Valid() {
				return domain.Invalid("task %d: invalid repeat_interval %q", t.ID, *t.RepeatInterval)
			}
		}
		st.setActive(incoming)
		for _, t := range incoming {
			if t.ParentID != nil {
				if err := st.validateParent(t.ID, *t.ParentID); err != nil {
					return err
				}
			}
			if err := st.validateDependencies(t.ID, t.Dependencies); err != nil {
				return err
			}
		}
		st.lastID = maxID(st.active, st.archived, st.lastID)
		return nil
	})
	if err != nil {
		return 0, err
	}
	e.emit(ctx, "tasks.imported", "task", 0, actorID, events.EventPayload{"count": len(incoming)})
	return len(incoming), nil
}

func (e Engine) resolveCategory(ctx context.Context, name string) (*string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}
	cats, err := e.Categories.ListCategories(ctx)
	if err != nil {
		return nil, domain.Persistence("list categories", err)
	}
	if !slices.Contains(cats, name) {
		return nil, domain.NotFound("category", name)
	}
	return &name, nil
}

func (e Engine) datetimeField(v string) (*string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if _, _, err := domain.ParseInstant(v, e.location()); err != nil {
		return nil, domain.Invalid("datetime: %v", err)
	}
	return &v, nil
}

func (e Engine) deadlineField(v string) (*string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	if _, err := domain.ParseDeadline(v, e.location()); err != nil {
		return nil, domain.Invalid("repeat_until: %v", err)
	}
	return &v, nil
}

func intervalField(v string) (*domain.RepeatInterval, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil, nil
	}
	ri := domain.RepeatInterval(v)
	if !ri.Valid() {
		return nil, domain.Invalid("invalid repeat_interval %q", v)
	}
	return &ri, nil
}

func checkCounts(reminder, repeatCount *int) error {
	if reminder != nil && *reminder < 0 {
		return domain.Invalid("reminder_time must be >= 0")
	}
	if repeatCount != nil && *repeatCount < 1 {
		return domain.Invalid("repeat_count must be >= 1")
	}
	return nil
}

func blocked(id int64) error {
	return &domain.Error{Kind: domain.ErrValidation, Msg: "task " + taskEntityID(id) + " cannot be completed", Err: domain.ErrBlocked}
}

func optionalString(v string) *string {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	return &v
}

func dedupeIDs(ids []int64) []int64 {
	if len(ids) == 0 {
		return nil
	}
	seen := make(map[int64]struct{}, len(ids))
	out := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
