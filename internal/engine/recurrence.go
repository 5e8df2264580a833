package engine

import (
	"context"
	"time"

	"remindline/internal/domain"
)

// NextOccurrence advances at by one repeat unit. Month based units keep the
// day of month, clamped to the last day of the target month.
func NextOccurrence(at time.Time, interval domain.RepeatInterval) (time.Time, bool) {
	switch interval {
	case domain.RepeatDay:
		return at.AddDate(0, 0, 1), true
	case domain.RepeatWeek:
		return at.AddDate(0, 0, 7), true
	case domain.RepeatMonth:
		return addMonths(at, 1), true
	case domain.RepeatQuarter:
		return addMonths(at, 3), true
	case domain.RepeatYear:
		return addMonths(at, 12), true
	}
	return time.Time{}, false
}

func addMonths(t time.Time, n int) time.Time {
	y, m, d := t.Date()
	total := int(m) - 1 + n
	y += total / 12
	month := time.Month(total%12 + 1)
	last := time.Date(y, month+1, 0, 0, 0, 0, 0, t.Location()).Day()
	if d > last {
		d = last
	}
	return time.Date(y, month, d, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
}

// ProcessRepeating generates at most one next occurrence for every
// completed recurring task whose next date is due, and returns how many were
// created. The series cap and deadline are read from the root task; clones
// never carry them. Source tasks are left untouched.
func (e Engine) ProcessRepeating(ctx context.Context, now time.Time, actorID string) (int, error) {
	var created []domain.Task
	loc := e.location()
	err := e.Store.update(ctx, func(st *state) error {
		sources := len(st.active)
		for i := 0; i < sources; i++ {
			t := st.active[i]
			if !t.Completed || t.RepeatInterval == nil || t.Datetime == nil {
				continue
			}
			at, layout, err := domain.ParseInstant(*t.Datetime, loc)
			if err != nil {
				continue
			}
			next, ok := NextOccurrence(at, *t.RepeatInterval)
			if !ok || next.After(now) {
				continue
			}
			root := t.RootID()
			series := t
			if r, found := st.anyTask(root); found {
				series = r
			}
			if series.RepeatUntil != nil {
				deadline, err := domain.ParseDeadline(*series.RepeatUntil, loc)
				if err == nil && next.After(deadline) {
					continue
				}
			}
			if series.RepeatCount != nil && st.countOccurrences(root) >= *series.RepeatCount {
				continue
			}
			if st.hasOccurrence(root, next, loc) {
				continue
			}
			clone := t.Clone()
			clone.ID = st.nextID()
			clone.Completed = false
			clone.Datetime = domain.Ptr(next.Format(layout))
			clone.OriginalTaskID = domain.Ptr(root)
			clone.RepeatCount = nil
			clone.RepeatUntil = nil
			clone.CreatedAt = domain.Ptr(now.Format(time.RFC3339))
			if clone.ParentID != nil {
				if _, ok := st.activeTask(*clone.ParentID); !ok {
					clone.ParentID = nil
				}
			}
			st.appendActive(clone)
			created = append(created, clone)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	for _, c := range created {
		e.emit(ctx, "occurrence.created", "task", c.ID, actorID, map[string]any{
			"original_task_id": *c.OriginalTaskID,
			"datetime":         *c.Datetime,
		})
	}
	return len(created), nil
}

// countOccurrences counts generated tasks of a series in both collections.
func (st *state) countOccurrences(root int64) int {
	n := 0
	for _, set := range [][]domain.Task{st.active, st.archived} {
		for _, t := range set {
			if t.OriginalTaskID != nil && *t.OriginalTaskID == root {
				n++
			}
		}
	}
	return n
}

func (st *state) hasOccurrence(root int64, at time.Time, loc *time.Location) bool {
	for _, set := range [][]domain.Task{st.active, st.archived} {
		for _, t := range set {
			if t.RootID() != root || t.Datetime == nil {
				continue
			}
			dt, _, err := domain.ParseInstant(*t.Datetime, loc)
			if err == nil && dt.Equal(at) {
				return true
			}
		}
	}
	return false
}
