package engine_test

import (
	"testing"
	"time"

	"remindline/internal/domain"
	"remindline/internal/engine"
)

func TestNextOccurrence(t *testing.T) {
	at := func(y int, m time.Month, d int) time.Time { return time.Date(y, m, d, 9, 30, 0, 0, time.UTC) }
	cases := []struct {
		interval domain.RepeatInterval
		from     time.Time
		want     time.Time
	}{
		{domain.RepeatDay, at(2024, 2, 28), at(2024, 2, 29)},
		{domain.RepeatWeek, at(2024, 12, 28), at(2025, 1, 4)},
		{domain.RepeatMonth, at(2024, 12, 15), at(2025, 1, 15)},
		{domain.RepeatMonth, at(2024, 1, 31), at(2024, 2, 29)},
		{domain.RepeatQuarter, at(2024, 11, 30), at(2025, 2, 28)},
		{domain.RepeatYear, at(2024, 2, 29), at(2025, 2, 28)},
	}
	for _, c := range cases {
		got, ok := engine.NextOccurrence(c.from, c.interval)
		if !ok || !got.Equal(c.want) {
			t.Fatalf("%s from %s: got %s want %s", c.interval, c.from, got, c.want)
		}
	}
	if _, ok := engine.NextOccurrence(at(2024, 1, 1), "hourly"); ok {
		t.Fatalf("unknown interval must not advance")
	}
}

func TestProcessRepeatingDailyGeneratesOneOccurrence(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, engine.TaskCreateOptions{Text: "standup", Datetime: "2024-03-10T09:00", RepeatInterval: "day"})
	env.complete(t, task.ID)
	now := time.Date(2024, 3, 12, 9, 0, 0, 0, time.UTC)

	n, err := env.Engine.ProcessRepeating(env.Ctx, now, "tester")
	if err != nil || n != 1 {
		t.Fatalf("expected 1 occurrence, got %d (%v)", n, err)
	}
	tasks, _ := env.Engine.ListTasks(env.Ctx, engine.TaskFilter{})
	if len(tasks) != 2 {
		t.Fatalf("expected source plus clone, got %d", len(tasks))
	}
	clone := tasks[1]
	if clone.Datetime == nil || *clone.Datetime != "2024-03-11T09:00" {
		t.Fatalf("unexpected clone datetime %v", clone.Datetime)
	}
	if clone.Completed || clone.OriginalTaskID == nil || *clone.OriginalTaskID != task.ID {
		t.Fatalf("unexpected clone %+v", clone)
	}
	src := tasks[0]
	if !src.Completed || *src.Datetime != "2024-03-10T09:00" {
		t.Fatalf("source must be untouched: %+v", src)
	}

	n, err = env.Engine.ProcessRepeating(env.Ctx, now, "tester")
	if err != nil || n != 0 {
		t.Fatalf("same occurrence must not be generated twice, got %d (%v)", n, err)
	}
}

func TestProcessRepeatingNotDue(t *testing.T) {
	env := newTestEnv(t)
	task := env.create(t, engine.TaskCreateOptions{Text: "weekly", Datetime: "2024-03-10T09:00", RepeatInterval: "week"})
	env.complete(t, task.ID)
	n, err := env.Engine.ProcessRepeating(env.Ctx, time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC), "")
	if err != nil || n != 0 {
		t.Fatalf("next date is in the future, got %d (%v)", n, err)
	}
	open := env.create(t, engine.TaskCreateOptions{Text: "open", Datetime: "2024-01-01T09:00", RepeatInterval: "day"})
	n, _ = env.Engine.ProcessRepeating(env.Ctx, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), "")
	if n != 1 {
		t.Fatalf("only the completed weekly task is eligible, got %d (open task %d)", n, open.ID)
	}
}

func TestProcessRepeatingHonoursRepeatCount(t *testing.T) {
	env := newTestEnv(t)
	limit := 2
	root := env.create(t, engine.TaskCreateOptions{Text: "pills", Datetime: "2024-03-10T08:00", RepeatInterval: "day", RepeatCount: &limit})
	env.complete(t, root.ID)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < 2; i++ {
		n, err := env.Engine.ProcessRepeating(env.Ctx, now, "")
		if err != nil || n != 1 {
			t.Fatalf("round %d: expected 1, got %d (%v)", i, n, err)
		}
		tasks, _ := env.Engine.ListTasks(env.Ctx, engine.TaskFilter{Completed: domain.Ptr(false)})
		if len(tasks) != 1 {
			t.Fatalf("round %d: expected one open occurrence, got %d", i, len(tasks))
		}
		if tasks[0].RepeatCount != nil || tasks[0].RepeatUntil != nil {
			t.Fatalf("clone must not carry the series cap: %+v", tasks[0])
		}
		env.complete(t, tasks[0].ID)
	}
	n, err := env.Engine.ProcessRepeating(env.Ctx, now, "")
	if err != nil || n != 0 {
		t.Fatalf("cap reached, expected 0 got %d (%v)", n, err)
	}
}

func TestProcessRepeatingHonoursRepeatUntil(t *testing.T) {
	env := newTestEnv(t)
	root := env.create(t, engine.TaskCreateOptions{Text: "gym", Datetime: "2024-03-10T18:00", RepeatInterval: "day", RepeatUntil: "2024-03-11"})
	env.complete(t, root.ID)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	n, _ := env.Engine.ProcessRepeating(env.Ctx, now, "")
	if n != 1 {
		t.Fatalf("2024-03-11T18:00 falls inside the deadline day, got %d", n)
	}
	open, _ := env.Engine.ListTasks(env.Ctx, engine.TaskFilter{Completed: domain.Ptr(false)})
	env.complete(t, open[0].ID)
	n, _ = env.Engine.ProcessRepeating(env.Ctx, now, "")
	if n != 0 {
		t.Fatalf("2024-03-12 is past the deadline, got %d", n)
	}
}

func TestProcessRepeatingSkipsUnparseableDatetime(t *testing.T) {
	env := newTestEnv(t)
	interval := domain.RepeatDay
	_, err := env.Engine.ImportTasks(env.Ctx, []domain.Task{
		{ID: 1, Text: "legacy", Completed: true, Datetime: domain.Ptr("next tuesday"), RepeatInterval: &interval},
	}, "")
	if err != nil {
		t.Fatal(err)
	}
	n, err := env.Engine.ProcessRepeating(env.Ctx, time.Now(), "")
	if err != nil || n != 0 {
		t.Fatalf("expected skip, got %d (%v)", n, err)
	}
}
