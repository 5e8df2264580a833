package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"remindline/internal/engine"
)

func TestOpenSeedsCategoriesAndPersists(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	rt, err := Open(ctx, dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	cats, err := rt.Engine.ListCategories(ctx)
	if err != nil || len(cats) != 3 {
		t.Fatalf("expected seeded categories, got %v (%v)", cats, err)
	}
	task, err := rt.Engine.CreateTask(ctx, engine.TaskCreateOptions{Text: "water plants", Category: cats[0]})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	rt.Close()

	rt, err = Open(ctx, dir, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer rt.Close()
	got, err := rt.Engine.GetTask(ctx, task.ID)
	if err != nil || got.Text != "water plants" {
		t.Fatalf("task not persisted: %+v %v", got, err)
	}
}

func TestOpenWithJSONDriver(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "remindline.yml"), []byte("storage:\n  driver: json\n  files_dir: files\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	rt, err := Open(ctx, dir, nil)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer rt.Close()
	if _, err := rt.Engine.CreateTask(ctx, engine.TaskCreateOptions{Text: "json backed"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "tasks.json")); err != nil {
		t.Fatalf("tasks.json not written: %v", err)
	}
}
