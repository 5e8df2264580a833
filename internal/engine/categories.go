package engine

import (
	"context"
	"slices"
	"strings"

	"remindline/internal/domain"
	"remindline/internal/events"
)

func (e Engine) ListCategories(ctx context.Context) ([]string, error) {
	cats, err := e.Categories.ListCategories(ctx)
	if err != nil {
		return nil, domain.Persistence("list categories", err)
	}
	return cats, nil
}

func (e Engine) AddCategory(ctx context.Context, name, actorID string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Invalid("category name is required")
	}
	cats, err := e.ListCategories(ctx)
	if err != nil {
		return err
	}
	if slices.Contains(cats, name) {
		return domain.Invalid("category %q already exists", name)
	}
	if err := e.Categories.AddCategory(ctx, name); err != nil {
		return domain.Persistence("add category", err)
	}
	e.emit(ctx, "category.added", "category", 0, actorID, events.EventPayload{"name": name})
	return nil
}

// DeleteCategory refuses to remove a category an active task still uses.
// The check and the delete run under the store lock.
func (e Engine) DeleteCategory(ctx context.Context, name, actorID string) error {
	err := e.Store.update(ctx, func(st *state) error {
		cats, err := e.ListCategories(ctx)
		if err != nil {
			return err
		}
		if !slices.Contains(cats, name) {
			return domain.NotFound("category", name)
		}
		for _, t := range st.active {
			if t.Category != nil && *t.Category == name {
				return domain.Invalid("category %q still has tasks", name)
			}
		}
		if err := e.Categories.DeleteCategory(ctx, name); err != nil {
			return domain.Persistence("delete category", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	e.emit(ctx, "category.deleted", "category", 0, actorID, events.EventPayload{"name": name})
	return nil
}

// RenameCategory renames a category and every active task that uses it.
func (e Engine) RenameCategory(ctx context.Context, from, to, actorID string) error {
	to = strings.TrimSpace(to)
	if to == "" {
		return domain.Invalid("category name is required")
	}
	if from == to {
		return nil
	}
	renamed := false
	err := e.Store.update(ctx, func(st *state) error {
		cats, err := e.ListCategories(ctx)
		if err != nil {
			return err
		}
		if !slices.Contains(cats, from) {
			return domain.NotFound("category", from)
		}
		if slices.Contains(cats, to) {
			return domain.Invalid("category %q already exists", to)
		}
		if err := e.Categories.RenameCategory(ctx, from, to); err != nil {
			return domain.Persistence("rename category", err)
		}
		renamed = true
		for _, t := range st.active {
			if t.Category != nil && *t.Category == from {
				t = t.Clone()
				t.Category = domain.Ptr(to)
				st.replaceActive(t)
			}
		}
		return nil
	})
	if err != nil {
		if renamed {
			if rerr := e.Categories.RenameCategory(ctx, to, from); rerr != nil {
				e.logger().Error("revert category rename failed", "from", to, "to", from, "err", rerr)
			}
		}
		return err
	}
	e.emit(ctx, "category.renamed", "category", 0, actorID, events.EventPayload{"from": from, "to": to})
	return nil
}

// ReorderCategories stores a new order. names must hold exactly the
// existing categories.
func (e Engine) ReorderCategories(ctx context.Context, names []string, actorID string) error {
	cats, err := e.ListCategories(ctx)
	if err != nil {
		return err
	}
	want := slices.Clone(cats)
	got := slices.Clone(names)
	slices.Sort(want)
	slices.Sort(got)
	if !slices.Equal(want, got) {
		return domain.Invalid("reorder must list every existing category exactly once")
	}
	if err := e.Categories.ReorderCategories(ctx, names); err != nil {
		return domain.Persistence("reorder categories", err)
	}
	e.emit(ctx, "category.reordered", "category", 0, actorID, events.EventPayload{"order": names})
	return nil
}
