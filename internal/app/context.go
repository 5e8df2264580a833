package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"remindline/internal/config"
	"remindline/internal/db"
	"remindline/internal/engine"
	"remindline/internal/events"
	"remindline/internal/files"
	"remindline/internal/migrate"
	"remindline/internal/repo"
)

// Runtime is everything a command needs against one workspace.
type Runtime struct {
	Workspace string
	Config    *config.Config
	DB        *sql.DB
	Repo      repo.Repo
	Engine    engine.Engine
}

// Open loads the workspace config, migrates the database, seeds default
// categories on first use and loads the task store.
func Open(ctx context.Context, workspace string, log *slog.Logger) (*Runtime, error) {
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	rt, err := build(ctx, workspace, cfg, conn, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	return rt, nil
}

func build(ctx context.Context, workspace string, cfg *config.Config, conn *sql.DB, log *slog.Logger) (*Runtime, error) {
	if err := migrate.MigrateContext(ctx, conn); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	r := repo.Repo{DB: conn}
	if err := r.SeedCategories(ctx, cfg.Categories); err != nil {
		return nil, fmt.Errorf("seed categories: %w", err)
	}
	var persist engine.Persistence = r
	if cfg.Storage.Driver == config.DriverJSON {
		jf, err := repo.NewJSONFiles(workspace)
		if err != nil {
			return nil, err
		}
		persist = jf
	}
	fileStore, err := files.NewDisk(cfg.FilesPath(workspace))
	if err != nil {
		return nil, fmt.Errorf("file store: %w", err)
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	store := engine.NewStore(persist)
	if err := store.Load(ctx); err != nil {
		return nil, err
	}
	e := engine.New(store, r, fileStore, events.Writer{DB: conn})
	e.Location = loc
	e.Log = log
	return &Runtime{Workspace: workspace, Config: cfg, DB: conn, Repo: r, Engine: e}, nil
}

func (rt *Runtime) Close() error {
	return rt.DB.Close()
}
