package app

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"graphedit/internal/core/config"
	"graphedit/internal/data/vault"
	"graphedit/internal/data/workspace"
)

// App wires one workspace: its store, the editor over it, and health reporting.
type App struct {
	Config *config.Config
	Paths  config.ResolvedPaths
	Store  *workspace.Store
	Editor *Editor
	Health *HealthService

	logger    *slog.Logger
	configMu  sync.Mutex
	closeOnce sync.Once
}

func New(ctx context.Context, cfg *config.Config, paths config.ResolvedPaths, logger *slog.Logger) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	store, err := workspace.OpenWithOptions(paths.DBPath, workspace.Options{BusyTimeout: cfg.DB.BusyTimeout})
	if err != nil {
		return nil, err
	}
	logger.Info("workspace opened", "path", store.Path())

	editor, err := NewEditor(ctx, store, EditorOptions{
		MaxDepth: cfg.History.MaxDepth,
		Logger:   logger,
		Exporter: vault.NewExporter(logger),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	a := &App{
		Config: cfg,
		Paths:  paths,
		Store:  store,
		Editor: editor,
		logger: logger,
	}
	a.Health = NewHealthService(a)
	return a, nil
}

// ApplyConfig takes over the settings that can change while running.
func (a *App) ApplyConfig(cfg *config.Config) {
	if cfg == nil {
		return
	}
	a.configMu.Lock()
	defer a.configMu.Unlock()

	if cfg.History.MaxDepth != a.Config.History.MaxDepth {
		a.logger.Info("history max depth changed", "from", a.Config.History.MaxDepth, "to", cfg.History.MaxDepth)
		a.Editor.Engine().SetMaxDepth(cfg.History.MaxDepth)
	}
	next := *a.Config
	next.History = cfg.History
	a.Config = &next
}

func (a *App) Close(ctx context.Context) error {
	var err error
	a.closeOnce.Do(func() {
		if a.Store != nil {
			err = a.Store.Close()
		}
	})
	return err
}
