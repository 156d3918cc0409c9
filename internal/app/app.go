// Package app wires the store, its persistence, the chart view and the
// upload flow into one owned unit with a start and an end.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/vjranagit/tsviz/internal/config"
	"github.com/vjranagit/tsviz/pkg/chart"
	"github.com/vjranagit/tsviz/pkg/storage"
	"github.com/vjranagit/tsviz/pkg/store"
	"github.com/vjranagit/tsviz/pkg/types"
	"github.com/vjranagit/tsviz/pkg/upload"
)

// App owns every long-lived component
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Gateway  *storage.Gateway
	Store    *store.Store
	View     *chart.View
	Uploader *upload.Uploader

	backend storage.Backend
	cancel  func()

	// saveMu serializes snapshot and write so the last write is the newest snapshot
	saveMu sync.Mutex

	mu      sync.Mutex
	saveErr error
}

// New opens the configured badger backend and restores the store from it
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	backend, err := storage.NewBadgerBackend(cfg.ToStorageConfig())
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}

	a, err := NewWithBackend(ctx, cfg, backend, logger)
	if err != nil {
		backend.Close()
		return nil, err
	}
	return a, nil
}

// NewWithBackend builds the app on top of an already opened backend. The
// app takes ownership of backend and closes it in Close.
func NewWithBackend(ctx context.Context, cfg *config.Config, backend storage.Backend, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	gw := storage.NewGateway(backend, cfg.Persistence.Key, cfg.Persistence.CeilingBytes, logger.With("component", "persistence"))
	st, err := gw.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("restoring series: %w", err)
	}

	view := chart.NewView(st, logger.With("component", "chart"))
	view.Attach()

	sources := upload.NewSourceCache(cfg.Upload.CacheSize, cfg.Upload.CacheTTL)
	uploader := upload.New(st, gw, sources, logger.With("component", "upload"))

	a := &App{
		Config:   cfg,
		Logger:   logger,
		Gateway:  gw,
		Store:    st,
		View:     view,
		Uploader: uploader,
		backend:  backend,
	}
	a.cancel = st.Subscribe(a.persist)

	return a, nil
}

// persist writes the store after every change that must survive a reload.
// Failures are recorded and logged; the in-memory store stays authoritative.
func (a *App) persist(ev store.Event) {
	if !ev.Persistent() {
		return
	}

	err := a.save(context.Background())

	switch {
	case err == nil:
	case errors.Is(err, types.ErrPersistenceQuotaExceeded):
		a.Logger.Warn("store kept in memory only", "event", ev.Kind.String(), "series", ev.SeriesID, "error", err)
	default:
		a.Logger.Error("failed to save store", "event", ev.Kind.String(), "series", ev.SeriesID, "error", err)
	}
}

// Save writes the store immediately
func (a *App) Save(ctx context.Context) error {
	return a.save(ctx)
}

func (a *App) save(ctx context.Context) error {
	a.saveMu.Lock()
	defer a.saveMu.Unlock()

	err := a.Gateway.Save(ctx, a.Store)

	a.mu.Lock()
	a.saveErr = err
	a.mu.Unlock()

	return err
}

// PersistenceError returns the outcome of the most recent save
func (a *App) PersistenceError() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.saveErr
}

// Close detaches all subscriptions and closes the backend
func (a *App) Close() error {
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	a.View.Detach()
	return a.backend.Close()
}
