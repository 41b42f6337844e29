package cli

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/kimhsiao/cutlog/internal/config"
	"github.com/kimhsiao/cutlog/internal/db"
	"github.com/kimhsiao/cutlog/internal/logging"
	"github.com/kimhsiao/cutlog/internal/remote"
	"github.com/kimhsiao/cutlog/internal/services"
	syncpkg "github.com/kimhsiao/cutlog/internal/sync"
)

// deferredTrigger remembers that a service asked for a pass. One-shot
// commands run it on exit when --sync is set.
type deferredTrigger struct {
	requested atomic.Bool
}

func (d *deferredTrigger) Trigger() bool {
	return !d.requested.Swap(true)
}

// app is the object graph shared by the commands.
type app struct {
	cfg      *config.Config
	database *db.DB
	repo     *db.Repository
	client   *remote.Client
	engine   *syncpkg.Engine
	profiles *services.ProfileService
	records  *services.RecordService
	trigger  *deferredTrigger
}

// openApp opens the local store and wires the engine and services. metrics
// may be nil.
func openApp(cfg *config.Config, metrics *syncpkg.Metrics) (*app, error) {
	database, err := db.OpenAndMigrate(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open local store: %w", err)
	}

	client, err := remote.NewClient(remote.ClientConfig{
		BaseURL: cfg.APIBaseURL,
		Token:   cfg.APIToken,
		Timeout: cfg.RequestTimeout,
	})
	if err != nil {
		database.Close()
		return nil, err
	}

	repo := db.NewRepository(database.DB)
	engine := syncpkg.NewEngine(repo, client, syncpkg.Options{
		BatchSize:   cfg.BatchSize,
		RetryPolicy: cfg.RetryPolicy(),
		Metrics:     metrics,
	})
	trigger := &deferredTrigger{}
	backend := services.NewBackend(repo, engine, client, trigger)

	logging.Debug("Local store opened", map[string]interface{}{
		"data_dir": cfg.DataDir,
		"api":      cfg.APIBaseURL,
	})

	return &app{
		cfg:      cfg,
		database: database,
		repo:     repo,
		client:   client,
		engine:   engine,
		profiles: services.NewProfileService(backend),
		records:  services.NewRecordService(backend),
		trigger:  trigger,
	}, nil
}

// Close releases the local store.
func (a *app) Close() error {
	stmtErr := a.repo.Close()
	if err := a.database.Close(); err != nil {
		return err
	}
	return stmtErr
}

// finish runs the pass a command requested when autoSync is set.
func (a *app) finish(ctx context.Context, w io.Writer, autoSync bool) error {
	if !autoSync || !a.trigger.requested.Load() {
		return nil
	}
	res, err := a.engine.Sync(ctx)
	if err != nil {
		return err
	}
	printSyncResult(w, res)
	return nil
}

// withApp opens the app for one command and closes it afterwards.
func withApp(opts *RootOptions, fn func(a *app) error) error {
	a, err := openApp(opts.cfg, nil)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(a)
}
