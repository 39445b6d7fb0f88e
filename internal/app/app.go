// Package app composes the scheduler from configuration: rules, store,
// departments, arbiter and pipeline driver. Every surface (MCP, HTTP, REPL,
// one-shot CLI) drives commands through an App.
package app

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/HendryAvila/kmad/internal/arbiter"
	"github.com/HendryAvila/kmad/internal/command"
	"github.com/HendryAvila/kmad/internal/config"
	"github.com/HendryAvila/kmad/internal/departments"
	"github.com/HendryAvila/kmad/internal/pipeline"
	"github.com/HendryAvila/kmad/internal/schedule"
	"github.com/HendryAvila/kmad/internal/store"
	"github.com/HendryAvila/kmad/internal/telemetry"
)

// openStore is a package-level variable for testability.
var openStore = store.Open

// App is a wired scheduler.
type App struct {
	Config config.Config
	Rules  *config.Rules
	Logger *slog.Logger

	store  store.Store
	driver *pipeline.Driver
}

// New builds an App. The caller owns the returned App and must Close it.
func New(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	rules, err := cfg.Rules()
	if err != nil {
		return nil, fmt.Errorf("loading rules: %w", err)
	}

	st, err := openStore(cfg.Store, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	arb := arbiter.New(rules.CapabilityTable(),
		arbiter.WithMaxRetries(rules.Pipeline.MaxRetries),
		arbiter.WithLogger(logger),
	)
	driver, err := pipeline.New(arb, departments.Default(), rules.TriggerMap(), st,
		pipeline.WithLogger(logger),
		pipeline.WithTracer(telemetry.Tracer()),
		pipeline.WithMeter(telemetry.Meter()),
	)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("wiring pipeline: %w", err)
	}

	logger.Debug("scheduler ready",
		"store", cfg.Store,
		"data_dir", cfg.DataDir,
		"max_retries", rules.Pipeline.MaxRetries,
	)
	return &App{
		Config: cfg,
		Rules:  rules,
		Logger: logger,
		store:  st,
		driver: driver,
	}, nil
}

// Execute runs one line of input through the pipeline.
func (a *App) Execute(ctx context.Context, line string) (pipeline.Result, error) {
	return a.driver.Execute(ctx, line)
}

// Run runs a typed command through the pipeline.
func (a *App) Run(ctx context.Context, cmd command.Command) (pipeline.Result, error) {
	return a.driver.Run(ctx, cmd)
}

// Snapshot reads the current schedule.
func (a *App) Snapshot(ctx context.Context) (schedule.Snapshot, error) {
	return a.store.Snapshot(ctx)
}

// Close releases the store.
func (a *App) Close() error {
	return a.store.Close()
}
