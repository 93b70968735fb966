// Package client wires the engine's pieces into a runnable process: durable
// store, server adapter, resolver, orchestrator, background workers and the
// event bus, assembled from validated configuration.
package client

import (
	"context"
	"fmt"

	"github.com/fieldpad/syncengine/internal/adapter"
	"github.com/fieldpad/syncengine/internal/config"
	"github.com/fieldpad/syncengine/internal/events"
	"github.com/fieldpad/syncengine/internal/logger"
	"github.com/fieldpad/syncengine/internal/netmon"
	"github.com/fieldpad/syncengine/internal/service"
	"github.com/fieldpad/syncengine/internal/store"
	"github.com/fieldpad/syncengine/internal/workers"
	"github.com/fieldpad/syncengine/models"
)

// Options carries the host-supplied collaborators the configuration cannot
// express: collection policies with their merge functions, the platform's
// connectivity signal and the auth layer's token source.
type Options struct {
	Collections []models.CollectionConfig
	// Monitor defaults to an always-online manual monitor when nil.
	Monitor netmon.Monitor
	Tokens  adapter.TokenProvider
}

// App owns the assembled engine and its background workers.
type App struct {
	engine  *service.Engine
	workers *workers.Workers
	logger  *logger.Logger
}

// NewApp assembles the full engine from configuration. Nothing runs yet;
// call Start to launch the background workers.
func NewApp(cfg *config.EngineConfig, opts Options, log *logger.Logger) (*App, error) {
	monitor := opts.Monitor
	if monitor == nil {
		monitor = netmon.NewManualMonitor(true)
	}

	stores, err := store.NewStorages(cfg.Storage, log)
	if err != nil {
		return nil, fmt.Errorf("create local storage: %w", err)
	}

	remote, err := adapter.NewHTTPServerAdapter(cfg.Adapter, cfg.Device.ID, opts.Tokens, log)
	if err != nil {
		return nil, fmt.Errorf("create server adapter: %w", err)
	}

	bus := events.NewBus(log)
	registry := service.NewRegistry(opts.Collections)
	resolver := service.NewResolver(stores.Conflicts, bus, log)
	orchestrator := service.NewOrchestrator(stores, remote, resolver, registry, monitor, bus, service.OrchestratorOptions{
		BatchSize:  cfg.Sync.BatchSize,
		MaxRetries: cfg.Sync.MaxRetries,
		DeviceID:   cfg.Device.ID,
		UserID:     cfg.Device.UserID,
	}, log)

	engine := service.NewEngine(service.EngineDeps{
		Stores:       stores,
		Resolver:     resolver,
		Orchestrator: orchestrator,
		Registry:     registry,
		Monitor:      monitor,
		Bus:          bus,
		Logger:       log,
		DeviceID:     cfg.Device.ID,
		UserID:       cfg.Device.UserID,
		MaxRetries:   cfg.Sync.MaxRetries,
	})

	sweeper := service.NewRetentionSweeper(stores, registry, bus, log)
	background := workers.NewWorkers(
		workers.NewSyncWorker(orchestrator, monitor, cfg.Workers.SyncInterval, cfg.Workers.ReconnectDebounce, log),
		workers.NewRetentionWorker(sweeper, cfg.Workers.RetentionInterval, log),
	)

	return &App{
		engine:  engine,
		workers: background,
		logger:  log,
	}, nil
}

// Engine returns the facade the host application issues reads, mutations and
// subscriptions through.
func (a *App) Engine() *service.Engine {
	return a.engine
}

// Start launches the background sync and retention workers.
func (a *App) Start(ctx context.Context) {
	a.workers.Start(ctx)
	a.logger.Info().Msg("sync engine started")
}

// Stop shuts the workers down, waits for them and closes the local store.
func (a *App) Stop() error {
	a.workers.Stop()
	if err := a.engine.Close(); err != nil {
		return fmt.Errorf("close local storage: %w", err)
	}
	a.logger.Info().Msg("sync engine stopped")
	return nil
}
