// Package app wires configuration, storage, and services together.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/tallyhq/tally/internal/common"
	"github.com/tallyhq/tally/internal/interfaces"
	"github.com/tallyhq/tally/internal/services/events"
	"github.com/tallyhq/tally/internal/services/journal"
	"github.com/tallyhq/tally/internal/services/outbox"
	"github.com/tallyhq/tally/internal/storage/surrealdb"
)

// App holds all initialized components.
type App struct {
	Config  *common.Config
	Logger  *common.Logger
	Metrics *common.Metrics
	Storage interfaces.StorageManager

	JournalService interfaces.JournalService
	OutboxService  interfaces.OutboxService
	EventService   interfaces.EventService

	StartupTime time.Time
}

// New initializes the application from the given config file paths.
// Later paths override earlier ones; environment variables override both.
func New(configPaths ...string) (*App, error) {
	config, err := common.LoadConfig(configPaths...)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger := common.NewLogger(config.Logging.Level)
	metrics := common.NewMetrics()

	storage, err := surrealdb.NewManager(logger, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	a := &App{
		Config:      config,
		Logger:      logger,
		Metrics:     metrics,
		Storage:     storage,
		StartupTime: time.Now(),
	}

	a.JournalService = journal.NewService(logger, config, storage, metrics)
	a.OutboxService = outbox.NewService(logger, config, storage, metrics)
	a.EventService = events.NewService(logger, storage, metrics)

	logger.Info().
		Str("environment", config.Environment).
		Msg("Application initialized")

	return a, nil
}

// NewWithStorage builds an App on a caller-supplied storage manager.
// Used by tests to run the full service stack against a test container.
func NewWithStorage(config *common.Config, logger *common.Logger, storage interfaces.StorageManager) *App {
	metrics := common.NewMetrics()
	a := &App{
		Config:      config,
		Logger:      logger,
		Metrics:     metrics,
		Storage:     storage,
		StartupTime: time.Now(),
	}
	a.JournalService = journal.NewService(logger, config, storage, metrics)
	a.OutboxService = outbox.NewService(logger, config, storage, metrics)
	a.EventService = events.NewService(logger, storage, metrics)
	return a
}

// Close releases all resources.
func (a *App) Close() {
	if a.Storage != nil {
		if err := a.Storage.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close storage")
		}
	}
	a.Logger.Info().Msg("Application shut down")
}

// Ping verifies downstream health.
func (a *App) Ping(ctx context.Context) error {
	return a.Storage.Ping(ctx)
}
