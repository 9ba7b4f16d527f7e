// Package app wires config, storage, connectors, notifiers and the
// scheduling driver for the binaries.
package app

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/gabriel/chapter-tracker/internal/config"
	"github.com/gabriel/chapter-tracker/internal/connectors"
	connectordefaults "github.com/gabriel/chapter-tracker/internal/connectors/defaults"
	"github.com/gabriel/chapter-tracker/internal/database"
	"github.com/gabriel/chapter-tracker/internal/notifications"
	"github.com/gabriel/chapter-tracker/internal/scheduler"
)

type App struct {
	Config   config.Config
	DB       *sql.DB
	Registry *connectors.Registry
	Notifier notifications.Notifier
	Driver   *scheduler.Driver
	Logger   *slog.Logger

	closers []func() error
}

// NewLogger builds the process logger. JSON is used outside development.
func NewLogger(cfg config.Config) *slog.Logger {
	options := &slog.HandlerOptions{Level: cfg.LogLevel}
	if strings.EqualFold(cfg.Environment, "development") {
		return slog.New(slog.NewTextHandler(os.Stdout, options))
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, options))
}

// Build opens the database, applies migrations, seeds sources and builds
// the driver. Connector loading problems are logged and do not fail the
// build.
func Build(cfg config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	db, err := database.Open(cfg.SQLitePath)
	if err != nil {
		return nil, err
	}
	a := &App{Config: cfg, DB: db, Logger: logger, closers: []func() error{db.Close}}

	if err := database.ApplyMigrations(db, cfg.MigrationsPath); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	registry, yamlSeeds, registryErr := connectordefaults.NewRegistry(cfg.YAMLConnectorsPath)
	if registryErr != nil {
		logger.Warn("connector registry loaded with warnings", "path", cfg.YAMLConnectorsPath, "error", registryErr)
	}
	a.Registry = registry

	if cfg.SeedDefaultData {
		if err := database.SeedDefaults(db); err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("seed defaults: %w", err)
		}
	}
	if err := database.SeedServices(db, yamlSeeds); err != nil {
		_ = a.Close()
		return nil, fmt.Errorf("seed yaml sources: %w", err)
	}

	notifier, err := a.buildNotifier()
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	a.Notifier = notifier

	a.Driver = scheduler.NewDriver(db, registry, notifier, DriverConfig(cfg), logger)
	return a, nil
}

// DriverConfig maps process configuration onto the scheduler.
func DriverConfig(cfg config.Config) scheduler.Config {
	return scheduler.Config{
		Parallelism:     cfg.ScrapeParallelism,
		MinDelay:        cfg.PolitenessMinDelay,
		MaxDelay:        cfg.PolitenessMaxDelay,
		BatchMin:        cfg.TitleBatchMin,
		BatchMax:        cfg.TitleBatchMax,
		RequestTimeout:  cfg.RequestTimeout,
		FallbackWake:    cfg.FallbackWake,
		MaintenanceCron: cfg.MaintenanceCron,
	}
}

func (a *App) buildNotifier() (notifications.Notifier, error) {
	items := make([]notifications.Notifier, 0, 2)

	if strings.TrimSpace(a.Config.NotifyWebhookURL) != "" {
		webhook, err := notifications.NewWebhookNotifier(a.Config.NotifyWebhookURL)
		if err != nil {
			return nil, fmt.Errorf("build webhook notifier: %w", err)
		}
		items = append(items, webhook)
	}

	if strings.TrimSpace(a.Config.RedisURL) != "" {
		publisher, err := notifications.NewRedisNotifier(a.Config.RedisURL, a.Config.RedisChannel)
		if err != nil {
			return nil, fmt.Errorf("build redis notifier: %w", err)
		}
		a.closers = append(a.closers, publisher.Close)
		items = append(items, publisher)
	}

	switch len(items) {
	case 0:
		return notifications.NoopNotifier{}, nil
	case 1:
		return items[0], nil
	default:
		return notifications.NewMultiNotifier(items...), nil
	}
}

// Close releases resources in reverse order of acquisition.
func (a *App) Close() error {
	var firstErr error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	a.closers = nil
	return firstErr
}
