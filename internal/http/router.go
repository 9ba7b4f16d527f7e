package http

import (
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/gabriel/chapter-tracker/internal/config"
	"github.com/gabriel/chapter-tracker/internal/connectors"
	connectordefaults "github.com/gabriel/chapter-tracker/internal/connectors/defaults"
	"github.com/gabriel/chapter-tracker/internal/http/handlers"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
)

// errorHandler keeps the {"message": ...} shape for errors fiber raises
// itself, such as unknown routes.
func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
	}
	if code >= fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "error", err)
	}
	return c.Status(code).JSON(fiber.Map{"message": err.Error()})
}

func requestLogger(c *fiber.Ctx) error {
	started := time.Now()
	err := c.Next()
	slog.Debug("request handled",
		"method", c.Method(),
		"path", c.Path(),
		"status", c.Response().StatusCode(),
		"duration", time.Since(started).String(),
	)
	return err
}

func NewServer(cfg config.Config, db *sql.DB) *fiber.App {
	return NewServerWithRegistry(cfg, db, nil)
}

func NewServerWithRegistry(cfg config.Config, db *sql.DB, connectorRegistry *connectors.Registry) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:      cfg.AppName,
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(requestLogger)

	if connectorRegistry == nil {
		loadedRegistry, _, err := connectordefaults.NewRegistry(cfg.YAMLConnectorsPath)
		if err != nil {
			slog.Warn("yaml connectors loaded with warnings", "error", err)
		}
		connectorRegistry = loadedRegistry
	}

	health := handlers.NewHealthHandler(db)
	connectorHandlers := handlers.NewConnectorsHandler(connectorRegistry, cfg.RequestTimeout)
	services := handlers.NewServicesHandler(db)
	manga := handlers.NewMangaHandler(db)
	scheduledRuns := handlers.NewScheduledRunsHandler(db)

	app.Get("/health", health.Check)
	app.Get("/v1/health", health.Check)

	v1 := app.Group("/v1")
	v1.Get("/connectors", connectorHandlers.List)
	v1.Get("/connectors/health", connectorHandlers.Health)
	v1.Get("/connectors/:key/health", connectorHandlers.HealthByKey)
	v1.Get("/services", services.List)
	v1.Get("/manga", manga.Search)
	v1.Get("/manga/:id", manga.GetByID)
	v1.Get("/manga/:id/chapters", manga.Chapters)
	v1.Get("/scheduled-runs", scheduledRuns.List)
	v1.Post("/scheduled-runs", scheduledRuns.Create)

	return app
}
