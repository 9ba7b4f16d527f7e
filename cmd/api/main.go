package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gabriel/chapter-tracker/internal/app"
	"github.com/gabriel/chapter-tracker/internal/config"
	apihttp "github.com/gabriel/chapter-tracker/internal/http"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	application, err := app.Build(cfg, logger)
	if err != nil {
		slog.Error("failed to build app", "error", err)
		os.Exit(1)
	}
	defer application.Close()

	server := apihttp.NewServerWithRegistry(cfg, application.DB, application.Registry)

	schedulerCtx, schedulerCancel := context.WithCancel(context.Background())
	if cfg.SchedulerEnabled {
		application.Driver.Start(schedulerCtx)
	}

	go func() {
		if err := server.Listen(":" + cfg.Port); err != nil {
			slog.Error("server stopped", "error", err)
		}
	}()

	slog.Info("api started", "port", cfg.Port, "env", cfg.Environment, "scheduler", cfg.SchedulerEnabled)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	slog.Info("shutting down server")
	schedulerCancel()
	if cfg.SchedulerEnabled {
		application.Driver.StopWait(5 * time.Second)
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.ShutdownWithContext(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
}
