package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"offload/apps/backend/internal/app"
	"offload/apps/backend/internal/config"
	"offload/apps/backend/internal/logger"
)

func main() {
	// 1. Load Config
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	// 2. Logger
	log, closeLog := logger.Setup(cfg.LogFile, logger.ParseLevel(cfg.LogLevel))
	defer func() {
		if err := closeLog(); err != nil {
			slog.Warn("failed to close log file", "error", err)
		}
	}()
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, log); err != nil {
		slog.Error("application exited with error", "error", err)
		os.Exit(1)
	}
	slog.Info("application stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	// 3. Infrastructure
	deps, err := app.Bootstrap(ctx, cfg)
	if err != nil {
		return err
	}
	defer deps.Close()

	// 4. Wiring
	application, err := app.New(cfg, deps.DB, deps.NSQProducer, deps.Clients(), logger)
	if err != nil {
		return err
	}

	// 5. Serve until cancelled
	return application.Run(ctx)
}
