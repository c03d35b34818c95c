package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mohammadanang/scan-receiver/config"
	"github.com/mohammadanang/scan-receiver/handler"
	"github.com/mohammadanang/scan-receiver/ingest"
	"github.com/mohammadanang/scan-receiver/logging"
	"github.com/mohammadanang/scan-receiver/metrics"
	"github.com/mohammadanang/scan-receiver/server"
	"github.com/mohammadanang/scan-receiver/storage"
)

func main() {
	if err := config.NewCommand(run).Execute(); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	log := logging.New(os.Stderr, cfg.Verbosity)
	slog.SetDefault(log)

	store, err := storage.NewDisk(cfg.Root, log)
	if err != nil {
		log.Error("storage root unavailable", "root", cfg.Root, "error", err)
		return err
	}

	engine := ingest.NewEngine(store, ingest.Options{
		Field:       cfg.Field,
		DefaultExt:  cfg.DefaultExt,
		MaxFileSize: cfg.MaxFileSize,
	}, log)
	collector := metrics.New()
	apiHandler := handler.NewAPIHandler(engine, collector, log)

	var accessLog io.Writer
	if logging.LevelFor(cfg.Verbosity) <= slog.LevelInfo {
		accessLog = os.Stderr
	}
	app := server.New(apiHandler, collector, server.OptionsFrom(cfg, accessLog))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("storing uploads", "root", store.Root())
	if err := server.Run(ctx, app, cfg.ListenAddr(), cfg.ShutdownTimeout, log); err != nil {
		log.Error("server stopped", "error", err)
		return err
	}
	return nil
}
