// Package server assembles the fiber application and runs it until the
// context is canceled.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/google/uuid"
	"github.com/mohammadanang/scan-receiver/config"
	"github.com/mohammadanang/scan-receiver/handler"
	"github.com/mohammadanang/scan-receiver/metrics"
)

type Options struct {
	RateLimit  int
	RateWindow time.Duration
	// AccessLog receives one line per request; nil disables it.
	AccessLog io.Writer
}

func OptionsFrom(cfg config.Config, accessLog io.Writer) Options {
	return Options{
		RateLimit:  cfg.RateLimit,
		RateWindow: cfg.RateWindow,
		AccessLog:  accessLog,
	}
}

// New builds the application. Request bodies are streamed to the handler
// instead of being buffered by fasthttp, and multipart bodies are never
// pre-parsed.
func New(h handler.Handler, m *metrics.Collector, opts Options) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:                      "scan-receiver",
		DisableStartupMessage:        true,
		StreamRequestBody:            true,
		DisablePreParseMultipartForm: true,
	})

	app.Use(recover.New())
	app.Use(requestid.New(requestid.Config{
		Generator:  uuid.NewString,
		ContextKey: handler.RequestIDKey,
	}))
	if opts.AccessLog != nil {
		app.Use(logger.New(logger.Config{
			Format: "${time} | ${status} | ${ip} | ${method} | ${path} | ${locals:requestid} | ${latency}\n",
			Output: opts.AccessLog,
		}))
	}
	app.Use(cors.New())
	if opts.RateLimit > 0 {
		app.Use(limiter.New(limiter.Config{
			Expiration: opts.RateWindow,
			Max:        opts.RateLimit,
		}))
	}

	app.Get("/health", h.Health)
	if m != nil {
		app.Get("/metrics", adaptor.HTTPHandler(m.Handler()))
	}
	app.All("/", h.UploadFile)
	app.All("/upload", h.UploadFile)

	return app
}

// Run serves app on addr until ctx is done, then gives in-flight requests
// up to timeout to finish.
func Run(ctx context.Context, app *fiber.App, addr string, timeout time.Duration, log *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(addr)
	}()
	log.Info("listening", "addr", addr)

	select {
	case err := <-errCh:
		return fmt.Errorf("listening on %s: %w", addr, err)
	case <-ctx.Done():
	}

	log.Debug("shutdown signal received")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		return fmt.Errorf("shutting down: %w", err)
	}
	if err := <-errCh; err != nil {
		return fmt.Errorf("listening on %s: %w", addr, err)
	}
	return nil
}
