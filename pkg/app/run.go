package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"github.com/flemzord/cronloop/internal/config"
	"github.com/flemzord/cronloop/internal/statusapi"
)

// RunParams configures the worker entry point.
type RunParams struct {
	// ConfigPath is the YAML configuration file. Empty runs with
	// defaults and no jobs, which is only useful together with Serve.
	ConfigPath string

	// Version is injected at build time via ldflags.
	Version string

	// Interval overrides the configured poll interval when positive.
	Interval time.Duration

	// Serve also starts the status HTTP server (requires
	// server.listen in the config).
	Serve bool

	// LogLevel sets the minimum log level. Defaults to slog.LevelInfo.
	LogLevel slog.Level
}

// Run loads configuration, wires the application, and blocks in the
// worker loop until SIGINT or SIGTERM. An in-flight dispatch cycle is
// allowed to finish before the loop exits.
func Run(params RunParams) error {
	cfg, err := loadConfig(params.ConfigPath)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: params.LogLevel,
	}))

	a, err := New(cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(ctx, cfg.Tracing, params.Version)
	if err != nil {
		return err
	}
	defer shutdownTracing()

	if params.Serve {
		if cfg.Server.Listen == "" {
			return fmt.Errorf("app: serve requested but server.listen is not configured")
		}
		srv := statusapi.New(statusapi.Config{
			Listen:    cfg.Server.Listen,
			Engine:    a.Engine,
			Monitor:   a.Monitor,
			Gatherer:  a.Registry,
			AuthToken: cfg.Server.AuthToken,
			Logger:    logger,
		})
		if err := srv.Start(ctx); err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Stop(shutdownCtx); err != nil {
				logger.Warn("status server shutdown error", "error", err)
			}
		}()
	}

	if err := a.Store.Cleanup(cfg.History.Retention); err != nil {
		logger.Warn("history cleanup failed", "error", err)
	}

	interval := cfg.Worker.Interval
	if params.Interval > 0 {
		interval = params.Interval
	}

	if err := a.Engine.Work(ctx, interval); err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

// loadConfig loads and validates the config file. When no path is
// given it searches the standard locations, falling back to defaults
// when nothing is found.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		path = config.FindPath()
	}
	if path == "" {
		return config.Default(), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// setupTracing installs an OTLP HTTP trace exporter when an endpoint is
// configured. The returned func flushes and shuts the provider down.
func setupTracing(ctx context.Context, cfg config.TracingConfig, version string) (func(), error) {
	if cfg.Endpoint == "" {
		return func() {}, nil
	}

	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: creating trace exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName("cronloop"),
		semconv.ServiceVersion(version),
	))
	if err != nil {
		return nil, fmt.Errorf("app: building trace resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(shutdownCtx)
	}, nil
}
