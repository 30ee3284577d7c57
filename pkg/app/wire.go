// Package app provides the shared assembly and entry point for the
// cronloop binary: it turns a Config into a wired engine, monitor, and
// optional status server.
package app

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/flemzord/cronloop/internal/config"
	"github.com/flemzord/cronloop/internal/crontab"
	"github.com/flemzord/cronloop/internal/health"
	"github.com/flemzord/cronloop/internal/history"
	"github.com/flemzord/cronloop/internal/lockfile"
	"github.com/flemzord/cronloop/internal/notify"
	"github.com/flemzord/cronloop/internal/runner"
	"github.com/flemzord/cronloop/internal/schedule"
	sqlitehistory "github.com/flemzord/cronloop/modules/history/sqlite"
)

// App is the wired application graph.
type App struct {
	Config   *config.Config
	Logger   *slog.Logger
	Engine   *schedule.Engine
	Store    history.Store
	Monitor  *health.Monitor
	Crontab  *crontab.Manager
	Registry *prometheus.Registry
	Runners  *runner.Registry
}

// New wires an App from a loaded, validated configuration. Jobs from
// the config are registered; callers may register further events in
// code before starting the worker.
func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, err := openStore(cfg.History)
	if err != nil {
		return nil, err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.Notify.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.Notify.WebhookURL, cfg.Notify.WebhookSecret)
	}

	engine := schedule.New(schedule.Config{
		Locks:       lockfile.NewManager(cfg.Locks.Dir, logger),
		History:     store,
		Notifier:    notifier,
		Logger:      logger,
		Metrics:     schedule.NewMetrics(registry),
		Environment: cfg.Environment,
	})

	runners := runner.NewRegistry()
	for _, job := range cfg.Jobs {
		if err := registerJob(engine, runners, job); err != nil {
			_ = store.Close()
			return nil, err
		}
	}

	binary, err := os.Executable()
	if err != nil {
		binary = "cronloop"
	}
	ct := crontab.NewManager(binary, "")

	return &App{
		Config:   cfg,
		Logger:   logger,
		Engine:   engine,
		Store:    store,
		Monitor:  health.NewMonitor(engine, store, ct, logger),
		Crontab:  ct,
		Registry: registry,
		Runners:  runners,
	}, nil
}

// Close releases the history backend.
func (a *App) Close() error {
	return a.Store.Close()
}

func openStore(cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Backend {
	case "sqlite":
		store, err := sqlitehistory.Open(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("app: opening history database: %w", err)
		}
		return store, nil
	case "memory":
		return history.NewMemoryStore(), nil
	default:
		return history.NewFileStore(cfg.Path), nil
	}
}

// registerJob maps one config job declaration onto the builder.
func registerJob(engine *schedule.Engine, runners *runner.Registry, job config.JobConfig) error {
	cmd := runner.NewCommand(job.Name, "/bin/sh", "-c", job.Command)
	if job.Dir != "" {
		cmd = cmd.WithDir(job.Dir)
	}
	if len(job.Env) > 0 {
		env := os.Environ()
		for k, v := range job.Env {
			env = append(env, k+"="+v)
		}
		cmd = cmd.WithEnv(env)
	}
	if err := runners.Register(cmd); err != nil {
		return fmt.Errorf("app: job %q: %w", job.Name, err)
	}

	b := engine.Register(cmd)
	if job.Cron != "" {
		b.Cron(job.Cron)
	}
	if job.Timezone != "" {
		b.Timezone(job.Timezone)
	}
	if job.Description != "" {
		b.Description(job.Description)
	}
	if job.WithoutOverlapping {
		b.WithoutOverlapping(0)
	}
	if job.OnOneServer {
		b.OnOneServer()
	}
	if job.RunInBackground {
		b.RunInBackground()
	}
	if len(job.Environments) > 0 {
		b.Environments(job.Environments...)
	}
	if job.Between != nil {
		b.Between(job.Between.Start, job.Between.End)
	}
	if job.UnlessBetween != nil {
		b.UnlessBetween(job.UnlessBetween.Start, job.UnlessBetween.End)
	}
	if job.OutputFile != "" {
		if job.AppendOutput {
			b.AppendOutputTo(job.OutputFile)
		} else {
			b.SendOutputTo(job.OutputFile)
		}
	}
	if len(job.EmailOnFailure) > 0 {
		b.EmailOutputOnFailure(job.EmailOnFailure...)
	}
	if job.RetryAfterMinutes > 0 {
		b.RetryAfter(job.RetryAfterMinutes)
	}
	if job.MaxAttempts > 1 {
		b.MaxAttempts(job.MaxAttempts)
	}

	if err := b.Err(); err != nil {
		return fmt.Errorf("app: job %q: %w", job.Name, err)
	}
	return nil
}
