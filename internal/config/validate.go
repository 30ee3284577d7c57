package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/flemzord/cronloop/internal/cronexpr"
)

// Validate checks the structural validity of a Config. It verifies the
// version field, the history backend, and every job declaration (name
// uniqueness, command presence, cron expression syntax, timezone and
// time-window validity). All problems are reported together.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Version == "" {
		errs = append(errs, errors.New("config: version field is required"))
	} else if cfg.Version != "1" {
		errs = append(errs, fmt.Errorf("config: unsupported version %q (supported: \"1\")", cfg.Version))
	}

	switch cfg.History.Backend {
	case "file", "sqlite", "memory":
	default:
		errs = append(errs, fmt.Errorf("config: history: unknown backend %q (supported: file, sqlite, memory)", cfg.History.Backend))
	}

	if cfg.Server.AuthToken != "" && cfg.Server.Listen == "" {
		errs = append(errs, errors.New("config: server: auth_token is set but listen is empty"))
	}
	if cfg.Notify.WebhookSecret != "" && cfg.Notify.WebhookURL == "" {
		errs = append(errs, errors.New("config: notify: webhook_secret is set but webhook_url is empty"))
	}

	seen := make(map[string]struct{})
	for i, job := range cfg.Jobs {
		errs = append(errs, validateJob(i, job, seen)...)
	}

	return errors.Join(errs...)
}

func validateJob(i int, job JobConfig, seen map[string]struct{}) []error {
	var errs []error
	label := fmt.Sprintf("config: jobs[%d]", i)
	if job.Name != "" {
		label = fmt.Sprintf("config: jobs[%d] (%s)", i, job.Name)
	}

	if job.Name == "" {
		errs = append(errs, fmt.Errorf("%s: name is required", label))
	} else if _, dup := seen[job.Name]; dup {
		errs = append(errs, fmt.Errorf("%s: duplicate name", label))
	} else {
		seen[job.Name] = struct{}{}
	}

	if job.Command == "" {
		errs = append(errs, fmt.Errorf("%s: command is required", label))
	}

	if _, err := cronexpr.Parse(job.Cron); err != nil {
		errs = append(errs, fmt.Errorf("%s: %w", label, err))
	}

	if job.Timezone != "" {
		if _, err := time.LoadLocation(job.Timezone); err != nil {
			errs = append(errs, fmt.Errorf("%s: unknown timezone %q", label, job.Timezone))
		}
	}

	if job.Between != nil {
		if err := validateWindow(*job.Between); err != nil {
			errs = append(errs, fmt.Errorf("%s: between: %w", label, err))
		}
	}
	if job.UnlessBetween != nil {
		if err := validateWindow(*job.UnlessBetween); err != nil {
			errs = append(errs, fmt.Errorf("%s: unless_between: %w", label, err))
		}
	}

	if job.RetryAfterMinutes < 0 {
		errs = append(errs, fmt.Errorf("%s: retry_after_minutes must not be negative", label))
	}

	return errs
}

func validateWindow(w WindowConfig) error {
	for _, at := range []string{w.Start, w.End} {
		var hour, minute int
		if _, err := fmt.Sscanf(at, "%d:%d", &hour, &minute); err != nil {
			return fmt.Errorf("invalid time %q (want HH:MM)", at)
		}
		if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
			return fmt.Errorf("time %q out of range", at)
		}
	}
	return nil
}
