// Package config handles YAML configuration loading, environment variable
// expansion, and structural validation for cronloop.
package config

import "time"

// Config is the top-level configuration structure.
type Config struct {
	// Version is the config format version. Currently only "1" is supported.
	Version string `yaml:"version"`

	// Environment names the environment this process runs as
	// (e.g. "production"). Jobs restricted to other environments are
	// skipped. Empty means unrestricted.
	Environment string `yaml:"environment,omitempty"`

	// Worker configures the long-lived polling loop.
	Worker WorkerConfig `yaml:"worker,omitempty"`

	// Locks configures the overlap-prevention lock files.
	Locks LocksConfig `yaml:"locks,omitempty"`

	// History configures the execution log backend.
	History HistoryConfig `yaml:"history,omitempty"`

	// Server configures the optional status HTTP server.
	Server ServerConfig `yaml:"server,omitempty"`

	// Tracing configures the optional OTLP trace exporter.
	Tracing TracingConfig `yaml:"tracing,omitempty"`

	// Notify configures failure notification delivery.
	Notify NotifyConfig `yaml:"notify,omitempty"`

	// Jobs lists the scheduled shell commands.
	Jobs []JobConfig `yaml:"jobs,omitempty"`
}

// WorkerConfig controls the polling loop.
type WorkerConfig struct {
	// Interval between dispatch cycles. Defaults to 1m.
	Interval time.Duration `yaml:"interval,omitempty"`
}

// LocksConfig controls lock file placement.
type LocksConfig struct {
	// Dir holds the lock files. Defaults to the OS temp directory.
	Dir string `yaml:"dir,omitempty"`
}

// HistoryConfig selects and configures the execution log backend.
type HistoryConfig struct {
	// Backend is one of "file", "sqlite" or "memory". Defaults to "file".
	Backend string `yaml:"backend,omitempty"`

	// Path is the log file or database location.
	Path string `yaml:"path,omitempty"`

	// Retention is how long entries are kept by cleanup. Defaults to
	// 168h (one week).
	Retention time.Duration `yaml:"retention,omitempty"`
}

// ServerConfig configures the status HTTP server started by `cronloop serve`.
type ServerConfig struct {
	// Listen is the address to bind, e.g. ":8080".
	Listen string `yaml:"listen,omitempty"`

	// AuthToken, when set, is required as a bearer token on every
	// endpoint except the health probe.
	AuthToken string `yaml:"auth_token,omitempty"`
}

// TracingConfig configures OTLP trace export. An empty endpoint
// disables tracing.
type TracingConfig struct {
	// Endpoint is the OTLP HTTP collector host:port.
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure uses plain HTTP instead of TLS.
	Insecure bool `yaml:"insecure,omitempty"`
}

// NotifyConfig configures failure notification delivery. Without a
// webhook URL failures are only logged.
type NotifyConfig struct {
	// WebhookURL receives a JSON POST per failed run.
	WebhookURL string `yaml:"webhook_url,omitempty"`

	// WebhookSecret, when set, signs each POST with an
	// X-Signature-256 HMAC header.
	WebhookSecret string `yaml:"webhook_secret,omitempty"`
}

// JobConfig declares one scheduled shell command.
type JobConfig struct {
	// Name identifies the job. Must be unique.
	Name string `yaml:"name"`

	// Command is the shell command line to run.
	Command string `yaml:"command"`

	// Cron is the 5-field schedule expression. Defaults to every minute.
	Cron string `yaml:"cron,omitempty"`

	// Dir is the working directory for the command.
	Dir string `yaml:"dir,omitempty"`

	// Env adds environment variables to the command.
	Env map[string]string `yaml:"env,omitempty"`

	// Description is a human-readable label.
	Description string `yaml:"description,omitempty"`

	// Timezone evaluates the schedule in the named zone instead of
	// local time.
	Timezone string `yaml:"timezone,omitempty"`

	// WithoutOverlapping skips a run while the previous one is still
	// in progress.
	WithoutOverlapping bool `yaml:"without_overlapping,omitempty"`

	// OnOneServer is the single-machine variant of the same lock.
	OnOneServer bool `yaml:"on_one_server,omitempty"`

	// RunInBackground dispatches without waiting for completion.
	RunInBackground bool `yaml:"run_in_background,omitempty"`

	// Environments restricts the job to the named environments.
	Environments []string `yaml:"environments,omitempty"`

	// Between limits runs to a daily time window ("HH:MM"). A window
	// whose start is after its end wraps past midnight.
	Between *WindowConfig `yaml:"between,omitempty"`

	// UnlessBetween suppresses runs inside the window.
	UnlessBetween *WindowConfig `yaml:"unless_between,omitempty"`

	// OutputFile receives the command output.
	OutputFile string `yaml:"output_file,omitempty"`

	// AppendOutput appends to OutputFile instead of overwriting.
	AppendOutput bool `yaml:"append_output,omitempty"`

	// EmailOnFailure lists notification recipients for failed runs.
	EmailOnFailure []string `yaml:"email_on_failure,omitempty"`

	// RetryAfterMinutes is the wait between retry attempts.
	RetryAfterMinutes int `yaml:"retry_after_minutes,omitempty"`

	// MaxAttempts is the total number of attempts per run. Defaults to 1.
	MaxAttempts int `yaml:"max_attempts,omitempty"`
}

// WindowConfig is a daily time-of-day window.
type WindowConfig struct {
	Start string `yaml:"start"`
	End   string `yaml:"end"`
}
