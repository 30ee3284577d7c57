package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"gopkg.in/yaml.v3"
)

// envPattern matches ${VAR} and ${VAR:-default} expressions.
var envPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-((?:[^}\\]|\\.)*))?\}`)

// Load reads a YAML configuration file, expands environment variables,
// parses it into a Config, and fills in defaults. The result is not yet
// validated; callers run Validate separately so they can report every
// problem at once.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	expanded, err := expandEnv(raw)
	if err != nil {
		return nil, fmt.Errorf("config: expanding variables in %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(expanded, &cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	cfg.applyDefaults()
	return &cfg, nil
}

// FindPath returns the first config file present in the standard
// search locations: $XDG_CONFIG_HOME/cronloop/cronloop.yaml, then
// ~/.config/cronloop/cronloop.yaml, then ./cronloop.yaml. Empty string
// when none exist.
func FindPath() string {
	var candidates []string
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		candidates = append(candidates, filepath.Join(xdg, "cronloop", "cronloop.yaml"))
	}
	if home, err := os.UserHomeDir(); err == nil {
		candidates = append(candidates, filepath.Join(home, ".config", "cronloop", "cronloop.yaml"))
	}
	candidates = append(candidates, "cronloop.yaml")

	for _, path := range candidates {
		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			return path
		}
	}
	return ""
}

// Default returns a usable zero configuration for callers that run
// without a config file (code-registered events only).
func Default() *Config {
	cfg := &Config{Version: "1"}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Worker.Interval <= 0 {
		c.Worker.Interval = time.Minute
	}
	if c.Locks.Dir == "" {
		c.Locks.Dir = filepath.Join(os.TempDir(), "cronloop")
	}
	if c.History.Backend == "" {
		c.History.Backend = "file"
	}
	if c.History.Path == "" {
		c.History.Path = defaultHistoryPath(c.History.Backend)
	}
	if c.History.Retention <= 0 {
		c.History.Retention = 7 * 24 * time.Hour
	}
	for i := range c.Jobs {
		if c.Jobs[i].Cron == "" {
			c.Jobs[i].Cron = "* * * * *"
		}
		if c.Jobs[i].MaxAttempts <= 0 {
			c.Jobs[i].MaxAttempts = 1
		}
	}
}

func defaultHistoryPath(backend string) string {
	name := "cronloop-history.ndjson"
	if backend == "sqlite" {
		name = "cronloop-history.db"
	}
	if dir, err := os.UserCacheDir(); err == nil {
		return filepath.Join(dir, "cronloop", name)
	}
	return filepath.Join(os.TempDir(), name)
}

// expandEnv replaces ${VAR} and ${VAR:-default} patterns in raw YAML bytes.
// Returns an error listing all unresolved variables (no default, no env value).
func expandEnv(raw []byte) ([]byte, error) {
	var errs []error

	result := envPattern.ReplaceAllFunc(raw, func(match []byte) []byte {
		subs := envPattern.FindSubmatch(match)
		name := string(subs[1])
		hasDefault := len(subs) > 2 && subs[2] != nil
		defaultVal := ""
		if hasDefault {
			defaultVal = string(subs[2])
		}

		value, ok := os.LookupEnv(name)
		if ok {
			return []byte(value)
		}

		if hasDefault {
			return []byte(defaultVal)
		}

		errs = append(errs, fmt.Errorf("unresolved variable: %s", name))
		return match
	})

	return result, errors.Join(errs...)
}
