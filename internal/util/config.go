// Package util holds small cross-cutting helpers: runtime configuration
// loading and related glue that does not belong to any one subsystem.
package util

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Configuration is the runtime's tunable surface, loaded from a TOML file.
// Zero values mean "use the default".
type Configuration struct {
	// Workers is the thread pool size; zero means detected parallelism.
	Workers int `toml:"workers"`

	// BlockTimeoutMs is the default block timeout in milliseconds; zero
	// disables timeouts unless a block sets its own.
	BlockTimeoutMs int `toml:"block_timeout_ms"`

	// GracePeriodMs is how long a timed-out block waits for in-flight
	// tasks, in milliseconds.
	GracePeriodMs int `toml:"grace_period_ms"`

	// Strategy is the default error handling strategy: stop, auto or retry.
	Strategy string `toml:"strategy"`

	LogLevel string `toml:"log_level"`
	LogFile  string `toml:"log_file"`
}

// DefaultConfiguration is the configuration used when no file is given.
func DefaultConfiguration() Configuration {
	return Configuration{
		GracePeriodMs: 500,
		Strategy:      "stop",
		LogLevel:      "info",
	}
}

// LoadConfiguration reads a TOML configuration file, layering it over the
// defaults. An empty path returns the defaults unchanged.
func LoadConfiguration(path string) (Configuration, error) {
	cfg := DefaultConfiguration()
	if path == "" {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return cfg, fmt.Errorf("load configuration %s: %w", path, err)
	}
	if cfg.Workers < 0 {
		return cfg, fmt.Errorf("configuration %s: workers must not be negative", path)
	}
	return cfg, nil
}

// BlockTimeout converts the configured timeout to a duration.
func (c Configuration) BlockTimeout() time.Duration {
	return time.Duration(c.BlockTimeoutMs) * time.Millisecond
}

// GracePeriod converts the configured grace period to a duration.
func (c Configuration) GracePeriod() time.Duration {
	return time.Duration(c.GracePeriodMs) * time.Millisecond
}

// SetupLogging installs the process-wide slog handler per the
// configuration: JSON records, to a file when one is configured.
func (c Configuration) SetupLogging() (*slog.Logger, error) {
	var level slog.Level
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		level = slog.LevelDebug
	case "info", "":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		return nil, fmt.Errorf("unknown log level %q", c.LogLevel)
	}

	out := os.Stderr
	if c.LogFile != "" {
		f, err := os.OpenFile(c.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}

	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger, nil
}
