// Package am loads opsdeck configuration ("am" is the config file name:
// am.toml) from defaults, system, user and project TOML files and the
// environment, in that order of precedence.
package am

import (
	"time"

	"github.com/teranos/opsdeck/errors"
)

// Config represents the core opsdeck configuration
type Config struct {
	Database  DatabaseConfig  `mapstructure:"database"`
	Runner    RunnerConfig    `mapstructure:"runner"`
	Reaper    ReaperConfig    `mapstructure:"reaper"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Server    ServerConfig    `mapstructure:"server"`
	OpenAI    OpenAIConfig    `mapstructure:"openai"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// RunnerConfig configures how scripts are launched and streamed
type RunnerConfig struct {
	Interpreter         string `mapstructure:"interpreter"`           // Command prefix, split with shell rules (default: "python")
	CancelGraceSeconds  int    `mapstructure:"cancel_grace_seconds"`  // SIGTERM to SIGKILL delay (default: 5)
	FlushThresholdChars int    `mapstructure:"flush_threshold_chars"` // Buffered output size that forces a ledger write (default: 1000)
	FlushIntervalMS     int    `mapstructure:"flush_interval_ms"`     // Max age of buffered output (default: 1000)
}

// ReaperConfig configures the hung-execution sweep
type ReaperConfig struct {
	IntervalSeconds       int `mapstructure:"interval_seconds"`        // Sweep period (default: 300, 0 disables the sweep)
	DefaultTimeoutMinutes int `mapstructure:"default_timeout_minutes"` // Used when EXECUTION_TIMEOUT is unset or invalid (default: 30)
}

// SchedulerConfig configures the schedule clock
type SchedulerConfig struct {
	TickIntervalMS int    `mapstructure:"tick_interval_ms"` // Clock resolution (default: 1000)
	Timezone       string `mapstructure:"timezone"`         // IANA zone for daily times; "" or "Local" = system zone
}

// ServerConfig configures the live event server
type ServerConfig struct {
	Port           *int     `mapstructure:"port"` // nil = DefaultServerPort, 0 is invalid (omit for default)
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// OpenAIConfig configures the AI error analyzer
type OpenAIConfig struct {
	APIKey            string  `mapstructure:"api_key"`
	BaseURL           string  `mapstructure:"base_url"` // Empty = api.openai.com
	Model             string  `mapstructure:"model"`
	MaxTokens         int     `mapstructure:"max_tokens"`
	Temperature       float64 `mapstructure:"temperature"`
	RequestsPerMinute int     `mapstructure:"requests_per_minute"` // 0 = unlimited
	TimeoutSeconds    int     `mapstructure:"timeout_seconds"`
}

// Server port constants
const (
	DefaultServerPort = 8720
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)

// CancelGrace is the wait between SIGTERM and SIGKILL.
func (c *Config) CancelGrace() time.Duration {
	return time.Duration(c.Runner.CancelGraceSeconds) * time.Second
}

// FlushInterval is the max age of buffered output before it is written.
func (c *Config) FlushInterval() time.Duration {
	return time.Duration(c.Runner.FlushIntervalMS) * time.Millisecond
}

// ReaperInterval is the hung-execution sweep period.
func (c *Config) ReaperInterval() time.Duration {
	return time.Duration(c.Reaper.IntervalSeconds) * time.Second
}

// TickInterval is the schedule clock resolution.
func (c *Config) TickInterval() time.Duration {
	return time.Duration(c.Scheduler.TickIntervalMS) * time.Millisecond
}

// Location resolves scheduler.timezone.
func (c *Config) Location() (*time.Location, error) {
	switch c.Scheduler.Timezone {
	case "", "Local", "local":
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return nil, errors.Wrapf(err, "unknown scheduler.timezone %q", c.Scheduler.Timezone)
	}
	return loc, nil
}

// GetServerPort returns the configured port or DefaultServerPort.
func (c *Config) GetServerPort() int {
	if c.Server.Port == nil {
		return DefaultServerPort
	}
	return *c.Server.Port
}
