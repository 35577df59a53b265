package am

import (
	"fmt"

	"github.com/spf13/viper"
)

// defaultAllowedOrigins are accepted by the WebSocket upgrader when none are configured
var defaultAllowedOrigins = []string{
	"http://localhost",
	"https://localhost",
	"http://127.0.0.1",
	"https://127.0.0.1",
}

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "opsdeck.db")

	// Runner defaults
	v.SetDefault("runner.interpreter", "python")
	v.SetDefault("runner.cancel_grace_seconds", 5)
	v.SetDefault("runner.flush_threshold_chars", 1000)
	v.SetDefault("runner.flush_interval_ms", 1000)

	// Reaper defaults
	v.SetDefault("reaper.interval_seconds", 300)
	v.SetDefault("reaper.default_timeout_minutes", 30)

	// Scheduler defaults
	v.SetDefault("scheduler.tick_interval_ms", 1000)
	v.SetDefault("scheduler.timezone", "Local")

	// OpenAI defaults
	v.SetDefault("openai.model", "gpt-3.5-turbo")
	v.SetDefault("openai.max_tokens", 500)
	v.SetDefault("openai.temperature", 0.3)
	v.SetDefault("openai.requests_per_minute", 20)
	v.SetDefault("openai.timeout_seconds", 60)

	// Server configuration defaults
	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", defaultAllowedOrigins)
}

// BindSensitiveEnvVars explicitly binds sensitive configuration to environment variables
func BindSensitiveEnvVars(v *viper.Viper) {
	v.BindEnv("database.path", "OPSDECK_DATABASE_PATH")

	// The conventional variable is honoured so existing shells keep working
	v.BindEnv("openai.api_key", "OPSDECK_OPENAI_API_KEY", "OPENAI_API_KEY")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return "opsdeck.db"
	}
	return c.Database.Path
}

// GetServerAllowedOrigins returns the allowed WebSocket origins
func (c *Config) GetServerAllowedOrigins() []string {
	if len(c.Server.AllowedOrigins) == 0 {
		return defaultAllowedOrigins
	}
	return c.Server.AllowedOrigins
}

// String returns a string representation of the config
func (c *Config) String() string {
	return fmt.Sprintf("Config{Database: %s, Runner: {Interpreter: %s}, Scheduler: {Timezone: %s}}",
		c.Database.Path, c.Runner.Interpreter, c.Scheduler.Timezone)
}
