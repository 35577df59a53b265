package am

import (
	"github.com/kballard/go-shellquote"

	"github.com/teranos/opsdeck/errors"
)

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Server port: 0 is invalid (omit for default), negative is invalid
	if c.Server.Port != nil && *c.Server.Port == 0 {
		return errors.Newf("server.port cannot be 0 (omit for default port %d)", DefaultServerPort)
	}
	if c.Server.Port != nil && *c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", *c.Server.Port)
	}

	words, err := shellquote.Split(c.Runner.Interpreter)
	if err != nil {
		return errors.Wrapf(err, "runner.interpreter %q is not a valid command", c.Runner.Interpreter)
	}
	if len(words) == 0 {
		return errors.New("runner.interpreter cannot be empty")
	}

	if c.Runner.CancelGraceSeconds < 0 {
		return errors.Newf("runner.cancel_grace_seconds must be >= 0, got %d", c.Runner.CancelGraceSeconds)
	}
	if c.Runner.FlushThresholdChars <= 0 {
		return errors.Newf("runner.flush_threshold_chars must be > 0, got %d", c.Runner.FlushThresholdChars)
	}
	if c.Runner.FlushIntervalMS <= 0 {
		return errors.Newf("runner.flush_interval_ms must be > 0, got %d", c.Runner.FlushIntervalMS)
	}

	// Reaper interval: 0 = sweep disabled, negative = invalid
	if c.Reaper.IntervalSeconds < 0 {
		return errors.Newf("reaper.interval_seconds must be >= 0, got %d", c.Reaper.IntervalSeconds)
	}
	if c.Reaper.DefaultTimeoutMinutes <= 0 {
		return errors.Newf("reaper.default_timeout_minutes must be > 0, got %d", c.Reaper.DefaultTimeoutMinutes)
	}

	if c.Scheduler.TickIntervalMS <= 0 {
		return errors.Newf("scheduler.tick_interval_ms must be > 0, got %d", c.Scheduler.TickIntervalMS)
	}
	if _, err := c.Location(); err != nil {
		return err
	}

	if c.OpenAI.MaxTokens < 0 {
		return errors.Newf("openai.max_tokens must be >= 0, got %d", c.OpenAI.MaxTokens)
	}
	if c.OpenAI.Temperature < 0 || c.OpenAI.Temperature > 2 {
		return errors.Newf("openai.temperature must be within [0, 2], got %f", c.OpenAI.Temperature)
	}
	if c.OpenAI.RequestsPerMinute < 0 {
		return errors.Newf("openai.requests_per_minute must be >= 0, got %d", c.OpenAI.RequestsPerMinute)
	}

	return nil
}
