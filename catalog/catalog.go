// Package catalog stores the records the execution core looks up but does
// not own: scripts, AWS profiles, users and key/value settings.
package catalog

import (
	"context"
	"time"
)

// Script is a registered script file.
type Script struct {
	ID          int64
	Name        string
	Description string
	Path        string
	Parameters  string // JSON description of accepted parameters, opaque to the runner
	UserID      *int64
	CreatedAt   time.Time
}

// Profile is a named set of AWS credentials.
type Profile struct {
	ID        int64
	Name      string
	AccessKey string
	SecretKey string
	Region    string
	IsDefault bool
}

// User owns executions and schedules.
type User struct {
	ID        int64
	Username  string
	IsAdmin   bool
	CreatedAt time.Time
}

// ScriptLookup resolves a script by id.
type ScriptLookup interface {
	Get(ctx context.Context, id int64) (*Script, error)
}

// ProfileLookup resolves an AWS profile by id.
type ProfileLookup interface {
	Get(ctx context.Context, id int64) (*Profile, error)
}

// SettingsLookup reads a setting, returning def when the key is unset.
type SettingsLookup interface {
	Get(ctx context.Context, key, def string) (string, error)
}

// Setting keys read by the execution core
const (
	SettingExecutionTimeout = "EXECUTION_TIMEOUT"
	SettingHistoryLimit     = "history_limit"
	SettingEnableAIHelp     = "enable_ai_help"
	SettingEnableAIHelpEnv  = "ENABLE_AI_HELP"
	SettingOpenAIKeyEnv     = "OPENAI_API_KEY"
	SettingOpenAIKey        = "openai_api_key"
)
