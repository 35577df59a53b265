package commands

import (
	"database/sql"
	"os"
	"os/user"

	"github.com/teranos/opsdeck/am"
	"github.com/teranos/opsdeck/catalog"
	"github.com/teranos/opsdeck/db"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/logger"
	"github.com/teranos/opsdeck/pulse/ledger"
	"github.com/teranos/opsdeck/pulse/schedule"
)

// openDatabase opens and migrates a database using the specified path.
// If dbPath is empty, it loads from am config.
func openDatabase(dbPath string) (*sql.DB, error) {
	if dbPath == "" {
		path, err := am.GetDatabasePath()
		if err != nil {
			return nil, errors.Wrap(err, "failed to get database path")
		}
		dbPath = path
	}

	database, err := db.Open(dbPath, logger.Logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database at %s", dbPath)
	}

	if err := db.Migrate(database, logger.Logger); err != nil {
		database.Close()
		return nil, errors.Wrapf(err, "failed to run migrations on %s", dbPath)
	}

	return database, nil
}

// stores bundles the data-access layer every command builds on
type stores struct {
	db        *sql.DB
	ledger    *ledger.Store
	scripts   *catalog.ScriptStore
	profiles  *catalog.ProfileStore
	users     *catalog.UserStore
	settings  *catalog.SettingsStore
	schedules *schedule.Store
}

func openStores() (*stores, error) {
	database, err := openDatabase("")
	if err != nil {
		return nil, err
	}
	return newStores(database), nil
}

func newStores(database *sql.DB) *stores {
	return &stores{
		db:        database,
		ledger:    ledger.NewStore(database),
		scripts:   catalog.NewScriptStore(database),
		profiles:  catalog.NewProfileStore(database),
		users:     catalog.NewUserStore(database),
		settings:  catalog.NewSettingsStore(database),
		schedules: schedule.NewStore(database),
	}
}

func (s *stores) Close() error {
	return s.db.Close()
}

// settingsWithEnv reads settings with environment overrides. The
// configured openai.api_key stands in for OPENAI_API_KEY.
func (s *stores) settingsWithEnv(cfg *am.Config) catalog.SettingsLookup {
	return catalog.EnvFallback{
		Settings: s.settings,
		Getenv: func(key string) string {
			if v := os.Getenv(key); v != "" {
				return v
			}
			if key == catalog.SettingOpenAIKeyEnv && cfg != nil {
				return cfg.OpenAI.APIKey
			}
			return ""
		},
	}
}

// currentUsername names the OS user invoking the CLI
func currentUsername() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return "opsdeck"
}
