// Package sym defines canonical symbols for opsdeck segments and system markers.
// These symbols are stable across CLI output, log fields and the event stream.
package sym

// Segment symbols. Each CLI command group has one.
const (
	AM       = "≡" // am: configuration and system settings
	Run      = "⟶" // run: start an execution and follow it
	Exec     = "⋈" // exec: inspect the execution ledger
	Schedule = "✦" // schedule: recurring triggers
	Script   = "▣" // script: registered scripts
	Profile  = "⌬" // profile: AWS credential profiles
)

// System infrastructure symbols.
const (
	Pulse      = "꩜" // runner, scheduler clock and reaper
	PulseOpen  = "✿" // graceful startup with schedule recovery
	PulseClose = "❀" // graceful shutdown, waits for running executions
	DB         = "⊔" // database/storage layer
)

// PaletteOrder is the order in which segments are listed in help output.
var PaletteOrder = []string{AM, Run, Exec, Schedule, Script, Profile}

// SymbolToCommand maps glyph strings to their command equivalents.
var SymbolToCommand = map[string]string{
	AM:       "am",
	Run:      "run",
	Exec:     "exec",
	Schedule: "schedule",
	Script:   "script",
	Profile:  "profile",
}

// CommandToSymbol maps commands to their canonical glyph strings.
var CommandToSymbol = map[string]string{
	"am":       AM,
	"run":      Run,
	"exec":     Exec,
	"schedule": Schedule,
	"script":   Script,
	"profile":  Profile,
}

// CommandDescriptions provides short explanations used in command help.
var CommandDescriptions = map[string]string{
	"am":       "Configuration: show and initialize settings",
	"run":      "Run: start a script against a profile and stream its output",
	"exec":     "Executions: history, stats, cancel, input and AI help",
	"schedule": "Schedules: daily and interval triggers",
	"script":   "Scripts: register and list runnable scripts",
	"profile":  "Profiles: AWS credentials used by executions",
}

// Prefix returns the command prefixed with its symbol, or the command
// unchanged when it has none.
func Prefix(cmd string) string {
	if s, ok := CommandToSymbol[cmd]; ok {
		return s + " " + cmd
	}
	return cmd
}
