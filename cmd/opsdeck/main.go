package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/opsdeck/cmd/opsdeck/commands"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/logger"
)

var rootCmd = &cobra.Command{
	Use:   "opsdeck",
	Short: "opsdeck - run, schedule and watch operational scripts",
	Long: `opsdeck - script execution and scheduling console.

opsdeck runs registered scripts against AWS credential profiles, records
every execution in a ledger, fires schedules and streams live output.

Available commands:
  am       - Show and initialize configuration ("I am")
  db       - Manage the opsdeck database
  pulse    - Run the daemon (runner + scheduler + reaper + event server)
  run      - Run a script in the foreground and stream its output
  exec     - Inspect and control executions
  schedule - Manage recurring triggers
  script   - Register scripts
  profile  - Manage AWS credential profiles

Examples:
  opsdeck am show                      # Show current configuration
  opsdeck pulse start                  # Start the daemon
  opsdeck run report --profile dev     # Run a script now
  opsdeck exec ls                      # Recent executions
  opsdeck schedule add report --daily 07:30`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		verbosity, _ := cmd.Flags().GetCount("verbose")
		jsonLogs, _ := cmd.Flags().GetBool("json-logs")
		if err := logger.Initialize(jsonLogs, verbosity); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logger.Cleanup()
	},
}

func init() {
	rootCmd.PersistentFlags().CountP("verbose", "v", "Increase output verbosity (repeat for more detail: -v, -vv, -vvv)")
	rootCmd.PersistentFlags().Bool("json-logs", false, "Emit logs as JSON")

	rootCmd.AddCommand(commands.AmCmd)
	rootCmd.AddCommand(commands.DbCmd)
	rootCmd.AddCommand(commands.PulseCmd)
	rootCmd.AddCommand(commands.RunCmd)
	rootCmd.AddCommand(commands.ExecCmd)
	rootCmd.AddCommand(commands.ScheduleCmd)
	rootCmd.AddCommand(commands.ScriptCmd)
	rootCmd.AddCommand(commands.ProfileCmd)
	rootCmd.AddCommand(commands.VersionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		pterm.Error.Println(err.Error())
		if hint := errors.FlattenHints(err); hint != "" {
			pterm.Info.Println(hint)
		}
		os.Exit(1)
	}
}
