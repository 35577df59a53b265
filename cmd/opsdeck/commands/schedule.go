package commands

import (
	"fmt"
	"strings"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/opsdeck/am"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/logger"
	"github.com/teranos/opsdeck/pulse/runner"
	"github.com/teranos/opsdeck/pulse/schedule"
	"github.com/teranos/opsdeck/sym"
)

// ScheduleCmd manages recurring triggers
var ScheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: sym.Schedule + " Manage recurring triggers",
	Long: sym.Schedule + ` schedule — Recurring triggers

A schedule fires a script either daily at a half-hour slot (HH:MM, read in
scheduler.timezone) or every N hours (1, 2, 3, 4, 6, 8, 12 or 24). Interval
schedules keep their phase across daemon restarts.

Changes are written to the database; a running daemon picks them up within
a few seconds.

Examples:
  opsdeck schedule add report --daily 07:30 --profile prod
  opsdeck schedule add sync --every 6 --param bucket=logs
  opsdeck schedule update 3 --every 12
  opsdeck schedule update 3 --disable
  opsdeck schedule run 3         # run once now, in the foreground
  opsdeck schedule ls --all`,
}

var scheduleListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List schedules",
	RunE:    runScheduleList,
}

var scheduleShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleShow,
}

var scheduleAddCmd = &cobra.Command{
	Use:   "add <script>",
	Short: "Create a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleAdd,
}

var scheduleUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleUpdate,
}

var scheduleRemoveCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a schedule",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRemove,
}

var scheduleRunCmd = &cobra.Command{
	Use:   "run <id>",
	Short: "Run a schedule's script now (not counted as a scheduled run)",
	Args:  cobra.ExactArgs(1),
	RunE:  runScheduleRun,
}

var (
	scheduleAll     bool
	scheduleDaily   string
	scheduleEvery   string
	scheduleProfile string
	scheduleParams  []string
	scheduleEnable  bool
	scheduleDisable bool
)

func init() {
	scheduleListCmd.Flags().BoolVar(&scheduleAll, "all", false, "Include disabled schedules")

	for _, c := range []*cobra.Command{scheduleAddCmd, scheduleUpdateCmd} {
		c.Flags().StringVar(&scheduleDaily, "daily", "", "Fire daily at HH:MM (:00 or :30)")
		c.Flags().StringVar(&scheduleEvery, "every", "", "Fire every N hours")
		c.Flags().StringVarP(&scheduleProfile, "profile", "p", "", "AWS profile id or name")
		c.Flags().StringArrayVar(&scheduleParams, "param", nil, "Script parameter key=value (repeatable)")
		c.MarkFlagsMutuallyExclusive("daily", "every")
	}
	scheduleUpdateCmd.Flags().BoolVar(&scheduleEnable, "enable", false, "Enable the schedule")
	scheduleUpdateCmd.Flags().BoolVar(&scheduleDisable, "disable", false, "Disable the schedule (the row is kept)")
	scheduleUpdateCmd.MarkFlagsMutuallyExclusive("enable", "disable")

	ScheduleCmd.AddCommand(scheduleListCmd)
	ScheduleCmd.AddCommand(scheduleShowCmd)
	ScheduleCmd.AddCommand(scheduleAddCmd)
	ScheduleCmd.AddCommand(scheduleUpdateCmd)
	ScheduleCmd.AddCommand(scheduleRemoveCmd)
	ScheduleCmd.AddCommand(scheduleRunCmd)
}

// newScheduler builds a scheduler with a stopped clock for one CLI call.
// starter may be nil for commands that never start a run.
func newScheduler(cfg *am.Config, s *stores, starter schedule.Starter) (*schedule.Scheduler, error) {
	schedCfg, err := schedule.ConfigFromAM(cfg)
	if err != nil {
		return nil, err
	}
	return schedule.New(schedCfg, schedule.Dependencies{
		Store:    s.schedules,
		Scripts:  s.scripts,
		Profiles: s.profiles,
		Starter:  starter,
		Logger:   logger.Logger,
	}), nil
}

// recurrence reads --daily / --every
func recurrence() (schedule.Type, string, bool) {
	switch {
	case scheduleDaily != "":
		return schedule.TypeDaily, scheduleDaily, true
	case scheduleEvery != "":
		return schedule.TypeInterval, strings.TrimSuffix(scheduleEvery, "h"), true
	}
	return "", "", false
}

func runScheduleList(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	list, err := s.schedules.List(cmd.Context(), scheduleAll)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		pterm.Info.Println("No schedules")
		return nil
	}

	data := pterm.TableData{{"ID", "Script", "Profile", "When", "Enabled", "Next run", "Last run"}}
	for _, d := range list {
		enabled := "✓"
		if !d.Enabled {
			enabled = ""
		}
		data = append(data, []string{
			fmt.Sprint(d.ID),
			orDash(d.ScriptName),
			orDash(d.ProfileName),
			describeRecurrence(d.Schedule),
			enabled,
			formatTime(d.NextRun),
			formatTime(d.LastRun),
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runScheduleShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	d, err := s.schedules.GetWithDetails(cmd.Context(), id)
	if err != nil {
		return err
	}
	printSchedule(d)
	return nil
}

func printSchedule(d *schedule.Details) {
	pterm.DefaultSection.Printfln("%s Schedule %d", sym.Schedule, d.ID)
	fmt.Printf("Script:     %s\n", orDash(d.ScriptName))
	fmt.Printf("Profile:    %s\n", orDash(d.ProfileName))
	fmt.Printf("Owner:      %s\n", orDash(d.Username))
	fmt.Printf("When:       %s\n", describeRecurrence(d.Schedule))
	fmt.Printf("Enabled:    %t\n", d.Enabled)
	fmt.Printf("Next run:   %s\n", formatTime(d.NextRun))
	fmt.Printf("Last run:   %s\n", formatTime(d.LastRun))
	if len(d.Parameters) > 0 {
		fmt.Printf("Parameters: %v\n", d.Parameters)
	}
}

func describeRecurrence(sc *schedule.Schedule) string {
	switch sc.Type {
	case schedule.TypeDaily:
		return "daily at " + sc.Value
	case schedule.TypeInterval:
		return "every " + sc.Value + "h"
	}
	return string(sc.Type) + " " + sc.Value
}

func runScheduleAdd(cmd *cobra.Command, args []string) error {
	typ, value, ok := recurrence()
	if !ok {
		return errors.NewInvalidRequestError("one of --daily or --every is required")
	}
	params, err := parseParams(scheduleParams)
	if err != nil {
		return err
	}
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	script, err := resolveScript(ctx, s, args[0])
	if err != nil {
		return err
	}
	profile, err := resolveProfile(ctx, s, scheduleProfile)
	if err != nil {
		return err
	}
	owner, err := s.users.Ensure(ctx, currentUsername())
	if err != nil {
		return err
	}

	sched, err := newScheduler(cfg, s, nil)
	if err != nil {
		return err
	}
	d, err := sched.Create(ctx, schedule.CreateRequest{
		ScriptID:   script.ID,
		ProfileID:  profile.ID,
		UserID:     owner.ID,
		Type:       typ,
		Value:      value,
		Parameters: params,
	})
	if err != nil {
		return err
	}
	printSchedule(d)
	return nil
}

func runScheduleUpdate(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	var req schedule.UpdateRequest
	if typ, value, ok := recurrence(); ok {
		req.Type = &typ
		req.Value = &value
	}
	if scheduleEnable || scheduleDisable {
		enabled := scheduleEnable
		req.Enabled = &enabled
	}
	if scheduleProfile != "" {
		profile, err := resolveProfile(ctx, s, scheduleProfile)
		if err != nil {
			return err
		}
		req.ProfileID = &profile.ID
	}
	if len(scheduleParams) > 0 {
		if req.Parameters, err = parseParams(scheduleParams); err != nil {
			return err
		}
	}

	sched, err := newScheduler(cfg, s, nil)
	if err != nil {
		return err
	}
	d, err := sched.Update(ctx, id, req)
	if err != nil {
		return err
	}
	printSchedule(d)
	return nil
}

func runScheduleRemove(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	sched, err := newScheduler(cfg, s, nil)
	if err != nil {
		return err
	}
	if err := sched.Delete(cmd.Context(), id); err != nil {
		return err
	}
	pterm.Success.Printfln("Schedule %d deleted", id)
	return nil
}

func runScheduleRun(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	return runInForeground(ctx, cfg, s, func(r *runner.Runner) (int64, error) {
		sched, err := newScheduler(cfg, s, r)
		if err != nil {
			return 0, err
		}
		execID, err := sched.RunNow(ctx, id)
		if err == nil {
			pterm.Info.Printfln("%s Execution %d started from schedule %d", sym.Run, execID, id)
		}
		return execID, err
	})
}
