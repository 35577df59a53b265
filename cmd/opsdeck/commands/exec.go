package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/opsdeck/ai"
	"github.com/teranos/opsdeck/am"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/logger"
	"github.com/teranos/opsdeck/pulse/ledger"
	"github.com/teranos/opsdeck/server"
	"github.com/teranos/opsdeck/sym"
)

// ExecCmd inspects and controls executions
var ExecCmd = &cobra.Command{
	Use:   "exec",
	Short: sym.Exec + " Inspect and control executions",
	Long: sym.Exec + ` exec — The execution ledger

Examples:
  opsdeck exec ls                          # Most recent executions
  opsdeck exec history --status Failed     # Paged history with filters
  opsdeck exec show 42                     # One execution with its output
  opsdeck exec stats --days 14             # Per-day status counts
  opsdeck exec follow 42                   # Stream output from the daemon
  opsdeck exec cancel 42                   # Cancel a daemon-owned run
  opsdeck exec input 42 "yes"              # Answer a prompt
  opsdeck exec ai-help 42                  # Ask the model why it failed`,
}

var execListCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list", "recent"},
	Short:   "List recent executions",
	RunE:    runExecList,
}

var execHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Page through execution history",
	RunE:  runExecHistory,
}

var execShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show one execution and its output",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecShow,
}

var execStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Per-day execution counts",
	RunE:  runExecStats,
}

var execFollowCmd = &cobra.Command{
	Use:   "follow <id>",
	Short: "Stream an execution's output from the daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecFollow,
}

var execCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "Cancel a running execution owned by the daemon",
	Args:  cobra.ExactArgs(1),
	RunE:  runExecCancel,
}

var execInputCmd = &cobra.Command{
	Use:   "input <id> <text>",
	Short: "Send a line to a running execution's stdin",
	Args:  cobra.ExactArgs(2),
	RunE:  runExecInput,
}

var execAIHelpCmd = &cobra.Command{
	Use:   "ai-help <id>",
	Short: "Explain a failed execution",
	Long: `Explain a failed execution with the configured OpenAI model.

Requires enable_ai_help (setting) or ENABLE_AI_HELP (environment) to be true,
and an API key in OPENAI_API_KEY, openai.api_key or the openai_api_key
setting. The answer is cached on the execution.`,
	Args: cobra.ExactArgs(1),
	RunE: runExecAIHelp,
}

var (
	execLimit    int
	execPage     int
	execPerPage  int
	execScript   string
	execStatus   string
	execDate     string
	execUserID   int64
	execDays     int
	execNoOutput bool
)

func init() {
	execListCmd.Flags().IntVar(&execLimit, "limit", 0, "Number of executions (default: history_limit setting)")

	execHistoryCmd.Flags().IntVar(&execPage, "page", 1, "Page number")
	execHistoryCmd.Flags().IntVar(&execPerPage, "per-page", 20, "Executions per page")
	execHistoryCmd.Flags().StringVar(&execScript, "script", "", "Only this script (id or name)")
	execHistoryCmd.Flags().StringVar(&execStatus, "status", "", "Only this status (Pending, Running, Success, Failed, Cancelled)")
	execHistoryCmd.Flags().StringVar(&execDate, "date", "", "Only executions started on this UTC date (YYYY-MM-DD)")
	execHistoryCmd.Flags().Int64Var(&execUserID, "user-id", 0, "Only executions started by this user")

	execShowCmd.Flags().BoolVar(&execNoOutput, "no-output", false, "Omit the captured output")

	execStatsCmd.Flags().IntVar(&execDays, "days", 7, "Trailing window in days")

	ExecCmd.AddCommand(execListCmd)
	ExecCmd.AddCommand(execHistoryCmd)
	ExecCmd.AddCommand(execShowCmd)
	ExecCmd.AddCommand(execStatsCmd)
	ExecCmd.AddCommand(execFollowCmd)
	ExecCmd.AddCommand(execCancelCmd)
	ExecCmd.AddCommand(execInputCmd)
	ExecCmd.AddCommand(execAIHelpCmd)
}

func runExecList(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	limit := execLimit
	if limit <= 0 {
		limit = ledger.HistoryLimit(ctx, s.settings)
	}
	rows, err := s.ledger.Recent(ctx, limit)
	if err != nil {
		return err
	}
	return renderExecutions(rows)
}

func runExecHistory(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	filter := ledger.Filter{
		Status: ledger.Status(execStatus),
		Date:   execDate,
		UserID: execUserID,
	}
	if execStatus != "" && !filter.Status.Valid() {
		return errors.NewInvalidRequestError("unknown status %q", execStatus)
	}
	if execDate != "" {
		if _, err := time.Parse("2006-01-02", execDate); err != nil {
			return errors.NewInvalidRequestError("--date must be YYYY-MM-DD")
		}
	}
	if execScript != "" {
		script, err := resolveScript(ctx, s, execScript)
		if err != nil {
			return err
		}
		filter.ScriptID = script.ID
	}

	page, err := s.ledger.History(ctx, execPage, execPerPage, filter)
	if err != nil {
		return err
	}
	if err := renderExecutions(page.Executions); err != nil {
		return err
	}
	fmt.Printf("\nPage %d of %d (%d executions)\n", page.CurrentPage, page.TotalPages, page.TotalCount)
	return nil
}

func renderExecutions(rows []*ledger.Details) error {
	if len(rows) == 0 {
		pterm.Info.Println("No executions")
		return nil
	}
	data := pterm.TableData{{"ID", "Script", "Profile", "User", "Status", "Started", "Duration", "Scheduled"}}
	for _, e := range rows {
		scheduled := ""
		if e.IsScheduled {
			scheduled = sym.Schedule
		}
		data = append(data, []string{
			fmt.Sprint(e.ID),
			orDash(e.ScriptName),
			orDash(e.ProfileName),
			orDash(e.Username),
			colorStatus(e.Status),
			formatTime(e.StartTime),
			formatDuration(e.Duration()),
			scheduled,
		})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runExecShow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	e, err := s.ledger.GetWithDetails(cmd.Context(), id)
	if err != nil {
		return err
	}

	pterm.DefaultSection.Printfln("%s Execution %d", sym.Exec, e.ID)
	fmt.Printf("Script:     %s\n", orDash(e.ScriptName))
	fmt.Printf("Profile:    %s\n", orDash(e.ProfileName))
	fmt.Printf("User:       %s\n", orDash(e.Username))
	fmt.Printf("Status:     %s\n", colorStatus(e.Status))
	fmt.Printf("Started:    %s\n", formatTime(e.StartTime))
	fmt.Printf("Finished:   %s\n", formatTime(e.EndTime))
	fmt.Printf("Duration:   %s\n", formatDuration(e.Duration()))
	if e.ScheduleID != nil {
		fmt.Printf("Schedule:   %d\n", *e.ScheduleID)
	}
	if len(e.Parameters) > 0 {
		fmt.Printf("Parameters: %v\n", e.Parameters)
	}
	if !execNoOutput {
		pterm.DefaultSection.WithLevel(2).Println("Output")
		fmt.Print(e.Output)
		if !strings.HasSuffix(e.Output, "\n") {
			fmt.Println()
		}
	}
	if e.AIAnalysis != nil && *e.AIAnalysis != "" {
		printAIHelp(&ai.Help{Analysis: *e.AIAnalysis, Solution: stringValue(e.AISolution), Cached: true})
	}
	return nil
}

func runExecStats(cmd *cobra.Command, args []string) error {
	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	stats, err := s.ledger.Stats(cmd.Context(), execDays)
	if err != nil {
		return err
	}
	data := pterm.TableData{{"Date", "Success", "Failed", "Running", "Cancelled"}}
	for _, d := range stats {
		data = append(data, []string{d.Date, fmt.Sprint(d.Success), fmt.Sprint(d.Failed), fmt.Sprint(d.Running), fmt.Sprint(d.Cancelled)})
	}
	return pterm.DefaultTable.WithHasHeader().WithData(data).Render()
}

func runExecFollow(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	status, err := newDaemonClient(cfg).Follow(cmd.Context(), id, func(text string) { fmt.Print(text) })
	if err != nil {
		return err
	}
	pterm.Info.Printfln("Execution %d finished: %s", id, colorStatus(status))
	return nil
}

func runExecCancel(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := sendControl(cmd.Context(), server.ControlMessage{Type: server.MsgCancel, ExecutionID: id}); err != nil {
		return err
	}
	pterm.Success.Printfln("Execution %d cancelled", id)
	return nil
}

func runExecInput(cmd *cobra.Command, args []string) error {
	id, err := parseID(args[0])
	if err != nil {
		return err
	}
	if err := sendControl(cmd.Context(), server.ControlMessage{Type: server.MsgInput, ExecutionID: id, Text: args[1]}); err != nil {
		return err
	}
	pterm.Success.Printfln("Input sent to execution %d", id)
	return nil
}

func sendControl(ctx context.Context, msg server.ControlMessage) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	return newDaemonClient(cfg).Control(ctx, msg)
}

func runExecAIHelp(cmd *cobra.Command, args []string) error {
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

	helper := ai.NewHelper(ai.HelperDependencies{
		Ledger:    s.ledger,
		Settings:  s.settingsWithEnv(cfg),
		Analyzers: ai.NewOpenAI(ai.ConfigFromAM(cfg), logger.Logger),
		Logger:    logger.Logger,
	})

	spinner, _ := pterm.DefaultSpinner.Start("Analyzing execution output...")
	help, err := helper.GetHelp(cmd.Context(), id)
	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		if errors.IsNotFoundError(err) || errors.IsPreconditionFailedError(err) {
			return errors.New(errors.UserMessage(err))
		}
		return err
	}
	printAIHelp(help)
	return nil
}

func printAIHelp(help *ai.Help) {
	title := "AI analysis"
	if help.Cached {
		title += " (cached)"
	}
	pterm.DefaultSection.WithLevel(2).Println(title)
	fmt.Println(help.Analysis)
	pterm.DefaultSection.WithLevel(2).Println("Suggested fix")
	fmt.Println(help.Solution)
}

func colorStatus(status ledger.Status) string {
	switch status {
	case ledger.StatusSuccess:
		return pterm.FgGreen.Sprint(status)
	case ledger.StatusFailed:
		return pterm.FgRed.Sprint(status)
	case ledger.StatusCancelled:
		return pterm.FgYellow.Sprint(status)
	case ledger.StatusRunning:
		return pterm.FgCyan.Sprint(status)
	}
	return string(status)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func stringValue(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
