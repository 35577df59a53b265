package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pterm/pterm"
	"github.com/shirou/gopsutil/v3/process"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/teranos/opsdeck/am"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/logger"
	"github.com/teranos/opsdeck/pulse/events"
	"github.com/teranos/opsdeck/pulse/ledger"
	"github.com/teranos/opsdeck/pulse/reaper"
	"github.com/teranos/opsdeck/pulse/runner"
	"github.com/teranos/opsdeck/pulse/schedule"
	"github.com/teranos/opsdeck/server"
	"github.com/teranos/opsdeck/server/wslogs"
	"github.com/teranos/opsdeck/sym"
)

// scheduleSyncInterval is how often the daemon re-reads schedule rows
// written by other processes
const scheduleSyncInterval = 5 * time.Second

// PulseCmd groups the daemon commands
var PulseCmd = &cobra.Command{
	Use:   "pulse",
	Short: sym.Pulse + " Run the opsdeck daemon",
	Long: sym.Pulse + ` pulse — The opsdeck daemon

The daemon hosts the scheduler clock, the hung-execution reaper and the live
event server (/ws and /ws/executions/{id}). Scheduled runs are children of
the daemon; cancel and input for them go through 'opsdeck exec'.

Example:
  opsdeck pulse start -v
  opsdeck pulse status`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

var pulseStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the daemon in the foreground",
	RunE:  runPulseStart,
}

var pulseStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the daemon is up and what it is running",
	RunE:  runPulseStatus,
}

func init() {
	PulseCmd.AddCommand(pulseStartCmd)
	PulseCmd.AddCommand(pulseStatusCmd)
}

func runPulseStart(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	dbPath, err := am.GetDatabasePath()
	if err != nil {
		return err
	}

	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	// daemon logs also go to /ws subscribers
	logs := wslogs.NewTransport()
	batcher := wslogs.NewBatcher(logs)
	logger.Logger = zap.New(zapcore.NewTee(
		logger.Logger.Desugar().Core(),
		wslogs.NewWebSocketCore(zapcore.InfoLevel, batcher),
	)).Sugar()
	log := logger.Logger

	hub := events.NewHub()
	defer hub.Close()

	r := runner.New(runner.ConfigFromAM(cfg), runner.Dependencies{
		Ledger:   s.ledger,
		Scripts:  s.scripts,
		Profiles: s.profiles,
		Events:   hub,
		Logger:   log,
	})

	schedCfg, err := schedule.ConfigFromAM(cfg)
	if err != nil {
		return err
	}
	sched := schedule.New(schedCfg, schedule.Dependencies{
		Store:    s.schedules,
		Scripts:  s.scripts,
		Profiles: s.profiles,
		Starter:  r,
		Logger:   log,
	})
	r.SetScheduleNotifier(sched)

	reap := reaper.New(reaper.ConfigFromAM(cfg), s.ledger, s.settingsWithEnv(cfg), r, hub, log)

	srv := server.New(server.ConfigFromAM(cfg), server.Dependencies{
		Hub:        hub,
		Control:    r,
		Ledger:     s.ledger,
		Logs:       logs,
		LogBatcher: batcher,
		Logger:     log,
	})

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	restored, err := sched.Start(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to restore schedules")
	}
	reap.Start(ctx)

	if watcher, err := am.NewConfigWatcher(am.UserConfigPath(), log); err != nil {
		log.Warnw("Config hot-reload disabled", "error", err)
	} else {
		watcher.OnReload(func(newCfg *am.Config) error {
			reap.SetInterval(newCfg.ReaperInterval())
			return nil
		})
		am.SetGlobalWatcher(watcher)
		watcher.Start()
		defer func() {
			am.SetGlobalWatcher(nil)
			watcher.Stop()
		}()
	}

	verbosity, _ := cmd.Flags().GetCount("verbose")
	printStartupBanner(cfg, verbosity, dbPath, restored)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Serve(gctx)
	})
	g.Go(func() error {
		syncSchedules(gctx, sched, log)
		return nil
	})

	err = g.Wait()

	fmt.Printf("\n%s Shutting down...\n", sym.PulseClose)
	sched.Stop()
	reap.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.CancelGrace()+5*time.Second)
	defer cancel()
	if running := r.Running(); len(running) > 0 {
		fmt.Printf("%s Terminating %d running execution(s)\n", sym.PulseClose, len(running))
	}
	if serr := r.Shutdown(shutdownCtx); serr != nil {
		log.Warnw("Runner did not stop cleanly", "error", serr)
	}
	batcher.Flush()

	fmt.Printf("%s Pulse daemon stopped\n", sym.PulseClose)
	return err
}

// syncSchedules picks up schedule rows changed by the CLI until ctx is done
func syncSchedules(ctx context.Context, sched *schedule.Scheduler, log *zap.SugaredLogger) {
	ticker := time.NewTicker(scheduleSyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, _, err := sched.Sync(ctx); err != nil && ctx.Err() == nil {
				log.Warnw("Schedule sync failed", "error", err)
			}
		}
	}
}

// healthReport is the daemon's /health payload
type healthReport struct {
	Status  string `json:"status"`
	PID     int32  `json:"pid"`
	Clients int    `json:"clients"`
	// subscribers disconnected for falling behind the event stream
	Evicted uint64 `json:"evicted_subscribers"`
}

func runPulseStatus(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
	defer cancel()

	health, err := fetchHealth(ctx, cfg.GetServerPort())
	if err != nil {
		pterm.Warning.Printfln("Daemon not reachable on port %d", cfg.GetServerPort())
		return errors.WithHint(err, "start it with 'opsdeck pulse start'")
	}
	pterm.Success.Printfln("%s Daemon up on port %d", sym.Pulse, cfg.GetServerPort())

	rows := pterm.TableData{
		{"PID", fmt.Sprint(health.PID)},
		{"Clients", fmt.Sprint(health.Clients)},
		{"Lagging clients evicted", fmt.Sprint(health.Evicted)},
	}
	rows = append(rows, processRows(ctx, health.PID)...)
	if err := pterm.DefaultTable.WithData(rows).Render(); err != nil {
		return err
	}

	s, err := openStores()
	if err != nil {
		return err
	}
	defer s.Close()

	page, err := s.ledger.History(ctx, 1, 50, ledger.Filter{Status: ledger.StatusRunning})
	if err != nil {
		return err
	}
	if page.TotalCount == 0 {
		pterm.Info.Println("No running executions")
		return nil
	}
	pterm.DefaultSection.Printfln("Running executions (%d)", page.TotalCount)
	return renderExecutions(page.Executions)
}

func fetchHealth(ctx context.Context, port int) (*healthReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("http://127.0.0.1:%d/health", port), nil)
	if err != nil {
		return nil, err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "health check failed")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("health check returned %s", resp.Status)
	}
	var h healthReport
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return nil, errors.Wrap(err, "malformed health response")
	}
	return &h, nil
}

// processRows describes the daemon process; missing figures are skipped
func processRows(ctx context.Context, pid int32) pterm.TableData {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return nil
	}
	var rows pterm.TableData
	if created, err := proc.CreateTimeWithContext(ctx); err == nil {
		uptime := time.Since(time.UnixMilli(created)).Truncate(time.Second)
		rows = append(rows, []string{"Uptime", uptime.String()})
	}
	if m, err := proc.MemoryInfoWithContext(ctx); err == nil {
		rows = append(rows, []string{"Resident memory", humanBytes(m.RSS)})
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		rows = append(rows, []string{"CPU", fmt.Sprintf("%.1f%%", cpu)})
	}
	if children, err := proc.ChildrenWithContext(ctx); err == nil {
		rows = append(rows, []string{"Child processes", fmt.Sprint(len(children))})
	}
	return rows
}
