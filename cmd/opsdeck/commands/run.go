package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/opsdeck/am"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/logger"
	"github.com/teranos/opsdeck/pulse/events"
	"github.com/teranos/opsdeck/pulse/ledger"
	"github.com/teranos/opsdeck/pulse/runner"
	"github.com/teranos/opsdeck/sym"
)

// RunCmd runs one script in the foreground
var RunCmd = &cobra.Command{
	Use:   "run <script>",
	Short: sym.Run + " Run a script and stream its output",
	Long: sym.Run + ` run — Start an execution and follow it

The script runs as a child of this command. Lines typed on stdin are fed to
the script. Ctrl+C cancels the execution (SIGTERM, then SIGKILL after
runner.cancel_grace_seconds); a second Ctrl+C exits immediately.

Parameters become --key value flags; true becomes a bare --key and false,
empty and zero values are omitted.

Examples:
  opsdeck run report
  opsdeck run report --profile prod --param days=7 --param verbose=true
  opsdeck run cleanup --region us-east-1`,
	Args: cobra.ExactArgs(1),
	RunE: runRun,
}

var (
	runProfile string
	runParams  []string
	runRegion  string
	runNoInput bool
)

func init() {
	RunCmd.Flags().StringVarP(&runProfile, "profile", "p", "", "AWS profile id or name (default: the default profile)")
	RunCmd.Flags().StringArrayVar(&runParams, "param", nil, "Script parameter key=value (repeatable)")
	RunCmd.Flags().StringVar(&runRegion, "region", "", "Override the profile's region")
	RunCmd.Flags().BoolVar(&runNoInput, "no-input", false, "Do not forward stdin to the script")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	params, err := parseParams(runParams)
	if err != nil {
		return err
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
	profile, err := resolveProfile(ctx, s, runProfile)
	if err != nil {
		return err
	}
	user, err := s.users.Ensure(ctx, currentUsername())
	if err != nil {
		return err
	}

	return runInForeground(ctx, cfg, s, func(r *runner.Runner) (int64, error) {
		id, err := r.Start(ctx, runner.Request{
			ScriptID:       script.ID,
			ProfileID:      profile.ID,
			UserID:         user.ID,
			Parameters:     params,
			RegionOverride: runRegion,
		})
		if err == nil {
			pterm.Info.Printfln("%s Execution %d: %s with profile %s", sym.Run, id, script.Name, profile.Name)
		}
		return id, err
	})
}

// runInForeground starts one execution on a runner owned by this command,
// prints its output and returns once the worker has exited.
func runInForeground(ctx context.Context, cfg *am.Config, s *stores, start func(*runner.Runner) (int64, error)) error {
	hub := events.NewHub()
	defer hub.Close()
	sub := hub.Subscribe()

	r := runner.New(runner.ConfigFromAM(cfg), runner.Dependencies{
		Ledger:   s.ledger,
		Scripts:  s.scripts,
		Profiles: s.profiles,
		Events:   hub,
		Logger:   logger.Logger,
	})

	id, err := start(r)
	if err != nil {
		return err
	}

	if !runNoInput {
		go forwardStdin(r, id)
	}

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	done := make(chan struct{})
	go func() {
		r.Wait()
		close(done)
	}()

	tr := &transcript{id: id, out: os.Stdout}
	cancelled := false
	for finished := false; !finished; {
		select {
		case ev, ok := <-sub:
			if !ok {
				// evicted for falling behind; the ledger has the rest
				sub = nil
				continue
			}
			tr.print(ev)
		case <-sigChan:
			if cancelled {
				pterm.Warning.Println("Force exit - the script may still be running")
				os.Exit(130)
			}
			cancelled = true
			pterm.Warning.Println("Cancelling execution (Ctrl+C again to force)...")
			if err := r.Cancel(context.Background(), id); err != nil {
				pterm.Warning.Println(errors.UserMessage(err))
			}
		case <-done:
			finished = true
		}
	}
	// the worker has exited; whatever it published is already buffered
	for sub != nil {
		select {
		case ev, ok := <-sub:
			if !ok {
				sub = nil
				continue
			}
			tr.print(ev)
		default:
			hub.Unsubscribe(sub)
			sub = nil
		}
	}

	exec, err := s.ledger.Get(ctx, id)
	if err != nil {
		return err
	}
	tr.catchUp(exec.Output)
	return reportFinal(exec)
}

// transcript prints one execution's live output and tracks how much of it
// reached the terminal.
type transcript struct {
	id      int64
	out     io.Writer
	printed int
}

func (t *transcript) print(ev events.Event) {
	if ev.ExecutionID != t.id || ev.Type != events.OutputAppended {
		return
	}
	fmt.Fprint(t.out, ev.Output)
	t.printed += len(ev.Output)
}

// catchUp prints the part of the stored output that the live stream did
// not deliver.
func (t *transcript) catchUp(stored string) {
	if len(stored) <= t.printed {
		return
	}
	fmt.Fprint(t.out, stored[t.printed:])
	t.printed = len(stored)
}

func forwardStdin(r *runner.Runner, id int64) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if err := r.ProvideInput(id, scanner.Text()); err != nil {
			return
		}
	}
}

// reportFinal prints the terminal status and turns anything but Success into an error exit
func reportFinal(exec *ledger.Execution) error {
	id := exec.ID
	switch exec.Status {
	case ledger.StatusSuccess:
		pterm.Success.Printfln("Execution %d succeeded in %s", id, formatDuration(exec.Duration()))
		return nil
	case ledger.StatusFailed:
		return errors.WithHintf(errors.Newf("execution %d failed", id),
			"run 'opsdeck exec ai-help %d' for an explanation", id)
	default:
		return errors.Newf("execution %d finished with status %s", id, exec.Status)
	}
}
