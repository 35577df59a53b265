// Package runner launches one external process per execution, streams its
// combined output into the ledger and to live observers, feeds it stdin
// from a per-execution mailbox, and drives it to a terminal status.
package runner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/opsdeck/am"
	"github.com/teranos/opsdeck/catalog"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/logger"
	"github.com/teranos/opsdeck/pulse/events"
	"github.com/teranos/opsdeck/pulse/ledger"
)

// Config controls process launch and output batching
type Config struct {
	Interpreter    string
	CancelGrace    time.Duration
	FlushThreshold int           // buffered chars that force a ledger write
	FlushInterval  time.Duration // max age of buffered output
}

// DefaultConfig matches the am defaults
func DefaultConfig() Config {
	return Config{
		Interpreter:    "python",
		CancelGrace:    5 * time.Second,
		FlushThreshold: 1000,
		FlushInterval:  time.Second,
	}
}

// ConfigFromAM extracts runner settings from the loaded configuration
func ConfigFromAM(cfg *am.Config) Config {
	return Config{
		Interpreter:    cfg.Runner.Interpreter,
		CancelGrace:    cfg.CancelGrace(),
		FlushThreshold: cfg.Runner.FlushThresholdChars,
		FlushInterval:  cfg.FlushInterval(),
	}
}

// Request asks for one run of a script
type Request struct {
	ScriptID       int64
	ProfileID      int64
	UserID         int64
	Parameters     map[string]interface{}
	RegionOverride string
	ScheduleID     *int64 // set only for runs fired by the scheduler
}

// ScheduleNotifier is told when a scheduler-originated run succeeds
type ScheduleNotifier interface {
	OnScheduledRunSuccess(ctx context.Context, scheduleID int64) error
}

// Dependencies are the collaborators a Runner needs
type Dependencies struct {
	Ledger   *ledger.Store
	Scripts  catalog.ScriptLookup
	Profiles catalog.ProfileLookup
	Events   events.Publisher
	Logger   *zap.SugaredLogger
}

// Runner owns every live execution of this process
type Runner struct {
	cfg      Config
	ledger   *ledger.Store
	scripts  catalog.ScriptLookup
	profiles catalog.ProfileLookup
	events   events.Publisher
	logger   *zap.SugaredLogger

	registry *registry
	wg       sync.WaitGroup

	notifierMu sync.RWMutex
	notifier   ScheduleNotifier
}

// New creates a runner
func New(cfg Config, deps Dependencies) *Runner {
	defaults := DefaultConfig()
	if cfg.Interpreter == "" {
		cfg.Interpreter = defaults.Interpreter
	}
	if cfg.FlushThreshold <= 0 {
		cfg.FlushThreshold = defaults.FlushThreshold
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = defaults.FlushInterval
	}
	if cfg.CancelGrace < 0 {
		cfg.CancelGrace = 0
	}

	pub := deps.Events
	if pub == nil {
		pub = events.Discard{}
	}
	log := deps.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	return &Runner{
		cfg:      cfg,
		ledger:   deps.Ledger,
		scripts:  deps.Scripts,
		profiles: deps.Profiles,
		events:   pub,
		logger:   logger.AddPulseSymbol(log.With(logger.FieldComponent, "runner")),
		registry: newRegistry(),
	}
}

// SetScheduleNotifier wires the scheduler after both are constructed
func (r *Runner) SetScheduleNotifier(n ScheduleNotifier) {
	r.notifierMu.Lock()
	defer r.notifierMu.Unlock()
	r.notifier = n
}

// Start validates the request, records a Pending execution and launches it
// in the background. The returned id is usable immediately for Cancel and
// ProvideInput.
func (r *Runner) Start(ctx context.Context, req Request) (int64, error) {
	script, err := r.scripts.Get(ctx, req.ScriptID)
	if err != nil {
		return 0, errors.Wrap(err, "Script not found")
	}
	profile, err := r.profiles.Get(ctx, req.ProfileID)
	if err != nil {
		return 0, errors.Wrap(err, "AWS profile not found")
	}

	row, err := r.ledger.Create(ctx, ledger.NewExecution{
		ScriptID:   req.ScriptID,
		ProfileID:  req.ProfileID,
		UserID:     req.UserID,
		Parameters: req.Parameters,
		ScheduleID: req.ScheduleID,
	})
	if err != nil {
		return 0, err
	}

	r.registry.addMailbox(row.ID, newMailbox())

	r.wg.Add(1)
	go r.execute(context.WithoutCancel(ctx), row.ID, script, profile, req)

	r.logger.Infow("Execution started",
		logger.FieldExecutionID, row.ID,
		logger.FieldScriptID, script.ID,
		logger.FieldProfileID, profile.ID,
		"scheduled", req.ScheduleID != nil)

	return row.ID, nil
}

// execute is the worker goroutine of one execution
func (r *Runner) execute(ctx context.Context, id int64, script *catalog.Script, profile *catalog.Profile, req Request) {
	defer r.wg.Done()
	defer r.registry.remove(id)

	log := r.logger.With(logger.FieldExecutionID, id)

	defer func() {
		if p := recover(); p != nil {
			log.Errorw("Execution worker panicked", "panic", p)
			r.fail(ctx, id, fmt.Sprint(p))
		}
	}()

	if err := r.ledger.MarkRunning(ctx, id, BannerStarting); err != nil {
		log.Warnw("Execution could not be marked running", logger.FieldError, err)
		return
	}
	r.events.Publish(events.Status(id, string(ledger.StatusRunning)))
	r.events.Publish(events.Output(id, BannerStarting))

	started := time.Now()
	state, err := r.spawnAndStream(ctx, id, script, profile, req, log)
	if err != nil {
		log.Errorw("Execution failed to run", logger.FieldError, err)
		r.fail(ctx, id, err.Error())
		return
	}

	final := r.classify(ctx, id, state, log)

	log.Infow("Execution finished",
		logger.FieldStatus, final,
		logger.FieldExitCode, state.ExitCode(),
		logger.FieldDurationMS, time.Since(started).Milliseconds())

	if final == ledger.StatusSuccess && req.ScheduleID != nil {
		r.notifierMu.RLock()
		n := r.notifier
		r.notifierMu.RUnlock()
		if n != nil {
			if err := n.OnScheduledRunSuccess(ctx, *req.ScheduleID); err != nil {
				log.Errorw("Failed to update schedule after run",
					logger.FieldScheduleID, *req.ScheduleID,
					logger.FieldError, err)
			}
		}
	}
}

// spawnAndStream runs the process to completion, returning its exit state.
func (r *Runner) spawnAndStream(ctx context.Context, id int64, script *catalog.Script, profile *catalog.Profile, req Request, log *zap.SugaredLogger) (*os.ProcessState, error) {
	command, err := BuildCommand(r.cfg.Interpreter, script.Path, req.Parameters)
	if err != nil {
		return nil, err
	}

	cmd := exec.Command(command.Path, command.Args...)
	cmd.Env = BuildEnv(os.Environ(), profile, req.RegionOverride)
	isolate(cmd)

	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to create output pipe")
	}
	defer pr.Close()
	cmd.Stdout = pw
	cmd.Stderr = pw

	stdin, err := cmd.StdinPipe()
	if err != nil {
		pw.Close()
		return nil, errors.Wrap(err, "failed to open stdin")
	}

	if err := cmd.Start(); err != nil {
		pw.Close()
		return nil, errors.Wrap(err, "failed to start process")
	}
	// The child holds its own copy; EOF on pr now means every writer exited
	pw.Close()

	r.registry.addHandle(id, &handle{cmd: cmd, stdin: stdin, pid: cmd.Process.Pid})
	log.Infow("Process spawned",
		logger.FieldPID, cmd.Process.Pid,
		logger.FieldCommand, command.String())

	mb, _ := r.registry.mailbox(id)
	r.stream(ctx, id, pr, stdin, mb, log)
	// input sent from here on would never reach the process
	r.registry.removeMailbox(id)

	stdin.Close()
	waitErr := cmd.Wait()
	if cmd.ProcessState == nil {
		return nil, errors.Wrap(waitErr, "process did not report an exit status")
	}
	return cmd.ProcessState, nil
}

// stream is the read/write loop: it forwards mailbox input to stdin and
// output lines to events and the ledger until the output pipe is drained.
func (r *Runner) stream(ctx context.Context, id int64, out io.Reader, stdin io.Writer, mb *mailbox, log *zap.SugaredLogger) {
	lines := make(chan string, 64)
	go func() {
		defer close(lines)
		br := bufio.NewReader(out)
		for {
			line, err := br.ReadString('\n')
			if line != "" {
				lines <- line
			}
			if err != nil {
				return
			}
		}
	}()

	var ready <-chan struct{}
	if mb != nil {
		ready = mb.ready
	}

	var buf strings.Builder
	lastFlush := time.Now()
	flush := func() {
		if buf.Len() == 0 {
			return
		}
		if err := r.ledger.Append(ctx, id, buf.String()); err != nil {
			log.Warnw("Failed to persist output", logger.FieldError, err)
		}
		buf.Reset()
		lastFlush = time.Now()
	}

	ticker := time.NewTicker(r.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ready:
			for _, text := range mb.drain() {
				flush()
				if _, err := io.WriteString(stdin, text); err != nil {
					log.Warnw("Failed to write input to process", logger.FieldError, err)
				}
				echo := InputEchoPrefix + text
				if err := r.ledger.Append(ctx, id, echo); err != nil {
					log.Warnw("Failed to persist input echo", logger.FieldError, err)
				}
				r.events.Publish(events.Output(id, echo))
				lastFlush = time.Now()
			}

		case line, ok := <-lines:
			if !ok {
				flush()
				return
			}
			r.events.Publish(events.Output(id, line))
			buf.WriteString(line)
			if buf.Len() > r.cfg.FlushThreshold || time.Since(lastFlush) >= r.cfg.FlushInterval {
				flush()
			}

		case <-ticker.C:
			if time.Since(lastFlush) >= r.cfg.FlushInterval {
				flush()
			}
		}
	}
}

// classify records the terminal status implied by state, unless the row
// already reached one (explicit cancel, reaper).
func (r *Runner) classify(ctx context.Context, id int64, state *os.ProcessState, log *zap.SugaredLogger) ledger.Status {
	current, err := r.ledger.Status(ctx, id)
	if err != nil {
		log.Errorw("Failed to read execution status", logger.FieldError, err)
	}
	if current == ledger.StatusCancelled {
		r.appendAndPublish(ctx, id, BannerTerminatedByUser, log)
		r.events.Publish(events.Status(id, string(ledger.StatusCancelled)))
		return ledger.StatusCancelled
	}

	status, banner := ledger.StatusFailed, BannerExitCode(state.ExitCode())
	if ws, ok := state.Sys().(syscall.WaitStatus); ok {
		if sig := exitSignal(ws); sig != 0 {
			log.Warnw("Process terminated by signal without a cancel request", logger.FieldSignal, sig)
			banner = BannerSignal(sig)
		}
	}
	if state.Success() {
		status, banner = ledger.StatusSuccess, BannerCompletedOK
	}

	ok, err := r.ledger.Finish(ctx, id, status, banner)
	if err != nil {
		log.Errorw("Failed to record final status", logger.FieldError, err)
		return status
	}
	if !ok {
		// Someone else finished the row between the read and the update
		current, _ = r.ledger.Status(ctx, id)
		if current == ledger.StatusCancelled {
			r.appendAndPublish(ctx, id, BannerTerminatedByUser, log)
		}
		r.events.Publish(events.Status(id, string(current)))
		return current
	}

	r.events.Publish(events.Output(id, banner))
	r.events.Publish(events.Status(id, string(status)))
	return status
}

// fail records a runner-side failure; it never returns an error to the worker
func (r *Runner) fail(ctx context.Context, id int64, msg string) {
	banner := BannerError(msg)
	ok, err := r.ledger.Finish(ctx, id, ledger.StatusFailed, banner)
	if err != nil {
		r.logger.Errorw("Failed to record execution failure",
			logger.FieldExecutionID, id,
			logger.FieldError, err)
		return
	}
	if ok {
		r.events.Publish(events.Output(id, banner))
		r.events.Publish(events.Status(id, string(ledger.StatusFailed)))
	}
}

func (r *Runner) appendAndPublish(ctx context.Context, id int64, text string, log *zap.SugaredLogger) {
	if err := r.ledger.Append(ctx, id, text); err != nil {
		log.Warnw("Failed to append output", logger.FieldError, err)
	}
	r.events.Publish(events.Output(id, text))
}

// Cancel stops a Running execution at the user's request. The ledger is
// flipped to Cancelled before the process tree is signalled.
func (r *Runner) Cancel(ctx context.Context, id int64) error {
	status, err := r.ledger.Status(ctx, id)
	if err != nil {
		return err
	}
	if status != ledger.StatusRunning {
		return errors.NewPreconditionFailedError("Execution is not running (status: %s)", status)
	}

	ok, err := r.ledger.Finish(ctx, id, ledger.StatusCancelled, BannerCancelRequested)
	if err != nil {
		return err
	}
	if !ok {
		return errors.NewPreconditionFailedError("Execution is not running")
	}

	log := r.logger.With(logger.FieldExecutionID, id)
	log.Infow("Execution cancelled by user")
	r.events.Publish(events.Output(id, BannerCancelRequested))
	r.events.Publish(events.Status(id, string(ledger.StatusCancelled)))

	if r.Terminate(ctx, id) {
		r.appendAndPublish(ctx, id, BannerProcessTerminated, log)
	}
	return nil
}

// Terminate kills the process tree of an execution without touching the
// ledger. It reports whether a live process was found.
func (r *Runner) Terminate(ctx context.Context, id int64) bool {
	h, ok := r.registry.handle(id)
	if !ok {
		return false
	}
	r.logger.Infow("Terminating process tree",
		logger.FieldExecutionID, id,
		logger.FieldPID, h.pid)
	return terminateTree(ctx, h.pid, r.cfg.CancelGrace)
}

// ProvideInput queues text for the execution's stdin. A trailing newline is added if missing.
func (r *Runner) ProvideInput(id int64, text string) error {
	mb, ok := r.registry.mailbox(id)
	if !ok {
		return errors.NewPreconditionFailedError("No active execution found with ID %d", id)
	}
	mb.push(text)
	return nil
}

// Running lists executions with a live process, ascending
func (r *Runner) Running() []int64 {
	return r.registry.ids()
}

// Wait blocks until every worker has exited
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Shutdown terminates every live process and waits for the workers,
// giving up when ctx is done.
func (r *Runner) Shutdown(ctx context.Context) error {
	for _, id := range r.Running() {
		r.Terminate(ctx, id)
	}

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "runner shutdown interrupted")
	}
}
