// Package reaper force-fails executions that have been Running for longer
// than the configured timeout.
package reaper

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/opsdeck/am"
	"github.com/teranos/opsdeck/catalog"
	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/logger"
	"github.com/teranos/opsdeck/pulse/events"
	"github.com/teranos/opsdeck/pulse/ledger"
)

// BannerTimedOut is appended to every reaped execution
const BannerTimedOut = "\n[SYSTEM] Script execution timed out and was automatically terminated."

// DefaultTimeoutMinutes applies when EXECUTION_TIMEOUT is unset or unparseable
const DefaultTimeoutMinutes = 30

// Terminator kills the OS process behind an execution, if this process owns one
type Terminator interface {
	Terminate(ctx context.Context, executionID int64) bool
}

// Config for the sweep ticker
type Config struct {
	Interval              time.Duration // zero disables the ticker
	DefaultTimeoutMinutes int
}

// ConfigFromAM extracts reaper settings from the loaded configuration
func ConfigFromAM(cfg *am.Config) Config {
	return Config{
		Interval:              cfg.ReaperInterval(),
		DefaultTimeoutMinutes: cfg.Reaper.DefaultTimeoutMinutes,
	}
}

// Reaper sweeps the ledger for hung executions
type Reaper struct {
	ledger     *ledger.Store
	settings   catalog.SettingsLookup
	terminator Terminator
	events     events.Publisher
	logger     *zap.SugaredLogger
	now        func() time.Time

	defaultTimeout int

	mu       sync.Mutex
	interval time.Duration
	reset    chan struct{}
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New creates a reaper. terminator and pub may be nil.
func New(cfg Config, store *ledger.Store, settings catalog.SettingsLookup, terminator Terminator, pub events.Publisher, log *zap.SugaredLogger) *Reaper {
	if pub == nil {
		pub = events.Discard{}
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	timeout := cfg.DefaultTimeoutMinutes
	if timeout <= 0 {
		timeout = DefaultTimeoutMinutes
	}
	return &Reaper{
		ledger:         store,
		settings:       settings,
		terminator:     terminator,
		events:         pub,
		logger:         logger.AddPulseSymbol(log.With(logger.FieldComponent, "reaper")),
		now:            time.Now,
		defaultTimeout: timeout,
		interval:       cfg.Interval,
		reset:          make(chan struct{}, 1),
	}
}

// SetClock replaces the time source
func (r *Reaper) SetClock(now func() time.Time) {
	r.now = now
}

// Timeout reads EXECUTION_TIMEOUT in minutes
func (r *Reaper) Timeout(ctx context.Context) time.Duration {
	minutes := r.defaultTimeout
	if r.settings != nil {
		raw, err := r.settings.Get(ctx, catalog.SettingExecutionTimeout, strconv.Itoa(r.defaultTimeout))
		if err != nil {
			r.logger.Warnw("Failed to read execution timeout setting", logger.FieldError, err)
		} else if v, err := strconv.Atoi(strings.TrimSpace(raw)); err == nil && v > 0 {
			minutes = v
		} else {
			r.logger.Warnw("Invalid execution timeout setting, using default",
				"value", raw,
				"default_minutes", r.defaultTimeout)
		}
	}
	return time.Duration(minutes) * time.Minute
}

// CheckHungExecutions fails every Running execution that started before
// now minus the timeout and returns how many it failed. Rows already
// terminal are skipped, so repeated sweeps are harmless.
func (r *Reaper) CheckHungExecutions(ctx context.Context) (int, error) {
	timeout := r.Timeout(ctx)
	cutoff := r.now().Add(-timeout)

	ids, err := r.ledger.RunningStartedBefore(ctx, cutoff)
	if err != nil {
		return 0, errors.Wrap(err, "failed to find hung executions")
	}

	reaped := 0
	for _, id := range ids {
		ok, err := r.ledger.Finish(ctx, id, ledger.StatusFailed, BannerTimedOut)
		if err != nil {
			r.logger.Errorw("Failed to time out execution",
				logger.FieldExecutionID, id,
				logger.FieldError, err)
			continue
		}
		if !ok {
			continue
		}
		reaped++

		r.logger.Warnw("Execution timed out",
			logger.FieldExecutionID, id,
			"timeout_minutes", int(timeout/time.Minute))
		r.events.Publish(events.Output(id, BannerTimedOut))
		r.events.Publish(events.Status(id, string(ledger.StatusFailed)))

		if r.terminator != nil {
			r.terminator.Terminate(ctx, id)
		}
	}

	if reaped > 0 {
		r.logger.Infow("Reaped hung executions", logger.FieldCount, reaped)
	}
	return reaped, nil
}

// Start runs CheckHungExecutions every interval until Stop or ctx is done.
// A zero interval leaves the ticker idle until SetInterval enables it.
func (r *Reaper) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	r.mu.Lock()
	r.cancel = cancel
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(ctx)
	r.logger.Infow("Reaper started", logger.FieldInterval, r.currentInterval())
}

// Stop halts the ticker and waits for an in-flight sweep
func (r *Reaper) Stop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	r.wg.Wait()
	r.logger.Infow("Reaper stopped")
}

// SetInterval changes the sweep period of a running ticker
func (r *Reaper) SetInterval(d time.Duration) {
	r.mu.Lock()
	changed := r.interval != d
	r.interval = d
	r.mu.Unlock()
	if !changed {
		return
	}
	r.logger.Infow("Reaper interval changed", logger.FieldInterval, d)
	select {
	case r.reset <- struct{}{}:
	default:
	}
}

func (r *Reaper) currentInterval() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.interval
}

func (r *Reaper) run(ctx context.Context) {
	defer r.wg.Done()

	for {
		var tick <-chan time.Time
		var ticker *time.Ticker
		if d := r.currentInterval(); d > 0 {
			ticker = time.NewTicker(d)
			tick = ticker.C
		}

		select {
		case <-ctx.Done():
			if ticker != nil {
				ticker.Stop()
			}
			return
		case <-r.reset:
		case <-tick:
			if _, err := r.CheckHungExecutions(ctx); err != nil {
				r.logger.Warnw("Reaper sweep failed", logger.FieldError, err)
			}
		}
		if ticker != nil {
			ticker.Stop()
		}
	}
}
