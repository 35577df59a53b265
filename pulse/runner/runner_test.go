package runner

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/opsdeck/errors"
	"github.com/teranos/opsdeck/internal/util"
	"github.com/teranos/opsdeck/pulse/events"
	"github.com/teranos/opsdeck/pulse/ledger"
)

func TestRun_Success(t *testing.T) {
	e := setup(t, "echo hello\necho world\n")

	id := e.start(t, Request{})
	got := e.finish(t, id)

	assert.Equal(t, ledger.StatusSuccess, got.Status)
	assert.Equal(t, BannerStarting+"hello\nworld\n"+BannerCompletedOK, got.Output)
	require.NotNil(t, got.EndTime)
	assert.False(t, got.EndTime.Before(*got.StartTime))
	assert.Empty(t, e.runner.Running())

	assert.Equal(t, []string{"Running", "Success"}, e.events.statuses(id))
}

func TestRun_StreamsLinesAsEvents(t *testing.T) {
	e := setup(t, "echo one\necho two\n")

	id := e.start(t, Request{})
	e.finish(t, id)

	var lines []string
	for _, ev := range e.events.snapshot() {
		if ev.Type == events.OutputAppended && ev.ExecutionID == id {
			lines = append(lines, ev.Output)
		}
	}
	assert.Equal(t, []string{BannerStarting, "one\n", "two\n", BannerCompletedOK}, lines)
}

func TestRun_NonZeroExit(t *testing.T) {
	e := setup(t, "echo oops\nexit 2\n")

	got := e.finish(t, e.start(t, Request{}))

	assert.Equal(t, ledger.StatusFailed, got.Status)
	assert.Contains(t, got.Output, "oops\n")
	assert.True(t, strings.HasSuffix(got.Output, BannerExitCode(2)))
	assert.Contains(t, got.Output, "return code 2")
}

func TestRun_StderrIsMerged(t *testing.T) {
	e := setup(t, "echo out\necho err 1>&2\n")

	got := e.finish(t, e.start(t, Request{}))

	assert.Equal(t, ledger.StatusSuccess, got.Status)
	assert.Contains(t, got.Output, "out\n")
	assert.Contains(t, got.Output, "err\n")
}

func TestRun_ParametersBecomeFlags(t *testing.T) {
	e := setup(t, `echo "args: $*"`+"\n")

	got := e.finish(t, e.start(t, Request{Parameters: map[string]interface{}{
		"verbose": true,
		"bucket":  "logs",
		"dry_run": false,
		"limit":   float64(5),
	}}))

	assert.Contains(t, got.Output, "args: --bucket logs --limit 5 --verbose\n")
}

func TestRun_ProfileCredentialsInEnvironment(t *testing.T) {
	e := setup(t, `echo "$AWS_ACCESS_KEY_ID $AWS_SECRET_ACCESS_KEY $AWS_DEFAULT_REGION $AWS_REGION"`+"\n")

	got := e.finish(t, e.start(t, Request{}))
	assert.Contains(t, got.Output, "AKIAdev secret-dev eu-west-1 eu-west-1\n")

	got = e.finish(t, e.start(t, Request{RegionOverride: "us-west-2"}))
	assert.Contains(t, got.Output, "AKIAdev secret-dev us-west-2 us-west-2\n")
}

func TestRun_InputIsEchoedAndOrdered(t *testing.T) {
	e := setup(t, "read a\necho \"got $a\"\nread b\necho \"got $b\"\n")

	id := e.start(t, Request{})
	require.NoError(t, e.runner.ProvideInput(id, "A"))
	require.NoError(t, e.runner.ProvideInput(id, "B\n"))

	got := e.finish(t, id)
	require.Equal(t, ledger.StatusSuccess, got.Status, got.Output)

	echoA := strings.Index(got.Output, InputEchoPrefix+"A\n")
	echoB := strings.Index(got.Output, InputEchoPrefix+"B\n")
	gotA := strings.Index(got.Output, "got A\n")
	gotB := strings.Index(got.Output, "got B\n")

	require.NotEqual(t, -1, echoA)
	require.NotEqual(t, -1, echoB)
	require.NotEqual(t, -1, gotA)
	require.NotEqual(t, -1, gotB)
	assert.Less(t, echoA, echoB)
	assert.Less(t, echoA, gotA)
	assert.Less(t, echoB, gotB)
	assert.Less(t, gotA, gotB)
}

func TestProvideInput_NoActiveExecution(t *testing.T) {
	e := setup(t, "true\n")

	err := e.runner.ProvideInput(999, "x")
	assert.True(t, errors.IsPreconditionFailedError(err))

	id := e.start(t, Request{})
	e.finish(t, id)
	assert.True(t, errors.IsPreconditionFailedError(e.runner.ProvideInput(id, "late")))
}

func TestProvideInput_RefusedOnceOutputIsClosed(t *testing.T) {
	// the script closes its output but keeps running
	e := setup(t, "echo bye\nexec 1>&- 2>&-\nsleep 30\n")

	id := e.start(t, Request{})
	e.waitRunning(t, id)
	require.Eventually(t, func() bool {
		return errors.IsPreconditionFailedError(e.runner.ProvideInput(id, "late"))
	}, 5*time.Second, 10*time.Millisecond)
	assert.Contains(t, e.runner.Running(), id, "the process is still alive")

	require.NoError(t, e.runner.Cancel(context.Background(), id))
	got := e.finish(t, id)
	assert.Equal(t, ledger.StatusCancelled, got.Status)
}

func TestCancel_RunningRowWithoutProcess(t *testing.T) {
	e := setup(t, "true\n")
	ctx := context.Background()

	// a Running row whose process is gone, as after a crash or a lost worker
	row, err := e.ledger.Create(ctx, ledger.NewExecution{
		ScriptID:  e.fx.ScriptID,
		ProfileID: e.fx.ProfileID,
		UserID:    e.fx.UserID,
	})
	require.NoError(t, err)
	require.NoError(t, e.ledger.MarkRunning(ctx, row.ID, BannerStarting))
	assert.False(t, e.runner.Terminate(ctx, row.ID))

	require.NoError(t, e.runner.Cancel(ctx, row.ID))

	got, err := e.ledger.Get(ctx, row.ID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StatusCancelled, got.Status)
	require.NotNil(t, got.EndTime)
	assert.Contains(t, got.Output, BannerCancelRequested)
	assert.NotContains(t, got.Output, BannerProcessTerminated)
	assert.Equal(t, []string{"Cancelled"}, e.events.statuses(row.ID))

	err = e.runner.Cancel(ctx, row.ID)
	assert.True(t, errors.IsPreconditionFailedError(err), "second cancel is refused")
}

// An observer that cannot keep up is cut off rather than skipped past: it
// sees an unbroken prefix of the transcript, and the ledger holds the rest.
func TestRun_SlowObserverSeesPrefixOrEverything(t *testing.T) {
	e := setup(t, "i=0\nwhile [ $i -lt 2000 ]; do echo \"line $i\"; i=$((i+1)); done\n")
	sub := e.events.hub.Subscribe()

	type result struct {
		output   strings.Builder
		terminal bool
	}
	res := &result{}
	seen := make(chan struct{})
	go func() {
		defer close(seen)
		for ev := range sub {
			switch ev.Type {
			case events.OutputAppended:
				res.output.WriteString(ev.Output)
			case events.StatusChanged:
				if ledger.Status(ev.Status).IsTerminal() {
					res.terminal = true
					return
				}
			}
			time.Sleep(200 * time.Microsecond)
		}
	}()

	id := e.start(t, Request{})
	got := e.finish(t, id)
	require.Equal(t, ledger.StatusSuccess, got.Status)
	assert.Equal(t, 2000, strings.Count(got.Output, "line "))

	select {
	case <-seen:
	case <-time.After(10 * time.Second):
		t.Fatal("observer neither finished nor was disconnected")
	}

	if res.terminal {
		assert.Equal(t, got.Output, res.output.String())
		assert.Zero(t, e.events.hub.Evicted())
		e.events.hub.Unsubscribe(sub)
		return
	}
	assert.Equal(t, uint64(1), e.events.hub.Evicted())
	assert.True(t, strings.HasPrefix(got.Output, res.output.String()), "observer saw a gap")
}

func TestCancel_RunningExecution(t *testing.T) {
	e := setup(t, "echo started\nsleep 30\n")

	id := e.start(t, Request{})
	e.waitRunning(t, id)

	began := time.Now()
	require.NoError(t, e.runner.Cancel(context.Background(), id))

	got := e.finish(t, id)
	assert.Less(t, time.Since(began), 10*time.Second)
	assert.Equal(t, ledger.StatusCancelled, got.Status)
	require.NotNil(t, got.EndTime)
	assert.Contains(t, got.Output, BannerCancelRequested)
	assert.Contains(t, got.Output, BannerTerminatedByUser)
	assert.NotContains(t, got.Output, "return code")

	statuses := e.events.statuses(id)
	require.NotEmpty(t, statuses)
	assert.Equal(t, "Cancelled", statuses[len(statuses)-1])
}

func TestCancel_KillsGrandchildren(t *testing.T) {
	e := setup(t, "sleep 30 &\nsleep 30\n")

	id := e.start(t, Request{})
	e.waitRunning(t, id)
	require.NoError(t, e.runner.Cancel(context.Background(), id))

	got := e.finish(t, id)
	assert.Equal(t, ledger.StatusCancelled, got.Status)
}

func TestCancel_StubbornProcessIsKilledAfterGrace(t *testing.T) {
	e := setup(t, "trap '' TERM\necho ready\nwhile true; do sleep 0.1; done\n",
		func(c *Config) { c.CancelGrace = 200 * time.Millisecond })

	id := e.start(t, Request{})
	e.waitRunning(t, id)
	require.Eventually(t, func() bool {
		got, err := e.ledger.Get(context.Background(), id)
		return err == nil && strings.Contains(got.Output, "ready")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, e.runner.Cancel(context.Background(), id))
	got := e.finish(t, id)
	assert.Equal(t, ledger.StatusCancelled, got.Status)
	assert.Contains(t, got.Output, BannerProcessTerminated)
}

func TestCancel_NotRunning(t *testing.T) {
	e := setup(t, "true\n")

	err := e.runner.Cancel(context.Background(), 12345)
	assert.True(t, errors.IsNotFoundError(err))

	id := e.start(t, Request{})
	got := e.finish(t, id)
	require.Equal(t, ledger.StatusSuccess, got.Status)

	err = e.runner.Cancel(context.Background(), id)
	assert.True(t, errors.IsPreconditionFailedError(err))

	after, err := e.ledger.Get(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, got.Output, after.Output, "a refused cancel leaves the row untouched")
}

func TestRun_KilledBySignal(t *testing.T) {
	e := setup(t, "kill -9 $$\n")

	got := e.finish(t, e.start(t, Request{}))

	assert.Equal(t, ledger.StatusFailed, got.Status)
	assert.Contains(t, got.Output, BannerSignal(9))
}

func TestRun_SpawnFailure(t *testing.T) {
	e := setup(t, "true\n", func(c *Config) { c.Interpreter = "/nonexistent/interpreter" })

	id := e.start(t, Request{})
	got := e.finish(t, id)

	assert.Equal(t, ledger.StatusFailed, got.Status)
	assert.Contains(t, got.Output, "[SYSTEM] Error running script")
	require.NotNil(t, got.EndTime)
	assert.Equal(t, "Failed", e.events.statuses(id)[len(e.events.statuses(id))-1])
}

func TestRun_BatchingDoesNotChangeOutput(t *testing.T) {
	var want strings.Builder
	for i := 1; i <= 300; i++ {
		fmt.Fprintf(&want, "%d\n", i)
	}

	for _, threshold := range []int{1, 10, 100000} {
		t.Run(fmt.Sprintf("threshold=%d", threshold), func(t *testing.T) {
			e := setup(t, "i=1\nwhile [ $i -le 300 ]; do echo $i; i=$((i+1)); done\n",
				func(c *Config) {
					c.FlushThreshold = threshold
					c.FlushInterval = time.Hour
				})

			got := e.finish(t, e.start(t, Request{}))
			assert.Equal(t, BannerStarting+want.String()+BannerCompletedOK, got.Output)
		})
	}
}

func TestRun_IntervalFlushMakesOutputVisibleWhileRunning(t *testing.T) {
	e := setup(t, "echo early\nsleep 30\n", func(c *Config) {
		c.FlushThreshold = 100000
		c.FlushInterval = 50 * time.Millisecond
	})

	id := e.start(t, Request{})
	require.Eventually(t, func() bool {
		got, err := e.ledger.Get(context.Background(), id)
		return err == nil && strings.Contains(got.Output, "early\n")
	}, 5*time.Second, 20*time.Millisecond)

	require.NoError(t, e.runner.Cancel(context.Background(), id))
	e.finish(t, id)
}

func TestStart_UnknownScriptOrProfile(t *testing.T) {
	e := setup(t, "true\n")
	ctx := context.Background()

	_, err := e.runner.Start(ctx, Request{ScriptID: 999, ProfileID: e.fx.ProfileID})
	assert.True(t, errors.IsNotFoundError(err))

	_, err = e.runner.Start(ctx, Request{ScriptID: e.fx.ScriptID, ProfileID: 999})
	assert.True(t, errors.IsNotFoundError(err))

	recent, err := e.ledger.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, recent, "no row is written for a rejected request")
}

func TestRun_ScheduledSuccessNotifiesScheduler(t *testing.T) {
	e := setup(t, "true\n")

	var notified atomic.Int64
	e.runner.SetScheduleNotifier(notifierFunc(func(_ context.Context, scheduleID int64) error {
		notified.Store(scheduleID)
		return nil
	}))

	id := e.start(t, Request{ScheduleID: util.Ptr(int64(7))})
	got := e.finish(t, id)

	assert.True(t, got.IsScheduled)
	assert.Equal(t, int64(7), notified.Load())
}

func TestRun_ScheduledFailureDoesNotNotify(t *testing.T) {
	e := setup(t, "exit 1\n")

	var calls atomic.Int32
	e.runner.SetScheduleNotifier(notifierFunc(func(context.Context, int64) error {
		calls.Add(1)
		return nil
	}))

	e.finish(t, e.start(t, Request{ScheduleID: util.Ptr(int64(7))}))
	assert.Zero(t, calls.Load())
}

func TestTerminate_NoProcess(t *testing.T) {
	e := setup(t, "true\n")
	assert.False(t, e.runner.Terminate(context.Background(), 42))
}

func TestTerminate_LeavesLedgerToWorker(t *testing.T) {
	e := setup(t, "sleep 30\n")

	id := e.start(t, Request{})
	e.waitRunning(t, id)
	assert.True(t, e.runner.Terminate(context.Background(), id))

	got := e.finish(t, id)
	assert.Equal(t, ledger.StatusFailed, got.Status, "an unrequested kill is a failure")
	assert.Contains(t, got.Output, BannerSignal(15))
}
