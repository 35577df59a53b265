package runner

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teranos/opsdeck/catalog"
	opstest "github.com/teranos/opsdeck/internal/testing"
	"github.com/teranos/opsdeck/pulse/events"
	"github.com/teranos/opsdeck/pulse/ledger"
)

// recorder keeps every published event in order and forwards it to hub
type recorder struct {
	mu     sync.Mutex
	events []events.Event
	hub    *events.Hub
}

func (r *recorder) Publish(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	r.hub.Publish(ev)
}

func (r *recorder) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]events.Event(nil), r.events...)
}

func (r *recorder) statuses(id int64) []string {
	var out []string
	for _, ev := range r.snapshot() {
		if ev.Type == events.StatusChanged && ev.ExecutionID == id {
			out = append(out, ev.Status)
		}
	}
	return out
}

type notifierFunc func(ctx context.Context, scheduleID int64) error

func (f notifierFunc) OnScheduledRunSuccess(ctx context.Context, scheduleID int64) error {
	return f(ctx, scheduleID)
}

type env struct {
	runner *Runner
	ledger *ledger.Store
	events *recorder
	fx     opstest.Fixtures
}

// writeScript puts a shell script in a temp dir and returns its path.
func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "script.sh")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func setup(t *testing.T, body string, mutate ...func(*Config)) *env {
	t.Helper()
	conn := opstest.CreateTestDB(t)
	fx := opstest.SeedCatalog(t, conn, writeScript(t, body))

	cfg := Config{
		Interpreter:    "/bin/sh",
		CancelGrace:    2 * time.Second,
		FlushThreshold: 1000,
		FlushInterval:  50 * time.Millisecond,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	store := ledger.NewStore(conn)
	rec := &recorder{hub: events.NewHub()}
	r := New(cfg, Dependencies{
		Ledger:   store,
		Scripts:  catalog.NewScriptStore(conn),
		Profiles: catalog.NewProfileStore(conn),
		Events:   rec,
	})
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		r.Shutdown(ctx)
		rec.hub.Close()
	})
	return &env{runner: r, ledger: store, events: rec, fx: fx}
}

func (e *env) start(t *testing.T, req Request) int64 {
	t.Helper()
	req.ScriptID = e.fx.ScriptID
	req.ProfileID = e.fx.ProfileID
	req.UserID = e.fx.UserID
	id, err := e.runner.Start(context.Background(), req)
	require.NoError(t, err)
	return id
}

// finish waits for the worker and returns the stored row
func (e *env) finish(t *testing.T, id int64) *ledger.Execution {
	t.Helper()
	done := make(chan struct{})
	go func() {
		e.runner.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(15 * time.Second):
		t.Fatalf("execution %d did not finish", id)
	}
	got, err := e.ledger.Get(context.Background(), id)
	require.NoError(t, err)
	return got
}

func (e *env) waitRunning(t *testing.T, id int64) {
	t.Helper()
	require.Eventually(t, func() bool {
		for _, running := range e.runner.Running() {
			if running == id {
				return true
			}
		}
		return false
	}, 5*time.Second, 10*time.Millisecond)
}
