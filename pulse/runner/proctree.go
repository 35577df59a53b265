package runner

import (
	"context"
	"time"

	"github.com/shirou/gopsutil/v3/process"
)

const pollInterval = 50 * time.Millisecond

// terminateTree sends SIGTERM to pid, its process group and every descendant,
// waits up to grace for them to exit, then SIGKILLs the survivors.
// A process that is already gone is not an error. It reports whether
// anything was still alive to signal.
func terminateTree(ctx context.Context, pid int, grace time.Duration) bool {
	root, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		// Already reaped; stray group members may still be around
		signalGroup(pid, false)
		return false
	}

	procs := append(descendants(ctx, root), root)

	for _, p := range procs {
		p.TerminateWithContext(ctx)
	}
	signalGroup(pid, false)

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if len(alive(ctx, procs)) == 0 {
			return true
		}
		select {
		case <-ctx.Done():
			deadline = time.Now()
		case <-time.After(pollInterval):
		}
	}

	for _, p := range alive(ctx, procs) {
		p.KillWithContext(ctx)
	}
	signalGroup(pid, true)
	return true
}

// descendants walks the process tree below root, deepest first.
func descendants(ctx context.Context, root *process.Process) []*process.Process {
	children, err := root.ChildrenWithContext(ctx)
	if err != nil {
		return nil
	}
	var out []*process.Process
	for _, child := range children {
		out = append(out, descendants(ctx, child)...)
		out = append(out, child)
	}
	return out
}

// alive filters procs down to those still running. Zombies count as exited.
func alive(ctx context.Context, procs []*process.Process) []*process.Process {
	var out []*process.Process
	for _, p := range procs {
		running, err := p.IsRunningWithContext(ctx)
		if err != nil || !running {
			continue
		}
		if isZombie(ctx, p) {
			continue
		}
		out = append(out, p)
	}
	return out
}

func isZombie(ctx context.Context, p *process.Process) bool {
	status, err := p.StatusWithContext(ctx)
	if err != nil {
		return false
	}
	for _, s := range status {
		if s == process.Zombie {
			return true
		}
	}
	return false
}
