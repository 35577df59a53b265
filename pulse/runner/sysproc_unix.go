//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// isolate puts the child in its own process group so the whole tree can be signalled.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(pid int, kill bool) {
	sig := syscall.SIGTERM
	if kill {
		sig = syscall.SIGKILL
	}
	syscall.Kill(-pid, sig)
}

// exitSignal returns the signal that killed the process, or 0.
func exitSignal(state syscall.WaitStatus) int {
	if state.Signaled() {
		return int(state.Signal())
	}
	return 0
}
