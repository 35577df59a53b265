//go:build windows

package runner

import (
	"os/exec"
	"syscall"
)

func isolate(cmd *exec.Cmd) {}

func signalGroup(pid int, kill bool) {}

func exitSignal(state syscall.WaitStatus) int {
	return 0
}
