//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
	"time"
)

// detachAttr configures the child to run detached in its own process
// group on POSIX so that termination can signal the whole tree.
func detachAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// KillPidTree sends SIGTERM to both the process group and the pid, checks
// liveness after 1.2s, and escalates to SIGKILL if still alive. Leaves no
// descendants alive within 2s, per spec.md §8 invariant 6.
func KillPidTree(pid int) error {
	_ = syscall.Kill(-pid, syscall.SIGTERM)
	_ = syscall.Kill(pid, syscall.SIGTERM)

	time.Sleep(1200 * time.Millisecond)

	if processAlive(pid) {
		_ = syscall.Kill(-pid, syscall.SIGKILL)
		_ = syscall.Kill(pid, syscall.SIGKILL)
	}
	return nil
}

func processAlive(pid int) bool {
	return syscall.Kill(pid, 0) == nil
}
