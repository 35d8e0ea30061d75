//go:build !windows

package orchestrator

import (
	"os/exec"
	"syscall"
)

// configureWorkerProcess puts the worker in its own process group so that
// cancelling a run also stops anything the worker spawned.
func configureWorkerProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		pgid, err := syscall.Getpgid(cmd.Process.Pid)
		if err != nil || pgid <= 0 {
			return cmd.Process.Kill()
		}
		return syscall.Kill(-pgid, syscall.SIGTERM)
	}
}
