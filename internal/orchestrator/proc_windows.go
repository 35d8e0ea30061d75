//go:build windows

package orchestrator

import "os/exec"

func configureWorkerProcess(cmd *exec.Cmd) {}
