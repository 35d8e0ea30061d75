package state

import (
	"fmt"
	"os"
	"syscall"

	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

// ListInterrupted returns runs still marked running whose supervising
// process is gone. Their branches and worktrees were never cleaned up.
func (db *DB) ListInterrupted() ([]*models.Run, error) {
	runs, err := db.ListRuns(0)
	if err != nil {
		return nil, fmt.Errorf("list interrupted runs: %w", err)
	}

	var out []*models.Run
	for _, run := range runs {
		if run.Status == models.RunStatusRunning && !isProcessAlive(run.PID) {
			out = append(out, run)
		}
	}
	return out, nil
}

// isProcessAlive checks if a process with the given PID is still running.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	// Signal 0 checks existence without delivering anything.
	return process.Signal(syscall.Signal(0)) == nil
}
