package models

// CleanupReport records what run cleanup did. Cleanup never fails a run; the
// report is how callers learn whether it was complete.
type CleanupReport struct {
	// SwitchedBack is true when the main checkout is no longer on an agent
	// branch of the run, whether or not cleanup had to switch it.
	SwitchedBack bool   `json:"switchedBack"`
	SwitchError  string `json:"switchError,omitempty"`
	// DeletedBranches lists agent branches removed.
	DeletedBranches []string `json:"deletedBranches"`
	// FailedBranches maps branch name to the reason it could not be deleted.
	FailedBranches map[string]string `json:"failedBranches,omitempty"`
	// RemovedWorktrees lists agent worktree paths removed.
	RemovedWorktrees []string `json:"removedWorktrees,omitempty"`
	// FailedWorktrees maps worktree path to the reason it could not be removed.
	FailedWorktrees map[string]string `json:"failedWorktrees,omitempty"`
	// PreservedRefs lists refs pinning agent results after branch deletion.
	PreservedRefs []string `json:"preservedRefs,omitempty"`
}

// Complete reports whether every cleanup step succeeded.
func (c *CleanupReport) Complete() bool {
	return c.SwitchedBack && len(c.FailedBranches) == 0 && len(c.FailedWorktrees) == 0
}

// Clone returns a deep copy.
func (c *CleanupReport) Clone() *CleanupReport {
	if c == nil {
		return nil
	}
	out := *c
	out.DeletedBranches = append([]string{}, c.DeletedBranches...)
	out.RemovedWorktrees = append([]string(nil), c.RemovedWorktrees...)
	out.PreservedRefs = append([]string(nil), c.PreservedRefs...)
	out.FailedBranches = cloneStrings(c.FailedBranches)
	out.FailedWorktrees = cloneStrings(c.FailedWorktrees)
	return &out
}

func cloneStrings(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
