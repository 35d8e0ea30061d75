package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// RunStatus represents the run-level state of an orchestrated task.
type RunStatus string

const (
	// RunStatusRunning indicates workers have been launched.
	RunStatusRunning RunStatus = "running"
	// RunStatusCompleted indicates every worker exited and cleanup ran.
	// Individual agents may still have ended in error.
	RunStatusCompleted RunStatus = "completed"
)

// IsolationMode selects how agents share the repository checkout.
type IsolationMode string

const (
	// IsolationWorktree gives every agent its own git worktree.
	IsolationWorktree IsolationMode = "worktree"
	// IsolationShared runs every agent against the caller's checkout.
	IsolationShared IsolationMode = "shared"
)

// Valid returns true if the mode is a known value.
func (m IsolationMode) Valid() bool {
	return m == IsolationWorktree || m == IsolationShared
}

// Run is one task processed in parallel by several agents.
type Run struct {
	// ID is the opaque unique run token.
	ID string `json:"runId"`
	// Task is the prompt every agent receives.
	Task string `json:"task"`
	// BaseBranch is the branch agent branches are created from.
	BaseBranch string `json:"baseBranch"`
	// OriginalBranch is the branch checked out when the run started.
	OriginalBranch string `json:"originalBranch"`
	// Isolation records how workspaces were laid out.
	Isolation IsolationMode `json:"isolation"`
	// Status is the run-level state.
	Status RunStatus `json:"overallStatus"`
	// AgentOrder lists agent ids in the order they were given.
	AgentOrder []string `json:"agentOrder"`
	// Agents maps agent id to its last known state.
	Agents map[string]*AgentState `json:"agents"`
	// ExitCodes maps agent id to its worker's process exit status.
	ExitCodes map[string]int `json:"exitCodes,omitempty"`
	// ResultRefs maps agent id to the non-branch ref pinning its branch tip,
	// so results stay readable after the branch is deleted.
	ResultRefs map[string]string `json:"resultRefs,omitempty"`
	// Cleanup is set once the run's workspaces have been torn down.
	Cleanup *CleanupReport `json:"cleanup,omitempty"`
	// PID is the supervising process, used to detect interrupted runs.
	PID         int       `json:"pid,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	CompletedAt time.Time `json:"completedAt,omitempty"`
}

// Clone returns a deep copy safe to hand to callers.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.AgentOrder = append([]string(nil), r.AgentOrder...)
	c.Agents = make(map[string]*AgentState, len(r.Agents))
	for id, a := range r.Agents {
		c.Agents[id] = a.Clone()
	}
	if r.ExitCodes != nil {
		c.ExitCodes = make(map[string]int, len(r.ExitCodes))
		for id, code := range r.ExitCodes {
			c.ExitCodes[id] = code
		}
	}
	c.ResultRefs = cloneStrings(r.ResultRefs)
	c.Cleanup = r.Cleanup.Clone()
	return &c
}

// ShortRunID returns the run id prefix used in branch names.
func ShortRunID(runID string) string {
	if len(runID) <= 8 {
		return runID
	}
	return runID[:8]
}

var agentIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidAgentID reports whether id can be embedded in a branch name, a ref
// and an archive file name. Slashes are refused: git would nest the branch
// where the run's branch pattern cannot see it.
func ValidAgentID(id string) bool {
	return agentIDPattern.MatchString(id) && !strings.Contains(id, "..") && !strings.HasSuffix(id, ".lock")
}

// AgentBranchName returns the deterministic branch for an agent within a run.
func AgentBranchName(agentID, runID string) string {
	return fmt.Sprintf("agent-%s-%s", agentID, ShortRunID(runID))
}

// AgentBranchPattern matches every agent branch of a run.
func AgentBranchPattern(runID string) string {
	return fmt.Sprintf("agent-*-%s", ShortRunID(runID))
}
