package models

import "time"

// AgentRunStatus represents the progress of one agent within a run.
type AgentRunStatus string

const (
	// AgentQueued indicates the worker has not reported yet.
	AgentQueued AgentRunStatus = "queued"
	// AgentStarting indicates the worker validated its invocation.
	AgentStarting AgentRunStatus = "starting"
	// AgentProcessing indicates the worker is delegating to its provider.
	AgentProcessing AgentRunStatus = "processing"
	// AgentCompleted indicates the worker finished and committed its work.
	AgentCompleted AgentRunStatus = "completed"
	// AgentError indicates the worker reported a failure.
	AgentError AgentRunStatus = "error"
)

// Valid returns true if the status is a known value.
func (s AgentRunStatus) Valid() bool {
	switch s {
	case AgentQueued, AgentStarting, AgentProcessing, AgentCompleted, AgentError:
		return true
	default:
		return false
	}
}

// Terminal reports whether the status can no longer change.
func (s AgentRunStatus) Terminal() bool {
	return s == AgentCompleted || s == AgentError
}

// AgentState is the orchestrator's record of one agent's progress.
type AgentState struct {
	AgentID        string         `json:"agentId"`
	BranchName     string         `json:"branchName"`
	Status         AgentRunStatus `json:"status"`
	Message        string         `json:"message,omitempty"`
	ResultSummary  string         `json:"resultSummary,omitempty"`
	KeyFilePaths   []string       `json:"keyFilePaths"`
	CommittedFiles []string       `json:"committedFiles"`
	ErrorMessage   string         `json:"errorMessage,omitempty"`
	ErrorDetails   string         `json:"errorDetails,omitempty"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// Clone returns a deep copy.
func (a *AgentState) Clone() *AgentState {
	if a == nil {
		return nil
	}
	c := *a
	c.KeyFilePaths = append([]string{}, a.KeyFilePaths...)
	c.CommittedFiles = append([]string{}, a.CommittedFiles...)
	return &c
}
