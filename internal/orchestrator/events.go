package orchestrator

import (
	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

// Overall statuses written on the orchestrator output stream.
const (
	OverallStarted   = "started"
	OverallCompleted = "completed"
	// OverallNotFound is reported by GetRunStatus for unknown runs.
	OverallNotFound = "not_found"
)

// RunStarted is the first line written for a run, before any worker starts.
type RunStarted struct {
	RunID          string               `json:"runId"`
	OverallStatus  string               `json:"overallStatus"`
	Task           string               `json:"task"`
	BaseBranch     string               `json:"baseBranch,omitempty"`
	OriginalBranch string               `json:"originalBranch"`
	Isolation      models.IsolationMode `json:"isolation"`
	AgentIDs       []string             `json:"agentIds"`
}

// RunCompleted is the last line written for a run. It is written whatever
// the individual agents' outcomes were.
type RunCompleted struct {
	RunID         string                        `json:"runId"`
	OverallStatus string                        `json:"overallStatus"`
	Agents        map[string]*models.AgentState `json:"agents"`
	ExitCodes     map[string]int                `json:"exitCodes"`
	ResultRefs    map[string]string             `json:"resultRefs,omitempty"`
	Cleanup       *models.CleanupReport         `json:"cleanup"`
}

func newRunStarted(run *models.Run) RunStarted {
	return RunStarted{
		RunID:          run.ID,
		OverallStatus:  OverallStarted,
		Task:           run.Task,
		BaseBranch:     run.BaseBranch,
		OriginalBranch: run.OriginalBranch,
		Isolation:      run.Isolation,
		AgentIDs:       append([]string{}, run.AgentOrder...),
	}
}

func newRunCompleted(run *models.Run) RunCompleted {
	exitCodes := run.ExitCodes
	if exitCodes == nil {
		exitCodes = map[string]int{}
	}
	return RunCompleted{
		RunID:         run.ID,
		OverallStatus: OverallCompleted,
		Agents:        run.Agents,
		ExitCodes:     exitCodes,
		ResultRefs:    run.ResultRefs,
		Cleanup:       run.Cleanup,
	}
}

// RunStatusReport is the answer to GetRunStatus. Run is nil exactly when
// OverallStatus is OverallNotFound.
type RunStatusReport struct {
	RunID         string      `json:"runId"`
	OverallStatus string      `json:"overallStatus"`
	Run           *models.Run `json:"run,omitempty"`
}

// Found reports whether the run was known.
func (r RunStatusReport) Found() bool {
	return r.Run != nil
}
