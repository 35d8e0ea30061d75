package orchestrator

import (
	"log"
	"time"

	"github.com/witchcraftery/jarules-sub000/internal/protocol"
	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

// dispatch consumes lines from every worker of a run until lines is closed.
// It is the only writer of the run's agent states.
func (o *Orchestrator) dispatch(runID string, lines <-chan protocol.Line) {
	for line := range lines {
		o.handleLine(runID, line)
	}
}

func (o *Orchestrator) handleLine(runID string, line protocol.Line) {
	if line.Err != nil {
		// Workers log diagnostics to stderr; only stdout is reserved for status lines.
		if line.Stream == protocol.Stdout {
			log.Printf("[orchestrator] protocol warning from agent %s: %v", line.AgentID, line.Err)
		}
		o.logger.Log("[%s/%s] %s", line.AgentID, line.Stream, line.Raw)
		return
	}

	h := line.Event.Head()
	if h.RunID != runID || h.AgentID != line.AgentID {
		log.Printf("[orchestrator] dropping %s event for run %s agent %s read from agent %s",
			line.Event.Status(), h.RunID, h.AgentID, line.AgentID)
		return
	}

	updated := o.registry.UpdateAgent(runID, line.AgentID, func(a *models.AgentState) bool {
		return applyEvent(a, line.Event, time.Now())
	})
	if updated == nil {
		o.logger.Log("ignoring %s event from agent %s: already %s", line.Event.Status(), line.AgentID, o.agentStatus(runID, line.AgentID))
		return
	}

	o.logger.Log("agent %s -> %s: %s", updated.AgentID, updated.Status, updated.Message)
	o.persistAgent(runID, updated)
	o.emit(protocol.NewAgentUpdate(line.Event))
}

func (o *Orchestrator) agentStatus(runID, agentID string) models.AgentRunStatus {
	run := o.registry.Get(runID)
	if run == nil || run.Agents[agentID] == nil {
		return ""
	}
	return run.Agents[agentID].Status
}

// applyEvent folds a worker event into the agent's state. It returns false,
// leaving a untouched, once the agent has reached a terminal status.
func applyEvent(a *models.AgentState, ev protocol.Event, now time.Time) bool {
	if a.Status.Terminal() {
		return false
	}

	a.Message = ev.Head().Message
	a.UpdatedAt = now

	switch e := ev.(type) {
	case protocol.Starting:
		a.Status = models.AgentStarting
	case protocol.Processing:
		a.Status = models.AgentProcessing
	case protocol.Completed:
		a.Status = models.AgentCompleted
		a.ResultSummary = e.ResultSummary
		a.KeyFilePaths = append([]string{}, e.KeyFilePaths...)
		a.CommittedFiles = append([]string{}, e.CommittedFiles...)
	case protocol.Error:
		a.Status = models.AgentError
		a.ErrorMessage = e.ErrorMessage
		a.ErrorDetails = e.ErrorDetails
	}
	return true
}
