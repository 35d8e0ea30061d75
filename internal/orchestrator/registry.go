package orchestrator

import (
	"fmt"
	"sync"

	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

// RunRegistry holds the runs started by one Orchestrator.
// It is safe for concurrent use; callers only ever see copies.
type RunRegistry struct {
	// runs maps run IDs to the live run record.
	runs map[string]*models.Run
	// mu protects runs and everything reachable from it.
	mu sync.RWMutex
}

// NewRunRegistry creates an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{
		runs: make(map[string]*models.Run),
	}
}

// Register adds a run. Registering an ID twice is an error.
func (r *RunRegistry) Register(run *models.Run) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.ID]; ok {
		return fmt.Errorf("run %s already registered", run.ID)
	}
	r.runs[run.ID] = run.Clone()
	return nil
}

// Get returns a copy of the run, or nil if it is not registered.
func (r *RunRegistry) Get(runID string) *models.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.runs[runID].Clone()
}

// Update applies fn to the live run and returns a copy of the result.
// It returns nil if the run is not registered.
func (r *RunRegistry) Update(runID string, fn func(run *models.Run)) *models.Run {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil
	}
	fn(run)
	return run.Clone()
}

// UpdateAgent applies fn to one agent's live state. fn reports whether it
// changed anything. The returned copy is nil when the run or agent is
// unknown or fn made no change.
func (r *RunRegistry) UpdateAgent(runID, agentID string, fn func(a *models.AgentState) bool) *models.AgentState {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil
	}
	agent, ok := run.Agents[agentID]
	if !ok {
		return nil
	}
	if !fn(agent) {
		return nil
	}
	return agent.Clone()
}

// Unregister removes a run.
func (r *RunRegistry) Unregister(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, runID)
}

// All returns copies of every registered run.
func (r *RunRegistry) All() []*models.Run {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]*models.Run, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, run.Clone())
	}
	return runs
}

// Count returns the number of registered runs.
func (r *RunRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.runs)
}
