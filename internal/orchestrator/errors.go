package orchestrator

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateAgent is returned by StartRun when two agents share an id.
	ErrDuplicateAgent = errors.New("duplicate agent id")
	// ErrInvalidAgentID is returned by StartRun for ids that cannot name a
	// branch: slashes, spaces, "..", leading punctuation.
	ErrInvalidAgentID = errors.New("invalid agent id")
	// ErrNoAgents is returned by StartRun when no agents are given.
	ErrNoAgents = errors.New("no agents selected")
	// ErrRunNotFound is returned when a run id is unknown to both the
	// registry and the store.
	ErrRunNotFound = errors.New("run not found")
	// ErrAgentNotFound is returned when a run has no agent with the given id.
	ErrAgentNotFound = errors.New("agent not found in run")
	// ErrNoResult is returned when neither the agent branch nor its pinned
	// ref can be resolved.
	ErrNoResult = errors.New("agent result no longer available")
)

// RunSetupError reports a failure before any worker was spawned.
type RunSetupError struct {
	Err error
}

func (e *RunSetupError) Error() string {
	return fmt.Sprintf("run setup failed: %v", e.Err)
}

func (e *RunSetupError) Unwrap() error {
	return e.Err
}
