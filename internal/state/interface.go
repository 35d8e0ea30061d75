package state

import (
	"io"

	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

// RunStore handles run persistence.
type RunStore interface {
	// SaveRun upserts the run row and every agent state it carries.
	SaveRun(run *models.Run) error
	// SaveAgentState upserts one agent's state within a run.
	SaveAgentState(runID string, agent *models.AgentState) error
	// GetRun returns the run, or nil with no error when it does not exist.
	GetRun(id string) (*models.Run, error)
	// ListRuns returns the most recent runs first, up to limit (0 for all).
	ListRuns(limit int) ([]*models.Run, error)
	DeleteRun(id string) error
	// ListInterrupted returns running runs whose supervising process is gone.
	ListInterrupted() ([]*models.Run, error)
}

// Migrator handles database schema migrations.
type Migrator interface {
	// Migrate applies all pending schema migrations.
	Migrate() error
}

// Store is the persistence backend used by the orchestrator.
type Store interface {
	io.Closer
	Migrator
	RunStore
}

// Compile-time verification that DB implements all interfaces.
var (
	_ Store    = (*DB)(nil)
	_ Migrator = (*DB)(nil)
	_ RunStore = (*DB)(nil)
)
