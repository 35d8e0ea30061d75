// Package orchestrator runs one task across several agents in parallel.
//
// Each agent gets its own branch and its own worker process. The
// orchestrator streams the workers' status lines into per-agent state,
// re-emits them on its own output, waits for every worker to exit, tears
// down branches and worktrees, and answers queries about finished runs.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/witchcraftery/jarules-sub000/internal/config"
	"github.com/witchcraftery/jarules-sub000/internal/git"
	"github.com/witchcraftery/jarules-sub000/internal/protocol"
	"github.com/witchcraftery/jarules-sub000/internal/state"
	"github.com/witchcraftery/jarules-sub000/internal/worker"
	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

// lineBufferSize bounds how far the stream readers may run ahead of the dispatcher.
const lineBufferSize = 256

// Orchestrator starts and tracks runs against one repository.
type Orchestrator struct {
	repoPath      string
	git           git.Runner
	workerCommand []string
	env           []string
	configPath    string
	out           *protocol.Emitter
	store         state.Store
	logger        *DebugLogger
	isolation     models.IsolationMode
	worktreeDir   string
	archiveDir    string
	preserve      bool
	newRunID      func() string

	registry *RunRegistry
}

// New creates an Orchestrator for the repository at repoPath.
func New(repoPath string, opts ...Option) (*Orchestrator, error) {
	abs, err := filepath.Abs(repoPath)
	if err != nil {
		return nil, fmt.Errorf("resolve repo path: %w", err)
	}

	o := &orchestratorOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if len(o.workerCommand) == 0 {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("locate worker executable: %w", err)
		}
		o.workerCommand = []string{exe, "worker"}
	}
	if o.output == nil {
		o.output = io.Discard
	}
	if o.logger == nil {
		o.logger = NopLogger()
	}
	if o.gitRunner == nil {
		o.gitRunner = git.NewRunner(abs)
	}
	if o.isolation == "" {
		o.isolation = models.IsolationWorktree
	}
	if !o.isolation.Valid() {
		return nil, fmt.Errorf("unknown isolation mode %q", o.isolation)
	}
	if o.worktreeDir == "" {
		o.worktreeDir = filepath.Join(abs, ".jarules", "worktrees")
	}
	if o.archiveDir == "" {
		o.archiveDir = filepath.Join(os.TempDir(), "jarules_archives")
	}
	preserve := true
	if o.preserveResults != nil {
		preserve = *o.preserveResults
	}
	if o.newRunID == nil {
		o.newRunID = uuid.NewString
	}

	return &Orchestrator{
		repoPath:      abs,
		git:           o.gitRunner,
		workerCommand: o.workerCommand,
		env:           o.env,
		configPath:    o.configPath,
		out:           protocol.NewEmitter(o.output),
		store:         o.store,
		logger:        o.logger,
		isolation:     o.isolation,
		worktreeDir:   o.worktreeDir,
		archiveDir:    o.archiveDir,
		preserve:      preserve,
		newRunID:      o.newRunID,
		registry:      NewRunRegistry(),
	}, nil
}

// RepoPath returns the repository the orchestrator operates on.
func (o *Orchestrator) RepoPath() string {
	return o.repoPath
}

// Registry returns the orchestrator's run registry.
func (o *Orchestrator) Registry() *RunRegistry {
	return o.registry
}

// StartRun runs task on every agent and blocks until all workers have exited
// and cleanup has finished. An empty baseBranch creates agent branches from
// the current HEAD.
//
// Agent failures do not fail the run: the returned run is completed and each
// agent's state tells how it ended. An error is returned only when the run
// could not be set up, in which case no worker was started.
func (o *Orchestrator) StartRun(ctx context.Context, task string, agents []config.AgentConfig, baseBranch string) (*models.Run, error) {
	ids, err := agentIDs(agents)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(task) == "" {
		return nil, errors.New("task prompt is required")
	}

	original, err := o.git.CurrentBranch()
	if err != nil {
		return nil, &RunSetupError{Err: fmt.Errorf("read current branch: %w", err)}
	}
	if original == "HEAD" {
		return nil, &RunSetupError{Err: errors.New("HEAD is detached; check out a branch first")}
	}

	run := o.newRun(task, ids, baseBranch, original)
	if err := o.registry.Register(run); err != nil {
		return nil, &RunSetupError{Err: err}
	}
	o.persistRun(run)
	o.logger.Log("run %s started: %d agent(s), base=%q original=%q isolation=%s", run.ID, len(ids), baseBranch, original, o.isolation)
	o.emit(newRunStarted(run))

	lines := make(chan protocol.Line, lineBufferSize)
	dispatched := make(chan struct{})
	go func() {
		o.dispatch(run.ID, lines)
		close(dispatched)
	}()

	var (
		wg        sync.WaitGroup
		worktrees []string
	)
	for _, id := range ids {
		branch := run.Agents[id].BranchName

		workDir, err := o.prepareWorkspace(run.ID, branch)
		if err != nil {
			o.failAgent(run.ID, id, "workspace setup failed", err)
			continue
		}
		if workDir != o.repoPath {
			worktrees = append(worktrees, workDir)
		}

		proc, err := o.launch(ctx, worker.Params{
			Task:       task,
			BranchName: branch,
			BaseBranch: baseBranch,
			RunID:      run.ID,
			AgentID:    id,
			ProviderID: id,
			RepoPath:   workDir,
		}, lines)
		if err != nil {
			o.failAgent(run.ID, id, "worker launch failed", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			code := proc.wait()
			o.logger.Log("agent %s worker exited with code %d", proc.agentID, code)
			o.registry.Update(run.ID, func(r *models.Run) { r.ExitCodes[proc.agentID] = code })
		}()
	}

	wg.Wait()
	close(lines)
	<-dispatched

	report, refs := o.cleanup(run.ID, original, worktrees)
	final := o.registry.Update(run.ID, func(r *models.Run) {
		r.Status = models.RunStatusCompleted
		r.CompletedAt = time.Now()
		r.Cleanup = report
		r.ResultRefs = refs
	})

	o.persistRun(final)
	o.logger.Log("run %s completed (cleanup complete=%v)", final.ID, report.Complete())
	o.emit(newRunCompleted(final))
	return final, nil
}

func (o *Orchestrator) newRun(task string, ids []string, baseBranch, original string) *models.Run {
	now := time.Now()
	run := &models.Run{
		ID:             o.newRunID(),
		Task:           task,
		BaseBranch:     baseBranch,
		OriginalBranch: original,
		Isolation:      o.isolation,
		Status:         models.RunStatusRunning,
		AgentOrder:     ids,
		Agents:         make(map[string]*models.AgentState, len(ids)),
		ExitCodes:      make(map[string]int, len(ids)),
		PID:            os.Getpid(),
		StartedAt:      now,
	}
	for _, id := range ids {
		run.Agents[id] = &models.AgentState{
			AgentID:        id,
			BranchName:     models.AgentBranchName(id, run.ID),
			Status:         models.AgentQueued,
			KeyFilePaths:   []string{},
			CommittedFiles: []string{},
			UpdatedAt:      now,
		}
	}
	return run
}

// failAgent records an agent whose worker never ran. No worker event will
// ever arrive for it, so the orchestrator writes the terminal state itself.
func (o *Orchestrator) failAgent(runID, agentID, stage string, err error) {
	log.Printf("[orchestrator] agent %s: %s: %v", agentID, stage, err)

	updated := o.registry.UpdateAgent(runID, agentID, func(a *models.AgentState) bool {
		return applyEvent(a, protocol.Error{
			Header:       protocol.Header{RunID: runID, AgentID: agentID, Message: stage},
			ErrorMessage: err.Error(),
		}, time.Now())
	})
	o.registry.Update(runID, func(r *models.Run) { r.ExitCodes[agentID] = -1 })
	if updated != nil {
		o.persistAgent(runID, updated)
	}
}

// agentIDs returns the agent ids in order, rejecting empty and repeated ids.
func agentIDs(agents []config.AgentConfig) ([]string, error) {
	if len(agents) == 0 {
		return nil, ErrNoAgents
	}
	seen := make(map[string]bool, len(agents))
	ids := make([]string, 0, len(agents))
	for _, a := range agents {
		id := strings.TrimSpace(a.ID)
		if id == "" {
			return nil, errors.New("agent id is required")
		}
		if !models.ValidAgentID(id) {
			return nil, fmt.Errorf("%w: %q (use letters, digits, '.', '_' and '-')", ErrInvalidAgentID, id)
		}
		if seen[id] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateAgent, id)
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}

func (o *Orchestrator) emit(v any) {
	if err := o.out.WriteJSON(v); err != nil {
		log.Printf("[orchestrator] failed to write output line: %v", err)
	}
}

func (o *Orchestrator) persistRun(run *models.Run) {
	if o.store == nil || run == nil {
		return
	}
	if err := o.store.SaveRun(run); err != nil {
		log.Printf("[orchestrator] failed to persist run %s: %v", run.ID, err)
	}
}

func (o *Orchestrator) persistAgent(runID string, a *models.AgentState) {
	if o.store == nil {
		return
	}
	if err := o.store.SaveAgentState(runID, a); err != nil {
		log.Printf("[orchestrator] failed to persist agent %s of run %s: %v", a.AgentID, runID, err)
	}
}
