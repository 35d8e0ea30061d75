package orchestrator

import (
	"errors"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

// AgentOutputs is the answer to GetAgentOutputs. Success is true only for an
// agent whose last status is completed; otherwise Error says why and the
// result fields are empty.
type AgentOutputs struct {
	Success        bool                  `json:"success"`
	RunID          string                `json:"runId"`
	AgentID        string                `json:"agentId"`
	BranchName     string                `json:"branchName,omitempty"`
	Status         models.AgentRunStatus `json:"status,omitempty"`
	ResultSummary  string                `json:"resultSummary,omitempty"`
	KeyFilePaths   []string              `json:"keyFilePaths"`
	CommittedFiles []string              `json:"committedFiles"`
	ResultRef      string                `json:"resultRef,omitempty"`
	Error          string                `json:"error,omitempty"`
}

// FileContent is the answer to GetFileContent.
type FileContent struct {
	Success bool   `json:"success"`
	RunID   string `json:"runId"`
	AgentID string `json:"agentId"`
	Path    string `json:"path"`
	// Ref is the branch or pinned ref the file was read from.
	Ref     string `json:"ref,omitempty"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Archive describes a zip written by CreateZipArchive.
type Archive struct {
	Path     string `json:"path"`
	Filename string `json:"filename"`
}

// lookupRun finds a run in the registry, then in the store.
func (o *Orchestrator) lookupRun(runID string) (*models.Run, error) {
	if run := o.registry.Get(runID); run != nil {
		return run, nil
	}
	if o.store != nil {
		run, err := o.store.GetRun(runID)
		if err != nil {
			return nil, err
		}
		if run != nil {
			return run, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrRunNotFound, runID)
}

func (o *Orchestrator) lookupAgent(runID, agentID string) (*models.Run, *models.AgentState, error) {
	run, err := o.lookupRun(runID)
	if err != nil {
		return nil, nil, err
	}
	agent, ok := run.Agents[agentID]
	if !ok {
		return run, nil, fmt.Errorf("%w: %s", ErrAgentNotFound, agentID)
	}
	return run, agent, nil
}

// GetRunStatus returns the last known state of a run. Unknown runs, and runs
// the store cannot read, report OverallNotFound.
func (o *Orchestrator) GetRunStatus(runID string) RunStatusReport {
	run, err := o.lookupRun(runID)
	if err != nil {
		if !errors.Is(err, ErrRunNotFound) {
			log.Printf("[orchestrator] status of run %s: %v", runID, err)
		}
		return RunStatusReport{RunID: runID, OverallStatus: OverallNotFound}
	}
	return RunStatusReport{RunID: runID, OverallStatus: string(run.Status), Run: run}
}

// ListRuns returns runs newest first, up to limit (0 for all). Without a
// store only this orchestrator's runs are known.
func (o *Orchestrator) ListRuns(limit int) ([]*models.Run, error) {
	if o.store != nil {
		return o.store.ListRuns(limit)
	}
	runs := o.registry.All()
	sort.Slice(runs, func(i, j int) bool { return runs[i].StartedAt.After(runs[j].StartedAt) })
	if limit > 0 && len(runs) > limit {
		runs = runs[:limit]
	}
	return runs, nil
}

// GetAgentOutputs reports what a completed agent produced.
func (o *Orchestrator) GetAgentOutputs(runID, agentID string) AgentOutputs {
	out := AgentOutputs{
		RunID:          runID,
		AgentID:        agentID,
		KeyFilePaths:   []string{},
		CommittedFiles: []string{},
	}

	run, agent, err := o.lookupAgent(runID, agentID)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	out.BranchName = agent.BranchName
	out.Status = agent.Status

	if agent.Status != models.AgentCompleted {
		out.Error = fmt.Sprintf("agent %s did not complete (status %s)", agentID, agent.Status)
		if agent.ErrorMessage != "" {
			out.Error += ": " + agent.ErrorMessage
		}
		return out
	}

	out.Success = true
	out.ResultSummary = agent.ResultSummary
	out.KeyFilePaths = append(out.KeyFilePaths, agent.KeyFilePaths...)
	out.CommittedFiles = append(out.CommittedFiles, agent.CommittedFiles...)
	out.ResultRef = run.ResultRefs[agentID]
	return out
}

// resolveResult returns the ref holding an agent's work: its branch while
// it exists, then the pinned result ref.
func (o *Orchestrator) resolveResult(run *models.Run, agent *models.AgentState) (string, error) {
	if o.git.BranchExists(agent.BranchName) {
		return agent.BranchName, nil
	}
	for _, ref := range []string{run.ResultRefs[agent.AgentID], ResultRef(run.ID, agent.AgentID)} {
		if ref != "" && o.git.RefExists(ref) {
			return ref, nil
		}
	}
	return "", fmt.Errorf("%w: branch %s is gone and no result ref is pinned", ErrNoResult, agent.BranchName)
}

// GetFileContent reads filePath as of the tip of the agent's work without
// touching any checkout.
func (o *Orchestrator) GetFileContent(runID, agentID, filePath string) FileContent {
	res := FileContent{RunID: runID, AgentID: agentID, Path: filePath}

	rel, err := cleanRepoPath(filePath)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Path = rel

	run, agent, err := o.lookupAgent(runID, agentID)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	ref, err := o.resolveResult(run, agent)
	if err != nil {
		res.Error = err.Error()
		return res
	}
	res.Ref = ref

	content, err := o.git.ShowFile(ref, rel)
	if err != nil {
		res.Error = fmt.Sprintf("read %s at %s: %v", rel, ref, err)
		return res
	}
	res.Success = true
	res.Content = content
	return res
}

// cleanRepoPath normalizes a repository-relative path and rejects anything
// that would leave the tree.
func cleanRepoPath(p string) (string, error) {
	if strings.TrimSpace(p) == "" {
		return "", errors.New("file path is required")
	}
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("file path %q must be relative to the repository root", p)
	}
	clean := path.Clean(filepath.ToSlash(p))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return "", fmt.Errorf("file path %q escapes the repository", p)
	}
	return clean, nil
}

// ArchiveFilename returns the zip name for an agent's result.
func ArchiveFilename(runID, agentID, branch string) string {
	return fmt.Sprintf("run_%s_agent_%s_%s.zip", runID, agentID, branch)
}

// CreateZipArchive exports the tip of the agent's work as a zip under the
// archive directory.
func (o *Orchestrator) CreateZipArchive(runID, agentID string) (Archive, error) {
	run, agent, err := o.lookupAgent(runID, agentID)
	if err != nil {
		return Archive{}, err
	}

	name := ArchiveFilename(runID, agentID, agent.BranchName)
	out := filepath.Join(o.archiveDir, name)

	if o.git.BranchExists(agent.BranchName) {
		err = o.git.ArchiveBranchToZip(agent.BranchName, out)
	} else {
		var ref string
		ref, err = o.resolveResult(run, agent)
		if err == nil {
			err = o.git.ArchiveRefToZip(ref, out)
		}
	}
	if err != nil {
		return Archive{}, fmt.Errorf("archive agent %s of run %s: %w", agentID, runID, err)
	}

	o.logger.Log("archived agent %s of run %s to %s", agentID, runID, out)
	return Archive{Path: out, Filename: name}, nil
}

// GetAgentDiff returns the diff from the run's base to the agent's result.
func (o *Orchestrator) GetAgentDiff(runID, agentID string) (string, error) {
	run, agent, err := o.lookupAgent(runID, agentID)
	if err != nil {
		return "", err
	}
	ref, err := o.resolveResult(run, agent)
	if err != nil {
		return "", err
	}
	base := run.BaseBranch
	if base == "" {
		base = run.OriginalBranch
	}
	return o.git.Diff(base, ref)
}

// CleanupRefs deletes pinned result refs of one run, or of every run when
// runID is empty, and returns the refs deleted.
func (o *Orchestrator) CleanupRefs(runID string) ([]string, error) {
	prefix := strings.TrimSuffix(ResultRefPrefix, "/")
	if runID != "" {
		prefix = ResultRefPrefix + runID
	}

	refs, err := o.git.ListRefs(prefix)
	if err != nil {
		return nil, fmt.Errorf("list result refs: %w", err)
	}

	deleted := []string{}
	var errs []error
	touched := map[string]bool{}
	for _, ref := range refs {
		if err := o.git.DeleteRef(ref); err != nil {
			errs = append(errs, fmt.Errorf("delete %s: %w", ref, err))
			continue
		}
		deleted = append(deleted, ref)
		if id, _, ok := strings.Cut(strings.TrimPrefix(ref, ResultRefPrefix), "/"); ok {
			touched[id] = true
		}
	}

	for id := range touched {
		o.forgetResultRefs(id)
	}
	return deleted, errors.Join(errs...)
}

func (o *Orchestrator) forgetResultRefs(runID string) {
	o.registry.Update(runID, func(r *models.Run) { r.ResultRefs = nil })
	if o.store == nil {
		return
	}
	run, err := o.store.GetRun(runID)
	if err != nil || run == nil {
		return
	}
	run.ResultRefs = nil
	o.persistRun(run)
}

// RecoverInterrupted finishes runs whose supervising process died before
// cleanup: it tears down their worktrees and branches, marks them
// completed, and returns them. It needs a store.
func (o *Orchestrator) RecoverInterrupted() ([]*models.Run, error) {
	if o.store == nil {
		return nil, errors.New("recovering interrupted runs requires a run store")
	}
	runs, err := o.store.ListInterrupted()
	if err != nil {
		return nil, err
	}

	recovered := make([]*models.Run, 0, len(runs))
	for _, run := range runs {
		if err := o.registry.Register(run); err != nil {
			continue
		}

		var worktrees []string
		if run.Isolation == models.IsolationWorktree {
			for _, id := range run.AgentOrder {
				p := o.worktreePath(run.ID, run.Agents[id].BranchName)
				if _, err := os.Stat(p); err == nil {
					worktrees = append(worktrees, p)
				}
			}
		}

		log.Printf("[orchestrator] recovering interrupted run %s (pid %d)", run.ID, run.PID)
		report, refs := o.cleanup(run.ID, run.OriginalBranch, worktrees)
		final := o.registry.Update(run.ID, func(r *models.Run) {
			r.Status = models.RunStatusCompleted
			r.CompletedAt = time.Now()
			r.Cleanup = report
			r.ResultRefs = refs
		})
		o.persistRun(final)
		o.registry.Unregister(run.ID)
		recovered = append(recovered, final)
	}
	return recovered, nil
}
