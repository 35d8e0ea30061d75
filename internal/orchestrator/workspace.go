package orchestrator

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

// ResultRefPrefix is the namespace of pinned agent results.
const ResultRefPrefix = "refs/jarules/"

// ResultRef returns the ref that pins an agent's branch tip after cleanup.
func ResultRef(runID, agentID string) string {
	return ResultRefPrefix + runID + "/" + agentID
}

// worktreePath is where an agent's worktree lives in worktree mode.
func (o *Orchestrator) worktreePath(runID, branch string) string {
	return filepath.Join(o.worktreeDir, models.ShortRunID(runID), branch)
}

// prepareWorkspace returns the directory the agent's worker runs in. In
// shared mode that is the repository itself; otherwise it is a fresh
// detached worktree, on which the worker creates its branch.
func (o *Orchestrator) prepareWorkspace(runID, branch string) (string, error) {
	if o.isolation == models.IsolationShared {
		return o.repoPath, nil
	}

	path := o.worktreePath(runID, branch)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("create worktree parent: %w", err)
	}
	if err := o.git.WorktreeAddDetached(path); err != nil {
		return "", fmt.Errorf("create worktree %s: %w", path, err)
	}
	o.logger.Log("created worktree %s", path)
	return path, nil
}

// cleanup tears down a run's workspaces. It never fails: every problem is
// logged and recorded in the report. Worktrees go first so their branches
// are no longer checked out anywhere, then the main checkout goes back to
// originalBranch, then branch tips are pinned (when preserving results) and
// every agent branch of the run is force-deleted.
func (o *Orchestrator) cleanup(runID, originalBranch string, worktrees []string) (*models.CleanupReport, map[string]string) {
	report := &models.CleanupReport{
		DeletedBranches:  []string{},
		FailedBranches:   map[string]string{},
		RemovedWorktrees: []string{},
		FailedWorktrees:  map[string]string{},
		PreservedRefs:    []string{},
	}

	runDir := filepath.Join(o.worktreeDir, models.ShortRunID(runID))
	for _, path := range worktrees {
		if err := o.git.WorktreeRemove(path, true); err != nil {
			log.Printf("[orchestrator] cleanup: remove worktree %s: %v", path, err)
			report.FailedWorktrees[path] = err.Error()
			continue
		}
		report.RemovedWorktrees = append(report.RemovedWorktrees, path)
		removeEmptyParents(path, runDir)
	}
	if len(worktrees) > 0 {
		if err := o.git.WorktreePrune(); err != nil {
			log.Printf("[orchestrator] cleanup: prune worktrees: %v", err)
		}
		// Only succeeds once empty.
		os.Remove(runDir)
	}

	o.switchBack(runID, originalBranch, report)

	refs := map[string]string{}
	branches := o.runBranches(runID)
	if o.preserve {
		for _, branch := range branches {
			agentID, ok := o.agentForBranch(runID, branch)
			if !ok {
				continue
			}
			ref, err := o.pinResult(runID, agentID, branch)
			if err != nil {
				log.Printf("[orchestrator] cleanup: pin %s: %v", branch, err)
				continue
			}
			refs[agentID] = ref
			report.PreservedRefs = append(report.PreservedRefs, ref)
		}
	}

	for _, branch := range branches {
		if err := o.git.DeleteBranch(branch, true); err != nil {
			log.Printf("[orchestrator] cleanup: delete branch %s: %v", branch, err)
			report.FailedBranches[branch] = err.Error()
			continue
		}
		report.DeletedBranches = append(report.DeletedBranches, branch)
	}

	o.logger.Log("cleanup of run %s: switchedBack=%v deleted=%v failed=%v preserved=%v",
		runID, report.SwitchedBack, report.DeletedBranches, report.FailedBranches, report.PreservedRefs)
	return report, refs
}

// switchBack returns the main checkout to originalBranch if the run left it
// on one of its agent branches. A checkout on any other branch was moved by
// someone else, or never moved at all when the agents ran in worktrees, and
// is left alone.
func (o *Orchestrator) switchBack(runID, originalBranch string, report *models.CleanupReport) {
	current, err := o.git.CurrentBranch()
	if err == nil {
		if current == originalBranch {
			report.SwitchedBack = true
			return
		}
		if _, onAgent := o.agentForBranch(runID, current); !onAgent {
			o.logger.Log("cleanup of run %s: checkout is on %s, not an agent branch; not switching", runID, current)
			report.SwitchedBack = true
			return
		}
	}
	if err := o.git.SwitchBranch(originalBranch); err != nil {
		log.Printf("[orchestrator] cleanup: switch back to %s: %v", originalBranch, err)
		report.SwitchError = err.Error()
		return
	}
	report.SwitchedBack = true
}

// runBranches lists the run's agent branches that still exist: whatever
// matches the run's branch pattern plus every registered agent's branch.
func (o *Orchestrator) runBranches(runID string) []string {
	seen := map[string]bool{}
	matched, err := o.git.ListBranches(models.AgentBranchPattern(runID))
	if err != nil {
		log.Printf("[orchestrator] cleanup: list branches: %v", err)
	}
	for _, b := range matched {
		seen[b] = true
	}

	if run := o.registry.Get(runID); run != nil {
		for _, id := range run.AgentOrder {
			if b := run.Agents[id].BranchName; b != "" && !seen[b] && o.git.BranchExists(b) {
				seen[b] = true
			}
		}
	}

	branches := make([]string, 0, len(seen))
	for b := range seen {
		branches = append(branches, b)
	}
	sort.Strings(branches)
	return branches
}

// removeEmptyParents removes the now empty directories between a removed
// worktree and stop, exclusive. Branch names with slashes nest worktrees.
func removeEmptyParents(path, stop string) {
	for dir := filepath.Dir(path); dir != stop && strings.HasPrefix(dir, stop+string(filepath.Separator)); dir = filepath.Dir(dir) {
		if os.Remove(dir) != nil {
			return
		}
	}
}

func (o *Orchestrator) agentForBranch(runID, branch string) (string, bool) {
	run := o.registry.Get(runID)
	if run == nil {
		return "", false
	}
	for _, id := range run.AgentOrder {
		if run.Agents[id].BranchName == branch {
			return id, true
		}
	}
	return "", false
}

func (o *Orchestrator) pinResult(runID, agentID, branch string) (string, error) {
	tip, err := o.git.RevParse(branch)
	if err != nil {
		return "", err
	}
	ref := ResultRef(runID, agentID)
	if err := o.git.UpdateRef(ref, tip); err != nil {
		return "", err
	}
	return ref, nil
}
