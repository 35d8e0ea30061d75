// Package worker implements the agent worker: the process that takes one task
// onto one branch, delegates the work, commits what was produced, and reports
// progress as JSON status lines on stdout.
package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/witchcraftery/jarules-sub000/internal/collab"
	"github.com/witchcraftery/jarules-sub000/internal/git"
	"github.com/witchcraftery/jarules-sub000/internal/manifest"
	"github.com/witchcraftery/jarules-sub000/internal/protocol"
	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

// Process exit codes.
const (
	ExitCompleted = 0
	ExitError     = 1
	ExitUsage     = 2
)

// Deps are the worker's collaborators.
type Deps struct {
	// Out receives status lines. Defaults to os.Stdout.
	Out io.Writer
	// NewGit opens the repository. Defaults to git.NewRunner.
	NewGit func(repoPath string) git.Runner
	// NewGenerator resolves the provider id to a generator.
	NewGenerator func(providerID string) (collab.Generator, error)
}

// stageError tags a failure with the step it happened in.
type stageError struct {
	stage string
	err   error
}

func (e *stageError) Error() string { return e.stage + ": " + e.err.Error() }
func (e *stageError) Unwrap() error { return e.err }

type worker struct {
	p            Params
	emitter      *protocol.Emitter
	git          git.Runner
	newGenerator func(string) (collab.Generator, error)
}

// Run executes one agent task and returns the process exit code.
func Run(ctx context.Context, p Params, deps Deps) int {
	if deps.Out == nil {
		deps.Out = os.Stdout
	}
	if deps.NewGit == nil {
		deps.NewGit = func(repoPath string) git.Runner { return git.NewRunner(repoPath) }
	}

	w := &worker{
		p:            p,
		emitter:      protocol.NewEmitter(deps.Out),
		newGenerator: deps.NewGenerator,
	}

	if err := p.Validate(); err != nil {
		log.Printf("[worker] invalid invocation: %v", err)
		if p.RunID != "" && p.AgentID != "" {
			w.emitError("invalid invocation", err)
		}
		return ExitUsage
	}

	if err := checkRepoPath(p.RepoPath); err != nil {
		log.Printf("[worker] %s: %v", p.AgentID, err)
		w.emitError("invalid repository path", err)
		return ExitUsage
	}
	if w.newGenerator == nil {
		w.emitError("invalid invocation", errors.New("no generator configured"))
		return ExitUsage
	}
	w.git = deps.NewGit(p.RepoPath)

	w.emit(protocol.Starting{Header: w.header(fmt.Sprintf("Agent %s starting on branch %s", p.AgentID, p.BranchName))})

	ev, err := w.process(ctx)
	if err != nil {
		stage := "run failed"
		var se *stageError
		if errors.As(err, &se) {
			stage = se.stage
		}
		w.emitError(stage, err)
		return ExitError
	}

	w.emit(ev)
	return ExitCompleted
}

// process runs the branch, generate, commit and manifest steps.
func (w *worker) process(ctx context.Context) (protocol.Completed, error) {
	p := w.p

	if err := w.ensureBranch(); err != nil {
		return protocol.Completed{}, &stageError{stage: "branch setup failed", err: err}
	}

	w.emit(protocol.Processing{Header: w.header(fmt.Sprintf("Generating with %s", p.ProviderID))})

	gen, err := w.newGenerator(p.ProviderID)
	if err != nil {
		return protocol.Completed{}, &stageError{stage: "provider setup failed", err: err}
	}
	produced, err := gen.Generate(ctx, p.Task, p.RepoPath)
	if err != nil {
		return protocol.Completed{}, &stageError{stage: "generation failed", err: err}
	}

	commitSet := buildCommitSet(p.RepoPath, produced)
	committed := []string{}
	if len(commitSet) == 0 {
		log.Printf("[worker] %s: no files produced, nothing to commit", p.AgentID)
	} else {
		_, err := w.git.CommitChanges(CommitMessage(p.AgentID, p.RunID, p.Task), commitSet...)
		switch {
		case errors.Is(err, git.ErrNothingToCommit):
			log.Printf("[worker] %s: files unchanged, nothing to commit", p.AgentID)
		case err != nil:
			return protocol.Completed{}, &stageError{stage: "commit failed", err: err}
		default:
			committed = commitSet
		}
	}

	content, err := manifest.Read(p.RepoPath)
	if err != nil {
		return protocol.Completed{}, &stageError{stage: "manifest read failed", err: err}
	}
	keyFiles := []string{}
	summary := ""
	if strings.TrimSpace(content) != "" {
		keyFiles = manifest.ParseKeyFiles(content, p.RepoPath)
		summary = manifest.Summary(content)
	}
	if summary == "" {
		summary = fmt.Sprintf("Agent %s committed %d file(s)", p.AgentID, len(committed))
	}

	return protocol.Completed{
		Header:         w.header(fmt.Sprintf("Agent %s completed", p.AgentID)),
		ResultSummary:  summary,
		KeyFilePaths:   keyFiles,
		CommittedFiles: committed,
	}, nil
}

// ensureBranch leaves the checkout on the target branch, switching to it if it
// exists and creating it from the base otherwise.
func (w *worker) ensureBranch() error {
	target := w.p.BranchName

	current, err := w.git.CurrentBranch()
	if err != nil {
		return fmt.Errorf("read current branch: %w", err)
	}
	if current == target {
		return nil
	}

	if err := w.git.SwitchBranch(target); err == nil {
		return nil
	}
	if err := w.git.CreateBranch(target, w.p.BaseBranch); err != nil {
		return fmt.Errorf("create branch %s: %w", target, err)
	}
	return nil
}

func (w *worker) header(msg string) protocol.Header {
	return protocol.Header{RunID: w.p.RunID, AgentID: w.p.AgentID, Message: msg}
}

func (w *worker) emit(ev protocol.Event) {
	if err := w.emitter.Emit(ev); err != nil {
		log.Printf("[worker] failed to write %s event: %v", ev.Status(), err)
	}
}

func (w *worker) emitError(stage string, err error) {
	details := ""
	var opErr *git.OperationError
	if errors.As(err, &opErr) {
		details = fmt.Sprintf("%s (exit %d)", opErr.Command, opErr.ExitCode)
		if opErr.Stderr != "" {
			details += ": " + opErr.Stderr
		}
	}
	var taskErr *collab.TaskError
	if details == "" && errors.As(err, &taskErr) {
		details = "provider " + taskErr.Provider
	}

	w.emit(protocol.Error{
		Header:       w.header(stage),
		ErrorMessage: err.Error(),
		ErrorDetails: details,
	})
}

func checkRepoPath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("repository path %s: %w", path, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("repository path %s is not a directory", path)
	}
	if _, err := os.Stat(filepath.Join(path, ".git")); err != nil {
		log.Printf("[worker] WARNING: %s has no .git entry; git commands may fail", path)
	}
	return nil
}

// buildCommitSet returns the produced paths that still exist as files, plus
// the manifest if present, deduplicated and sorted.
func buildCommitSet(repoPath string, produced []string) []string {
	seen := make(map[string]bool)
	var out []string

	add := func(p string) {
		rel := filepath.ToSlash(filepath.Clean(p))
		if filepath.IsAbs(p) {
			r, err := filepath.Rel(repoPath, p)
			if err != nil {
				return
			}
			rel = filepath.ToSlash(r)
		}
		if rel == "." || rel == ".." || strings.HasPrefix(rel, "../") || seen[rel] {
			return
		}
		info, err := os.Stat(filepath.Join(repoPath, filepath.FromSlash(rel)))
		if err != nil || !info.Mode().IsRegular() {
			return
		}
		seen[rel] = true
		out = append(out, rel)
	}

	for _, p := range produced {
		add(p)
	}
	add(manifest.FileName)

	sort.Strings(out)
	return out
}

// CommitMessage is the message a worker commits its files with.
func CommitMessage(agentID, runID, task string) string {
	prefix := strings.Join(strings.Fields(task), " ")
	if r := []rune(prefix); len(r) > 50 {
		prefix = string(r[:50])
	}
	return fmt.Sprintf("jarules: agent %s run %s: %s", agentID, models.ShortRunID(runID), prefix)
}
