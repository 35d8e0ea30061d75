package git

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/witchcraftery/jarules-sub000/internal/exec"
)

// ExecRunner implements Runner by shelling out to the git binary.
type ExecRunner struct {
	repoPath string
	cmd      exec.CommandRunner
}

// NewRunner creates a new git runner for the repository at the given path.
func NewRunner(repoPath string) *ExecRunner {
	return &ExecRunner{repoPath: repoPath, cmd: exec.NewRunner()}
}

// NewRunnerWithExec creates a git runner with a custom command runner (for testing).
func NewRunnerWithExec(repoPath string, cmd exec.CommandRunner) *ExecRunner {
	return &ExecRunner{repoPath: repoPath, cmd: cmd}
}

// runRaw executes a git command and returns untrimmed stdout.
func (r *ExecRunner) runRaw(args ...string) (string, error) {
	res, err := r.cmd.Run(context.Background(), r.repoPath, "git", args...)
	if err != nil {
		return "", &OperationError{
			Command:  commandLine(args),
			ExitCode: res.ExitCode,
			Stderr:   strings.TrimSpace(string(res.Stderr)),
			Err:      err,
		}
	}
	return string(res.Stdout), nil
}

// run executes a git command and returns its trimmed stdout.
func (r *ExecRunner) run(args ...string) (string, error) {
	out, err := r.runRaw(args...)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}

// runSilent executes a git command and ignores output.
func (r *ExecRunner) runSilent(args ...string) error {
	_, err := r.runRaw(args...)
	return err
}

// Run executes an arbitrary git command with the given arguments.
func (r *ExecRunner) Run(args ...string) (string, error) {
	return r.run(args...)
}

// RepoPath returns the repository path.
func (r *ExecRunner) RepoPath() string {
	return r.repoPath
}

// CurrentBranch returns the name of the current branch.
func (r *ExecRunner) CurrentBranch() (string, error) {
	return r.run("rev-parse", "--abbrev-ref", "HEAD")
}

// BranchExists returns true if the branch exists.
func (r *ExecRunner) BranchExists(name string) bool {
	if name == "" {
		return false
	}
	return r.runSilent("show-ref", "--verify", "--quiet", "refs/heads/"+name) == nil
}

// CreateBranch creates and checks out name, starting from base when given.
func (r *ExecRunner) CreateBranch(name, base string) error {
	args := []string{"checkout", "-b", name}
	if base != "" {
		args = append(args, base)
		if !r.BranchExists(base) {
			return &OperationError{
				Command:  commandLine(args),
				ExitCode: -1,
				Stderr:   fmt.Sprintf("base branch %q does not exist", base),
			}
		}
	}
	return r.runSilent(args...)
}

// SwitchBranch checks out an existing branch.
func (r *ExecRunner) SwitchBranch(name string) error {
	if !r.BranchExists(name) {
		return &OperationError{
			Command:  commandLine([]string{"checkout", name}),
			ExitCode: -1,
			Stderr:   fmt.Sprintf("branch %q does not exist", name),
		}
	}
	return r.runSilent("checkout", name)
}

// DeleteBranch deletes the specified branch.
func (r *ExecRunner) DeleteBranch(name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	return r.runSilent("branch", flag, name)
}

// ListBranches returns local branches matching pattern (e.g. "agent-*-1a2b3c4d").
func (r *ExecRunner) ListBranches(pattern string) ([]string, error) {
	out, err := r.run("for-each-ref", "--format=%(refname:short)", "refs/heads/"+pattern)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// Add stages the specified files for commit.
func (r *ExecRunner) Add(paths ...string) error {
	args := append([]string{"add", "--"}, paths...)
	return r.runSilent(args...)
}

// CommitChanges stages patterns and commits whatever is in the index.
func (r *ExecRunner) CommitChanges(message string, patterns ...string) (string, error) {
	if len(patterns) > 0 {
		if err := r.Add(patterns...); err != nil {
			return "", err
		}
	}

	staged, err := r.hasStagedChanges()
	if err != nil {
		return "", err
	}
	if !staged {
		return "", ErrNothingToCommit
	}

	return r.run("commit", "-m", message)
}

// hasStagedChanges uses diff --cached --quiet: exit 0 is clean, exit 1 is dirty.
func (r *ExecRunner) hasStagedChanges() (bool, error) {
	err := r.runSilent("diff", "--cached", "--quiet")
	if err == nil {
		return false, nil
	}
	if opErr, ok := err.(*OperationError); ok && opErr.ExitCode == 1 {
		return true, nil
	}
	return false, err
}

// Diff returns the diff between a and b, or a and the working tree.
func (r *ExecRunner) Diff(a, b string) (string, error) {
	if b == "" {
		return r.runRaw("diff", a)
	}
	return r.runRaw("diff", a, b)
}

// ChangedFilesBetween returns files changed between two refs.
func (r *ExecRunner) ChangedFilesBetween(ref1, ref2 string) ([]string, error) {
	out, err := r.run("diff", "--name-only", ref1, ref2)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// RevParse resolves ref to a commit hash.
func (r *ExecRunner) RevParse(ref string) (string, error) {
	return r.run("rev-parse", "--verify", ref+"^{commit}")
}

// RefExists reports whether ref names a commit.
func (r *ExecRunner) RefExists(ref string) bool {
	if ref == "" {
		return false
	}
	return r.runSilent("rev-parse", "--verify", "--quiet", ref+"^{commit}") == nil
}

// UpdateRef points ref at target.
func (r *ExecRunner) UpdateRef(ref, target string) error {
	return r.runSilent("update-ref", ref, target)
}

// DeleteRef removes ref.
func (r *ExecRunner) DeleteRef(ref string) error {
	return r.runSilent("update-ref", "-d", ref)
}

// ListRefs returns full ref names under prefix.
func (r *ExecRunner) ListRefs(prefix string) ([]string, error) {
	out, err := r.run("for-each-ref", "--format=%(refname)", prefix)
	if err != nil {
		return nil, err
	}
	return splitLines(out), nil
}

// ShowFile returns the contents of a file at a specific ref.
func (r *ExecRunner) ShowFile(ref, path string) (string, error) {
	return r.runRaw("show", ref+":"+filepath.ToSlash(path))
}

// ArchiveBranchToZip exports the tip of branch as a zip file.
func (r *ExecRunner) ArchiveBranchToZip(branch, outPath string) error {
	if !r.BranchExists(branch) {
		return &OperationError{
			Command:  commandLine([]string{"archive", "--format=zip", "-o", outPath, branch}),
			ExitCode: -1,
			Stderr:   fmt.Sprintf("branch %q does not exist", branch),
		}
	}
	return r.archive(branch, outPath)
}

// ArchiveRefToZip exports any commit-ish as a zip file.
func (r *ExecRunner) ArchiveRefToZip(ref, outPath string) error {
	if !r.RefExists(ref) {
		return &OperationError{
			Command:  commandLine([]string{"archive", "--format=zip", "-o", outPath, ref}),
			ExitCode: -1,
			Stderr:   fmt.Sprintf("ref %q does not exist", ref),
		}
	}
	return r.archive(ref, outPath)
}

func (r *ExecRunner) archive(ref, outPath string) error {
	if err := os.MkdirAll(filepath.Dir(outPath), 0755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	args := []string{"archive", "--format=zip", "-o", outPath, ref}
	if err := r.runSilent(args...); err != nil {
		return err
	}

	info, err := os.Stat(outPath)
	if err != nil || info.Size() == 0 {
		_ = os.Remove(outPath)
		return &OperationError{
			Command:  commandLine(args),
			ExitCode: 0,
			Stderr:   fmt.Sprintf("archive %s was not created or is empty", outPath),
			Err:      err,
		}
	}
	return nil
}

// WorktreeAddDetached creates a new worktree at path with a detached HEAD.
func (r *ExecRunner) WorktreeAddDetached(path string) error {
	return r.runSilent("worktree", "add", "--detach", path)
}

// WorktreeRemove removes the worktree, optionally with force.
func (r *ExecRunner) WorktreeRemove(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	return r.runSilent(args...)
}

// WorktreeList returns a list of worktree paths.
func (r *ExecRunner) WorktreeList() ([]string, error) {
	out, err := r.run("worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "worktree ") {
			paths = append(paths, strings.TrimPrefix(line, "worktree "))
		}
	}
	return paths, nil
}

// WorktreePrune removes stale worktree entries.
func (r *ExecRunner) WorktreePrune() error {
	return r.runSilent("worktree", "prune", "--expire", "now")
}

func splitLines(out string) []string {
	if out == "" {
		return nil
	}
	return strings.Split(out, "\n")
}

// Verify ExecRunner implements Runner at compile time.
var _ Runner = (*ExecRunner)(nil)
