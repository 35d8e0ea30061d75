package orchestrator

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/witchcraftery/jarules-sub000/internal/config"
	"github.com/witchcraftery/jarules-sub000/internal/testutil"
	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

func TestGetRunStatus_NotFound(t *testing.T) {
	var out bytes.Buffer
	o := newDispatchOrchestrator(t, &out)

	for _, id := range []string{"", "nope", "../../etc/passwd", "run-1 ", strings.Repeat("x", 500)} {
		t.Run(id, func(t *testing.T) {
			report := o.GetRunStatus(id)
			if report.Found() || report.OverallStatus != OverallNotFound || report.RunID != id {
				t.Errorf("GetRunStatus(%q) = %+v", id, report)
			}
		})
	}

	if report := o.GetRunStatus("run-1"); !report.Found() {
		t.Error("registered run should be found")
	}
}

func TestGetAgentOutputs_Failures(t *testing.T) {
	var out bytes.Buffer
	o := newDispatchOrchestrator(t, &out)
	o.registry.UpdateAgent("run-1", "b", func(a *models.AgentState) bool {
		a.Status = models.AgentError
		a.ErrorMessage = "generation failed"
		return true
	})

	tests := []struct {
		name    string
		runID   string
		agentID string
		want    string
	}{
		{"unknown run", "nope", "a", "run not found"},
		{"unknown agent", "run-1", "ghost", "agent not found"},
		{"still queued", "run-1", "a", "status queued"},
		{"errored", "run-1", "b", "generation failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := o.GetAgentOutputs(tt.runID, tt.agentID)
			if got.Success {
				t.Fatal("Success = true")
			}
			if !strings.Contains(got.Error, tt.want) {
				t.Errorf("Error = %q, want it to mention %q", got.Error, tt.want)
			}
			if got.ResultSummary != "" || len(got.KeyFilePaths) != 0 || got.KeyFilePaths == nil {
				t.Errorf("failure carried results: %+v", got)
			}
		})
	}
}

func TestCleanRepoPath(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"out.txt", "out.txt", false},
		{"./src//main.go", "src/main.go", false},
		{"a/../b.txt", "b.txt", false},
		{"", "", true},
		{"/etc/passwd", "", true},
		{"../outside", "", true},
		{"a/../../outside", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := cleanRepoPath(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("cleanRepoPath(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("cleanRepoPath(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGetFileContent_RejectsEscapes(t *testing.T) {
	var out bytes.Buffer
	o := newDispatchOrchestrator(t, &out)

	got := o.GetFileContent("run-1", "a", "../secret")
	if got.Success || got.Error == "" {
		t.Errorf("GetFileContent() = %+v", got)
	}
}

func TestCreateZipArchive_MissingBranch(t *testing.T) {
	repo := testutil.InitGitRepo(t)
	archiveDir := t.TempDir()
	o, err := New(repo, WithWorkerCommand("unused"), WithArchiveDir(archiveDir))
	if err != nil {
		t.Fatal(err)
	}
	if err := o.registry.Register(registryRun("r1")); err != nil {
		t.Fatal(err)
	}

	if _, err := o.CreateZipArchive("r1", "a"); !errors.Is(err, ErrNoResult) {
		t.Errorf("CreateZipArchive() error = %v, want ErrNoResult", err)
	}
	entries, _ := os.ReadDir(archiveDir)
	if len(entries) != 0 {
		t.Errorf("archive dir has %d entries after a failed archive", len(entries))
	}

	if _, err := o.CreateZipArchive("nope", "a"); !errors.Is(err, ErrRunNotFound) {
		t.Errorf("CreateZipArchive(unknown run) error = %v", err)
	}
}

func TestArchiveFilename(t *testing.T) {
	got := ArchiveFilename("run-1", "alpha", "agent-alpha-run-1")
	if got != "run_run-1_agent_alpha_agent-alpha-run-1.zip" {
		t.Errorf("ArchiveFilename() = %q", got)
	}
}

func TestCleanup_ReportsFailures(t *testing.T) {
	repo := testutil.InitGitRepo(t)
	o, err := New(repo, WithWorkerCommand("unused"))
	if err != nil {
		t.Fatal(err)
	}
	run := registryRun(testRunID)
	run.Agents["a"].BranchName = models.AgentBranchName("a", testRunID)
	if err := o.registry.Register(run); err != nil {
		t.Fatal(err)
	}

	// Leave HEAD on the agent branch and make the original branch unreachable,
	// so switching back and deleting the checked-out branch both fail.
	testutil.Git(t, repo, "checkout", "-q", "-b", run.Agents["a"].BranchName)
	missing := filepath.Join(t.TempDir(), "never-created")

	report, refs := o.cleanup(testRunID, "no-such-branch", []string{missing})

	if report.SwitchedBack || report.SwitchError == "" {
		t.Errorf("switch back should fail: %+v", report)
	}
	if _, ok := report.FailedWorktrees[missing]; !ok {
		t.Errorf("FailedWorktrees = %v", report.FailedWorktrees)
	}
	if _, ok := report.FailedBranches[run.Agents["a"].BranchName]; !ok {
		t.Errorf("FailedBranches = %v", report.FailedBranches)
	}
	if report.Complete() {
		t.Error("report should not be complete")
	}
	if refs["a"] != ResultRef(testRunID, "a") {
		t.Errorf("refs = %v, want the branch pinned even though deletion failed", refs)
	}
}

func TestNew_Defaults(t *testing.T) {
	repo := t.TempDir()
	o, err := New(repo, WithWorkerCommand("w"))
	if err != nil {
		t.Fatal(err)
	}
	if o.isolation != models.IsolationWorktree || !o.preserve {
		t.Errorf("defaults: isolation=%s preserve=%v", o.isolation, o.preserve)
	}
	if o.worktreeDir != filepath.Join(o.RepoPath(), ".jarules", "worktrees") {
		t.Errorf("worktreeDir = %s", o.worktreeDir)
	}

	if _, err := New(repo, WithWorkerCommand("w"), WithIsolation("container")); err == nil {
		t.Error("unknown isolation mode should be rejected")
	}
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Workspace.Isolation = "shared"
	cfg.Workspace.PreserveResults = false
	cfg.Workspace.ArchiveDir = "/tmp/zips"

	o, err := New(t.TempDir(), append(FromConfig(cfg), WithWorkerCommand("w"))...)
	if err != nil {
		t.Fatal(err)
	}
	if o.isolation != models.IsolationShared || o.preserve || o.archiveDir != "/tmp/zips" {
		t.Errorf("options not applied: isolation=%s preserve=%v archive=%s", o.isolation, o.preserve, o.archiveDir)
	}
}

func TestDebugLogger(t *testing.T) {
	path := DebugLogPath(t.TempDir())
	l, err := NewDebugLogger(path)
	if err != nil {
		t.Fatal(err)
	}
	l.Log("agent %s did %d things", "a", 3)
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}
	l.Log("after close is a no-op")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "agent a did 3 things") || strings.Contains(string(data), "after close") {
		t.Errorf("log contents:\n%s", data)
	}

	var nilLogger *DebugLogger
	nilLogger.Log("ignored")
	if err := nilLogger.Close(); err != nil {
		t.Errorf("nil Close() error = %v", err)
	}
}

func TestCleanup_DeletesRegisteredBranchesOutsidePattern(t *testing.T) {
	repo := testutil.InitGitRepo(t)
	o, err := New(repo, WithWorkerCommand("unused"))
	if err != nil {
		t.Fatal(err)
	}
	run := registryRun(testRunID)
	// A slash nests the branch where agent-*-<run> does not match it.
	nested := "agent-team/a-" + models.ShortRunID(testRunID)
	run.Agents["a"].BranchName = nested
	if err := o.registry.Register(run); err != nil {
		t.Fatal(err)
	}
	testutil.Git(t, repo, "branch", nested)

	report, refs := o.cleanup(testRunID, "main", nil)

	if !report.Complete() || len(report.DeletedBranches) != 1 || report.DeletedBranches[0] != nested {
		t.Errorf("report = %+v", report)
	}
	if got := testutil.Git(t, repo, "branch", "--list", nested); got != "" {
		t.Errorf("branch %s still exists", nested)
	}
	if refs["a"] != ResultRef(testRunID, "a") {
		t.Errorf("refs = %v", refs)
	}
}

func TestCleanup_SwitchesBackOnlyFromAgentBranches(t *testing.T) {
	tests := []struct {
		name     string
		checkout string
		wantHead string
	}{
		{"left on agent branch", models.AgentBranchName("a", testRunID), "main"},
		{"user branch", "my-feature", "my-feature"},
		{"already original", "main", "main"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := testutil.InitGitRepo(t)
			o, err := New(repo, WithWorkerCommand("unused"), WithPreserveResults(false))
			if err != nil {
				t.Fatal(err)
			}
			run := registryRun(testRunID)
			run.Agents["a"].BranchName = models.AgentBranchName("a", testRunID)
			if err := o.registry.Register(run); err != nil {
				t.Fatal(err)
			}
			testutil.Git(t, repo, "branch", run.Agents["a"].BranchName)
			if tt.checkout != "main" {
				testutil.Git(t, repo, "checkout", "-q", "-B", tt.checkout)
			}

			report, _ := o.cleanup(testRunID, "main", nil)

			if head := testutil.Git(t, repo, "rev-parse", "--abbrev-ref", "HEAD"); head != tt.wantHead {
				t.Errorf("HEAD = %s, want %s", head, tt.wantHead)
			}
			if !report.SwitchedBack || report.SwitchError != "" {
				t.Errorf("report = %+v", report)
			}
		})
	}
}
