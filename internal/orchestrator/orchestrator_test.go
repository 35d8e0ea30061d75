package orchestrator

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/witchcraftery/jarules-sub000/internal/collab"
	"github.com/witchcraftery/jarules-sub000/internal/config"
	"github.com/witchcraftery/jarules-sub000/internal/git"
	"github.com/witchcraftery/jarules-sub000/internal/manifest"
	"github.com/witchcraftery/jarules-sub000/internal/protocol"
	"github.com/witchcraftery/jarules-sub000/internal/state"
	"github.com/witchcraftery/jarules-sub000/internal/testutil"
	"github.com/witchcraftery/jarules-sub000/internal/worker"
	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

const helperEnv = "JARULES_TEST_HELPER_WORKER"

const testRunID = "1a2b3c4d-5e6f-4000-8000-000000000001"

// TestHelperWorker is not a real test. The orchestrator tests start the test
// binary itself as the worker process, and this function plays the worker.
//
// Agent ids pick the behavior:
//
//	crash*  emits starting, then exits 3 without a terminal event
//	noisy*  prints junk lines first, then behaves like any other agent
//	other   writes out.txt and a manifest listing it
func TestHelperWorker(t *testing.T) {
	if os.Getenv(helperEnv) != "1" {
		return
	}

	args := os.Args
	for i, a := range args {
		if a == "--" {
			args = args[i+1:]
			break
		}
	}
	p, err := worker.ParseArgs(args)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(worker.ExitUsage)
	}

	switch {
	case strings.HasPrefix(p.AgentID, "crash"):
		protocol.NewEmitter(os.Stdout).Emit(protocol.Starting{Header: protocol.Header{
			RunID: p.RunID, AgentID: p.AgentID, Message: "about to crash",
		}})
		os.Exit(3)
	case strings.HasPrefix(p.AgentID, "noisy"):
		fmt.Println("this is not json")
		fmt.Println(`{"status":"completed","runId":"other-run","agentId":"someone-else"}`)
		fmt.Fprintln(os.Stderr, "diagnostics on stderr")
	}

	gen := collab.GeneratorFunc(func(ctx context.Context, task, dir string) ([]string, error) {
		content := "hello from " + p.AgentID + "\n"
		if err := os.WriteFile(filepath.Join(dir, "out.txt"), []byte(content), 0644); err != nil {
			return nil, err
		}
		summary := "# Summary\n\nWrote a greeting.\n\n" + manifest.KeyFilesHeader + "\n- `out.txt`\n"
		if err := os.WriteFile(manifest.Path(dir), []byte(summary), 0644); err != nil {
			return nil, err
		}
		return []string{"out.txt"}, nil
	})

	code := worker.Run(context.Background(), p, worker.Deps{
		NewGenerator: func(string) (collab.Generator, error) { return gen, nil },
	})
	os.Exit(code)
}

func helperOptions(t *testing.T) []Option {
	t.Helper()
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable() error = %v", err)
	}
	return []Option{
		WithWorkerCommand(exe, "-test.run=^TestHelperWorker$", "--"),
		WithEnv(helperEnv + "=1"),
	}
}

func newTestOrchestrator(t *testing.T, repo string, out *bytes.Buffer, extra ...Option) *Orchestrator {
	t.Helper()
	opts := append(helperOptions(t),
		WithOutput(out),
		WithArchiveDir(t.TempDir()),
		WithRunIDGenerator(func() string { return testRunID }),
	)
	opts = append(opts, extra...)
	o, err := New(repo, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return o
}

func agents(ids ...string) []config.AgentConfig {
	out := make([]config.AgentConfig, len(ids))
	for i, id := range ids {
		out[i] = config.AgentConfig{ID: id, Provider: "fake"}
	}
	return out
}

func startRun(t *testing.T, o *Orchestrator, ids ...string) *models.Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	run, err := o.StartRun(ctx, "Write out.txt", agents(ids...), "main")
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	return run
}

func outputLines(t *testing.T, out *bytes.Buffer) []map[string]any {
	t.Helper()
	var lines []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(out.Bytes()))
	for scanner.Scan() {
		var m map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &m); err != nil {
			t.Fatalf("orchestrator wrote non-JSON line %q: %v", scanner.Text(), err)
		}
		lines = append(lines, m)
	}
	return lines
}

func assertNoAgentBranches(t *testing.T, repo, runID string) {
	t.Helper()
	if got := testutil.Git(t, repo, "branch", "--list", models.AgentBranchPattern(runID)); got != "" {
		t.Errorf("agent branches left behind:\n%s", got)
	}
}

func TestStartRun_CompletedAndCrashedAgents(t *testing.T) {
	repo := testutil.InitGitRepo(t)
	var out bytes.Buffer
	o := newTestOrchestrator(t, repo, &out)

	run := startRun(t, o, "alpha", "crash")

	if run.Status != models.RunStatusCompleted {
		t.Errorf("run status = %s, want completed", run.Status)
	}

	alpha := run.Agents["alpha"]
	if alpha.Status != models.AgentCompleted {
		t.Fatalf("alpha = %+v, want completed", alpha)
	}
	if !reflect.DeepEqual(alpha.KeyFilePaths, []string{"out.txt"}) {
		t.Errorf("alpha keyFilePaths = %v, want [out.txt]", alpha.KeyFilePaths)
	}
	if alpha.ResultSummary != "Wrote a greeting." {
		t.Errorf("alpha resultSummary = %q", alpha.ResultSummary)
	}
	if got := run.Agents["crash"].Status; got != models.AgentStarting {
		t.Errorf("crash status = %s, want starting", got)
	}
	if !reflect.DeepEqual(run.ExitCodes, map[string]int{"alpha": 0, "crash": 3}) {
		t.Errorf("exit codes = %v", run.ExitCodes)
	}

	outputs := o.GetAgentOutputs(run.ID, "alpha")
	if !outputs.Success || !reflect.DeepEqual(outputs.KeyFilePaths, []string{"out.txt"}) {
		t.Errorf("GetAgentOutputs(alpha) = %+v", outputs)
	}
	crashed := o.GetAgentOutputs(run.ID, "crash")
	if crashed.Success || crashed.Error == "" || crashed.ResultSummary != "" {
		t.Errorf("GetAgentOutputs(crash) = %+v, want failure without summary", crashed)
	}

	if got := testutil.Git(t, repo, "rev-parse", "--abbrev-ref", "HEAD"); got != "main" {
		t.Errorf("HEAD = %s, want main", got)
	}
	assertNoAgentBranches(t, repo, run.ID)
	if got := testutil.Git(t, repo, "worktree", "list", "--porcelain"); strings.Count(got, "worktree ") != 1 {
		t.Errorf("worktrees left behind:\n%s", got)
	}

	report := run.Cleanup
	if report == nil || !report.Complete() {
		t.Fatalf("cleanup = %+v, want complete", report)
	}
	// The crashed worker never got as far as creating its branch.
	if !reflect.DeepEqual(report.DeletedBranches, []string{alpha.BranchName}) {
		t.Errorf("deleted branches = %v", report.DeletedBranches)
	}
	if len(report.RemovedWorktrees) != 2 {
		t.Errorf("removed worktrees = %v", report.RemovedWorktrees)
	}
	if run.ResultRefs["alpha"] != ResultRef(run.ID, "alpha") {
		t.Errorf("result refs = %v", run.ResultRefs)
	}

	lines := outputLines(t, &out)
	if len(lines) < 2 {
		t.Fatalf("got %d output lines", len(lines))
	}
	if lines[0]["overallStatus"] != OverallStarted || lines[len(lines)-1]["overallStatus"] != OverallCompleted {
		t.Errorf("first/last lines = %v / %v", lines[0], lines[len(lines)-1])
	}
	updates := 0
	for _, l := range lines {
		if l["type"] == "agent_update" {
			updates++
		}
	}
	// alpha: starting, processing, completed. crash: starting.
	if updates != 4 {
		t.Errorf("agent_update lines = %d, want 4", updates)
	}
}

func TestStartRun_ResultsReadableAfterCleanup(t *testing.T) {
	repo := testutil.InitGitRepo(t)
	var out bytes.Buffer
	o := newTestOrchestrator(t, repo, &out)
	run := startRun(t, o, "alpha")

	file := o.GetFileContent(run.ID, "alpha", "out.txt")
	if !file.Success || file.Content != "hello from alpha\n" {
		t.Fatalf("GetFileContent() = %+v", file)
	}
	if file.Ref != ResultRef(run.ID, "alpha") {
		t.Errorf("read from %s, want pinned ref", file.Ref)
	}

	missing := o.GetFileContent(run.ID, "alpha", "nope.txt")
	if missing.Success || missing.Error == "" {
		t.Errorf("GetFileContent(missing) = %+v", missing)
	}

	archive, err := o.CreateZipArchive(run.ID, "alpha")
	if err != nil {
		t.Fatalf("CreateZipArchive() error = %v", err)
	}
	wantName := ArchiveFilename(run.ID, "alpha", models.AgentBranchName("alpha", run.ID))
	if archive.Filename != wantName || filepath.Base(archive.Path) != wantName {
		t.Errorf("archive = %+v, want filename %s", archive, wantName)
	}
	info, err := os.Stat(archive.Path)
	if err != nil || info.Size() == 0 {
		t.Errorf("archive file: %v, %v", info, err)
	}

	diff, err := o.GetAgentDiff(run.ID, "alpha")
	if err != nil {
		t.Fatalf("GetAgentDiff() error = %v", err)
	}
	if !strings.Contains(diff, "+hello from alpha") {
		t.Errorf("diff does not show out.txt:\n%s", diff)
	}

	deleted, err := o.CleanupRefs(run.ID)
	if err != nil || len(deleted) != 1 {
		t.Fatalf("CleanupRefs() = %v, %v", deleted, err)
	}
	if gone := o.GetFileContent(run.ID, "alpha", "out.txt"); gone.Success {
		t.Error("file still readable after its ref was removed")
	}
	if _, err := o.CreateZipArchive(run.ID, "alpha"); !errors.Is(err, ErrNoResult) {
		t.Errorf("CreateZipArchive() after CleanupRefs error = %v, want ErrNoResult", err)
	}
}

func TestStartRun_SharedCheckout(t *testing.T) {
	repo := testutil.InitGitRepo(t)
	var out bytes.Buffer
	o := newTestOrchestrator(t, repo, &out, WithIsolation(models.IsolationShared))

	run := startRun(t, o, "alpha")

	if run.Agents["alpha"].Status != models.AgentCompleted {
		t.Fatalf("alpha = %+v", run.Agents["alpha"])
	}
	if got := testutil.Git(t, repo, "rev-parse", "--abbrev-ref", "HEAD"); got != "main" {
		t.Errorf("HEAD = %s, want main", got)
	}
	assertNoAgentBranches(t, repo, run.ID)
	if len(run.Cleanup.RemovedWorktrees) != 0 {
		t.Errorf("shared mode removed worktrees: %v", run.Cleanup.RemovedWorktrees)
	}
	if file := o.GetFileContent(run.ID, "alpha", "out.txt"); !file.Success {
		t.Errorf("GetFileContent() = %+v", file)
	}
}

func TestStartRun_WithoutPreservedResults(t *testing.T) {
	repo := testutil.InitGitRepo(t)
	var out bytes.Buffer
	o := newTestOrchestrator(t, repo, &out, WithPreserveResults(false))

	run := startRun(t, o, "alpha")

	if len(run.ResultRefs) != 0 || len(run.Cleanup.PreservedRefs) != 0 {
		t.Errorf("refs pinned with preservation off: %v", run.ResultRefs)
	}
	if got := testutil.Git(t, repo, "for-each-ref", "refs/jarules"); got != "" {
		t.Errorf("refs/jarules not empty:\n%s", got)
	}
	// Outputs come from recorded state, not the branch.
	if outputs := o.GetAgentOutputs(run.ID, "alpha"); !outputs.Success {
		t.Errorf("GetAgentOutputs() = %+v", outputs)
	}
}

func TestStartRun_IgnoresForeignAndMalformedLines(t *testing.T) {
	repo := testutil.InitGitRepo(t)
	var out bytes.Buffer
	o := newTestOrchestrator(t, repo, &out)

	run := startRun(t, o, "noisy")

	a := run.Agents["noisy"]
	if a.Status != models.AgentCompleted || !reflect.DeepEqual(a.KeyFilePaths, []string{"out.txt"}) {
		t.Errorf("noisy = %+v", a)
	}
	for _, l := range outputLines(t, &out) {
		if data, ok := l["data"].(map[string]any); ok && data["agentId"] != "noisy" {
			t.Errorf("forwarded a foreign event: %v", l)
		}
	}
}

func TestStartRun_LaunchFailure(t *testing.T) {
	repo := testutil.InitGitRepo(t)
	var out bytes.Buffer
	o, err := New(repo,
		WithWorkerCommand(filepath.Join(t.TempDir(), "no-such-worker")),
		WithOutput(&out),
		WithIsolation(models.IsolationShared),
	)
	if err != nil {
		t.Fatal(err)
	}

	run, err := o.StartRun(context.Background(), "task", agents("alpha"), "main")
	if err != nil {
		t.Fatalf("StartRun() error = %v", err)
	}
	if run.Status != models.RunStatusCompleted {
		t.Errorf("run status = %s", run.Status)
	}
	a := run.Agents["alpha"]
	if a.Status != models.AgentError || a.Message != "worker launch failed" {
		t.Errorf("alpha = %+v", a)
	}
	if run.ExitCodes["alpha"] != -1 {
		t.Errorf("exit code = %d, want -1", run.ExitCodes["alpha"])
	}
}

func TestStartRun_RejectsBeforeSpawning(t *testing.T) {
	repo := testutil.InitGitRepo(t)

	tests := []struct {
		name    string
		agents  []config.AgentConfig
		task    string
		wantErr error
	}{
		{"duplicate ids", agents("alpha", "beta", "alpha"), "task", ErrDuplicateAgent},
		{"no agents", nil, "task", ErrNoAgents},
		{"empty id", agents(""), "task", nil},
		{"empty task", agents("alpha"), "  ", nil},
		{"slash in id", agents("team/alpha", "beta"), "task", ErrInvalidAgentID},
		{"space in id", agents("two words"), "task", ErrInvalidAgentID},
		{"dot-dot in id", agents("a..b"), "task", ErrInvalidAgentID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out bytes.Buffer
			o := newTestOrchestrator(t, repo, &out)

			_, err := o.StartRun(context.Background(), tt.task, tt.agents, "main")
			if err == nil {
				t.Fatal("StartRun() error = nil")
			}
			if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
				t.Errorf("StartRun() error = %v, want %v", err, tt.wantErr)
			}
			if o.Registry().Count() != 0 || out.Len() != 0 {
				t.Error("rejected run left state or output behind")
			}
		})
	}
}

func TestStartRun_SetupError(t *testing.T) {
	t.Run("not a repository", func(t *testing.T) {
		testutil.InitGitRepo(t) // skips without git
		var out bytes.Buffer
		o := newTestOrchestrator(t, t.TempDir(), &out)

		_, err := o.StartRun(context.Background(), "task", agents("alpha"), "")
		var setupErr *RunSetupError
		if !errors.As(err, &setupErr) {
			t.Fatalf("StartRun() error = %v, want RunSetupError", err)
		}
		var opErr *git.OperationError
		if !errors.As(err, &opErr) {
			t.Errorf("setup error should wrap the git failure: %v", err)
		}
	})

	t.Run("detached HEAD", func(t *testing.T) {
		repo := testutil.InitGitRepo(t)
		testutil.Git(t, repo, "checkout", "-q", "--detach")
		var out bytes.Buffer
		o := newTestOrchestrator(t, repo, &out)

		_, err := o.StartRun(context.Background(), "task", agents("alpha"), "")
		var setupErr *RunSetupError
		if !errors.As(err, &setupErr) {
			t.Fatalf("StartRun() error = %v, want RunSetupError", err)
		}
	})
}

func TestStartRun_PersistsForOtherProcesses(t *testing.T) {
	repo := testutil.InitGitRepo(t)
	db, err := state.OpenProject(repo)
	if err != nil {
		t.Fatalf("OpenProject() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })

	var out bytes.Buffer
	o := newTestOrchestrator(t, repo, &out, WithStore(db))
	startRun(t, o, "alpha", "crash")

	// A fresh orchestrator has an empty registry and must use the store.
	reader, err := New(repo, WithStore(db), WithWorkerCommand("unused"))
	if err != nil {
		t.Fatal(err)
	}

	status := reader.GetRunStatus(testRunID)
	if !status.Found() || status.OverallStatus != string(models.RunStatusCompleted) {
		t.Fatalf("GetRunStatus() = %+v", status)
	}
	if status.Run.ExitCodes["crash"] != 3 || status.Run.Cleanup == nil {
		t.Errorf("stored run = %+v", status.Run)
	}
	if outputs := reader.GetAgentOutputs(testRunID, "alpha"); !outputs.Success {
		t.Errorf("GetAgentOutputs(alpha) = %+v", outputs)
	}
	if file := reader.GetFileContent(testRunID, "alpha", "out.txt"); !file.Success {
		t.Errorf("GetFileContent() = %+v", file)
	}

	runs, err := reader.ListRuns(0)
	if err != nil || len(runs) != 1 {
		t.Errorf("ListRuns() = %d runs, %v", len(runs), err)
	}
}

func TestRecoverInterrupted(t *testing.T) {
	repo := testutil.InitGitRepo(t)
	db, err := state.OpenProject(repo)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	o, err := New(repo, WithStore(db), WithWorkerCommand("unused"))
	if err != nil {
		t.Fatal(err)
	}

	// Leave behind what a killed supervisor would: a running record, a
	// worktree, and an agent branch with a commit.
	run := &models.Run{
		ID:             testRunID,
		Task:           "task",
		BaseBranch:     "main",
		OriginalBranch: "main",
		Isolation:      models.IsolationWorktree,
		Status:         models.RunStatusRunning,
		AgentOrder:     []string{"alpha"},
		Agents: map[string]*models.AgentState{
			"alpha": {AgentID: "alpha", BranchName: models.AgentBranchName("alpha", testRunID), Status: models.AgentProcessing},
		},
		StartedAt: time.Now(),
	}
	if err := db.SaveRun(run); err != nil {
		t.Fatal(err)
	}
	wt := o.worktreePath(run.ID, run.Agents["alpha"].BranchName)
	if err := os.MkdirAll(filepath.Dir(wt), 0755); err != nil {
		t.Fatal(err)
	}
	testutil.Git(t, repo, "worktree", "add", "-q", "-b", run.Agents["alpha"].BranchName, wt)
	testutil.WriteFile(t, wt, "partial.txt", "half done\n")
	testutil.Git(t, wt, "add", ".")
	testutil.Git(t, wt, "commit", "-q", "-m", "partial")

	recovered, err := o.RecoverInterrupted()
	if err != nil {
		t.Fatalf("RecoverInterrupted() error = %v", err)
	}
	if len(recovered) != 1 || recovered[0].Status != models.RunStatusCompleted {
		t.Fatalf("recovered = %+v", recovered)
	}
	if !recovered[0].Cleanup.Complete() {
		t.Errorf("cleanup = %+v", recovered[0].Cleanup)
	}
	assertNoAgentBranches(t, repo, run.ID)
	if _, err := os.Stat(wt); !os.IsNotExist(err) {
		t.Errorf("worktree %s still exists: %v", wt, err)
	}

	stored, err := db.GetRun(run.ID)
	if err != nil || stored.Status != models.RunStatusCompleted {
		t.Errorf("stored run = %+v, %v", stored, err)
	}
	if file := o.GetFileContent(run.ID, "alpha", "partial.txt"); !file.Success {
		t.Errorf("partial result not preserved: %+v", file)
	}
}

func TestRecoverInterrupted_LeavesMovedCheckout(t *testing.T) {
	repo := testutil.InitGitRepo(t)
	db, err := state.OpenProject(repo)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })

	o, err := New(repo, WithStore(db), WithWorkerCommand("unused"))
	if err != nil {
		t.Fatal(err)
	}

	branch := models.AgentBranchName("alpha", testRunID)
	run := &models.Run{
		ID:             testRunID,
		Task:           "task",
		BaseBranch:     "main",
		OriginalBranch: "main",
		Isolation:      models.IsolationWorktree,
		Status:         models.RunStatusRunning,
		AgentOrder:     []string{"alpha"},
		Agents: map[string]*models.AgentState{
			"alpha": {AgentID: "alpha", BranchName: branch, Status: models.AgentProcessing},
		},
		StartedAt: time.Now(),
	}
	if err := db.SaveRun(run); err != nil {
		t.Fatal(err)
	}
	testutil.Git(t, repo, "branch", branch)

	// The user has moved on since the run died.
	testutil.Git(t, repo, "checkout", "-q", "-b", "my-feature")

	recovered, err := o.RecoverInterrupted()
	if err != nil || len(recovered) != 1 {
		t.Fatalf("RecoverInterrupted() = %v, %v", recovered, err)
	}
	if head := testutil.Git(t, repo, "rev-parse", "--abbrev-ref", "HEAD"); head != "my-feature" {
		t.Errorf("HEAD = %s, want my-feature", head)
	}
	if c := recovered[0].Cleanup; !c.Complete() || c.SwitchError != "" {
		t.Errorf("cleanup = %+v", c)
	}
	assertNoAgentBranches(t, repo, run.ID)
}

func TestStartRun_WorkerOutlivedByDescendant(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	repo := testutil.InitGitRepo(t)
	var out bytes.Buffer
	// The background sleep inherits stdout and keeps it open after sh exits.
	script := `sleep 20 & printf '{"status":"starting","runId":"%s","agentId":"%s","message":"up"}\n' "$4" "$5"; exit 0`
	o, err := New(repo,
		WithWorkerCommand("sh", "-c", script, "sh"),
		WithOutput(&out),
		WithRunIDGenerator(func() string { return testRunID }),
	)
	if err != nil {
		t.Fatal(err)
	}

	start := time.Now()
	run := startRun(t, o, "alpha")
	if elapsed := time.Since(start); elapsed > 15*time.Second {
		t.Errorf("StartRun took %s; blocked on the descendant's pipe", elapsed)
	}
	if run.ExitCodes["alpha"] != 0 || run.Agents["alpha"].Status != models.AgentStarting {
		t.Errorf("exit=%d status=%s", run.ExitCodes["alpha"], run.Agents["alpha"].Status)
	}
	assertNoAgentBranches(t, repo, run.ID)
}
