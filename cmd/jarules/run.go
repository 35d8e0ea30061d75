package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/witchcraftery/jarules-sub000/internal/collab"
	"github.com/witchcraftery/jarules-sub000/internal/orchestrator"
	"github.com/witchcraftery/jarules-sub000/internal/protocol"
	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

var (
	runAgents    []string
	runBase      string
	runIsolation string
	runJSON      bool
)

var runCmd = &cobra.Command{
	Use:   "run [flags] <task>",
	Short: "Run a task on several agents in parallel",
	Long: `Run a task on every selected agent at once.

Each agent gets the branch agent-<id>-<run> created from the base branch,
works in its own worktree (or the shared checkout with --isolation shared),
and commits its output. The command returns once every agent has finished
and the branches have been cleaned up. Results stay queryable with
'jarules status', 'jarules outputs', 'jarules show' and 'jarules archive'.

Examples:
  jarules run "Add a CONTRIBUTING.md"
  jarules run --agents sonnet,cli "Write a fizzbuzz in Go"
  jarules run --base develop --json "Document the API"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringSliceVarP(&runAgents, "agents", "a", nil, "Agent ids to run (default: all configured agents)")
	runCmd.Flags().StringVarP(&runBase, "base", "b", "", "Base branch for agent branches (default: defaults.base_branch)")
	runCmd.Flags().StringVar(&runIsolation, "isolation", "", "Workspace isolation: worktree or shared (default: workspace.isolation)")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "Write raw JSON status lines")
}

func runRun(cmd *cobra.Command, args []string) error {
	task := strings.Join(args, " ")

	var out io.Writer = os.Stdout
	var progress *progressWriter
	if !runJSON {
		progress = newProgressWriter(os.Stdout)
		out = progress
	}

	var extra []orchestrator.Option
	if runIsolation != "" {
		mode := models.IsolationMode(runIsolation)
		if !mode.Valid() {
			return fmt.Errorf("invalid --isolation %q (want worktree or shared)", runIsolation)
		}
		extra = append(extra, orchestrator.WithIsolation(mode))
	}

	s, err := openSession(out, extra...)
	if err != nil {
		return err
	}
	defer s.Close()

	if stopPending(s.repo) {
		fmt.Fprintf(os.Stderr, "%s a stop signal is pending; agents will stop at their first check. Clear it with 'jarules stop --clear'.\n",
			color.New(color.FgYellow).Sprint("⚠"))
	}

	agents, err := s.cfg.SelectAgents(runAgents)
	if err != nil {
		return err
	}
	base := runBase
	if base == "" {
		base = s.cfg.Defaults.BaseBranch
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	run, err := s.orch.StartRun(ctx, task, agents, base)
	if err != nil {
		return err
	}

	if progress != nil {
		printRunSummary(run)
	}
	return nil
}

// stopPending reports whether a stop file from an earlier 'jarules stop' is
// still in place.
func stopPending(repo string) bool {
	_, err := os.Stat(filepath.Join(collab.SignalsDir(repo), collab.StopFileName))
	return err == nil
}

func printRunSummary(run *models.Run) {
	fmt.Println()
	fmt.Printf("Run %s finished\n", run.ID)
	for _, id := range run.AgentOrder {
		a := run.Agents[id]
		switch a.Status {
		case models.AgentCompleted:
			printStatus("✓", fmt.Sprintf("%s: %d key file(s), %d committed", id, len(a.KeyFilePaths), len(a.CommittedFiles)), color.FgGreen)
		case models.AgentError:
			printStatus("✗", fmt.Sprintf("%s: %s: %s", id, a.Message, a.ErrorMessage), color.FgRed)
		default:
			printStatus("✗", fmt.Sprintf("%s: worker exited %d while %s", id, run.ExitCodes[id], a.Status), color.FgRed)
		}
	}
	if run.Cleanup != nil && !run.Cleanup.Complete() {
		printStatus("⚠", "cleanup incomplete; see 'jarules status "+run.ID+"'", color.FgYellow)
	}
	fmt.Printf("\nInspect results with: jarules outputs %s <agent>\n", run.ID)
}

// progressWriter turns orchestrator JSON lines into a readable log.
type progressWriter struct {
	mu  sync.Mutex
	w   io.Writer
	buf bytes.Buffer
}

func newProgressWriter(w io.Writer) *progressWriter {
	return &progressWriter{w: w}
}

func (p *progressWriter) Write(data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.buf.Write(data)
	for {
		line, err := p.buf.ReadBytes('\n')
		if err != nil {
			// Incomplete line; keep it for the next write.
			p.buf.Write(line)
			break
		}
		p.render(bytes.TrimSpace(line))
	}
	return len(data), nil
}

func (p *progressWriter) render(line []byte) {
	var update protocol.AgentUpdate
	if err := json.Unmarshal(line, &update); err == nil && update.Type == "agent_update" {
		d := update.Data
		status := d.Status
		if status == "" {
			status = d.Type
		}
		msg := d.Message
		if status == protocol.StatusError && d.ErrorMessage != "" {
			msg += ": " + d.ErrorMessage
		}
		fmt.Fprintf(p.w, "  [%s] %-10s %s\n", d.AgentID, status, msg)
		return
	}

	var runLine struct {
		RunID         string   `json:"runId"`
		OverallStatus string   `json:"overallStatus"`
		AgentIDs      []string `json:"agentIds"`
	}
	if err := json.Unmarshal(line, &runLine); err == nil && runLine.OverallStatus == orchestrator.OverallStarted {
		fmt.Fprintf(p.w, "Run %s started with %s\n", runLine.RunID, strings.Join(runLine.AgentIDs, ", "))
	}
}
