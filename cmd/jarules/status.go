package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/witchcraftery/jarules-sub000/pkg/models"
)

var (
	statusLimit int
	statusJSON  bool
	statusYAML  bool
)

var statusCmd = &cobra.Command{
	Use:   "status [runId]",
	Short: "Show runs and their agents",
	Long: `Without arguments, list recent runs. With a run id, show every agent's
branch, status and result, the worker exit codes, and the cleanup report.

Unknown run ids print "not_found" rather than failing.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().IntVarP(&statusLimit, "limit", "n", 10, "Number of runs to list")
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "Print as JSON")
	statusCmd.Flags().BoolVar(&statusYAML, "yaml", false, "Print as YAML")
}

var (
	headerStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("7"))
	labelStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	statusStyles = map[string]lipgloss.Style{
		string(models.AgentCompleted):   lipgloss.NewStyle().Foreground(lipgloss.Color("34")),
		string(models.AgentError):       lipgloss.NewStyle().Foreground(lipgloss.Color("196")),
		string(models.AgentProcessing):  lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		string(models.AgentStarting):    lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		string(models.AgentQueued):      lipgloss.NewStyle().Foreground(lipgloss.Color("244")),
		string(models.RunStatusRunning): lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
	}
)

func styledStatus(s string, width int) string {
	style, ok := statusStyles[s]
	if !ok {
		style = lipgloss.NewStyle()
	}
	return style.Width(width).Render(s)
}

func runStatus(cmd *cobra.Command, args []string) error {
	s, err := openSession(io.Discard)
	if err != nil {
		return err
	}
	defer s.Close()

	if len(args) == 0 {
		runs, err := s.orch.ListRuns(statusLimit)
		if err != nil {
			return err
		}
		switch {
		case statusJSON:
			return writeJSON(os.Stdout, runs)
		case statusYAML:
			return writeYAML(os.Stdout, runs)
		}
		displayRuns(os.Stdout, runs)
		return nil
	}

	report := s.orch.GetRunStatus(args[0])
	switch {
	case statusJSON:
		return writeJSON(os.Stdout, report)
	case statusYAML:
		return writeYAML(os.Stdout, report)
	}
	if !report.Found() {
		fmt.Printf("Run %s: %s\n", report.RunID, report.OverallStatus)
		return nil
	}
	displayRun(os.Stdout, report.Run)
	return nil
}

func displayRuns(w io.Writer, runs []*models.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs yet. Run 'jarules run <task>' to start.")
		return
	}

	fmt.Fprintf(w, "%s %s %s %s\n",
		headerStyle.Width(38).Render("RUN"),
		headerStyle.Width(11).Render("STATUS"),
		headerStyle.Width(14).Render("STARTED"),
		headerStyle.Render("TASK"))
	for _, run := range runs {
		done := 0
		for _, a := range run.Agents {
			if a.Status == models.AgentCompleted {
				done++
			}
		}
		fmt.Fprintf(w, "%s %s %s %s\n",
			lipgloss.NewStyle().Width(38).Render(run.ID),
			styledStatus(string(run.Status), 11),
			lipgloss.NewStyle().Width(14).Render(formatAgo(run.StartedAt)),
			fmt.Sprintf("%s (%d/%d ok)", truncate(run.Task, 50), done, len(run.Agents)))
	}
}

func displayRun(w io.Writer, run *models.Run) {
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Run:     "), run.ID)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Status:  "), styledStatus(string(run.Status), 0))
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Task:    "), run.Task)
	base := run.BaseBranch
	if base == "" {
		base = "(HEAD)"
	}
	fmt.Fprintf(w, "%s %s, from %s, %s\n", labelStyle.Render("Branches:"), base, run.OriginalBranch, run.Isolation)
	fmt.Fprintf(w, "%s %s\n", labelStyle.Render("Started: "), formatAgo(run.StartedAt))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "%s %s %s %s %s\n",
		headerStyle.Width(14).Render("AGENT"),
		headerStyle.Width(11).Render("STATUS"),
		headerStyle.Width(5).Render("EXIT"),
		headerStyle.Width(28).Render("BRANCH"),
		headerStyle.Render("RESULT"))
	for _, id := range run.AgentOrder {
		a := run.Agents[id]
		exit := "-"
		if code, ok := run.ExitCodes[id]; ok {
			exit = fmt.Sprint(code)
		}
		result := a.ResultSummary
		if a.Status == models.AgentError {
			result = a.Message + ": " + a.ErrorMessage
		} else if result == "" {
			result = a.Message
		}
		fmt.Fprintf(w, "%s %s %s %s %s\n",
			lipgloss.NewStyle().Width(14).Render(id),
			styledStatus(string(a.Status), 11),
			lipgloss.NewStyle().Width(5).Render(exit),
			lipgloss.NewStyle().Width(28).Render(a.BranchName),
			truncate(firstLine(result), 60))
		if len(a.KeyFilePaths) > 0 {
			fmt.Fprintf(w, "%s %s\n", labelStyle.Render(strings.Repeat(" ", 14)+" key files:"), strings.Join(a.KeyFilePaths, ", "))
		}
	}

	if c := run.Cleanup; c != nil {
		fmt.Fprintln(w)
		state := "complete"
		if !c.Complete() {
			state = "incomplete"
		}
		fmt.Fprintf(w, "%s %s (deleted %d branch(es), removed %d worktree(s), pinned %d ref(s))\n",
			labelStyle.Render("Cleanup: "), state, len(c.DeletedBranches), len(c.RemovedWorktrees), len(c.PreservedRefs))
		if c.SwitchError != "" {
			fmt.Fprintf(w, "  switch back: %s\n", c.SwitchError)
		}
		for b, reason := range c.FailedBranches {
			fmt.Fprintf(w, "  branch %s: %s\n", b, reason)
		}
		for p, reason := range c.FailedWorktrees {
			fmt.Fprintf(w, "  worktree %s: %s\n", p, reason)
		}
	}
}

// formatAgo renders a start time relative to now.
func formatAgo(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	d := time.Since(t)
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("2006-01-02")
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
