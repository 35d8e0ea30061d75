package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	cleanupRefs  bool
	cleanupRunID string
)

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Finish interrupted runs and drop pinned results",
	Long: `Clean up after runs whose 'jarules run' process died before it could
remove its worktrees and agent branches. Those runs are torn down the same
way a finished run is and marked completed.

With --refs, also delete the refs/jarules/ result refs that keep agent output
readable after cleanup, for one run (--run) or for all of them.`,
	Args: cobra.NoArgs,
	RunE: runCleanup,
}

func init() {
	cleanupCmd.Flags().BoolVar(&cleanupRefs, "refs", false, "Delete pinned result refs")
	cleanupCmd.Flags().StringVar(&cleanupRunID, "run", "", "Only delete result refs of this run")
}

func runCleanup(cmd *cobra.Command, args []string) error {
	s, err := openSession(io.Discard)
	if err != nil {
		return err
	}
	defer s.Close()

	recovered, err := s.orch.RecoverInterrupted()
	if err != nil {
		return fmt.Errorf("recover interrupted runs: %w", err)
	}
	if len(recovered) == 0 {
		printStatus("✓", "No interrupted runs", color.FgGreen)
	}
	for _, run := range recovered {
		if run.Cleanup != nil && !run.Cleanup.Complete() {
			printStatus("⚠", fmt.Sprintf("Run %s recovered, cleanup incomplete", run.ID), color.FgYellow)
			continue
		}
		printStatus("✓", fmt.Sprintf("Run %s recovered", run.ID), color.FgGreen)
	}

	if !cleanupRefs {
		return nil
	}
	deleted, err := s.orch.CleanupRefs(cleanupRunID)
	for _, ref := range deleted {
		printStatus("✓", "Deleted "+ref, color.FgGreen)
	}
	if err != nil {
		return err
	}
	if len(deleted) == 0 {
		fmt.Println("No result refs to delete")
	}
	return nil
}
