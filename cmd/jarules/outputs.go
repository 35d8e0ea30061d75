package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var outputsJSON bool

var outputsCmd = &cobra.Command{
	Use:   "outputs <runId> <agentId>",
	Short: "Show what a completed agent produced",
	Long: `Show an agent's result summary, key output files and committed files.

Only agents that reached "completed" have outputs; for any other agent the
command reports why and exits non-zero.`,
	Args: cobra.ExactArgs(2),
	RunE: runOutputs,
}

func init() {
	outputsCmd.Flags().BoolVar(&outputsJSON, "json", false, "Print as JSON")
}

func runOutputs(cmd *cobra.Command, args []string) error {
	s, err := openSession(io.Discard)
	if err != nil {
		return err
	}
	defer s.Close()

	out := s.orch.GetAgentOutputs(args[0], args[1])
	if outputsJSON {
		if err := writeJSON(os.Stdout, out); err != nil {
			return err
		}
	} else if out.Success {
		fmt.Printf("Agent %s (%s)\n\n%s\n", out.AgentID, out.BranchName, out.ResultSummary)
		fmt.Println("\nKey files:")
		for _, f := range out.KeyFilePaths {
			fmt.Printf("  %s\n", f)
		}
		fmt.Println("\nCommitted:")
		for _, f := range out.CommittedFiles {
			fmt.Printf("  %s\n", f)
		}
		if out.ResultRef != "" {
			fmt.Printf("\nPinned at %s\n", out.ResultRef)
		}
	}

	if !out.Success {
		return fmt.Errorf("%s", out.Error)
	}
	return nil
}
