package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var diffCmd = &cobra.Command{
	Use:   "diff <runId> <agentId>",
	Short: "Show an agent's changes against the run's base branch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(io.Discard)
		if err != nil {
			return err
		}
		defer s.Close()

		diff, err := s.orch.GetAgentDiff(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Print(diff)
		return nil
	},
}
