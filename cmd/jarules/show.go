package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var showCmd = &cobra.Command{
	Use:   "show <runId> <agentId> <path>",
	Short: "Print a file as an agent left it",
	Long: `Print a file from the tip of an agent's branch, or from its pinned
result ref once the branch has been cleaned up. No checkout is touched.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := openSession(io.Discard)
		if err != nil {
			return err
		}
		defer s.Close()

		res := s.orch.GetFileContent(args[0], args[1], args[2])
		if !res.Success {
			return fmt.Errorf("%s", res.Error)
		}
		fmt.Print(res.Content)
		return nil
	},
}
