package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/witchcraftery/jarules-sub000/internal/orchestrator"
)

var archiveDir string

var archiveCmd = &cobra.Command{
	Use:   "archive <runId> <agentId>",
	Short: "Export an agent's result as a zip",
	Long: `Write the tree of an agent's result to
run_<runId>_agent_<agentId>_<branch>.zip in the archive directory
(workspace.archive_dir, or --dir) and print its path.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		var extra []orchestrator.Option
		if archiveDir != "" {
			extra = append(extra, orchestrator.WithArchiveDir(archiveDir))
		}
		s, err := openSession(io.Discard, extra...)
		if err != nil {
			return err
		}
		defer s.Close()

		a, err := s.orch.CreateZipArchive(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Println(a.Path)
		return nil
	},
}

func init() {
	archiveCmd.Flags().StringVar(&archiveDir, "dir", "", "Directory to write the zip to")
}
