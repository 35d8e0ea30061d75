package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	repoFlag   string
	configFlag string
)

var rootCmd = &cobra.Command{
	Use:   "jarules",
	Short: "Parallel multi-agent task runner",
	Long: `jarules sends one task to several LLM agents at once.

Every agent works on its own branch (agent-<id>-<run>) in its own git
worktree, commits what it produced, and describes its key output files in
SOLUTION_SUMMARY.md. When all agents are done the branches are removed and
their tips stay readable under refs/jarules/<run>/<agent>.

Progress is written to stdout as JSON lines with --json, or as a readable
log otherwise.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&repoFlag, "repo", "", "Repository path (default: the git root of the current directory)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Config file (overrides .jarules.yaml)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(outputsCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(diffCmd)
	rootCmd.AddCommand(agentsCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(versionCmd)
}
