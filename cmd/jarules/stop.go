package main

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/witchcraftery/jarules-sub000/internal/collab"
)

var stopClear bool

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Ask running agents to stop",
	Long: `Drop a stop file into .jarules/signals. Workers check it between
generation steps and finish with an error status on their next check.

The file stays until cleared, so start new runs after 'jarules stop --clear'.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		repo, err := resolveRepo()
		if err != nil {
			return err
		}
		stopSignal, err := collab.NewStopSignal(collab.SignalsDir(repo))
		if err != nil {
			return fmt.Errorf("open signals directory: %w", err)
		}
		defer stopSignal.Close()

		if stopClear {
			stopSignal.Clear()
			printStatus("✓", "Stop signal cleared", color.FgGreen)
			return nil
		}
		if err := stopSignal.Send(); err != nil {
			return fmt.Errorf("send stop signal: %w", err)
		}
		printStatus("✓", "Stop signal sent", color.FgGreen)
		return nil
	},
}

func init() {
	stopCmd.Flags().BoolVar(&stopClear, "clear", false, "Remove the stop signal")
}
