package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/witchcraftery/jarules-sub000/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("jarules version %s\n", version.String())
	},
}
