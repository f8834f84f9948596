// Package cli assembles the flowmill command tree.
package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

// New builds the root command.
func New(version string) *cobra.Command {
	root := &cobra.Command{
		Use:           "flowmill",
		Short:         "Partitioned workflow broker snapshot engine",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().String("config", "", "path to the configuration file")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(cmd.OutOrStdout(), version)
		},
	}

	root.AddCommand(newServeCmd(), newSnapshotCmd(), versionCmd)
	return root
}
