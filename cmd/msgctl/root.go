package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/iwoork/homeforpup-sub006/pkg/logger"
)

var (
	version = "dev"
	commit  = "unknown"
)

func newRootCmd() *cobra.Command {
	var verbose bool
	root := &cobra.Command{
		Use:           "msgctl",
		Short:         "Operator tool for the homeforpup messaging store",
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level := "warn"
			if verbose {
				level = "debug"
			}
			return logger.Init(level, "console")
		},
	}
	root.CompletionOptions.DisableDefaultCmd = true
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")

	root.AddCommand(
		newExportCmd(),
		newImportCmd(),
		newVerifyCmd(),
		newReindexCmd(),
		newWatchCmd(),
		newSendCmd(),
		newVersionCmd(),
	)
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the msgctl version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "msgctl %s (commit: %s)\n", version, commit)
		},
	}
}
