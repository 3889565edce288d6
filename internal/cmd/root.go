// Package cmd implements the kild CLI's cobra command tree. Every command
// here is wire-protocol glue: dial the daemon socket, send one request,
// print the reply. No session lifecycle logic lives in this package.
package cmd

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root cobra command with all subcommands.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "kild",
		Short: "Manage a fleet of AI coding-assistant sessions",
		Long:  "kild owns the lifecycle of agent subprocesses and multiplexes I/O between clients and a long-lived session daemon.",
	}

	rootCmd.AddCommand(
		newDaemonCmd(),
		newLsCmd(),
		newAttachCmd(),
		newStopCmd(),
		newRmCmd(),
	)

	return rootCmd
}
