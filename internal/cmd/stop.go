package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"kild/internal/protocol"
)

func newStopCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "stop <sid>",
		Short: "Stop a session's agent process",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, closeConn, err := dialDaemon()
			if err != nil {
				return err
			}
			defer closeConn()

			if _, err := roundTrip(codec, &protocol.Request{
				Type: protocol.TypeStopSession, ID: "stop", SessionID: args[0], Force: force,
			}); err != nil {
				return err
			}
			fmt.Printf("stopped %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Skip the graceful shutdown window")
	return cmd
}

func newRmCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "rm <sid>",
		Short: "Stop and remove a session's record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, closeConn, err := dialDaemon()
			if err != nil {
				return err
			}
			defer closeConn()

			if _, err := roundTrip(codec, &protocol.Request{
				Type: protocol.TypeDestroySession, ID: "rm", SessionID: args[0], Force: force,
			}); err != nil {
				return err
			}
			fmt.Printf("removed %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Skip the graceful shutdown window")
	return cmd
}
