package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"kild/internal/config"
	"kild/internal/daemon"
	"kild/internal/daemonserver"
	"kild/internal/protocol"
	"kild/internal/store"
)

func newDaemonCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "daemon",
		Short: "Manage the session daemon",
	}
	cmd.AddCommand(newDaemonStartCmd(), newDaemonStopCmd(), newDaemonRunCmd())
	return cmd
}

func newDaemonStartCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the daemon in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			dir, err := config.ResolveDir()
			if err != nil {
				return fmt.Errorf("resolve kild dir: %w", err)
			}
			if err := daemon.Fork(dir, cfg.Daemon.SocketPath); err != nil {
				return err
			}
			fmt.Println("daemon started")
			return nil
		},
	}
}

func newDaemonStopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, closeConn, err := dialDaemon()
			if err != nil {
				return err
			}
			defer closeConn()

			if _, err := roundTrip(codec, &protocol.Request{Type: protocol.TypeDaemonStop, ID: "daemon-stop"}); err != nil {
				return err
			}
			fmt.Println("daemon stopping")
			return nil
		},
	}
}

// newDaemonRunCmd is the hidden subcommand a forked background process
// actually executes; it runs the daemon in the foreground until shutdown.
func newDaemonRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:    "run",
		Hidden: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			dir, err := config.ResolveDir()
			if err != nil {
				return fmt.Errorf("resolve kild dir: %w", err)
			}
			st := store.New(dir)
			srv := daemonserver.New(cfg.Daemon, st)
			return srv.Run(context.Background())
		},
	}
}
