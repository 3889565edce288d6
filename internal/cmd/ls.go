package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"kild/internal/protocol"
	"kild/internal/termstyle"
)

func newLsCmd() *cobra.Command {
	var projectID string
	cmd := &cobra.Command{
		Use:   "ls",
		Short: "List sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			codec, closeConn, err := dialDaemon()
			if err != nil {
				return err
			}
			defer closeConn()

			resp, err := roundTrip(codec, &protocol.Request{
				Type: protocol.TypeListSessions, ID: "ls", ProjectID: projectID,
			})
			if err != nil {
				return err
			}

			if len(resp.Sessions) == 0 {
				fmt.Println("No sessions.")
				return nil
			}
			for _, s := range resp.Sessions {
				clients := 0
				if s.ClientCount != nil {
					clients = *s.ClientCount
				}
				fmt.Printf("%s  %s %-10s  %-20s  %s  clients=%d\n", s.ID, statusDot(s.Status), s.Status, s.Branch, s.Agent, clients)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&projectID, "project", "", "Filter by project ID")
	return cmd
}

// statusDot renders a colored status indicator for a session's lifecycle state.
func statusDot(status string) string {
	switch status {
	case "running":
		return termstyle.GreenDot()
	case "creating":
		return termstyle.YellowDot()
	case "exited":
		return termstyle.RedX()
	default: // "stopped"
		return termstyle.GrayDot()
	}
}
