package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Check server health and who is in your trip's room",
		RunE: func(cmd *cobra.Command, args []string) error {
			gw := newGateway()
			health, err := gw.Health(cmd.Context())
			if err != nil {
				return fmt.Errorf("server unreachable: %w", err)
			}

			fmt.Printf("Status:  %s\n", health.Status)
			fmt.Printf("Uptime:  %s\n", health.Uptime)
			fmt.Printf("Rooms:   %d\n", health.Rooms)

			if flagTrip == "" {
				return nil
			}
			parts, err := gw.Participants(cmd.Context(), flagTrip)
			if err != nil {
				return err
			}
			fmt.Printf("Trip:    %s (%d connections)\n", flagTrip, len(parts.Participants))
			for _, p := range parts.Participants {
				fmt.Printf("  %-20s since %s\n", p.Username, p.JoinedAt.Local().Format("15:04:05"))
			}
			return nil
		},
	}
}
