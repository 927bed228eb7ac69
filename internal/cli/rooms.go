package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRoomsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rooms",
		Short: "List trips with live participants on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			list, err := newGateway().Rooms(cmd.Context())
			if err != nil {
				return err
			}

			if len(list.Rooms) == 0 {
				fmt.Println("no active rooms")
				return nil
			}

			fmt.Printf("%-38s %8s %8s\n", "TRIP", "HANDLES", "USERS")
			for _, r := range list.Rooms {
				fmt.Printf("%-38s %8d %8d\n", r.TripID, r.Handles, r.Users)
			}
			return nil
		},
	}
}
