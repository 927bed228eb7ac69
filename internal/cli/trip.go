package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newTripCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "trip",
		Short: "Manage trips",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "create <name>",
		Short: "Create a trip; you become its admin",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			trip, err := newGateway().CreateTrip(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			fmt.Println(trip.ID)
			fmt.Fprintf(os.Stderr, "created trip %q; run: tripsync join %s %s\n", trip.Name, flagServer, trip.ID)
			return nil
		},
	})
	return cmd
}
