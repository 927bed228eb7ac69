package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/corvino/tripsync/internal/session"
)

func newShowCmd() *cobra.Command {
	var (
		latest int
		format string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show the trip's chat, activities and who is online",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withView(cmd.Context(), func(v *session.View) error {
				return printSnapshot(v.Snapshot(), latest, format)
			})
		},
	}

	cmd.Flags().IntVar(&latest, "latest", 20, "show only the N most recent messages (0 for all)")
	cmd.Flags().StringVar(&format, "format", "plain", "output format: plain, json")
	return cmd
}

func printSnapshot(snap session.Snapshot, latest int, format string) error {
	if format == "json" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(snap)
	}

	fmt.Printf("%s (%s)\n", snap.TripName, snap.TripID)
	fmt.Printf("online: %s\n\n", formatPresence(snap.Presence))

	msgs := snap.Messages
	if latest > 0 && len(msgs) > latest {
		msgs = msgs[len(msgs)-latest:]
	}
	if len(msgs) == 0 {
		fmt.Println("no messages")
	}
	for _, m := range msgs {
		fmt.Println(formatMessage(m, false))
	}

	fmt.Println()
	if len(snap.Activities) == 0 {
		fmt.Println("no activities proposed")
		return nil
	}
	fmt.Println("activities:")
	for _, a := range snap.Activities {
		fmt.Println("  " + formatActivity(a, false))
	}
	return nil
}
