package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/corvino/tripsync/internal/protocol"
	"github.com/corvino/tripsync/internal/session"
)

func newWatchCmd() *cobra.Command {
	var noColor bool

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Follow the trip live: chat, proposals, votes and presence",
		RunE: func(cmd *cobra.Command, args []string) error {
			changes := make(chan struct{}, 1)
			notify := func() {
				select {
				case changes <- struct{}{}:
				default:
				}
			}

			v, err := openView(cmd.Context(), notify)
			if err != nil {
				return err
			}
			defer v.Close()
			fmt.Fprintf(os.Stderr, "watching trip %q as %q (Ctrl+C to stop)\n", flagTrip, flagUser)

			w := newWatcher(os.Stdout, useColor(noColor))
			w.render(v.Snapshot())
			for {
				select {
				case <-cmd.Context().Done():
					fmt.Fprintln(os.Stderr, "\ndisconnecting...")
					return nil
				case <-changes:
					w.render(v.Snapshot())
				}
			}
		},
	}

	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output (useful for piping/logging)")
	return cmd
}

// watcher prints what changed between successive snapshots.
type watcher struct {
	out      io.Writer
	color    bool
	seen     map[protocol.DedupKey]bool
	tallies  map[string]protocol.Tally
	presence map[string]string
	primed   bool
}

func newWatcher(out io.Writer, color bool) *watcher {
	return &watcher{
		out:      out,
		color:    color,
		seen:     make(map[protocol.DedupKey]bool),
		tallies:  make(map[string]protocol.Tally),
		presence: make(map[string]string),
	}
}

func (w *watcher) render(snap session.Snapshot) {
	for _, m := range snap.Messages {
		key := m.DedupKey()
		if w.seen[key] {
			continue
		}
		w.seen[key] = true
		fmt.Fprintln(w.out, formatMessage(m, w.color))
	}

	for _, a := range snap.Activities {
		prev, ok := w.tallies[a.ID]
		switch {
		case !ok:
			fmt.Fprintln(w.out, "+ "+formatActivity(a, w.color))
		case prev != a.Tally:
			fmt.Fprintln(w.out, "~ "+formatActivity(a, w.color))
		}
		w.tallies[a.ID] = a.Tally
	}

	now := make(map[string]string, len(snap.Presence))
	for _, p := range snap.Presence {
		now[p.UserID] = p.Username
	}
	// The first render lists everyone once instead of a line per arrival.
	if !w.primed {
		fmt.Fprintf(w.out, "--- online: %s\n", formatPresence(snap.Presence))
	} else {
		for id, name := range now {
			if _, ok := w.presence[id]; !ok {
				fmt.Fprintf(w.out, "--- %s joined\n", colorName(id, name, w.color))
			}
		}
		for id, name := range w.presence {
			if _, ok := now[id]; !ok {
				fmt.Fprintf(w.out, "--- %s left\n", colorName(id, name, w.color))
			}
		}
	}
	w.presence = now
	w.primed = true
}
