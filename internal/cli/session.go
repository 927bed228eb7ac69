package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/term"

	"github.com/corvino/tripsync/internal/gateway"
	"github.com/corvino/tripsync/internal/protocol"
	"github.com/corvino/tripsync/internal/session"
	"github.com/corvino/tripsync/internal/transport"
)

// openWait bounds how long one-shot commands wait for the room connection
// before writing through the gateway without a live broadcast.
const openWait = 5 * time.Second

func requireTrip() error {
	if flagTrip == "" {
		return fmt.Errorf("trip is required (use -t, TRIPSYNC_TRIP or tripsync join)")
	}
	if flagUser == "" {
		return fmt.Errorf("user id is required (use -u, TRIPSYNC_USER or tripsync join)")
	}
	return nil
}

func newGateway() *gateway.Client {
	return gateway.New(gateway.Config{BaseURL: flagServer, Token: flagToken})
}

// openView opens a collaboration view of the configured trip and waits up to
// openWait for the room connection.
func openView(ctx context.Context, onChange func()) (*session.View, error) {
	if err := requireTrip(); err != nil {
		return nil, err
	}
	name := flagName
	if name == "" {
		name = flagUser
	}
	v := session.NewView(session.ViewConfig{
		ServerURL: flagServer,
		TripID:    flagTrip,
		UserID:    flagUser,
		Username:  name,
		Token:     flagToken,
		Logger:    logger(),
		OnChange:  onChange,
	})
	if err := v.Open(ctx); err != nil {
		return nil, err
	}
	if !waitOpen(ctx, v, openWait) {
		logger().Warn("room connection not open; peers will see this after their next reload")
	}
	return v, nil
}

func waitOpen(ctx context.Context, v *session.View, timeout time.Duration) bool {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for v.Status() != transport.StatusOpen {
		select {
		case <-ctx.Done():
			return false
		case <-deadline.C:
			return false
		case <-tick.C:
		}
	}
	return true
}

// useColor reports whether to colorize output: not disabled by flag and
// stdout is a terminal.
func useColor(disabled bool) bool {
	return !disabled && term.IsTerminal(int(os.Stdout.Fd()))
}

// ANSI color codes for sender coloring.
var senderColors = []string{
	"\033[36m", // Cyan
	"\033[32m", // Green
	"\033[33m", // Yellow
	"\033[35m", // Magenta
	"\033[34m", // Blue
	"\033[31m", // Red
	"\033[96m", // Bright Cyan
	"\033[92m", // Bright Green
}

const ansiReset = "\033[0m"

// senderColor returns a deterministic ANSI color for a user id.
func senderColor(id string) string {
	var h uint32
	for _, c := range id {
		h = h*31 + uint32(c)
	}
	return senderColors[h%uint32(len(senderColors))]
}

func colorName(id, name string, color bool) string {
	if !color {
		return name
	}
	return senderColor(id) + name + ansiReset
}

// formatMessage renders one chat line.
func formatMessage(m protocol.ChatMessage, color bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s: %s", m.Timestamp.Local().Format("Jan 02 15:04"), colorName(m.SenderID, m.SenderName, color), m.Content)
	if m.Failed {
		b.WriteString(" (not saved)")
	}
	return b.String()
}

// formatActivity renders one proposal with its tally and the caller's vote.
func formatActivity(a session.ActivityView, color bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s (by %s)  yes:%d no:%d", a.ID, a.Content, colorName(a.ProposerID, a.ProposerName, color), a.Tally.Yes, a.Tally.No)
	if a.MyVote != nil {
		if *a.MyVote {
			b.WriteString("  you: yes")
		} else {
			b.WriteString("  you: no")
		}
	}
	if a.Unstored {
		b.WriteString("  (saving)")
	}
	return b.String()
}

// formatPresence renders the distinct participants, one name per user.
func formatPresence(ps []session.Participant) string {
	seen := make(map[string]bool, len(ps))
	var names []string
	for _, p := range ps {
		if seen[p.UserID] {
			continue
		}
		seen[p.UserID] = true
		names = append(names, p.Username)
	}
	if len(names) == 0 {
		return "nobody else here"
	}
	return strings.Join(names, ", ")
}
