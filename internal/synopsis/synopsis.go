// Package synopsis renders a trip's durable record as a markdown digest.
package synopsis

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/corvino/tripsync/internal/protocol"
	"github.com/corvino/tripsync/internal/votes"
)

// Build creates a markdown digest of trip as of now: who is on it, the chat
// transcript and the proposed activities ranked by net votes.
func Build(trip protocol.TripRecord, now time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# %s: trip digest, %s\n\n", displayName(trip), now.Local().Format("2006-01-02 15:04"))

	var active, pending []string
	for _, c := range trip.Collaborators {
		name := c.Username
		if name == "" {
			name = c.Email
		}
		if c.Role == protocol.RoleAdmin {
			name += " (admin)"
		}
		if c.Status == protocol.StatusPending {
			pending = append(pending, name)
		} else {
			active = append(active, name)
		}
	}
	fmt.Fprintf(&b, "**Collaborators**: %s\n", listOrNone(active))
	if len(pending) > 0 {
		fmt.Fprintf(&b, "**Invited**: %s\n", strings.Join(pending, ", "))
	}

	msgs := trip.Messages
	if len(msgs) > 0 {
		first := msgs[0].Timestamp.Local().Format("Jan 02 15:04")
		last := msgs[len(msgs)-1].Timestamp.Local().Format("Jan 02 15:04")
		fmt.Fprintf(&b, "**Time range**: %s to %s\n", first, last)
	}
	fmt.Fprintf(&b, "**Messages**: %d\n", len(msgs))
	fmt.Fprintf(&b, "**Activities**: %d\n", len(trip.Activities))

	fmt.Fprintf(&b, "\n---\n\n## Activities\n\n")
	if len(trip.Activities) == 0 {
		b.WriteString("*Nothing proposed yet.*\n\n")
	}
	for _, r := range rank(trip.Activities) {
		fmt.Fprintf(&b, "- %s: **%s** (proposed by %s) %d yes / %d no\n", r.verdict(), r.act.Content, r.act.ProposerName, r.tally.Yes, r.tally.No)
	}

	fmt.Fprintf(&b, "\n## Transcript\n\n")
	day := ""
	for _, m := range msgs {
		ts := m.Timestamp.Local()
		if d := ts.Format("Monday, Jan 02"); d != day {
			day = d
			fmt.Fprintf(&b, "### %s\n\n", d)
		}
		fmt.Fprintf(&b, "[%s] **%s**: %s\n\n", ts.Format("15:04"), m.SenderName, m.Content)
	}

	return b.String()
}

type ranked struct {
	act   protocol.ActivityProposal
	tally protocol.Tally
}

func (r ranked) verdict() string {
	switch {
	case r.tally.Yes == 0 && r.tally.No == 0:
		return "undecided"
	case r.tally.Yes > r.tally.No:
		return "in"
	case r.tally.Yes < r.tally.No:
		return "out"
	}
	return "tied"
}

// rank orders activities by net votes, then by yes count, then by proposal
// time.
func rank(acts []protocol.ActivityProposal) []ranked {
	out := make([]ranked, len(acts))
	for i, a := range acts {
		out[i] = ranked{act: a, tally: votes.Tally(a)}
	}
	sort.SliceStable(out, func(i, j int) bool {
		ni := out[i].tally.Yes - out[i].tally.No
		nj := out[j].tally.Yes - out[j].tally.No
		if ni != nj {
			return ni > nj
		}
		if out[i].tally.Yes != out[j].tally.Yes {
			return out[i].tally.Yes > out[j].tally.Yes
		}
		return out[i].act.Timestamp.Before(out[j].act.Timestamp)
	})
	return out
}

func displayName(trip protocol.TripRecord) string {
	if trip.Name != "" {
		return trip.Name
	}
	return trip.ID
}

func listOrNone(names []string) string {
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, ", ")
}
