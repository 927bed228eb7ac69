// Package votes applies yes/no votes to activity proposals.
//
// Each stored vote remembers the envelope timestamp it was applied with, so
// the per-user last-applied time lives on the proposal itself and rolls back
// with it. Apply is idempotent and commutative: any delivery order of the same
// set of votes ends in the same state.
package votes

import (
	"time"

	"github.com/corvino/tripsync/internal/protocol"
)

// Apply records userID's vote on act with last-write-wins by ts. It reports
// whether act changed. A vote older than the one already applied for the user
// is discarded. On equal timestamps a "no" beats a "yes" so that conflicting
// replays converge regardless of arrival order.
func Apply(act *protocol.ActivityProposal, userID string, value bool, ts time.Time) bool {
	idx := -1
	for i, v := range act.Votes {
		if v.UserID == userID {
			idx = i
			break
		}
	}
	if idx >= 0 {
		prev := act.Votes[idx]
		switch {
		case ts.Before(prev.CastAt):
			return false
		case ts.Equal(prev.CastAt) && (prev.Value == value || !prev.Value):
			return false
		}
		act.Votes = append(act.Votes[:idx], act.Votes[idx+1:]...)
	}
	act.Votes = append(act.Votes, protocol.Vote{UserID: userID, Value: value, CastAt: ts})
	return true
}

// Tally counts yes and no votes. It is recomputed on every call.
func Tally(act protocol.ActivityProposal) protocol.Tally {
	var t protocol.Tally
	for _, v := range act.Votes {
		if v.Value {
			t.Yes++
		} else {
			t.No++
		}
	}
	return t
}

// Find returns the user's current vote on act, if any.
func Find(act protocol.ActivityProposal, userID string) (protocol.Vote, bool) {
	for _, v := range act.Votes {
		if v.UserID == userID {
			return v, true
		}
	}
	return protocol.Vote{}, false
}
