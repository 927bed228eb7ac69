package session

import (
	"sort"

	"github.com/corvino/tripsync/internal/protocol"
	"github.com/corvino/tripsync/internal/votes"
)

// Participant is one live connection in the room.
type Participant struct {
	UserID       string `json:"userId"`
	Username     string `json:"username"`
	ConnectionID string `json:"connectionId,omitempty"`
}

// ActivityView is a proposal with its derived tally and the local user's vote.
// Unstored proposals cannot be voted on yet.
type ActivityView struct {
	protocol.ActivityProposal
	Tally    protocol.Tally `json:"tally"`
	MyVote   *bool          `json:"myVote,omitempty"`
	Unstored bool           `json:"unstored,omitempty"`
}

// Snapshot is a deep copy of the view model, safe to render without locking.
type Snapshot struct {
	TripID        string                  `json:"tripId"`
	TripName      string                  `json:"tripName"`
	Messages      []protocol.ChatMessage  `json:"messages"`
	Activities    []ActivityView          `json:"activities"`
	Collaborators []protocol.Collaborator `json:"collaborators"`
	Presence      []Participant           `json:"presence"`
}

// Present reports whether userID has at least one live connection.
func (s Snapshot) Present(userID string) bool {
	for _, p := range s.Presence {
		if p.UserID == userID {
			return true
		}
	}
	return false
}

// Activity returns the activity with id, if present.
func (s Snapshot) Activity(id string) (ActivityView, bool) {
	for _, a := range s.Activities {
		if a.ID == id {
			return a, true
		}
	}
	return ActivityView{}, false
}

// snapshotLocked builds a Snapshot. s.mu must be held.
func (s *Synchronizer) snapshotLocked() Snapshot {
	snap := Snapshot{
		TripID:        s.cfg.TripID,
		TripName:      s.tripName,
		Messages:      make([]protocol.ChatMessage, len(s.messages)),
		Activities:    make([]ActivityView, len(s.activities)),
		Collaborators: append([]protocol.Collaborator{}, s.collaborators...),
		Presence:      make([]Participant, 0, len(s.presence)),
	}
	for i, m := range s.messages {
		if m.ID != nil {
			id := *m.ID
			m.ID = &id
		}
		snap.Messages[i] = m
	}
	for i, a := range s.activities {
		av := ActivityView{ActivityProposal: a.Clone(), Tally: votes.Tally(a), Unstored: !s.confirmed[a.ID]}
		if v, ok := votes.Find(a, s.cfg.UserID); ok {
			val := v.Value
			av.MyVote = &val
		}
		snap.Activities[i] = av
	}
	for k, name := range s.presence {
		snap.Presence = append(snap.Presence, Participant{UserID: k.userID, Username: name, ConnectionID: k.connectionID})
	}
	sort.Slice(snap.Presence, func(i, j int) bool {
		a, b := snap.Presence[i], snap.Presence[j]
		if a.UserID != b.UserID {
			return a.UserID < b.UserID
		}
		return a.ConnectionID < b.ConnectionID
	})
	return snap
}
