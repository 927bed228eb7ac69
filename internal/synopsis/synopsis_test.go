package synopsis_test

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/corvino/tripsync/internal/protocol"
	"github.com/corvino/tripsync/internal/synopsis"
)

func TestBuild(t *testing.T) {
	t0 := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	trip := protocol.TripRecord{
		ID:   "trip-1",
		Name: "Lisbon",
		Collaborators: []protocol.Collaborator{
			{Username: "Alice", Role: protocol.RoleAdmin, Status: protocol.StatusActive},
			{Username: "Bob", Role: protocol.RoleMember, Status: protocol.StatusActive},
			{Email: "carol@example.com", Role: protocol.RoleMember, Status: protocol.StatusPending},
		},
		Messages: []protocol.ChatMessage{
			{SenderName: "Alice", Content: "where to?", Timestamp: t0},
			{SenderName: "Bob", Content: "the coast", Timestamp: t0.Add(time.Hour)},
		},
		Activities: []protocol.ActivityProposal{
			{Content: "museum", ProposerName: "Bob", Timestamp: t0, Votes: []protocol.Vote{{UserID: "a", Value: false}}},
			{Content: "surf", ProposerName: "Alice", Timestamp: t0.Add(time.Minute), Votes: []protocol.Vote{{UserID: "a", Value: true}, {UserID: "b", Value: true}}},
			{Content: "fado", ProposerName: "Alice", Timestamp: t0.Add(2 * time.Minute)},
		},
	}

	got := synopsis.Build(trip, t0)

	assert.Contains(t, got, "# Lisbon: trip digest")
	assert.Contains(t, got, "**Collaborators**: Alice (admin), Bob")
	assert.Contains(t, got, "**Invited**: carol@example.com")
	assert.Contains(t, got, "**Messages**: 2")
	assert.Contains(t, got, "**Bob**: the coast")

	surf := strings.Index(got, "in: **surf**")
	fado := strings.Index(got, "undecided: **fado**")
	museum := strings.Index(got, "out: **museum**")
	assert.True(t, surf >= 0 && fado > surf && museum > fado, "activities ranked by net votes:\n%s", got)
}

func TestBuild_EmptyTrip(t *testing.T) {
	got := synopsis.Build(protocol.TripRecord{ID: "trip-9"}, time.Now())
	assert.Contains(t, got, "# trip-9: trip digest")
	assert.Contains(t, got, "**Collaborators**: none")
	assert.Contains(t, got, "*Nothing proposed yet.*")
}
