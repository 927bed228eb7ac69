package gateway_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvino/tripsync/internal/gateway"
	"github.com/corvino/tripsync/internal/protocol"
)

func newClient(t *testing.T, h http.HandlerFunc) *gateway.Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	return gateway.New(gateway.Config{BaseURL: srv.URL + "/", Token: "secret"})
}

func TestClient_AttachesBearerToken(t *testing.T) {
	var auth string
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		assert.Equal(t, "/api/trips/trip-1", r.URL.Path)
		json.NewEncoder(w).Encode(protocol.TripRecord{ID: "trip-1", Name: "Lisbon"})
	})

	trip, err := c.LoadTrip(context.Background(), "trip-1")

	require.NoError(t, err)
	assert.Equal(t, "Bearer secret", auth)
	assert.Equal(t, "Lisbon", trip.Name)
}

func TestClient_AppendChatMessageSendsTimestamp(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 250_000_000, time.UTC)
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/trips/trip-1/messages", r.URL.Path)
		var req protocol.ChatRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "hello", req.Content)
		assert.True(t, ts.Equal(req.Timestamp))

		id := "m-1"
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(protocol.ChatMessage{ID: &id, Content: req.Content, Timestamp: req.Timestamp})
	})

	msg, err := c.AppendChatMessage(context.Background(), "trip-1", "hello", ts)

	require.NoError(t, err)
	require.NotNil(t, msg.ID)
	assert.Equal(t, "m-1", *msg.ID)
}

func TestClient_CastVotePath(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/trips/trip-1/activities/a-1/votes", r.URL.Path)
		var req protocol.VoteRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(protocol.ActivityProposal{ID: "a-1", Votes: []protocol.Vote{{UserID: "u", Value: req.Value}}})
	})

	act, err := c.CastVote(context.Background(), "trip-1", "a-1", true, time.Now())

	require.NoError(t, err)
	require.Len(t, act.Votes, 1)
	assert.True(t, act.Votes[0].Value)
}

func TestClient_DecodesAPIErrors(t *testing.T) {
	cases := []struct {
		status int
		check  func(error) bool
	}{
		{http.StatusUnauthorized, gateway.IsUnauthorized},
		{http.StatusForbidden, gateway.IsForbidden},
		{http.StatusNotFound, gateway.IsNotFound},
	}
	for _, tc := range cases {
		c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			json.NewEncoder(w).Encode(protocol.ErrorResponse{Error: protocol.ErrorDetail{Code: "x", Message: "nope"}})
		})

		_, err := c.InviteCollaborator(context.Background(), "trip-1", "bob@example.com")

		require.Error(t, err)
		assert.True(t, tc.check(err), "status %d", tc.status)
		var apiErr *gateway.APIError
		require.ErrorAs(t, err, &apiErr)
		assert.Equal(t, "nope", apiErr.Message)
	}
}

func TestClient_NonJSONErrorBody(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad gateway", http.StatusBadGateway)
	})

	_, err := c.ProposeActivity(context.Background(), "trip-1", "x", time.Now())

	var apiErr *gateway.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadGateway, apiErr.Status)
	assert.Contains(t, apiErr.Message, "bad gateway")
	assert.False(t, gateway.IsNotFound(err))
}

func TestClient_Participants(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/rooms/trip 1/participants", r.URL.Path)
		json.NewEncoder(w).Encode(protocol.ParticipantList{
			TripID:       "trip 1",
			Participants: []protocol.ParticipantInfo{{UserID: "bob", Username: "Bob", ConnectionID: "c1"}},
		})
	})

	list, err := c.Participants(context.Background(), "trip 1")

	require.NoError(t, err)
	require.Len(t, list.Participants, 1)
	assert.Equal(t, "bob", list.Participants[0].UserID)
}
