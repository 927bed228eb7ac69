package service_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corvino/tripsync/internal/domain"
	"github.com/corvino/tripsync/internal/protocol"
	"github.com/corvino/tripsync/internal/service"
)

var serverNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func newCollab(trips *mockTripRepo, msgs *mockMessageRepo, acts *mockActivityRepo, users *mockUserRepo) *service.CollabService {
	return service.NewCollabService(trips, msgs, acts, users).WithClock(func() time.Time { return serverNow })
}

func echoMessages() *mockMessageRepo {
	return &mockMessageRepo{
		appendFn: func(_ context.Context, _ string, m protocol.ChatMessage) (protocol.ChatMessage, error) {
			id := "m-1"
			m.ID = &id
			return m, nil
		},
	}
}

// ---- LoadTrip --------------------------------------------------------------

func TestCollabService_LoadTrip_OK(t *testing.T) {
	msgs := &mockMessageRepo{list: func(context.Context, string) ([]protocol.ChatMessage, error) {
		return []protocol.ChatMessage{{SenderID: alice.UserID, Content: "hi"}}, nil
	}}
	acts := &mockActivityRepo{list: func(context.Context, string) ([]protocol.ActivityProposal, error) {
		return []protocol.ActivityProposal{{ID: "a-1", Content: "Tram 28"}}, nil
	}}
	svc := newCollab(newTripRepo(), msgs, acts, nil)

	got, err := svc.LoadTrip(context.Background(), bob, "trip-1")

	require.NoError(t, err)
	assert.Equal(t, "Lisbon", got.Name)
	assert.Len(t, got.Messages, 1)
	assert.Len(t, got.Activities, 1)
	assert.Len(t, got.Collaborators, 2)
}

func TestCollabService_LoadTrip_AccessRules(t *testing.T) {
	stranger := domain.Identity{UserID: "u-x", Username: "X"}
	cases := []struct {
		name   string
		caller domain.Identity
		tripID string
		want   error
	}{
		{"unknown trip", alice, "trip-9", domain.ErrNotFound},
		{"not a collaborator", stranger, "trip-1", domain.ErrForbidden},
		{"pending collaborator", carol, "trip-1", domain.ErrForbidden},
		{"anonymous", domain.Identity{}, "trip-1", domain.ErrUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := newCollab(newTripRepo(), nil, nil, nil)
			_, err := svc.LoadTrip(context.Background(), tc.caller, tc.tripID)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

// ---- AppendChat ------------------------------------------------------------

func TestCollabService_AppendChat_KeepsNearbyClientTimestamp(t *testing.T) {
	svc := newCollab(newTripRepo(), echoMessages(), nil, nil)
	client := serverNow.Add(-2*time.Minute + 123*time.Millisecond)

	got, err := svc.AppendChat(context.Background(), bob, "trip-1", protocol.ChatRequest{Content: "  hello  ", Timestamp: client})

	require.NoError(t, err)
	assert.Equal(t, "hello", got.Content)
	assert.Equal(t, bob.UserID, got.SenderID)
	assert.Equal(t, "Bob", got.SenderName)
	assert.True(t, client.Equal(got.Timestamp))
	require.NotNil(t, got.ID)
}

func TestCollabService_AppendChat_ReplacesSkewedTimestamp(t *testing.T) {
	svc := newCollab(newTripRepo(), echoMessages(), nil, nil)

	for _, ts := range []time.Time{{}, serverNow.Add(10 * time.Minute), serverNow.Add(-time.Hour)} {
		got, err := svc.AppendChat(context.Background(), bob, "trip-1", protocol.ChatRequest{Content: "x", Timestamp: ts})
		require.NoError(t, err)
		assert.True(t, serverNow.Equal(got.Timestamp), "client ts %v", ts)
	}
}

func TestCollabService_AppendChat_Validation(t *testing.T) {
	svc := newCollab(newTripRepo(), echoMessages(), nil, nil)

	for _, content := range []string{"", "   \n", strings.Repeat("é", service.MaxContentLength+1)} {
		_, err := svc.AppendChat(context.Background(), bob, "trip-1", protocol.ChatRequest{Content: content})
		assert.ErrorIs(t, err, domain.ErrValidation)
	}

	_, err := svc.AppendChat(context.Background(), bob, "trip-1", protocol.ChatRequest{Content: strings.Repeat("é", service.MaxContentLength)})
	assert.NoError(t, err)
}

func TestCollabService_AppendChat_RepoError(t *testing.T) {
	boom := errors.New("db down")
	msgs := &mockMessageRepo{appendFn: func(context.Context, string, protocol.ChatMessage) (protocol.ChatMessage, error) {
		return protocol.ChatMessage{}, boom
	}}
	svc := newCollab(newTripRepo(), msgs, nil, nil)

	_, err := svc.AppendChat(context.Background(), alice, "trip-1", protocol.ChatRequest{Content: "x"})
	assert.ErrorIs(t, err, boom)
}

// ---- ProposeActivity / CastVote --------------------------------------------

func TestCollabService_ProposeActivity(t *testing.T) {
	acts := &mockActivityRepo{create: func(_ context.Context, tripID string, a protocol.ActivityProposal) (protocol.ActivityProposal, error) {
		assert.Equal(t, "trip-1", tripID)
		a.ID = "a-1"
		a.Votes = []protocol.Vote{}
		return a, nil
	}}
	svc := newCollab(newTripRepo(), nil, acts, nil)

	got, err := svc.ProposeActivity(context.Background(), alice, "trip-1", protocol.ProposalRequest{Content: "Sintra day trip"})

	require.NoError(t, err)
	assert.Equal(t, "a-1", got.ID)
	assert.Equal(t, alice.UserID, got.ProposerID)
	assert.True(t, serverNow.Equal(got.Timestamp))
}

func TestCollabService_CastVote(t *testing.T) {
	var stored []protocol.Vote
	acts := &mockActivityRepo{
		get: func(_ context.Context, _ string, id string) (protocol.ActivityProposal, error) {
			if id != "a-1" {
				return protocol.ActivityProposal{}, domain.ErrNotFound
			}
			return protocol.ActivityProposal{ID: "a-1", Votes: append([]protocol.Vote{}, stored...)}, nil
		},
		upsertVote: func(_ context.Context, _ string, v protocol.Vote) (bool, error) {
			stored = append(stored, v)
			return true, nil
		},
	}
	svc := newCollab(newTripRepo(), nil, acts, nil)
	ts := serverNow.Add(-time.Second)

	got, err := svc.CastVote(context.Background(), bob, "trip-1", "a-1", protocol.VoteRequest{Value: true, Timestamp: ts})

	require.NoError(t, err)
	require.Len(t, got.Votes, 1)
	assert.Equal(t, protocol.Vote{UserID: bob.UserID, Value: true, CastAt: ts}, got.Votes[0])

	_, err = svc.CastVote(context.Background(), bob, "trip-1", "a-9", protocol.VoteRequest{Value: true})
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.CastVote(context.Background(), carol, "trip-1", "a-1", protocol.VoteRequest{Value: true})
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

// ---- Invite ----------------------------------------------------------------

func TestCollabService_Invite(t *testing.T) {
	var added []protocol.Collaborator
	trips := newTripRepo()
	trips.addCollaborator = func(_ context.Context, _ string, c protocol.Collaborator) (protocol.Collaborator, bool, error) {
		for _, a := range added {
			if a.Email == c.Email {
				return a, false, nil
			}
		}
		added = append(added, c)
		return c, true, nil
	}
	users := &mockUserRepo{getByEmail: func(_ context.Context, email string) (domain.Identity, error) {
		if email == "dave@example.com" {
			return domain.Identity{UserID: "u-dave"}, nil
		}
		return domain.Identity{}, domain.ErrNotFound
	}}
	svc := newCollab(trips, nil, nil, users)
	ctx := context.Background()

	c, created, err := svc.Invite(ctx, alice, "trip-1", protocol.InviteRequest{Email: "dave@example.com"})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "u-dave", c.UserID)
	assert.Equal(t, protocol.StatusPending, c.Status)
	assert.Equal(t, protocol.RoleMember, c.Role)

	_, created, err = svc.Invite(ctx, alice, "trip-1", protocol.InviteRequest{Email: "dave@example.com"})
	require.NoError(t, err)
	assert.False(t, created)

	c, _, err = svc.Invite(ctx, alice, "trip-1", protocol.InviteRequest{Email: "new@example.com"})
	require.NoError(t, err)
	assert.Empty(t, c.UserID)

	_, _, err = svc.Invite(ctx, bob, "trip-1", protocol.InviteRequest{Email: "x@example.com"})
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, _, err = svc.Invite(ctx, alice, "trip-1", protocol.InviteRequest{Email: "not-an-email"})
	assert.ErrorIs(t, err, domain.ErrValidation)
}
