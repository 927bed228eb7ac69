package session_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/corvino/tripsync/internal/protocol"
	"github.com/corvino/tripsync/internal/session"
	"github.com/corvino/tripsync/internal/votes"
)

// fakeGateway is a function-field test double for session.Gateway.
// Set only the fields a test needs.
type fakeGateway struct {
	loadTrip  func(ctx context.Context, tripID string) (protocol.TripRecord, error)
	appendMsg func(ctx context.Context, tripID, content string, ts time.Time) (protocol.ChatMessage, error)
	propose   func(ctx context.Context, tripID, content string, ts time.Time) (protocol.ActivityProposal, error)
	castVote  func(ctx context.Context, tripID, activityID string, value bool, ts time.Time) (protocol.ActivityProposal, error)
	invite    func(ctx context.Context, tripID, email string) (protocol.Collaborator, error)
}

func (f *fakeGateway) LoadTrip(ctx context.Context, tripID string) (protocol.TripRecord, error) {
	return f.loadTrip(ctx, tripID)
}
func (f *fakeGateway) AppendChatMessage(ctx context.Context, tripID, content string, ts time.Time) (protocol.ChatMessage, error) {
	return f.appendMsg(ctx, tripID, content, ts)
}
func (f *fakeGateway) ProposeActivity(ctx context.Context, tripID, content string, ts time.Time) (protocol.ActivityProposal, error) {
	return f.propose(ctx, tripID, content, ts)
}
func (f *fakeGateway) CastVote(ctx context.Context, tripID, activityID string, value bool, ts time.Time) (protocol.ActivityProposal, error) {
	return f.castVote(ctx, tripID, activityID, value, ts)
}
func (f *fakeGateway) InviteCollaborator(ctx context.Context, tripID, email string) (protocol.Collaborator, error) {
	return f.invite(ctx, tripID, email)
}

var _ session.Gateway = (*fakeGateway)(nil)

// recordingSender captures broadcast envelopes.
type recordingSender struct {
	mu   sync.Mutex
	sent []protocol.Envelope
	down bool
}

func (r *recordingSender) Send(env protocol.Envelope) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.down {
		return false
	}
	r.sent = append(r.sent, env)
	return true
}

func (r *recordingSender) envelopes() []protocol.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Envelope(nil), r.sent...)
}

// fakeSource is a session.EnvelopeSource whose unsubscribe is observable.
type fakeSource struct {
	handler      func(protocol.Envelope)
	unsubscribed bool
}

func (f *fakeSource) OnEnvelope(fn func(protocol.Envelope)) func() {
	f.handler = fn
	return func() { f.unsubscribed = true }
}

// clock hands out strictly increasing millisecond timestamps.
type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(time.Millisecond)
	return c.t
}

// memGateway is an in-memory persistence gateway shared by several clients.
// It applies the same rules as the server: ids on write, last-write-wins votes.
type memGateway struct {
	mu         sync.Mutex
	seq        int
	name       string
	messages   []protocol.ChatMessage
	activities []protocol.ActivityProposal
	collabs    []protocol.Collaborator
}

// client returns a session.Gateway that acts as userID.
func (m *memGateway) client(userID, username string) session.Gateway {
	return &memClient{m: m, userID: userID, username: username}
}

type memClient struct {
	m        *memGateway
	userID   string
	username string
}

func (c *memClient) LoadTrip(_ context.Context, tripID string) (protocol.TripRecord, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	rec := protocol.TripRecord{ID: tripID, Name: c.m.name, Collaborators: append([]protocol.Collaborator{}, c.m.collabs...)}
	rec.Messages = append([]protocol.ChatMessage{}, c.m.messages...)
	for _, a := range c.m.activities {
		rec.Activities = append(rec.Activities, a.Clone())
	}
	return rec, nil
}

func (c *memClient) AppendChatMessage(_ context.Context, _ string, content string, ts time.Time) (protocol.ChatMessage, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.seq++
	id := fmt.Sprintf("m-%d", c.m.seq)
	msg := protocol.ChatMessage{ID: &id, SenderID: c.userID, SenderName: c.username, Content: content, Timestamp: ts}
	c.m.messages = append(c.m.messages, msg)
	return msg, nil
}

func (c *memClient) ProposeActivity(_ context.Context, _ string, content string, ts time.Time) (protocol.ActivityProposal, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	c.m.seq++
	act := protocol.ActivityProposal{ID: fmt.Sprintf("a-%d", c.m.seq), ProposerID: c.userID, ProposerName: c.username, Content: content, Timestamp: ts, Votes: []protocol.Vote{}}
	c.m.activities = append(c.m.activities, act)
	return act.Clone(), nil
}

func (c *memClient) CastVote(_ context.Context, _ string, activityID string, value bool, ts time.Time) (protocol.ActivityProposal, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	for i := range c.m.activities {
		if c.m.activities[i].ID == activityID {
			votes.Apply(&c.m.activities[i], c.userID, value, ts)
			return c.m.activities[i].Clone(), nil
		}
	}
	return protocol.ActivityProposal{}, fmt.Errorf("activity %s not found", activityID)
}

func (c *memClient) InviteCollaborator(_ context.Context, _ string, email string) (protocol.Collaborator, error) {
	c.m.mu.Lock()
	defer c.m.mu.Unlock()
	col := protocol.Collaborator{Email: email, Role: protocol.RoleMember, Status: protocol.StatusPending}
	c.m.collabs = append(c.m.collabs, col)
	return col, nil
}
