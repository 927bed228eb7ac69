// Package session merges a trip's durable baseline with the live envelope
// stream into one view model.
//
// The Synchronizer is the only writer of the view model. Local actions are
// applied optimistically, broadcast through the room and written through the
// persistence gateway; remote envelopes are de-duplicated and merged. A View
// wires a Synchronizer to a transport connection and a gateway client for
// the lifetime of one open trip.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/corvino/tripsync/internal/protocol"
	"github.com/corvino/tripsync/internal/votes"
)

// maxPendingVotes bounds the buffer of votes for not-yet-seen proposals.
const maxPendingVotes = 512

// Gateway is the persistence surface the Synchronizer writes through.
// *gateway.Client implements it.
type Gateway interface {
	LoadTrip(ctx context.Context, tripID string) (protocol.TripRecord, error)
	AppendChatMessage(ctx context.Context, tripID, content string, ts time.Time) (protocol.ChatMessage, error)
	ProposeActivity(ctx context.Context, tripID, content string, ts time.Time) (protocol.ActivityProposal, error)
	CastVote(ctx context.Context, tripID, activityID string, value bool, ts time.Time) (protocol.ActivityProposal, error)
	InviteCollaborator(ctx context.Context, tripID, email string) (protocol.Collaborator, error)
}

// Sender broadcasts envelopes to the room. *transport.Conn implements it.
type Sender interface {
	Send(env protocol.Envelope) bool
}

// EnvelopeSource delivers inbound envelopes. *transport.Conn implements it.
type EnvelopeSource interface {
	OnEnvelope(fn func(protocol.Envelope)) (unsubscribe func())
}

// Config configures a Synchronizer.
type Config struct {
	TripID   string
	UserID   string
	Username string

	Gateway Gateway
	// Sender may be nil, in which case nothing is broadcast.
	Sender Sender

	Logger *slog.Logger
	// Now stamps local actions. Defaults to protocol.Now.
	Now func() time.Time
	// OnChange, if set, is called after every view-model change, outside
	// the lock.
	OnChange func()
}

type presenceKey struct {
	userID       string
	connectionID string
}

type pendingVote struct {
	userID string
	value  bool
	ts     time.Time
}

// Synchronizer owns the view model of one open trip.
type Synchronizer struct {
	cfg    Config
	logger *slog.Logger

	mu            sync.Mutex
	closed        bool
	unsubscribe   func()
	tripName      string
	creatorID     string
	messages      []protocol.ChatMessage
	activities    []protocol.ActivityProposal
	collaborators []protocol.Collaborator
	presence      map[presenceKey]string

	// confirmed holds activity ids assigned by the gateway.
	confirmed map[string]bool
	// pending holds votes for activities not yet in the view, by activity id.
	pending      map[string][]pendingVote
	pendingCount int

	// gen is the number of the latest started baseline load; only that load
	// may commit. While loads are in flight, remote envelopes are recorded in
	// replay and re-applied on top of the committed baseline.
	gen     uint64
	loading int
	replay  []protocol.Envelope
}

// New creates a Synchronizer with an empty view model.
func New(cfg Config) *Synchronizer {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = protocol.Now
	}
	return &Synchronizer{
		cfg:           cfg,
		logger:        cfg.Logger.With("trip_id", cfg.TripID),
		messages:      []protocol.ChatMessage{},
		activities:    []protocol.ActivityProposal{},
		collaborators: []protocol.Collaborator{},
		presence:      make(map[presenceKey]string),
		confirmed:     make(map[string]bool),
		pending:       make(map[string][]pendingVote),
	}
}

// Bind subscribes ApplyRemoteEnvelope to src. Close unsubscribes it.
func (s *Synchronizer) Bind(src EnvelopeSource) {
	unsub := src.OnEnvelope(s.ApplyRemoteEnvelope)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		unsub()
		return
	}
	s.unsubscribe = unsub
}

// Close stops processing: it unsubscribes from the envelope source, and every
// later call is a no-op or returns ErrClosed.
func (s *Synchronizer) Close() {
	s.mu.Lock()
	unsub := s.unsubscribe
	s.unsubscribe = nil
	s.closed = true
	s.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// LoadBaseline replaces messages, activities and collaborators with the
// gateway's durable record. When loads overlap, only the one started last
// commits; earlier ones return ErrSuperseded.
//
// Two kinds of entry survive a reload on top of the record: the local user's
// messages and proposals that are still awaiting or have failed their
// durable write, and remote envelopes received while the load was in flight.
// Everything else not in the record is discarded.
func (s *Synchronizer) LoadBaseline(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.gen++
	gen := s.gen
	s.loading++
	s.mu.Unlock()

	rec, err := s.cfg.Gateway.LoadTrip(ctx, s.cfg.TripID)

	s.mu.Lock()
	s.loading--
	replay := s.replay
	if s.loading == 0 {
		s.replay = nil
	}
	switch {
	case s.closed:
		s.mu.Unlock()
		return ErrClosed
	case err != nil:
		s.mu.Unlock()
		return fmt.Errorf("session: load baseline: %w", err)
	case gen != s.gen:
		s.mu.Unlock()
		return ErrSuperseded
	}

	s.commitBaselineLocked(rec)
	for _, env := range replay {
		s.applyRemoteLocked(env)
	}
	s.mu.Unlock()

	s.logger.Debug("baseline loaded", "messages", len(rec.Messages), "activities", len(rec.Activities))
	s.changed()
	return nil
}

func (s *Synchronizer) commitBaselineLocked(rec protocol.TripRecord) {
	s.tripName = rec.Name
	s.creatorID = rec.CreatorID

	messages := make([]protocol.ChatMessage, 0, len(rec.Messages))
	seen := make(map[protocol.DedupKey]bool, len(rec.Messages))
	for _, m := range rec.Messages {
		m.Timestamp = m.Timestamp.UTC()
		messages = append(messages, m)
		seen[m.DedupKey()] = true
	}
	for _, m := range s.messages {
		if m.ID == nil && m.SenderID == s.cfg.UserID && !seen[m.DedupKey()] {
			messages = append(messages, m)
		}
	}
	s.messages = messages

	activities := make([]protocol.ActivityProposal, 0, len(rec.Activities))
	seenActs := make(map[protocol.DedupKey]bool, len(rec.Activities))
	s.confirmed = make(map[string]bool, len(rec.Activities))
	for _, a := range rec.Activities {
		a = a.Clone()
		a.Timestamp = a.Timestamp.UTC()
		activities = append(activities, a)
		seenActs[a.DedupKey()] = true
		s.confirmed[a.ID] = true
	}
	for _, a := range s.activities {
		if a.ProposerID == s.cfg.UserID && !s.confirmed[a.ID] && !seenActs[a.DedupKey()] {
			activities = append(activities, a.Clone())
		}
	}
	s.activities = activities
	for i := range s.activities {
		s.drainPendingLocked(&s.activities[i])
	}
	// Anything still buffered refers to a proposal the store does not have.
	// Envelopes that raced the load are replayed after this and re-buffer.
	clear(s.pending)
	s.pendingCount = 0

	s.collaborators = append([]protocol.Collaborator{}, rec.Collaborators...)
}

// ApplyLocalChat appends an optimistic message, broadcasts it and writes it
// through the gateway. On success the optimistic entry takes the stored id;
// on failure it is marked Failed and a *DurabilityError is returned.
func (s *Synchronizer) ApplyLocalChat(ctx context.Context, content string) (protocol.ChatMessage, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return protocol.ChatMessage{}, ErrEmptyContent
	}
	msg := protocol.ChatMessage{
		SenderID:   s.cfg.UserID,
		SenderName: s.cfg.Username,
		Content:    content,
		Timestamp:  s.cfg.Now(),
	}
	key := msg.DedupKey()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return protocol.ChatMessage{}, ErrClosed
	}
	s.messages = append(s.messages, msg)
	s.mu.Unlock()
	s.changed()

	s.send(protocol.NewChat(s.cfg.TripID, s.cfg.UserID, s.cfg.Username, content, msg.Timestamp))

	saved, err := s.cfg.Gateway.AppendChatMessage(ctx, s.cfg.TripID, content, msg.Timestamp)

	s.mu.Lock()
	idx := -1
	for i, m := range s.messages {
		if m.ID == nil && m.DedupKey() == key {
			idx = i
			break
		}
	}
	if err != nil {
		if idx >= 0 {
			s.messages[idx].Failed = true
			msg = s.messages[idx]
		}
		s.mu.Unlock()
		s.changed()
		return msg, &DurabilityError{Op: "append chat message", Err: err}
	}
	saved.Timestamp = saved.Timestamp.UTC()
	switch {
	case idx >= 0:
		s.messages[idx] = saved
	case !s.hasMessageLocked(saved.DedupKey()):
		// A baseline committed in the meantime without this message.
		s.messages = append(s.messages, saved)
	}
	s.mu.Unlock()
	s.changed()
	return saved, nil
}

// ApplyLocalProposal appends an optimistic proposal under a provisional id,
// broadcasts it without an id and writes it through the gateway. Once stored,
// the proposal takes the gateway's id and is broadcast again with it so peers
// can adopt that id. Only stored proposals can be voted on, so the
// provisional id never leaves this view.
func (s *Synchronizer) ApplyLocalProposal(ctx context.Context, content string) (protocol.ActivityProposal, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return protocol.ActivityProposal{}, ErrEmptyContent
	}
	act := protocol.ActivityProposal{
		ID:           uuid.NewString(),
		ProposerID:   s.cfg.UserID,
		ProposerName: s.cfg.Username,
		Content:      content,
		Timestamp:    s.cfg.Now(),
		Votes:        []protocol.Vote{},
	}
	provisional := act.ID

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return protocol.ActivityProposal{}, ErrClosed
	}
	s.activities = append(s.activities, act.Clone())
	s.mu.Unlock()
	s.changed()

	s.send(protocol.NewProposal(s.cfg.TripID, s.cfg.UserID, s.cfg.Username, "", content, act.Timestamp))

	saved, err := s.cfg.Gateway.ProposeActivity(ctx, s.cfg.TripID, content, act.Timestamp)
	if err != nil {
		return act, &DurabilityError{Op: "propose activity", Err: err}
	}
	saved = saved.Clone()
	saved.Timestamp = saved.Timestamp.UTC()

	s.mu.Lock()
	s.confirmed[saved.ID] = true
	if i := s.activityIndexLocked(provisional); i >= 0 {
		s.activities[i] = saved
		s.drainPendingLocked(&s.activities[i])
		saved = s.activities[i].Clone()
	} else if s.activityIndexLocked(saved.ID) < 0 && !s.hasActivityLocked(saved.DedupKey()) {
		s.activities = append(s.activities, saved.Clone())
	}
	s.mu.Unlock()
	s.changed()

	s.send(protocol.NewProposal(s.cfg.TripID, s.cfg.UserID, s.cfg.Username, saved.ID, saved.Content, saved.Timestamp))
	return saved, nil
}

// ApplyLocalVote applies the local user's vote, broadcasts it and writes it
// through the gateway. Proposals the gateway has not stored yet return
// ErrActivityNotStored and are left untouched. If the write fails the user's
// previous vote is restored and a *DurabilityError is returned; on success
// the activity is reconciled with the stored proposal.
func (s *Synchronizer) ApplyLocalVote(ctx context.Context, activityID string, value bool) (protocol.ActivityProposal, error) {
	ts := s.cfg.Now()

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return protocol.ActivityProposal{}, ErrClosed
	}
	i := s.activityIndexLocked(activityID)
	if i < 0 {
		s.mu.Unlock()
		return protocol.ActivityProposal{}, ErrUnknownActivity
	}
	if !s.confirmed[activityID] {
		s.mu.Unlock()
		return protocol.ActivityProposal{}, ErrActivityNotStored
	}
	prev, hadPrev := votes.Find(s.activities[i], s.cfg.UserID)
	votes.Apply(&s.activities[i], s.cfg.UserID, value, ts)
	s.mu.Unlock()
	s.changed()

	s.send(protocol.NewVote(s.cfg.TripID, s.cfg.UserID, s.cfg.Username, activityID, value, ts))

	stored, err := s.cfg.Gateway.CastVote(ctx, s.cfg.TripID, activityID, value, ts)

	s.mu.Lock()
	i = s.activityIndexLocked(activityID)
	if err != nil {
		var out protocol.ActivityProposal
		if i >= 0 {
			s.rollbackVoteLocked(&s.activities[i], ts, prev, hadPrev)
			out = s.activities[i].Clone()
		}
		s.mu.Unlock()
		s.changed()
		return out, &DurabilityError{Op: "cast vote", Err: err}
	}
	if i < 0 {
		s.mu.Unlock()
		return stored, nil
	}
	merged := stored.Clone()
	for _, v := range s.activities[i].Votes {
		votes.Apply(&merged, v.UserID, v.Value, v.CastAt)
	}
	s.activities[i].Votes = merged.Votes
	out := s.activities[i].Clone()
	s.mu.Unlock()
	s.changed()
	return out, nil
}

// rollbackVoteLocked undoes the local vote cast at ts, unless a newer vote
// by the same user has been applied since.
func (s *Synchronizer) rollbackVoteLocked(act *protocol.ActivityProposal, ts time.Time, prev protocol.Vote, hadPrev bool) {
	cur, ok := votes.Find(*act, s.cfg.UserID)
	if !ok || !cur.CastAt.Equal(ts) {
		return
	}
	for j, v := range act.Votes {
		if v.UserID == s.cfg.UserID {
			act.Votes = append(act.Votes[:j], act.Votes[j+1:]...)
			break
		}
	}
	if hadPrev {
		act.Votes = append(act.Votes, prev)
	}
}

// Invite asks the gateway to invite email and records the collaborator.
// Authorization is enforced by the gateway; see CanInvite for the affordance.
func (s *Synchronizer) Invite(ctx context.Context, email string) (protocol.Collaborator, error) {
	c, err := s.cfg.Gateway.InviteCollaborator(ctx, s.cfg.TripID, strings.TrimSpace(email))
	if err != nil {
		return protocol.Collaborator{}, fmt.Errorf("session: invite: %w", err)
	}
	s.mu.Lock()
	replaced := false
	for i, existing := range s.collaborators {
		if strings.EqualFold(existing.Email, c.Email) && existing.Email != "" {
			s.collaborators[i] = c
			replaced = true
			break
		}
	}
	if !replaced {
		s.collaborators = append(s.collaborators, c)
	}
	s.mu.Unlock()
	s.changed()
	return c, nil
}

// ApplyRemoteEnvelope merges one envelope received from the room. Malformed
// or foreign envelopes are dropped.
func (s *Synchronizer) ApplyRemoteEnvelope(env protocol.Envelope) {
	if err := env.Validate(); err != nil || env.TripID != s.cfg.TripID {
		s.logger.Debug("dropping envelope", "type", env.Type, "error", err)
		return
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	if s.loading > 0 && env.Type != protocol.TypeJoin && env.Type != protocol.TypeLeave {
		s.replay = append(s.replay, env)
	}
	changed := s.applyRemoteLocked(env)
	s.mu.Unlock()
	if changed {
		s.changed()
	}
}

func (s *Synchronizer) applyRemoteLocked(env protocol.Envelope) bool {
	ts := env.Timestamp.UTC()
	switch env.Type {
	case protocol.TypeChat:
		msg := protocol.ChatMessage{SenderID: env.UserID, SenderName: env.Username, Content: env.Content, Timestamp: ts}
		if s.hasMessageLocked(msg.DedupKey()) {
			return false
		}
		s.messages = append(s.messages, msg)
		return true

	case protocol.TypeProposal:
		if env.UserID == s.cfg.UserID {
			return false
		}
		act := protocol.ActivityProposal{
			ID:           env.ActivityID,
			ProposerID:   env.UserID,
			ProposerName: env.Username,
			Content:      env.Content,
			Timestamp:    ts,
			Votes:        []protocol.Vote{},
		}
		if i := s.activityByKeyLocked(act.DedupKey()); i >= 0 {
			// Adopt the gateway id a proposer broadcasts after persisting.
			existing := &s.activities[i]
			if env.ActivityID == "" || existing.ID == env.ActivityID || s.confirmed[existing.ID] {
				return false
			}
			existing.ID = env.ActivityID
			s.confirmed[existing.ID] = true
			s.drainPendingLocked(existing)
			return true
		}
		// A proposal broadcast before it was stored carries no id; it gets a
		// local one until the stored id arrives.
		if act.ID == "" {
			act.ID = uuid.NewString()
		} else {
			s.confirmed[act.ID] = true
		}
		for _, v := range env.Votes {
			votes.Apply(&act, v.UserID, v.Value, v.CastAt)
		}
		s.drainPendingLocked(&act)
		s.activities = append(s.activities, act)
		return true

	case protocol.TypeVote:
		i := s.activityIndexLocked(env.ActivityID)
		if i < 0 {
			s.bufferVoteLocked(env.ActivityID, pendingVote{userID: env.UserID, value: *env.Value, ts: ts})
			return false
		}
		if !s.confirmed[env.ActivityID] {
			// The gateway cannot hold a vote for an id it never assigned.
			s.logger.Debug("dropping vote for unstored activity", "activity_id", env.ActivityID, "user_id", env.UserID)
			return false
		}
		return votes.Apply(&s.activities[i], env.UserID, *env.Value, ts)

	case protocol.TypeJoin:
		s.presence[presenceKey{env.UserID, env.ConnectionID}] = env.Username
		return true

	case protocol.TypeLeave:
		if env.ConnectionID == "" {
			for k := range s.presence {
				if k.userID == env.UserID {
					delete(s.presence, k)
				}
			}
			return true
		}
		delete(s.presence, presenceKey{env.UserID, env.ConnectionID})
		return true
	}
	return false
}

// ResetPresence forgets every participant. It is called when a new
// connection opens, before the broker's membership snapshot arrives.
func (s *Synchronizer) ResetPresence() {
	s.mu.Lock()
	clear(s.presence)
	s.mu.Unlock()
	s.changed()
}

// Snapshot returns a deep copy of the view model.
func (s *Synchronizer) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// CanInvite reports whether the invite affordance should be shown: the local
// user is the trip's creator or an active admin. The gateway enforces the
// actual rule.
func (s *Synchronizer) CanInvite() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.creatorID != "" && s.creatorID == s.cfg.UserID {
		return true
	}
	for _, c := range s.collaborators {
		if c.UserID == s.cfg.UserID && c.Role == protocol.RoleAdmin && c.Status == protocol.StatusActive {
			return true
		}
	}
	return false
}

func (s *Synchronizer) bufferVoteLocked(activityID string, v pendingVote) {
	if s.pendingCount >= maxPendingVotes {
		s.logger.Warn("pending vote buffer full, dropping vote", "activity_id", activityID)
		return
	}
	s.pending[activityID] = append(s.pending[activityID], v)
	s.pendingCount++
}

func (s *Synchronizer) drainPendingLocked(act *protocol.ActivityProposal) {
	buf, ok := s.pending[act.ID]
	if !ok {
		return
	}
	delete(s.pending, act.ID)
	s.pendingCount -= len(buf)
	for _, v := range buf {
		votes.Apply(act, v.userID, v.value, v.ts)
	}
}

func (s *Synchronizer) hasMessageLocked(key protocol.DedupKey) bool {
	for _, m := range s.messages {
		if m.DedupKey() == key {
			return true
		}
	}
	return false
}

func (s *Synchronizer) hasActivityLocked(key protocol.DedupKey) bool {
	return s.activityByKeyLocked(key) >= 0
}

func (s *Synchronizer) activityByKeyLocked(key protocol.DedupKey) int {
	for i, a := range s.activities {
		if a.DedupKey() == key {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) activityIndexLocked(id string) int {
	for i, a := range s.activities {
		if a.ID == id {
			return i
		}
	}
	return -1
}

func (s *Synchronizer) send(env protocol.Envelope) {
	if s.cfg.Sender == nil {
		return
	}
	if !s.cfg.Sender.Send(env) {
		s.logger.Debug("envelope not sent, transport not open", "type", env.Type)
	}
}

func (s *Synchronizer) changed() {
	if s.cfg.OnChange != nil {
		s.cfg.OnChange()
	}
}
