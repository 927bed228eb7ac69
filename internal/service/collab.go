package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/corvino/tripsync/internal/domain"
	"github.com/corvino/tripsync/internal/protocol"
	"github.com/corvino/tripsync/internal/repo"
)

const (
	// MaxContentLength bounds chat messages and proposals, in characters.
	MaxContentLength = 4000

	// clockSkew is how far a client timestamp may drift from server time and
	// still be kept as the canonical timestamp.
	clockSkew = 5 * time.Minute
)

// CollabService implements the trip collaboration rules: membership checks,
// content validation, timestamp canonicalisation and invites.
type CollabService struct {
	trips      repo.TripRepo
	messages   repo.MessageRepo
	activities repo.ActivityRepo
	users      repo.UserRepo

	now func() time.Time
}

// NewCollabService constructs a CollabService backed by the provided repos.
func NewCollabService(trips repo.TripRepo, messages repo.MessageRepo, activities repo.ActivityRepo, users repo.UserRepo) *CollabService {
	return &CollabService{
		trips:      trips,
		messages:   messages,
		activities: activities,
		users:      users,
		now:        protocol.Now,
	}
}

// WithClock replaces the server clock. It is meant for tests.
func (s *CollabService) WithClock(now func() time.Time) *CollabService {
	s.now = now
	return s
}

// CreateTrip creates a trip owned by caller.
func (s *CollabService) CreateTrip(ctx context.Context, caller domain.Identity, name string) (protocol.TripRecord, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return protocol.TripRecord{}, fmt.Errorf("service.CollabService.CreateTrip: %w: name is required", domain.ErrValidation)
	}
	trip, err := s.trips.Create(ctx, name, caller)
	if err != nil {
		return protocol.TripRecord{}, fmt.Errorf("service.CollabService.CreateTrip: %w", err)
	}
	return trip, nil
}

// LoadTrip returns the durable baseline of tripID.
func (s *CollabService) LoadTrip(ctx context.Context, caller domain.Identity, tripID string) (protocol.TripRecord, error) {
	trip, err := s.trips.Get(ctx, tripID)
	if err != nil {
		return protocol.TripRecord{}, fmt.Errorf("service.CollabService.LoadTrip: %w", err)
	}
	if _, err := s.member(ctx, caller, tripID); err != nil {
		return protocol.TripRecord{}, fmt.Errorf("service.CollabService.LoadTrip: %w", err)
	}

	if trip.Messages, err = s.messages.List(ctx, tripID); err != nil {
		return protocol.TripRecord{}, fmt.Errorf("service.CollabService.LoadTrip: %w", err)
	}
	if trip.Activities, err = s.activities.List(ctx, tripID); err != nil {
		return protocol.TripRecord{}, fmt.Errorf("service.CollabService.LoadTrip: %w", err)
	}
	if trip.Collaborators, err = s.trips.Collaborators(ctx, tripID); err != nil {
		return protocol.TripRecord{}, fmt.Errorf("service.CollabService.LoadTrip: %w", err)
	}
	return trip, nil
}

// AppendChat stores a chat message authored by caller.
func (s *CollabService) AppendChat(ctx context.Context, caller domain.Identity, tripID string, req protocol.ChatRequest) (protocol.ChatMessage, error) {
	content, err := validateContent(req.Content)
	if err != nil {
		return protocol.ChatMessage{}, fmt.Errorf("service.CollabService.AppendChat: %w", err)
	}
	if err := s.authorize(ctx, caller, tripID, false); err != nil {
		return protocol.ChatMessage{}, fmt.Errorf("service.CollabService.AppendChat: %w", err)
	}

	msg, err := s.messages.Append(ctx, tripID, protocol.ChatMessage{
		SenderID:   caller.UserID,
		SenderName: caller.Username,
		Content:    content,
		Timestamp:  s.canonicalTime(req.Timestamp),
	})
	if err != nil {
		return protocol.ChatMessage{}, fmt.Errorf("service.CollabService.AppendChat: %w", err)
	}
	return msg, nil
}

// ProposeActivity stores a new activity proposal authored by caller.
func (s *CollabService) ProposeActivity(ctx context.Context, caller domain.Identity, tripID string, req protocol.ProposalRequest) (protocol.ActivityProposal, error) {
	content, err := validateContent(req.Content)
	if err != nil {
		return protocol.ActivityProposal{}, fmt.Errorf("service.CollabService.ProposeActivity: %w", err)
	}
	if err := s.authorize(ctx, caller, tripID, false); err != nil {
		return protocol.ActivityProposal{}, fmt.Errorf("service.CollabService.ProposeActivity: %w", err)
	}

	act, err := s.activities.Create(ctx, tripID, protocol.ActivityProposal{
		ProposerID:   caller.UserID,
		ProposerName: caller.Username,
		Content:      content,
		Timestamp:    s.canonicalTime(req.Timestamp),
	})
	if err != nil {
		return protocol.ActivityProposal{}, fmt.Errorf("service.CollabService.ProposeActivity: %w", err)
	}
	return act, nil
}

// CastVote records caller's vote with last-write-wins and returns the
// proposal as stored afterwards. A stale vote is not an error; the returned
// proposal simply shows the newer vote.
func (s *CollabService) CastVote(ctx context.Context, caller domain.Identity, tripID, activityID string, req protocol.VoteRequest) (protocol.ActivityProposal, error) {
	if err := s.authorize(ctx, caller, tripID, false); err != nil {
		return protocol.ActivityProposal{}, fmt.Errorf("service.CollabService.CastVote: %w", err)
	}
	if _, err := s.activities.Get(ctx, tripID, activityID); err != nil {
		return protocol.ActivityProposal{}, fmt.Errorf("service.CollabService.CastVote: %w", err)
	}

	vote := protocol.Vote{UserID: caller.UserID, Value: req.Value, CastAt: s.canonicalTime(req.Timestamp)}
	if _, err := s.activities.UpsertVote(ctx, activityID, vote); err != nil {
		return protocol.ActivityProposal{}, fmt.Errorf("service.CollabService.CastVote: %w", err)
	}

	act, err := s.activities.Get(ctx, tripID, activityID)
	if err != nil {
		return protocol.ActivityProposal{}, fmt.Errorf("service.CollabService.CastVote: %w", err)
	}
	return act, nil
}

// Invite attaches email to the trip as a pending member. Only active admins
// may invite. Inviting an address twice returns the existing collaborator and
// created=false.
func (s *CollabService) Invite(ctx context.Context, caller domain.Identity, tripID string, req protocol.InviteRequest) (protocol.Collaborator, bool, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(req.Email))
	if err != nil {
		return protocol.Collaborator{}, false, fmt.Errorf("service.CollabService.Invite: %w: invalid email", domain.ErrValidation)
	}
	if err := s.authorize(ctx, caller, tripID, true); err != nil {
		return protocol.Collaborator{}, false, fmt.Errorf("service.CollabService.Invite: %w", err)
	}

	c := protocol.Collaborator{Email: addr.Address, Role: protocol.RoleMember, Status: protocol.StatusPending}
	if u, err := s.users.GetByEmail(ctx, addr.Address); err == nil {
		c.UserID = u.UserID
	} else if !errors.Is(err, domain.ErrNotFound) {
		return protocol.Collaborator{}, false, fmt.Errorf("service.CollabService.Invite: %w", err)
	}

	stored, created, err := s.trips.AddCollaborator(ctx, tripID, c)
	if err != nil {
		return protocol.Collaborator{}, false, fmt.Errorf("service.CollabService.Invite: %w", err)
	}
	return stored, created, nil
}

// authorize checks that tripID exists and caller is an active collaborator,
// and an admin when adminOnly is set.
func (s *CollabService) authorize(ctx context.Context, caller domain.Identity, tripID string, adminOnly bool) error {
	if _, err := s.trips.Get(ctx, tripID); err != nil {
		return err
	}
	c, err := s.member(ctx, caller, tripID)
	if err != nil {
		return err
	}
	if adminOnly && c.Role != protocol.RoleAdmin {
		return fmt.Errorf("%w: only admins may invite", domain.ErrForbidden)
	}
	return nil
}

func (s *CollabService) member(ctx context.Context, caller domain.Identity, tripID string) (protocol.Collaborator, error) {
	if caller.UserID == "" {
		return protocol.Collaborator{}, domain.ErrUnauthorized
	}
	c, err := s.trips.FindCollaborator(ctx, tripID, caller.UserID)
	if errors.Is(err, domain.ErrNotFound) {
		return protocol.Collaborator{}, fmt.Errorf("%w: not a collaborator", domain.ErrForbidden)
	}
	if err != nil {
		return protocol.Collaborator{}, err
	}
	if c.Status != protocol.StatusActive {
		return protocol.Collaborator{}, fmt.Errorf("%w: invitation not accepted", domain.ErrForbidden)
	}
	return c, nil
}

// canonicalTime keeps the client's timestamp when it is close to server time,
// so the dedup key matches the envelope the client broadcast; otherwise it
// substitutes server time.
func (s *CollabService) canonicalTime(client time.Time) time.Time {
	now := s.now().UTC().Truncate(time.Millisecond)
	if client.IsZero() {
		return now
	}
	client = client.UTC().Truncate(time.Millisecond)
	if d := client.Sub(now); d > clockSkew || d < -clockSkew {
		return now
	}
	return client
}

func validateContent(raw string) (string, error) {
	content := strings.TrimSpace(raw)
	if content == "" {
		return "", fmt.Errorf("%w: content is required", domain.ErrValidation)
	}
	if utf8.RuneCountInString(content) > MaxContentLength {
		return "", fmt.Errorf("%w: content exceeds %d characters", domain.ErrValidation, MaxContentLength)
	}
	return content, nil
}
