package service_test

import (
	"context"
	"time"

	"github.com/corvino/tripsync/internal/domain"
	"github.com/corvino/tripsync/internal/protocol"
	"github.com/corvino/tripsync/internal/repo"
)

// ---- mock repos ------------------------------------------------------------

type mockTripRepo struct {
	create           func(ctx context.Context, name string, creator domain.Identity) (protocol.TripRecord, error)
	get              func(ctx context.Context, tripID string) (protocol.TripRecord, error)
	collaborators    func(ctx context.Context, tripID string) ([]protocol.Collaborator, error)
	findCollaborator func(ctx context.Context, tripID, userID string) (protocol.Collaborator, error)
	addCollaborator  func(ctx context.Context, tripID string, c protocol.Collaborator) (protocol.Collaborator, bool, error)
}

func (m *mockTripRepo) Create(ctx context.Context, name string, creator domain.Identity) (protocol.TripRecord, error) {
	return m.create(ctx, name, creator)
}
func (m *mockTripRepo) Get(ctx context.Context, tripID string) (protocol.TripRecord, error) {
	return m.get(ctx, tripID)
}
func (m *mockTripRepo) Collaborators(ctx context.Context, tripID string) ([]protocol.Collaborator, error) {
	return m.collaborators(ctx, tripID)
}
func (m *mockTripRepo) FindCollaborator(ctx context.Context, tripID, userID string) (protocol.Collaborator, error) {
	return m.findCollaborator(ctx, tripID, userID)
}
func (m *mockTripRepo) AddCollaborator(ctx context.Context, tripID string, c protocol.Collaborator) (protocol.Collaborator, bool, error) {
	return m.addCollaborator(ctx, tripID, c)
}

var _ repo.TripRepo = (*mockTripRepo)(nil)

type mockMessageRepo struct {
	appendFn func(ctx context.Context, tripID string, m protocol.ChatMessage) (protocol.ChatMessage, error)
	list     func(ctx context.Context, tripID string) ([]protocol.ChatMessage, error)
}

func (m *mockMessageRepo) Append(ctx context.Context, tripID string, msg protocol.ChatMessage) (protocol.ChatMessage, error) {
	return m.appendFn(ctx, tripID, msg)
}
func (m *mockMessageRepo) List(ctx context.Context, tripID string) ([]protocol.ChatMessage, error) {
	return m.list(ctx, tripID)
}

var _ repo.MessageRepo = (*mockMessageRepo)(nil)

type mockActivityRepo struct {
	create     func(ctx context.Context, tripID string, a protocol.ActivityProposal) (protocol.ActivityProposal, error)
	get        func(ctx context.Context, tripID, activityID string) (protocol.ActivityProposal, error)
	list       func(ctx context.Context, tripID string) ([]protocol.ActivityProposal, error)
	upsertVote func(ctx context.Context, activityID string, v protocol.Vote) (bool, error)
}

func (m *mockActivityRepo) Create(ctx context.Context, tripID string, a protocol.ActivityProposal) (protocol.ActivityProposal, error) {
	return m.create(ctx, tripID, a)
}
func (m *mockActivityRepo) Get(ctx context.Context, tripID, activityID string) (protocol.ActivityProposal, error) {
	return m.get(ctx, tripID, activityID)
}
func (m *mockActivityRepo) List(ctx context.Context, tripID string) ([]protocol.ActivityProposal, error) {
	return m.list(ctx, tripID)
}
func (m *mockActivityRepo) UpsertVote(ctx context.Context, activityID string, v protocol.Vote) (bool, error) {
	return m.upsertVote(ctx, activityID, v)
}

var _ repo.ActivityRepo = (*mockActivityRepo)(nil)

type mockUserRepo struct {
	create         func(ctx context.Context, username, email string) (domain.Identity, error)
	getByEmail     func(ctx context.Context, email string) (domain.Identity, error)
	createSession  func(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error
	resolveSession func(ctx context.Context, tokenHash string) (domain.Identity, error)
}

func (m *mockUserRepo) Create(ctx context.Context, username, email string) (domain.Identity, error) {
	return m.create(ctx, username, email)
}
func (m *mockUserRepo) GetByEmail(ctx context.Context, email string) (domain.Identity, error) {
	return m.getByEmail(ctx, email)
}
func (m *mockUserRepo) CreateSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	return m.createSession(ctx, tokenHash, userID, expiresAt)
}
func (m *mockUserRepo) ResolveSession(ctx context.Context, tokenHash string) (domain.Identity, error) {
	return m.resolveSession(ctx, tokenHash)
}

var _ repo.UserRepo = (*mockUserRepo)(nil)

// ---- fixtures --------------------------------------------------------------

var (
	alice = domain.Identity{UserID: "u-alice", Username: "Alice", Email: "alice@example.com"}
	bob   = domain.Identity{UserID: "u-bob", Username: "Bob", Email: "bob@example.com"}
	carol = domain.Identity{UserID: "u-carol", Username: "Carol", Email: "carol@example.com"}
)

// newTripRepo returns a trip repo for "trip-1" where alice is an active admin,
// bob an active member and carol a pending member.
func newTripRepo() *mockTripRepo {
	members := map[string]protocol.Collaborator{
		alice.UserID: {UserID: alice.UserID, Role: protocol.RoleAdmin, Status: protocol.StatusActive},
		bob.UserID:   {UserID: bob.UserID, Role: protocol.RoleMember, Status: protocol.StatusActive},
		carol.UserID: {UserID: carol.UserID, Role: protocol.RoleMember, Status: protocol.StatusPending},
	}
	return &mockTripRepo{
		get: func(_ context.Context, tripID string) (protocol.TripRecord, error) {
			if tripID != "trip-1" {
				return protocol.TripRecord{}, domain.ErrNotFound
			}
			return protocol.TripRecord{ID: "trip-1", Name: "Lisbon", CreatorID: alice.UserID}, nil
		},
		findCollaborator: func(_ context.Context, _ string, userID string) (protocol.Collaborator, error) {
			c, ok := members[userID]
			if !ok {
				return protocol.Collaborator{}, domain.ErrNotFound
			}
			return c, nil
		},
		collaborators: func(context.Context, string) ([]protocol.Collaborator, error) {
			return []protocol.Collaborator{members[alice.UserID], members[bob.UserID]}, nil
		},
	}
}
