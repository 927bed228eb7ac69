package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/corvino/tripsync/internal/domain"
	"github.com/corvino/tripsync/internal/protocol"
)

// ActivityRepo persists activity proposals and their votes.
type ActivityRepo interface {
	// Create stores a proposal with a generated id and no votes.
	Create(ctx context.Context, tripID string, a protocol.ActivityProposal) (protocol.ActivityProposal, error)

	// Get returns one proposal with its votes, or domain.ErrNotFound when it
	// does not exist in tripID.
	Get(ctx context.Context, tripID, activityID string) (protocol.ActivityProposal, error)

	// List returns the trip's proposals oldest first, each with its votes.
	List(ctx context.Context, tripID string) ([]protocol.ActivityProposal, error)

	// UpsertVote stores v unless a newer vote by the same user is already
	// stored. It reports whether the row changed.
	UpsertVote(ctx context.Context, activityID string, v protocol.Vote) (bool, error)
}

type pgActivityRepo struct {
	db db
}

// NewActivityRepo constructs an ActivityRepo backed by db.
func NewActivityRepo(db db) ActivityRepo {
	return &pgActivityRepo{db: db}
}

func (r *pgActivityRepo) Create(ctx context.Context, tripID string, a protocol.ActivityProposal) (protocol.ActivityProposal, error) {
	const q = `
		INSERT INTO activities (id, trip_id, proposer_id, proposer_name, content, proposed_at)
		VALUES (@id, @trip_id, @proposer_id, @proposer_name, @content, @proposed_at)
		RETURNING id, proposer_id, proposer_name, content, proposed_at`

	args := pgx.NamedArgs{
		"id":            uuid.NewString(),
		"trip_id":       tripID,
		"proposer_id":   a.ProposerID,
		"proposer_name": a.ProposerName,
		"content":       a.Content,
		"proposed_at":   a.Timestamp,
	}
	out, err := scanActivity(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return protocol.ActivityProposal{}, fmt.Errorf("repo.ActivityRepo.Create: %w", err)
	}
	return out, nil
}

func (r *pgActivityRepo) Get(ctx context.Context, tripID, activityID string) (protocol.ActivityProposal, error) {
	const q = `
		SELECT id, proposer_id, proposer_name, content, proposed_at
		FROM activities
		WHERE trip_id = @trip_id AND id = @id`

	a, err := scanActivity(r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_id": tripID, "id": activityID}))
	if err != nil {
		return protocol.ActivityProposal{}, fmt.Errorf("repo.ActivityRepo.Get: %w", err)
	}

	const vq = `
		SELECT activity_id, user_id, value, cast_at
		FROM activity_votes
		WHERE activity_id = @id
		ORDER BY cast_at, user_id`
	votes, err := r.votes(ctx, vq, pgx.NamedArgs{"id": activityID})
	if err != nil {
		return protocol.ActivityProposal{}, fmt.Errorf("repo.ActivityRepo.Get: %w", err)
	}
	a.Votes = votes[activityID]
	if a.Votes == nil {
		a.Votes = []protocol.Vote{}
	}
	return a, nil
}

func (r *pgActivityRepo) List(ctx context.Context, tripID string) ([]protocol.ActivityProposal, error) {
	const q = `
		SELECT id, proposer_id, proposer_name, content, proposed_at
		FROM activities
		WHERE trip_id = @trip_id
		ORDER BY proposed_at, created_at`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.ActivityRepo.List: %w", err)
	}
	out := []protocol.ActivityProposal{}
	for rows.Next() {
		a, err := scanActivity(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("repo.ActivityRepo.List: scan: %w", err)
		}
		out = append(out, a)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.ActivityRepo.List: rows: %w", err)
	}

	const vq = `
		SELECT v.activity_id, v.user_id, v.value, v.cast_at
		FROM activity_votes v
		JOIN activities a ON a.id = v.activity_id
		WHERE a.trip_id = @trip_id
		ORDER BY v.cast_at, v.user_id`
	votes, err := r.votes(ctx, vq, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.ActivityRepo.List: %w", err)
	}
	for i := range out {
		if vs := votes[out[i].ID]; vs != nil {
			out[i].Votes = vs
		}
	}
	return out, nil
}

// UpsertVote applies the same last-write-wins rule as the client aggregator:
// a strictly newer cast_at replaces the row, and on a tie "no" beats "yes".
func (r *pgActivityRepo) UpsertVote(ctx context.Context, activityID string, v protocol.Vote) (bool, error) {
	const q = `
		INSERT INTO activity_votes (activity_id, user_id, value, cast_at)
		VALUES (@activity_id, @user_id, @value, @cast_at)
		ON CONFLICT (activity_id, user_id) DO UPDATE
		SET value = EXCLUDED.value, cast_at = EXCLUDED.cast_at
		WHERE activity_votes.cast_at < EXCLUDED.cast_at
		   OR (activity_votes.cast_at = EXCLUDED.cast_at AND activity_votes.value AND NOT EXCLUDED.value)`

	args := pgx.NamedArgs{
		"activity_id": activityID,
		"user_id":     v.UserID,
		"value":       v.Value,
		"cast_at":     v.CastAt,
	}
	tag, err := r.db.Exec(ctx, q, args)
	if err != nil {
		return false, fmt.Errorf("repo.ActivityRepo.UpsertVote: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *pgActivityRepo) votes(ctx context.Context, q string, args pgx.NamedArgs) (map[string][]protocol.Vote, error) {
	rows, err := r.db.Query(ctx, q, args)
	if err != nil {
		return nil, fmt.Errorf("votes: %w", err)
	}
	defer rows.Close()

	out := make(map[string][]protocol.Vote)
	for rows.Next() {
		var (
			activityID string
			v          protocol.Vote
		)
		if err := rows.Scan(&activityID, &v.UserID, &v.Value, &v.CastAt); err != nil {
			return nil, fmt.Errorf("votes: scan: %w", err)
		}
		v.CastAt = v.CastAt.UTC()
		out[activityID] = append(out[activityID], v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("votes: rows: %w", err)
	}
	return out, nil
}

func scanActivity(s scanner) (protocol.ActivityProposal, error) {
	a := protocol.ActivityProposal{Votes: []protocol.Vote{}}
	if err := s.Scan(&a.ID, &a.ProposerID, &a.ProposerName, &a.Content, &a.Timestamp); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return protocol.ActivityProposal{}, domain.ErrNotFound
		}
		return protocol.ActivityProposal{}, err
	}
	a.Timestamp = a.Timestamp.UTC()
	return a, nil
}
