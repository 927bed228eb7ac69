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

// TripRepo persists trips and their collaborator lists.
type TripRepo interface {
	// Create inserts a trip and makes creator its active admin.
	Create(ctx context.Context, name string, creator domain.Identity) (protocol.TripRecord, error)

	// Get returns the trip header (id, name, creator) or domain.ErrNotFound.
	Get(ctx context.Context, tripID string) (protocol.TripRecord, error)

	// Collaborators lists everyone attached to the trip, admins first.
	Collaborators(ctx context.Context, tripID string) ([]protocol.Collaborator, error)

	// FindCollaborator returns userID's membership or domain.ErrNotFound.
	FindCollaborator(ctx context.Context, tripID, userID string) (protocol.Collaborator, error)

	// AddCollaborator inserts c unless a collaborator with the same email is
	// already attached. It returns the stored row and whether it was created.
	AddCollaborator(ctx context.Context, tripID string, c protocol.Collaborator) (protocol.Collaborator, bool, error)
}

type pgTripRepo struct {
	db db
}

// NewTripRepo constructs a TripRepo backed by db.
func NewTripRepo(db db) TripRepo {
	return &pgTripRepo{db: db}
}

func (r *pgTripRepo) Create(ctx context.Context, name string, creator domain.Identity) (protocol.TripRecord, error) {
	const q = `
		WITH t AS (
			INSERT INTO trips (id, name, creator_id)
			VALUES (@id, @name, @creator_id)
			RETURNING id, name, creator_id
		), c AS (
			INSERT INTO trip_collaborators (trip_id, email, user_id, role, status)
			SELECT id, lower(@email::text), creator_id, 'admin', 'active' FROM t
		)
		SELECT id, name, creator_id FROM t`

	args := pgx.NamedArgs{
		"id":         uuid.NewString(),
		"name":       name,
		"creator_id": creator.UserID,
		"email":      creator.Email,
	}
	trip, err := scanTrip(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return protocol.TripRecord{}, fmt.Errorf("repo.TripRepo.Create: %w", err)
	}
	return trip, nil
}

func (r *pgTripRepo) Get(ctx context.Context, tripID string) (protocol.TripRecord, error) {
	const q = `SELECT id, name, creator_id FROM trips WHERE id = @id`

	trip, err := scanTrip(r.db.QueryRow(ctx, q, pgx.NamedArgs{"id": tripID}))
	if err != nil {
		return protocol.TripRecord{}, fmt.Errorf("repo.TripRepo.Get: %w", err)
	}
	return trip, nil
}

const collaboratorColumns = `
	c.user_id, COALESCE(u.username, ''), c.email, c.role, c.status
	FROM trip_collaborators c
	LEFT JOIN users u ON u.id = c.user_id`

func (r *pgTripRepo) Collaborators(ctx context.Context, tripID string) ([]protocol.Collaborator, error) {
	q := `SELECT` + collaboratorColumns + `
		WHERE c.trip_id = @trip_id
		ORDER BY c.role = 'admin' DESC, c.created_at, c.email`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.TripRepo.Collaborators: %w", err)
	}
	defer rows.Close()

	out := []protocol.Collaborator{}
	for rows.Next() {
		c, err := scanCollaborator(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.TripRepo.Collaborators: scan: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.TripRepo.Collaborators: rows: %w", err)
	}
	return out, nil
}

func (r *pgTripRepo) FindCollaborator(ctx context.Context, tripID, userID string) (protocol.Collaborator, error) {
	q := `SELECT` + collaboratorColumns + `
		WHERE c.trip_id = @trip_id AND c.user_id = @user_id`

	c, err := scanCollaborator(r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_id": tripID, "user_id": userID}))
	if err != nil {
		return protocol.Collaborator{}, fmt.Errorf("repo.TripRepo.FindCollaborator: %w", err)
	}
	return c, nil
}

func (r *pgTripRepo) AddCollaborator(ctx context.Context, tripID string, c protocol.Collaborator) (protocol.Collaborator, bool, error) {
	const ins = `
		INSERT INTO trip_collaborators (trip_id, email, user_id, role, status)
		VALUES (@trip_id, lower(@email::text), @user_id, @role, @status)
		ON CONFLICT (trip_id, email) DO NOTHING`

	var userID *string
	if c.UserID != "" {
		userID = &c.UserID
	}
	args := pgx.NamedArgs{
		"trip_id": tripID,
		"email":   c.Email,
		"user_id": userID,
		"role":    c.Role,
		"status":  c.Status,
	}
	tag, err := r.db.Exec(ctx, ins, args)
	if err != nil {
		return protocol.Collaborator{}, false, fmt.Errorf("repo.TripRepo.AddCollaborator: %w", err)
	}

	q := `SELECT` + collaboratorColumns + `
		WHERE c.trip_id = @trip_id AND c.email = lower(@email::text)`
	stored, err := scanCollaborator(r.db.QueryRow(ctx, q, pgx.NamedArgs{"trip_id": tripID, "email": c.Email}))
	if err != nil {
		return protocol.Collaborator{}, false, fmt.Errorf("repo.TripRepo.AddCollaborator: reload: %w", err)
	}
	return stored, tag.RowsAffected() == 1, nil
}

func scanTrip(s scanner) (protocol.TripRecord, error) {
	var t protocol.TripRecord
	if err := s.Scan(&t.ID, &t.Name, &t.CreatorID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return protocol.TripRecord{}, domain.ErrNotFound
		}
		return protocol.TripRecord{}, err
	}
	return t, nil
}

func scanCollaborator(s scanner) (protocol.Collaborator, error) {
	var (
		c      protocol.Collaborator
		userID *string
	)
	if err := s.Scan(&userID, &c.Username, &c.Email, &c.Role, &c.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return protocol.Collaborator{}, domain.ErrNotFound
		}
		return protocol.Collaborator{}, err
	}
	if userID != nil {
		c.UserID = *userID
	}
	return c, nil
}
