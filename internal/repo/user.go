package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/corvino/tripsync/internal/domain"
)

// UserRepo reads the users and bearer sessions written by the auth service.
type UserRepo interface {
	// Create inserts a user with a generated id.
	Create(ctx context.Context, username, email string) (domain.Identity, error)

	// GetByEmail returns domain.ErrNotFound when no user has that address.
	GetByEmail(ctx context.Context, email string) (domain.Identity, error)

	// CreateSession stores a hashed bearer token for userID. A zero expiresAt
	// never expires.
	CreateSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error

	// ResolveSession returns the owner of an unexpired token hash, or
	// domain.ErrNotFound.
	ResolveSession(ctx context.Context, tokenHash string) (domain.Identity, error)
}

type pgUserRepo struct {
	db db
}

// NewUserRepo constructs a UserRepo backed by db.
func NewUserRepo(db db) UserRepo {
	return &pgUserRepo{db: db}
}

func (r *pgUserRepo) Create(ctx context.Context, username, email string) (domain.Identity, error) {
	const q = `
		INSERT INTO users (id, username, email)
		VALUES (@id, @username, @email)
		RETURNING id, username, email`

	args := pgx.NamedArgs{
		"id":       uuid.NewString(),
		"username": username,
		"email":    email,
	}
	id, err := scanIdentity(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("repo.UserRepo.Create: %w", err)
	}
	return id, nil
}

func (r *pgUserRepo) GetByEmail(ctx context.Context, email string) (domain.Identity, error) {
	const q = `SELECT id, username, email FROM users WHERE lower(email) = lower(@email::text)`

	id, err := scanIdentity(r.db.QueryRow(ctx, q, pgx.NamedArgs{"email": email}))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("repo.UserRepo.GetByEmail: %w", err)
	}
	return id, nil
}

func (r *pgUserRepo) CreateSession(ctx context.Context, tokenHash, userID string, expiresAt time.Time) error {
	const q = `
		INSERT INTO auth_sessions (token_hash, user_id, expires_at)
		VALUES (@token_hash, @user_id, @expires_at)`

	var exp *time.Time
	if !expiresAt.IsZero() {
		exp = &expiresAt
	}
	args := pgx.NamedArgs{"token_hash": tokenHash, "user_id": userID, "expires_at": exp}
	if _, err := r.db.Exec(ctx, q, args); err != nil {
		return fmt.Errorf("repo.UserRepo.CreateSession: %w", err)
	}
	return nil
}

func (r *pgUserRepo) ResolveSession(ctx context.Context, tokenHash string) (domain.Identity, error) {
	const q = `
		SELECT u.id, u.username, u.email
		FROM auth_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.token_hash = @token_hash
		  AND (s.expires_at IS NULL OR s.expires_at > now())`

	id, err := scanIdentity(r.db.QueryRow(ctx, q, pgx.NamedArgs{"token_hash": tokenHash}))
	if err != nil {
		return domain.Identity{}, fmt.Errorf("repo.UserRepo.ResolveSession: %w", err)
	}
	return id, nil
}

func scanIdentity(s scanner) (domain.Identity, error) {
	var id domain.Identity
	if err := s.Scan(&id.UserID, &id.Username, &id.Email); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Identity{}, domain.ErrNotFound
		}
		return domain.Identity{}, err
	}
	return id, nil
}
