// Package service holds the persistence gateway's business rules. It sits
// between the HTTP handlers and the repos and speaks only domain errors.
package service

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/corvino/tripsync/internal/domain"
	"github.com/corvino/tripsync/internal/repo"
)

// AuthService resolves bearer tokens issued by the auth collaborator. Only the
// SHA-256 of a token is ever stored.
type AuthService struct {
	users repo.UserRepo
}

// NewAuthService constructs an AuthService backed by users.
func NewAuthService(users repo.UserRepo) *AuthService {
	return &AuthService{users: users}
}

// Authenticate returns the identity that owns token, or domain.ErrUnauthorized.
func (s *AuthService) Authenticate(ctx context.Context, token string) (domain.Identity, error) {
	if token == "" {
		return domain.Identity{}, fmt.Errorf("service.AuthService.Authenticate: %w", domain.ErrUnauthorized)
	}
	id, err := s.users.ResolveSession(ctx, HashToken(token))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.Identity{}, fmt.Errorf("service.AuthService.Authenticate: %w", domain.ErrUnauthorized)
		}
		return domain.Identity{}, fmt.Errorf("service.AuthService.Authenticate: %w", err)
	}
	return id, nil
}

// IssueToken creates a session for the user with email, creating the user
// first if needed, and returns the plaintext token. A zero ttl never expires.
// It backs the server's issue-token command for local development.
func (s *AuthService) IssueToken(ctx context.Context, username, email string, ttl time.Duration) (string, domain.Identity, error) {
	id, err := s.users.GetByEmail(ctx, email)
	if errors.Is(err, domain.ErrNotFound) {
		id, err = s.users.Create(ctx, username, email)
	}
	if err != nil {
		return "", domain.Identity{}, fmt.Errorf("service.AuthService.IssueToken: %w", err)
	}

	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", domain.Identity{}, fmt.Errorf("service.AuthService.IssueToken: %w", err)
	}
	token := hex.EncodeToString(raw)

	var expires time.Time
	if ttl > 0 {
		expires = time.Now().Add(ttl)
	}
	if err := s.users.CreateSession(ctx, HashToken(token), id.UserID, expires); err != nil {
		return "", domain.Identity{}, fmt.Errorf("service.AuthService.IssueToken: %w", err)
	}
	return token, id, nil
}

// HashToken returns the hex SHA-256 of a bearer token as stored in auth_sessions.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
