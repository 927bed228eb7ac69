package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/corvino/tripsync/internal/protocol"
)

// MessageRepo persists trip chat messages.
type MessageRepo interface {
	// Append stores m with a generated id and returns the stored message.
	Append(ctx context.Context, tripID string, m protocol.ChatMessage) (protocol.ChatMessage, error)

	// List returns the trip's messages oldest first.
	List(ctx context.Context, tripID string) ([]protocol.ChatMessage, error)
}

type pgMessageRepo struct {
	db db
}

// NewMessageRepo constructs a MessageRepo backed by db.
func NewMessageRepo(db db) MessageRepo {
	return &pgMessageRepo{db: db}
}

func (r *pgMessageRepo) Append(ctx context.Context, tripID string, m protocol.ChatMessage) (protocol.ChatMessage, error) {
	const q = `
		INSERT INTO chat_messages (id, trip_id, sender_id, sender_name, content, sent_at)
		VALUES (@id, @trip_id, @sender_id, @sender_name, @content, @sent_at)
		RETURNING id, sender_id, sender_name, content, sent_at`

	args := pgx.NamedArgs{
		"id":          uuid.NewString(),
		"trip_id":     tripID,
		"sender_id":   m.SenderID,
		"sender_name": m.SenderName,
		"content":     m.Content,
		"sent_at":     m.Timestamp,
	}
	out, err := scanMessage(r.db.QueryRow(ctx, q, args))
	if err != nil {
		return protocol.ChatMessage{}, fmt.Errorf("repo.MessageRepo.Append: %w", err)
	}
	return out, nil
}

func (r *pgMessageRepo) List(ctx context.Context, tripID string) ([]protocol.ChatMessage, error) {
	const q = `
		SELECT id, sender_id, sender_name, content, sent_at
		FROM chat_messages
		WHERE trip_id = @trip_id
		ORDER BY sent_at, created_at`

	rows, err := r.db.Query(ctx, q, pgx.NamedArgs{"trip_id": tripID})
	if err != nil {
		return nil, fmt.Errorf("repo.MessageRepo.List: %w", err)
	}
	defer rows.Close()

	out := []protocol.ChatMessage{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("repo.MessageRepo.List: scan: %w", err)
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repo.MessageRepo.List: rows: %w", err)
	}
	return out, nil
}

func scanMessage(s scanner) (protocol.ChatMessage, error) {
	var (
		m  protocol.ChatMessage
		id string
	)
	if err := s.Scan(&id, &m.SenderID, &m.SenderName, &m.Content, &m.Timestamp); err != nil {
		return protocol.ChatMessage{}, err
	}
	m.ID = &id
	m.Timestamp = m.Timestamp.UTC()
	return m, nil
}
