package server

import (
	"sort"
	"sync"

	"github.com/corvino/tripsync/internal/protocol"
)

// Room is the set of live participant handles for one trip. It holds no
// durable state; envelopes are fanned out and forgotten.
type Room struct {
	tripID string

	mu      sync.RWMutex
	clients map[string]*Client // connection id -> handle
}

func newRoom(tripID string) *Room {
	return &Room{
		tripID:  tripID,
		clients: make(map[string]*Client),
	}
}

// join adds c and, under the same lock, tells every other member about it and
// hands c one join per existing handle. Holding the lock across both keeps the
// joiner's membership snapshot consistent with every concurrent broadcast.
// It returns the number of members notified.
func (r *Room) join(c *Client, env protocol.Envelope) int {
	env.ConnectionID = c.id
	if env.Username == "" {
		env.Username = c.username
	}
	data, err := protocol.Encode(env)

	r.mu.Lock()
	defer r.mu.Unlock()

	n := 0
	for _, other := range r.clients {
		if err == nil {
			other.Send(data)
			n++
		}
		snap := protocol.Envelope{
			Type:         protocol.TypeJoin,
			TripID:       r.tripID,
			UserID:       other.userID,
			Username:     other.username,
			Timestamp:    other.joinedAt,
			ConnectionID: other.id,
		}
		if b, err := protocol.Encode(snap); err == nil {
			c.Send(b)
		}
	}
	r.clients[c.id] = c
	return n
}

// leave removes c and tells the remaining members. It reports how many were
// notified and whether the room is now empty.
func (r *Room) leave(c *Client) (int, bool) {
	env := protocol.NewLeave(r.tripID, c.userID, c.username)
	env.ConnectionID = c.id
	data, err := protocol.Encode(env)

	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.clients, c.id)
	n := 0
	if err == nil {
		for _, other := range r.clients {
			other.Send(data)
			n++
		}
	}
	return n, len(r.clients) == 0
}

// relay queues data for every member except from and returns how many
// members it was queued for.
func (r *Room) relay(from *Client, data []byte) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for id, c := range r.clients {
		if id == from.id {
			continue
		}
		c.Send(data)
		n++
	}
	return n
}

// Info returns a point-in-time summary of this room.
func (r *Room) Info() protocol.RoomInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()
	users := make(map[string]struct{}, len(r.clients))
	for _, c := range r.clients {
		users[c.userID] = struct{}{}
	}
	return protocol.RoomInfo{TripID: r.tripID, Handles: len(r.clients), Users: len(users)}
}

// Participants lists the live handles, oldest first.
func (r *Room) Participants() []protocol.ParticipantInfo {
	r.mu.RLock()
	out := make([]protocol.ParticipantInfo, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, protocol.ParticipantInfo{
			UserID:       c.userID,
			Username:     c.username,
			ConnectionID: c.id,
			JoinedAt:     c.joinedAt,
		})
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].JoinedAt.Before(out[j].JoinedAt) })
	return out
}
