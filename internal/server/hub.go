package server

import (
	"log/slog"
	"sort"
	"sync"

	"github.com/corvino/tripsync/internal/metrics"
	"github.com/corvino/tripsync/internal/protocol"
)

// HubOptions configures a Hub.
type HubOptions struct {
	Logger *slog.Logger
	// Metrics may be nil.
	Metrics *metrics.Broker
	// SendBuffer is the per-connection outbound queue length.
	SendBuffer int
}

// Hub tracks the live trip rooms. A room exists only while it has at least
// one handle; it is created by the first join and removed with the last leave.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]*Room
	logger     *slog.Logger
	metrics    *metrics.Broker
	sendBuffer int
}

// NewHub creates an empty Hub.
func NewHub(opts HubOptions) *Hub {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.SendBuffer <= 0 {
		opts.SendBuffer = 256
	}
	return &Hub{
		rooms:      make(map[string]*Room),
		logger:     opts.Logger,
		metrics:    opts.Metrics,
		sendBuffer: opts.SendBuffer,
	}
}

// join records c in its trip's room and fans out the handshake. Room creation
// and membership change happen under the hub lock so a join can never land in
// a room that a concurrent last-leave is removing.
func (h *Hub) join(c *Client, env protocol.Envelope) {
	h.mu.Lock()
	r, ok := h.rooms[c.tripID]
	if !ok {
		r = newRoom(c.tripID)
		h.rooms[c.tripID] = r
		h.metrics.RoomOpened()
	}
	c.room = r
	n := r.join(c, env)
	h.mu.Unlock()

	h.metrics.Joined()
	h.metrics.Relayed(protocol.TypeJoin, n)
	h.logger.Debug("participant joined", "trip_id", c.tripID, "user_id", c.userID, "connection_id", c.id)
}

// leave removes c from its room, broadcasts a leave and garbage-collects the
// room when it is empty. It is a no-op for a client that never joined.
func (h *Hub) leave(c *Client) {
	h.mu.Lock()
	r := c.room
	if r == nil {
		h.mu.Unlock()
		return
	}
	c.room = nil
	n, empty := r.leave(c)
	if empty {
		delete(h.rooms, r.tripID)
		h.metrics.RoomClosed()
	}
	h.mu.Unlock()

	h.metrics.Left()
	h.metrics.Relayed(protocol.TypeLeave, n)
	h.logger.Debug("participant left", "trip_id", r.tripID, "user_id", c.userID, "connection_id", c.id, "room_closed", empty)
}

// GetRoom returns a room or nil if it has no live handles.
func (h *Hub) GetRoom(tripID string) *Room {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.rooms[tripID]
}

// ListRooms returns info about all active rooms ordered by trip id.
func (h *Hub) ListRooms() []protocol.RoomInfo {
	h.mu.RLock()
	rooms := make([]*Room, 0, len(h.rooms))
	for _, r := range h.rooms {
		rooms = append(rooms, r)
	}
	h.mu.RUnlock()

	out := make([]protocol.RoomInfo, 0, len(rooms))
	for _, r := range rooms {
		out = append(out, r.Info())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TripID < out[j].TripID })
	return out
}

// RoomCount returns the number of active rooms.
func (h *Hub) RoomCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms)
}
