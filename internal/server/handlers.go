package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/corvino/tripsync/internal/middleware"
	"github.com/corvino/tripsync/internal/protocol"
)

// Handlers holds references needed by the broker's HTTP handlers.
type Handlers struct {
	Hub       *Hub
	StartTime time.Time
}

// Health handles GET /api/health.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	uptime := time.Since(h.StartTime)
	resp := protocol.HealthResponse{
		Status:    "ok",
		Uptime:    uptime.Round(time.Second).String(),
		UptimeSec: uptime.Seconds(),
		Rooms:     h.Hub.RoomCount(),
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListRooms handles GET /api/rooms.
func (h *Handlers) ListRooms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, protocol.RoomList{Rooms: h.Hub.ListRooms()})
}

// ListParticipants handles GET /api/rooms/{tripId}/participants.
func (h *Handlers) ListParticipants(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripId")
	room := h.Hub.GetRoom(tripID)
	if room == nil {
		writeJSON(w, http.StatusOK, protocol.ParticipantList{TripID: tripID, Participants: []protocol.ParticipantInfo{}})
		return
	}
	writeJSON(w, http.StatusOK, protocol.ParticipantList{TripID: tripID, Participants: room.Participants()})
}

// HandleWS handles WS /ws/{tripId}?userId={id}&username={name}.
// A resolved bearer identity takes precedence over the query parameters.
func (h *Handlers) HandleWS(w http.ResponseWriter, r *http.Request) {
	tripID := chi.URLParam(r, "tripId")
	if tripID == "" {
		writeError(w, http.StatusBadRequest, "trip id required")
		return
	}
	userID := r.URL.Query().Get("userId")
	username := r.URL.Query().Get("username")
	if id, ok := middleware.IdentityFrom(r.Context()); ok {
		userID, username = id.UserID, id.Username
	}
	if userID == "" {
		writeError(w, http.StatusBadRequest, "userId required")
		return
	}
	ServeWS(h.Hub, w, r, tripID, userID, username)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, protocol.ErrorResponse{Error: protocol.ErrorDetail{Code: "bad_request", Message: msg}})
}
