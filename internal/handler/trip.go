package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/corvino/tripsync/internal/domain"
	"github.com/corvino/tripsync/internal/middleware"
	"github.com/corvino/tripsync/internal/protocol"
)

type createTripRequest struct {
	Name string `json:"name"`
}

// CreateTrip handles POST /api/trips.
func (s *Server) CreateTrip(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req createTripRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	trip, err := s.collab.CreateTrip(r.Context(), caller, req.Name)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, trip)
}

// GetTrip handles GET /api/trips/{tripId}.
func (s *Server) GetTrip(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	trip, err := s.collab.LoadTrip(r.Context(), caller, chi.URLParam(r, "tripId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, trip)
}

// AppendChat handles POST /api/trips/{tripId}/messages.
func (s *Server) AppendChat(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req protocol.ChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	msg, err := s.collab.AppendChat(r.Context(), caller, chi.URLParam(r, "tripId"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// ProposeActivity handles POST /api/trips/{tripId}/activities.
func (s *Server) ProposeActivity(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req protocol.ProposalRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	act, err := s.collab.ProposeActivity(r.Context(), caller, chi.URLParam(r, "tripId"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, act)
}

// CastVote handles POST /api/trips/{tripId}/activities/{activityId}/votes.
func (s *Server) CastVote(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req protocol.VoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	act, err := s.collab.CastVote(r.Context(), caller, chi.URLParam(r, "tripId"), chi.URLParam(r, "activityId"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, act)
}

// Invite handles POST /api/trips/{tripId}/collaborators. It answers 201 for a
// new invitation and 200 when the email was already attached.
func (s *Server) Invite(w http.ResponseWriter, r *http.Request) {
	caller, ok := s.caller(w, r)
	if !ok {
		return
	}
	var req protocol.InviteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "malformed JSON body")
		return
	}
	c, created, err := s.collab.Invite(r.Context(), caller, chi.URLParam(r, "tripId"), req)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, c)
}

func (s *Server) caller(w http.ResponseWriter, r *http.Request) (domain.Identity, bool) {
	id, ok := middleware.IdentityFrom(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "authentication required")
		return domain.Identity{}, false
	}
	return id, true
}
