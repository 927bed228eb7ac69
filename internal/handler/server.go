// Package handler implements the persistence gateway's REST surface. Routes
// are relative to the /api/trips mount point and expect the bearer identity
// placed in the request context by middleware.NewBearerAuth.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/corvino/tripsync/internal/domain"
	"github.com/corvino/tripsync/internal/protocol"
)

// CollabServicer is the business surface the handlers depend on.
type CollabServicer interface {
	CreateTrip(ctx context.Context, caller domain.Identity, name string) (protocol.TripRecord, error)
	LoadTrip(ctx context.Context, caller domain.Identity, tripID string) (protocol.TripRecord, error)
	AppendChat(ctx context.Context, caller domain.Identity, tripID string, req protocol.ChatRequest) (protocol.ChatMessage, error)
	ProposeActivity(ctx context.Context, caller domain.Identity, tripID string, req protocol.ProposalRequest) (protocol.ActivityProposal, error)
	CastVote(ctx context.Context, caller domain.Identity, tripID, activityID string, req protocol.VoteRequest) (protocol.ActivityProposal, error)
	Invite(ctx context.Context, caller domain.Identity, tripID string, req protocol.InviteRequest) (protocol.Collaborator, bool, error)
}

// Server holds the handler dependencies.
type Server struct {
	collab CollabServicer
	logger *slog.Logger
}

// NewServer constructs a Server. A nil logger falls back to slog.Default.
func NewServer(collab CollabServicer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{collab: collab, logger: logger}
}

// Routes returns the gateway router, to be mounted at /api/trips.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Post("/", s.CreateTrip)
	r.Route("/{tripId}", func(r chi.Router) {
		r.Get("/", s.GetTrip)
		r.Post("/messages", s.AppendChat)
		r.Post("/activities", s.ProposeActivity)
		r.Post("/activities/{activityId}/votes", s.CastVote)
		r.Post("/collaborators", s.Invite)
	})
	return r
}
