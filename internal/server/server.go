package server

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/corvino/tripsync/internal/middleware"
)

// Options wires the broker and the persistence gateway into one HTTP server.
type Options struct {
	Addr string
	Hub  *Hub

	// Gateway serves the trip REST surface under /api/trips. Nil disables it.
	Gateway http.Handler

	// Auth resolves bearer tokens. When set, every route under /api/trips and
	// /ws requires one and the socket is attributed to the token's user, not
	// the userId query parameter. Nil leaves /ws open for local development.
	Auth middleware.Authenticator

	Logger       *slog.Logger
	CORSOrigins  []string
	MaxBodyBytes int64

	// Registry serves /metrics when set.
	Registry *prometheus.Registry
}

// NewRouter builds the chi router with every route registered.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 64 * 1024
	}
	h := &Handlers{
		Hub:       opts.Hub,
		StartTime: time.Now(),
	}

	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.NewSlogLogger(opts.Logger))
	r.Use(chimiddleware.Recoverer)
	if len(opts.CORSOrigins) > 0 {
		r.Use(middleware.NewCORSHandler(opts.CORSOrigins))
	}

	r.Get("/api/health", h.Health)
	r.Get("/api/rooms", h.ListRooms)
	r.Get("/api/rooms/{tripId}/participants", h.ListParticipants)

	if opts.Gateway != nil && opts.Auth != nil {
		r.Group(func(r chi.Router) {
			r.Use(middleware.NewBearerAuth(opts.Auth, false))
			r.Use(middleware.NewMaxBodySizeHandler(opts.MaxBodyBytes))
			r.Mount("/api/trips", opts.Gateway)
		})
	}

	r.Group(func(r chi.Router) {
		if opts.Auth != nil {
			r.Use(middleware.NewSocketAuth(opts.Auth))
		}
		r.Get("/ws/{tripId}", h.HandleWS)
	})

	if opts.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(opts.Registry, promhttp.HandlerOpts{}))
	}
	return r
}

// New creates a configured HTTP server with all routes registered.
func New(opts Options) *http.Server {
	return &http.Server{
		Addr:         opts.Addr,
		Handler:      NewRouter(opts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
}
