// Package web implements the thin JSON transport the core's operations
// (§6) are exposed through: a net/http server using Go 1.22+ method+pattern
// routing with a graceful shutdown lifecycle. None of this package is part
// of the CORE (§1 "Out of scope": HTTP/WebSocket transport layer); it is
// the transport collaborator that calls into internal/store.
package web

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/tapwave/typingarena/internal/authutil"
	"github.com/tapwave/typingarena/internal/config"
	"github.com/tapwave/typingarena/internal/hub"
	"github.com/tapwave/typingarena/internal/store"
)

// Server is the HTTP transport for the typing contest core.
type Server struct {
	cfg              *config.Config
	store            *store.Store
	hub              *hub.Hub
	hasher           authutil.PasswordHasher
	tokens           authutil.RefreshTokenIssuer
	leaderboardLimit int
	mux              *http.ServeMux
	server           *http.Server
}

// New creates a Server wired to st for persistence and h for real-time
// leaderboard fan-out.
func New(cfg *config.Config, st *store.Store, h *hub.Hub) *Server {
	limit := cfg.LeaderboardLimit
	if limit <= 0 {
		limit = 100
	}

	s := &Server{
		cfg:              cfg,
		store:            st,
		hub:              h,
		hasher:           authutil.BcryptHasher{},
		tokens:           authutil.RandomTokenIssuer{},
		leaderboardLimit: limit,
		mux:              http.NewServeMux(),
	}
	s.registerRoutes()

	s.server = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // the leaderboard SSE stream needs no write timeout
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving HTTP requests. It blocks until the server is shut down.
func (s *Server) Start() error {
	log.Printf("typingarena api listening on %s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("listen and serve: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /api/v1/health", s.handleHealth)

	s.mux.HandleFunc("POST /api/v1/auth/register", s.handleRegister)
	s.mux.HandleFunc("POST /api/v1/auth/login", s.handleLogin)

	s.mux.HandleFunc("POST /api/v1/admin/contests", s.handleCreateContest)
	s.mux.HandleFunc("POST /api/v1/admin/prompts", s.handleCreatePrompt)
	s.mux.HandleFunc("POST /api/v1/admin/contests/{id}/prompts", s.handleSetContestPrompts)

	s.mux.HandleFunc("POST /api/v1/contests/{id}/sessions", s.handleStartSession)
	s.mux.HandleFunc("POST /api/v1/sessions/{id}/finish", s.handleFinishSession)
	s.mux.HandleFunc("GET /api/v1/contests/{id}/leaderboard", s.handleGetLeaderboard)
	s.mux.HandleFunc("GET /api/v1/contests/{id}/leaderboard/stream", s.handleLeaderboardStream)
}
