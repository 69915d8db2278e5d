// Package api serves the clinic chat HTTP API consumed by the frontend.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nugget/prenatal-clinic/internal/chat"
	"github.com/nugget/prenatal-clinic/internal/favorites"
	"github.com/nugget/prenatal-clinic/internal/history"
)

// ServiceName is reported by the health and root endpoints.
const ServiceName = "Prenatal AI Clinic Backend"

// MaxBodyBytes caps request bodies.
const MaxBodyBytes = 10 << 20

// writeJSON encodes v as JSON with the given status. Encoding errors
// mean the client went away and are only logged at debug level.
func writeJSON(w http.ResponseWriter, status int, v any, logger *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Debug("failed to write JSON response", "error", err)
	}
}

// Pinger is a dependency the health endpoint probes.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options configures the HTTP surface.
type Options struct {
	Address        string
	Port           int
	AllowedOrigins []string
	// RateLimit requests are allowed per client IP in each RateWindow.
	RateLimit  int
	RateWindow time.Duration
	// Development exposes internal error messages in 500 bodies.
	Development bool
}

// Deps are the services behind the routes.
type Deps struct {
	Chat      *chat.Orchestrator
	Favorites *favorites.Manager
	History   *history.Service
	Store     Pinger
	Gateway   Pinger
}

// Server is the HTTP API server.
type Server struct {
	opts    Options
	deps    Deps
	limiter *ipLimiter
	logger  *slog.Logger
	server  *http.Server
}

// NewServer creates a server. Call Start to listen, or Handler to mount
// it elsewhere.
func NewServer(opts Options, deps Deps, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{opts: opts, deps: deps, logger: logger}
	if opts.RateLimit > 0 && opts.RateWindow > 0 {
		s.limiter = newIPLimiter(opts.RateLimit, opts.RateWindow)
	}
	s.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", opts.Address, opts.Port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		// Longer than the gateway's chat ceiling.
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the API with its middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/chat", s.handleChat)

	mux.HandleFunc("GET /api/conversations/{user_id}", s.handleConversationList)
	mux.HandleFunc("GET /api/conversations/{conversation_id}/messages", s.handleConversationMessages)
	mux.HandleFunc("POST /api/conversations/new", s.handleConversationNew)
	mux.HandleFunc("DELETE /api/conversations/{conversation_id}", s.handleConversationDelete)

	mux.HandleFunc("POST /api/favorites", s.handleFavoriteAdd)
	mux.HandleFunc("DELETE /api/favorites/{message_id}", s.handleFavoriteRemove)
	mux.HandleFunc("GET /api/favorites/{user_id}", s.handleFavoriteList)
	mux.HandleFunc("GET /api/favorites/{user_id}/check/{message_id}", s.handleFavoriteCheck)

	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("/", s.handleNotFound)

	var h http.Handler = mux
	h = withBodyLimit(h, MaxBodyBytes)
	h = s.withRateLimit(h)
	h = withCORS(h, s.opts.AllowedOrigins)
	h = withSecurityHeaders(h)
	h = s.withRecovery(h)
	h = s.withLogging(h)
	return h
}

// Start listens and serves until Shutdown is called and returns nil
// after a clean shutdown. Request contexts are not derived from ctx, so
// Shutdown can drain in-flight turns.
func (s *Server) Start(ctx context.Context) error {
	addr := s.opts.Address
	if addr == "" {
		addr = "0.0.0.0"
	}
	s.logger.Info("starting API server", "address", addr, "port", s.opts.Port)

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting connections and waits for in-flight
// requests until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
