package api

import (
	"context"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nugget/prenatal-clinic/internal/buildinfo"
)

// HealthResponse is the body of GET /api/health.
type HealthResponse struct {
	Status    string    `json:"status"`
	Database  string    `json:"database"`
	FastAPI   string    `json:"fastapi"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
}

// probe reports "connected" or "disconnected" for one dependency.
func probe(ctx context.Context, p Pinger, state *string) error {
	if p == nil {
		*state = "unknown"
		return nil
	}
	if err := p.Ping(ctx); err != nil {
		*state = "disconnected"
		return err
	}
	*state = "connected"
	return nil
}

// handleHealth pings the store and the gateway concurrently. Either
// failing makes the service unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	resp := HealthResponse{
		Status:  "healthy",
		Service: ServiceName,
		Version: buildinfo.Version,
	}

	// A plain Group: one probe failing must not cancel the other.
	var g errgroup.Group
	g.Go(func() error { return probe(r.Context(), s.deps.Store, &resp.Database) })
	g.Go(func() error { return probe(r.Context(), s.deps.Gateway, &resp.FastAPI) })
	err := g.Wait()
	resp.Timestamp = time.Now().UTC()

	if err != nil {
		resp.Status = "unhealthy"
		resp.Error = err.Error()
		s.logger.Warn("health check failed",
			"database", resp.Database, "fastapi", resp.FastAPI, "error", err)
		writeJSON(w, http.StatusServiceUnavailable, resp, s.logger)
		return
	}
	writeJSON(w, http.StatusOK, resp, s.logger)
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message": ServiceName + " API",
		"version": buildinfo.Version,
		"endpoints": map[string]string{
			"health":             "/api/health",
			"chat":               "POST /api/chat",
			"conversations":      "GET /api/conversations/:user_id",
			"messages":           "GET /api/conversations/:conversation_id/messages",
			"newConversation":    "POST /api/conversations/new",
			"deleteConversation": "DELETE /api/conversations/:conversation_id",
			"addFavorite":        "POST /api/favorites",
			"removeFavorite":     "DELETE /api/favorites/:message_id",
			"getFavorites":       "GET /api/favorites/:user_id",
			"checkFavorite":      "GET /api/favorites/:user_id/check/:message_id",
		},
	}, s.logger)
}
