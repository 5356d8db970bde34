// ABOUTME: HTTP gateway wiring: routes, auth middleware, and shared handler state
// ABOUTME: Channel adapters and external tools reach the session lifecycle through here

package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/singularitybridge/session-gateway/internal/auth"
	"github.com/singularitybridge/session-gateway/internal/identity"
	"github.com/singularitybridge/session-gateway/internal/session"
	"github.com/singularitybridge/session-gateway/internal/store"
)

// Gateway exposes the session lifecycle over HTTP.
type Gateway struct {
	sessions   *session.Service
	resolver   *identity.Resolver
	assistants store.AssistantDirectory
	verifier   auth.TokenVerifier
	logger     *slog.Logger
}

// New creates a gateway over the given services.
func New(sessions *session.Service, resolver *identity.Resolver, assistants store.AssistantDirectory, verifier auth.TokenVerifier, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		sessions:   sessions,
		resolver:   resolver,
		assistants: assistants,
		verifier:   verifier,
		logger:     logger.With("component", "gateway"),
	}
}

// Handler builds the HTTP routing table. Everything under /api requires a
// bearer token; /healthz does not.
func (g *Gateway) Handler() http.Handler {
	api := http.NewServeMux()
	api.HandleFunc("/api/session", g.handleSession)
	api.HandleFunc("/api/session/", g.handleSessionSubpath)
	api.HandleFunc("/api/sessions", g.handleListSessions)
	api.HandleFunc("/api/assistants", g.handleAssistants)
	api.HandleFunc("/api/assistants/", g.handleAssistantByID)

	authed := auth.Middleware(g.verifier)(api)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", g.handleHealthz)
	mux.Handle("/api/", authed)
	return mux
}

// handleHealthz handles GET /healthz liveness checks.
func (g *Gateway) handleHealthz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

// writeJSON writes a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
