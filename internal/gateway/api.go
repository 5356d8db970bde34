// ABOUTME: HTTP handlers for the session lifecycle and assistant directory
// ABOUTME: Maps typed service errors onto 4xx responses; races never surface as errors

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/singularitybridge/session-gateway/internal/auth"
	"github.com/singularitybridge/session-gateway/internal/identity"
	"github.com/singularitybridge/session-gateway/internal/session"
	"github.com/singularitybridge/session-gateway/internal/store"
)

// SessionRequest is the JSON request body for POST /api/session and
// POST /api/session/clear. All fields are optional for web callers.
type SessionRequest struct {
	Channel       string            `json:"channel,omitempty"`
	ChannelUserID string            `json:"channel_user_id,omitempty"`
	AssistantID   string            `json:"assistant_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// SessionResponse is the JSON response for session get-or-create and clear.
type SessionResponse struct {
	ID          string `json:"id"`
	AssistantID string `json:"assistant_id"`
	Channel     string `json:"channel"`
	Language    string `json:"language"`
}

// SessionDetail is the JSON response for GET /api/session/{id}.
type SessionDetail struct {
	ID             string            `json:"id"`
	UserID         string            `json:"user_id"`
	AssistantID    string            `json:"assistant_id"`
	Channel        string            `json:"channel"`
	ChannelUserID  string            `json:"channel_user_id"`
	Metadata       map[string]string `json:"metadata,omitempty"`
	ThreadID       string            `json:"thread_id"`
	Active         bool              `json:"active"`
	LastActivityAt string            `json:"last_activity_at"`
	CreatedAt      string            `json:"created_at"`
}

// AssistantRequest is the JSON request body for assistant create/update.
type AssistantRequest struct {
	Name            string `json:"name"`
	Language        string `json:"language,omitempty"`
	IsDefault       bool   `json:"is_default,omitempty"`
	SessionTTLHours *int   `json:"session_ttl_hours,omitempty"`
}

// AssistantResponse is the JSON representation of an assistant.
type AssistantResponse struct {
	ID              string `json:"id"`
	Name            string `json:"name"`
	Language        string `json:"language"`
	IsDefault       bool   `json:"is_default"`
	SessionTTLHours *int   `json:"session_ttl_hours,omitempty"`
	CreatedAt       string `json:"created_at"`
}

// handleSession handles POST /api/session: get-or-create the caller's
// current session for the resolved identity tuple.
func (g *Gateway) handleSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.resolveAndRun(w, r, g.sessions.GetOrCreate)
}

// handleSessionClear handles POST /api/session/clear: rotate the current
// session and return a fresh one.
func (g *Gateway) handleSessionClear(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.resolveAndRun(w, r, g.sessions.Clear)
}

// resolveAndRun is the shared body of the get-or-create and clear endpoints:
// decode, resolve the identity tuple, run the lifecycle operation, respond.
func (g *Gateway) resolveAndRun(w http.ResponseWriter, r *http.Request, op func(ctx context.Context, res *identity.Resolution, metadata map[string]string) (*session.Handle, error)) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	var req SessionRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}

	res, err := g.resolver.Resolve(r.Context(), identity.ResolveInput{
		CompanyID:     caller.CompanyID,
		UserID:        caller.UserID,
		Channel:       req.Channel,
		ChannelUserID: req.ChannelUserID,
		AssistantID:   req.AssistantID,
	})
	if err != nil {
		g.writeSessionError(w, err)
		return
	}

	handle, err := op(r.Context(), res, req.Metadata)
	if err != nil {
		g.writeSessionError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, SessionResponse{
		ID:          handle.ID,
		AssistantID: handle.AssistantID,
		Channel:     res.Key.Channel,
		Language:    res.Assistant.Language,
	})
}

// handleSessionSubpath dispatches /api/session/{id}, /api/session/{id}/end,
// /api/session/{id}/activate, and /api/session/clear.
func (g *Gateway) handleSessionSubpath(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/session/")
	if rest == "clear" {
		g.handleSessionClear(w, r)
		return
	}

	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		g.sendJSONError(w, http.StatusBadRequest, "session id is required")
		return
	}

	switch action {
	case "":
		switch r.Method {
		case http.MethodGet:
			g.handleGetSession(w, r, id)
		case http.MethodDelete:
			g.handleDeleteSession(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	case "end":
		g.handleEndSession(w, r, id)
	case "activate":
		g.handleActivateSession(w, r, id)
	default:
		g.sendJSONError(w, http.StatusNotFound, "unknown session action")
	}
}

// handleGetSession handles GET /api/session/{id}, ownership-checked against
// the caller's tenant.
func (g *Gateway) handleGetSession(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	sess, err := g.sessions.ValidateOwnership(r.Context(), id, caller.CompanyID)
	if err != nil {
		g.writeSessionError(w, err)
		return
	}

	g.writeJSON(w, http.StatusOK, sessionToDetail(sess))
}

// handleDeleteSession handles DELETE /api/session/{id}: the explicit delete
// exposed to external tooling.
func (g *Gateway) handleDeleteSession(w http.ResponseWriter, r *http.Request, id string) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	if err := g.sessions.Delete(r.Context(), id, caller.CompanyID); err != nil {
		g.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleEndSession handles POST /api/session/{id}/end.
// Ending an already-ended session is 404, not a no-op.
func (g *Gateway) handleEndSession(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	if _, err := g.sessions.ValidateOwnership(r.Context(), id, caller.CompanyID); err != nil {
		g.writeSessionError(w, err)
		return
	}
	if err := g.sessions.End(r.Context(), id); err != nil {
		g.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleActivateSession handles POST /api/session/{id}/activate.
func (g *Gateway) handleActivateSession(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	if err := g.sessions.Activate(r.Context(), id, caller.CompanyID); err != nil {
		g.writeSessionError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleListSessions handles GET /api/sessions: the caller's session history,
// newest activity first. Supports ?limit=N.
func (g *Gateway) handleListSessions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	limit := 0
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			g.sendJSONError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = parsed
	}

	sessions, err := g.sessions.List(r.Context(), caller.CompanyID, caller.UserID, limit)
	if err != nil {
		g.logger.Error("failed to list sessions", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]SessionDetail, len(sessions))
	for i, sess := range sessions {
		response[i] = sessionToDetail(sess)
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleAssistants handles POST and GET /api/assistants.
func (g *Gateway) handleAssistants(w http.ResponseWriter, r *http.Request) {
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	switch r.Method {
	case http.MethodPost:
		g.handleCreateAssistant(w, r, caller)
	case http.MethodGet:
		g.handleListAssistants(w, r, caller)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (g *Gateway) handleCreateAssistant(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	var req AssistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	language := req.Language
	if language == "" {
		language = "en"
	}

	assistant := &store.Assistant{
		ID:              uuid.New().String(),
		CompanyID:       caller.CompanyID,
		Name:            req.Name,
		Language:        language,
		IsDefault:       req.IsDefault,
		SessionTTLHours: req.SessionTTLHours,
		CreatedAt:       time.Now(),
	}
	if err := g.assistants.CreateAssistant(r.Context(), assistant); err != nil {
		if errors.Is(err, store.ErrDuplicateDefaultAssistant) {
			g.sendJSONError(w, http.StatusConflict, "tenant already has a default assistant")
			return
		}
		g.logger.Error("failed to create assistant", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	g.resolver.InvalidateDefault(caller.CompanyID)
	g.writeJSON(w, http.StatusCreated, assistantToResponse(assistant))
}

func (g *Gateway) handleListAssistants(w http.ResponseWriter, r *http.Request, caller *auth.Identity) {
	assistants, err := g.assistants.ListAssistants(r.Context(), caller.CompanyID)
	if err != nil {
		g.logger.Error("failed to list assistants", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	response := make([]AssistantResponse, len(assistants))
	for i, a := range assistants {
		response[i] = assistantToResponse(a)
	}
	g.writeJSON(w, http.StatusOK, response)
}

// handleAssistantByID handles PUT /api/assistants/{id}.
func (g *Gateway) handleAssistantByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	caller, ok := auth.FromContext(r.Context())
	if !ok {
		g.sendJSONError(w, http.StatusUnauthorized, "missing identity")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/assistants/")
	if id == "" || strings.Contains(id, "/") {
		g.sendJSONError(w, http.StatusBadRequest, "assistant id is required")
		return
	}

	var req AssistantRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Name == "" {
		g.sendJSONError(w, http.StatusBadRequest, "name is required")
		return
	}
	language := req.Language
	if language == "" {
		language = "en"
	}

	assistant := &store.Assistant{
		ID:              id,
		CompanyID:       caller.CompanyID,
		Name:            req.Name,
		Language:        language,
		IsDefault:       req.IsDefault,
		SessionTTLHours: req.SessionTTLHours,
	}
	if err := g.assistants.UpdateAssistant(r.Context(), assistant); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			g.sendJSONError(w, http.StatusNotFound, "assistant not found")
		case errors.Is(err, store.ErrDuplicateDefaultAssistant):
			g.sendJSONError(w, http.StatusConflict, "tenant already has a default assistant")
		default:
			g.logger.Error("failed to update assistant", "error", err)
			g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	g.resolver.InvalidateDefault(caller.CompanyID)
	g.writeJSON(w, http.StatusOK, assistantToResponse(assistant))
}

// writeSessionError maps typed lifecycle errors onto HTTP statuses.
func (g *Gateway) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, identity.ErrNoDefaultAssistant):
		g.sendJSONError(w, http.StatusBadRequest, "no default assistant configured")
	case errors.Is(err, session.ErrAccessDenied):
		g.sendJSONError(w, http.StatusForbidden, "access denied")
	case errors.Is(err, store.ErrNotFound):
		g.sendJSONError(w, http.StatusNotFound, "not found")
	default:
		g.logger.Error("session operation failed", "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
	}
}

func sessionToDetail(sess *store.Session) SessionDetail {
	return SessionDetail{
		ID:             sess.ID,
		UserID:         sess.UserID,
		AssistantID:    sess.AssistantID,
		Channel:        sess.Channel,
		ChannelUserID:  sess.ChannelUserID,
		Metadata:       sess.ChannelMetadata,
		ThreadID:       sess.ThreadID,
		Active:         sess.Active,
		LastActivityAt: sess.LastActivityAt.Format(time.RFC3339),
		CreatedAt:      sess.CreatedAt.Format(time.RFC3339),
	}
}

func assistantToResponse(a *store.Assistant) AssistantResponse {
	created := ""
	if !a.CreatedAt.IsZero() {
		created = a.CreatedAt.Format(time.RFC3339)
	}
	return AssistantResponse{
		ID:              a.ID,
		Name:            a.Name,
		Language:        a.Language,
		IsDefault:       a.IsDefault,
		SessionTTLHours: a.SessionTTLHours,
		CreatedAt:       created,
	}
}
