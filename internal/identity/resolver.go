// ABOUTME: Resolves raw channel events into the canonical session identity tuple
// ABOUTME: Normalizes channel identity and binds the tenant's explicit or default assistant

package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/singularitybridge/session-gateway/internal/registry"
	"github.com/singularitybridge/session-gateway/internal/store"
)

// ErrNoDefaultAssistant is returned when no assistant id was given and the
// tenant has no default assistant configured.
var ErrNoDefaultAssistant = errors.New("no default assistant configured")

// ResolveInput is a raw channel event's identity, as seen by a request
// handler after authentication.
type ResolveInput struct {
	CompanyID     string
	UserID        string
	Channel       string
	ChannelUserID string
	AssistantID   string // optional id or display name; empty selects the tenant default
}

// Resolution is the canonical identity tuple plus the resolved assistant
// record, which carries the session TTL and language config downstream
// components need.
type Resolution struct {
	Key       store.SessionKey
	Assistant *store.Assistant
}

// Resolver normalizes channel events into canonical tuples. Tenant default
// assistants are cached in a registry; assistant mutations must call
// InvalidateDefault for the affected tenant.
type Resolver struct {
	assistants store.AssistantDirectory
	defaults   *registry.Registry[*store.Assistant]
	logger     *slog.Logger
}

// NewResolver creates a resolver over the given assistant directory.
func NewResolver(assistants store.AssistantDirectory) *Resolver {
	r := &Resolver{
		assistants: assistants,
		logger:     slog.Default().With("component", "identity"),
	}
	r.defaults = registry.New(func(companyID string) (*store.Assistant, error) {
		// Lookup runs on its own timeout so a cached entry never carries a
		// request-scoped context.
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return r.assistants.GetDefaultAssistant(ctx, companyID)
	})
	return r
}

// Resolve produces the canonical tuple for a raw channel event.
//
// The channel name is lowercased and defaults to web; on web the channel
// user id defaults to the authenticated user id. An explicit assistant
// reference (id, or display name as a fallback) is validated against the
// caller's tenant (cross-tenant references resolve as ErrNotFound,
// indistinguishable from missing ones); otherwise the tenant default
// assistant is selected.
func (r *Resolver) Resolve(ctx context.Context, in ResolveInput) (*Resolution, error) {
	channel := strings.ToLower(strings.TrimSpace(in.Channel))
	if channel == "" {
		channel = store.ChannelWeb
	}

	channelUserID := strings.TrimSpace(in.ChannelUserID)
	if channel == store.ChannelWeb && channelUserID == "" {
		channelUserID = in.UserID
	}

	assistant, err := r.resolveAssistant(ctx, in.CompanyID, in.AssistantID)
	if err != nil {
		return nil, err
	}

	r.logger.Debug("resolved identity",
		"company_id", in.CompanyID,
		"channel", channel,
		"assistant_id", assistant.ID)

	return &Resolution{
		Key: store.SessionKey{
			CompanyID:     in.CompanyID,
			UserID:        in.UserID,
			Channel:       channel,
			ChannelUserID: channelUserID,
			AssistantID:   assistant.ID,
		},
		Assistant: assistant,
	}, nil
}

func (r *Resolver) resolveAssistant(ctx context.Context, companyID, assistantID string) (*store.Assistant, error) {
	if assistantID != "" {
		assistant, err := r.assistants.GetAssistant(ctx, companyID, assistantID)
		if errors.Is(err, store.ErrNotFound) {
			// Callers may pass a display name instead of an id.
			assistant, err = r.assistants.GetAssistantByName(ctx, companyID, assistantID)
		}
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("assistant %s: %w", assistantID, store.ErrNotFound)
			}
			return nil, fmt.Errorf("looking up assistant: %w", err)
		}
		return assistant, nil
	}

	assistant, err := r.defaults.Get(companyID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNoDefaultAssistant
		}
		return nil, fmt.Errorf("looking up default assistant: %w", err)
	}
	return assistant, nil
}

// InvalidateDefault drops the cached default assistant for a tenant.
// Called after any assistant mutation in that tenant.
func (r *Resolver) InvalidateDefault(companyID string) {
	r.defaults.Invalidate(companyID)
}
