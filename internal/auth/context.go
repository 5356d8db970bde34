// ABOUTME: Request-context plumbing for the authenticated caller identity
// ABOUTME: WithIdentity/FromContext pair used by middleware and handlers

package auth

import "context"

type contextKey struct{}

// WithIdentity returns a context carrying the caller identity.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, contextKey{}, identity)
}

// FromContext extracts the caller identity placed by the auth middleware.
func FromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(contextKey{}).(*Identity)
	return identity, ok
}
