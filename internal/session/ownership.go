// ABOUTME: Tenant ownership boundary for external tools touching a session
// ABOUTME: Missing sessions and cross-tenant sessions are deliberately indistinguishable

package session

import (
	"context"
	"errors"
	"fmt"

	"github.com/singularitybridge/session-gateway/internal/store"
)

// ErrAccessDenied is returned when a session does not exist or belongs to a
// different tenant. The two cases share one error so a caller probing with
// foreign session ids cannot enumerate which ids exist.
var ErrAccessDenied = errors.New("access denied")

// ValidateOwnership is the authorization boundary every external tool must
// pass before reading or mutating a session. It returns the session on
// success and ErrAccessDenied otherwise.
func (s *Service) ValidateOwnership(ctx context.Context, sessionID, companyID string) (*store.Session, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrAccessDenied
		}
		return nil, fmt.Errorf("looking up session: %w", err)
	}
	if session.CompanyID != companyID {
		s.logger.Warn("cross-tenant session access rejected",
			"session_id", sessionID,
			"caller_company_id", companyID)
		return nil, ErrAccessDenied
	}
	return session, nil
}

// Delete removes a session row entirely, including its history. Exposed to
// external tooling only; everything else in the lifecycle retains inactive
// rows. Ownership-checked.
func (s *Service) Delete(ctx context.Context, sessionID, companyID string) error {
	if _, err := s.ValidateOwnership(ctx, sessionID, companyID); err != nil {
		return err
	}
	if err := s.sessions.DeleteSession(ctx, sessionID); err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	s.logger.Info("deleted session", "session_id", sessionID, "company_id", companyID)
	return nil
}

// List returns a user's sessions, newest activity first, active and
// historical alike.
func (s *Service) List(ctx context.Context, companyID, userID string, limit int) ([]*store.Session, error) {
	return s.sessions.ListSessions(ctx, companyID, userID, limit)
}
