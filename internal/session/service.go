// ABOUTME: Session lifecycle controller: get-or-create, lazy TTL expiry, rotation, ending
// ABOUTME: Correctness under concurrent handlers comes from insert-conflict recovery, not locks

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/singularitybridge/session-gateway/internal/identity"
	"github.com/singularitybridge/session-gateway/internal/store"
)

// ErrSessionCreateRace is returned when both the optimistic insert and every
// conflict-recovery re-read fail. Races short of that are recovered silently;
// this error means the caller genuinely could not be given a session.
var ErrSessionCreateRace = errors.New("session create race could not be resolved")

// createAttempts bounds the insert-conflict-reread loop. Unbounded retries
// could starve under sustained contention.
const createAttempts = 3

// Handle is the minimal session reference returned to callers and handed to
// downstream collaborators.
type Handle struct {
	ID          string
	AssistantID string
}

// Service is the lifecycle controller for conversation sessions.
//
// It runs in stateless, parallel request handlers across multiple process
// instances, so no in-process lock is meaningful: the store's partial unique
// index is the only synchronization primitive. GetOrCreate is the sole
// critical section; it emulates compare-and-swap via optimistic insert plus
// conflict re-read.
type Service struct {
	sessions store.SessionStore
	profiles store.ProfileStore
	logger   *slog.Logger
}

// New creates a session lifecycle service.
func New(sessions store.SessionStore, profiles store.ProfileStore, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		sessions: sessions,
		profiles: profiles,
		logger:   logger.With("component", "session"),
	}
}

// GetOrCreate returns the active session for the resolved identity tuple,
// creating one if none exists.
//
// An existing session past its assistant's TTL is deactivated and replaced;
// its channel metadata carries forward when the caller supplied none.
// Within the TTL the existing session is touched and returned as-is. On a
// unique-index conflict (a concurrent caller won the insert race) the winning
// row is re-read and returned - the race is invisible to the caller.
func (s *Service) GetOrCreate(ctx context.Context, res *identity.Resolution, metadata map[string]string) (*Handle, error) {
	key := res.Key

	existing, err := s.sessions.GetActiveSession(ctx, key)
	switch {
	case err == nil:
		if !s.expired(existing, res.Assistant) {
			if err := s.sessions.TouchSession(ctx, existing.ID, time.Now()); err != nil && !errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("touching session: %w", err)
			}
			return &Handle{ID: existing.ID, AssistantID: existing.AssistantID}, nil
		}

		s.logger.Info("session expired",
			"session_id", existing.ID,
			"company_id", key.CompanyID,
			"idle", time.Since(existing.LastActivityAt).Round(time.Second))

		// NotFound here means a concurrent caller already expired it.
		if err := s.sessions.DeactivateSession(ctx, existing.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("expiring session: %w", err)
		}
		if len(metadata) == 0 {
			metadata = existing.ChannelMetadata
		}

	case errors.Is(err, store.ErrNotFound):
		// No active session, fall through to create

	default:
		return nil, fmt.Errorf("looking up active session: %w", err)
	}

	return s.create(ctx, key, metadata)
}

// Clear rotates the tuple's session: every active session for the tuple is
// deactivated and a fresh one is created unconditionally, with a new thread
// id. Used for explicit conversation resets.
func (s *Service) Clear(ctx context.Context, res *identity.Resolution, metadata map[string]string) (*Handle, error) {
	key := res.Key

	deactivated, err := s.sessions.DeactivateSiblings(ctx, key, "")
	if err != nil {
		return nil, fmt.Errorf("deactivating sessions for rotation: %w", err)
	}
	if deactivated > 0 {
		s.logger.Info("rotated sessions", "company_id", key.CompanyID, "count", deactivated)
	}

	return s.create(ctx, key, metadata)
}

// Activate makes the given session the single active one for its identity
// tuple, deactivating any siblings first. Idempotent: activating an
// already-active session leaves exactly one active session.
//
// Sibling deactivation is best-effort against concurrent creates; if a fresh
// sibling wins the race between the two statements, the unique index rejects
// the activation and the conflict surfaces to the caller.
func (s *Service) Activate(ctx context.Context, sessionID, companyID string) error {
	target, err := s.ValidateOwnership(ctx, sessionID, companyID)
	if err != nil {
		return err
	}

	if _, err := s.sessions.DeactivateSiblings(ctx, target.Key(), target.ID); err != nil {
		return fmt.Errorf("deactivating sibling sessions: %w", err)
	}
	if err := s.sessions.ActivateSession(ctx, target.ID); err != nil {
		return fmt.Errorf("activating session: %w", err)
	}
	if err := s.sessions.TouchSession(ctx, target.ID, time.Now()); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("touching session: %w", err)
	}

	s.logger.Info("activated session", "session_id", target.ID, "company_id", companyID)
	return nil
}

// End marks an active session inactive. Not idempotent by design: ending a
// session that is not currently active returns store.ErrNotFound.
func (s *Service) End(ctx context.Context, sessionID string) error {
	if err := s.sessions.DeactivateSession(ctx, sessionID); err != nil {
		return err
	}
	s.logger.Info("ended session", "session_id", sessionID)
	return nil
}

// create inserts a new active session for the tuple, recovering from insert
// races by re-reading the winning row. Retries are bounded with a jittered
// backoff; exhausting them returns ErrSessionCreateRace.
func (s *Service) create(ctx context.Context, key store.SessionKey, metadata map[string]string) (*Handle, error) {
	metadata = s.populateMetadata(ctx, key, metadata)

	for attempt := 0; attempt < createAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(raceBackoff()):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		now := time.Now()
		session := &store.Session{
			ID:              uuid.New().String(),
			CompanyID:       key.CompanyID,
			UserID:          key.UserID,
			AssistantID:     key.AssistantID,
			Channel:         key.Channel,
			ChannelUserID:   key.ChannelUserID,
			ChannelMetadata: metadata,
			ThreadID:        uuid.New().String(),
			Active:          true,
			LastActivityAt:  now,
			CreatedAt:       now,
		}

		err := s.sessions.CreateSession(ctx, session)
		if err == nil {
			s.logger.Debug("created session",
				"session_id", session.ID,
				"company_id", key.CompanyID,
				"channel", key.Channel)
			return &Handle{ID: session.ID, AssistantID: session.AssistantID}, nil
		}
		if !errors.Is(err, store.ErrDuplicateActiveSession) {
			return nil, fmt.Errorf("creating session: %w", err)
		}

		// A concurrent caller won the insert race; return their session.
		winner, err := s.sessions.GetActiveSession(ctx, key)
		if err == nil {
			s.logger.Debug("recovered from create race",
				"session_id", winner.ID,
				"company_id", key.CompanyID)
			return &Handle{ID: winner.ID, AssistantID: winner.AssistantID}, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("re-reading after create race: %w", err)
		}

		// The winner vanished between conflict and re-read (ended or expired
		// immediately); retry the insert.
		s.logger.Warn("create race winner vanished, retrying",
			"company_id", key.CompanyID,
			"attempt", attempt+1)
	}

	return nil, ErrSessionCreateRace
}

// populateMetadata fills the channel metadata bag for web sessions from the
// user profile when the caller supplied none. Profile lookup failures are
// non-fatal; the session is simply created without metadata.
func (s *Service) populateMetadata(ctx context.Context, key store.SessionKey, metadata map[string]string) map[string]string {
	if len(metadata) > 0 || key.Channel != store.ChannelWeb || s.profiles == nil {
		return metadata
	}

	profile, err := s.profiles.GetUserProfile(ctx, key.CompanyID, key.UserID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.logger.Warn("profile lookup failed", "error", err, "user_id", key.UserID)
		}
		return metadata
	}

	populated := make(map[string]string, 3)
	if profile.Name != "" {
		populated["name"] = profile.Name
	}
	if profile.Email != "" {
		populated["email"] = profile.Email
	}
	if profile.Phone != "" {
		populated["phone"] = profile.Phone
	}
	if len(populated) == 0 {
		return metadata
	}
	return populated
}

// expired reports whether the session's idle time exceeds the assistant's
// TTL. A nil TTL means sessions for this assistant never expire.
func (s *Service) expired(session *store.Session, assistant *store.Assistant) bool {
	if assistant.SessionTTLHours == nil {
		return false
	}
	ttl := time.Duration(*assistant.SessionTTLHours) * time.Hour
	return time.Since(session.LastActivityAt) > ttl
}

// raceBackoff returns a jittered delay between create attempts so contending
// callers don't retry in lockstep.
func raceBackoff() time.Duration {
	return time.Duration(10+rand.IntN(20)) * time.Millisecond
}
