// ABOUTME: Store interfaces and data types for session-gateway persistence
// ABOUTME: Defines Session, Assistant, UserProfile structs and the storage contracts

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateActiveSession is returned when inserting an active session for a
// conversation key that already has one. Callers recover by re-reading the
// winning row.
var ErrDuplicateActiveSession = errors.New("active session already exists")

// ErrDuplicateDefaultAssistant is returned when marking an assistant as the
// tenant default while another default already exists.
var ErrDuplicateDefaultAssistant = errors.New("default assistant already exists")

// Channel name constants. The set is open-ended: the store accepts any
// lowercase channel string, these are the ones the platform ships adapters for.
const (
	ChannelWeb      = "web"
	ChannelTelegram = "telegram"
	ChannelWhatsApp = "whatsapp"
	ChannelEmail    = "email"
	ChannelVoice    = "voice"
	ChannelAPI      = "api"
)

// SessionKey is the identity tuple a conversation session is unique on.
// At most one active session may exist per key; the partial unique index
// on the sessions table is the sole enforcer of that invariant.
type SessionKey struct {
	CompanyID     string
	UserID        string
	Channel       string
	ChannelUserID string
	AssistantID   string
}

// Session represents one conversation session between a channel identity and
// an assistant. Inactive rows are retained as history and are never flipped
// back to active except through ActivateSession.
type Session struct {
	ID              string
	CompanyID       string
	UserID          string
	AssistantID     string
	Channel         string
	ChannelUserID   string
	ChannelMetadata map[string]string
	ThreadID        string
	Active          bool
	LastActivityAt  time.Time
	CreatedAt       time.Time
}

// Key returns the identity tuple this session belongs to.
func (s *Session) Key() SessionKey {
	return SessionKey{
		CompanyID:     s.CompanyID,
		UserID:        s.UserID,
		Channel:       s.Channel,
		ChannelUserID: s.ChannelUserID,
		AssistantID:   s.AssistantID,
	}
}

// Assistant is a tenant-scoped assistant record. SessionTTLHours is the
// inactivity threshold after which a session lazily expires; nil means
// sessions never expire.
type Assistant struct {
	ID              string
	CompanyID       string
	Name            string
	Language        string
	IsDefault       bool
	SessionTTLHours *int
	CreatedAt       time.Time
}

// UserProfile holds the contact fields used to auto-populate channel metadata
// for web sessions.
type UserProfile struct {
	CompanyID string
	UserID    string
	Name      string
	Email     string
	Phone     string
}

// SessionStore defines the persistence operations the lifecycle controller
// needs. CreateSession must surface unique-index conflicts as
// ErrDuplicateActiveSession so callers can run conflict recovery.
type SessionStore interface {
	CreateSession(ctx context.Context, session *Session) error
	GetSession(ctx context.Context, id string) (*Session, error)
	GetActiveSession(ctx context.Context, key SessionKey) (*Session, error)
	TouchSession(ctx context.Context, id string, at time.Time) error
	DeactivateSession(ctx context.Context, id string) error
	DeactivateSiblings(ctx context.Context, key SessionKey, exceptID string) (int64, error)
	ActivateSession(ctx context.Context, id string) error
	DeleteSession(ctx context.Context, id string) error
	ListSessions(ctx context.Context, companyID, userID string, limit int) ([]*Session, error)
}

// AssistantDirectory defines lookup and management of tenant assistants.
type AssistantDirectory interface {
	CreateAssistant(ctx context.Context, assistant *Assistant) error
	GetAssistant(ctx context.Context, companyID, id string) (*Assistant, error)
	GetAssistantByName(ctx context.Context, companyID, name string) (*Assistant, error)
	GetDefaultAssistant(ctx context.Context, companyID string) (*Assistant, error)
	UpdateAssistant(ctx context.Context, assistant *Assistant) error
	ListAssistants(ctx context.Context, companyID string) ([]*Assistant, error)
}

// ProfileStore defines user profile lookup for metadata auto-population.
type ProfileStore interface {
	SaveUserProfile(ctx context.Context, profile *UserProfile) error
	GetUserProfile(ctx context.Context, companyID, userID string) (*UserProfile, error)
}
