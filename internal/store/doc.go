// Package store provides persistent storage for session-gateway using SQLite.
//
// # Architecture
//
// The store package uses an interface-driven architecture with specialized
// interfaces:
//
//   - SessionStore: conversation session rows and their lifecycle flips
//   - AssistantDirectory: tenant assistants (default selection, TTL config)
//   - ProfileStore: user contact profiles for web metadata auto-population
//
// SQLiteStore implements all interfaces in a single struct, allowing easy
// composition while maintaining clear interface boundaries.
//
// # The active-session invariant
//
// At most one sessions row with active = 1 may exist for a given tuple
// (company_id, user_id, channel, channel_user_id, assistant_id). The
// invariant is enforced by a compound partial unique index, not by
// application locking: stateless request handlers across multiple process
// instances rely on INSERT conflicts as their only synchronization primitive.
// CreateSession surfaces such conflicts as ErrDuplicateActiveSession.
//
// The index is built by EnsureSessionIndex rather than by the schema DDL,
// because historical databases need ordered backfills before the index can
// be created without spurious conflicts. See migrate.go.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//	PRAGMA busy_timeout=5000;
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: requested entity does not exist (or is not active, for
//     operations that require an active row)
//   - ErrDuplicateActiveSession: the identity tuple already has an active row
//   - ErrDuplicateDefaultAssistant: the tenant already has a default assistant
//
// All methods accept context.Context for cancellation support.
//
// # Testing
//
// Use NewSQLiteStore(":memory:") or a t.TempDir()-backed file for tests with
// real SQLite; the schema and pragmas are applied automatically.
package store
