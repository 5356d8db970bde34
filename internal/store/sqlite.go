// ABOUTME: SQLite implementation of the storage interfaces using modernc.org/sqlite
// ABOUTME: Session persistence with a partial unique index guarding the active-session invariant

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements SessionStore, AssistantDirectory and ProfileStore
// on a single SQLite database.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	// The in-process driver serializes writes; a busy timeout covers the gap
	// when multiple gateway instances share one database file.
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// The active-session unique index is NOT created here; EnsureSessionIndex
// owns it because historical databases need backfills first.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id               TEXT PRIMARY KEY,
			company_id       TEXT NOT NULL,
			user_id          TEXT NOT NULL,
			assistant_id     TEXT NOT NULL,
			channel          TEXT NOT NULL DEFAULT 'web',
			channel_user_id  TEXT NOT NULL DEFAULT '',
			channel_metadata TEXT,
			thread_id        TEXT NOT NULL,
			active           INTEGER NOT NULL DEFAULT 1,
			last_activity_at TEXT NOT NULL,
			created_at       TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_company_user
			ON sessions(company_id, user_id, last_activity_at);

		CREATE TABLE IF NOT EXISTS assistants (
			id                TEXT PRIMARY KEY,
			company_id        TEXT NOT NULL,
			name              TEXT NOT NULL,
			language          TEXT NOT NULL DEFAULT 'en',
			is_default        INTEGER NOT NULL DEFAULT 0,
			session_ttl_hours INTEGER,
			created_at        TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_assistants_company ON assistants(company_id);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_assistants_default
			ON assistants(company_id) WHERE is_default = 1;

		CREATE TABLE IF NOT EXISTS user_profiles (
			company_id TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			name       TEXT NOT NULL DEFAULT '',
			email      TEXT NOT NULL DEFAULT '',
			phone      TEXT NOT NULL DEFAULT '',

			PRIMARY KEY (company_id, user_id)
		);
	`

	_, err := s.db.Exec(schema)
	return err
}

// isConstraintViolation checks if the error is a SQLite UNIQUE constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// DB exposes the underlying handle for the migration routine and tests.
func (s *SQLiteStore) DB() *sql.DB {
	return s.db
}

// CreateSession inserts a new session row.
// Returns ErrDuplicateActiveSession if an active session already exists for
// the same identity tuple (a concurrent caller won the insert race).
func (s *SQLiteStore) CreateSession(ctx context.Context, session *Session) error {
	metadata, err := encodeMetadata(session.ChannelMetadata)
	if err != nil {
		return fmt.Errorf("encoding channel metadata: %w", err)
	}

	query := `
		INSERT INTO sessions (id, company_id, user_id, assistant_id, channel,
			channel_user_id, channel_metadata, thread_id, active, last_activity_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = s.db.ExecContext(ctx, query,
		session.ID,
		session.CompanyID,
		session.UserID,
		session.AssistantID,
		session.Channel,
		session.ChannelUserID,
		metadata,
		session.ThreadID,
		boolToInt(session.Active),
		session.LastActivityAt.UTC().Format(time.RFC3339),
		session.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateActiveSession
		}
		return fmt.Errorf("inserting session: %w", err)
	}

	s.logger.Debug("created session", "id", session.ID, "company_id", session.CompanyID, "channel", session.Channel)
	return nil
}

const sessionColumns = `id, company_id, user_id, assistant_id, channel,
	channel_user_id, channel_metadata, thread_id, active, last_activity_at, created_at`

// GetSession retrieves a session by ID.
// Returns ErrNotFound if the session doesn't exist.
func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE id = ?
	`, id)
	return scanSession(row)
}

// GetActiveSession retrieves the single active session for an identity tuple.
// Returns ErrNotFound if no active session exists for the key.
func (s *SQLiteStore) GetActiveSession(ctx context.Context, key SessionKey) (*Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE company_id = ? AND user_id = ? AND channel = ?
		  AND channel_user_id = ? AND assistant_id = ? AND active = 1
	`, key.CompanyID, key.UserID, key.Channel, key.ChannelUserID, key.AssistantID)
	return scanSession(row)
}

// TouchSession advances last_activity_at on an active session.
// Returns ErrNotFound if no active session with that id exists.
func (s *SQLiteStore) TouchSession(ctx context.Context, id string, at time.Time) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET last_activity_at = ? WHERE id = ? AND active = 1
	`, at.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("touching session: %w", err)
	}
	return requireRows(result)
}

// DeactivateSession marks an active session inactive.
// Returns ErrNotFound if no active session with that id exists; deactivating
// an already-inactive session is an error, not a no-op.
func (s *SQLiteStore) DeactivateSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET active = 0 WHERE id = ? AND active = 1
	`, id)
	if err != nil {
		return fmt.Errorf("deactivating session: %w", err)
	}
	if err := requireRows(result); err != nil {
		return err
	}
	s.logger.Debug("deactivated session", "id", id)
	return nil
}

// DeactivateSiblings marks inactive every active session sharing the key
// except the given id. Returns the number of rows deactivated. Best-effort
// with respect to concurrent creates; the unique index remains the authority.
func (s *SQLiteStore) DeactivateSiblings(ctx context.Context, key SessionKey, exceptID string) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET active = 0
		WHERE company_id = ? AND user_id = ? AND channel = ?
		  AND channel_user_id = ? AND assistant_id = ? AND active = 1 AND id != ?
	`, key.CompanyID, key.UserID, key.Channel, key.ChannelUserID, key.AssistantID, exceptID)
	if err != nil {
		return 0, fmt.Errorf("deactivating sibling sessions: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("getting rows affected: %w", err)
	}
	return rows, nil
}

// ActivateSession flips a session back to active. Idempotent: activating an
// already-active session succeeds. The caller is responsible for deactivating
// siblings first; a conflicting active sibling surfaces as
// ErrDuplicateActiveSession from the unique index.
func (s *SQLiteStore) ActivateSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET active = 1 WHERE id = ?
	`, id)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateActiveSession
		}
		return fmt.Errorf("activating session: %w", err)
	}
	if err := requireRows(result); err != nil {
		return err
	}
	s.logger.Debug("activated session", "id", id)
	return nil
}

// DeleteSession removes a session row entirely. This is the only operation
// that discards history; everything else retains inactive rows.
func (s *SQLiteStore) DeleteSession(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("deleting session: %w", err)
	}
	if err := requireRows(result); err != nil {
		return err
	}
	s.logger.Debug("deleted session", "id", id)
	return nil
}

// ListSessions returns a user's sessions ordered by most recent activity.
// If limit is 0 or negative, a default limit of 100 is used.
func (s *SQLiteStore) ListSessions(ctx context.Context, companyID, userID string, limit int) ([]*Session, error) {
	if limit <= 0 {
		limit = 100
	}
	if limit > 1000 {
		limit = 1000
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT `+sessionColumns+`
		FROM sessions
		WHERE company_id = ? AND user_id = ?
		ORDER BY last_activity_at DESC
		LIMIT ?
	`, companyID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying sessions: %w", err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating session rows: %w", err)
	}
	return sessions, nil
}

// scanner abstracts sql.Row and sql.Rows for scanSession.
type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*Session, error) {
	var session Session
	var metadata sql.NullString
	var active int
	var lastActivityStr, createdAtStr string

	err := row.Scan(
		&session.ID,
		&session.CompanyID,
		&session.UserID,
		&session.AssistantID,
		&session.Channel,
		&session.ChannelUserID,
		&metadata,
		&session.ThreadID,
		&active,
		&lastActivityStr,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning session: %w", err)
	}

	session.Active = active == 1

	session.LastActivityAt, err = time.Parse(time.RFC3339, lastActivityStr)
	if err != nil {
		return nil, fmt.Errorf("parsing last_activity_at: %w", err)
	}
	session.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &session.ChannelMetadata); err != nil {
			return nil, fmt.Errorf("decoding channel metadata: %w", err)
		}
	}

	return &session, nil
}

// encodeMetadata serializes the metadata bag, returning nil for an empty bag
// so the column stays NULL.
func encodeMetadata(metadata map[string]string) (any, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(metadata)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// requireRows converts a zero-rows-affected result into ErrNotFound.
func requireRows(result sql.Result) error {
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// Ensure SQLiteStore implements the storage interfaces
var _ SessionStore = (*SQLiteStore)(nil)
var _ AssistantDirectory = (*SQLiteStore)(nil)
var _ ProfileStore = (*SQLiteStore)(nil)
