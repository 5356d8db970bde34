// ABOUTME: Online schema evolution for the sessions table and its active-session index
// ABOUTME: Idempotent, order-sensitive backfills followed by the partial unique index build

package store

import (
	"context"
	"fmt"
	"strings"
)

// activeSessionIndex is the final compound partial unique index enforcing the
// one-active-session-per-tuple invariant.
const activeSessionIndex = "idx_sessions_active_key"

// activeSessionIndexColumns is the target key, in order.
var activeSessionIndexColumns = []string{"company_id", "user_id", "channel", "channel_user_id", "assistant_id"}

// EnsureSessionIndex evolves a live, possibly historically-inconsistent
// sessions table to the current schema generation and builds the
// active-session partial unique index.
//
// The steps are order-sensitive: stale unique indexes must be dropped before
// the identity backfills run, because canonicalizing channel_user_id can
// create duplicate keys under an older, narrower index. Safe to re-run;
// every step is a no-op on an already-migrated database.
//
// Callers treat a returned error as degraded-but-safe: the gateway keeps
// serving with whatever index state exists, at the cost of weaker race
// protection until the migration is corrected.
func (s *SQLiteStore) EnsureSessionIndex(ctx context.Context) error {
	// Step 1: bring pre-channel-era rows up to the current column set.
	if err := s.backfillChannelColumns(ctx); err != nil {
		return fmt.Errorf("backfilling channel columns: %w", err)
	}

	// Step 2: drop stale unique indexes from prior schema generations.
	// Must precede the identity backfills below.
	if err := s.dropStaleSessionIndexes(ctx); err != nil {
		return fmt.Errorf("dropping stale indexes: %w", err)
	}

	// Step 3: canonicalize web identity - empty channel_user_id means the
	// session predates web identity normalization.
	result, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET channel_user_id = user_id
		WHERE channel = 'web' AND channel_user_id = ''
	`)
	if err != nil {
		return fmt.Errorf("canonicalizing web channel identity: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		s.logger.Info("canonicalized web session identities", "rows", rows)
	}

	// Step 4: strip legacy composite external ids ("rawId:agentId" -> "rawId")
	// written by early telegram/whatsapp adapters.
	result, err = s.db.ExecContext(ctx, `
		UPDATE sessions
		SET channel_user_id = substr(channel_user_id, 1, instr(channel_user_id, ':') - 1)
		WHERE channel IN ('telegram', 'whatsapp') AND instr(channel_user_id, ':') > 0
	`)
	if err != nil {
		return fmt.Errorf("stripping legacy composite ids: %w", err)
	}
	if rows, _ := result.RowsAffected(); rows > 0 {
		s.logger.Info("stripped legacy composite channel ids", "rows", rows)
	}

	// Step 5: build the final compound partial unique index.
	_, err = s.db.ExecContext(ctx, fmt.Sprintf(`
		CREATE UNIQUE INDEX IF NOT EXISTS %s
		ON sessions(%s) WHERE active = 1
	`, activeSessionIndex, strings.Join(activeSessionIndexColumns, ", ")))
	if err != nil {
		return fmt.Errorf("creating active session index: %w", err)
	}

	s.logger.Info("session index ensured", "index", activeSessionIndex)
	return nil
}

// backfillChannelColumns adds channel columns missing from generation-one
// databases. SQLite doesn't support ADD COLUMN IF NOT EXISTS, so each column
// is checked via pragma_table_info first. The column defaults double as the
// backfill values for existing rows.
func (s *SQLiteStore) backfillChannelColumns(ctx context.Context) error {
	migrations := []struct {
		column string
		apply  string
	}{
		{
			column: "channel",
			apply:  `ALTER TABLE sessions ADD COLUMN channel TEXT NOT NULL DEFAULT 'web'`,
		},
		{
			column: "channel_user_id",
			apply:  `ALTER TABLE sessions ADD COLUMN channel_user_id TEXT NOT NULL DEFAULT ''`,
		},
		{
			column: "channel_metadata",
			apply:  `ALTER TABLE sessions ADD COLUMN channel_metadata TEXT`,
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRowContext(ctx,
			`SELECT 1 FROM pragma_table_info('sessions') WHERE name = ?`, m.column).Scan(&exists)
		if err == nil {
			// Column already exists, skip
			continue
		}
		if _, err := s.db.ExecContext(ctx, m.apply); err != nil {
			return fmt.Errorf("adding %s column to sessions: %w", m.column, err)
		}
		s.logger.Info("applied migration", "column", m.column, "table", "sessions")
	}

	// Hand-built legacy tables may carry NULLs rather than column defaults.
	if _, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET channel = 'web' WHERE channel IS NULL OR channel = ''
	`); err != nil {
		return fmt.Errorf("backfilling channel default: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET channel_user_id = '' WHERE channel_user_id IS NULL
	`); err != nil {
		return fmt.Errorf("backfilling channel_user_id default: %w", err)
	}

	return nil
}

// dropStaleSessionIndexes removes unique indexes left behind by prior schema
// generations: any created unique index on sessions whose key shares the
// target's leading column but is not exactly the target key. Leaving them in
// place would cause spurious unique-constraint failures once the backfills
// canonicalize identities.
func (s *SQLiteStore) dropStaleSessionIndexes(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `PRAGMA index_list('sessions')`)
	if err != nil {
		return fmt.Errorf("listing session indexes: %w", err)
	}
	defer rows.Close()

	type indexEntry struct {
		name    string
		partial bool
	}
	var indexes []indexEntry
	for rows.Next() {
		var seq int
		var name, origin string
		var unique, partial int
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return fmt.Errorf("scanning index list: %w", err)
		}
		// origin 'c' = explicitly created; skip pk/unique-constraint autoindexes
		if origin == "c" && unique == 1 {
			indexes = append(indexes, indexEntry{name: name, partial: partial == 1})
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating index list: %w", err)
	}

	for _, idx := range indexes {
		columns, err := s.indexColumns(ctx, idx.name)
		if err != nil {
			return err
		}
		if idx.name == activeSessionIndex {
			if idx.partial && columnsEqual(columns, activeSessionIndexColumns) {
				continue
			}
			// Same name, but a prior generation's definition: non-partial, or a
			// narrower key. CREATE IF NOT EXISTS in step 5 would silently keep
			// it, so drop it here for the rebuild.
			s.logger.Info("dropping outdated session index definition",
				"index", idx.name, "columns", strings.Join(columns, ","))
			if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %q`, idx.name)); err != nil {
				return fmt.Errorf("dropping index %s: %w", idx.name, err)
			}
			continue
		}
		if len(columns) == 0 || columns[0] != activeSessionIndexColumns[0] {
			// Unrelated index, leave it alone
			continue
		}
		if columnsEqual(columns, activeSessionIndexColumns) {
			// Same key under a different name: a prior generation's spelling
			// of the target index. Drop it so the canonical name owns the key.
			s.logger.Info("dropping renamed session index", "index", idx.name)
		} else {
			s.logger.Info("dropping stale session index", "index", idx.name, "columns", strings.Join(columns, ","))
		}
		if _, err := s.db.ExecContext(ctx, fmt.Sprintf(`DROP INDEX IF EXISTS %q`, idx.name)); err != nil {
			return fmt.Errorf("dropping index %s: %w", idx.name, err)
		}
	}

	return nil
}

// indexColumns returns an index's key columns in order.
func (s *SQLiteStore) indexColumns(ctx context.Context, name string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, fmt.Sprintf(`PRAGMA index_info(%q)`, name))
	if err != nil {
		return nil, fmt.Errorf("reading index info for %s: %w", name, err)
	}
	defer rows.Close()

	var columns []string
	for rows.Next() {
		var seqno, cid int
		var column string
		if err := rows.Scan(&seqno, &cid, &column); err != nil {
			return nil, fmt.Errorf("scanning index info: %w", err)
		}
		columns = append(columns, column)
	}
	return columns, rows.Err()
}

func columnsEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
