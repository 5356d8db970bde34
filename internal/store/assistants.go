// ABOUTME: SQLite operations for the tenant assistant directory and user profiles
// ABOUTME: Assistants carry per-tenant session TTL config; profiles feed web channel metadata

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateAssistant inserts a new assistant record.
// Returns ErrDuplicateDefaultAssistant if is_default is set while the tenant
// already has a default.
func (s *SQLiteStore) CreateAssistant(ctx context.Context, assistant *Assistant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assistants (id, company_id, name, language, is_default, session_ttl_hours, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		assistant.ID,
		assistant.CompanyID,
		assistant.Name,
		assistant.Language,
		boolToInt(assistant.IsDefault),
		nullInt(assistant.SessionTTLHours),
		assistant.CreatedAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateDefaultAssistant
		}
		return fmt.Errorf("inserting assistant: %w", err)
	}

	s.logger.Debug("created assistant", "id", assistant.ID, "company_id", assistant.CompanyID, "default", assistant.IsDefault)
	return nil
}

const assistantColumns = `id, company_id, name, language, is_default, session_ttl_hours, created_at`

// GetAssistant retrieves an assistant by id, scoped to the tenant.
// Returns ErrNotFound for missing ids and for ids belonging to other tenants;
// the two cases are indistinguishable to the caller.
func (s *SQLiteStore) GetAssistant(ctx context.Context, companyID, id string) (*Assistant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+assistantColumns+`
		FROM assistants
		WHERE id = ? AND company_id = ?
	`, id, companyID)
	return scanAssistant(row)
}

// GetAssistantByName retrieves an assistant by its display name within the
// tenant. Names are not unique; the first match by creation order wins.
func (s *SQLiteStore) GetAssistantByName(ctx context.Context, companyID, name string) (*Assistant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+assistantColumns+`
		FROM assistants
		WHERE company_id = ? AND name = ?
		ORDER BY created_at
		LIMIT 1
	`, companyID, name)
	return scanAssistant(row)
}

// GetDefaultAssistant retrieves the tenant's default assistant.
// Returns ErrNotFound if the tenant has no default configured.
func (s *SQLiteStore) GetDefaultAssistant(ctx context.Context, companyID string) (*Assistant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+assistantColumns+`
		FROM assistants
		WHERE company_id = ? AND is_default = 1
	`, companyID)
	return scanAssistant(row)
}

// UpdateAssistant rewrites an assistant's mutable fields.
// Returns ErrNotFound if the assistant doesn't exist in the tenant.
func (s *SQLiteStore) UpdateAssistant(ctx context.Context, assistant *Assistant) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE assistants
		SET name = ?, language = ?, is_default = ?, session_ttl_hours = ?
		WHERE id = ? AND company_id = ?
	`,
		assistant.Name,
		assistant.Language,
		boolToInt(assistant.IsDefault),
		nullInt(assistant.SessionTTLHours),
		assistant.ID,
		assistant.CompanyID,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return ErrDuplicateDefaultAssistant
		}
		return fmt.Errorf("updating assistant: %w", err)
	}
	if err := requireRows(result); err != nil {
		return err
	}

	s.logger.Debug("updated assistant", "id", assistant.ID, "company_id", assistant.CompanyID)
	return nil
}

// ListAssistants returns all assistants for a tenant, defaults first.
func (s *SQLiteStore) ListAssistants(ctx context.Context, companyID string) ([]*Assistant, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+assistantColumns+`
		FROM assistants
		WHERE company_id = ?
		ORDER BY is_default DESC, name
	`, companyID)
	if err != nil {
		return nil, fmt.Errorf("querying assistants: %w", err)
	}
	defer rows.Close()

	var assistants []*Assistant
	for rows.Next() {
		assistant, err := scanAssistant(rows)
		if err != nil {
			return nil, err
		}
		assistants = append(assistants, assistant)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating assistant rows: %w", err)
	}
	return assistants, nil
}

func scanAssistant(row scanner) (*Assistant, error) {
	var assistant Assistant
	var isDefault int
	var ttl sql.NullInt64
	var createdAtStr string

	err := row.Scan(
		&assistant.ID,
		&assistant.CompanyID,
		&assistant.Name,
		&assistant.Language,
		&isDefault,
		&ttl,
		&createdAtStr,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning assistant: %w", err)
	}

	assistant.IsDefault = isDefault == 1
	if ttl.Valid {
		hours := int(ttl.Int64)
		assistant.SessionTTLHours = &hours
	}

	assistant.CreatedAt, err = time.Parse(time.RFC3339, createdAtStr)
	if err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}

	return &assistant, nil
}

// SaveUserProfile inserts or replaces a user profile.
func (s *SQLiteStore) SaveUserProfile(ctx context.Context, profile *UserProfile) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO user_profiles (company_id, user_id, name, email, phone)
		VALUES (?, ?, ?, ?, ?)
	`, profile.CompanyID, profile.UserID, profile.Name, profile.Email, profile.Phone)
	if err != nil {
		return fmt.Errorf("saving user profile: %w", err)
	}
	return nil
}

// GetUserProfile retrieves a user profile.
// Returns ErrNotFound if the user has no profile.
func (s *SQLiteStore) GetUserProfile(ctx context.Context, companyID, userID string) (*UserProfile, error) {
	var profile UserProfile
	err := s.db.QueryRowContext(ctx, `
		SELECT company_id, user_id, name, email, phone
		FROM user_profiles
		WHERE company_id = ? AND user_id = ?
	`, companyID, userID).Scan(
		&profile.CompanyID,
		&profile.UserID,
		&profile.Name,
		&profile.Email,
		&profile.Phone,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying user profile: %w", err)
	}
	return &profile, nil
}

// nullInt returns nil for a nil pointer, otherwise the dereferenced value.
func nullInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}
