package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/loopcoach/programsync/internal/models"
)

// GetOrgSettings returns an org's settings, falling back to safe
// defaults (focus limit 3, spread distribution) when no row exists.
// Missing configuration never fails a run.
func (s *Store) GetOrgSettings(ctx context.Context, orgID string) (*models.OrgSettings, error) {
	var settings models.OrgSettings
	err := s.db.QueryRowxContext(ctx,
		`SELECT org_id, focus_slot_limit, default_distribution, updated_at
		 FROM org_settings WHERE org_id = ?`, orgID,
	).Scan(&settings.OrgID, &settings.FocusSlotLimit, &settings.DefaultDistribution, &settings.UpdatedAt)

	if err == sql.ErrNoRows {
		return &models.OrgSettings{
			OrgID:               orgID,
			FocusSlotLimit:      models.DefaultFocusSlotLimit,
			DefaultDistribution: models.DistributeSpread,
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query org settings %s: %w", orgID, err)
	}
	return &settings, nil
}

// PutOrgSettings inserts or replaces an org's settings row.
func (s *Store) PutOrgSettings(ctx context.Context, settings *models.OrgSettings) error {
	if settings.FocusSlotLimit <= 0 {
		settings.FocusSlotLimit = models.DefaultFocusSlotLimit
	}
	if settings.DefaultDistribution == "" {
		settings.DefaultDistribution = models.DistributeSpread
	}
	settings.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO org_settings (org_id, focus_slot_limit, default_distribution, updated_at)
		VALUES (?, ?, ?, ?)`,
		settings.OrgID, settings.FocusSlotLimit, settings.DefaultDistribution, settings.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put org settings: %w", err)
	}
	return nil
}

// GetUserTimezone returns a user's timezone, defaulting to UTC when the
// profile row is missing.
func (s *Store) GetUserTimezone(ctx context.Context, userID string) (string, error) {
	var tz string
	err := s.db.GetContext(ctx, &tz,
		`SELECT timezone FROM user_profiles WHERE user_id = ?`, userID)
	if err == sql.ErrNoRows {
		return "UTC", nil
	}
	if err != nil {
		return "", fmt.Errorf("query user timezone %s: %w", userID, err)
	}
	return tz, nil
}

// UserTimezones bulk-loads timezones for a set of users. Users without a
// profile row are simply absent from the result; callers default to UTC.
func (s *Store) UserTimezones(ctx context.Context, userIDs []string) (map[string]string, error) {
	out := make(map[string]string, len(userIDs))
	if len(userIDs) == 0 {
		return out, nil
	}

	query, args, err := sqlx.In(
		`SELECT user_id, timezone FROM user_profiles WHERE user_id IN (?)`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("build timezone query: %w", err)
	}
	rows, err := s.db.QueryxContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("query user timezones: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var userID, tz string
		if err := rows.Scan(&userID, &tz); err != nil {
			return nil, fmt.Errorf("scan timezone row: %w", err)
		}
		out[userID] = tz
	}
	return out, rows.Err()
}

// PutUserProfile inserts or replaces a user profile.
func (s *Store) PutUserProfile(ctx context.Context, p *models.UserProfile) error {
	if p.Timezone == "" {
		p.Timezone = "UTC"
	}
	p.UpdatedAt = time.Now().UTC()
	_, err := s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO user_profiles (user_id, timezone, updated_at)
		VALUES (?, ?, ?)`,
		p.UserID, p.Timezone, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("put user profile: %w", err)
	}
	return nil
}
