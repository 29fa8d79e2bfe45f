package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loopcoach/programsync/internal/models"
)

const habitColumns = `id, user_id, org_id, program_id, module_id, text, description,
	frequency, days, source, archived, created_at, updated_at`

// CreateHabit inserts a new habit.
func (s *Store) CreateHabit(ctx context.Context, h *models.Habit) error {
	if h.ID == "" {
		h.ID = uuid.New().String()
	}
	if h.Frequency == "" {
		h.Frequency = models.FrequencyDaily
	}
	now := time.Now().UTC()
	h.CreatedAt = now
	h.UpdatedAt = now

	daysJSON, err := json.Marshal(h.Days)
	if err != nil {
		return fmt.Errorf("marshal habit days: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO habits
			(id, user_id, org_id, program_id, module_id, text, description, frequency, days, source, archived, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		h.ID, h.UserID, h.OrgID, nullable(h.ProgramID), nullable(h.ModuleID),
		h.Text, h.Description, h.Frequency, string(daysJSON), h.Source,
		boolToInt(h.Archived), h.CreatedAt, h.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert habit: %w", err)
	}
	return nil
}

// UpdateHabit rewrites a habit's template-derived fields in place; used
// when a habit's title still matches the current module's template set.
func (s *Store) UpdateHabit(ctx context.Context, h *models.Habit) error {
	daysJSON, err := json.Marshal(h.Days)
	if err != nil {
		return fmt.Errorf("marshal habit days: %w", err)
	}
	h.UpdatedAt = time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		UPDATE habits SET module_id = ?, description = ?, frequency = ?, days = ?, archived = 0, updated_at = ?
		WHERE id = ?`,
		nullable(h.ModuleID), h.Description, h.Frequency, string(daysJSON), h.UpdatedAt, h.ID)
	if err != nil {
		return fmt.Errorf("update habit %s: %w", h.ID, err)
	}
	return nil
}

// ArchiveHabit marks a habit archived. Habits are never deleted so user
// history survives module transitions.
func (s *Store) ArchiveHabit(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE habits SET archived = 1, updated_at = ? WHERE id = ?`,
		time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("archive habit %s: %w", id, err)
	}
	return nil
}

// ActiveModuleHabits returns the user's non-archived module_default
// habits for a program, the set the habit sync engine reconciles.
func (s *Store) ActiveModuleHabits(ctx context.Context, userID, programID string) ([]models.Habit, error) {
	return s.listHabits(ctx,
		`SELECT `+habitColumns+` FROM habits
		 WHERE user_id = ? AND program_id = ? AND source = ? AND archived = 0
		 ORDER BY created_at`,
		userID, programID, models.HabitModuleDefault)
}

// ListHabits returns all of a user's habits, archived included.
func (s *Store) ListHabits(ctx context.Context, userID string) ([]models.Habit, error) {
	return s.listHabits(ctx,
		`SELECT `+habitColumns+` FROM habits WHERE user_id = ? ORDER BY created_at`, userID)
}

func (s *Store) listHabits(ctx context.Context, query string, args ...interface{}) ([]models.Habit, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query habits: %w", err)
	}
	defer rows.Close()

	var out []models.Habit
	for rows.Next() {
		var (
			h           models.Habit
			programID   sql.NullString
			moduleID    sql.NullString
			description sql.NullString
			daysJSON    string
			archived    int
		)
		if err := rows.Scan(&h.ID, &h.UserID, &h.OrgID, &programID, &moduleID,
			&h.Text, &description, &h.Frequency, &daysJSON, &h.Source,
			&archived, &h.CreatedAt, &h.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan habit row: %w", err)
		}
		if programID.Valid {
			h.ProgramID = programID.String
		}
		if moduleID.Valid {
			h.ModuleID = moduleID.String
		}
		if description.Valid {
			h.Description = description.String
		}
		h.Archived = archived != 0
		if daysJSON != "" {
			if err := json.Unmarshal([]byte(daysJSON), &h.Days); err != nil {
				return nil, fmt.Errorf("unmarshal habit days: %w", err)
			}
		}
		out = append(out, h)
	}
	return out, rows.Err()
}
