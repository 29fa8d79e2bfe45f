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

// ErrProgramNotFound indicates the requested program does not exist.
var ErrProgramNotFound = fmt.Errorf("program not found")

// SaveProgram inserts or replaces a program template. Generates an ID if
// the program has none.
func (s *Store) SaveProgram(ctx context.Context, p *models.Program) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	modulesJSON, err := json.Marshal(p.Modules)
	if err != nil {
		return fmt.Errorf("marshal program modules: %w", err)
	}
	weeksJSON, err := json.Marshal(p.Weeks)
	if err != nil {
		return fmt.Errorf("marshal program weeks: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO programs
			(id, org_id, title, length_days, include_weekends, modules, weeks, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.OrgID, p.Title, p.LengthDays, boolToInt(p.IncludeWeekends),
		string(modulesJSON), string(weeksJSON), p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("save program %s: %w", p.ID, err)
	}
	return nil
}

// GetProgram retrieves a program template by ID.
func (s *Store) GetProgram(ctx context.Context, id string) (*models.Program, error) {
	var (
		p               models.Program
		includeWeekends int
		modulesJSON     string
		weeksJSON       string
	)

	err := s.db.QueryRowxContext(ctx,
		`SELECT id, org_id, title, length_days, include_weekends, modules, weeks, created_at, updated_at
		 FROM programs WHERE id = ?`, id,
	).Scan(&p.ID, &p.OrgID, &p.Title, &p.LengthDays, &includeWeekends,
		&modulesJSON, &weeksJSON, &p.CreatedAt, &p.UpdatedAt)

	if err == sql.ErrNoRows {
		return nil, ErrProgramNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query program %s: %w", id, err)
	}

	p.IncludeWeekends = includeWeekends != 0
	if err := json.Unmarshal([]byte(modulesJSON), &p.Modules); err != nil {
		return nil, fmt.Errorf("unmarshal program modules: %w", err)
	}
	if err := json.Unmarshal([]byte(weeksJSON), &p.Weeks); err != nil {
		return nil, fmt.Errorf("unmarshal program weeks: %w", err)
	}
	return &p, nil
}

// ListPrograms returns all program templates for an org.
func (s *Store) ListPrograms(ctx context.Context, orgID string) ([]models.Program, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT id, org_id, title, length_days, include_weekends, modules, weeks, created_at, updated_at
		 FROM programs WHERE org_id = ? ORDER BY created_at DESC`, orgID)
	if err != nil {
		return nil, fmt.Errorf("query programs: %w", err)
	}
	defer rows.Close()

	var programs []models.Program
	for rows.Next() {
		var (
			p               models.Program
			includeWeekends int
			modulesJSON     string
			weeksJSON       string
		)
		if err := rows.Scan(&p.ID, &p.OrgID, &p.Title, &p.LengthDays, &includeWeekends,
			&modulesJSON, &weeksJSON, &p.CreatedAt, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan program row: %w", err)
		}
		p.IncludeWeekends = includeWeekends != 0
		if err := json.Unmarshal([]byte(modulesJSON), &p.Modules); err != nil {
			return nil, fmt.Errorf("unmarshal program modules: %w", err)
		}
		if err := json.Unmarshal([]byte(weeksJSON), &p.Weeks); err != nil {
			return nil, fmt.Errorf("unmarshal program weeks: %w", err)
		}
		programs = append(programs, p)
	}
	return programs, rows.Err()
}
