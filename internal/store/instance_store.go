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

// ErrInstanceNotFound indicates the requested instance does not exist.
var ErrInstanceNotFound = fmt.Errorf("instance not found")

const instanceColumns = `id, program_id, enrollment_id, cohort_id, org_id, status,
	include_weekends, weeks, modules, created_at, updated_at`

// CreateInstance inserts a new program instance.
func (s *Store) CreateInstance(ctx context.Context, inst *models.ProgramInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.New().String()
	}
	if inst.Status == "" {
		inst.Status = models.InstanceActive
	}
	now := time.Now().UTC()
	inst.CreatedAt = now
	inst.UpdatedAt = now

	weeksJSON, err := json.Marshal(inst.Weeks)
	if err != nil {
		return fmt.Errorf("marshal instance weeks: %w", err)
	}
	modulesJSON, err := json.Marshal(inst.Modules)
	if err != nil {
		return fmt.Errorf("marshal instance modules: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO instances
			(id, program_id, enrollment_id, cohort_id, org_id, status, include_weekends, weeks, modules, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		inst.ID, inst.ProgramID, nullable(inst.EnrollmentID), nullable(inst.CohortID),
		inst.OrgID, inst.Status, boolToInt(inst.IncludeWeekends),
		string(weeksJSON), string(modulesJSON), inst.CreatedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID.
func (s *Store) GetInstance(ctx context.Context, id string) (*models.ProgramInstance, error) {
	row := s.db.QueryRowxContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE id = ?`, id)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query instance %s: %w", id, err)
	}
	return inst, nil
}

// GetInstanceForEnrollment returns the individual instance for an
// enrollment, or nil when none exists.
func (s *Store) GetInstanceForEnrollment(ctx context.Context, enrollmentID string) (*models.ProgramInstance, error) {
	row := s.db.QueryRowxContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE enrollment_id = ?`, enrollmentID)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query instance for enrollment %s: %w", enrollmentID, err)
	}
	return inst, nil
}

// GetInstanceForCohort returns the shared instance for a cohort, or nil
// when none exists.
func (s *Store) GetInstanceForCohort(ctx context.Context, cohortID string) (*models.ProgramInstance, error) {
	row := s.db.QueryRowxContext(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE cohort_id = ?`, cohortID)
	inst, err := scanInstance(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query instance for cohort %s: %w", cohortID, err)
	}
	return inst, nil
}

// ListInstances returns every instance. The reconciliation driver loads
// the full set once per run and indexes it in memory.
func (s *Store) ListInstances(ctx context.Context) ([]models.ProgramInstance, error) {
	return s.listInstances(ctx, `SELECT `+instanceColumns+` FROM instances`)
}

// ListInstancesByProgram returns all instances materialized from a
// program template.
func (s *Store) ListInstancesByProgram(ctx context.Context, programID string) ([]models.ProgramInstance, error) {
	return s.listInstances(ctx,
		`SELECT `+instanceColumns+` FROM instances WHERE program_id = ?`, programID)
}

// ListInstanceIDs returns the set of valid instance IDs, used by the
// orphan reaper.
func (s *Store) ListInstanceIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := s.db.SelectContext(ctx, &ids, `SELECT id FROM instances`); err != nil {
		return nil, fmt.Errorf("query instance ids: %w", err)
	}
	return ids, nil
}

// SaveInstanceWeeks persists a mutated weeks document, as happens after
// week distribution runs against an instance.
func (s *Store) SaveInstanceWeeks(ctx context.Context, inst *models.ProgramInstance) error {
	weeksJSON, err := json.Marshal(inst.Weeks)
	if err != nil {
		return fmt.Errorf("marshal instance weeks: %w", err)
	}
	inst.UpdatedAt = time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET weeks = ?, updated_at = ? WHERE id = ?`,
		string(weeksJSON), inst.UpdatedAt, inst.ID)
	if err != nil {
		return fmt.Errorf("update instance weeks: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// SetInstanceStatus updates an instance's lifecycle status. Archived
// instances keep their task rows but stop receiving sync passes.
func (s *Store) SetInstanceStatus(ctx context.Context, id string, status models.InstanceStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE instances SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set instance status: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrInstanceNotFound
	}
	return nil
}

// DeleteInstance removes an instance. Materialized tasks referencing it
// become orphans and are removed by the next reaper pass.
func (s *Store) DeleteInstance(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM instances WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete instance %s: %w", id, err)
	}
	return nil
}

func (s *Store) listInstances(ctx context.Context, query string, args ...interface{}) ([]models.ProgramInstance, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	var out []models.ProgramInstance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("scan instance row: %w", err)
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

func scanInstance(row scannable) (*models.ProgramInstance, error) {
	var (
		inst            models.ProgramInstance
		enrollmentID    sql.NullString
		cohortID        sql.NullString
		includeWeekends int
		weeksJSON       string
		modulesJSON     string
	)
	err := row.Scan(&inst.ID, &inst.ProgramID, &enrollmentID, &cohortID, &inst.OrgID,
		&inst.Status, &includeWeekends, &weeksJSON, &modulesJSON,
		&inst.CreatedAt, &inst.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if enrollmentID.Valid {
		inst.EnrollmentID = enrollmentID.String
	}
	if cohortID.Valid {
		inst.CohortID = cohortID.String
	}
	inst.IncludeWeekends = includeWeekends != 0
	if err := json.Unmarshal([]byte(weeksJSON), &inst.Weeks); err != nil {
		return nil, fmt.Errorf("unmarshal instance weeks: %w", err)
	}
	if err := json.Unmarshal([]byte(modulesJSON), &inst.Modules); err != nil {
		return nil, fmt.Errorf("unmarshal instance modules: %w", err)
	}
	return &inst, nil
}
