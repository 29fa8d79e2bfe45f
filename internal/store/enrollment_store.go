package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loopcoach/programsync/internal/calendar"
	"github.com/loopcoach/programsync/internal/models"
)

// ErrEnrollmentNotFound indicates the requested enrollment does not exist.
var ErrEnrollmentNotFound = fmt.Errorf("enrollment not found")

// CreateEnrollment inserts a new enrollment. The start date is stored as
// a date-only string; the time-of-day component is discarded.
func (s *Store) CreateEnrollment(ctx context.Context, e *models.Enrollment) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.Status == "" {
		e.Status = models.EnrollmentActive
	}
	now := time.Now().UTC()
	e.CreatedAt = now
	e.UpdatedAt = now

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO enrollments
			(id, user_id, org_id, program_id, cohort_id, started_at, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.UserID, e.OrgID, e.ProgramID, nullable(e.CohortID),
		e.StartedAt.Format(calendar.DateFormat), e.Status, e.CreatedAt, e.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert enrollment: %w", err)
	}
	return nil
}

// GetEnrollment retrieves an enrollment by ID.
func (s *Store) GetEnrollment(ctx context.Context, id string) (*models.Enrollment, error) {
	row := s.db.QueryRowxContext(ctx,
		`SELECT id, user_id, org_id, program_id, cohort_id, started_at, status, created_at, updated_at
		 FROM enrollments WHERE id = ?`, id)

	e, err := scanEnrollment(row)
	if err == sql.ErrNoRows {
		return nil, ErrEnrollmentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query enrollment %s: %w", id, err)
	}
	return e, nil
}

// ListActiveEnrollments returns all enrollments with active status.
func (s *Store) ListActiveEnrollments(ctx context.Context) ([]models.Enrollment, error) {
	return s.listEnrollments(ctx,
		`SELECT id, user_id, org_id, program_id, cohort_id, started_at, status, created_at, updated_at
		 FROM enrollments WHERE status = ? ORDER BY created_at`, models.EnrollmentActive)
}

// ListEnrollmentsByCohort returns all enrollments belonging to a cohort.
func (s *Store) ListEnrollmentsByCohort(ctx context.Context, cohortID string) ([]models.Enrollment, error) {
	return s.listEnrollments(ctx,
		`SELECT id, user_id, org_id, program_id, cohort_id, started_at, status, created_at, updated_at
		 FROM enrollments WHERE cohort_id = ? ORDER BY created_at`, cohortID)
}

// ListEnrollmentsByProgram returns all enrollments for a program.
func (s *Store) ListEnrollmentsByProgram(ctx context.Context, programID string) ([]models.Enrollment, error) {
	return s.listEnrollments(ctx,
		`SELECT id, user_id, org_id, program_id, cohort_id, started_at, status, created_at, updated_at
		 FROM enrollments WHERE program_id = ? ORDER BY created_at`, programID)
}

// UpdateEnrollmentStatus transitions an enrollment's lifecycle state.
func (s *Store) UpdateEnrollmentStatus(ctx context.Context, id string, status models.EnrollmentStatus) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE enrollments SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	rows, _ := res.RowsAffected()
	if rows == 0 {
		return ErrEnrollmentNotFound
	}
	return nil
}

func (s *Store) listEnrollments(ctx context.Context, query string, args ...interface{}) ([]models.Enrollment, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query enrollments: %w", err)
	}
	defer rows.Close()

	var out []models.Enrollment
	for rows.Next() {
		e, err := scanEnrollment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan enrollment row: %w", err)
		}
		out = append(out, *e)
	}
	return out, rows.Err()
}

type scannable interface {
	Scan(dest ...interface{}) error
}

func scanEnrollment(row scannable) (*models.Enrollment, error) {
	var (
		e         models.Enrollment
		cohortID  sql.NullString
		startedAt string
	)
	err := row.Scan(&e.ID, &e.UserID, &e.OrgID, &e.ProgramID, &cohortID,
		&startedAt, &e.Status, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if cohortID.Valid {
		e.CohortID = cohortID.String
	}
	started, err := time.Parse(calendar.DateFormat, startedAt)
	if err != nil {
		return nil, fmt.Errorf("parse started_at %q: %w", startedAt, err)
	}
	e.StartedAt = started
	return &e, nil
}
