package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/loopcoach/programsync/internal/models"
)

const taskColumns = `id, user_id, org_id, instance_id, instance_task_id, day_index, date,
	label, list_type, status, client_locked, source, created_at, updated_at`

const insertTaskSQL = `
	INSERT INTO tasks
		(id, user_id, org_id, instance_id, instance_task_id, day_index, date,
		 label, list_type, status, client_locked, source, created_at, updated_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// CreateTask inserts a single task row directly. The sync engine uses
// batched inserts instead; this is for user-authored tasks and tests.
func (s *Store) CreateTask(ctx context.Context, t *models.Task) error {
	prepareTask(t)
	_, err := s.db.ExecContext(ctx, insertTaskSQL, taskArgs(t)...)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}
	return nil
}

// AppendInsertTask queues a task insert on a write batch.
func (s *Store) AppendInsertTask(ctx context.Context, b *WriteBatch, t *models.Task) error {
	prepareTask(t)
	return b.Add(ctx, insertTaskSQL, taskArgs(t)...)
}

// AppendDeleteTask queues a task delete on a write batch.
func (s *Store) AppendDeleteTask(ctx context.Context, b *WriteBatch, taskID string) error {
	return b.Add(ctx, `DELETE FROM tasks WHERE id = ?`, taskID)
}

// TasksForInstanceDay returns every task row for one user's instance
// day, soft-deleted rows included. The sync engine dedups against this
// set, so a task the user deleted stays deleted instead of being
// recreated on the next run.
func (s *Store) TasksForInstanceDay(ctx context.Context, userID, instanceID string, dayIndex int) ([]models.Task, error) {
	return s.listTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = ? AND instance_id = ? AND day_index = ?
		 ORDER BY created_at`,
		userID, instanceID, dayIndex)
}

// TasksForUserDate returns all of a user's tasks on a calendar date.
func (s *Store) TasksForUserDate(ctx context.Context, userID, date string) ([]models.Task, error) {
	return s.listTasks(ctx,
		`SELECT `+taskColumns+` FROM tasks
		 WHERE user_id = ? AND date = ? AND status != ?
		 ORDER BY list_type, created_at`,
		userID, date, models.TaskDeleted)
}

// HasInstanceTasks reports whether any task rows exist for the given
// user/instance/day, which the reconciliation driver treats as
// "already synced".
func (s *Store) HasInstanceTasks(ctx context.Context, userID, instanceID string, dayIndex int) (bool, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM tasks WHERE user_id = ? AND instance_id = ? AND day_index = ?`,
		userID, instanceID, dayIndex)
	if err != nil {
		return false, fmt.Errorf("count instance tasks: %w", err)
	}
	return count > 0, nil
}

// CountFocusTasksExcludingInstance counts the user's focus tasks on a
// calendar date that do not belong to the given instance. Excluding the
// instance's own rows keeps re-runs from double counting against the
// focus-slot limit.
func (s *Store) CountFocusTasksExcludingInstance(ctx context.Context, userID, date, instanceID string) (int, error) {
	var count int
	err := s.db.GetContext(ctx, &count,
		`SELECT COUNT(*) FROM tasks
		 WHERE user_id = ? AND date = ? AND list_type = ? AND status != ?
		   AND (instance_id IS NULL OR instance_id != ?)`,
		userID, date, models.ListFocus, models.TaskDeleted, instanceID)
	if err != nil {
		return 0, fmt.Errorf("count focus tasks: %w", err)
	}
	return count, nil
}

// DeleteOverridableDayTasks removes the program-sourced rows for one
// user/instance/day that override mode may replace. Completed and
// client-locked rows are never touched, in any mode.
func (s *Store) DeleteOverridableDayTasks(ctx context.Context, userID, instanceID string, dayIndex int) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM tasks
		 WHERE user_id = ? AND instance_id = ? AND day_index = ?
		   AND source = ? AND status != ? AND client_locked = 0`,
		userID, instanceID, dayIndex, models.SourceProgram, models.TaskCompleted)
	if err != nil {
		return 0, fmt.Errorf("delete overridable tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// ClearFutureProgramTasks deletes future, incomplete, unlocked,
// program-sourced tasks for the given instances. Rows dated today or
// earlier, completed rows and locked rows are explicitly preserved.
func (s *Store) ClearFutureProgramTasks(ctx context.Context, instanceIDs []string, today string) (int, error) {
	if len(instanceIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(
		`DELETE FROM tasks
		 WHERE instance_id IN (?) AND date > ?
		   AND source = ? AND status = ? AND client_locked = 0`,
		instanceIDs, today, models.SourceProgram, models.TaskPending)
	if err != nil {
		return 0, fmt.Errorf("build clear query: %w", err)
	}
	res, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("clear future tasks: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// OrphanProgramTaskIDs returns IDs of program-sourced tasks whose
// instance is not in the valid set.
func (s *Store) OrphanProgramTaskIDs(ctx context.Context, validInstanceIDs []string) ([]string, error) {
	var ids []string
	if len(validInstanceIDs) == 0 {
		err := s.db.SelectContext(ctx, &ids,
			`SELECT id FROM tasks WHERE instance_id IS NOT NULL`)
		if err != nil {
			return nil, fmt.Errorf("query orphan tasks: %w", err)
		}
		return ids, nil
	}

	query, args, err := sqlx.In(
		`SELECT id FROM tasks WHERE instance_id IS NOT NULL AND instance_id NOT IN (?)`,
		validInstanceIDs)
	if err != nil {
		return nil, fmt.Errorf("build orphan query: %w", err)
	}
	if err := s.db.SelectContext(ctx, &ids, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("query orphan tasks: %w", err)
	}
	return ids, nil
}

// UpdateTaskStatus updates a task's status, used when users complete or
// soft-delete tasks.
func (s *Store) UpdateTaskStatus(ctx context.Context, id string, status models.TaskStatus) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET status = ?, updated_at = ? WHERE id = ?`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update task status: %w", err)
	}
	return nil
}

// SetTaskLocked toggles the coach/user pin that shields a task from
// override-mode sync.
func (s *Store) SetTaskLocked(ctx context.Context, id string, locked bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tasks SET client_locked = ?, updated_at = ? WHERE id = ?`,
		boolToInt(locked), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("set task locked: %w", err)
	}
	return nil
}

func (s *Store) listTasks(ctx context.Context, query string, args ...interface{}) ([]models.Task, error) {
	rows, err := s.db.QueryxContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tasks: %w", err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		var (
			t              models.Task
			instanceID     sql.NullString
			instanceTaskID sql.NullString
			locked         int
		)
		if err := rows.Scan(&t.ID, &t.UserID, &t.OrgID, &instanceID, &instanceTaskID,
			&t.DayIndex, &t.Date, &t.Label, &t.ListType, &t.Status, &locked,
			&t.Source, &t.CreatedAt, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan task row: %w", err)
		}
		if instanceID.Valid {
			t.InstanceID = instanceID.String
		}
		if instanceTaskID.Valid {
			t.InstanceTaskID = instanceTaskID.String
		}
		t.ClientLocked = locked != 0
		out = append(out, t)
	}
	return out, rows.Err()
}

func prepareTask(t *models.Task) {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Status == "" {
		t.Status = models.TaskPending
	}
	if t.ListType == "" {
		t.ListType = models.ListBacklog
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	t.UpdatedAt = now
}

func taskArgs(t *models.Task) []interface{} {
	return []interface{}{
		t.ID, t.UserID, t.OrgID, nullable(t.InstanceID), nullable(t.InstanceTaskID),
		t.DayIndex, t.Date, t.Label, t.ListType, t.Status,
		boolToInt(t.ClientLocked), t.Source, t.CreatedAt, t.UpdatedAt,
	}
}
