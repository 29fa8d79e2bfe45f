package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/loopcoach/programsync/internal/models"
)

// RecordSyncRun persists the summary of one reconciliation run.
func (s *Store) RecordSyncRun(ctx context.Context, run *models.SyncRun) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sync_runs
			(id, started_at, duration_ms, synced_today, synced_tomorrow, skipped,
			 no_instance, errors, habits_created, habits_updated, habits_archived, orphans_removed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		run.ID, run.StartedAt, run.DurationMS, run.SyncedToday, run.SyncedTomorrow,
		run.Skipped, run.NoInstance, run.Errors, run.HabitsCreated, run.HabitsUpdated,
		run.HabitsArchived, run.OrphansRemoved)
	if err != nil {
		return fmt.Errorf("insert sync run: %w", err)
	}
	return nil
}

// RecentSyncRuns returns the most recent run summaries, newest first.
func (s *Store) RecentSyncRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryxContext(ctx, `
		SELECT id, started_at, duration_ms, synced_today, synced_tomorrow, skipped,
		       no_instance, errors, habits_created, habits_updated, habits_archived, orphans_removed
		FROM sync_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query sync runs: %w", err)
	}
	defer rows.Close()

	var out []models.SyncRun
	for rows.Next() {
		var r models.SyncRun
		if err := rows.Scan(&r.ID, &r.StartedAt, &r.DurationMS, &r.SyncedToday,
			&r.SyncedTomorrow, &r.Skipped, &r.NoInstance, &r.Errors,
			&r.HabitsCreated, &r.HabitsUpdated, &r.HabitsArchived, &r.OrphansRemoved); err != nil {
			return nil, fmt.Errorf("scan sync run row: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
