// Package reconcile drives periodic batch reconciliation of every
// active enrollment's tasks and habits.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"
	"time"

	"github.com/loopcoach/programsync/internal/calendar"
	"github.com/loopcoach/programsync/internal/models"
	"github.com/loopcoach/programsync/internal/store"
	"github.com/loopcoach/programsync/internal/sync"
)

// HabitSummary aggregates habit sync counters across a run.
type HabitSummary struct {
	Created  int `json:"created"`
	Updated  int `json:"updated"`
	Archived int `json:"archived"`
}

// Summary is the outcome of one reconciliation run.
type Summary struct {
	SyncedToday    int           `json:"syncedToday"`
	SyncedTomorrow int           `json:"syncedTomorrow"`
	Skipped        int           `json:"skipped"`
	NoInstance     int           `json:"noInstance"`
	Errors         int           `json:"errors"`
	Habits         HabitSummary  `json:"habits"`
	OrphansRemoved int           `json:"orphansRemoved"`
	Duration       time.Duration `json:"duration"`
}

// Runner executes reconciliation runs over all active enrollments.
type Runner struct {
	store  *store.Store
	tasks  *sync.TaskEngine
	habits *sync.HabitEngine
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

// NewRunner creates a Runner.
func NewRunner(s *store.Store, tasks *sync.TaskEngine, habits *sync.HabitEngine, cfg Config, logger *slog.Logger) *Runner {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultConfig().BatchSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{store: s, tasks: tasks, habits: habits, cfg: cfg, logger: logger, now: time.Now}
}

type enrollmentResult struct {
	syncedToday    bool
	syncedTomorrow bool
	skipped        bool
	noInstance     bool
	habits         sync.HabitStats
	err            error
}

// Run reconciles every active enrollment: today's and tomorrow's tasks
// plus the current module's habits, then reaps orphaned tasks. Only a
// failure to load the enrollment list is fatal; per-enrollment errors
// are counted and logged but never abort the run.
func (r *Runner) Run(ctx context.Context) (*Summary, error) {
	started := r.now()
	summary := &Summary{}

	enrollments, err := r.store.ListActiveEnrollments(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active enrollments: %w", err)
	}

	// Reap first: stale focus rows left by a deleted instance must not
	// eat the user's focus slots during the allocation below.
	reaped, err := sync.ReapOrphans(ctx, r.store, r.logger)
	if err != nil {
		summary.Errors++
		r.logger.Error("orphan reap failed", "error", err)
	}
	summary.OrphansRemoved = reaped

	if len(enrollments) == 0 {
		summary.Duration = time.Since(started)
		return summary, nil
	}

	rc, err := sync.BuildRunContext(ctx, r.store, started, enrollments)
	if err != nil {
		return nil, fmt.Errorf("build run context: %w", err)
	}

	instances, err := r.loadInstances(ctx)
	if err != nil {
		return nil, err
	}

	results := make([]enrollmentResult, len(enrollments))
	for lo := 0; lo < len(enrollments); lo += r.cfg.BatchSize {
		hi := lo + r.cfg.BatchSize
		if hi > len(enrollments) {
			hi = len(enrollments)
		}

		var wg gosync.WaitGroup
		for i := lo; i < hi; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				results[i] = r.processEnrollment(ctx, rc, &enrollments[i], instances)
			}(i)
		}
		wg.Wait()

		if hi < len(enrollments) && r.cfg.BatchPause > 0 {
			select {
			case <-ctx.Done():
				return summary, ctx.Err()
			case <-time.After(r.cfg.BatchPause):
			}
		}
	}

	for i, res := range results {
		if res.err != nil {
			summary.Errors++
			r.logger.Error("enrollment sync failed",
				"enrollment_id", enrollments[i].ID, "user_id", enrollments[i].UserID, "error", res.err)
			continue
		}
		if res.noInstance {
			summary.NoInstance++
			continue
		}
		summary.Habits.Created += res.habits.Created
		summary.Habits.Updated += res.habits.Updated
		summary.Habits.Archived += res.habits.Archived
		if res.skipped {
			summary.Skipped++
			continue
		}
		if res.syncedToday {
			summary.SyncedToday++
		}
		if res.syncedTomorrow {
			summary.SyncedTomorrow++
		}
	}

	summary.Duration = time.Since(started)
	r.logger.Info("reconciliation run complete",
		"enrollments", len(enrollments),
		"synced_today", summary.SyncedToday,
		"synced_tomorrow", summary.SyncedTomorrow,
		"skipped", summary.Skipped,
		"no_instance", summary.NoInstance,
		"errors", summary.Errors,
		"orphans_removed", summary.OrphansRemoved,
		"duration", summary.Duration)

	if err := r.recordRun(ctx, started, summary); err != nil {
		r.logger.Error("record sync run failed", "error", err)
	}
	return summary, nil
}

// instanceIndex resolves enrollments to their instances without a
// per-enrollment query.
type instanceIndex struct {
	byEnrollment map[string]*models.ProgramInstance
	byCohort     map[string]*models.ProgramInstance
}

func (r *Runner) loadInstances(ctx context.Context) (*instanceIndex, error) {
	all, err := r.store.ListInstances(ctx)
	if err != nil {
		return nil, fmt.Errorf("list instances: %w", err)
	}
	idx := &instanceIndex{
		byEnrollment: make(map[string]*models.ProgramInstance),
		byCohort:     make(map[string]*models.ProgramInstance),
	}
	for i := range all {
		inst := &all[i]
		// Non-active instances stay indexed so their enrollments count
		// as skipped rather than missing; an active instance wins when
		// both exist.
		if inst.EnrollmentID != "" {
			if cur := idx.byEnrollment[inst.EnrollmentID]; cur == nil || cur.Status != models.InstanceActive {
				idx.byEnrollment[inst.EnrollmentID] = inst
			}
		}
		if inst.CohortID != "" {
			if cur := idx.byCohort[inst.CohortID]; cur == nil || cur.Status != models.InstanceActive {
				idx.byCohort[inst.CohortID] = inst
			}
		}
	}
	return idx, nil
}

func (r *Runner) processEnrollment(ctx context.Context, rc *sync.RunContext, enr *models.Enrollment, instances *instanceIndex) enrollmentResult {
	var res enrollmentResult

	inst := instances.byEnrollment[enr.ID]
	if inst == nil && enr.CohortID != "" {
		inst = instances.byCohort[enr.CohortID]
	}
	if inst == nil {
		res.noInstance = true
		return res
	}
	if inst.Status != models.InstanceActive {
		res.skipped = true
		return res
	}

	tz := rc.Timezone(enr.UserID)
	todayIdx := calendar.DayIndex(enr.StartedAt, tz, inst.IncludeWeekends, rc.Now)

	if inst.Day(todayIdx) == nil && inst.Day(todayIdx+1) == nil {
		// Enrollment has run past the materialized program.
		res.skipped = true
		return res
	}

	stats, err := r.tasks.SyncDay(ctx, rc, enr, inst, todayIdx, sync.ModeCreateMissing)
	if err != nil {
		res.err = fmt.Errorf("sync day %d: %w", todayIdx, err)
		return res
	}
	res.syncedToday = stats.Created > 0

	stats, err = r.tasks.SyncDay(ctx, rc, enr, inst, todayIdx+1, sync.ModeCreateMissing)
	if err != nil {
		res.err = fmt.Errorf("sync day %d: %w", todayIdx+1, err)
		return res
	}
	res.syncedTomorrow = stats.Created > 0

	res.habits, err = r.habits.SyncForDay(ctx, enr, inst, todayIdx)
	if err != nil {
		res.err = fmt.Errorf("sync habits: %w", err)
		return res
	}
	// Both days already materialized: steady state, nothing to do.
	res.skipped = !res.syncedToday && !res.syncedTomorrow
	return res
}

func (r *Runner) recordRun(ctx context.Context, started time.Time, s *Summary) error {
	return r.store.RecordSyncRun(ctx, &models.SyncRun{
		StartedAt:      started.UTC(),
		DurationMS:     s.Duration.Milliseconds(),
		SyncedToday:    s.SyncedToday,
		SyncedTomorrow: s.SyncedTomorrow,
		Skipped:        s.Skipped,
		NoInstance:     s.NoInstance,
		Errors:         s.Errors,
		HabitsCreated:  s.Habits.Created,
		HabitsUpdated:  s.Habits.Updated,
		HabitsArchived: s.Habits.Archived,
		OrphansRemoved: s.OrphansRemoved,
	})
}
