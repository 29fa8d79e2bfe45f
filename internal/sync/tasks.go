package sync

import (
	"context"
	"fmt"
	"log/slog"
	gosync "sync"

	"github.com/loopcoach/programsync/internal/calendar"
	"github.com/loopcoach/programsync/internal/distribute"
	"github.com/loopcoach/programsync/internal/models"
	"github.com/loopcoach/programsync/internal/store"
)

// Mode selects how task sync treats rows that already exist.
type Mode string

const (
	// ModeCreateMissing inserts template tasks whose idempotency key has
	// no row yet and never deletes anything.
	ModeCreateMissing Mode = "create-missing"
	// ModeFillEmpty only materializes days that currently have no rows
	// at all, leaving partially-populated days untouched.
	ModeFillEmpty Mode = "fill-empty"
	// ModeOverride replaces program-sourced rows with the current
	// template set. Completed and client-locked rows always survive.
	ModeOverride Mode = "override-program-sourced"
)

// DayStats reports what one SyncDay call did.
type DayStats struct {
	Created   int
	Deleted   int
	Preserved int
}

// TaskEngine materializes instance-day task sets into per-user task rows.
type TaskEngine struct {
	store  *store.Store
	logger *slog.Logger

	// Serializes lazy week distribution: cohort members share one
	// instance and may sync on concurrent goroutines.
	mu gosync.Mutex
}

// NewTaskEngine creates a TaskEngine.
func NewTaskEngine(s *store.Store, logger *slog.Logger) *TaskEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskEngine{store: s, logger: logger}
}

// SyncDay reconciles one user's tasks for one instance day. The
// instance day's task list is authoritative; the idempotency key
// (user, instance, day index, template task ID) makes re-runs no-ops.
// Focus slots are allocated to primaries first, in template order, and
// overflow spills to the backlog.
func (e *TaskEngine) SyncDay(ctx context.Context, rc *RunContext, enr *models.Enrollment, inst *models.ProgramInstance, dayIndex int, mode Mode) (DayStats, error) {
	var stats DayStats

	day := inst.Day(dayIndex)
	if day == nil {
		// Past the materialized range; nothing to do.
		return stats, nil
	}

	if err := e.ensureDistributed(ctx, inst, dayIndex); err != nil {
		return stats, err
	}

	tz := rc.Timezone(enr.UserID)
	date := day.CalendarDate
	if inst.CohortID != "" {
		// Cohort instances are day-index-relative; the concrete date
		// depends on this member's own start.
		date = calendar.DateForDayIndex(enr.StartedAt, tz, inst.IncludeWeekends, dayIndex)
	}
	if date == "" {
		return stats, fmt.Errorf("instance %s day %d has no calendar date", inst.ID, dayIndex)
	}

	if mode == ModeFillEmpty {
		has, err := e.store.HasInstanceTasks(ctx, enr.UserID, inst.ID, dayIndex)
		if err != nil {
			return stats, err
		}
		if has {
			return stats, nil
		}
	}

	if mode == ModeOverride {
		deleted, err := e.store.DeleteOverridableDayTasks(ctx, enr.UserID, inst.ID, dayIndex)
		if err != nil {
			return stats, err
		}
		stats.Deleted = deleted
	}

	existing, err := e.store.TasksForInstanceDay(ctx, enr.UserID, inst.ID, dayIndex)
	if err != nil {
		return stats, err
	}
	byTemplateID := make(map[string]*models.Task, len(existing))
	for i := range existing {
		if existing[i].InstanceTaskID != "" {
			byTemplateID[existing[i].InstanceTaskID] = &existing[i]
		}
	}

	othersFocus, err := e.store.CountFocusTasksExcludingInstance(ctx, enr.UserID, date, inst.ID)
	if err != nil {
		return stats, err
	}
	slots := AvailableFocusSlots(rc.FocusLimit(enr.OrgID), othersFocus)

	batch := e.store.NewWriteBatch()
	insert := func(tpl models.InstanceTask) error {
		list := models.ListBacklog
		if slots > 0 {
			list = models.ListFocus
			slots--
		}
		t := &models.Task{
			UserID:         enr.UserID,
			OrgID:          enr.OrgID,
			InstanceID:     inst.ID,
			InstanceTaskID: tpl.ID,
			DayIndex:       dayIndex,
			Date:           date,
			Label:          tpl.Label,
			ListType:       list,
			Status:         models.TaskPending,
			Source:         models.SourceProgram,
		}
		if err := e.store.AppendInsertTask(ctx, batch, t); err != nil {
			return err
		}
		stats.Created++
		return nil
	}

	// Two passes keep template order within each tier: primaries claim
	// slots first, then secondaries take what remains.
	for _, primary := range []bool{true, false} {
		for _, tpl := range day.Tasks {
			if tpl.IsPrimary != primary {
				continue
			}
			if row, ok := byTemplateID[tpl.ID]; ok {
				// Soft-deleted rows stay in the dedup set but hold no
				// focus slot.
				stats.Preserved++
				if row.ListType == models.ListFocus && row.Status != models.TaskDeleted && slots > 0 {
					slots--
				}
				continue
			}
			if err := insert(tpl); err != nil {
				return stats, err
			}
		}
	}

	if err := batch.Flush(ctx); err != nil {
		return stats, fmt.Errorf("flush task batch: %w", err)
	}
	return stats, nil
}

// ensureDistributed lazily expands the week containing dayIndex when it
// still carries an undistributed week-level task list, persisting the
// result so the expansion happens once.
func (e *TaskEngine) ensureDistributed(ctx context.Context, inst *models.ProgramInstance, dayIndex int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	week := inst.Week(dayIndex)
	if week == nil || week.Distributed || len(week.Tasks) == 0 {
		return nil
	}
	if err := distribute.ApplyToWeek(week, week.Tasks, week.Distribution, false); err != nil {
		return fmt.Errorf("distribute week %d of instance %s: %w", week.Index, inst.ID, err)
	}
	if err := e.store.SaveInstanceWeeks(ctx, inst); err != nil {
		return err
	}
	e.logger.Debug("distributed week", "instance_id", inst.ID, "week", week.Index)
	return nil
}
