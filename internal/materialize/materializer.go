// Package materialize expands program templates into frozen, per-user
// or per-cohort program instances.
package materialize

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopcoach/programsync/internal/calendar"
	"github.com/loopcoach/programsync/internal/distribute"
	"github.com/loopcoach/programsync/internal/models"
	"github.com/loopcoach/programsync/internal/store"
)

// Materializer builds and persists program instances.
type Materializer struct {
	store  *store.Store
	logger *slog.Logger
}

// New creates a Materializer.
func New(s *store.Store, logger *slog.Logger) *Materializer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Materializer{store: s, logger: logger}
}

// EnsureForEnrollment returns the enrollment's individual instance,
// building one when none exists. Materialization is idempotent: calling
// it twice returns the same instance.
func (m *Materializer) EnsureForEnrollment(ctx context.Context, enr *models.Enrollment) (*models.ProgramInstance, error) {
	return m.ensureForEnrollment(ctx, enr, false)
}

// RebuildForEnrollment discards and re-materializes an enrollment's
// instance, used after a program template changes shape. The old
// instance's materialized tasks become orphans for the reaper.
func (m *Materializer) RebuildForEnrollment(ctx context.Context, enr *models.Enrollment) (*models.ProgramInstance, error) {
	return m.ensureForEnrollment(ctx, enr, true)
}

func (m *Materializer) ensureForEnrollment(ctx context.Context, enr *models.Enrollment, rebuild bool) (*models.ProgramInstance, error) {
	existing, err := m.store.GetInstanceForEnrollment(ctx, enr.ID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if !rebuild {
			return existing, nil
		}
		if err := m.store.DeleteInstance(ctx, existing.ID); err != nil {
			return nil, err
		}
		m.logger.Info("rebuilding instance",
			"enrollment_id", enr.ID, "old_instance_id", existing.ID)
	}

	prog, err := m.store.GetProgram(ctx, enr.ProgramID)
	if err != nil {
		return nil, err
	}
	tz, err := m.store.GetUserTimezone(ctx, enr.UserID)
	if err != nil {
		return nil, err
	}

	inst, err := Build(prog, enr.StartedAt, tz)
	if err != nil {
		return nil, err
	}
	inst.EnrollmentID = enr.ID
	inst.OrgID = enr.OrgID
	if err := m.store.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}
	m.logger.Info("materialized instance",
		"enrollment_id", enr.ID, "instance_id", inst.ID, "program_id", prog.ID)
	return inst, nil
}

// EnsureForCohort returns the cohort's shared instance, building one
// when none exists. Cohort instances carry no calendar dates: members
// may start on different days, so dates are derived per member at sync
// time from their own enrollment start.
func (m *Materializer) EnsureForCohort(ctx context.Context, cohortID, programID, orgID string) (*models.ProgramInstance, error) {
	existing, err := m.store.GetInstanceForCohort(ctx, cohortID)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	prog, err := m.store.GetProgram(ctx, programID)
	if err != nil {
		return nil, err
	}

	inst, err := buildShape(prog)
	if err != nil {
		return nil, err
	}
	inst.CohortID = cohortID
	inst.OrgID = orgID
	if err := m.store.CreateInstance(ctx, inst); err != nil {
		return nil, err
	}
	m.logger.Info("materialized cohort instance",
		"cohort_id", cohortID, "instance_id", inst.ID, "program_id", prog.ID)
	return inst, nil
}

// Build expands a program into an individual instance anchored at the
// given start date, stamping each day with its calendar date in the
// user's timezone.
func Build(prog *models.Program, start time.Time, tz string) (*models.ProgramInstance, error) {
	inst, err := buildShape(prog)
	if err != nil {
		return nil, err
	}
	for wi := range inst.Weeks {
		w := &inst.Weeks[wi]
		for di := range w.Days {
			d := &w.Days[di]
			d.CalendarDate = calendar.DateForDayIndex(start, tz, inst.IncludeWeekends, d.GlobalDayIndex)
		}
	}
	return inst, nil
}

// buildShape expands the date-independent structure shared by
// individual and cohort instances: modules with remainder absorption,
// weeks with empty days, explicit per-day tasks, and eagerly
// distributed week-level task lists.
func buildShape(prog *models.Program) (*models.ProgramInstance, error) {
	inst := &models.ProgramInstance{
		ProgramID:       prog.ID,
		IncludeWeekends: prog.IncludeWeekends,
		Modules:         buildModules(prog),
	}

	for _, pw := range prog.Weeks {
		iw := models.InstanceWeek{
			Index:         pw.Index,
			StartDayIndex: pw.StartDayIndex,
			EndDayIndex:   pw.EndDayIndex,
			Distribution:  pw.Distribution,
			Tasks:         pw.Tasks,
		}
		for day := pw.StartDayIndex; day <= pw.EndDayIndex; day++ {
			id := models.InstanceDay{GlobalDayIndex: day, Tasks: []models.InstanceTask{}}
			for _, tpl := range pw.DayTasks[day] {
				it, err := resolveDayTask(tpl)
				if err != nil {
					return nil, fmt.Errorf("week %d day %d: %w", pw.Index, day, err)
				}
				id.Tasks = append(id.Tasks, it)
			}
			iw.Days = append(iw.Days, id)
		}
		if len(pw.Tasks) > 0 {
			if err := distribute.ApplyToWeek(&iw, pw.Tasks, pw.Distribution, false); err != nil {
				return nil, fmt.Errorf("distribute week %d: %w", pw.Index, err)
			}
		}
		inst.Weeks = append(inst.Weeks, iw)
	}
	return inst, nil
}

// buildModules copies the program's modules, extending the last module
// to absorb any remainder days so every day of the program resolves to
// a module for habit sync.
func buildModules(prog *models.Program) []models.InstanceModule {
	out := make([]models.InstanceModule, 0, len(prog.Modules))
	for _, pm := range prog.Modules {
		out = append(out, models.InstanceModule{
			ID:            pm.ID,
			Title:         pm.Title,
			StartDayIndex: pm.StartDayIndex,
			EndDayIndex:   pm.EndDayIndex,
			Habits:        pm.Habits,
		})
	}
	if len(out) > 0 && out[len(out)-1].EndDayIndex < prog.LengthDays {
		out[len(out)-1].EndDayIndex = prog.LengthDays
	}
	return out
}

// resolveDayTask mirrors distribution's template resolution for tasks
// the author pinned to an explicit day.
func resolveDayTask(tpl models.TaskTemplate) (models.InstanceTask, error) {
	label := tpl.Label
	if tpl.Kind == models.TaskKindCheckin && label == "" {
		label = tpl.Prompt
	}
	if label == "" {
		return models.InstanceTask{}, fmt.Errorf("task template %s resolves to an empty label", tpl.ID)
	}
	return models.InstanceTask{
		ID:           tpl.ID,
		Kind:         tpl.Kind,
		Label:        label,
		IsPrimary:    tpl.IsPrimary,
		EstimatedMin: tpl.EstimatedMin,
		Notes:        tpl.Notes,
		Tag:          tpl.Tag,
	}, nil
}
