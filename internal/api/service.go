// Package api exposes program, enrollment and sync operations over HTTP.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loopcoach/programsync/internal/calendar"
	"github.com/loopcoach/programsync/internal/distribute"
	"github.com/loopcoach/programsync/internal/materialize"
	"github.com/loopcoach/programsync/internal/models"
	"github.com/loopcoach/programsync/internal/program"
	"github.com/loopcoach/programsync/internal/reconcile"
	"github.com/loopcoach/programsync/internal/store"
	"github.com/loopcoach/programsync/internal/sync"
)

// Service implements the API's business operations on top of the store
// and the sync engines.
type Service struct {
	store        *store.Store
	materializer *materialize.Materializer
	tasks        *sync.TaskEngine
	habits       *sync.HabitEngine
	runner       *reconcile.Runner
	horizonDays  int
	logger       *slog.Logger
}

// NewService creates a Service. horizonDays bounds how far ahead
// template edits are pushed into users' task lists.
func NewService(s *store.Store, m *materialize.Materializer, tasks *sync.TaskEngine, habits *sync.HabitEngine, runner *reconcile.Runner, horizonDays int, logger *slog.Logger) *Service {
	if horizonDays <= 0 {
		horizonDays = 7
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:        s,
		materializer: m,
		tasks:        tasks,
		habits:       habits,
		runner:       runner,
		horizonDays:  horizonDays,
		logger:       logger,
	}
}

// RunReconciliation triggers a full reconciliation run.
func (s *Service) RunReconciliation(ctx context.Context) (*reconcile.Summary, error) {
	return s.runner.Run(ctx)
}

// RecentRuns returns recent reconciliation run summaries.
func (s *Service) RecentRuns(ctx context.Context, limit int) ([]models.SyncRun, error) {
	return s.store.RecentSyncRuns(ctx, limit)
}

// ImportProgram parses, validates and stores a YAML program template.
func (s *Service) ImportProgram(ctx context.Context, orgID string, yamlDoc []byte) (*models.Program, error) {
	p, err := program.Parse(yamlDoc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidProgram, err)
	}
	if orgID != "" {
		p.OrgID = orgID
	}

	// Weeks that don't pick a distribution policy inherit the org default.
	settings, err := s.store.GetOrgSettings(ctx, p.OrgID)
	if err != nil {
		return nil, err
	}
	for i := range p.Weeks {
		if p.Weeks[i].Distribution == "" && len(p.Weeks[i].Tasks) > 0 {
			p.Weeks[i].Distribution = settings.DefaultDistribution
		}
	}

	if err := s.store.SaveProgram(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("imported program", "program_id", p.ID, "title", p.Title, "org_id", p.OrgID)
	return p, nil
}

// CreateEnrollment enrolls a user and eagerly materializes their
// instance (individual or cohort), so the first reconciliation run can
// sync tasks immediately.
func (s *Service) CreateEnrollment(ctx context.Context, enr *models.Enrollment) (*models.Enrollment, error) {
	if _, err := s.store.GetProgram(ctx, enr.ProgramID); err != nil {
		if errors.Is(err, store.ErrProgramNotFound) {
			return nil, ErrProgramNotFound
		}
		return nil, err
	}

	if err := s.store.CreateEnrollment(ctx, enr); err != nil {
		return nil, err
	}

	if enr.CohortID != "" {
		if _, err := s.materializer.EnsureForCohort(ctx, enr.CohortID, enr.ProgramID, enr.OrgID); err != nil {
			return nil, fmt.Errorf("materialize cohort instance: %w", err)
		}
	} else {
		if _, err := s.materializer.EnsureForEnrollment(ctx, enr); err != nil {
			return nil, fmt.Errorf("materialize instance: %w", err)
		}
	}
	return enr, nil
}

// EnrollUser builds an enrollment from API inputs and creates it. The
// start date arrives as YYYY-MM-DD and is interpreted in the user's
// timezone; an empty date means today. A timezone, when supplied, is
// written to the user's profile before materialization so the
// instance's calendar dates come out in the right zone.
func (s *Service) EnrollUser(ctx context.Context, userID, orgID, programID, cohortID, startedAt, timezone string) (*models.Enrollment, error) {
	if timezone != "" {
		if err := s.store.PutUserProfile(ctx, &models.UserProfile{UserID: userID, Timezone: timezone}); err != nil {
			return nil, err
		}
	}
	tz, err := s.store.GetUserTimezone(ctx, userID)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	if startedAt != "" {
		start, err = calendar.ParseDate(startedAt, tz)
		if err != nil {
			return nil, fmt.Errorf("invalid started_at %q: %w", startedAt, err)
		}
	}

	enr := &models.Enrollment{
		UserID:    userID,
		OrgID:     orgID,
		ProgramID: programID,
		CohortID:  cohortID,
		StartedAt: start,
		Status:    models.EnrollmentActive,
	}
	return s.CreateEnrollment(ctx, enr)
}

// WeekSaveResult reports the outcome of pushing a week edit through the
// program's instances. Failures lists instances that could not be
// updated; a partial failure still distributes and syncs the rest.
type WeekSaveResult struct {
	Distributed int      `json:"distributed"`
	Synced      int      `json:"synced"`
	Failures    []string `json:"failures,omitempty"`
}

// SaveWeekTasks replaces a program week's task list and pushes the edit
// into every instance of the program: the week is re-distributed and
// affected enrollments are re-synced within the edit horizon. Mode
// semantics match task sync; override replaces incomplete, unlocked
// program rows while create-missing only adds. horizonDays bounds how
// many future days are touched; zero uses the service default.
func (s *Service) SaveWeekTasks(ctx context.Context, programID string, weekIndex int, tasks []models.TaskTemplate, mode sync.Mode, horizonDays int) (*WeekSaveResult, error) {
	if horizonDays <= 0 {
		horizonDays = s.horizonDays
	}
	prog, err := s.store.GetProgram(ctx, programID)
	if err != nil {
		if errors.Is(err, store.ErrProgramNotFound) {
			return nil, ErrProgramNotFound
		}
		return nil, err
	}

	var progWeek *models.ProgramWeek
	for i := range prog.Weeks {
		if prog.Weeks[i].Index == weekIndex {
			progWeek = &prog.Weeks[i]
			break
		}
	}
	if progWeek == nil {
		return nil, ErrWeekNotFound
	}

	for i := range tasks {
		if tasks[i].ID == "" {
			return nil, fmt.Errorf("%w: task %d has no id", ErrInvalidProgram, i)
		}
	}
	progWeek.Tasks = tasks
	if err := s.store.SaveProgram(ctx, prog); err != nil {
		return nil, err
	}

	instances, err := s.store.ListInstancesByProgram(ctx, programID)
	if err != nil {
		return nil, err
	}

	result := &WeekSaveResult{}
	overwrite := mode == sync.ModeOverride
	for i := range instances {
		inst := &instances[i]
		week := findInstanceWeek(inst, weekIndex)
		if week == nil {
			continue
		}
		week.Tasks = tasks
		week.Distribution = progWeek.Distribution
		if err := distribute.ApplyToWeek(week, tasks, week.Distribution, overwrite); err != nil {
			result.Failures = append(result.Failures, fmt.Sprintf("instance %s: %v", inst.ID, err))
			continue
		}
		if err := s.store.SaveInstanceWeeks(ctx, inst); err != nil {
			result.Failures = append(result.Failures, fmt.Sprintf("instance %s: %v", inst.ID, err))
			continue
		}
		result.Distributed++

		synced, errs := s.resyncInstanceWeek(ctx, inst, week, mode, horizonDays)
		result.Synced += synced
		result.Failures = append(result.Failures, errs...)
	}

	s.logger.Info("saved week tasks",
		"program_id", programID, "week", weekIndex,
		"distributed", result.Distributed, "synced", result.Synced, "failures", len(result.Failures))
	return result, nil
}

// resyncInstanceWeek re-syncs the week's days for every enrollment
// bound to the instance, bounded to the edit horizon so far-future days
// stay lazy.
func (s *Service) resyncInstanceWeek(ctx context.Context, inst *models.ProgramInstance, week *models.InstanceWeek, mode sync.Mode, horizonDays int) (int, []string) {
	enrollments, err := s.enrollmentsForInstance(ctx, inst)
	if err != nil {
		return 0, []string{fmt.Sprintf("instance %s: %v", inst.ID, err)}
	}

	now := time.Now()
	rc, err := sync.BuildRunContext(ctx, s.store, now, enrollments)
	if err != nil {
		return 0, []string{fmt.Sprintf("instance %s: %v", inst.ID, err)}
	}

	synced := 0
	var failures []string
	for i := range enrollments {
		enr := &enrollments[i]
		tz := rc.Timezone(enr.UserID)
		todayIdx := calendar.DayIndex(enr.StartedAt, tz, inst.IncludeWeekends, now)
		lo, hi := week.StartDayIndex, week.EndDayIndex
		if lo < todayIdx {
			lo = todayIdx
		}
		if max := todayIdx + horizonDays; hi > max {
			hi = max
		}
		failed := false
		for day := lo; day <= hi; day++ {
			if _, err := s.tasks.SyncDay(ctx, rc, enr, inst, day, mode); err != nil {
				failures = append(failures, fmt.Sprintf("enrollment %s day %d: %v", enr.ID, day, err))
				failed = true
				break
			}
		}
		if !failed {
			synced++
		}
	}
	return synced, failures
}

func (s *Service) enrollmentsForInstance(ctx context.Context, inst *models.ProgramInstance) ([]models.Enrollment, error) {
	if inst.CohortID != "" {
		return s.store.ListEnrollmentsByCohort(ctx, inst.CohortID)
	}
	enr, err := s.store.GetEnrollment(ctx, inst.EnrollmentID)
	if err != nil {
		return nil, err
	}
	return []models.Enrollment{*enr}, nil
}

// SyncEnrollment forces an immediate task and habit sync for one
// enrollment, today and tomorrow.
func (s *Service) SyncEnrollment(ctx context.Context, enrollmentID string, mode sync.Mode) (*sync.DayStats, error) {
	enr, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, store.ErrEnrollmentNotFound) {
			return nil, ErrEnrollmentNotFound
		}
		return nil, err
	}

	inst, err := s.instanceForEnrollment(ctx, enr)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	rc, err := sync.BuildRunContext(ctx, s.store, now, []models.Enrollment{*enr})
	if err != nil {
		return nil, err
	}

	tz := rc.Timezone(enr.UserID)
	todayIdx := calendar.DayIndex(enr.StartedAt, tz, inst.IncludeWeekends, now)

	total := &sync.DayStats{}
	for _, day := range []int{todayIdx, todayIdx + 1} {
		stats, err := s.tasks.SyncDay(ctx, rc, enr, inst, day, mode)
		if err != nil {
			return nil, err
		}
		total.Created += stats.Created
		total.Deleted += stats.Deleted
		total.Preserved += stats.Preserved
	}
	if _, err := s.habits.SyncForDay(ctx, enr, inst, todayIdx); err != nil {
		return nil, err
	}
	return total, nil
}

// ClearEnrollmentTasks removes future, incomplete, unlocked program
// tasks for an enrollment's instance. Used before a disruptive template
// change; the next sync re-materializes from the new shape.
func (s *Service) ClearEnrollmentTasks(ctx context.Context, enrollmentID string) (int, error) {
	enr, err := s.store.GetEnrollment(ctx, enrollmentID)
	if err != nil {
		if errors.Is(err, store.ErrEnrollmentNotFound) {
			return 0, ErrEnrollmentNotFound
		}
		return 0, err
	}
	inst, err := s.instanceForEnrollment(ctx, enr)
	if err != nil {
		return 0, err
	}
	tz, err := s.store.GetUserTimezone(ctx, enr.UserID)
	if err != nil {
		return 0, err
	}
	today := calendar.DateString(tz, time.Now())
	return s.store.ClearFutureProgramTasks(ctx, []string{inst.ID}, today)
}

// ClearCohortTasks removes future, incomplete, unlocked program tasks
// for a cohort's shared instance. "Future" is evaluated in UTC since
// cohort members span timezones; rows dated today survive.
func (s *Service) ClearCohortTasks(ctx context.Context, cohortID string) (int, error) {
	inst, err := s.store.GetInstanceForCohort(ctx, cohortID)
	if err != nil {
		return 0, err
	}
	if inst == nil {
		return 0, ErrEnrollmentNotFound
	}
	today := calendar.DateString("UTC", time.Now())
	return s.store.ClearFutureProgramTasks(ctx, []string{inst.ID}, today)
}

func (s *Service) instanceForEnrollment(ctx context.Context, enr *models.Enrollment) (*models.ProgramInstance, error) {
	if enr.CohortID != "" {
		inst, err := s.store.GetInstanceForCohort(ctx, enr.CohortID)
		if err != nil {
			return nil, err
		}
		if inst != nil {
			return inst, nil
		}
		return s.materializer.EnsureForCohort(ctx, enr.CohortID, enr.ProgramID, enr.OrgID)
	}
	return s.materializer.EnsureForEnrollment(ctx, enr)
}

func findInstanceWeek(inst *models.ProgramInstance, index int) *models.InstanceWeek {
	for i := range inst.Weeks {
		if inst.Weeks[i].Index == index {
			return &inst.Weeks[i]
		}
	}
	return nil
}
