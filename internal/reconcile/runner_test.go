package reconcile

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopcoach/programsync/internal/materialize"
	"github.com/loopcoach/programsync/internal/models"
	"github.com/loopcoach/programsync/internal/store"
	"github.com/loopcoach/programsync/internal/sync"
)

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestRunner(t *testing.T, s *store.Store, now time.Time) *Runner {
	t.Helper()
	r := NewRunner(s, sync.NewTaskEngine(s, nil), sync.NewHabitEngine(s, nil), DefaultConfig(), nil)
	r.now = func() time.Time { return now }
	return r
}

func seedProgram(t *testing.T, s *store.Store) *models.Program {
	t.Helper()
	var tasks []models.TaskTemplate
	for i := 0; i < 7; i++ {
		tasks = append(tasks, models.TaskTemplate{
			ID:        fmt.Sprintf("t-%d", i),
			Kind:      models.TaskKindAction,
			Label:     fmt.Sprintf("task %d", i),
			IsPrimary: i == 0,
		})
	}
	p := &models.Program{
		OrgID:           "org-1",
		Title:           "Foundations",
		LengthDays:      7,
		IncludeWeekends: true,
		Modules: []models.ProgramModule{
			{ID: "mod-1", Title: "Start", StartDayIndex: 1, EndDayIndex: 7, Habits: []models.HabitTemplate{
				{Title: "Morning walk", Frequency: models.FrequencyDaily},
			}},
		},
		Weeks: []models.ProgramWeek{
			{Index: 1, StartDayIndex: 1, EndDayIndex: 7, Distribution: models.DistributeSpread, Tasks: tasks},
		},
	}
	require.NoError(t, s.SaveProgram(context.Background(), p))
	return p
}

func seedEnrollment(t *testing.T, s *store.Store, programID, userID string, start time.Time, materialized bool) *models.Enrollment {
	t.Helper()
	ctx := context.Background()
	enr := &models.Enrollment{
		UserID: userID, OrgID: "org-1", ProgramID: programID, StartedAt: start,
	}
	require.NoError(t, s.CreateEnrollment(ctx, enr))
	if materialized {
		_, err := materialize.New(s, nil).EnsureForEnrollment(ctx, enr)
		require.NoError(t, err)
	}
	return enr
}

func TestRunSyncsTodayAndTomorrow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	prog := seedProgram(t, s)

	// Enrollment started Jan 1; the run happens midday Jan 3, so the
	// user is on day 3.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	enr := seedEnrollment(t, s, prog.ID, "user-1", start, true)

	r := newTestRunner(t, s, now)
	summary, err := r.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SyncedToday)
	assert.Equal(t, 1, summary.SyncedTomorrow)
	assert.Equal(t, 0, summary.Errors)
	assert.Equal(t, 1, summary.Habits.Created)

	today, err := s.TasksForUserDate(ctx, enr.UserID, "2024-01-03")
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, 3, today[0].DayIndex)
	assert.Equal(t, models.ListFocus, today[0].ListType)

	tomorrow, err := s.TasksForUserDate(ctx, enr.UserID, "2024-01-04")
	require.NoError(t, err)
	assert.Len(t, tomorrow, 1)

	habits, err := s.ActiveModuleHabits(ctx, enr.UserID, prog.ID)
	require.NoError(t, err)
	assert.Len(t, habits, 1)
}

func TestRunIsIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	prog := seedProgram(t, s)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	enr := seedEnrollment(t, s, prog.ID, "user-1", start, true)

	r := newTestRunner(t, s, now)
	_, err := r.Run(ctx)
	require.NoError(t, err)
	summary, err := r.Run(ctx)
	require.NoError(t, err)

	// Steady state: both days already materialized, so the second run
	// counts the enrollment as skipped and creates nothing.
	assert.Equal(t, 0, summary.SyncedToday)
	assert.Equal(t, 0, summary.SyncedTomorrow)
	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.Habits.Created)

	today, err := s.TasksForUserDate(ctx, enr.UserID, "2024-01-03")
	require.NoError(t, err)
	assert.Len(t, today, 1)
}

func TestRunDoesNotChokeOnUserDeletedTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	prog := seedProgram(t, s)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	enr := seedEnrollment(t, s, prog.ID, "user-1", start, true)

	r := newTestRunner(t, s, now)
	_, err := r.Run(ctx)
	require.NoError(t, err)

	// The user deletes today's task; subsequent runs must leave it
	// deleted rather than erroring or recreating it.
	today, err := s.TasksForUserDate(ctx, enr.UserID, "2024-01-03")
	require.NoError(t, err)
	require.Len(t, today, 1)
	require.NoError(t, s.UpdateTaskStatus(ctx, today[0].ID, models.TaskDeleted))

	summary, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.Errors)

	today, err = s.TasksForUserDate(ctx, enr.UserID, "2024-01-03")
	require.NoError(t, err)
	assert.Empty(t, today)
}

func TestRunSkipsArchivedInstances(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	prog := seedProgram(t, s)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	enr := seedEnrollment(t, s, prog.ID, "user-1", start, true)

	inst, err := s.GetInstanceForEnrollment(ctx, enr.ID)
	require.NoError(t, err)
	require.NoError(t, s.SetInstanceStatus(ctx, inst.ID, models.InstanceArchived))

	r := newTestRunner(t, s, now)
	summary, err := r.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.SyncedToday)
	assert.Equal(t, 0, summary.NoInstance)
}

func TestRunCountsEnrollmentsWithoutInstances(t *testing.T) {
	s := newTestStore(t)
	prog := seedProgram(t, s)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	seedEnrollment(t, s, prog.ID, "user-1", start, true)
	seedEnrollment(t, s, prog.ID, "user-2", start, false)

	r := newTestRunner(t, s, now)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.SyncedToday)
	assert.Equal(t, 1, summary.NoInstance)
}

func TestRunSkipsEnrollmentsPastProgramEnd(t *testing.T) {
	s := newTestStore(t)
	prog := seedProgram(t, s)

	// Started a year before the run; way past the 7-day program.
	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	seedEnrollment(t, s, prog.ID, "user-1", start, true)

	r := newTestRunner(t, s, now)
	summary, err := r.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Skipped)
	assert.Equal(t, 0, summary.SyncedToday)
}

func TestRunRecordsSyncRun(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	prog := seedProgram(t, s)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	seedEnrollment(t, s, prog.ID, "user-1", start, true)

	r := newTestRunner(t, s, now)
	_, err := r.Run(ctx)
	require.NoError(t, err)

	runs, err := s.RecentSyncRuns(ctx, 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].SyncedToday)
	assert.Equal(t, 1, runs[0].HabitsCreated)
}

func TestRunEmptyStore(t *testing.T) {
	s := newTestStore(t)
	r := newTestRunner(t, s, time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC))

	summary, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, &Summary{Duration: summary.Duration}, summary)
}

func TestRunWeekdaysOnlyFullScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Weekdays-only program: module spans days 1-5, week 1 spreads
	// [A(primary), B(primary), C(primary), D] over days 1-5, focus
	// limit 3. Enrollment starts Monday 2024-01-01.
	p := &models.Program{
		OrgID:           "org-1",
		Title:           "Kickstart",
		LengthDays:      5,
		IncludeWeekends: false,
		Modules: []models.ProgramModule{
			{ID: "mod-1", Title: "Start", StartDayIndex: 1, EndDayIndex: 5},
		},
		Weeks: []models.ProgramWeek{
			{Index: 1, StartDayIndex: 1, EndDayIndex: 5, Distribution: models.DistributeSpread,
				Tasks: []models.TaskTemplate{
					{ID: "A", Kind: models.TaskKindAction, Label: "A", IsPrimary: true},
					{ID: "B", Kind: models.TaskKindAction, Label: "B", IsPrimary: true},
					{ID: "C", Kind: models.TaskKindAction, Label: "C", IsPrimary: true},
					{ID: "D", Kind: models.TaskKindAction, Label: "D"},
				}},
		},
	}
	require.NoError(t, s.SaveProgram(ctx, p))

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	enr := seedEnrollment(t, s, p.ID, "user-1", start, true)

	r := newTestRunner(t, s, now)
	_, err := r.Run(ctx)
	require.NoError(t, err)

	// Day 1 carries only A, in focus.
	today, err := s.TasksForUserDate(ctx, enr.UserID, "2024-01-01")
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, "A", today[0].InstanceTaskID)
	assert.Equal(t, models.ListFocus, today[0].ListType)

	// Tomorrow carries B.
	tomorrow, err := s.TasksForUserDate(ctx, enr.UserID, "2024-01-02")
	require.NoError(t, err)
	require.Len(t, tomorrow, 1)
	assert.Equal(t, "B", tomorrow[0].InstanceTaskID)

	// Running again the same day changes nothing.
	_, err = r.Run(ctx)
	require.NoError(t, err)
	today, err = s.TasksForUserDate(ctx, enr.UserID, "2024-01-01")
	require.NoError(t, err)
	assert.Len(t, today, 1)
}

func TestRunReapsOrphans(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	prog := seedProgram(t, s)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	enr := seedEnrollment(t, s, prog.ID, "user-1", start, true)

	r := newTestRunner(t, s, now)
	_, err := r.Run(ctx)
	require.NoError(t, err)

	// Drop the instance; its two materialized tasks become orphans.
	inst, err := s.GetInstanceForEnrollment(ctx, enr.ID)
	require.NoError(t, err)
	require.NoError(t, s.DeleteInstance(ctx, inst.ID))

	summary, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.OrphansRemoved)
	assert.Equal(t, 1, summary.NoInstance)
}

func TestOrphansReapedBeforeFocusAllocation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	prog := seedProgram(t, s)

	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 3, 12, 0, 0, 0, time.UTC)
	enr := seedEnrollment(t, s, prog.ID, "user-1", start, true)

	// Stale focus rows from a since-deleted instance sit on today's
	// date. If they were still around during allocation they would eat
	// all three focus slots.
	for i := 0; i < 3; i++ {
		require.NoError(t, s.CreateTask(ctx, &models.Task{
			UserID: enr.UserID, OrgID: enr.OrgID,
			InstanceID: "gone-instance", InstanceTaskID: fmt.Sprintf("stale-%d", i),
			DayIndex: 3, Date: "2024-01-03",
			Label: "stale", ListType: models.ListFocus, Source: models.SourceProgram,
		}))
	}

	r := newTestRunner(t, s, now)
	summary, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.OrphansRemoved)

	today, err := s.TasksForUserDate(ctx, enr.UserID, "2024-01-03")
	require.NoError(t, err)
	require.Len(t, today, 1)
	assert.Equal(t, models.ListFocus, today[0].ListType)
}
