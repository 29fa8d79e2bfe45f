// Package models defines the core domain types for programsync.
package models

import "time"

// DistributionPolicy controls how a week-level task list is spread
// across the week's concrete days.
type DistributionPolicy string

const (
	// DistributeSpread round-robins tasks so each day gets an even share.
	DistributeSpread DistributionPolicy = "spread"
	// DistributeFillFirst places every task on the first day of the week.
	DistributeFillFirst DistributionPolicy = "fill-first"
	// DistributeFrontLoad packs larger shares onto earlier days.
	DistributeFrontLoad DistributionPolicy = "front-load"
)

// TaskKind tags the content variant of a task template.
type TaskKind string

const (
	TaskKindAction     TaskKind = "action"
	TaskKindReflection TaskKind = "reflection"
	TaskKindCheckin    TaskKind = "checkin"
)

// TaskTemplate is an authoring-time task. The ID is assigned when the
// template is imported and stays stable across re-distribution; it is the
// last component of the sync engine's idempotency key.
type TaskTemplate struct {
	ID           string   `json:"id" yaml:"id"`
	Kind         TaskKind `json:"kind" yaml:"kind"`
	Label        string   `json:"label" yaml:"label"`
	IsPrimary    bool     `json:"isPrimary" yaml:"primary"`
	EstimatedMin int      `json:"estimatedMin,omitempty" yaml:"estimated_min"`
	Notes        string   `json:"notes,omitempty" yaml:"notes"`
	Tag          string   `json:"tag,omitempty" yaml:"tag"`
	// Prompt is the question shown for checkin tasks.
	Prompt string `json:"prompt,omitempty" yaml:"prompt"`
}

// HabitFrequency is the recurrence spec of a habit template.
type HabitFrequency string

const (
	FrequencyDaily   HabitFrequency = "daily"
	FrequencyWeekday HabitFrequency = "weekday"
	FrequencyCustom  HabitFrequency = "custom"
)

// HabitTemplate is a module-level recurring habit definition. Habits are
// matched to templates by title, not ID, so titles must be unique within
// a module.
type HabitTemplate struct {
	Title       string         `json:"title" yaml:"title"`
	Description string         `json:"description,omitempty" yaml:"description"`
	Frequency   HabitFrequency `json:"frequency" yaml:"frequency"`
	// CustomDays lists lowercase three-letter weekdays ("mon".."sun").
	// Only meaningful for FrequencyCustom; defaults to Mon/Wed/Fri.
	CustomDays []string `json:"customDays,omitempty" yaml:"custom_days"`
}

// ProgramModule is a contiguous day-index range of a program carrying
// habit templates.
type ProgramModule struct {
	ID            string          `json:"id" yaml:"id"`
	Title         string          `json:"title" yaml:"title"`
	StartDayIndex int             `json:"startDayIndex" yaml:"start_day"`
	EndDayIndex   int             `json:"endDayIndex" yaml:"end_day"`
	Habits        []HabitTemplate `json:"habits,omitempty" yaml:"habits"`
}

// ProgramWeek carries either a week-level task list plus a distribution
// policy, or explicit per-day task lists keyed by global day index.
type ProgramWeek struct {
	Index         int                    `json:"index" yaml:"index"`
	StartDayIndex int                    `json:"startDayIndex" yaml:"start_day"`
	EndDayIndex   int                    `json:"endDayIndex" yaml:"end_day"`
	Distribution  DistributionPolicy     `json:"distribution,omitempty" yaml:"distribution"`
	Tasks         []TaskTemplate         `json:"tasks,omitempty" yaml:"tasks"`
	DayTasks      map[int][]TaskTemplate `json:"dayTasks,omitempty" yaml:"day_tasks"`
}

// Program is the authoring-time template of modules, weeks and habits.
type Program struct {
	ID              string          `json:"id" yaml:"id"`
	OrgID           string          `json:"orgId" yaml:"org_id"`
	Title           string          `json:"title" yaml:"title"`
	LengthDays      int             `json:"lengthDays" yaml:"length_days"`
	IncludeWeekends bool            `json:"includeWeekends" yaml:"include_weekends"`
	Modules         []ProgramModule `json:"modules" yaml:"modules"`
	Weeks           []ProgramWeek   `json:"weeks" yaml:"weeks"`
	CreatedAt       time.Time       `json:"created_at" yaml:"-"`
	UpdatedAt       time.Time       `json:"updated_at" yaml:"-"`
}

// EnrollmentStatus is the lifecycle state of an enrollment.
type EnrollmentStatus string

const (
	EnrollmentActive    EnrollmentStatus = "active"
	EnrollmentPaused    EnrollmentStatus = "paused"
	EnrollmentCompleted EnrollmentStatus = "completed"
	EnrollmentUpcoming  EnrollmentStatus = "upcoming"
)

// Enrollment is a user's relationship to a program. The sync engine only
// ever reads it; lifecycle transitions happen at the edges.
type Enrollment struct {
	ID        string           `json:"id"`
	UserID    string           `json:"user_id"`
	OrgID     string           `json:"org_id"`
	ProgramID string           `json:"program_id"`
	CohortID  string           `json:"cohort_id,omitempty"`
	StartedAt time.Time        `json:"started_at"`
	Status    EnrollmentStatus `json:"status"`
	CreatedAt time.Time        `json:"created_at"`
	UpdatedAt time.Time        `json:"updated_at"`
}

// InstanceStatus is the lifecycle state of a program instance.
type InstanceStatus string

const (
	InstanceActive   InstanceStatus = "active"
	InstanceArchived InstanceStatus = "archived"
)

// InstanceTask is a resolved task inside an instance day. ID is the
// stable template task ID.
type InstanceTask struct {
	ID           string   `json:"id"`
	Kind         TaskKind `json:"kind"`
	Label        string   `json:"label"`
	IsPrimary    bool     `json:"isPrimary"`
	EstimatedMin int      `json:"estimatedMin,omitempty"`
	Notes        string   `json:"notes,omitempty"`
	Tag          string   `json:"tag,omitempty"`
}

// InstanceDay is one materialized day. Its Tasks slice is authoritative:
// the task sync engine treats it as the complete program-sourced task set
// for that day. CalendarDate is only set on individual instances; cohort
// instances are day-index-relative and dates are computed per member at
// sync time.
type InstanceDay struct {
	GlobalDayIndex int            `json:"globalDayIndex"`
	CalendarDate   string         `json:"calendarDate,omitempty"`
	Tasks          []InstanceTask `json:"tasks"`
}

// InstanceWeek is a materialized week. Tasks keeps the week-level
// template list so distribution can run lazily or be re-run after a
// coach edit; Distributed records whether it has been expanded into days.
type InstanceWeek struct {
	Index         int                `json:"index"`
	StartDayIndex int                `json:"startDayIndex"`
	EndDayIndex   int                `json:"endDayIndex"`
	Distribution  DistributionPolicy `json:"distribution,omitempty"`
	Tasks         []TaskTemplate     `json:"tasks,omitempty"`
	Distributed   bool               `json:"distributed"`
	Days          []InstanceDay      `json:"days"`
}

// InstanceModule mirrors a program module inside an instance, after
// remainder absorption.
type InstanceModule struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	StartDayIndex int             `json:"startDayIndex"`
	EndDayIndex   int             `json:"endDayIndex"`
	Habits        []HabitTemplate `json:"habits,omitempty"`
}

// ProgramInstance is the frozen, date-stamped expansion of a program for
// one enrollment (EnrollmentID set) or one cohort (CohortID set).
type ProgramInstance struct {
	ID              string           `json:"id"`
	ProgramID       string           `json:"program_id"`
	EnrollmentID    string           `json:"enrollment_id,omitempty"`
	CohortID        string           `json:"cohort_id,omitempty"`
	OrgID           string           `json:"org_id"`
	Status          InstanceStatus   `json:"status"`
	IncludeWeekends bool             `json:"includeWeekends"`
	Weeks           []InstanceWeek   `json:"weeks"`
	Modules         []InstanceModule `json:"modules"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// Day returns the instance day with the given global day index, or nil
// when the index falls outside the materialized range.
func (pi *ProgramInstance) Day(globalDayIndex int) *InstanceDay {
	for wi := range pi.Weeks {
		w := &pi.Weeks[wi]
		if globalDayIndex < w.StartDayIndex || globalDayIndex > w.EndDayIndex {
			continue
		}
		for di := range w.Days {
			if w.Days[di].GlobalDayIndex == globalDayIndex {
				return &w.Days[di]
			}
		}
	}
	return nil
}

// Week returns the instance week containing the given global day index.
func (pi *ProgramInstance) Week(globalDayIndex int) *InstanceWeek {
	for wi := range pi.Weeks {
		w := &pi.Weeks[wi]
		if globalDayIndex >= w.StartDayIndex && globalDayIndex <= w.EndDayIndex {
			return w
		}
	}
	return nil
}

// ModuleForDay resolves the module containing the given day index. An
// index past the last module clamps to the last module; one before the
// first clamps to the first. Returns nil only when the instance has no
// modules at all.
func (pi *ProgramInstance) ModuleForDay(globalDayIndex int) *InstanceModule {
	if len(pi.Modules) == 0 {
		return nil
	}
	for mi := range pi.Modules {
		m := &pi.Modules[mi]
		if globalDayIndex >= m.StartDayIndex && globalDayIndex <= m.EndDayIndex {
			return m
		}
	}
	if globalDayIndex < pi.Modules[0].StartDayIndex {
		return &pi.Modules[0]
	}
	return &pi.Modules[len(pi.Modules)-1]
}

// ListType distinguishes the bounded focus list from the backlog.
type ListType string

const (
	ListFocus   ListType = "focus"
	ListBacklog ListType = "backlog"
)

// TaskStatus is the lifecycle state of a materialized task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
	TaskDeleted   TaskStatus = "deleted"
)

// TaskSource records who authored a task row.
type TaskSource string

const (
	SourceProgram TaskSource = "program"
	SourceUser    TaskSource = "user"
)

// Task is a per-user, per-day materialized work item. For program-sourced
// rows the tuple (UserID, InstanceID, DayIndex, InstanceTaskID) is unique
// and serves as the sync engine's idempotency key. InstanceID and
// InstanceTaskID are empty for user-authored tasks.
type Task struct {
	ID             string     `json:"id"`
	UserID         string     `json:"user_id"`
	OrgID          string     `json:"org_id"`
	InstanceID     string     `json:"instance_id,omitempty"`
	InstanceTaskID string     `json:"instance_task_id,omitempty"`
	DayIndex       int        `json:"day_index"`
	Date           string     `json:"date"`
	Label          string     `json:"label"`
	ListType       ListType   `json:"list_type"`
	Status         TaskStatus `json:"status"`
	ClientLocked   bool       `json:"client_locked"`
	Source         TaskSource `json:"source"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// HabitSource records where a habit came from.
type HabitSource string

const (
	HabitModuleDefault  HabitSource = "module_default"
	HabitProgramDefault HabitSource = "program_default"
	HabitUser           HabitSource = "user"
)

// Habit is a per-user recurring item derived from a module's habit
// templates (or created by the user directly). Out-of-scope habits are
// archived, never deleted.
type Habit struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	OrgID       string         `json:"org_id"`
	ProgramID   string         `json:"program_id,omitempty"`
	ModuleID    string         `json:"module_id,omitempty"`
	Text        string         `json:"text"`
	Description string         `json:"description,omitempty"`
	Frequency   HabitFrequency `json:"frequency"`
	Days        []string       `json:"days"`
	Source      HabitSource    `json:"source"`
	Archived    bool           `json:"archived"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// DefaultFocusSlotLimit is the per-day focus cap used when an org has no
// settings row.
const DefaultFocusSlotLimit = 3

// MaxModuleHabits caps how many module_default habits may be active for
// a user at once.
const MaxModuleHabits = 3

// OrgSettings holds per-organization knobs read by the sync engine.
type OrgSettings struct {
	OrgID               string             `json:"org_id"`
	FocusSlotLimit      int                `json:"focus_slot_limit"`
	DefaultDistribution DistributionPolicy `json:"default_distribution"`
	UpdatedAt           time.Time          `json:"updated_at"`
}

// UserProfile is the read-only slice of the user profile store this
// engine consumes: just the timezone.
type UserProfile struct {
	UserID    string    `json:"user_id"`
	Timezone  string    `json:"timezone"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SyncRun is the persisted summary of one reconciliation run.
type SyncRun struct {
	ID             string    `json:"id"`
	StartedAt      time.Time `json:"started_at"`
	DurationMS     int64     `json:"duration_ms"`
	SyncedToday    int       `json:"synced_today"`
	SyncedTomorrow int       `json:"synced_tomorrow"`
	Skipped        int       `json:"skipped"`
	NoInstance     int       `json:"no_instance"`
	Errors         int       `json:"errors"`
	HabitsCreated  int       `json:"habits_created"`
	HabitsUpdated  int       `json:"habits_updated"`
	HabitsArchived int       `json:"habits_archived"`
	OrphansRemoved int       `json:"orphans_removed"`
}
