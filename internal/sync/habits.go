package sync

import (
	"context"
	"log/slog"
	"slices"

	"github.com/loopcoach/programsync/internal/models"
	"github.com/loopcoach/programsync/internal/store"
)

// HabitStats reports what one habit sync pass did.
type HabitStats struct {
	Created  int
	Updated  int
	Archived int
}

// HabitEngine reconciles a user's module-default habits with the habit
// templates of the module containing the current day.
type HabitEngine struct {
	store  *store.Store
	logger *slog.Logger
}

// NewHabitEngine creates a HabitEngine.
func NewHabitEngine(s *store.Store, logger *slog.Logger) *HabitEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &HabitEngine{store: s, logger: logger}
}

// SyncForDay aligns the user's active module-default habits with the
// module the given day falls in. Habits are matched by title: a match
// is updated in place (so completion streaks survive module
// transitions when the same habit continues), unmatched habits are
// archived, and missing templates become new habits up to the
// module-habit cap. Habits are never deleted.
func (e *HabitEngine) SyncForDay(ctx context.Context, enr *models.Enrollment, inst *models.ProgramInstance, dayIndex int) (HabitStats, error) {
	var stats HabitStats

	var templates []models.HabitTemplate
	var moduleID string
	if mod := inst.ModuleForDay(dayIndex); mod != nil {
		moduleID = mod.ID
		templates = mod.Habits
	}
	if len(templates) > models.MaxModuleHabits {
		templates = templates[:models.MaxModuleHabits]
	}

	existing, err := e.store.ActiveModuleHabits(ctx, enr.UserID, enr.ProgramID)
	if err != nil {
		return stats, err
	}
	byTitle := make(map[string]*models.Habit, len(existing))
	for i := range existing {
		byTitle[existing[i].Text] = &existing[i]
	}

	wanted := make(map[string]bool, len(templates))
	for _, tpl := range templates {
		wanted[tpl.Title] = true
		freq, days := daysForFrequency(tpl)

		if h, ok := byTitle[tpl.Title]; ok {
			if h.ModuleID == moduleID && h.Description == tpl.Description &&
				h.Frequency == freq && slices.Equal(h.Days, days) {
				continue
			}
			h.ModuleID = moduleID
			h.Description = tpl.Description
			h.Frequency = freq
			h.Days = days
			if err := e.store.UpdateHabit(ctx, h); err != nil {
				return stats, err
			}
			stats.Updated++
			continue
		}

		h := &models.Habit{
			UserID:      enr.UserID,
			OrgID:       enr.OrgID,
			ProgramID:   enr.ProgramID,
			ModuleID:    moduleID,
			Text:        tpl.Title,
			Description: tpl.Description,
			Frequency:   freq,
			Days:        days,
			Source:      models.HabitModuleDefault,
		}
		if err := e.store.CreateHabit(ctx, h); err != nil {
			return stats, err
		}
		stats.Created++
	}

	for i := range existing {
		if wanted[existing[i].Text] {
			continue
		}
		if err := e.store.ArchiveHabit(ctx, existing[i].ID); err != nil {
			return stats, err
		}
		stats.Archived++
	}

	if stats.Created > 0 || stats.Updated > 0 || stats.Archived > 0 {
		e.logger.Debug("habit sync",
			"user_id", enr.UserID, "module_id", moduleID,
			"created", stats.Created, "updated", stats.Updated, "archived", stats.Archived)
	}
	return stats, nil
}

// daysForFrequency resolves a template's recurrence into the concrete
// frequency and weekday set stored on the habit. Custom frequency with
// no days defaults to Mon/Wed/Fri.
func daysForFrequency(tpl models.HabitTemplate) (models.HabitFrequency, []string) {
	switch tpl.Frequency {
	case models.FrequencyWeekday:
		return models.FrequencyWeekday, []string{"mon", "tue", "wed", "thu", "fri"}
	case models.FrequencyCustom:
		if len(tpl.CustomDays) > 0 {
			return models.FrequencyCustom, tpl.CustomDays
		}
		return models.FrequencyCustom, []string{"mon", "wed", "fri"}
	default:
		return models.FrequencyDaily, []string{"mon", "tue", "wed", "thu", "fri", "sat", "sun"}
	}
}
