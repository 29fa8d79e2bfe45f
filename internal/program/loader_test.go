package program

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loopcoach/programsync/internal/models"
)

const validTemplate = `
title: Foundations
org_id: org-1
length_days: 28
include_weekends: false
modules:
  - title: Start
    start_day: 1
    end_day: 14
    habits:
      - title: Morning walk
        frequency: daily
      - title: Journal
        frequency: custom
        custom_days: [mon, wed]
  - title: Build
    start_day: 15
    end_day: 28
weeks:
  - index: 1
    start_day: 1
    end_day: 5
    distribution: spread
    tasks:
      - kind: action
        label: Read chapter 1
        primary: true
      - kind: checkin
        prompt: How did week one feel?
`

func TestParseValidTemplate(t *testing.T) {
	p, err := Parse([]byte(validTemplate))
	require.NoError(t, err)

	assert.Equal(t, "Foundations", p.Title)
	assert.Equal(t, 28, p.LengthDays)
	assert.False(t, p.IncludeWeekends)
	require.Len(t, p.Modules, 2)
	assert.Equal(t, []string{"mon", "wed"}, p.Modules[0].Habits[1].CustomDays)
	require.Len(t, p.Weeks, 1)
	assert.Equal(t, models.DistributeSpread, p.Weeks[0].Distribution)
}

func TestParseAssignsStableTaskIDs(t *testing.T) {
	p, err := Parse([]byte(validTemplate))
	require.NoError(t, err)

	for _, task := range p.Weeks[0].Tasks {
		assert.NotEmpty(t, task.ID)
	}
	for _, mod := range p.Modules {
		assert.NotEmpty(t, mod.ID)
	}
}

func TestValidateRejectsGapBetweenModules(t *testing.T) {
	p := &models.Program{
		Title:      "Gappy",
		LengthDays: 20,
		Modules: []models.ProgramModule{
			{Title: "A", StartDayIndex: 1, EndDayIndex: 10},
			{Title: "B", StartDayIndex: 12, EndDayIndex: 20},
		},
	}
	err := Validate(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "contiguous")
}

func TestValidateRejectsModulePastProgramEnd(t *testing.T) {
	p := &models.Program{
		Title:      "Overlong",
		LengthDays: 10,
		Modules: []models.ProgramModule{
			{Title: "A", StartDayIndex: 1, EndDayIndex: 15},
		},
	}
	assert.Error(t, Validate(p))
}

func TestValidateRejectsUnknownTaskKind(t *testing.T) {
	p := &models.Program{
		Title:      "Odd",
		LengthDays: 7,
		Modules:    []models.ProgramModule{{Title: "A", StartDayIndex: 1, EndDayIndex: 7}},
		Weeks: []models.ProgramWeek{
			{Index: 1, StartDayIndex: 1, EndDayIndex: 7,
				Tasks: []models.TaskTemplate{{ID: "x", Kind: "mystery", Label: "x"}}},
		},
	}
	err := Validate(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown task kind")
}

func TestValidateRejectsCheckinWithoutLabelOrPrompt(t *testing.T) {
	p := &models.Program{
		Title:      "Silent",
		LengthDays: 7,
		Modules:    []models.ProgramModule{{Title: "A", StartDayIndex: 1, EndDayIndex: 7}},
		Weeks: []models.ProgramWeek{
			{Index: 1, StartDayIndex: 1, EndDayIndex: 7,
				Tasks: []models.TaskTemplate{{ID: "x", Kind: models.TaskKindCheckin}}},
		},
	}
	assert.Error(t, Validate(p))
}

func TestValidateRejectsDuplicateHabitTitles(t *testing.T) {
	p := &models.Program{
		Title:      "Twice",
		LengthDays: 7,
		Modules: []models.ProgramModule{
			{Title: "A", StartDayIndex: 1, EndDayIndex: 7, Habits: []models.HabitTemplate{
				{Title: "Walk"}, {Title: "Walk"},
			}},
		},
	}
	err := Validate(p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate habit title")
}

func TestValidateRejectsWeekOutsideProgram(t *testing.T) {
	p := &models.Program{
		Title:      "Wide week",
		LengthDays: 7,
		Modules:    []models.ProgramModule{{Title: "A", StartDayIndex: 1, EndDayIndex: 7}},
		Weeks: []models.ProgramWeek{
			{Index: 1, StartDayIndex: 5, EndDayIndex: 12},
		},
	}
	assert.Error(t, Validate(p))
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("title: [unclosed"))
	assert.Error(t, err)
}
