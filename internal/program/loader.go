// Package program loads and validates program templates authored as
// YAML documents.
package program

import (
	"fmt"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/loopcoach/programsync/internal/models"
)

// Parse decodes a YAML program template and validates it. Task templates
// without IDs get stable UUIDs assigned here, at import time, so the
// same template task keeps the same ID across re-distribution and sync.
func Parse(data []byte) (*models.Program, error) {
	var p models.Program
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parse program yaml: %w", err)
	}
	assignIDs(&p)
	if err := Validate(&p); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile reads and parses a program template from disk.
func LoadFile(path string) (*models.Program, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read program file: %w", err)
	}
	return Parse(data)
}

func assignIDs(p *models.Program) {
	for mi := range p.Modules {
		if p.Modules[mi].ID == "" {
			p.Modules[mi].ID = uuid.New().String()
		}
	}
	for wi := range p.Weeks {
		w := &p.Weeks[wi]
		for ti := range w.Tasks {
			if w.Tasks[ti].ID == "" {
				w.Tasks[ti].ID = uuid.New().String()
			}
		}
		for day, tasks := range w.DayTasks {
			for ti := range tasks {
				if tasks[ti].ID == "" {
					tasks[ti].ID = uuid.New().String()
				}
			}
			w.DayTasks[day] = tasks
		}
	}
}

// Validate checks a program's structural invariants: a positive length,
// modules that tile the day range contiguously from day 1, weeks that
// stay inside the program, and task kinds the engine knows how to
// resolve.
func Validate(p *models.Program) error {
	if p.Title == "" {
		return fmt.Errorf("program has no title")
	}
	if p.LengthDays < 1 {
		return fmt.Errorf("program length must be at least 1 day, got %d", p.LengthDays)
	}
	if len(p.Modules) == 0 {
		return fmt.Errorf("program has no modules")
	}

	next := 1
	for i, m := range p.Modules {
		if m.Title == "" {
			return fmt.Errorf("module %d has no title", i+1)
		}
		if m.StartDayIndex != next {
			return fmt.Errorf("module %q starts at day %d, want %d: modules must be contiguous from day 1",
				m.Title, m.StartDayIndex, next)
		}
		if m.EndDayIndex < m.StartDayIndex {
			return fmt.Errorf("module %q ends (day %d) before it starts (day %d)",
				m.Title, m.EndDayIndex, m.StartDayIndex)
		}
		if len(m.Habits) > 0 {
			if err := validateHabits(m); err != nil {
				return err
			}
		}
		next = m.EndDayIndex + 1
	}
	if last := p.Modules[len(p.Modules)-1]; last.EndDayIndex > p.LengthDays {
		return fmt.Errorf("module %q ends at day %d, past program length %d",
			last.Title, last.EndDayIndex, p.LengthDays)
	}

	for _, w := range p.Weeks {
		if w.StartDayIndex < 1 || w.EndDayIndex > p.LengthDays || w.EndDayIndex < w.StartDayIndex {
			return fmt.Errorf("week %d range [%d, %d] falls outside program days [1, %d]",
				w.Index, w.StartDayIndex, w.EndDayIndex, p.LengthDays)
		}
		if err := validateTasks(w.Index, w.Tasks); err != nil {
			return err
		}
		for day, tasks := range w.DayTasks {
			if day < w.StartDayIndex || day > w.EndDayIndex {
				return fmt.Errorf("week %d lists tasks for day %d outside its range [%d, %d]",
					w.Index, day, w.StartDayIndex, w.EndDayIndex)
			}
			if err := validateTasks(w.Index, tasks); err != nil {
				return err
			}
		}
		switch w.Distribution {
		case "", models.DistributeSpread, models.DistributeFillFirst, models.DistributeFrontLoad:
		default:
			return fmt.Errorf("week %d has unknown distribution policy %q", w.Index, w.Distribution)
		}
	}
	return nil
}

func validateTasks(weekIndex int, tasks []models.TaskTemplate) error {
	for _, t := range tasks {
		switch t.Kind {
		case models.TaskKindAction, models.TaskKindReflection:
			if t.Label == "" {
				return fmt.Errorf("week %d: %s task has no label", weekIndex, t.Kind)
			}
		case models.TaskKindCheckin:
			if t.Label == "" && t.Prompt == "" {
				return fmt.Errorf("week %d: checkin task has neither label nor prompt", weekIndex)
			}
		default:
			return fmt.Errorf("week %d: unknown task kind %q", weekIndex, t.Kind)
		}
	}
	return nil
}

func validateHabits(m models.ProgramModule) error {
	seen := make(map[string]bool, len(m.Habits))
	for _, h := range m.Habits {
		if h.Title == "" {
			return fmt.Errorf("module %q has a habit with no title", m.Title)
		}
		if seen[h.Title] {
			return fmt.Errorf("module %q has duplicate habit title %q: titles are the habit match key",
				m.Title, h.Title)
		}
		seen[h.Title] = true
		switch h.Frequency {
		case "", models.FrequencyDaily, models.FrequencyWeekday, models.FrequencyCustom:
		default:
			return fmt.Errorf("module %q habit %q has unknown frequency %q", m.Title, h.Title, h.Frequency)
		}
	}
	return nil
}
