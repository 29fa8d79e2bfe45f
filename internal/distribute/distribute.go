// Package distribute expands week-level task lists onto concrete
// instance days according to a distribution policy.
package distribute

import (
	"fmt"

	"github.com/loopcoach/programsync/internal/models"
)

// ApplyToWeek distributes the given task templates across the week's
// days. Days that already carry tasks are skipped unless overwrite is
// set, so re-running distribution after a coach edit only touches days
// the coach intends to replace. The week is marked Distributed on
// success.
func ApplyToWeek(week *models.InstanceWeek, tasks []models.TaskTemplate, policy models.DistributionPolicy, overwrite bool) error {
	if len(week.Days) == 0 {
		return fmt.Errorf("week %d has no days to distribute onto", week.Index)
	}
	if policy == "" {
		policy = models.DistributeSpread
	}

	perDay, err := split(tasks, len(week.Days), policy)
	if err != nil {
		return err
	}

	for di := range week.Days {
		day := &week.Days[di]
		if len(day.Tasks) > 0 && !overwrite {
			continue
		}
		resolved := make([]models.InstanceTask, 0, len(perDay[di]))
		for _, tpl := range perDay[di] {
			it, err := resolveTemplate(tpl)
			if err != nil {
				return err
			}
			resolved = append(resolved, it)
		}
		day.Tasks = resolved
	}
	week.Distributed = true
	return nil
}

// split assigns each task template a day slot. Template order is
// preserved within every day so downstream focus allocation sees the
// author's ordering.
func split(tasks []models.TaskTemplate, days int, policy models.DistributionPolicy) ([][]models.TaskTemplate, error) {
	out := make([][]models.TaskTemplate, days)
	switch policy {
	case models.DistributeSpread:
		for i, t := range tasks {
			d := i % days
			out[d] = append(out[d], t)
		}
	case models.DistributeFillFirst:
		out[0] = append(out[0], tasks...)
	case models.DistributeFrontLoad:
		// Earlier days take ceil(remaining/daysLeft), so the share
		// shrinks toward the end of the week.
		i := 0
		for d := 0; d < days && i < len(tasks); d++ {
			remaining := len(tasks) - i
			daysLeft := days - d
			take := (remaining + daysLeft - 1) / daysLeft
			out[d] = append(out[d], tasks[i:i+take]...)
			i += take
		}
	default:
		return nil, fmt.Errorf("unknown distribution policy %q", policy)
	}
	return out, nil
}

// resolveTemplate turns an authoring-time template into a concrete
// instance task. Checkin tasks fall back to their prompt as the label.
func resolveTemplate(tpl models.TaskTemplate) (models.InstanceTask, error) {
	label := tpl.Label
	switch tpl.Kind {
	case models.TaskKindAction, models.TaskKindReflection:
	case models.TaskKindCheckin:
		if label == "" {
			label = tpl.Prompt
		}
	default:
		return models.InstanceTask{}, fmt.Errorf("unknown task kind %q", tpl.Kind)
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
