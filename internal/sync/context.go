// Package sync reconciles program instances with users' materialized
// tasks and habits.
package sync

import (
	"context"
	"time"

	"github.com/loopcoach/programsync/internal/models"
	"github.com/loopcoach/programsync/internal/store"
)

// RunContext carries per-run shared state: the run's single notion of
// "now" plus prefetched org limits and user timezones, so per-enrollment
// work does not hit the settings tables repeatedly.
type RunContext struct {
	Now time.Time

	focusLimits map[string]int
	timezones   map[string]string
}

// BuildRunContext prefetches org settings and user timezones for the
// enrollments a run will process.
func BuildRunContext(ctx context.Context, s *store.Store, now time.Time, enrollments []models.Enrollment) (*RunContext, error) {
	rc := &RunContext{
		Now:         now,
		focusLimits: make(map[string]int),
		timezones:   make(map[string]string),
	}

	userIDs := make([]string, 0, len(enrollments))
	seenUsers := make(map[string]bool, len(enrollments))
	for _, e := range enrollments {
		if !seenUsers[e.UserID] {
			seenUsers[e.UserID] = true
			userIDs = append(userIDs, e.UserID)
		}
		if _, ok := rc.focusLimits[e.OrgID]; !ok {
			settings, err := s.GetOrgSettings(ctx, e.OrgID)
			if err != nil {
				return nil, err
			}
			rc.focusLimits[e.OrgID] = settings.FocusSlotLimit
		}
	}

	tzs, err := s.UserTimezones(ctx, userIDs)
	if err != nil {
		return nil, err
	}
	for id, tz := range tzs {
		rc.timezones[id] = tz
	}
	return rc, nil
}

// FocusLimit returns the org's per-day focus slot cap, defaulting when
// the org was not prefetched.
func (rc *RunContext) FocusLimit(orgID string) int {
	if limit, ok := rc.focusLimits[orgID]; ok && limit > 0 {
		return limit
	}
	return models.DefaultFocusSlotLimit
}

// Timezone returns the user's timezone, defaulting to UTC.
func (rc *RunContext) Timezone(userID string) string {
	if tz, ok := rc.timezones[userID]; ok && tz != "" {
		return tz
	}
	return "UTC"
}
