// Package calendar provides timezone-correct day-index and calendar-date
// arithmetic for program enrollments.
//
// All computations normalize to midday in the user's zone so daylight
// saving transitions (which happen in the early morning) cannot shift a
// date across a day boundary.
package calendar

import "time"

// DateFormat is the canonical calendar date layout used everywhere a
// date crosses a store or API boundary.
const DateFormat = "2006-01-02"

// Location resolves an IANA timezone name. Unknown or empty names fall
// back to UTC; this function never fails.
func Location(tz string) *time.Location {
	if tz == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return time.UTC
	}
	return loc
}

// midday pins a moment to 12:00 local time on its calendar day.
func midday(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	return time.Date(lt.Year(), lt.Month(), lt.Day(), 12, 0, 0, 0, loc)
}

// startMidday anchors an enrollment start at 12:00 in the user's zone.
// Starts are calendar dates, not instants: the stored date's components
// are taken as-is rather than converted through the zone, so a
// date-only value parsed in UTC means the same day everywhere.
func startMidday(start time.Time, loc *time.Location) time.Time {
	y, m, d := start.Date()
	return time.Date(y, m, d, 12, 0, 0, 0, loc)
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

// DayIndex returns the 1-based program day index for the moment now,
// given the enrollment start date and the user's timezone. When weekends
// are included the index is the count of elapsed calendar days plus one;
// otherwise a cursor walks from start to now counting only weekdays.
// The result is always >= 1, including when now precedes the start date.
func DayIndex(start time.Time, tz string, includeWeekends bool, now time.Time) int {
	loc := Location(tz)
	startDay := startMidday(start, loc)
	today := midday(now, loc)

	if today.Before(startDay) {
		return 1
	}

	if includeWeekends {
		// Midday-to-midday spans are 24h +/- 1h across DST transitions,
		// so round rather than truncate.
		days := int(today.Sub(startDay).Hours()/24 + 0.5)
		return days + 1
	}

	idx := 0
	for cursor := startDay; !cursor.After(today); cursor = cursor.AddDate(0, 0, 1) {
		if !isWeekend(cursor) {
			idx++
		}
	}
	if idx < 1 {
		idx = 1
	}
	return idx
}

// DateString formats the moment now as YYYY-MM-DD in the user's zone.
func DateString(tz string, now time.Time) string {
	return now.In(Location(tz)).Format(DateFormat)
}

// DateForDayIndex returns the calendar date (YYYY-MM-DD) on which the
// given 1-based day index falls, counting forward from the enrollment
// start. With weekends excluded, Saturdays and Sundays do not consume
// indexes; a start date landing on a weekend rolls forward to Monday.
func DateForDayIndex(start time.Time, tz string, includeWeekends bool, index int) string {
	loc := Location(tz)
	cursor := startMidday(start, loc)
	if index < 1 {
		index = 1
	}

	if includeWeekends {
		return cursor.AddDate(0, 0, index-1).Format(DateFormat)
	}

	counted := 0
	for {
		if !isWeekend(cursor) {
			counted++
			if counted == index {
				return cursor.Format(DateFormat)
			}
		}
		cursor = cursor.AddDate(0, 0, 1)
	}
}

// ParseDate parses a YYYY-MM-DD string in the given timezone. Used when
// enrollment start dates arrive over the API as date-only strings.
func ParseDate(s, tz string) (time.Time, error) {
	return time.ParseInLocation(DateFormat, s, Location(tz))
}
