// Package schedule computes the next UTC firing time for a ScheduledJob.
package schedule

import (
	"strconv"
	"strings"
	"time"

	"github.com/triggerd/triggerd/internal/clock"
	"github.com/triggerd/triggerd/internal/domain"
)

// NextRun returns the strictly-in-the-future UTC timestamp at which job
// should next fire, or nil for schedule_type=manual. now must be UTC.
// Ported from the original calculate_next_run, generalized to use
// clock.ToMonday0 for the weekly weekday convention and a hand-rolled
// last-day-of-month clamp in place of relativedelta.
func NextRun(job *domain.ScheduledJob, now time.Time) *time.Time {
	if job.ScheduleType == domain.ScheduleManual {
		return nil
	}
	if job.ScheduleType == domain.ScheduleInterval || job.ScheduleType == "" {
		t := now.Add(time.Duration(job.IntervalSeconds) * time.Second)
		return &t
	}

	hour, minute := parseScheduleTime(job.ScheduleTime)
	target := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)

	switch job.ScheduleType {
	case domain.ScheduleHourly:
		target = time.Date(now.Year(), now.Month(), now.Day(), now.Hour(), minute, 0, 0, time.UTC)
		if !target.After(now) {
			target = target.Add(time.Hour)
		}

	case domain.ScheduleDaily:
		if !target.After(now) {
			target = target.AddDate(0, 0, 1)
		}

	case domain.ScheduleWeekly:
		targetDay := 0
		if job.ScheduleDay != nil {
			targetDay = *job.ScheduleDay
		}
		currentWeekday := clock.ToMonday0(target.Weekday())
		daysAhead := targetDay - currentWeekday
		target = target.AddDate(0, 0, daysAhead)
		if !target.After(now) {
			target = target.AddDate(0, 0, 7)
		}

	case domain.ScheduleMonthly:
		targetDay := 1
		if job.ScheduleDay != nil {
			targetDay = *job.ScheduleDay
		}
		target = clampToMonth(target.Year(), target.Month(), targetDay, hour, minute)
		if !target.After(now) {
			nextMonthYear, nextMonth := addMonth(target.Year(), target.Month())
			target = clampToMonth(nextMonthYear, nextMonth, targetDay, hour, minute)
		}

	default:
		// unrecognized schedule_type behaves like interval
		t := now.Add(time.Duration(job.IntervalSeconds) * time.Second)
		return &t
	}

	return &target
}

// parseScheduleTime parses "HH:MM" (or a bare minute, for hourly schedules)
// and defaults to 00:00 on any parse failure — invalid schedule_time is
// non-fatal, matching the original's behavior.
func parseScheduleTime(s string) (hour, minute int) {
	if s == "" {
		return 0, 0
	}
	if strings.Contains(s, ":") {
		parts := strings.SplitN(s, ":", 2)
		h, err := strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0
		}
		m := 0
		if len(parts) > 1 {
			m, err = strconv.Atoi(parts[1])
			if err != nil {
				return 0, 0
			}
		}
		return h, m
	}
	m, err := strconv.Atoi(s)
	if err != nil {
		return 0, 0
	}
	return 0, m
}

// lastDayOfMonth returns the number of days in the given month/year,
// an idiomatic substitute for relativedelta's day clamping: the zeroth
// day of the following month is the last day of this one.
func lastDayOfMonth(year int, month time.Month) int {
	firstOfNext := time.Date(year, month+1, 1, 0, 0, 0, 0, time.UTC)
	lastOfThis := firstOfNext.AddDate(0, 0, -1)
	return lastOfThis.Day()
}

// clampToMonth builds H:M on day of year/month, clamping day down to the
// last valid day of that month when it doesn't exist (e.g. day=31 in Feb).
func clampToMonth(year int, month time.Month, day, hour, minute int) time.Time {
	if last := lastDayOfMonth(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, hour, minute, 0, 0, time.UTC)
}

// addMonth advances (year, month) by one calendar month.
func addMonth(year int, month time.Month) (int, time.Month) {
	t := time.Date(year, month, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)
	return t.Year(), t.Month()
}

var weekdayNames = [...]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

// Describe renders a ScheduledJob's recurrence as a short human-readable
// string for the UI, converting the stored UTC time/day into loc's wall
// clock via clock.ToDisplay first so the displayed HH:MM matches what a
// user in that timezone would expect.
func Describe(job *domain.ScheduledJob, loc *time.Location) string {
	switch job.ScheduleType {
	case domain.ScheduleManual:
		return "Manual"
	case domain.ScheduleInterval:
		return "Every " + formatSeconds(job.IntervalSeconds)
	case domain.ScheduleHourly:
		_, minute := parseScheduleTime(job.ScheduleTime)
		return "Hourly at minute " + strconv.Itoa(minute)
	case domain.ScheduleDaily:
		displayTime, _, err := clock.ToDisplay(loc, job.ScheduleType, job.ScheduleTime, job.ScheduleDay)
		if err != nil {
			displayTime = job.ScheduleTime
		}
		return "Daily at " + displayTime
	case domain.ScheduleWeekly:
		displayTime, displayDay, err := clock.ToDisplay(loc, job.ScheduleType, job.ScheduleTime, job.ScheduleDay)
		if err != nil {
			displayTime, displayDay = job.ScheduleTime, job.ScheduleDay
		}
		day := "Monday"
		if displayDay != nil && *displayDay >= 0 && *displayDay < len(weekdayNames) {
			day = weekdayNames[*displayDay]
		}
		return "Weekly on " + day + " at " + displayTime
	case domain.ScheduleMonthly:
		displayTime, displayDay, err := clock.ToDisplay(loc, job.ScheduleType, job.ScheduleTime, job.ScheduleDay)
		if err != nil {
			displayTime, displayDay = job.ScheduleTime, job.ScheduleDay
		}
		day := 1
		if displayDay != nil {
			day = *displayDay
		}
		return "Monthly on day " + strconv.Itoa(day) + " at " + displayTime
	default:
		return "Unknown schedule"
	}
}

func formatSeconds(seconds int) string {
	if seconds%86400 == 0 && seconds > 0 {
		return pluralize(seconds/86400, "day")
	}
	if seconds%3600 == 0 && seconds > 0 {
		return pluralize(seconds/3600, "hour")
	}
	if seconds%60 == 0 && seconds > 0 {
		return pluralize(seconds/60, "minute")
	}
	return pluralize(seconds, "second")
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return "1 " + unit
	}
	return strconv.Itoa(n) + " " + unit + "s"
}
