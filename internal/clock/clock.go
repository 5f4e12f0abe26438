// Package clock converts wall-clock schedule fields between the fixed
// display timezone and the UTC timezone everything is stored in.
package clock

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/triggerd/triggerd/internal/domain"
)

// referenceYear/referenceMonth anchor the synthetic date used to localize
// a bare HH:MM + day value before converting between zones. January 2024
// has 31 days, so every valid weekday (0-6) and day-of-month (1-31) value
// maps onto a real date within it without overflowing into February.
const (
	referenceYear  = 2024
	referenceMonth = time.January
)

// DisplayLocation loads the fixed user-facing timezone (default
// Asia/Hong_Kong, UTC+8, no DST).
func DisplayLocation(name string) (*time.Location, error) {
	if name == "" {
		name = "Asia/Hong_Kong"
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("load display timezone %q: %w", name, err)
	}
	return loc, nil
}

func identityKind(kind domain.ScheduleType) bool {
	switch kind {
	case domain.ScheduleInterval, domain.ScheduleManual, domain.ScheduleHourly:
		return true
	default:
		return false
	}
}

// ToStorage converts a wall-clock HH:MM (and optional weekday/day-of-month),
// interpreted in loc, to its UTC equivalent for storage. For
// interval/hourly/manual it is the identity.
func ToStorage(loc *time.Location, kind domain.ScheduleType, timeHHMM string, day *int) (string, *int, error) {
	return convert(loc, time.UTC, kind, timeHHMM, day)
}

// ToDisplay is the inverse of ToStorage: UTC HH:MM/day to loc's wall clock.
func ToDisplay(loc *time.Location, kind domain.ScheduleType, timeHHMM string, day *int) (string, *int, error) {
	return convert(time.UTC, loc, kind, timeHHMM, day)
}

func convert(from, to *time.Location, kind domain.ScheduleType, timeHHMM string, day *int) (string, *int, error) {
	if timeHHMM == "" || identityKind(kind) {
		return timeHHMM, day, nil
	}

	h, m, err := parseHHMM(timeHHMM)
	if err != nil {
		return timeHHMM, day, nil // invalid input is returned unchanged, caller already logged/defaulted
	}

	refDay := 1
	switch kind {
	case domain.ScheduleDaily:
	case domain.ScheduleWeekly:
		if day != nil {
			refDay = 1 + *day
		}
	case domain.ScheduleMonthly:
		if day != nil {
			refDay = *day
		}
	default:
		return timeHHMM, day, fmt.Errorf("unsupported schedule kind for conversion: %s", kind)
	}

	src := time.Date(referenceYear, referenceMonth, refDay, h, m, 0, 0, from)
	dst := src.In(to)

	newTime := fmt.Sprintf("%02d:%02d", dst.Hour(), dst.Minute())

	var newDay *int
	switch kind {
	case domain.ScheduleWeekly:
		wd := ToMonday0(dst.Weekday())
		newDay = &wd
	case domain.ScheduleMonthly:
		d := dst.Day()
		newDay = &d
	}

	return newTime, newDay, nil
}

// ToMonday0 and FromMonday0 translate between Go's time.Weekday (Sunday = 0)
// and the Monday = 0 weekday convention used throughout this system,
// matching the original Python implementation's datetime.weekday().
func ToMonday0(w time.Weekday) int {
	return (int(w) + 6) % 7
}

func FromMonday0(d int) time.Weekday {
	return time.Weekday((d + 1) % 7)
}

func parseHHMM(s string) (int, int, error) {
	parts := strings.Split(s, ":")
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid HH:MM %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid hour in %q: %w", s, err)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid minute in %q: %w", s, err)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, 0, fmt.Errorf("out-of-range HH:MM %q", s)
	}
	return h, m, nil
}

// EnsureUTCAware coerces a datetime that may have lost its zone information
// on read (e.g. SQLite TEXT columns) into a UTC-aware one. Already-UTC
// values pass through unchanged; anything else has its wall-clock fields
// reinterpreted as UTC, matching backends that store naive timestamps.
func EnsureUTCAware(t time.Time) time.Time {
	if t.Location() == time.UTC {
		return t
	}
	y, mo, d := t.Date()
	h, mi, s := t.Clock()
	return time.Date(y, mo, d, h, mi, s, t.Nanosecond(), time.UTC)
}
