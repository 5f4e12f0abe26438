package schedule_test

import (
	"testing"
	"time"

	"github.com/triggerd/triggerd/internal/domain"
	"github.com/triggerd/triggerd/internal/schedule"
)

func ptr(i int) *int { return &i }

// S1 interval: next_run = now + interval_seconds, within 1s tolerance.
func TestNextRun_Interval(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &domain.ScheduledJob{ScheduleType: domain.ScheduleInterval, IntervalSeconds: 30}

	got := schedule.NextRun(job, now)
	if got == nil {
		t.Fatal("expected non-nil next_run")
	}
	want := now.Add(30 * time.Second)
	if diff := got.Sub(want); diff < -time.Second || diff > time.Second {
		t.Fatalf("expected ~%v, got %v", want, got)
	}
}

func TestNextRun_Manual(t *testing.T) {
	job := &domain.ScheduledJob{ScheduleType: domain.ScheduleManual}
	if got := schedule.NextRun(job, time.Now().UTC()); got != nil {
		t.Fatalf("expected nil next_run for manual, got %v", got)
	}
}

func TestNextRun_Hourly(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 45, 0, 0, time.UTC)
	job := &domain.ScheduledJob{ScheduleType: domain.ScheduleHourly, ScheduleTime: "30"}

	got := schedule.NextRun(job, now)
	want := time.Date(2026, 3, 1, 13, 30, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNextRun_Daily(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	job := &domain.ScheduledJob{ScheduleType: domain.ScheduleDaily, ScheduleTime: "09:00"}

	got := schedule.NextRun(job, now)
	want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

// Weekly uses the Monday=0 convention: Sunday 2026-03-01 is weekday 6.
func TestNextRun_Weekly(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) // Sunday
	job := &domain.ScheduledJob{ScheduleType: domain.ScheduleWeekly, ScheduleTime: "09:00", ScheduleDay: ptr(0)}

	got := schedule.NextRun(job, now)
	want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC) // next Monday
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

// S6 monthly clamp: schedule_day=31 on Feb 15 UTC -> Feb 28 (non-leap year).
func TestNextRun_MonthlyClamp(t *testing.T) {
	now := time.Date(2026, 2, 15, 12, 0, 0, 0, time.UTC)
	job := &domain.ScheduledJob{ScheduleType: domain.ScheduleMonthly, ScheduleTime: "06:00", ScheduleDay: ptr(31)}

	got := schedule.NextRun(job, now)
	want := time.Date(2026, 2, 28, 6, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

// Leap year variant of S6: 2024 is a leap year so Feb has 29 days.
func TestNextRun_MonthlyClampLeapYear(t *testing.T) {
	now := time.Date(2024, 2, 15, 12, 0, 0, 0, time.UTC)
	job := &domain.ScheduledJob{ScheduleType: domain.ScheduleMonthly, ScheduleTime: "06:00", ScheduleDay: ptr(31)}

	got := schedule.NextRun(job, now)
	want := time.Date(2024, 2, 29, 6, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestNextRun_MonthlyAdvancesWhenPast(t *testing.T) {
	now := time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)
	job := &domain.ScheduledJob{ScheduleType: domain.ScheduleMonthly, ScheduleTime: "06:00", ScheduleDay: ptr(5)}

	got := schedule.NextRun(job, now)
	want := time.Date(2026, 4, 5, 6, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

// Invariants 1/5: next_run(job, now) > now for every non-manual schedule_type.
func TestNextRun_AlwaysStrictlyFuture(t *testing.T) {
	now := time.Date(2026, 6, 30, 23, 59, 0, 0, time.UTC)
	kinds := []domain.ScheduleType{
		domain.ScheduleInterval,
		domain.ScheduleHourly,
		domain.ScheduleDaily,
		domain.ScheduleWeekly,
		domain.ScheduleMonthly,
	}

	for _, k := range kinds {
		job := &domain.ScheduledJob{
			ScheduleType:    k,
			IntervalSeconds: 1,
			ScheduleTime:    "23:59",
			ScheduleDay:     ptr(int(now.Weekday())),
		}
		got := schedule.NextRun(job, now)
		if got == nil {
			t.Fatalf("%s: expected non-nil next_run", k)
		}
		if !got.After(now) {
			t.Fatalf("%s: expected next_run %v strictly after now %v", k, got, now)
		}
	}
}

// Tie-break: equality with now counts as past.
func TestNextRun_TieBreakEqualityIsPast(t *testing.T) {
	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	job := &domain.ScheduledJob{ScheduleType: domain.ScheduleDaily, ScheduleTime: "09:00"}

	got := schedule.NextRun(job, now)
	want := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected rollover to next day, got %v", got)
	}
}

func TestNextRun_InvalidScheduleTimeDefaultsToMidnight(t *testing.T) {
	now := time.Date(2026, 3, 1, 1, 0, 0, 0, time.UTC)
	job := &domain.ScheduledJob{ScheduleType: domain.ScheduleDaily, ScheduleTime: "not-a-time"}

	got := schedule.NextRun(job, now)
	want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Fatalf("expected midnight default, got %v", got)
	}
}
