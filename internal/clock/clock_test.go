package clock_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/triggerd/triggerd/internal/clock"
	"github.com/triggerd/triggerd/internal/domain"
)

func mustHKT(t *testing.T) *time.Location {
	t.Helper()
	loc, err := clock.DisplayLocation("Asia/Hong_Kong")
	if err != nil {
		t.Fatalf("load HKT: %v", err)
	}
	return loc
}

// S2: daily job, display time 09:00 HKT must store as 01:00 UTC.
func TestToStorage_DailyHKTRoundTrip(t *testing.T) {
	hkt := mustHKT(t)

	storedTime, storedDay, err := clock.ToStorage(hkt, domain.ScheduleDaily, "09:00", nil)
	if err != nil {
		t.Fatalf("to storage: %v", err)
	}
	if storedTime != "01:00" {
		t.Fatalf("expected stored time 01:00, got %s", storedTime)
	}
	if storedDay != nil {
		t.Fatalf("expected nil day for daily, got %v", *storedDay)
	}

	displayTime, _, err := clock.ToDisplay(hkt, domain.ScheduleDaily, storedTime, storedDay)
	if err != nil {
		t.Fatalf("to display: %v", err)
	}
	if displayTime != "09:00" {
		t.Fatalf("round trip mismatch: got %s, want 09:00", displayTime)
	}
}

// S3: weekly job, display day=Monday time=02:00 HKT must store as day=Sunday(6) time=18:00 UTC.
func TestToStorage_WeeklyRollback(t *testing.T) {
	hkt := mustHKT(t)
	monday := 0 // Monday=0 under this system's Monday-0 convention

	storedTime, storedDay, err := clock.ToStorage(hkt, domain.ScheduleWeekly, "02:00", &monday)
	if err != nil {
		t.Fatalf("to storage: %v", err)
	}
	if storedTime != "18:00" {
		t.Fatalf("expected stored time 18:00, got %s", storedTime)
	}
	if storedDay == nil || *storedDay != 6 {
		t.Fatalf("expected stored day 6 (Sunday), got %v", storedDay)
	}
}

// Invariant 3: to_display(to_storage(t, kind, d)) == (t, d) for every HH:MM
// and every valid weekday/day-of-month, for daily/weekly/monthly.
func TestRoundTrip_AllTimesAndDays(t *testing.T) {
	hkt := mustHKT(t)

	cases := []struct {
		kind    domain.ScheduleType
		minDay  int
		maxDay  int
		hasDay  bool
	}{
		{domain.ScheduleDaily, 0, 0, false},
		{domain.ScheduleWeekly, 0, 6, true},
		{domain.ScheduleMonthly, 1, 31, true},
	}

	for _, c := range cases {
		c := c
		t.Run(string(c.kind), func(t *testing.T) {
			for h := 0; h < 24; h++ {
				for m := 0; m < 60; m++ {
					timeStr := fmt.Sprintf("%02d:%02d", h, m)

					days := []int{0}
					if c.hasDay {
						days = make([]int, 0, c.maxDay-c.minDay+1)
						for d := c.minDay; d <= c.maxDay; d++ {
							days = append(days, d)
						}
					}

					for _, d := range days {
						var dayPtr *int
						if c.hasDay {
							dd := d
							dayPtr = &dd
						}

						storedTime, storedDay, err := clock.ToStorage(hkt, c.kind, timeStr, dayPtr)
						if err != nil {
							t.Fatalf("to storage(%s, %s, %v): %v", c.kind, timeStr, dayPtr, err)
						}

						gotTime, gotDay, err := clock.ToDisplay(hkt, c.kind, storedTime, storedDay)
						if err != nil {
							t.Fatalf("to display(%s, %s, %v): %v", c.kind, storedTime, storedDay, err)
						}

						if gotTime != timeStr {
							t.Fatalf("%s %v: round-trip time mismatch: got %s, want %s", c.kind, dayPtr, gotTime, timeStr)
						}
						if c.hasDay {
							if gotDay == nil || *gotDay != d {
								t.Fatalf("%s: round-trip day mismatch: got %v, want %d", c.kind, gotDay, d)
							}
						}
					}
				}
			}
		})
	}
}

func TestEnsureUTCAware(t *testing.T) {
	naive := time.Date(2026, 3, 1, 12, 30, 0, 0, time.FixedZone("", 0))
	aware := clock.EnsureUTCAware(naive)
	if aware.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", aware.Location())
	}

	already := time.Date(2026, 3, 1, 12, 30, 0, 0, time.UTC)
	if got := clock.EnsureUTCAware(already); !got.Equal(already) {
		t.Fatalf("expected unchanged UTC time, got %v", got)
	}
}
