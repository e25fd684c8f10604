package stats

import (
	"testing"
	"time"
)

func TestDayFormatsAsUTCCalendarDay(t *testing.T) {
	got := Day(time.Date(2026, time.March, 5, 23, 30, 0, 0, time.FixedZone("IST", 5*3600+1800)))
	if got != "2026-03-05" {
		t.Fatalf("Day() = %q, want %q", got, "2026-03-05")
	}
}

func TestDayConvertsToUTCBeforeFormatting(t *testing.T) {
	// 20:00 on the 5th in UTC-8 is already 04:00 UTC on the 6th.
	loc := time.FixedZone("PST", -8*3600)
	got := Day(time.Date(2026, time.March, 5, 20, 0, 0, 0, loc))
	if got != "2026-03-06" {
		t.Fatalf("Day() = %q, want %q (local date should be converted to UTC first)", got, "2026-03-06")
	}
}
