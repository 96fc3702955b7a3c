package holidays_test

import (
	"testing"
	"time"

	. "cronpilot/internal/condition/holidays"
)

func TestIsHoliday_MatchesListedDate(t *testing.T) {
	if !IsHoliday("US", time.Date(2026, time.July, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected July 4 to be a US holiday")
	}
}

func TestIsHoliday_IgnoresYear(t *testing.T) {
	if !IsHoliday("US", time.Date(1999, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected New Year's Day to match regardless of year")
	}
}

func TestIsHoliday_RejectsNonHolidayDate(t *testing.T) {
	if IsHoliday("US", time.Date(2026, time.March, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected an ordinary date to not match")
	}
}

func TestIsHoliday_UnknownRegionNeverMatches(t *testing.T) {
	if IsHoliday("ZZ", time.Date(2026, time.January, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected an unknown region to never match")
	}
}

func TestIsHoliday_RegionsAreIndependent(t *testing.T) {
	if IsHoliday("DE", time.Date(2026, time.July, 4, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected Germany's calendar to not include US Independence Day")
	}
	if !IsHoliday("DE", time.Date(2026, time.October, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatal("expected German Unity Day to be a DE holiday")
	}
}
