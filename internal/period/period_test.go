package period

import (
	"testing"
	"time"

	"github.com/alpenava/home-assistant-nayax/internal/domain"
)

func mustZone(t *testing.T, name string) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation(name)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	return loc
}

func TestDayWindow(t *testing.T) {
	calc := New(time.UTC, time.Monday)
	ts := time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC)

	start, end := calc.DayWindow(ts)
	if !start.Equal(time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day start %v", start)
	}
	if !end.Equal(time.Date(2024, 3, 16, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected day end %v", end)
	}
}

func TestWeekWindowMondayStart(t *testing.T) {
	calc := New(time.UTC, time.Monday)
	// 2024-03-15 is a Friday.
	ts := time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC)

	start, end := calc.WeekWindow(ts)
	if !start.Equal(time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected week start %v", start)
	}
	if !end.Equal(time.Date(2024, 3, 18, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected week end %v", end)
	}
}

func TestWeekWindowSundayStart(t *testing.T) {
	calc := New(time.UTC, time.Sunday)
	ts := time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC)

	start, _ := calc.WeekWindow(ts)
	if start.Weekday() != time.Sunday {
		t.Fatalf("week should start on Sunday, got %v", start.Weekday())
	}
	if !start.Equal(time.Date(2024, 3, 10, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected week start %v", start)
	}
}

func TestWeekWindowOnBoundaryDay(t *testing.T) {
	calc := New(time.UTC, time.Monday)
	// A Monday belongs to the week it begins.
	monday := time.Date(2024, 3, 11, 0, 0, 0, 0, time.UTC)

	start, _ := calc.WeekWindow(monday)
	if !start.Equal(monday) {
		t.Fatalf("monday should start its own week, got %v", start)
	}
}

func TestMonthWindowLengths(t *testing.T) {
	calc := New(time.UTC, time.Monday)

	// February in a leap year.
	start, end := calc.MonthWindow(time.Date(2024, 2, 10, 0, 0, 0, 0, time.UTC))
	if days := int(end.Sub(start).Hours() / 24); days != 29 {
		t.Fatalf("leap february should span 29 days, got %d", days)
	}

	start, end = calc.MonthWindow(time.Date(2024, 1, 31, 23, 0, 0, 0, time.UTC))
	if !end.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("january should end at february 1st, got %v", end)
	}
	_ = start
}

func TestRollingSixMonthWindow(t *testing.T) {
	calc := New(time.UTC, time.Monday)
	ts := time.Date(2024, 7, 20, 12, 0, 0, 0, time.UTC)

	start, end := calc.RollingSixMonthWindow(ts)
	if !start.Equal(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("window should start february 1st, got %v", start)
	}
	if !end.Equal(time.Date(2024, 8, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("window should end august 1st, got %v", end)
	}
	if months := calc.MonthIndex(end) - calc.MonthIndex(start); months != 6 {
		t.Fatalf("window should span exactly 6 months, got %d", months)
	}
}

func TestRollingSixMonthWindowAcrossYear(t *testing.T) {
	calc := New(time.UTC, time.Monday)
	ts := time.Date(2024, 2, 5, 0, 0, 0, 0, time.UTC)

	start, _ := calc.RollingSixMonthWindow(ts)
	if !start.Equal(time.Date(2023, 9, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("window should reach back into 2023, got %v", start)
	}
}

func TestBucketsForContainsAllOpenKinds(t *testing.T) {
	calc := New(time.UTC, time.Monday)
	ts := time.Date(2024, 3, 15, 13, 45, 0, 0, time.UTC)

	windows := calc.BucketsFor(ts)
	if len(windows) != len(domain.OpenBucketKinds) {
		t.Fatalf("expected %d windows, got %d", len(domain.OpenBucketKinds), len(windows))
	}
	for _, w := range windows {
		if ts.Before(w.Start) || !ts.Before(w.End) {
			t.Fatalf("%s window [%v, %v) does not contain %v", w.Kind, w.Start, w.End, ts)
		}
	}
}

func TestCrossed(t *testing.T) {
	calc := New(time.UTC, time.Monday)
	before := time.Date(2024, 3, 15, 23, 59, 0, 0, time.UTC)
	after := time.Date(2024, 3, 16, 0, 1, 0, 0, time.UTC)

	if !calc.Crossed(domain.BucketToday, before, after) {
		t.Fatal("midnight should cross the day boundary")
	}
	if calc.Crossed(domain.BucketThisMonth, before, after) {
		t.Fatal("mid-month day change should not cross the month boundary")
	}
	if calc.Crossed(domain.BucketToday, before, before.Add(time.Second)) {
		t.Fatal("no boundary between two instants in the same day")
	}
}

func TestWindowsInLocalZone(t *testing.T) {
	berlin := mustZone(t, "Europe/Berlin")
	calc := New(berlin, time.Monday)

	// 23:30 UTC on March 15th is already March 16th in Berlin.
	ts := time.Date(2024, 3, 15, 23, 30, 0, 0, time.UTC)
	start, _ := calc.DayWindow(ts)
	if start.Day() != 16 {
		t.Fatalf("day window should follow local midnight, got start %v", start)
	}
}

func TestWindowForFrozenKind(t *testing.T) {
	calc := New(time.UTC, time.Monday)
	if _, _, ok := calc.WindowFor(domain.BucketLastWeek, time.Now()); ok {
		t.Fatal("frozen kinds have no derivable window")
	}
}
