// Package period maps timestamps to the calendar windows the aggregation
// buckets live in. All boundary math happens in the calculator's configured
// location; returned instants are in that location too, so half-open window
// comparisons stay consistent across DST shifts.
package period

import (
	"time"

	"github.com/alpenava/home-assistant-nayax/internal/domain"
)

// Window is one bucket window, half-open [Start, End).
type Window struct {
	Kind  domain.BucketKind
	Start time.Time
	End   time.Time
}

// Calculator derives bucket windows from a timestamp. It is pure and safe for
// concurrent use.
type Calculator struct {
	loc       *time.Location
	weekStart time.Weekday
}

// New builds a calculator for the given location and week-start day.
// A nil location defaults to UTC.
func New(loc *time.Location, weekStart time.Weekday) *Calculator {
	if loc == nil {
		loc = time.UTC
	}
	return &Calculator{loc: loc, weekStart: weekStart}
}

// WeekStart returns the configured first day of the week.
func (c *Calculator) WeekStart() time.Weekday {
	return c.weekStart
}

// DayWindow returns the local-midnight day window containing t.
func (c *Calculator) DayWindow(t time.Time) (time.Time, time.Time) {
	lt := t.In(c.loc)
	start := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, c.loc)
	return start, start.AddDate(0, 0, 1)
}

// WeekWindow returns the 7-day window containing t, starting at midnight on
// the configured week-start day.
func (c *Calculator) WeekWindow(t time.Time) (time.Time, time.Time) {
	dayStart, _ := c.DayWindow(t)
	back := (int(dayStart.Weekday()) - int(c.weekStart) + 7) % 7
	start := dayStart.AddDate(0, 0, -back)
	return start, start.AddDate(0, 0, 7)
}

// MonthWindow returns the calendar-month window containing t. AddDate handles
// variable month lengths.
func (c *Calculator) MonthWindow(t time.Time) (time.Time, time.Time) {
	lt := t.In(c.loc)
	start := time.Date(lt.Year(), lt.Month(), 1, 0, 0, 0, 0, c.loc)
	return start, start.AddDate(0, 1, 0)
}

// YearWindow returns the calendar-year window containing t.
func (c *Calculator) YearWindow(t time.Time) (time.Time, time.Time) {
	lt := t.In(c.loc)
	start := time.Date(lt.Year(), time.January, 1, 0, 0, 0, 0, c.loc)
	return start, start.AddDate(1, 0, 0)
}

// RollingSixMonthWindow returns the trailing-six-calendar-month window
// containing t: from the start of the month five months back through the
// start of next month. Exactly six months, the current one included.
func (c *Calculator) RollingSixMonthWindow(t time.Time) (time.Time, time.Time) {
	monthStart, monthEnd := c.MonthWindow(t)
	return monthStart.AddDate(0, -5, 0), monthEnd
}

// WindowFor returns the window of an open bucket kind containing t. Frozen
// kinds (yesterday, last_*) have no independent window; ok is false for them.
func (c *Calculator) WindowFor(kind domain.BucketKind, t time.Time) (start, end time.Time, ok bool) {
	switch kind {
	case domain.BucketToday:
		start, end = c.DayWindow(t)
	case domain.BucketThisWeek:
		start, end = c.WeekWindow(t)
	case domain.BucketThisMonth:
		start, end = c.MonthWindow(t)
	case domain.BucketRollingSixMonth:
		start, end = c.RollingSixMonthWindow(t)
	case domain.BucketThisYear:
		start, end = c.YearWindow(t)
	default:
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// BucketsFor returns the set of open bucket windows a transaction settled at
// ts belongs to.
func (c *Calculator) BucketsFor(ts time.Time) []Window {
	windows := make([]Window, 0, len(domain.OpenBucketKinds))
	for _, kind := range domain.OpenBucketKinds {
		start, end, ok := c.WindowFor(kind, ts)
		if !ok {
			continue
		}
		windows = append(windows, Window{Kind: kind, Start: start, End: end})
	}
	return windows
}

// Crossed reports whether a bucket boundary of the given kind lies between
// prev and now, i.e. whether now has left the window that contained prev.
func (c *Calculator) Crossed(kind domain.BucketKind, prev, now time.Time) bool {
	_, end, ok := c.WindowFor(kind, prev)
	if !ok {
		return false
	}
	return !now.Before(end)
}

// MonthIndex returns a monotonically increasing index for the calendar month
// containing t, used to count month boundaries between two instants.
func (c *Calculator) MonthIndex(t time.Time) int {
	lt := t.In(c.loc)
	return lt.Year()*12 + int(lt.Month()) - 1
}
