package utils

import (
	"time"

	customError "github.com/aadvita/dues-engine/pkg/errors"
)

// DateLayout is the wire format of civil dates.
const DateLayout = "2006-01-02"

// CivilDate truncates t to its calendar date in loc and returns it as UTC midnight.
// A nil location keeps t's own location.
func CivilDate(t time.Time, loc *time.Location) time.Time {
	if loc != nil {
		t = t.In(loc)
	}
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// IsBusinessDay reports whether d falls on Monday through Friday.
func IsBusinessDay(d time.Time) bool {
	wd := d.Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// AddBusinessDays advances from start one day at a time until n weekdays were added.
// Weekends are skipped; holidays are not considered.
func AddBusinessDays(start time.Time, n int) (time.Time, error) {
	if n < 0 {
		return time.Time{}, customError.WrapProgramming("business day count must be >= 0, got %d", n)
	}

	current := start
	for added := 0; added < n; {
		current = current.AddDate(0, 0, 1)
		if IsBusinessDay(current) {
			added++
		}
	}
	return current, nil
}

// DaysIn returns the number of days of month in year.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

// SafeDayOfMonth returns year-month-day, clamping day to the last day of the month.
func SafeDayOfMonth(year int, month time.Month, day int) (time.Time, error) {
	if month < time.January || month > time.December {
		return time.Time{}, customError.WrapProgramming("month out of range: %d", month)
	}
	if day < 1 || day > 31 {
		return time.Time{}, customError.WrapProgramming("day out of range: %d", day)
	}

	if last := DaysIn(year, month); day > last {
		day = last
	}
	return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), nil
}

// AddMonths moves a (year, month) pair by n months without touching days.
func AddMonths(year int, month time.Month, n int) (int, time.Month) {
	idx := year*12 + int(month) - 1 + n
	return idx / 12, time.Month(idx%12 + 1)
}
