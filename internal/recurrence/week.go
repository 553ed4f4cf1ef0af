package recurrence

import "time"

// WeekStart returns Monday 00:00 of the calendar week containing t, in loc.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	offset := (int(local.Weekday()) + 6) % 7
	return time.Date(local.Year(), local.Month(), local.Day()-offset, 0, 0, 0, 0, loc)
}

// DayStart returns 00:00 of the day containing t, in loc.
func DayStart(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}

// DateKey formats the local calendar date of t, e.g. "2024-01-08".
func DateKey(t time.Time, loc *time.Location) string {
	return DayStart(t, loc).Format("2006-01-02")
}
