package recurrence

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Schedule is a parsed cron expression bound to a location.
type Schedule struct {
	expression  string
	location    *time.Location
	minutes     bitset64
	hours       bitset64
	daysOfMonth bitset64
	months      bitset64
	daysOfWeek  bitset64
}

type bitset64 uint64

func (b bitset64) has(value int) bool { return b&(1<<uint(value)) != 0 }
func (b *bitset64) set(value int)     { *b |= 1 << uint(value) }

// Parse parses a 5-field cron expression evaluated in UTC.
func Parse(expression string) (Schedule, error) {
	return ParseInLocation(expression, time.UTC)
}

// ParseInLocation parses a 5-field cron expression (minute hour day-of-month
// month day-of-week) whose fields are interpreted as wall-clock time in loc.
// Day-of-week accepts 0-7 where both 0 and 7 mean Sunday.
func ParseInLocation(expression string, loc *time.Location) (Schedule, error) {
	if loc == nil {
		loc = time.UTC
	}
	fields := strings.Fields(expression)
	if len(fields) != 5 {
		return Schedule{}, fmt.Errorf("cron: expected 5 fields, got %d", len(fields))
	}

	minutes, err := parseField(fields[0], 0, 59)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: minute field: %w", err)
	}
	hours, err := parseField(fields[1], 0, 23)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: hour field: %w", err)
	}
	daysOfMonth, err := parseField(fields[2], 1, 31)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: day-of-month field: %w", err)
	}
	months, err := parseField(fields[3], 1, 12)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: month field: %w", err)
	}
	daysOfWeek, err := parseField(fields[4], 0, 7)
	if err != nil {
		return Schedule{}, fmt.Errorf("cron: day-of-week field: %w", err)
	}
	if daysOfWeek.has(7) {
		daysOfWeek.set(0)
	}

	return Schedule{
		expression:  strings.Join(fields, " "),
		location:    loc,
		minutes:     minutes,
		hours:       hours,
		daysOfMonth: daysOfMonth,
		months:      months,
		daysOfWeek:  daysOfWeek,
	}, nil
}

// String returns the normalized expression.
func (s Schedule) String() string {
	return s.expression
}

// Location returns the zone the schedule is evaluated in.
func (s Schedule) Location() *time.Location {
	if s.location == nil {
		return time.UTC
	}
	return s.location
}

// Next returns the earliest minute strictly after t that matches the
// schedule. Day-of-month and day-of-week must both match. Impossible
// schedules (Feb 31) return an error after a four year search.
func (s Schedule) Next(t time.Time) (time.Time, error) {
	loc := s.Location()
	t = t.In(loc).Truncate(time.Minute).Add(time.Minute)
	limit := t.AddDate(4, 0, 0)

	for t.Before(limit) {
		if !s.months.has(int(t.Month())) {
			t = time.Date(t.Year(), t.Month()+1, 1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.daysOfMonth.has(t.Day()) || !s.daysOfWeek.has(int(t.Weekday())) {
			t = time.Date(t.Year(), t.Month(), t.Day()+1, 0, 0, 0, 0, loc)
			continue
		}
		if !s.hours.has(t.Hour()) {
			t = time.Date(t.Year(), t.Month(), t.Day(), t.Hour()+1, 0, 0, 0, loc)
			continue
		}
		if !s.minutes.has(t.Minute()) {
			t = t.Add(time.Minute)
			continue
		}
		return t, nil
	}

	return time.Time{}, fmt.Errorf("cron: no matching time within 4 years of %s", t.Format(time.RFC3339))
}

func parseField(field string, minimum, maximum int) (bitset64, error) {
	var result bitset64
	for _, term := range strings.Split(field, ",") {
		bits, err := parseTerm(term, minimum, maximum)
		if err != nil {
			return 0, err
		}
		result |= bits
	}
	if result == 0 {
		return 0, fmt.Errorf("field %q produces empty set", field)
	}
	return result, nil
}

// parseTerm parses one of: *, */N, V, V-V, V-V/N.
func parseTerm(term string, minimum, maximum int) (bitset64, error) {
	rangeExpression, stepExpression, hasStep := strings.Cut(term, "/")
	step := 1
	if hasStep {
		parsed, err := strconv.Atoi(stepExpression)
		if err != nil {
			return 0, fmt.Errorf("invalid step %q: %w", stepExpression, err)
		}
		if parsed <= 0 {
			return 0, fmt.Errorf("step must be positive, got %d", parsed)
		}
		step = parsed
	}

	var rangeStart, rangeEnd int
	switch {
	case rangeExpression == "*":
		rangeStart, rangeEnd = minimum, maximum
	case strings.Contains(rangeExpression, "-"):
		startStr, endStr, _ := strings.Cut(rangeExpression, "-")
		var err error
		if rangeStart, err = strconv.Atoi(startStr); err != nil {
			return 0, fmt.Errorf("invalid range start %q: %w", startStr, err)
		}
		if rangeEnd, err = strconv.Atoi(endStr); err != nil {
			return 0, fmt.Errorf("invalid range end %q: %w", endStr, err)
		}
		if rangeStart > rangeEnd {
			return 0, fmt.Errorf("range start %d > end %d", rangeStart, rangeEnd)
		}
	default:
		value, err := strconv.Atoi(rangeExpression)
		if err != nil {
			return 0, fmt.Errorf("invalid value %q: %w", rangeExpression, err)
		}
		rangeStart, rangeEnd = value, value
		if hasStep {
			rangeEnd = maximum
		}
	}

	if rangeStart < minimum || rangeEnd > maximum {
		return 0, fmt.Errorf("value out of range [%d-%d]: got %d-%d", minimum, maximum, rangeStart, rangeEnd)
	}

	var result bitset64
	for value := rangeStart; value <= rangeEnd; value += step {
		result.set(value)
	}
	return result, nil
}
