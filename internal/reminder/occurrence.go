package reminder

import (
	"time"

	"daybook/internal/domain"
)

// NextOccurrence returns the first instant strictly after `after` whose wall
// clock in loc is timeOfDay ("HH:MM"). Today's time is tried first, then the
// next calendar day.
func NextOccurrence(timeOfDay string, after time.Time, loc *time.Location) (time.Time, error) {
	h, m, err := domain.ParseTimeOfDay(timeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	if loc == nil {
		loc = time.Local
	}
	a := after.In(loc)
	next := time.Date(a.Year(), a.Month(), a.Day(), h, m, 0, 0, loc)
	if !next.After(after) {
		next = time.Date(a.Year(), a.Month(), a.Day()+1, h, m, 0, 0, loc)
	}
	return next, nil
}

// endOfDay returns the last instant of t's calendar day in loc.
func endOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	a := t.In(loc)
	return time.Date(a.Year(), a.Month(), a.Day()+1, 0, 0, 0, 0, loc).Add(-time.Nanosecond)
}

// startOfDay returns midnight of t's calendar day in loc.
func startOfDay(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.Local
	}
	a := t.In(loc)
	return time.Date(a.Year(), a.Month(), a.Day(), 0, 0, 0, 0, loc)
}
