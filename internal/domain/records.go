// Package domain holds the planner records that reminders are derived from.
//
// Records are owned by the storage layer; schedulers only read snapshots.
package domain

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// MaxRecordID bounds record identifiers so every trigger role can reserve a
// disjoint int32 request-id range (see reminder.RequestID).
const MaxRecordID int64 = 1<<24 - 1

// DayLayout formats calendar days in completion markers.
const DayLayout = "2006-01-02"

var (
	ErrMalformed    = errors.New("malformed record")
	ErrNotFound     = errors.New("record not found")
	ErrTitleEmpty   = errors.New("title must not be empty")
	ErrNegativeLead = errors.New("reminder lead minutes must be >= 0")
	ErrIDOutOfRange = fmt.Errorf("record id must be within [0, %d]", MaxRecordID)
)

// TimedEvent is a one-off schedule entry with an absolute start instant.
type TimedEvent struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	// Start is an RFC 3339 instant, e.g. "2026-10-19T09:30:00+07:00".
	Start               string `json:"start"`
	ReminderEnabled     bool   `json:"reminder_enabled"`
	ReminderLeadMinutes int    `json:"reminder_lead_minutes"`
	Done                bool   `json:"done,omitempty"`
}

// StartTime parses Start.
func (e TimedEvent) StartTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, strings.TrimSpace(e.Start))
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: event %d start %q: %v", ErrMalformed, e.ID, e.Start, err)
	}
	return t, nil
}

func (e TimedEvent) Validate() error {
	if strings.TrimSpace(e.Title) == "" {
		return ErrTitleEmpty
	}
	if e.ID < 0 || e.ID > MaxRecordID {
		return ErrIDOutOfRange
	}
	if e.ReminderLeadMinutes < 0 {
		return ErrNegativeLead
	}
	_, err := e.StartTime()
	return err
}

// RecurringRoutine repeats daily at an optional wall-clock time.
type RecurringRoutine struct {
	ID          int64  `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
	// TimeOfDay is "HH:MM"; empty means the routine has no scheduled trigger.
	TimeOfDay           string `json:"time_of_day,omitempty"`
	ReminderEnabled     bool   `json:"reminder_enabled"`
	ReminderLeadMinutes int    `json:"reminder_lead_minutes"`
	// LastCompleted is the calendar day (DayLayout) of the latest completion.
	LastCompleted string `json:"last_completed,omitempty"`
}

// HasTime reports whether the routine should produce triggers at all.
func (r RecurringRoutine) HasTime() bool { return strings.TrimSpace(r.TimeOfDay) != "" }

// CompletedOn reports whether the routine was marked complete on day's date.
func (r RecurringRoutine) CompletedOn(day time.Time) bool {
	return r.LastCompleted != "" && r.LastCompleted == day.Format(DayLayout)
}

func (r RecurringRoutine) Validate() error {
	if strings.TrimSpace(r.Title) == "" {
		return ErrTitleEmpty
	}
	if r.ID < 0 || r.ID > MaxRecordID {
		return ErrIDOutOfRange
	}
	if r.ReminderLeadMinutes < 0 {
		return ErrNegativeLead
	}
	if r.HasTime() {
		if _, _, err := ParseTimeOfDay(r.TimeOfDay); err != nil {
			return err
		}
	}
	return nil
}

// ParseTimeOfDay parses "HH:MM" (24h).
func ParseTimeOfDay(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	hh, mm, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%w: time of day %q, expected HH:MM", ErrMalformed, s)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("%w: invalid hour in %q", ErrMalformed, s)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 || len(mm) != 2 {
		return 0, 0, fmt.Errorf("%w: invalid minute in %q", ErrMalformed, s)
	}
	return hour, minute, nil
}
