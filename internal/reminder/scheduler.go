// Package reminder turns planner records into one-shot local triggers.
//
// The Scheduler computes trigger instants and request ids, registers them with
// a TriggerRegistry, and cancels or snoozes them. It never shows anything
// itself; the Receiver turns fired triggers into notifications.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"daybook/internal/clock"
	"daybook/internal/domain"
	logx "daybook/pkg/logx"
)

const (
	DefaultSnoozeMinutes = 10
	snoozedSuffix        = " (Snoozed)"
)

type Config struct {
	// Location resolves routine wall-clock times. Nil means time.Local.
	Location      *time.Location
	SnoozeMinutes int
}

// Scheduler is safe for concurrent use.
type Scheduler struct {
	registry  TriggerRegistry
	presenter NotificationPresenter
	clock     clock.Clock
	log       logx.Logger

	mu     sync.RWMutex
	loc    *time.Location
	snooze int

	catMu    sync.Mutex
	catReady bool
}

func New(cfg Config, registry TriggerRegistry, presenter NotificationPresenter, clk clock.Clock, log logx.Logger) *Scheduler {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	s := &Scheduler{
		registry:  registry,
		presenter: presenter,
		clock:     clk,
		log:       log.With(logx.String("comp", "reminder")),
	}
	s.Apply(cfg)
	return s
}

// Apply swaps location and default snooze length. Already registered triggers
// are not recomputed.
func (s *Scheduler) Apply(cfg Config) {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	snooze := cfg.SnoozeMinutes
	if snooze <= 0 {
		snooze = DefaultSnoozeMinutes
	}
	s.mu.Lock()
	s.loc = loc
	s.snooze = snooze
	s.mu.Unlock()
}

func (s *Scheduler) Location() *time.Location {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loc
}

func (s *Scheduler) SnoozeMinutes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snooze
}

func (s *Scheduler) Now() time.Time { return s.clock.Now() }

// ensureCategories creates the notification categories once. A failed attempt
// is retried on the next call.
func (s *Scheduler) ensureCategories(ctx context.Context) {
	if s.presenter == nil {
		return
	}
	s.catMu.Lock()
	defer s.catMu.Unlock()
	if s.catReady {
		return
	}
	for _, c := range Categories() {
		if err := s.presenter.EnsureCategory(ctx, c); err != nil {
			s.log.Warn("ensure notification category failed", logx.String("category", c.ID), logx.Err(err))
			return
		}
	}
	s.catReady = true
}

// ScheduleForEvent registers the event's reminder and start triggers. Errors are logged.
func (s *Scheduler) ScheduleForEvent(ctx context.Context, e domain.TimedEvent) {
	if err := s.scheduleEvent(ctx, e); err != nil {
		s.log.Warn("schedule event failed", logx.Int64("event_id", e.ID), logx.Err(err))
	}
}

// ScheduleForRoutine registers the routine's next occurrence (and reminder).
// Errors are logged.
func (s *Scheduler) ScheduleForRoutine(ctx context.Context, r domain.RecurringRoutine) {
	if err := s.scheduleRoutine(ctx, r, s.clock.Now()); err != nil {
		s.log.Warn("schedule routine failed", logx.Int64("routine_id", r.ID), logx.Err(err))
	}
}

// ResumeRoutine is ScheduleForRoutine that skips today when the routine has
// already been completed today.
func (s *Scheduler) ResumeRoutine(ctx context.Context, r domain.RecurringRoutine) {
	now := s.clock.Now()
	after := now
	if loc := s.Location(); r.CompletedOn(now.In(loc)) {
		after = endOfDay(now, loc)
	}
	if err := s.scheduleRoutine(ctx, r, after); err != nil {
		s.log.Warn("schedule routine failed", logx.Int64("routine_id", r.ID), logx.Err(err))
	}
}

// CancelForEvent drops every pending trigger of the event. Missing triggers are fine.
func (s *Scheduler) CancelForEvent(ctx context.Context, id int64) {
	if err := s.cancel(ctx, id, RoleEvent, RoleEventReminder, RoleScheduleSnooze); err != nil {
		s.log.Warn("cancel event triggers failed", logx.Int64("event_id", id), logx.Err(err))
	}
}

// CancelForRoutine drops every pending trigger of the routine.
func (s *Scheduler) CancelForRoutine(ctx context.Context, id int64) {
	if err := s.cancel(ctx, id, RoleRoutineOccurrence, RoleRoutineReminder, RoleRoutineSnooze); err != nil {
		s.log.Warn("cancel routine triggers failed", logx.Int64("routine_id", id), logx.Err(err))
	}
}

// Snooze re-fires p after minutes (default when <= 0) under the record kind's
// snooze role. Any earlier snooze of the same record is replaced.
func (s *Scheduler) Snooze(ctx context.Context, p Payload, minutes int) {
	if err := s.snoozePayload(ctx, p, minutes); err != nil {
		s.log.Warn("snooze failed", logx.Int64("record_id", p.RecordID), logx.String("role", p.Role.String()), logx.Err(err))
	}
}

func (s *Scheduler) scheduleEvent(ctx context.Context, e domain.TimedEvent) error {
	s.ensureCategories(ctx)
	triggers, err := s.planEvent(e, s.clock.Now())
	if err != nil {
		return err
	}
	return s.registerAll(ctx, triggers)
}

func (s *Scheduler) scheduleRoutine(ctx context.Context, r domain.RecurringRoutine, after time.Time) error {
	s.ensureCategories(ctx)
	triggers, err := s.planRoutine(r, s.clock.Now(), after)
	if err != nil {
		return err
	}
	return s.registerAll(ctx, triggers)
}

// planEvent computes the event triggers without touching the registry.
func (s *Scheduler) planEvent(e domain.TimedEvent, now time.Time) ([]Trigger, error) {
	start, err := e.StartTime()
	if err != nil {
		return nil, err
	}
	primary, err := RequestID(e.ID, RoleEvent)
	if err != nil {
		return nil, err
	}
	reminder, err := RequestID(e.ID, RoleEventReminder)
	if err != nil {
		return nil, err
	}

	var out []Trigger
	if e.ReminderEnabled && e.ReminderLeadMinutes > 0 {
		at := start.Add(-time.Duration(e.ReminderLeadMinutes) * time.Minute)
		if s.future(at, now, e.ID, RoleEventReminder) {
			out = append(out, Trigger{
				RequestID: reminder,
				At:        at,
				Payload: Payload{
					RecordID: e.ID,
					Role:     RoleEventReminder,
					Title:    "Reminder: " + e.Title,
					Body:     withDescription(fmt.Sprintf("%s starts in %d minutes", e.Title, e.ReminderLeadMinutes), e.Description),
				},
			})
		}
	}
	if s.future(start, now, e.ID, RoleEvent) {
		out = append(out, Trigger{
			RequestID: primary,
			At:        start,
			Payload:   Payload{RecordID: e.ID, Role: RoleEvent, Title: e.Title, Body: e.Description},
		})
	}
	return out, nil
}

// planRoutine computes the triggers for the first occurrence strictly after `after`.
func (s *Scheduler) planRoutine(r domain.RecurringRoutine, now, after time.Time) ([]Trigger, error) {
	if !r.HasTime() {
		return nil, nil
	}
	occurrence, err := RequestID(r.ID, RoleRoutineOccurrence)
	if err != nil {
		return nil, err
	}
	reminder, err := RequestID(r.ID, RoleRoutineReminder)
	if err != nil {
		return nil, err
	}
	next, err := NextOccurrence(r.TimeOfDay, after, s.Location())
	if err != nil {
		return nil, err
	}

	var out []Trigger
	if r.ReminderEnabled && r.ReminderLeadMinutes > 0 {
		at := next.Add(-time.Duration(r.ReminderLeadMinutes) * time.Minute)
		if s.future(at, now, r.ID, RoleRoutineReminder) {
			out = append(out, Trigger{
				RequestID: reminder,
				At:        at,
				Payload: Payload{
					RecordID: r.ID,
					Role:     RoleRoutineReminder,
					Title:    "Reminder: " + r.Title,
					Body:     withDescription(fmt.Sprintf("%s in %d minutes", r.Title, r.ReminderLeadMinutes), r.Description),
				},
			})
		}
	}
	if s.future(next, now, r.ID, RoleRoutineOccurrence) {
		out = append(out, Trigger{
			RequestID: occurrence,
			At:        next,
			Payload:   Payload{RecordID: r.ID, Role: RoleRoutineOccurrence, Title: r.Title, Body: r.Description},
		})
	}
	return out, nil
}

func (s *Scheduler) snoozePayload(ctx context.Context, p Payload, minutes int) error {
	if !p.Role.Valid() {
		return fmt.Errorf("%w: unknown trigger role %d", ErrMalformedInput, p.Role)
	}
	if minutes <= 0 {
		minutes = s.SnoozeMinutes()
	}
	role := p.Role.SnoozeRole()
	id, err := RequestID(p.RecordID, role)
	if err != nil {
		return err
	}
	s.ensureCategories(ctx)

	roles := []Role{role}
	if !p.Role.IsSnooze() {
		roles = append([]Role{p.Role}, roles...)
	}
	cancelErr := s.cancel(ctx, p.RecordID, roles...)

	title := p.Title
	if !strings.HasSuffix(title, snoozedSuffix) {
		title += snoozedSuffix
	}
	t := Trigger{
		RequestID: id,
		At:        s.clock.Now().Add(time.Duration(minutes) * time.Minute),
		Payload:   Payload{RecordID: p.RecordID, Role: role, Title: title, Body: p.Body},
	}
	return errors.Join(cancelErr, s.registerAll(ctx, []Trigger{t}))
}

// restoreAfterSnooze puts back the routine triggers a snooze of role may have
// superseded. Once today's occurrence has fired (or is itself being snoozed)
// the request ids point at tomorrow, so the next-day plan is registered. A
// reminder snoozed before today's occurrence leaves that occurrence in place
// and is not brought back.
func (s *Scheduler) restoreAfterSnooze(ctx context.Context, r domain.RecurringRoutine, role Role) {
	if role.IsSnooze() || !r.HasTime() {
		return
	}
	now, loc := s.clock.Now(), s.Location()
	today, err := NextOccurrence(r.TimeOfDay, startOfDay(now, loc).Add(-time.Nanosecond), loc)
	if err != nil {
		s.log.Warn("restore routine after snooze failed", logx.Int64("routine_id", r.ID), logx.Err(err))
		return
	}
	if role == RoleRoutineReminder && today.After(now) {
		return
	}
	if err := s.scheduleRoutine(ctx, r, endOfDay(now, loc)); err != nil {
		s.log.Warn("restore routine after snooze failed", logx.Int64("routine_id", r.ID), logx.Err(err))
	}
}

// future reports whether at is strictly after now and logs the skip otherwise.
func (s *Scheduler) future(at, now time.Time, recordID int64, role Role) bool {
	if err := checkFuture(at, now); err != nil {
		s.log.Debug("skipping trigger", logx.Int64("record_id", recordID), logx.String("role", role.String()), logx.Err(err))
		return false
	}
	return true
}

func checkFuture(at, now time.Time) error {
	if !at.After(now) {
		return fmt.Errorf("%w: %s", ErrNotFuture, at.Format(time.RFC3339))
	}
	return nil
}

// registerAll registers every trigger; one failure does not stop the rest.
func (s *Scheduler) registerAll(ctx context.Context, triggers []Trigger) error {
	if len(triggers) == 0 {
		return nil
	}
	exact := s.registry.CanRegisterExact()
	var errs []error
	for _, t := range triggers {
		var err error
		if exact {
			err = s.registry.RegisterExact(ctx, t)
		} else {
			err = s.registry.RegisterApprox(ctx, t)
		}
		if err != nil {
			errs = append(errs, &SchedulingError{Op: "register", Role: t.Payload.Role, RequestID: t.RequestID, Err: err})
			continue
		}
		s.log.Debug("trigger registered",
			logx.Int32("request_id", t.RequestID),
			logx.String("role", t.Payload.Role.String()),
			logx.Time("at", t.At),
			logx.Bool("exact", exact),
		)
	}
	return errors.Join(errs...)
}

func (s *Scheduler) cancel(ctx context.Context, recordID int64, roles ...Role) error {
	var errs []error
	for _, role := range roles {
		id, err := RequestID(recordID, role)
		if err != nil {
			return err
		}
		if err := s.registry.Cancel(ctx, id); err != nil {
			errs = append(errs, &SchedulingError{Op: "cancel", Role: role, RequestID: id, Err: err})
		}
	}
	return errors.Join(errs...)
}

func withDescription(body, desc string) string {
	if desc = strings.TrimSpace(desc); desc != "" {
		return body + "\n" + desc
	}
	return body
}
