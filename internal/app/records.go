package app

import (
	"context"
	"io"
	"time"

	"daybook/internal/alarm"
	"daybook/internal/domain"
	"daybook/internal/reminder"
	"daybook/internal/storage"
	"daybook/internal/transport"
	logx "daybook/pkg/logx"
)

// SaveEvent stores e and re-plans its triggers. Scheduling is best-effort;
// only storage errors are returned.
func (a *App) SaveEvent(ctx context.Context, e domain.TimedEvent) (domain.TimedEvent, error) {
	if err := e.Validate(); err != nil {
		return domain.TimedEvent{}, err
	}
	saved, err := a.store.PutSchedule(ctx, e)
	if err != nil {
		return domain.TimedEvent{}, err
	}
	a.sched.CancelForEvent(ctx, saved.ID)
	if !saved.Done {
		a.sched.ScheduleForEvent(ctx, saved)
	}
	return saved, nil
}

func (a *App) RemoveEvent(ctx context.Context, id int64) error {
	if err := a.store.DeleteSchedule(ctx, id); err != nil {
		return err
	}
	a.sched.CancelForEvent(ctx, id)
	return nil
}

// CompleteEvent follows the same path as the "Mark complete" notification action.
func (a *App) CompleteEvent(ctx context.Context, id int64) error {
	rid, err := reminder.RequestID(id, reminder.RoleEvent)
	if err != nil {
		return err
	}
	return a.recv.HandleAction(ctx, transport.ActionComplete, rid)
}

func (a *App) Events(ctx context.Context) ([]domain.TimedEvent, error) {
	return a.store.ListSchedules(ctx)
}

// SaveRoutine stores r and re-plans its next occurrence.
func (a *App) SaveRoutine(ctx context.Context, r domain.RecurringRoutine) (domain.RecurringRoutine, error) {
	if err := r.Validate(); err != nil {
		return domain.RecurringRoutine{}, err
	}
	saved, err := a.store.PutRoutine(ctx, r)
	if err != nil {
		return domain.RecurringRoutine{}, err
	}
	a.sched.CancelForRoutine(ctx, saved.ID)
	a.sched.ResumeRoutine(ctx, saved)
	return saved, nil
}

func (a *App) RemoveRoutine(ctx context.Context, id int64) error {
	if err := a.store.DeleteRoutine(ctx, id); err != nil {
		return err
	}
	a.sched.CancelForRoutine(ctx, id)
	return nil
}

// CompleteRoutine marks today done and moves the routine to tomorrow.
func (a *App) CompleteRoutine(ctx context.Context, id int64) error {
	rid, err := reminder.RequestID(id, reminder.RoleRoutineOccurrence)
	if err != nil {
		return err
	}
	return a.recv.HandleAction(ctx, transport.ActionComplete, rid)
}

func (a *App) Routines(ctx context.Context) ([]domain.RecurringRoutine, error) {
	return a.store.ListRoutines(ctx)
}

// Snooze re-fires the trigger behind requestID after minutes (configured default when <= 0).
func (a *App) Snooze(ctx context.Context, requestID int32, minutes int) error {
	return a.recv.Snooze(ctx, requestID, minutes)
}

// Alarms lists pending triggers ordered by instant.
func (a *App) Alarms(ctx context.Context) ([]alarm.Entry, error) {
	return a.table.Pending(ctx)
}

func (a *App) Export(ctx context.Context, w io.Writer) error {
	return a.store.Export(ctx, w)
}

// Import loads records and re-plans triggers for everything in the store.
// Imported records replace their previous triggers, pending snoozes included.
func (a *App) Import(ctx context.Context, r io.Reader) (storage.ImportStats, error) {
	stats, err := a.store.Import(ctx, r)
	if err != nil {
		return stats, err
	}
	a.reschedule(ctx, true)
	return stats, nil
}

// reschedule re-plans every routine and every open event. Triggers already in
// the past are skipped by the scheduler. With replace set, each record's
// pending triggers are cancelled first; otherwise pending snoozes survive.
func (a *App) reschedule(ctx context.Context, replace bool) {
	routines, err := a.store.ListRoutines(ctx)
	if err != nil {
		a.log.Warn("list routines failed", logx.Err(err))
	}
	for _, r := range routines {
		if replace {
			a.sched.CancelForRoutine(ctx, r.ID)
		}
		a.sched.ResumeRoutine(ctx, r)
	}
	events, err := a.store.ListSchedules(ctx)
	if err != nil {
		a.log.Warn("list schedules failed", logx.Err(err))
	}
	open := 0
	for _, e := range events {
		if replace {
			a.sched.CancelForEvent(ctx, e.ID)
		}
		if e.Done {
			continue
		}
		open++
		a.sched.ScheduleForEvent(ctx, e)
	}
	a.log.Info("reminders rescheduled", logx.Int("routines", len(routines)), logx.Int("events", open))
}

// Location is the zone routine times and CLI wall-clock input resolve in.
func (a *App) Location() *time.Location { return a.sched.Location() }
