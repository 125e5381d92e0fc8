package reminder

import (
	"context"
	"errors"
	"fmt"

	"daybook/internal/domain"
	"daybook/internal/transport"
	logx "daybook/pkg/logx"
)

var ErrUnknownAction = errors.New("unknown notification action")

// RecordSource is the slice of the record store the receiver needs.
type RecordSource interface {
	GetSchedule(ctx context.Context, id int64) (domain.TimedEvent, error)
	GetRoutine(ctx context.Context, id int64) (domain.RecurringRoutine, error)
	MarkScheduleDone(ctx context.Context, id int64) error
	// MarkRoutineComplete records completion for day (domain.DayLayout).
	MarkRoutineComplete(ctx context.Context, id int64, day string) error
}

// Receiver handles fired triggers and the actions attached to their notifications.
type Receiver struct {
	sched   *Scheduler
	records RecordSource
	log     logx.Logger
}

func NewReceiver(sched *Scheduler, records RecordSource, log logx.Logger) *Receiver {
	return &Receiver{sched: sched, records: records, log: log.With(logx.String("comp", "receiver"))}
}

// OnFire presents the notification for a fired trigger. A routine occurrence
// also schedules the routine's next day.
func (r *Receiver) OnFire(ctx context.Context, t Trigger) error {
	recordID, role, err := DecodeRequestID(t.RequestID)
	if err != nil {
		return err
	}
	if t.Payload.RecordID != recordID || t.Payload.Role != role {
		r.log.Warn("trigger payload does not match request id",
			logx.Int32("request_id", t.RequestID),
			logx.Int64("payload_record", t.Payload.RecordID),
			logx.String("payload_role", t.Payload.Role.String()),
		)
		t.Payload.RecordID, t.Payload.Role = recordID, role
	}

	show := true
	if role.IsRoutine() {
		rt, err := r.records.GetRoutine(ctx, recordID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			r.log.Debug("routine gone; dropping trigger", logx.Int64("routine_id", recordID))
			return nil
		case err != nil:
			r.log.Warn("load routine failed", logx.Int64("routine_id", recordID), logx.Err(err))
		default:
			if rt.CompletedOn(r.sched.Now().In(r.sched.Location())) {
				show = false
			}
			if role == RoleRoutineOccurrence {
				r.sched.ResumeRoutine(ctx, rt)
			}
		}
	} else {
		ev, err := r.records.GetSchedule(ctx, recordID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			r.log.Debug("schedule gone; dropping trigger", logx.Int64("event_id", recordID))
			return nil
		case err != nil:
			r.log.Warn("load schedule failed", logx.Int64("event_id", recordID), logx.Err(err))
		default:
			show = !ev.Done
		}
	}
	if !show {
		r.log.Debug("record already completed; not presenting", logx.Int32("request_id", t.RequestID))
		return nil
	}

	r.sched.ensureCategories(ctx)
	if r.sched.presenter == nil {
		return nil
	}
	return r.sched.presenter.Present(ctx, r.notification(t))
}

func (r *Receiver) notification(t Trigger) transport.Notification {
	n := transport.Notification{
		ID:       t.RequestID,
		Category: categoryFor(t.Payload.Role),
		Title:    t.Payload.Title,
		Body:     t.Payload.Body,
		At:       t.At,
	}
	if t.Payload.Role.Actionable() {
		n.Actions = []transport.Action{
			{ID: transport.ActionSnooze, Label: fmt.Sprintf("Snooze %d min", r.sched.SnoozeMinutes())},
			{ID: transport.ActionComplete, Label: "Mark complete"},
		}
	}
	return n
}

// HandleAction applies a notification action to the record behind requestID.
func (r *Receiver) HandleAction(ctx context.Context, action string, requestID int32) error {
	recordID, role, err := DecodeRequestID(requestID)
	if err != nil {
		return err
	}
	log := r.log.With(logx.String("action", action), logx.Int32("request_id", requestID))

	switch action {
	case transport.ActionSnooze:
		return r.snooze(ctx, recordID, role, 0)
	case transport.ActionComplete:
		if role.IsRoutine() {
			day := r.sched.Now().In(r.sched.Location()).Format(domain.DayLayout)
			if err := r.records.MarkRoutineComplete(ctx, recordID, day); err != nil {
				return err
			}
			r.sched.CancelForRoutine(ctx, recordID)
			rt, err := r.records.GetRoutine(ctx, recordID)
			if err != nil {
				return err
			}
			r.sched.ResumeRoutine(ctx, rt)
			log.Info("routine completed", logx.Int64("routine_id", recordID), logx.String("day", day))
			return nil
		}
		if err := r.records.MarkScheduleDone(ctx, recordID); err != nil {
			return err
		}
		r.sched.CancelForEvent(ctx, recordID)
		log.Info("schedule completed", logx.Int64("event_id", recordID))
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
}

// Snooze snoozes the trigger behind requestID by minutes (default when <= 0).
func (r *Receiver) Snooze(ctx context.Context, requestID int32, minutes int) error {
	recordID, role, err := DecodeRequestID(requestID)
	if err != nil {
		return err
	}
	return r.snooze(ctx, recordID, role, minutes)
}

func (r *Receiver) snooze(ctx context.Context, recordID int64, role Role, minutes int) error {
	p := Payload{RecordID: recordID, Role: role}
	var routine *domain.RecurringRoutine
	if role.IsRoutine() {
		rt, err := r.records.GetRoutine(ctx, recordID)
		if err != nil {
			return err
		}
		p.Title, p.Body = rt.Title, rt.Description
		routine = &rt
	} else {
		ev, err := r.records.GetSchedule(ctx, recordID)
		if err != nil {
			return err
		}
		p.Title, p.Body = ev.Title, ev.Description
	}
	if err := r.sched.snoozePayload(ctx, p, minutes); err != nil {
		return err
	}
	if routine != nil {
		r.sched.restoreAfterSnooze(ctx, *routine, role)
	}
	r.log.Info("snoozed", logx.Int64("record_id", recordID), logx.String("role", role.String()))
	return nil
}
