package reminder

import (
	"context"
	"errors"
	"testing"
	"time"

	"daybook/internal/domain"
	"daybook/internal/transport"
	logx "daybook/pkg/logx"
)

type fakeRecords struct {
	events   map[int64]domain.TimedEvent
	routines map[int64]domain.RecurringRoutine
}

func newFakeRecords() *fakeRecords {
	return &fakeRecords{events: map[int64]domain.TimedEvent{}, routines: map[int64]domain.RecurringRoutine{}}
}

func (f *fakeRecords) GetSchedule(_ context.Context, id int64) (domain.TimedEvent, error) {
	e, ok := f.events[id]
	if !ok {
		return domain.TimedEvent{}, domain.ErrNotFound
	}
	return e, nil
}

func (f *fakeRecords) GetRoutine(_ context.Context, id int64) (domain.RecurringRoutine, error) {
	r, ok := f.routines[id]
	if !ok {
		return domain.RecurringRoutine{}, domain.ErrNotFound
	}
	return r, nil
}

func (f *fakeRecords) MarkScheduleDone(_ context.Context, id int64) error {
	e, ok := f.events[id]
	if !ok {
		return domain.ErrNotFound
	}
	e.Done = true
	f.events[id] = e
	return nil
}

func (f *fakeRecords) MarkRoutineComplete(_ context.Context, id int64, day string) error {
	r, ok := f.routines[id]
	if !ok {
		return domain.ErrNotFound
	}
	r.LastCompleted = day
	f.routines[id] = r
	return nil
}

func TestOnFireEventReminderHasActions(t *testing.T) {
	t.Parallel()
	s, reg, pres, _ := newTestScheduler(t)
	recs := newFakeRecords()
	e := event(42, t0.Add(2*time.Hour), 15)
	recs.events[42] = e
	rcv := NewReceiver(s, recs, logx.Nop())

	s.ScheduleForEvent(context.Background(), e)
	tr, _ := reg.get(rid(t, 42, RoleEventReminder))
	if err := rcv.OnFire(context.Background(), tr.Trigger); err != nil {
		t.Fatalf("OnFire: %v", err)
	}
	if len(pres.shown) != 1 {
		t.Fatalf("presented %d notifications", len(pres.shown))
	}
	n := pres.shown[0]
	if n.Category != CategorySchedule || n.Title != "Reminder: Dentist" || n.ID != tr.RequestID {
		t.Fatalf("notification = %+v", n)
	}
	if len(n.Actions) != 2 || n.Actions[0].ID != transport.ActionSnooze || n.Actions[0].Label != "Snooze 10 min" || n.Actions[1].ID != transport.ActionComplete {
		t.Fatalf("actions = %+v", n.Actions)
	}

	primary, _ := reg.get(42)
	if err := rcv.OnFire(context.Background(), primary.Trigger); err != nil {
		t.Fatal(err)
	}
	if got := pres.shown[1]; len(got.Actions) != 0 {
		t.Fatalf("event start notification should have no actions: %+v", got.Actions)
	}
}

func TestOnFireRoutineOccurrenceReschedules(t *testing.T) {
	t.Parallel()
	s, reg, pres, clk := newTestScheduler(t)
	recs := newFakeRecords()
	r := domain.RecurringRoutine{ID: 2, Title: "Meds", TimeOfDay: "09:00"}
	recs.routines[2] = r
	rcv := NewReceiver(s, recs, logx.Nop())

	clk.Set(time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC))
	s.ScheduleForRoutine(context.Background(), r)
	occID := rid(t, 2, RoleRoutineOccurrence)
	tr, _ := reg.get(occID)

	clk.Set(tr.At)
	if err := rcv.OnFire(context.Background(), tr.Trigger); err != nil {
		t.Fatal(err)
	}
	if len(pres.shown) != 1 || pres.shown[0].Category != CategoryRoutine {
		t.Fatalf("shown = %+v", pres.shown)
	}
	next, ok := reg.get(occID)
	if !ok || !next.At.Equal(time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("next occurrence = %v ok=%v", next.At, ok)
	}
}

func TestOnFireSkipsGoneAndDone(t *testing.T) {
	t.Parallel()
	s, _, pres, _ := newTestScheduler(t)
	recs := newFakeRecords()
	rcv := NewReceiver(s, recs, logx.Nop())

	gone := Trigger{RequestID: rid(t, 99, RoleEvent), At: t0, Payload: Payload{RecordID: 99, Role: RoleEvent, Title: "x"}}
	if err := rcv.OnFire(context.Background(), gone); err != nil {
		t.Fatal(err)
	}
	done := event(5, t0, 0)
	done.Done = true
	recs.events[5] = done
	if err := rcv.OnFire(context.Background(), Trigger{RequestID: 5, At: t0, Payload: Payload{RecordID: 5, Role: RoleEvent}}); err != nil {
		t.Fatal(err)
	}
	if len(pres.shown) != 0 {
		t.Fatalf("presented %+v", pres.shown)
	}
	if err := rcv.OnFire(context.Background(), Trigger{RequestID: -1}); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("bad request id err = %v", err)
	}
}

func TestHandleActionCompleteEvent(t *testing.T) {
	t.Parallel()
	s, reg, _, _ := newTestScheduler(t)
	recs := newFakeRecords()
	e := event(42, t0.Add(2*time.Hour), 15)
	recs.events[42] = e
	rcv := NewReceiver(s, recs, logx.Nop())
	s.ScheduleForEvent(context.Background(), e)

	if err := rcv.HandleAction(context.Background(), transport.ActionComplete, rid(t, 42, RoleEventReminder)); err != nil {
		t.Fatalf("HandleAction: %v", err)
	}
	if !recs.events[42].Done {
		t.Fatal("event not marked done")
	}
	if got := reg.ids(); len(got) != 0 {
		t.Fatalf("triggers left after completion: %v", got)
	}
}

func TestHandleActionCompleteRoutine(t *testing.T) {
	t.Parallel()
	s, reg, _, clk := newTestScheduler(t)
	recs := newFakeRecords()
	r := domain.RecurringRoutine{ID: 6, Title: "Walk", TimeOfDay: "09:00", ReminderEnabled: true, ReminderLeadMinutes: 15}
	recs.routines[6] = r
	rcv := NewReceiver(s, recs, logx.Nop())

	clk.Set(time.Date(2026, 10, 19, 8, 45, 0, 0, time.UTC))
	s.ScheduleForRoutine(context.Background(), r)

	if err := rcv.HandleAction(context.Background(), transport.ActionComplete, rid(t, 6, RoleRoutineReminder)); err != nil {
		t.Fatal(err)
	}
	if recs.routines[6].LastCompleted != "2026-10-19" {
		t.Fatalf("last completed = %q", recs.routines[6].LastCompleted)
	}
	occ, ok := reg.get(rid(t, 6, RoleRoutineOccurrence))
	if !ok || !occ.At.Equal(time.Date(2026, 10, 20, 9, 0, 0, 0, time.UTC)) {
		t.Fatalf("occurrence after completion = %v ok=%v", occ.At, ok)
	}
}

func TestHandleActionSnoozeRoutineKeepsNextOccurrence(t *testing.T) {
	t.Parallel()
	s, reg, _, clk := newTestScheduler(t)
	recs := newFakeRecords()
	r := domain.RecurringRoutine{ID: 6, Title: "Walk", TimeOfDay: "09:00"}
	recs.routines[6] = r
	rcv := NewReceiver(s, recs, logx.Nop())

	clk.Set(time.Date(2026, 10, 19, 9, 0, 0, 0, time.UTC))
	s.ScheduleForRoutine(context.Background(), r) // tomorrow 09:00

	if err := rcv.HandleAction(context.Background(), transport.ActionSnooze, rid(t, 6, RoleRoutineOccurrence)); err != nil {
		t.Fatal(err)
	}
	sn, ok := reg.get(rid(t, 6, RoleRoutineSnooze))
	if !ok || sn.Payload.Title != "Walk (Snoozed)" || !sn.At.Equal(time.Date(2026, 10, 19, 9, 10, 0, 0, time.UTC)) {
		t.Fatalf("snooze = %+v ok=%v", sn, ok)
	}
	if _, ok := reg.get(rid(t, 6, RoleRoutineOccurrence)); !ok {
		t.Fatal("next occurrence lost after snooze")
	}
}

func TestSnoozeRoutineBeforeItFires(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	day := func(d, h, m int) time.Time { return time.Date(2026, 10, d, h, m, 0, 0, time.UTC) }
	r := domain.RecurringRoutine{ID: 3, Title: "Pills", TimeOfDay: "10:00", ReminderEnabled: true, ReminderLeadMinutes: 15}

	t.Run("reminder", func(t *testing.T) {
		t.Parallel()
		s, reg, _, clk := newTestScheduler(t)
		recs := newFakeRecords()
		recs.routines[3] = r
		rcv := NewReceiver(s, recs, logx.Nop())
		clk.Set(day(19, 8, 0))
		s.ScheduleForRoutine(ctx, r)

		if err := rcv.Snooze(ctx, rid(t, 3, RoleRoutineReminder), 10); err != nil {
			t.Fatal(err)
		}
		if got, ok := reg.get(rid(t, 3, RoleRoutineReminder)); ok {
			t.Fatalf("snoozed reminder still pending at %v", got.At)
		}
		if occ, ok := reg.get(rid(t, 3, RoleRoutineOccurrence)); !ok || !occ.At.Equal(day(19, 10, 0)) {
			t.Fatalf("occurrence = %v ok=%v, want today 10:00", occ.At, ok)
		}
		if sn, ok := reg.get(rid(t, 3, RoleRoutineSnooze)); !ok || !sn.At.Equal(day(19, 8, 10)) {
			t.Fatalf("snooze = %v ok=%v", sn.At, ok)
		}
	})

	t.Run("occurrence", func(t *testing.T) {
		t.Parallel()
		s, reg, _, clk := newTestScheduler(t)
		recs := newFakeRecords()
		recs.routines[3] = r
		rcv := NewReceiver(s, recs, logx.Nop())
		clk.Set(day(19, 8, 0))
		s.ScheduleForRoutine(ctx, r)

		if err := rcv.Snooze(ctx, rid(t, 3, RoleRoutineOccurrence), 10); err != nil {
			t.Fatal(err)
		}
		if occ, ok := reg.get(rid(t, 3, RoleRoutineOccurrence)); !ok || !occ.At.Equal(day(20, 10, 0)) {
			t.Fatalf("occurrence = %v ok=%v, want tomorrow 10:00", occ.At, ok)
		}
		if rem, ok := reg.get(rid(t, 3, RoleRoutineReminder)); !ok || !rem.At.Equal(day(20, 9, 45)) {
			t.Fatalf("reminder = %v ok=%v, want tomorrow 09:45", rem.At, ok)
		}
	})
}

func TestSnoozeFiredRoutineReminderKeepsTomorrow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s, reg, _, clk := newTestScheduler(t)
	recs := newFakeRecords()
	r := domain.RecurringRoutine{ID: 8, Title: "Stretch", TimeOfDay: "10:00", ReminderEnabled: true, ReminderLeadMinutes: 15}
	recs.routines[8] = r
	rcv := NewReceiver(s, recs, logx.Nop())

	clk.Set(time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC))
	s.ScheduleForRoutine(ctx, r)
	occ, _ := reg.get(rid(t, 8, RoleRoutineOccurrence))
	clk.Set(occ.At)
	if err := rcv.OnFire(ctx, occ.Trigger); err != nil {
		t.Fatal(err)
	}

	// today's reminder already fired; its id now belongs to tomorrow
	if err := rcv.Snooze(ctx, rid(t, 8, RoleRoutineReminder), 5); err != nil {
		t.Fatal(err)
	}
	tomorrow := time.Date(2026, 10, 20, 10, 0, 0, 0, time.UTC)
	if rem, ok := reg.get(rid(t, 8, RoleRoutineReminder)); !ok || !rem.At.Equal(tomorrow.Add(-15*time.Minute)) {
		t.Fatalf("reminder = %v ok=%v", rem.At, ok)
	}
	if next, ok := reg.get(rid(t, 8, RoleRoutineOccurrence)); !ok || !next.At.Equal(tomorrow) {
		t.Fatalf("occurrence = %v ok=%v", next.At, ok)
	}
}

func TestHandleActionUnknown(t *testing.T) {
	t.Parallel()
	s, _, _, _ := newTestScheduler(t)
	rcv := NewReceiver(s, newFakeRecords(), logx.Nop())
	if err := rcv.HandleAction(context.Background(), "archive", 1); !errors.Is(err, ErrUnknownAction) {
		t.Fatalf("err = %v", err)
	}
}
