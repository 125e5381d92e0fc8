// Package alarm is the local alarm facility behind reminder.TriggerRegistry:
// a persisted table of pending one-shot alarms plus the daemon-side
// dispatcher that fires them.
package alarm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"daybook/internal/eventbus"
	"daybook/internal/reminder"
	"daybook/internal/storage"
	logx "daybook/pkg/logx"
)

// Store is the alarm slice of storage.Store.
type Store interface {
	PutAlarm(ctx context.Context, a storage.Alarm) error
	DeleteAlarm(ctx context.Context, requestID int32) error
	GetAlarm(ctx context.Context, requestID int32) (storage.Alarm, error)
	ListAlarms(ctx context.Context) ([]storage.Alarm, error)
}

// Entry is a pending alarm.
type Entry struct {
	reminder.Trigger
	Exact bool
}

// Table implements reminder.TriggerRegistry over Store.
type Table struct {
	store Store
	bus   eventbus.Bus
	log   logx.Logger
	exact atomic.Bool

	mu       sync.Mutex
	onChange func()
}

func NewTable(store Store, bus eventbus.Bus, log logx.Logger, exact bool) *Table {
	if bus == nil {
		bus = eventbus.Nop{}
	}
	t := &Table{store: store, bus: bus, log: log.With(logx.String("comp", "alarm.table"))}
	t.exact.Store(exact)
	return t
}

// SetExact toggles exact-alarm capability (config alarm.exact).
func (t *Table) SetExact(v bool) { t.exact.Store(v) }

// OnChange installs a hook called after every register/cancel.
func (t *Table) OnChange(fn func()) {
	t.mu.Lock()
	t.onChange = fn
	t.mu.Unlock()
}

func (t *Table) changed() {
	t.mu.Lock()
	fn := t.onChange
	t.mu.Unlock()
	if fn != nil {
		fn()
	}
}

func (t *Table) CanRegisterExact() bool { return t.exact.Load() }

func (t *Table) RegisterExact(ctx context.Context, tr reminder.Trigger) error {
	return t.put(ctx, tr, true)
}

func (t *Table) RegisterApprox(ctx context.Context, tr reminder.Trigger) error {
	return t.put(ctx, tr, false)
}

func (t *Table) put(ctx context.Context, tr reminder.Trigger, exact bool) error {
	if err := t.store.PutAlarm(ctx, toRow(tr, exact)); err != nil {
		return err
	}
	t.bus.Publish(eventbus.Event{Type: eventbus.AlarmRegistered, Data: eventbus.AlarmEvent{
		RequestID: tr.RequestID, Role: tr.Payload.Role.String(), At: tr.At, Exact: exact,
	}})
	t.changed()
	return nil
}

// Cancel removes a pending alarm; a missing one is not an error.
func (t *Table) Cancel(ctx context.Context, requestID int32) error {
	if err := t.store.DeleteAlarm(ctx, requestID); err != nil && !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	t.bus.Publish(eventbus.Event{Type: eventbus.AlarmCancelled, Data: eventbus.AlarmEvent{RequestID: requestID}})
	t.changed()
	return nil
}

// Get returns the pending alarm for requestID.
func (t *Table) Get(ctx context.Context, requestID int32) (Entry, error) {
	row, err := t.store.GetAlarm(ctx, requestID)
	if err != nil {
		return Entry{}, err
	}
	return fromRow(row)
}

// Pending lists pending alarms ordered by instant. Rows that no longer decode
// are logged and skipped.
func (t *Table) Pending(ctx context.Context) ([]Entry, error) {
	rows, err := t.store.ListAlarms(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		e, err := fromRow(row)
		if err != nil {
			t.log.Warn("skipping unreadable alarm", logx.Int32("request_id", row.RequestID), logx.Err(err))
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// errReplaced reports that the row changed since it was read for firing.
var errReplaced = errors.New("alarm replaced since read")

// take deletes the alarm row ahead of firing so a crash never fires twice.
// The row must still be the one e was read from; a row re-registered by
// another process in between is left alone.
func (t *Table) take(ctx context.Context, e Entry) error {
	cur, err := t.Get(ctx, e.RequestID)
	if err != nil {
		return err
	}
	if !cur.At.Equal(e.At) || cur.Payload != e.Payload {
		return errReplaced
	}
	return t.store.DeleteAlarm(ctx, e.RequestID)
}

func toRow(tr reminder.Trigger, exact bool) storage.Alarm {
	return storage.Alarm{
		RequestID: tr.RequestID,
		At:        tr.At,
		Exact:     exact,
		RecordID:  tr.Payload.RecordID,
		Role:      tr.Payload.Role.String(),
		Title:     tr.Payload.Title,
		Body:      tr.Payload.Body,
	}
}

func fromRow(row storage.Alarm) (Entry, error) {
	role, err := reminder.ParseRole(row.Role)
	if err != nil {
		return Entry{}, fmt.Errorf("alarm %d: %w", row.RequestID, err)
	}
	return Entry{
		Trigger: reminder.Trigger{
			RequestID: row.RequestID,
			At:        row.At,
			Payload:   reminder.Payload{RecordID: row.RecordID, Role: role, Title: row.Title, Body: row.Body},
		},
		Exact: row.Exact,
	}, nil
}

// String renders an entry for CLI listings.
func (e Entry) String() string {
	kind := "approx"
	if e.Exact {
		kind = "exact"
	}
	return fmt.Sprintf("%-10d %-25s %-19s %-6s %s", e.RequestID, e.At.Format(time.RFC3339), e.Payload.Role, kind, e.Payload.Title)
}
