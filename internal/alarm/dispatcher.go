package alarm

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"daybook/internal/clock"
	"daybook/internal/eventbus"
	"daybook/internal/reminder"
	"daybook/internal/storage"
	logx "daybook/pkg/logx"
)

const DefaultSyncInterval = 30 * time.Second

// FireFunc receives a fired alarm (reminder.Receiver.OnFire).
type FireFunc func(ctx context.Context, t reminder.Trigger) error

// Dispatcher fires pending alarms. A cron job re-syncs with the table every
// interval; exact alarms additionally get their own timer. Approximate alarms
// fire on the first sync at or after their instant.
type Dispatcher struct {
	table *Table
	fire  FireFunc
	clock clock.Clock
	bus   eventbus.Bus
	log   logx.Logger

	mu       sync.Mutex
	interval time.Duration
	c        *cron.Cron
	entry    cron.EntryID
	ctx      context.Context

	tmu    sync.Mutex
	timers map[int32]*armed
	seq    uint64
	firing map[int32]bool

	kick chan struct{}
}

type armed struct {
	timer *time.Timer
	at    time.Time
	ver   uint64
}

func NewDispatcher(table *Table, fire FireFunc, clk clock.Clock, bus eventbus.Bus, log logx.Logger, interval time.Duration) *Dispatcher {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	return &Dispatcher{
		table:    table,
		fire:     fire,
		clock:    clk,
		bus:      bus,
		log:      log.With(logx.String("comp", "alarm.dispatcher")),
		interval: interval,
		timers:   map[int32]*armed{},
		firing:   map[int32]bool{},
		kick:     make(chan struct{}, 1),
	}
}

// Kick requests a sync soon (coalesced).
func (d *Dispatcher) Kick() {
	select {
	case d.kick <- struct{}{}:
	default:
	}
}

// Run syncs immediately, starts the cron job and blocks until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.c != nil {
		d.mu.Unlock()
		return errors.New("dispatcher already running")
	}
	d.ctx = ctx
	d.c = cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if err := d.scheduleLocked(); err != nil {
		d.c = nil
		d.mu.Unlock()
		return err
	}
	d.c.Start()
	interval := d.interval
	d.mu.Unlock()
	d.log.Info("dispatcher started", logx.Duration("sync_interval", interval))

	d.sync(ctx)
	for {
		select {
		case <-ctx.Done():
			d.stop()
			return nil
		case <-d.kick:
			d.sync(ctx)
		}
	}
}

func (d *Dispatcher) scheduleLocked() error {
	if d.entry != 0 {
		d.c.Remove(d.entry)
		d.entry = 0
	}
	id, err := d.c.AddFunc("@every "+d.interval.String(), func() { d.sync(d.ctx) })
	if err != nil {
		return err
	}
	d.entry = id
	return nil
}

// SetInterval changes the sync interval, live when running.
func (d *Dispatcher) SetInterval(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSyncInterval
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if interval == d.interval {
		return
	}
	d.interval = interval
	if d.c == nil {
		return
	}
	if err := d.scheduleLocked(); err != nil {
		d.log.Warn("sync interval update failed", logx.Duration("interval", interval), logx.Err(err))
		return
	}
	d.log.Info("sync interval updated", logx.Duration("interval", interval))
}

func (d *Dispatcher) stop() {
	d.mu.Lock()
	c := d.c
	d.c = nil
	d.entry = 0
	d.mu.Unlock()
	if c != nil {
		<-c.Stop().Done()
	}

	d.tmu.Lock()
	for id, a := range d.timers {
		a.timer.Stop()
		delete(d.timers, id)
	}
	d.tmu.Unlock()
	d.log.Info("dispatcher stopped")
}

// sync reconciles timers with the table and fires everything that is due.
func (d *Dispatcher) sync(ctx context.Context) {
	if ctx == nil || ctx.Err() != nil {
		return
	}
	entries, err := d.table.Pending(ctx)
	if err != nil {
		d.log.Warn("alarm sync failed", logx.Err(err))
		return
	}
	now := d.clock.Now()
	seen := make(map[int32]bool, len(entries))
	var due []Entry
	for _, e := range entries {
		seen[e.RequestID] = true
		switch {
		case !e.At.After(now):
			due = append(due, e)
		case e.Exact:
			d.arm(ctx, e, now)
		}
	}

	d.tmu.Lock()
	for id, a := range d.timers {
		if !seen[id] {
			a.timer.Stop()
			delete(d.timers, id)
		}
	}
	d.tmu.Unlock()

	for _, e := range due {
		d.fireEntry(ctx, e)
	}
}

// arm (re)starts the timer for an exact alarm. Every timer gets a fresh
// sequence number so a replaced timer that already fired is ignored.
func (d *Dispatcher) arm(ctx context.Context, e Entry, now time.Time) {
	d.tmu.Lock()
	defer d.tmu.Unlock()
	if a, ok := d.timers[e.RequestID]; ok {
		if a.at.Equal(e.At) {
			return
		}
		a.timer.Stop()
	}
	d.seq++
	ver := d.seq
	id := e.RequestID
	d.timers[id] = &armed{
		at:  e.At,
		ver: ver,
		timer: time.AfterFunc(e.At.Sub(now), func() {
			d.tmu.Lock()
			cur, ok := d.timers[id]
			if !ok || cur.ver != ver {
				d.tmu.Unlock()
				return
			}
			delete(d.timers, id)
			d.tmu.Unlock()
			d.fireByID(ctx, id)
		}),
	}
}

// fireByID re-reads the row so alarms replaced by another process since
// arming are honored.
func (d *Dispatcher) fireByID(ctx context.Context, id int32) {
	if ctx.Err() != nil {
		return
	}
	e, err := d.table.Get(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return
	}
	if err != nil {
		d.log.Warn("load alarm failed", logx.Int32("request_id", id), logx.Err(err))
		return
	}
	if now := d.clock.Now(); e.At.After(now) {
		if e.Exact {
			d.arm(ctx, e, now)
		}
		return
	}
	d.fireEntry(ctx, e)
}

func (d *Dispatcher) fireEntry(ctx context.Context, e Entry) {
	d.tmu.Lock()
	if d.firing[e.RequestID] {
		d.tmu.Unlock()
		return
	}
	d.firing[e.RequestID] = true
	if a, ok := d.timers[e.RequestID]; ok {
		a.timer.Stop()
		delete(d.timers, e.RequestID)
	}
	d.tmu.Unlock()
	defer func() {
		d.tmu.Lock()
		delete(d.firing, e.RequestID)
		d.tmu.Unlock()
	}()

	switch err := d.table.take(ctx, e); {
	case errors.Is(err, storage.ErrNotFound):
		d.log.Debug("alarm cancelled before firing", logx.Int32("request_id", e.RequestID))
		return
	case errors.Is(err, errReplaced):
		d.log.Debug("alarm replaced before firing; resyncing", logx.Int32("request_id", e.RequestID))
		d.Kick()
		return
	case err != nil:
		d.log.Warn("alarm delete failed; not firing", logx.Int32("request_id", e.RequestID), logx.Err(err))
		return
	}
	late := d.clock.Now().Sub(e.At)
	d.bus.Publish(eventbus.Event{Type: eventbus.AlarmFired, Data: eventbus.AlarmEvent{
		RequestID: e.RequestID, Role: e.Payload.Role.String(), At: e.At, Exact: e.Exact,
	}})
	d.log.Debug("alarm fired",
		logx.Int32("request_id", e.RequestID),
		logx.String("role", e.Payload.Role.String()),
		logx.Duration("late", late),
	)
	if d.fire == nil {
		return
	}
	if err := d.fire(ctx, e.Trigger); err != nil {
		d.log.Warn("alarm receiver failed", logx.Int32("request_id", e.RequestID), logx.Err(err))
	}
}
