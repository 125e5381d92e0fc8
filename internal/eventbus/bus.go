// Package eventbus is an in-memory, non-blocking fanout of daemon events
// (alarm lifecycle, notifier delivery). It owns no goroutines.
package eventbus

import (
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Event types.
const (
	AlarmRegistered = "alarm.registered"
	AlarmCancelled  = "alarm.cancelled"
	AlarmFired      = "alarm.fired"

	NotifyQueued  = "notifier.queued"
	NotifyDeduped = "notifier.deduped"
	NotifyDropped = "notifier.dropped"
	NotifySent    = "notifier.sent"
	NotifyFailed  = "notifier.failed"

	ActionHandled = "action.handled"
)

// Event is a small signal. Publish never blocks; a slow subscriber loses events.
type Event struct {
	Type string
	Time time.Time
	Data any
}

type Bus interface {
	Publish(e Event)
	// Subscribe returns events whose type starts with one of prefixes (all
	// events when none are given).
	Subscribe(buffer int, prefixes ...string) (ch <-chan Event, unsubscribe func())
}

// AlarmEvent is the Data of alarm.* events.
type AlarmEvent struct {
	RequestID int32
	Role      string
	At        time.Time
	Exact     bool
}

// ActionEvent is the Data of action.handled events.
type ActionEvent struct {
	Action    string
	RequestID int32
	Err       string
}

func New() Bus {
	return &memBus{subs: map[uint64]*sub{}}
}

type sub struct {
	ch       chan Event
	prefixes []string
}

func (s *sub) wants(typ string) bool {
	if len(s.prefixes) == 0 {
		return true
	}
	for _, p := range s.prefixes {
		if strings.HasPrefix(typ, p) {
			return true
		}
	}
	return false
}

type memBus struct {
	mu   sync.RWMutex
	subs map[uint64]*sub
	seq  atomic.Uint64
}

func (b *memBus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	b.mu.RLock()
	targets := make([]chan Event, 0, len(b.subs))
	for _, s := range b.subs {
		if s.wants(e.Type) {
			targets = append(targets, s.ch)
		}
	}
	b.mu.RUnlock()

	for _, ch := range targets {
		// The channel may be closed by a concurrent unsubscribe.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *memBus) Subscribe(buffer int, prefixes ...string) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	s := &sub{ch: make(chan Event, buffer), prefixes: append([]string(nil), prefixes...)}
	id := b.seq.Add(1)

	b.mu.Lock()
	b.subs[id] = s
	b.mu.Unlock()

	var once sync.Once
	return s.ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(s.ch)
		})
	}
}

// Nop discards everything.
type Nop struct{}

func (Nop) Publish(Event) {}

func (Nop) Subscribe(int, ...string) (<-chan Event, func()) {
	ch := make(chan Event)
	close(ch)
	return ch, func() {}
}
