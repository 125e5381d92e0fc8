package notifier

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"daybook/internal/eventbus"
	rtsup "daybook/internal/runtime/supervisor"
	"daybook/internal/transport"
	logx "daybook/pkg/logx"
)

var (
	ErrDisabled        = errors.New("notifier disabled")
	ErrQueueFull       = errors.New("notifier queue full")
	ErrStopped         = errors.New("notifier stopped")
	ErrUnknownCategory = errors.New("unknown notification category")
	ErrNoSinks         = errors.New("no notification sinks")
)

type job struct {
	n    transport.Notification
	sink transport.Sink
	key  string
}

// Service is safe for concurrent use.
type Service struct {
	mu sync.Mutex

	log   logx.Logger
	bus   eventbus.Bus
	sinks []transport.Sink

	cfg     Config
	limiter *rate.Limiter

	categories map[string]transport.Category

	accepting bool
	sendWG    sync.WaitGroup
	queue     chan job
	sup       *rtsup.Supervisor

	dmu   sync.Mutex
	dedup map[string]time.Time

	hmu     sync.Mutex
	history []HistoryItem
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, sinks ...transport.Sink) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop{}
	}
	s := &Service{
		log:        log.With(logx.String("comp", "notifier")),
		bus:        bus,
		sinks:      sinks,
		categories: map[string]transport.Category{},
		dedup:      map[string]time.Time{},
	}
	s.applyLocked(cfg)
	return s
}

// AddSink registers another destination; it applies to notifications
// presented afterwards.
func (s *Service) AddSink(sink transport.Sink) {
	if sink == nil {
		return
	}
	s.mu.Lock()
	s.sinks = append(s.sinks, sink)
	s.mu.Unlock()
}

func (s *Service) Enabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.Enabled
}

// Apply swaps pipeline settings. Worker count and queue size take effect on
// the next Start.
func (s *Service) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Service) applyLocked(cfg Config) {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 3
	}
	if cfg.RetryMax < 0 {
		cfg.RetryMax = 0
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 500 * time.Millisecond
	}
	if cfg.RetryMaxDelay <= 0 {
		cfg.RetryMaxDelay = 10 * time.Second
	}
	if cfg.DedupWindow < 0 {
		cfg.DedupWindow = 0
	}
	if cfg.DedupMaxEntries <= 0 {
		cfg.DedupMaxEntries = 2000
	}
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = 200
	}
	s.cfg = cfg
	// Burst = rate so short spikes are not throttled.
	s.limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.RatePerSec)
}

// EnsureCategory registers c. Registering the same id again updates it.
func (s *Service) EnsureCategory(_ context.Context, c transport.Category) error {
	if strings.TrimSpace(c.ID) == "" {
		return errors.New("category id is required")
	}
	s.mu.Lock()
	_, existed := s.categories[c.ID]
	s.categories[c.ID] = c
	s.mu.Unlock()
	if !existed {
		s.log.Debug("notification category registered", logx.String("category", c.ID), logx.String("name", c.Name))
	}
	return nil
}

// Categories returns registered categories sorted by id.
func (s *Service) Categories() []transport.Category {
	s.mu.Lock()
	out := make([]transport.Category, 0, len(s.categories))
	for _, c := range s.categories {
		out = append(out, c)
	}
	s.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Start launches the worker pool. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if s.queue != nil || !s.cfg.Enabled {
		s.mu.Unlock()
		return
	}
	s.queue = make(chan job, s.cfg.QueueSize)
	s.accepting = true
	s.sup = rtsup.New(ctx, rtsup.WithLogger(s.log))
	sup, q, workers := s.sup, s.queue, s.cfg.Workers
	s.mu.Unlock()

	for i := 0; i < workers; i++ {
		sup.GoRestart(fmt.Sprintf("notifier.worker.%d", i), func(c context.Context) error {
			s.workerLoop(c, q)
			return nil
		})
	}
	s.log.Info("notifier started", logx.Int("workers", workers))
}

// Stop closes intake and lets workers drain the queue until ctx is done.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	q, sup := s.queue, s.sup
	if q == nil {
		s.mu.Unlock()
		return
	}
	s.accepting = false
	s.queue = nil
	s.sup = nil
	s.mu.Unlock()

	// In-flight Present calls hold sendWG; close only after they are done.
	s.sendWG.Wait()
	close(q)
	if err := sup.Wait(ctx); err != nil {
		sup.Cancel()
		s.log.Warn("notifier stop: queue not drained", logx.Err(err))
		return
	}
	s.log.Info("notifier stopped")
}

// Present enqueues n for every sink. Duplicates within the dedup window are
// dropped silently.
func (s *Service) Present(ctx context.Context, n transport.Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if !s.cfg.Enabled {
		s.mu.Unlock()
		return ErrDisabled
	}
	if _, ok := s.categories[n.Category]; !ok {
		s.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrUnknownCategory, n.Category)
	}
	if !s.accepting || s.queue == nil {
		s.mu.Unlock()
		return ErrStopped
	}
	if len(s.sinks) == 0 {
		s.mu.Unlock()
		return ErrNoSinks
	}
	q := s.queue
	sinks := append([]transport.Sink(nil), s.sinks...)
	window, maxEntries := s.cfg.DedupWindow, s.cfg.DedupMaxEntries
	s.sendWG.Add(1)
	s.mu.Unlock()
	defer s.sendWG.Done()

	key := dedupKey(n)
	now := time.Now()
	if window > 0 && !s.dedupAllow(key, now, window, maxEntries) {
		s.bus.Publish(eventbus.Event{Type: eventbus.NotifyDeduped, Time: now, Data: NotificationEvent{ID: n.ID, Key: key, At: now}})
		return nil
	}

	var dropped int
	for _, sink := range sinks {
		select {
		case q <- job{n: n, sink: sink, key: key}:
			s.bus.Publish(eventbus.Event{Type: eventbus.NotifyQueued, Time: now, Data: NotificationEvent{ID: n.ID, Sink: sink.Name(), Key: key, At: now}})
		default:
			dropped++
			s.bus.Publish(eventbus.Event{Type: eventbus.NotifyDropped, Time: now, Data: NotificationEvent{ID: n.ID, Sink: sink.Name(), Key: key, At: now, Error: ErrQueueFull.Error()}})
		}
	}
	if dropped > 0 {
		return ErrQueueFull
	}
	return nil
}

// Snapshot returns the delivery history, oldest first.
func (s *Service) Snapshot() []HistoryItem {
	s.hmu.Lock()
	defer s.hmu.Unlock()
	return append([]HistoryItem(nil), s.history...)
}

func (s *Service) appendHistory(it HistoryItem, max int) {
	s.hmu.Lock()
	s.history = append(s.history, it)
	if len(s.history) > max {
		s.history = s.history[len(s.history)-max:]
	}
	s.hmu.Unlock()
}

func (s *Service) workerLoop(ctx context.Context, q <-chan job) {
	for {
		select {
		case <-ctx.Done():
			return
		case j, ok := <-q:
			if !ok {
				return
			}
			s.deliver(ctx, j)
		}
	}
}

func (s *Service) deliver(ctx context.Context, j job) {
	s.mu.Lock()
	cfg, lim := s.cfg, s.limiter
	s.mu.Unlock()

	attempts := 1 + cfg.RetryMax
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := lim.Wait(ctx); err != nil {
			return
		}
		callCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err := j.sink.Deliver(callCtx, j.n)
		cancel()
		if err == nil {
			now := time.Now()
			s.appendHistory(HistoryItem{At: now, ID: j.n.ID, Category: j.n.Category, Title: j.n.Title, Sink: j.sink.Name()}, cfg.HistorySize)
			s.bus.Publish(eventbus.Event{Type: eventbus.NotifySent, Time: now, Data: NotificationEvent{ID: j.n.ID, Sink: j.sink.Name(), Key: j.key, At: now}})
			return
		}
		lastErr = err
		s.log.Debug("notification delivery failed", logx.String("sink", j.sink.Name()), logx.Int32("id", j.n.ID),
			logx.Int("attempt", attempt), logx.Int("max", attempts), logx.Err(err))
		if attempt == attempts {
			break
		}
		t := time.NewTimer(retryDelay(cfg, attempt))
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return
		}
	}

	now := time.Now()
	s.appendHistory(HistoryItem{At: now, ID: j.n.ID, Category: j.n.Category, Title: j.n.Title, Sink: j.sink.Name(), Err: lastErr.Error()}, cfg.HistorySize)
	s.bus.Publish(eventbus.Event{Type: eventbus.NotifyFailed, Time: now, Data: NotificationEvent{ID: j.n.ID, Sink: j.sink.Name(), Key: j.key, At: now, Error: lastErr.Error()}})
	s.log.Warn("notification dropped after retries", logx.String("sink", j.sink.Name()), logx.Int32("id", j.n.ID), logx.Err(lastErr))
}

func dedupKey(n transport.Notification) string {
	h := fnv.New64a()
	_, _ = fmt.Fprintf(h, "%d|%s|%s|%s", n.ID, n.Category, n.Title, n.Body)
	return fmt.Sprintf("%x", h.Sum64())
}

// dedupAllow reports whether key may be delivered now and, if so, opens a
// new suppression window for it.
func (s *Service) dedupAllow(key string, now time.Time, window time.Duration, maxEntries int) bool {
	s.dmu.Lock()
	defer s.dmu.Unlock()
	if until, ok := s.dedup[key]; ok && now.Before(until) {
		return false
	}
	s.dedup[key] = now.Add(window)
	for k, until := range s.dedup {
		if !now.Before(until) {
			delete(s.dedup, k)
		}
	}
	// Over the cap: evict earliest expiries first.
	for len(s.dedup) > maxEntries {
		var (
			oldest  string
			oldestT time.Time
		)
		for k, t := range s.dedup {
			if oldest == "" || t.Before(oldestT) {
				oldest, oldestT = k, t
			}
		}
		delete(s.dedup, oldest)
	}
	return true
}

// retryDelay is the wait before attempt+1: base*2^(attempt-1) capped at
// RetryMaxDelay, with 0.7..1.3 jitter.
func retryDelay(cfg Config, attempt int) time.Duration {
	d := cfg.RetryBase
	for i := 1; i < attempt && d < cfg.RetryMaxDelay; i++ {
		d *= 2
	}
	d = min(d, cfg.RetryMaxDelay)
	d = time.Duration(float64(d) * (0.7 + rand.Float64()*0.6))
	return min(max(d, 0), cfg.RetryMaxDelay)
}
