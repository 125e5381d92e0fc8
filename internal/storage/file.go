package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"daybook/internal/domain"
	logx "daybook/pkg/logx"
)

const defaultFilePath = "./daybook.json"

// fileStore keeps everything in memory and rewrites one JSON document
// (<path>) through <path>.tmp + rename after every change.
type fileStore struct {
	log  logx.Logger
	path string

	mu        sync.Mutex
	schedules map[int64]domain.TimedEvent
	routines  map[int64]domain.RecurringRoutine
	alarms    map[int32]Alarm
	closed    bool
}

type fileDoc struct {
	Schedules []domain.TimedEvent       `json:"schedules"`
	Routines  []domain.RecurringRoutine `json:"routines"`
	Alarms    []Alarm                   `json:"alarms"`
}

func openFile(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.FilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	s := &fileStore{
		log:       log,
		path:      path,
		schedules: map[int64]domain.TimedEvent{},
		routines:  map[int64]domain.RecurringRoutine{},
		alarms:    map[int32]Alarm{},
	}
	if err := s.load(); err != nil {
		return nil, err
	}
	log.Debug("file store opened", logx.String("path", path),
		logx.Int("schedules", len(s.schedules)), logx.Int("routines", len(s.routines)), logx.Int("alarms", len(s.alarms)))
	return s, nil
}

func (s *fileStore) load() error {
	f, err := os.Open(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()
	var doc fileDoc
	if err := json.NewDecoder(f).Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("load %s: %w", s.path, err)
	}
	for _, e := range doc.Schedules {
		s.schedules[e.ID] = e
	}
	for _, r := range doc.Routines {
		s.routines[r.ID] = r
	}
	for _, a := range doc.Alarms {
		s.alarms[a.RequestID] = a
	}
	return nil
}

// persistLocked writes the whole document atomically.
func (s *fileStore) persistLocked() error {
	doc := fileDoc{
		Schedules: sortedSchedules(s.schedules),
		Routines:  sortedRoutines(s.routines),
		Alarms:    sortedAlarms(s.alarms),
	}
	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	if err := enc.Encode(doc); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}

// commitLocked persists and runs undo when the write failed, keeping memory
// and disk in step.
func (s *fileStore) commitLocked(undo func()) error {
	if s.closed {
		undo()
		return errors.New("file store closed")
	}
	if err := s.persistLocked(); err != nil {
		undo()
		s.log.Warn("file store write failed", logx.String("path", s.path), logx.Err(err))
		return err
	}
	return nil
}

func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func nextFreeID[V any](m map[int64]V) (int64, error) {
	var hi int64
	for id := range m {
		if id > hi {
			hi = id
		}
	}
	if hi+1 > domain.MaxRecordID {
		return 0, ErrIDSpaceExhausted
	}
	return hi + 1, nil
}

// ---- schedules ----

func (s *fileStore) PutSchedule(_ context.Context, e domain.TimedEvent) (domain.TimedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == 0 {
		id, err := nextFreeID(s.schedules)
		if err != nil {
			return domain.TimedEvent{}, err
		}
		e.ID = id
	}
	if err := e.Validate(); err != nil {
		return domain.TimedEvent{}, err
	}
	prev, had := s.schedules[e.ID]
	s.schedules[e.ID] = e
	err := s.commitLocked(func() {
		if had {
			s.schedules[e.ID] = prev
		} else {
			delete(s.schedules, e.ID)
		}
	})
	if err != nil {
		return domain.TimedEvent{}, err
	}
	return e, nil
}

func (s *fileStore) GetSchedule(_ context.Context, id int64) (domain.TimedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.schedules[id]
	if !ok {
		return domain.TimedEvent{}, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return e, nil
}

func (s *fileStore) ListSchedules(context.Context) ([]domain.TimedEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedSchedules(s.schedules), nil
}

func (s *fileStore) DeleteSchedule(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	delete(s.schedules, id)
	return s.commitLocked(func() { s.schedules[id] = prev })
}

func (s *fileStore) MarkScheduleDone(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.schedules[id]
	if !ok {
		return fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	next := prev
	next.Done = true
	s.schedules[id] = next
	return s.commitLocked(func() { s.schedules[id] = prev })
}

// ---- routines ----

func (s *fileStore) PutRoutine(_ context.Context, r domain.RecurringRoutine) (domain.RecurringRoutine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r.ID == 0 {
		id, err := nextFreeID(s.routines)
		if err != nil {
			return domain.RecurringRoutine{}, err
		}
		r.ID = id
	}
	if err := r.Validate(); err != nil {
		return domain.RecurringRoutine{}, err
	}
	prev, had := s.routines[r.ID]
	s.routines[r.ID] = r
	err := s.commitLocked(func() {
		if had {
			s.routines[r.ID] = prev
		} else {
			delete(s.routines, r.ID)
		}
	})
	if err != nil {
		return domain.RecurringRoutine{}, err
	}
	return r, nil
}

func (s *fileStore) GetRoutine(_ context.Context, id int64) (domain.RecurringRoutine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.routines[id]
	if !ok {
		return domain.RecurringRoutine{}, fmt.Errorf("routine %d: %w", id, ErrNotFound)
	}
	return r, nil
}

func (s *fileStore) ListRoutines(context.Context) ([]domain.RecurringRoutine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedRoutines(s.routines), nil
}

func (s *fileStore) DeleteRoutine(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.routines[id]
	if !ok {
		return fmt.Errorf("routine %d: %w", id, ErrNotFound)
	}
	delete(s.routines, id)
	return s.commitLocked(func() { s.routines[id] = prev })
}

func (s *fileStore) MarkRoutineComplete(_ context.Context, id int64, day string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.routines[id]
	if !ok {
		return fmt.Errorf("routine %d: %w", id, ErrNotFound)
	}
	next := prev
	next.LastCompleted = day
	s.routines[id] = next
	return s.commitLocked(func() { s.routines[id] = prev })
}

// ---- alarms ----

func (s *fileStore) PutAlarm(_ context.Context, a Alarm) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, had := s.alarms[a.RequestID]
	s.alarms[a.RequestID] = a
	return s.commitLocked(func() {
		if had {
			s.alarms[a.RequestID] = prev
		} else {
			delete(s.alarms, a.RequestID)
		}
	})
}

func (s *fileStore) DeleteAlarm(_ context.Context, requestID int32) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.alarms[requestID]
	if !ok {
		return nil
	}
	delete(s.alarms, requestID)
	return s.commitLocked(func() { s.alarms[requestID] = prev })
}

func (s *fileStore) GetAlarm(_ context.Context, requestID int32) (Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alarms[requestID]
	if !ok {
		return Alarm{}, fmt.Errorf("alarm %d: %w", requestID, ErrNotFound)
	}
	return a, nil
}

func (s *fileStore) ListAlarms(context.Context) ([]Alarm, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedAlarms(s.alarms), nil
}

func (s *fileStore) Export(ctx context.Context, w io.Writer) error {
	return exportRecords(ctx, s, w)
}

func (s *fileStore) Import(ctx context.Context, r io.Reader) (ImportStats, error) {
	return importRecords(ctx, s, r)
}

func sortedSchedules(m map[int64]domain.TimedEvent) []domain.TimedEvent {
	out := make([]domain.TimedEvent, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedRoutines(m map[int64]domain.RecurringRoutine) []domain.RecurringRoutine {
	out := make([]domain.RecurringRoutine, 0, len(m))
	for _, r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func sortedAlarms(m map[int32]Alarm) []Alarm {
	out := make([]Alarm, 0, len(m))
	for _, a := range m {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].At.Equal(out[j].At) {
			return out[i].At.Before(out[j].At)
		}
		return out[i].RequestID < out[j].RequestID
	})
	return out
}
