package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"daybook/internal/domain"
)

// Snapshot is the export/import document.
type Snapshot struct {
	Schedules []domain.TimedEvent       `json:"schedules"`
	Routines  []domain.RecurringRoutine `json:"routines"`
}

type ImportStats struct {
	Schedules int `json:"schedules"`
	Routines  int `json:"routines"`
}

func exportRecords(ctx context.Context, st Store, w io.Writer) error {
	var (
		snap Snapshot
		err  error
	)
	if snap.Schedules, err = st.ListSchedules(ctx); err != nil {
		return err
	}
	if snap.Routines, err = st.ListRoutines(ctx); err != nil {
		return err
	}
	if snap.Schedules == nil {
		snap.Schedules = []domain.TimedEvent{}
	}
	if snap.Routines == nil {
		snap.Routines = []domain.RecurringRoutine{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(snap)
}

// decodeSnapshot reads and validates an export document. Unknown fields and
// trailing data are rejected.
func decodeSnapshot(r io.Reader) (Snapshot, error) {
	var snap Snapshot
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	var extra json.RawMessage
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Snapshot{}, errors.New("decode snapshot: trailing data")
	}
	for i, e := range snap.Schedules {
		if err := e.Validate(); err != nil {
			return Snapshot{}, fmt.Errorf("schedule #%d (id %d): %w", i, e.ID, err)
		}
	}
	for i, r := range snap.Routines {
		if err := r.Validate(); err != nil {
			return Snapshot{}, fmt.Errorf("routine #%d (id %d): %w", i, r.ID, err)
		}
	}
	return snap, nil
}

func importRecords(ctx context.Context, st Store, r io.Reader) (ImportStats, error) {
	snap, err := decodeSnapshot(r)
	if err != nil {
		return ImportStats{}, err
	}
	var stats ImportStats
	for _, e := range snap.Schedules {
		if _, err := st.PutSchedule(ctx, e); err != nil {
			return stats, err
		}
		stats.Schedules++
	}
	for _, rt := range snap.Routines {
		if _, err := st.PutRoutine(ctx, rt); err != nil {
			return stats, err
		}
		stats.Routines++
	}
	return stats, nil
}
