package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"daybook/internal/domain"
)

var (
	ErrNotFound = domain.ErrNotFound
	// ErrIDSpaceExhausted is returned when no record id <= domain.MaxRecordID is left.
	ErrIDSpaceExhausted = errors.New("record id space exhausted")
)

// Config configures storage.
//
// Driver values:
//   - "file": JSON snapshot file (default)
//   - "sqlite" / "sqlite3": SQLite database file
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// FilePath is the file the configured driver writes, defaults applied.
func (c Config) FilePath() string {
	if p := strings.TrimSpace(c.Path); p != "" {
		return p
	}
	switch strings.ToLower(strings.TrimSpace(c.Driver)) {
	case "sqlite", "sqlite3":
		return defaultSQLitePath
	default:
		return defaultFilePath
	}
}

// Alarm is one pending row of the alarm table.
type Alarm struct {
	RequestID int32     `json:"request_id"`
	At        time.Time `json:"at"`
	Exact     bool      `json:"exact"`
	RecordID  int64     `json:"record_id"`
	Role      string    `json:"role"`
	Title     string    `json:"title"`
	Body      string    `json:"body,omitempty"`
}

// Store is the persistence API used by the app, the reminder receiver and the alarm table.
//
// Put* with a zero ID assigns the next free id; a non-zero ID upserts.
type Store interface {
	PutSchedule(ctx context.Context, e domain.TimedEvent) (domain.TimedEvent, error)
	GetSchedule(ctx context.Context, id int64) (domain.TimedEvent, error)
	ListSchedules(ctx context.Context) ([]domain.TimedEvent, error)
	DeleteSchedule(ctx context.Context, id int64) error
	MarkScheduleDone(ctx context.Context, id int64) error

	PutRoutine(ctx context.Context, r domain.RecurringRoutine) (domain.RecurringRoutine, error)
	GetRoutine(ctx context.Context, id int64) (domain.RecurringRoutine, error)
	ListRoutines(ctx context.Context) ([]domain.RecurringRoutine, error)
	DeleteRoutine(ctx context.Context, id int64) error
	MarkRoutineComplete(ctx context.Context, id int64, day string) error

	// PutAlarm upserts by request id. DeleteAlarm of a missing row succeeds.
	PutAlarm(ctx context.Context, a Alarm) error
	DeleteAlarm(ctx context.Context, requestID int32) error
	GetAlarm(ctx context.Context, requestID int32) (Alarm, error)
	// ListAlarms returns pending alarms ordered by instant.
	ListAlarms(ctx context.Context) ([]Alarm, error)

	Export(ctx context.Context, w io.Writer) error
	Import(ctx context.Context, r io.Reader) (ImportStats, error)

	Close() error
}
