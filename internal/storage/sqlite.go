package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"daybook/internal/domain"
	logx "daybook/pkg/logx"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

const defaultSQLitePath = "./daybook.db"

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := cfg.FilePath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	st := &sqliteStore{db: db, log: log}

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// nextID returns max(id)+1 for table within tx.
func nextID(ctx context.Context, tx *sql.Tx, table string) (int64, error) {
	var id int64
	if err := tx.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM "+table).Scan(&id); err != nil {
		return 0, err
	}
	if id > domain.MaxRecordID {
		return 0, ErrIDSpaceExhausted
	}
	return id, nil
}

func (s *sqliteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ---- schedules ----

const scheduleCols = `id, title, description, start, reminder_enabled, reminder_lead_minutes, done`

func (s *sqliteStore) PutSchedule(ctx context.Context, e domain.TimedEvent) (domain.TimedEvent, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if e.ID == 0 {
			id, err := nextID(ctx, tx, "schedules")
			if err != nil {
				return err
			}
			e.ID = id
		}
		if err := e.Validate(); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO schedules(`+scheduleCols+`) VALUES(?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET title=excluded.title, description=excluded.description,
			   start=excluded.start, reminder_enabled=excluded.reminder_enabled,
			   reminder_lead_minutes=excluded.reminder_lead_minutes, done=excluded.done`,
			e.ID, e.Title, e.Description, e.Start, e.ReminderEnabled, e.ReminderLeadMinutes, e.Done,
		)
		return err
	})
	if err != nil {
		return domain.TimedEvent{}, err
	}
	return e, nil
}

func scanSchedule(row interface{ Scan(...any) error }) (domain.TimedEvent, error) {
	var e domain.TimedEvent
	err := row.Scan(&e.ID, &e.Title, &e.Description, &e.Start, &e.ReminderEnabled, &e.ReminderLeadMinutes, &e.Done)
	return e, err
}

func (s *sqliteStore) GetSchedule(ctx context.Context, id int64) (domain.TimedEvent, error) {
	e, err := scanSchedule(s.db.QueryRowContext(ctx, `SELECT `+scheduleCols+` FROM schedules WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.TimedEvent{}, fmt.Errorf("schedule %d: %w", id, ErrNotFound)
	}
	return e, err
}

func (s *sqliteStore) ListSchedules(ctx context.Context) ([]domain.TimedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduleCols+` FROM schedules ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.TimedEvent
	for rows.Next() {
		e, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteSchedule(ctx context.Context, id int64) error {
	return s.execOne(ctx, fmt.Sprintf("schedule %d", id), `DELETE FROM schedules WHERE id = ?`, id)
}

func (s *sqliteStore) MarkScheduleDone(ctx context.Context, id int64) error {
	return s.execOne(ctx, fmt.Sprintf("schedule %d", id), `UPDATE schedules SET done = 1 WHERE id = ?`, id)
}

// ---- routines ----

const routineCols = `id, title, description, time_of_day, reminder_enabled, reminder_lead_minutes, last_completed`

func (s *sqliteStore) PutRoutine(ctx context.Context, r domain.RecurringRoutine) (domain.RecurringRoutine, error) {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if r.ID == 0 {
			id, err := nextID(ctx, tx, "routines")
			if err != nil {
				return err
			}
			r.ID = id
		}
		if err := r.Validate(); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO routines(`+routineCols+`) VALUES(?,?,?,?,?,?,?)
			 ON CONFLICT(id) DO UPDATE SET title=excluded.title, description=excluded.description,
			   time_of_day=excluded.time_of_day, reminder_enabled=excluded.reminder_enabled,
			   reminder_lead_minutes=excluded.reminder_lead_minutes, last_completed=excluded.last_completed`,
			r.ID, r.Title, r.Description, r.TimeOfDay, r.ReminderEnabled, r.ReminderLeadMinutes, r.LastCompleted,
		)
		return err
	})
	if err != nil {
		return domain.RecurringRoutine{}, err
	}
	return r, nil
}

func scanRoutine(row interface{ Scan(...any) error }) (domain.RecurringRoutine, error) {
	var r domain.RecurringRoutine
	err := row.Scan(&r.ID, &r.Title, &r.Description, &r.TimeOfDay, &r.ReminderEnabled, &r.ReminderLeadMinutes, &r.LastCompleted)
	return r, err
}

func (s *sqliteStore) GetRoutine(ctx context.Context, id int64) (domain.RecurringRoutine, error) {
	r, err := scanRoutine(s.db.QueryRowContext(ctx, `SELECT `+routineCols+` FROM routines WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RecurringRoutine{}, fmt.Errorf("routine %d: %w", id, ErrNotFound)
	}
	return r, err
}

func (s *sqliteStore) ListRoutines(ctx context.Context) ([]domain.RecurringRoutine, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+routineCols+` FROM routines ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.RecurringRoutine
	for rows.Next() {
		r, err := scanRoutine(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *sqliteStore) DeleteRoutine(ctx context.Context, id int64) error {
	return s.execOne(ctx, fmt.Sprintf("routine %d", id), `DELETE FROM routines WHERE id = ?`, id)
}

func (s *sqliteStore) MarkRoutineComplete(ctx context.Context, id int64, day string) error {
	return s.execOne(ctx, fmt.Sprintf("routine %d", id), `UPDATE routines SET last_completed = ? WHERE id = ?`, day, id)
}

// execOne runs a statement that must touch exactly one row.
func (s *sqliteStore) execOne(ctx context.Context, what string, query string, args ...any) error {
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	return nil
}

// ---- alarms ----

const alarmCols = `request_id, at, exact, record_id, role, title, body`

func (s *sqliteStore) PutAlarm(ctx context.Context, a Alarm) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alarms(`+alarmCols+`) VALUES(?,?,?,?,?,?,?)
		 ON CONFLICT(request_id) DO UPDATE SET at=excluded.at, exact=excluded.exact, record_id=excluded.record_id,
		   role=excluded.role, title=excluded.title, body=excluded.body`,
		a.RequestID, a.At.UnixMilli(), a.Exact, a.RecordID, a.Role, a.Title, a.Body,
	)
	return err
}

func (s *sqliteStore) DeleteAlarm(ctx context.Context, requestID int32) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM alarms WHERE request_id = ?`, requestID)
	return err
}

func scanAlarm(row interface{ Scan(...any) error }) (Alarm, error) {
	var (
		a  Alarm
		ms int64
	)
	if err := row.Scan(&a.RequestID, &ms, &a.Exact, &a.RecordID, &a.Role, &a.Title, &a.Body); err != nil {
		return Alarm{}, err
	}
	a.At = time.UnixMilli(ms)
	return a, nil
}

func (s *sqliteStore) GetAlarm(ctx context.Context, requestID int32) (Alarm, error) {
	a, err := scanAlarm(s.db.QueryRowContext(ctx, `SELECT `+alarmCols+` FROM alarms WHERE request_id = ?`, requestID))
	if errors.Is(err, sql.ErrNoRows) {
		return Alarm{}, fmt.Errorf("alarm %d: %w", requestID, ErrNotFound)
	}
	return a, err
}

func (s *sqliteStore) ListAlarms(ctx context.Context) ([]Alarm, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+alarmCols+` FROM alarms ORDER BY at, request_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Alarm
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) Export(ctx context.Context, w io.Writer) error {
	return exportRecords(ctx, s, w)
}

func (s *sqliteStore) Import(ctx context.Context, r io.Reader) (ImportStats, error) {
	return importRecords(ctx, s, r)
}
