package app

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"daybook/internal/alarm"
	"daybook/internal/clock"
	"daybook/internal/config"
	"daybook/internal/domain"
	"daybook/internal/reminder"
	"daybook/internal/storage"
)

var base = time.Date(2026, 10, 19, 8, 0, 0, 0, time.UTC)

func newApp(t *testing.T, driver string) (*App, *clock.Fixed) {
	t.Helper()
	dir := t.TempDir()
	ext := ".json"
	if driver == "sqlite" {
		ext = ".db"
	}
	cfg := "scheduler:\n  timezone: UTC\nstorage:\n  driver: " + driver + "\n  path: " + filepath.Join(dir, "daybook"+ext) + "\n"
	path := filepath.Join(dir, "daybook.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	clk := clock.NewFixed(base)
	a, err := New(path, WithClock(clk), WithQuietLogs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = a.Close() })
	return a, clk
}

func requestIDs(t *testing.T, entries []alarm.Entry) map[int32]time.Time {
	t.Helper()
	out := make(map[int32]time.Time, len(entries))
	for _, e := range entries {
		out[e.RequestID] = e.At
	}
	return out
}

func mustID(t *testing.T, id int64, role reminder.Role) int32 {
	t.Helper()
	rid, err := reminder.RequestID(id, role)
	if err != nil {
		t.Fatal(err)
	}
	return rid
}

func TestEventLifecycle(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			a, _ := newApp(t, driver)
			ctx := context.Background()

			e, err := a.SaveEvent(ctx, domain.TimedEvent{
				Title:               "Dentist",
				Start:               base.Add(time.Hour).Format(time.RFC3339),
				ReminderEnabled:     true,
				ReminderLeadMinutes: 15,
			})
			if err != nil {
				t.Fatalf("SaveEvent: %v", err)
			}
			if e.ID == 0 {
				t.Fatal("store did not assign an id")
			}
			entries, err := a.Alarms(ctx)
			if err != nil {
				t.Fatal(err)
			}
			got := requestIDs(t, entries)
			if len(got) != 2 {
				t.Fatalf("alarms = %+v", entries)
			}
			if at := got[mustID(t, e.ID, reminder.RoleEventReminder)]; !at.Equal(base.Add(45 * time.Minute)) {
				t.Fatalf("reminder at %v", at)
			}

			if err := a.CompleteEvent(ctx, e.ID); err != nil {
				t.Fatalf("CompleteEvent: %v", err)
			}
			if entries, _ := a.Alarms(ctx); len(entries) != 0 {
				t.Fatalf("alarms after complete = %+v", entries)
			}
			events, _ := a.Events(ctx)
			if len(events) != 1 || !events[0].Done {
				t.Fatalf("events = %+v", events)
			}

			if err := a.RemoveEvent(ctx, e.ID); err != nil {
				t.Fatalf("RemoveEvent: %v", err)
			}
			if events, _ := a.Events(ctx); len(events) != 0 {
				t.Fatalf("events after remove = %+v", events)
			}
		})
	}
}

func TestRoutineCompleteMovesToTomorrow(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t, "file")
	ctx := context.Background()

	r, err := a.SaveRoutine(ctx, domain.RecurringRoutine{
		Title:               "Stretch",
		TimeOfDay:           "09:00",
		ReminderEnabled:     true,
		ReminderLeadMinutes: 10,
	})
	if err != nil {
		t.Fatalf("SaveRoutine: %v", err)
	}
	occurrence := mustID(t, r.ID, reminder.RoleRoutineOccurrence)
	got := requestIDs(t, mustAlarms(t, a))
	if at := got[occurrence]; !at.Equal(base.Add(time.Hour)) {
		t.Fatalf("occurrence at %v", at)
	}
	if at := got[mustID(t, r.ID, reminder.RoleRoutineReminder)]; !at.Equal(base.Add(50 * time.Minute)) {
		t.Fatalf("reminder at %v", at)
	}

	if err := a.CompleteRoutine(ctx, r.ID); err != nil {
		t.Fatalf("CompleteRoutine: %v", err)
	}
	got = requestIDs(t, mustAlarms(t, a))
	if at := got[occurrence]; !at.Equal(base.Add(25 * time.Hour)) {
		t.Fatalf("occurrence after complete at %v", at)
	}
	routines, _ := a.Routines(ctx)
	if len(routines) != 1 || routines[0].LastCompleted != "2026-10-19" {
		t.Fatalf("routines = %+v", routines)
	}
}

func TestSnoozeRegistersSnoozeRole(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t, "file")
	ctx := context.Background()
	e, err := a.SaveEvent(ctx, domain.TimedEvent{
		Title:               "Call",
		Start:               base.Add(30 * time.Minute).Format(time.RFC3339),
		ReminderEnabled:     true,
		ReminderLeadMinutes: 5,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Snooze(ctx, mustID(t, e.ID, reminder.RoleEventReminder), 7); err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	got := requestIDs(t, mustAlarms(t, a))
	if at := got[mustID(t, e.ID, reminder.RoleScheduleSnooze)]; !at.Equal(base.Add(7 * time.Minute)) {
		t.Fatalf("snooze at %v (alarms %v)", at, got)
	}
	if _, ok := got[mustID(t, e.ID, reminder.RoleEventReminder)]; ok {
		t.Fatal("snoozed reminder still pending")
	}
}

func TestExportImportReschedules(t *testing.T) {
	t.Parallel()
	src, _ := newApp(t, "file")
	ctx := context.Background()
	if _, err := src.SaveRoutine(ctx, domain.RecurringRoutine{Title: "Water plants", TimeOfDay: "18:30"}); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := src.Export(ctx, &buf); err != nil {
		t.Fatalf("Export: %v", err)
	}

	dst, _ := newApp(t, "sqlite")
	stats, err := dst.Import(ctx, &buf)
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if stats.Routines != 1 {
		t.Fatalf("stats = %+v", stats)
	}
	if entries := mustAlarms(t, dst); len(entries) != 1 || !entries[0].At.Equal(base.Add(10*time.Hour+30*time.Minute)) {
		t.Fatalf("alarms after import = %+v", entries)
	}
}

func TestImportReplacesPendingTriggers(t *testing.T) {
	t.Parallel()
	for _, driver := range []string{"file", "sqlite"} {
		driver := driver
		t.Run(driver, func(t *testing.T) {
			t.Parallel()
			a, _ := newApp(t, driver)
			ctx := context.Background()

			ev, err := a.SaveEvent(ctx, domain.TimedEvent{
				Title: "Standup", Start: base.Add(2 * time.Hour).Format(time.RFC3339),
				ReminderEnabled: true, ReminderLeadMinutes: 15,
			})
			if err != nil {
				t.Fatal(err)
			}
			closing, err := a.SaveEvent(ctx, domain.TimedEvent{
				Title: "Review", Start: base.Add(3 * time.Hour).Format(time.RFC3339),
				ReminderEnabled: true, ReminderLeadMinutes: 5,
			})
			if err != nil {
				t.Fatal(err)
			}
			rt, err := a.SaveRoutine(ctx, domain.RecurringRoutine{
				Title: "Pills", TimeOfDay: "10:00", ReminderEnabled: true, ReminderLeadMinutes: 15,
			})
			if err != nil {
				t.Fatal(err)
			}
			if err := a.Snooze(ctx, mustID(t, closing.ID, reminder.RoleEvent), 5); err != nil {
				t.Fatal(err)
			}
			if n := len(mustAlarms(t, a)); n != 6 {
				t.Fatalf("alarms before import = %d, want 6", n)
			}

			ev.ReminderEnabled = false
			closing.Done = true
			rt.TimeOfDay = ""
			doc, err := json.Marshal(storage.Snapshot{
				Schedules: []domain.TimedEvent{ev, closing},
				Routines:  []domain.RecurringRoutine{rt},
			})
			if err != nil {
				t.Fatal(err)
			}
			if _, err := a.Import(ctx, bytes.NewReader(doc)); err != nil {
				t.Fatalf("Import: %v", err)
			}

			got := requestIDs(t, mustAlarms(t, a))
			if len(got) != 1 {
				t.Fatalf("alarms after import = %v", got)
			}
			if at, ok := got[mustID(t, ev.ID, reminder.RoleEvent)]; !ok || !at.Equal(base.Add(2*time.Hour)) {
				t.Fatalf("event start trigger = %v ok=%v", at, ok)
			}
		})
	}
}

func TestSnoozePendingRoutineReminder(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t, "file")
	ctx := context.Background()
	r, err := a.SaveRoutine(ctx, domain.RecurringRoutine{
		Title: "Pills", TimeOfDay: "10:00", ReminderEnabled: true, ReminderLeadMinutes: 15,
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Snooze(ctx, mustID(t, r.ID, reminder.RoleRoutineReminder), 10); err != nil {
		t.Fatalf("Snooze: %v", err)
	}
	got := requestIDs(t, mustAlarms(t, a))
	if at, ok := got[mustID(t, r.ID, reminder.RoleRoutineReminder)]; ok {
		t.Fatalf("snoozed reminder still pending at %v (alarms %v)", at, got)
	}
	if at := got[mustID(t, r.ID, reminder.RoleRoutineOccurrence)]; !at.Equal(base.Add(2 * time.Hour)) {
		t.Fatalf("occurrence at %v", at)
	}
	if at := got[mustID(t, r.ID, reminder.RoleRoutineSnooze)]; !at.Equal(base.Add(10 * time.Minute)) {
		t.Fatalf("snooze at %v", at)
	}
}

func TestMissingConfigUsesDefaults(t *testing.T) {
	dir := t.TempDir()
	wd, _ := os.Getwd()
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })

	a, err := New(filepath.Join(dir, "absent.yaml"), WithQuietLogs())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()
	if _, err := a.SaveRoutine(context.Background(), domain.RecurringRoutine{Title: "Read"}); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(dir, "daybook.json")); err != nil {
		t.Fatalf("default file store not created: %v", err)
	}
}

func TestMapTelegramConfig(t *testing.T) {
	t.Setenv(EnvTelegramToken, "")
	cfg := &config.Config{}
	if _, enabled, err := mapTelegramConfig(cfg); err != nil || enabled {
		t.Fatalf("no token: enabled=%v err=%v", enabled, err)
	}

	t.Setenv(EnvTelegramToken, "123:abc")
	if _, _, err := mapTelegramConfig(cfg); err == nil {
		t.Fatal("env token without chat_id should be rejected")
	}
	cfg.Telegram = config.TelegramConfig{Token: "file-token", ChatID: -100, PollTimeout: "5s"}
	tc, enabled, err := mapTelegramConfig(cfg)
	if err != nil || !enabled {
		t.Fatalf("enabled=%v err=%v", enabled, err)
	}
	if tc.Token != "123:abc" || tc.PollTimeout != 5*time.Second || tc.ChatID != -100 {
		t.Fatalf("telegram config = %+v", tc)
	}
}

func TestMapNotifierAndStorage(t *testing.T) {
	t.Parallel()
	ncfg, err := mapNotifierConfig(&config.Config{})
	if err != nil || !ncfg.Enabled || ncfg.DedupWindow != time.Minute {
		t.Fatalf("default notifier = %+v, %v", ncfg, err)
	}
	ncfg, err = mapNotifierConfig(&config.Config{Notifier: &config.NotifierConfig{Workers: 4, RetryBase: "1s"}})
	if err != nil || ncfg.Enabled || ncfg.Workers != 4 || ncfg.RetryBase != time.Second {
		t.Fatalf("explicit notifier = %+v, %v", ncfg, err)
	}

	sc, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "SQLite3", Path: "x.db"}})
	if err != nil || sc.Driver != "sqlite" || sc.BusyTimeout != 5*time.Second {
		t.Fatalf("sqlite storage = %+v, %v", sc, err)
	}
	if _, err := mapStorageConfig(&config.Config{Storage: config.StorageConfig{Driver: "redis"}}); err == nil {
		t.Fatal("unknown driver accepted")
	}
}

func TestApplyConfigLive(t *testing.T) {
	t.Parallel()
	a, _ := newApp(t, "file")
	off := false
	next := *a.cfg
	next.Scheduler.SnoozeMinutes = 25
	next.Alarm.Exact = &off
	a.applyConfig(context.Background(), &next)

	if a.sched.SnoozeMinutes() != 25 {
		t.Fatalf("snooze minutes = %d", a.sched.SnoozeMinutes())
	}
	if a.table.CanRegisterExact() {
		t.Fatal("exact alarms still enabled")
	}
}

func mustAlarms(t *testing.T, a *App) []alarm.Entry {
	t.Helper()
	entries, err := a.Alarms(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	return entries
}
