package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

const sampleYAML = `
logging:
  level: debug
  console: true
scheduler:
  timezone: UTC
  snooze_minutes: 5
alarm:
  exact: false
  sync_interval: 15s
storage:
  driver: sqlite
  path: ./daybook.db
`

func TestDecodeYAML(t *testing.T) {
	t.Parallel()
	cfg, err := Decode("daybook.yaml", []byte(sampleYAML))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if cfg.Logging.Level != "debug" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Scheduler.SnoozeMinutes != 5 {
		t.Fatalf("snooze_minutes = %d", cfg.Scheduler.SnoozeMinutes)
	}
	if cfg.ExactAlarms() {
		t.Fatalf("alarm.exact=false was not honored")
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage.driver = %q", cfg.Storage.Driver)
	}
	if err := Validate(cfg); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestDecodeRejectsUnknownAndTrailing(t *testing.T) {
	t.Parallel()
	if _, err := Decode("c.json", []byte(`{"logging":{"levle":"info"}}`)); err == nil {
		t.Fatal("expected unknown field error")
	}
	if _, err := Decode("c.json", []byte(`{} {}`)); err == nil {
		t.Fatal("expected trailing data error")
	}
	if _, err := Decode("c.yaml", []byte("")); err != nil {
		t.Fatalf("empty yaml should decode: %v", err)
	}
}

func TestExactAlarmsDefaultsTrue(t *testing.T) {
	t.Parallel()
	var cfg Config
	if !cfg.ExactAlarms() {
		t.Fatal("omitted alarm.exact should default to true")
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{name: "empty", cfg: Config{}, ok: true},
		{name: "bad tz", cfg: Config{Scheduler: SchedulerConfig{Timezone: "Mars/Olympus"}}},
		{name: "negative snooze", cfg: Config{Scheduler: SchedulerConfig{SnoozeMinutes: -1}}},
		{name: "bad sync", cfg: Config{Alarm: AlarmConfig{SyncInterval: "soon"}}},
		{name: "bad driver", cfg: Config{Storage: StorageConfig{Driver: "postgres"}}},
		{name: "token without chat", cfg: Config{Telegram: TelegramConfig{Token: "x"}}},
		{name: "bad retry", cfg: Config{Notifier: &NotifierConfig{RetryBase: "-1s"}}},
		{name: "telegram ok", cfg: Config{Telegram: TelegramConfig{Token: "x", ChatID: 7}}, ok: true},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(&tt.cfg)
			if tt.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tt.ok && err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestChanged(t *testing.T) {
	t.Parallel()
	off := false
	a := &Config{Logging: LoggingConfig{Level: "info"}}
	b := &Config{Logging: LoggingConfig{Level: "debug"}, Alarm: AlarmConfig{Exact: &off}, Notifier: &NotifierConfig{Enabled: true}}
	got := Changed(a, b)
	want := []string{"logging", "alarm", "notifier"}
	if len(got) != len(want) {
		t.Fatalf("Changed = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Changed = %v, want %v", got, want)
		}
	}
	if len(Changed(a, a)) != 0 {
		t.Fatal("identical configs should report no changes")
	}
}

func TestParseDurationOrDefault(t *testing.T) {
	t.Parallel()
	d, err := ParseDurationOrDefault("x", "", 3*time.Second)
	if err != nil || d != 3*time.Second {
		t.Fatalf("got %v, %v", d, err)
	}
	d, err = ParseDurationOrDefault("x", "250ms", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("got %v, %v", d, err)
	}
	if _, err := ParseDurationField("x", "-5s"); err == nil {
		t.Fatal("expected error for negative duration")
	}
}

func TestManagerLoadAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "daybook.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o600); err != nil {
		t.Fatal(err)
	}
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}

	sub := m.Subscribe(1)
	defer m.Unsubscribe(sub)

	// Unchanged content is not republished.
	m.reload(context.Background())
	select {
	case <-sub:
		t.Fatal("unchanged config was published")
	default:
	}

	updated := sampleYAML + "\ntelegram:\n  poll_timeout: 20s\n"
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(context.Background())
	select {
	case got := <-sub:
		if got.Telegram.PollTimeout != "20s" {
			t.Fatalf("poll_timeout = %q", got.Telegram.PollTimeout)
		}
	default:
		t.Fatal("changed config was not published")
	}

	// A rejected reload keeps the previous config.
	m.SetValidator(func(context.Context, *Config) error { return os.ErrInvalid })
	if err := os.WriteFile(path, []byte(updated+"\nnotifier:\n  enabled: true\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	m.reload(context.Background())
	if m.Get().Notifier != nil {
		t.Fatal("rejected reload replaced the committed config")
	}
}
