package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"daybook/internal/alarm"
	"daybook/internal/config"
	"daybook/internal/notifier"
	"daybook/internal/reminder"
	"daybook/internal/storage"
	"daybook/internal/transport/telegram"
	logx "daybook/pkg/logx"
)

// EnvTelegramToken overrides telegram.token so the secret can stay out of the config file.
const EnvTelegramToken = "DAYBOOK_TELEGRAM_TOKEN"

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	switch driver {
	case "", "file":
		return storage.Config{Driver: "file", Path: strings.TrimSpace(sc.Path)}, nil
	case "sqlite", "sqlite3":
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, 5*time.Second)
		if err != nil {
			return storage.Config{}, err
		}
		return storage.Config{Driver: "sqlite", Path: strings.TrimSpace(sc.Path), BusyTimeout: busy}, nil
	default:
		return storage.Config{}, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapSchedulerConfig(cfg *config.Config) (reminder.Config, error) {
	out := reminder.Config{SnoozeMinutes: cfg.Scheduler.SnoozeMinutes}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return reminder.Config{}, fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
		out.Location = loc
	}
	return out, nil
}

func mapSyncInterval(cfg *config.Config) (time.Duration, error) {
	return config.ParseDurationOrDefault("alarm.sync_interval", cfg.Alarm.SyncInterval, alarm.DefaultSyncInterval)
}

// mapNotifierConfig applies defaults when the notifier section is omitted.
func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	n := cfg.Notifier
	if n == nil {
		return notifier.Config{
			Enabled:       true,
			Workers:       2,
			QueueSize:     256,
			RatePerSec:    3,
			RetryMax:      3,
			RetryBase:     500 * time.Millisecond,
			RetryMaxDelay: 10 * time.Second,
			DedupWindow:   time.Minute,
			HistorySize:   200,
		}, nil
	}
	retryBase, err := config.ParseDurationOrDefault("notifier.retry_base", n.RetryBase, 500*time.Millisecond)
	if err != nil {
		return notifier.Config{}, err
	}
	retryMaxDelay, err := config.ParseDurationOrDefault("notifier.retry_max_delay", n.RetryMaxDelay, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	dedup, err := config.ParseDurationField("notifier.dedup_window", n.DedupWindow)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Enabled:       n.Enabled,
		Workers:       n.Workers,
		QueueSize:     n.QueueSize,
		RatePerSec:    n.RatePerSec,
		RetryMax:      n.RetryMax,
		RetryBase:     retryBase,
		RetryMaxDelay: retryMaxDelay,
		DedupWindow:   dedup,
		HistorySize:   n.HistorySize,
	}, nil
}

// mapTelegramConfig reports enabled=false when no token is configured.
func mapTelegramConfig(cfg *config.Config) (telegram.Config, bool, error) {
	tc := cfg.Telegram
	token := strings.TrimSpace(tc.Token)
	if env := strings.TrimSpace(os.Getenv(EnvTelegramToken)); env != "" {
		token = env
	}
	if token == "" {
		return telegram.Config{}, false, nil
	}
	if tc.ChatID == 0 {
		return telegram.Config{}, false, fmt.Errorf("telegram.chat_id is required when a telegram token is set")
	}
	poll, err := config.ParseDurationOrDefault("telegram.poll_timeout", tc.PollTimeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, false, err
	}
	return telegram.Config{Token: token, ChatID: tc.ChatID, ThreadID: tc.ThreadID, PollTimeout: poll}, true, nil
}

// validate is the hot-reload validator: a config that cannot be mapped is rejected
// before it is committed.
func validate(cfg *config.Config) error {
	if _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapSyncInterval(cfg); err != nil {
		return err
	}
	if _, err := mapNotifierConfig(cfg); err != nil {
		return err
	}
	_, _, err := mapTelegramConfig(cfg)
	return err
}
