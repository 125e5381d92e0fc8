package config

import (
	"fmt"
	"strings"
	"time"
)

// Validate rejects configs that would fail later at wiring time.
// It is used both on startup and as the hot-reload validator.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("config is nil")
	}
	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("scheduler.timezone: invalid %q: %w", tz, err)
		}
	}
	if cfg.Scheduler.SnoozeMinutes < 0 {
		return fmt.Errorf("scheduler.snooze_minutes must be >= 0")
	}
	if _, err := ParseDurationField("alarm.sync_interval", cfg.Alarm.SyncInterval); err != nil {
		return err
	}
	if n := cfg.Notifier; n != nil {
		if n.Workers < 0 || n.QueueSize < 0 || n.RatePerSec < 0 || n.RetryMax < 0 || n.HistorySize < 0 {
			return fmt.Errorf("notifier: numeric settings must be >= 0")
		}
		for path, raw := range map[string]string{
			"notifier.retry_base":      n.RetryBase,
			"notifier.retry_max_delay": n.RetryMaxDelay,
			"notifier.dedup_window":    n.DedupWindow,
		} {
			if _, err := ParseDurationField(path, raw); err != nil {
				return err
			}
		}
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "file", "sqlite", "sqlite3":
	default:
		return fmt.Errorf("unknown storage.driver: %s", cfg.Storage.Driver)
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		return err
	}
	if _, err := ParseDurationField("telegram.poll_timeout", cfg.Telegram.PollTimeout); err != nil {
		return err
	}
	if strings.TrimSpace(cfg.Telegram.Token) != "" && cfg.Telegram.ChatID == 0 {
		return fmt.Errorf("telegram.chat_id is required when telegram.token is set")
	}
	return nil
}

// Changed lists the top-level sections that differ between two configs.
// Secrets are never part of the output.
func Changed(oldCfg, newCfg *Config) []string {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var out []string
	if oldCfg.Logging != newCfg.Logging {
		out = append(out, "logging")
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		out = append(out, "scheduler")
	}
	if oldCfg.ExactAlarms() != newCfg.ExactAlarms() || oldCfg.Alarm.SyncInterval != newCfg.Alarm.SyncInterval {
		out = append(out, "alarm")
	}
	if !notifierEqual(oldCfg.Notifier, newCfg.Notifier) {
		out = append(out, "notifier")
	}
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Telegram != newCfg.Telegram {
		out = append(out, "telegram")
	}
	return out
}

func notifierEqual(a, b *NotifierConfig) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
