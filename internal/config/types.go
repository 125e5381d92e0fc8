package config

// Config is the on-disk daybook configuration (JSON or YAML).
//
// All durations are Go duration strings (e.g. "500ms", "30s", "1m").
type Config struct {
	Logging   LoggingConfig   `json:"logging"`
	Scheduler SchedulerConfig `json:"scheduler"`
	Alarm     AlarmConfig     `json:"alarm"`
	Notifier  *NotifierConfig `json:"notifier,omitempty"`
	Storage   StorageConfig   `json:"storage"`
	Telegram  TelegramConfig  `json:"telegram"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// SchedulerConfig controls reminder trigger computation.
type SchedulerConfig struct {
	// Timezone is the IANA zone used to resolve routine wall-clock times.
	// Empty means the process local zone.
	Timezone string `json:"timezone,omitempty"`
	// SnoozeMinutes is the default snooze length (default 10).
	SnoozeMinutes int `json:"snooze_minutes,omitempty"`
}

// AlarmConfig controls the local alarm table and its dispatcher.
//
// Exact is a pointer so an omitted key (default true) can be told apart from an
// explicit false, which forces approximate delivery.
type AlarmConfig struct {
	Exact        *bool  `json:"exact,omitempty"`
	SyncInterval string `json:"sync_interval,omitempty"` // default "30s"
}

// NotifierConfig controls the async notification pipeline.
// If the whole section is omitted, the notifier defaults to enabled=true.
type NotifierConfig struct {
	Enabled       bool   `json:"enabled"`
	Workers       int    `json:"workers"`
	QueueSize     int    `json:"queue_size"`
	RatePerSec    int    `json:"rate_per_sec"`
	RetryMax      int    `json:"retry_max"`
	RetryBase     string `json:"retry_base"`
	RetryMaxDelay string `json:"retry_max_delay"`
	DedupWindow   string `json:"dedup_window"`
	HistorySize   int    `json:"history_size"`
}

// StorageConfig selects the record/alarm store.
//
// Example:
//
//	storage: { driver: sqlite, path: ./daybook.db }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite only
}

// TelegramConfig enables notification delivery to a Telegram chat.
// The token can be overridden with DAYBOOK_TELEGRAM_TOKEN.
type TelegramConfig struct {
	Token    string `json:"token,omitempty"`
	ChatID   int64  `json:"chat_id,omitempty"`
	ThreadID int    `json:"thread_id,omitempty"`
	// PollTimeout is a Go duration string (e.g. "10s").
	PollTimeout string `json:"poll_timeout,omitempty"`
}

// ExactAlarms reports the effective alarm.exact value.
func (c *Config) ExactAlarms() bool {
	if c == nil || c.Alarm.Exact == nil {
		return true
	}
	return *c.Alarm.Exact
}
