package notifier

import "time"

// Config controls the async notification pipeline.
type Config struct {
	Enabled         bool
	Workers         int
	QueueSize       int
	RatePerSec      int
	RetryMax        int
	RetryBase       time.Duration
	RetryMaxDelay   time.Duration
	DedupWindow     time.Duration
	DedupMaxEntries int
	HistorySize     int
}

// HistoryItem is one delivery attempt outcome.
type HistoryItem struct {
	At       time.Time `json:"at"`
	ID       int32     `json:"id"`
	Category string    `json:"category"`
	Title    string    `json:"title"`
	Sink     string    `json:"sink"`
	Err      string    `json:"err,omitempty"`
}

// NotificationEvent is the Data of notifier.* bus events.
type NotificationEvent struct {
	ID    int32     `json:"id"`
	Sink  string    `json:"sink,omitempty"`
	Key   string    `json:"key"`
	At    time.Time `json:"at"`
	Error string    `json:"error,omitempty"`
}
