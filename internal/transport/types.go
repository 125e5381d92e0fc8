// Package transport holds the delivery types shared by the reminder core, the
// notifier pipeline and concrete chat adapters.
package transport

import (
	"context"
	"time"
)

// Action ids understood by the reminder receiver.
const (
	ActionSnooze   = "snooze"
	ActionComplete = "complete"
)

// Category groups notifications (schedule vs routine reminders).
type Category struct {
	ID          string
	Name        string
	Description string
}

// Action is a button attached to a notification.
type Action struct {
	ID    string
	Label string
}

// Notification is what a fired trigger turns into.
type Notification struct {
	// ID is the trigger request id; actions are routed back with it.
	ID       int32
	Category string
	Title    string
	Body     string
	Actions  []Action
	At       time.Time
}

// Sink delivers a notification to one destination.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, n Notification) error
}

// ActionHandler receives notification actions (snooze, complete).
type ActionHandler interface {
	HandleAction(ctx context.Context, action string, requestID int32) error
}
