package reminder

import (
	"context"
	"time"

	"daybook/internal/transport"
)

// Payload is what a trigger carries until it fires.
type Payload struct {
	RecordID int64  `json:"record_id"`
	Role     Role   `json:"role"`
	Title    string `json:"title"`
	Body     string `json:"body,omitempty"`
}

// Trigger is a one-shot local alarm. RequestID is unique per (record, role).
type Trigger struct {
	RequestID int32     `json:"request_id"`
	At        time.Time `json:"at"`
	Payload   Payload   `json:"payload"`
}

// TriggerRegistry is the platform alarm facility. Registering an existing
// request id replaces the pending trigger; cancelling a missing one succeeds.
type TriggerRegistry interface {
	RegisterExact(ctx context.Context, t Trigger) error
	RegisterApprox(ctx context.Context, t Trigger) error
	Cancel(ctx context.Context, requestID int32) error
	CanRegisterExact() bool
}

// NotificationPresenter shows notifications to the user.
type NotificationPresenter interface {
	EnsureCategory(ctx context.Context, c transport.Category) error
	Present(ctx context.Context, n transport.Notification) error
}

const (
	CategorySchedule = "schedule_reminders"
	CategoryRoutine  = "routine_reminders"
)

// Categories lists the notification categories the scheduler relies on.
func Categories() []transport.Category {
	return []transport.Category{
		{ID: CategorySchedule, Name: "Schedule reminders", Description: "Reminders for upcoming schedules"},
		{ID: CategoryRoutine, Name: "Routine reminders", Description: "Reminders for daily routines"},
	}
}

func categoryFor(r Role) string {
	if r.IsRoutine() {
		return CategoryRoutine
	}
	return CategorySchedule
}
