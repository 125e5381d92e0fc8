package reminder

import (
	"errors"
	"fmt"

	"daybook/internal/domain"
)

var (
	// ErrMalformedInput marks records that cannot produce triggers.
	ErrMalformedInput = domain.ErrMalformed
	// ErrNotFuture marks instants at or before now; callers skip them.
	ErrNotFuture = errors.New("trigger instant is not in the future")
)

// SchedulingError describes a failed registry call.
type SchedulingError struct {
	Op        string
	Role      Role
	RequestID int32
	Err       error
}

func (e *SchedulingError) Error() string {
	return fmt.Sprintf("reminder %s %s (request %d): %v", e.Op, e.Role, e.RequestID, e.Err)
}

func (e *SchedulingError) Unwrap() error { return e.Err }
