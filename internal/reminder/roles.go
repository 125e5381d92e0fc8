package reminder

import (
	"fmt"
	"math"

	"daybook/internal/domain"
)

// Role says what a trigger stands for.
type Role uint8

const (
	RoleEvent Role = iota
	RoleEventReminder
	RoleRoutineOccurrence
	RoleRoutineReminder
	RoleScheduleSnooze
	RoleRoutineSnooze

	roleCount
)

// roleStride is the width of one role's request-id range.
const roleStride = domain.MaxRecordID + 1

// roleOffsets is the only place request-id offsets are defined.
var roleOffsets = [roleCount]int64{
	RoleEvent:             0 * roleStride,
	RoleEventReminder:     1 * roleStride,
	RoleRoutineOccurrence: 2 * roleStride,
	RoleRoutineReminder:   3 * roleStride,
	RoleScheduleSnooze:    4 * roleStride,
	RoleRoutineSnooze:     5 * roleStride,
}

var roleNames = [roleCount]string{
	RoleEvent:             "event",
	RoleEventReminder:     "event_reminder",
	RoleRoutineOccurrence: "routine_occurrence",
	RoleRoutineReminder:   "routine_reminder",
	RoleScheduleSnooze:    "schedule_snooze",
	RoleRoutineSnooze:     "routine_snooze",
}

func init() {
	if err := checkOffsets(roleOffsets[:], domain.MaxRecordID); err != nil {
		panic("reminder: " + err.Error())
	}
}

// checkOffsets verifies that every [offset, offset+maxID] range fits in int32
// and that no two ranges overlap.
func checkOffsets(offsets []int64, maxID int64) error {
	for i, a := range offsets {
		if a < 0 || a+maxID > math.MaxInt32 {
			return fmt.Errorf("role %d range [%d, %d] does not fit in int32", i, a, a+maxID)
		}
		for j := i + 1; j < len(offsets); j++ {
			b := offsets[j]
			if a <= b+maxID && b <= a+maxID {
				return fmt.Errorf("role %d and role %d request-id ranges overlap", i, j)
			}
		}
	}
	return nil
}

func (r Role) Valid() bool { return r < roleCount }

func (r Role) String() string {
	if !r.Valid() {
		return fmt.Sprintf("role(%d)", uint8(r))
	}
	return roleNames[r]
}

func (r Role) MarshalText() ([]byte, error) {
	if !r.Valid() {
		return nil, fmt.Errorf("%w: unknown trigger role %d", ErrMalformedInput, r)
	}
	return []byte(roleNames[r]), nil
}

func (r *Role) UnmarshalText(b []byte) error {
	v, err := ParseRole(string(b))
	if err != nil {
		return err
	}
	*r = v
	return nil
}

// ParseRole is the inverse of Role.String.
func ParseRole(s string) (Role, error) {
	for i, name := range roleNames {
		if name == s {
			return Role(i), nil
		}
	}
	return 0, fmt.Errorf("%w: unknown trigger role %q", ErrMalformedInput, s)
}

// IsRoutine reports whether the role belongs to a RecurringRoutine.
func (r Role) IsRoutine() bool {
	return r == RoleRoutineOccurrence || r == RoleRoutineReminder || r == RoleRoutineSnooze
}

func (r Role) IsSnooze() bool { return r == RoleScheduleSnooze || r == RoleRoutineSnooze }

// SnoozeRole maps a role to the snooze role of the same record kind.
func (r Role) SnoozeRole() Role {
	if r.IsRoutine() {
		return RoleRoutineSnooze
	}
	return RoleScheduleSnooze
}

// Actionable reports whether notifications for this role carry snooze/complete buttons.
func (r Role) Actionable() bool {
	switch r {
	case RoleEventReminder, RoleRoutineReminder, RoleScheduleSnooze, RoleRoutineSnooze:
		return true
	}
	return false
}

// RequestID maps (recordID, role) to the platform request id.
func RequestID(recordID int64, role Role) (int32, error) {
	if !role.Valid() {
		return 0, fmt.Errorf("%w: unknown trigger role %d", ErrMalformedInput, role)
	}
	if recordID < 0 || recordID > domain.MaxRecordID {
		return 0, fmt.Errorf("%w: record id %d outside [0, %d]", ErrMalformedInput, recordID, domain.MaxRecordID)
	}
	return int32(roleOffsets[role] + recordID), nil
}

// DecodeRequestID is the reverse of RequestID.
func DecodeRequestID(id int32) (int64, Role, error) {
	v := int64(id)
	for i, off := range roleOffsets {
		if v >= off && v <= off+domain.MaxRecordID {
			return v - off, Role(i), nil
		}
	}
	return 0, 0, fmt.Errorf("%w: request id %d belongs to no role", ErrMalformedInput, id)
}
