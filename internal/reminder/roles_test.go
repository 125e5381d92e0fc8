package reminder

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"daybook/internal/domain"
)

func TestRequestIDRoundTrip(t *testing.T) {
	t.Parallel()
	for role := Role(0); role < roleCount; role++ {
		for _, id := range []int64{0, 1, 42, domain.MaxRecordID} {
			rq, err := RequestID(id, role)
			if err != nil {
				t.Fatalf("RequestID(%d, %s): %v", id, role, err)
			}
			gotID, gotRole, err := DecodeRequestID(rq)
			if err != nil || gotID != id || gotRole != role {
				t.Fatalf("DecodeRequestID(%d) = %d, %s, %v; want %d, %s", rq, gotID, gotRole, err, id, role)
			}
		}
	}
}

func TestRequestIDRejectsOutOfDomain(t *testing.T) {
	t.Parallel()
	if _, err := RequestID(-1, RoleEvent); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("negative id err = %v", err)
	}
	if _, err := RequestID(domain.MaxRecordID+1, RoleEvent); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("oversized id err = %v", err)
	}
	if _, err := RequestID(1, roleCount); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("unknown role err = %v", err)
	}
	if _, _, err := DecodeRequestID(-5); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("negative request id err = %v", err)
	}
	if _, _, err := DecodeRequestID(math.MaxInt32); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("unassigned request id err = %v", err)
	}
}

func TestCheckOffsets(t *testing.T) {
	t.Parallel()
	if err := checkOffsets(roleOffsets[:], domain.MaxRecordID); err != nil {
		t.Fatalf("built-in offsets: %v", err)
	}
	// The old +10000 scheme collides as soon as ids reach 10000.
	if err := checkOffsets([]int64{0, 10000}, domain.MaxRecordID); err == nil {
		t.Fatal("overlapping ranges accepted")
	}
	if err := checkOffsets([]int64{0, math.MaxInt32 - 10}, 100); err == nil {
		t.Fatal("range past int32 accepted")
	}
}

func TestRoleText(t *testing.T) {
	t.Parallel()
	tr := Trigger{RequestID: 7, At: time.Date(2026, 1, 2, 3, 4, 0, 0, time.UTC), Payload: Payload{RecordID: 7, Role: RoleRoutineSnooze, Title: "x"}}
	b, err := json.Marshal(tr)
	if err != nil {
		t.Fatal(err)
	}
	var back Trigger
	if err := json.Unmarshal(b, &back); err != nil {
		t.Fatalf("unmarshal %s: %v", b, err)
	}
	if back.Payload.Role != RoleRoutineSnooze {
		t.Fatalf("role = %s", back.Payload.Role)
	}
	if _, err := ParseRole("weekly"); err == nil {
		t.Fatal("unknown role parsed")
	}
}

func TestRoleClassification(t *testing.T) {
	t.Parallel()
	if RoleEventReminder.SnoozeRole() != RoleScheduleSnooze || RoleRoutineOccurrence.SnoozeRole() != RoleRoutineSnooze {
		t.Fatal("snooze role mapping")
	}
	if RoleEvent.Actionable() || RoleRoutineOccurrence.Actionable() {
		t.Fatal("primary roles should not carry actions")
	}
	if !RoleScheduleSnooze.Actionable() || !RoleRoutineReminder.Actionable() {
		t.Fatal("reminder roles should carry actions")
	}
	if categoryFor(RoleRoutineSnooze) != CategoryRoutine || categoryFor(RoleEvent) != CategorySchedule {
		t.Fatal("category mapping")
	}
}

func TestNextOccurrence(t *testing.T) {
	t.Parallel()
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	tests := []struct {
		name  string
		tod   string
		after time.Time
		want  time.Time
	}{
		{name: "later today", tod: "09:00", after: time.Date(2026, 10, 19, 8, 0, 0, 0, loc), want: time.Date(2026, 10, 19, 9, 0, 0, 0, loc)},
		{name: "already passed", tod: "09:00", after: time.Date(2026, 10, 19, 14, 0, 0, 0, loc), want: time.Date(2026, 10, 20, 9, 0, 0, 0, loc)},
		{name: "exactly now rolls", tod: "09:00", after: time.Date(2026, 10, 19, 9, 0, 0, 0, loc), want: time.Date(2026, 10, 20, 9, 0, 0, 0, loc)},
		{name: "across dst end", tod: "09:00", after: time.Date(2026, 10, 31, 12, 0, 0, 0, loc), want: time.Date(2026, 11, 1, 9, 0, 0, 0, loc)},
		{name: "month end", tod: "00:05", after: time.Date(2026, 12, 31, 23, 0, 0, 0, loc), want: time.Date(2027, 1, 1, 0, 5, 0, 0, loc)},
	}
	for _, tt := range tests {
		got, err := NextOccurrence(tt.tod, tt.after, loc)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if !got.Equal(tt.want) {
			t.Fatalf("%s: got %v, want %v", tt.name, got, tt.want)
		}
	}
	if _, err := NextOccurrence("9am", time.Now(), loc); !errors.Is(err, ErrMalformedInput) {
		t.Fatalf("malformed time of day err = %v", err)
	}
}
