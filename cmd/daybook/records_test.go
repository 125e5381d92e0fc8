package main

import (
	"testing"
	"time"
)

func TestParseStart(t *testing.T) {
	t.Parallel()
	jakarta := time.FixedZone("WIB", 7*3600)
	cases := []struct {
		in, want string
		wantErr  bool
	}{
		{in: "2026-10-19T09:30:00Z", want: "2026-10-19T09:30:00Z"},
		{in: " 2026-10-19T09:30:00+02:00 ", want: "2026-10-19T09:30:00+02:00"},
		{in: "2026-10-19 09:30", want: "2026-10-19T09:30:00+07:00"},
		{in: "2026-10-19T09:30", want: "2026-10-19T09:30:00+07:00"},
		{in: "tomorrow", wantErr: true},
		{in: "", wantErr: true},
	}
	for _, tc := range cases {
		got, err := parseStart(tc.in, jakarta)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("parseStart(%q) = %q, want error", tc.in, got)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("parseStart(%q) = %q, %v; want %q", tc.in, got, err, tc.want)
		}
	}
}

func TestLeadText(t *testing.T) {
	t.Parallel()
	if got := leadText(true, 15); got != "15m" {
		t.Fatalf("leadText = %q", got)
	}
	if got := leadText(false, 15); got != "off" {
		t.Fatalf("leadText disabled = %q", got)
	}
	if got := leadText(true, 0); got != "off" {
		t.Fatalf("leadText zero = %q", got)
	}
}

func TestCLICommands(t *testing.T) {
	t.Parallel()
	a := newCLI()
	want := map[string]bool{"daemon": false, "event": false, "routine": false, "snooze": false, "alarms": false, "export": false, "import": false, "version": false}
	for _, c := range a.Commands {
		if _, ok := want[c.Name]; ok {
			want[c.Name] = true
		}
	}
	for name, seen := range want {
		if !seen {
			t.Fatalf("command %q missing", name)
		}
	}
}
