package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const scheduleYAML = `
schedules:
  - id: org-1
    name: Evening circle
    meetingLink: https://meet.example.com/evening
    timezone: Asia/Kolkata
    timeOfDay: "19:00"
    recurringDays: [mon, Tuesday, 3, thu, fri]
    minimumMinutes: 15
    reminder:
      enabled: true
      leadMinutes: 20
  - id: org-2
    name: Weekend walk
    meetingLink: https://meet.example.com/walk
    timezone: Europe/Berlin
    timeOfDay: "08:30"
    recurringDays: [0, 6]
    minimumMinutes: 30
    maturationDays: 3
    active: false
`

func TestParseSchedules(t *testing.T) {
	t.Parallel()

	entries, err := ParseSchedules([]byte(scheduleYAML))
	if err != nil {
		t.Fatalf("ParseSchedules: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("expected two schedules, got %d", len(entries))
	}

	first := entries[0]
	if first.ID != "org-1" || first.Input.Timezone != "Asia/Kolkata" || first.Input.TimeOfDay != "19:00" {
		t.Fatalf("unexpected first schedule: %+v", first)
	}
	if got := first.Input.RecurringDays; len(got) != 5 || got[0] != 1 || got[1] != 2 || got[2] != 3 || got[4] != 5 {
		t.Fatalf("unexpected weekdays: %v", got)
	}
	if !first.Input.ReminderEnabled || first.Input.ReminderLeadMinutes != 20 || first.Input.Active != nil {
		t.Fatalf("unexpected reminder or active fields: %+v", first.Input)
	}

	second := entries[1]
	if second.Input.MaturationDays != 3 || second.Input.Active == nil || *second.Input.Active {
		t.Fatalf("unexpected second schedule: %+v", second.Input)
	}
}

func TestParseSchedulesErrors(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
		want string
	}{
		{name: "missing id", yaml: "schedules:\n  - name: x\n", want: "id is required"},
		{name: "duplicate id", yaml: "schedules:\n  - id: a\n  - id: a\n", want: "more than once"},
		{name: "unknown weekday", yaml: "schedules:\n  - id: a\n    recurringDays: [funday]\n", want: "unknown weekday"},
		{name: "unknown field", yaml: "schedules:\n  - id: a\n    colour: green\n", want: "colour"},
	}
	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := ParseSchedules([]byte(tc.yaml))
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected error containing %q, got %v", tc.want, err)
			}
		})
	}
}

func TestParseSchedulesEmptyDocument(t *testing.T) {
	t.Parallel()

	entries, err := ParseSchedules(nil)
	if err != nil || len(entries) != 0 {
		t.Fatalf("expected no schedules, got %v err=%v", entries, err)
	}
}

func TestLoadScheduleFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "schedules.yaml")
	if err := os.WriteFile(path, []byte(scheduleYAML), 0o600); err != nil {
		t.Fatalf("write file: %v", err)
	}
	entries, err := LoadScheduleFile(path)
	if err != nil || len(entries) != 2 {
		t.Fatalf("expected two schedules, got %d err=%v", len(entries), err)
	}

	if _, err := LoadScheduleFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected missing file error")
	}
}
