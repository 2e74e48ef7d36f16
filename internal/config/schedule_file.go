package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/example/daily-engagement/internal/application"
)

// ScheduleEntry is one schedule declared in the schedule file.
type ScheduleEntry struct {
	ID    string
	Input application.ScheduleInput
}

type scheduleFile struct {
	Schedules []scheduleDocument `yaml:"schedules"`
}

type scheduleDocument struct {
	ID             string    `yaml:"id"`
	Name           string    `yaml:"name"`
	MeetingLink    string    `yaml:"meetingLink"`
	Timezone       string    `yaml:"timezone"`
	TimeOfDay      string    `yaml:"timeOfDay"`
	RecurringDays  []weekday `yaml:"recurringDays"`
	MinimumMinutes int       `yaml:"minimumMinutes"`
	MaturationDays int       `yaml:"maturationDays"`
	Reminder       struct {
		Enabled     bool `yaml:"enabled"`
		LeadMinutes int  `yaml:"leadMinutes"`
	} `yaml:"reminder"`
	Active *bool `yaml:"active"`
}

// weekday accepts 0-6 (Sunday = 0) or an English day name.
type weekday int

var weekdayNames = map[string]weekday{
	"sun": 0, "sunday": 0,
	"mon": 1, "monday": 1,
	"tue": 2, "tuesday": 2,
	"wed": 3, "wednesday": 3,
	"thu": 4, "thursday": 4,
	"fri": 5, "friday": 5,
	"sat": 6, "saturday": 6,
}

func (w *weekday) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: weekday must be a scalar", node.Line)
	}
	if n, err := strconv.Atoi(node.Value); err == nil {
		*w = weekday(n)
		return nil
	}
	day, ok := weekdayNames[strings.ToLower(strings.TrimSpace(node.Value))]
	if !ok {
		return fmt.Errorf("line %d: unknown weekday %q", node.Line, node.Value)
	}
	*w = day
	return nil
}

// LoadScheduleFile reads the YAML schedule file at path.
func LoadScheduleFile(path string) ([]ScheduleEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read schedule file: %w", err)
	}
	entries, err := ParseSchedules(data)
	if err != nil {
		return nil, fmt.Errorf("schedule file %s: %w", path, err)
	}
	return entries, nil
}

// ParseSchedules decodes schedule declarations. Field level validation is
// left to ConfigureSchedule; only identifiers are checked here.
func ParseSchedules(data []byte) ([]ScheduleEntry, error) {
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var file scheduleFile
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode schedules: %w", err)
	}

	seen := make(map[string]struct{}, len(file.Schedules))
	entries := make([]ScheduleEntry, 0, len(file.Schedules))
	for i, doc := range file.Schedules {
		id := strings.TrimSpace(doc.ID)
		if id == "" {
			return nil, fmt.Errorf("schedule %d: id is required", i+1)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("schedule %q is declared more than once", id)
		}
		seen[id] = struct{}{}

		days := make([]int, 0, len(doc.RecurringDays))
		for _, day := range doc.RecurringDays {
			days = append(days, int(day))
		}
		entries = append(entries, ScheduleEntry{
			ID: id,
			Input: application.ScheduleInput{
				Name:                doc.Name,
				MeetingLink:         doc.MeetingLink,
				Timezone:            doc.Timezone,
				TimeOfDay:           doc.TimeOfDay,
				RecurringDays:       days,
				MinimumMinutes:      doc.MinimumMinutes,
				MaturationDays:      doc.MaturationDays,
				ReminderEnabled:     doc.Reminder.Enabled,
				ReminderLeadMinutes: doc.Reminder.LeadMinutes,
				Active:              doc.Active,
			},
		})
	}
	return entries, nil
}
