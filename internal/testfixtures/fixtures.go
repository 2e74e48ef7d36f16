package testfixtures

import (
	"time"

	"github.com/example/daily-engagement/internal/application"
)

var referenceTime = time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)

// ReferenceTime returns the canonical baseline timestamp used by fixtures.
// It falls on a Monday.
func ReferenceTime() time.Time {
	return referenceTime
}

// AdminPrincipal is an administrator acting on configuration.
var AdminPrincipal = application.Principal{UserID: "admin", IsAdmin: true}

// ScheduleOption configures the generated schedule input.
type ScheduleOption func(*application.ScheduleInput)

// NewScheduleInput returns a weekday 19:00 Asia/Kolkata schedule with a 15
// minute qualifying minimum, adjusted by opts.
func NewScheduleInput(opts ...ScheduleOption) application.ScheduleInput {
	input := application.ScheduleInput{
		Name:                "Evening circle",
		MeetingLink:         "https://meet.example.com/evening-circle",
		Timezone:            "Asia/Kolkata",
		TimeOfDay:           "19:00",
		RecurringDays:       []int{1, 2, 3, 4, 5},
		MinimumMinutes:      15,
		MaturationDays:      5,
		ReminderEnabled:     true,
		ReminderLeadMinutes: 30,
	}
	for _, opt := range opts {
		opt(&input)
	}
	return input
}

// WithTimezone overrides the schedule timezone.
func WithTimezone(zone string) ScheduleOption {
	return func(input *application.ScheduleInput) {
		input.Timezone = zone
	}
}

// WithTimeOfDay overrides the local start time.
func WithTimeOfDay(value string) ScheduleOption {
	return func(input *application.ScheduleInput) {
		input.TimeOfDay = value
	}
}

// WithRecurringDays overrides the weekdays.
func WithRecurringDays(days ...int) ScheduleOption {
	return func(input *application.ScheduleInput) {
		input.RecurringDays = append([]int(nil), days...)
	}
}

// WithMinimumMinutes overrides the qualifying minimum.
func WithMinimumMinutes(minutes int) ScheduleOption {
	return func(input *application.ScheduleInput) {
		input.MinimumMinutes = minutes
	}
}

// WithMaturationDays overrides the tree maturation threshold.
func WithMaturationDays(days int) ScheduleOption {
	return func(input *application.ScheduleInput) {
		input.MaturationDays = days
	}
}

// WithReminder toggles the reminder and sets its lead time.
func WithReminder(enabled bool, leadMinutes int) ScheduleOption {
	return func(input *application.ScheduleInput) {
		input.ReminderEnabled = enabled
		input.ReminderLeadMinutes = leadMinutes
	}
}
