package application

import (
	"context"
	"time"

	"github.com/example/daily-engagement/internal/lifecycle"
	"github.com/example/daily-engagement/internal/persistence"
)

// Principal represents the authenticated user invoking a service method.
type Principal struct {
	UserID  string
	IsAdmin bool
}

// ScheduleInput captures caller provided schedule fields.
type ScheduleInput struct {
	Name                string
	MeetingLink         string
	Timezone            string
	TimeOfDay           string
	RecurringDays       []int
	MinimumMinutes      int
	MaturationDays      int
	ReminderEnabled     bool
	ReminderLeadMinutes int
	// Active is applied only when set; new schedules default to active.
	Active *bool
}

// ConfigureScheduleParams wraps the data required to create or replace a schedule.
type ConfigureScheduleParams struct {
	Principal  Principal
	ScheduleID string
	Input      ScheduleInput
}

// Schedule is an organization's daily session configuration.
type Schedule struct {
	ID                  string
	Name                string
	MeetingLink         string
	Timezone            string
	TimeOfDay           string
	RecurringDays       []int
	MinimumMinutes      int
	MaturationDays      int
	ReminderEnabled     bool
	ReminderLeadMinutes int
	Active              bool
	Version             int64
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// MinimumSeconds is the qualifying attendance threshold in seconds.
func (s Schedule) MinimumSeconds() int64 {
	return int64(s.MinimumMinutes) * 60
}

// MinimumDuration is the qualifying attendance threshold.
func (s Schedule) MinimumDuration() time.Duration {
	return time.Duration(s.MinimumSeconds()) * time.Second
}

// ScheduleListFilter narrows schedule listings.
type ScheduleListFilter struct {
	ActiveOnly          bool
	ReminderEnabledOnly bool
}

// Session is one materialized occurrence of a schedule.
type Session struct {
	ID             string
	ScheduleID     string
	Date           string
	StartsAt       time.Time
	EndsAt         *time.Time
	Status         lifecycle.Status
	ReminderSentAt *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// MaterializeResult describes the outcome of resolving today's session.
// Session is nil when the schedule is inactive or today is not a recurring day.
type MaterializeResult struct {
	Schedule Schedule
	Date     string
	Session  *Session
	Created  bool
	OffDay   bool
	Inactive bool
}

// UpcomingOccurrence is a future occurrence that may not be materialized yet.
type UpcomingOccurrence struct {
	Date     string
	StartsAt time.Time
}

// AttendanceRecord is one user's cumulative attendance at one session.
// DurationSeconds is Duration in whole seconds.
type AttendanceRecord struct {
	ID              string
	SessionID       string
	UserID          string
	FirstJoinedAt   time.Time
	JoinedAt        *time.Time
	LeftAt          *time.Time
	Duration        time.Duration
	DurationSeconds int64
	JoinCount       int
	QualifiedAt     *time.Time
	Version         int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Joined reports whether a join is waiting for its matching leave.
func (r AttendanceRecord) Joined() bool {
	return r.JoinedAt != nil
}

// Qualified reports whether the record has reached the qualifying minimum.
func (r AttendanceRecord) Qualified() bool {
	return r.QualifiedAt != nil
}

// LeaveResult reports a recorded leave and the follow-up effects.
// Warnings list follow-up steps that failed after the leave was stored.
type LeaveResult struct {
	Record          AttendanceRecord
	Session        Session
	Credited       time.Duration
	Qualified      bool
	SessionStarted bool
	Engagement     *EngagementView
	Matured        *ForestTree
	Warnings       []string
}

// ActiveTree is the tree currently growing for a user.
type ActiveTree struct {
	StartedOn     string
	GrowthDays    int
	GrowthPercent float64
}

// ForestTree is a matured tree kept in a user's forest.
type ForestTree struct {
	ID            string
	StartedOn     string
	MaturedOn     string
	GrowthDays    int
	GrowthPercent float64
}

// EngagementView is a user's streak and forest progression.
type EngagementView struct {
	UserID          string
	CurrentStreak   int
	LongestStreak   int
	LastQualifiedOn string
	LastQualifiedAt *time.Time
	Tree            ActiveTree
	TotalTreesGrown int
	Forest          []ForestTree
	Version         int64
	UpdatedAt       time.Time
}

// QualifyingAttendance identifies a day on which a user reached the minimum.
type QualifyingAttendance struct {
	UserID         string
	SessionID      string
	Date           string
	At             time.Time
	MaturationDays int
}

// ProgressionResult reports the effect of one qualifying day.
type ProgressionResult struct {
	Engagement     EngagementView
	Counted        bool
	AlreadyCounted bool
	Stale          bool
	Matured        *ForestTree
}

// EventType names a notification.
type EventType string

const (
	// EventSessionLive is emitted when a session enters the live status.
	EventSessionLive EventType = "session.live"
	// EventSessionReminder is emitted ahead of a session start.
	EventSessionReminder EventType = "session.reminder"
	// EventTreeMatured is emitted when a user's tree joins the forest.
	EventTreeMatured EventType = "tree.matured"
)

// Event is delivered to the Notifier.
type Event struct {
	Type         EventType
	OccurredAt   time.Time
	ScheduleID   string
	ScheduleName string
	SessionID    string
	SessionDate  string
	StartsAt     time.Time
	MeetingLink  string
	UserID       string
	Tree         *ForestTree
}

// Notifier delivers events to external channels. Failures are logged and never
// change the outcome of the operation that produced the event.
type Notifier interface {
	Notify(ctx context.Context, event Event) error
}

// Observer receives operational measurements.
type Observer interface {
	SessionMaterialized(created bool)
	SessionTransitioned(action lifecycle.Action, implicit bool)
	AttendanceRecorded(kind string)
	AttendanceQualified()
	StreakAdvanced(reset bool)
	TreeMatured()
	ProgressionFailed()
	ConflictRetried(operation string)
}

type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, Event) error { return nil }

type nopObserver struct{}

func (nopObserver) SessionMaterialized(bool) {}
func (nopObserver) SessionTransitioned(lifecycle.Action, bool) {}
func (nopObserver) AttendanceRecorded(string) {}
func (nopObserver) AttendanceQualified() {}
func (nopObserver) StreakAdvanced(bool) {}
func (nopObserver) TreeMatured() {}
func (nopObserver) ProgressionFailed() {}
func (nopObserver) ConflictRetried(string) {}

// Options carries the optional collaborators shared by the services.
type Options struct {
	IDGenerator func() string
	Now         func() time.Time
	Notifier    Notifier
	Observer    Observer
	// MaxRetries bounds optimistic concurrency retries. Zero selects the default.
	MaxRetries int
}

const defaultMaxRetries = 5

func (o Options) withDefaults() Options {
	if o.IDGenerator == nil {
		o.IDGenerator = func() string { return "" }
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.Notifier == nil {
		o.Notifier = nopNotifier{}
	}
	if o.Observer == nil {
		o.Observer = nopObserver{}
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = defaultMaxRetries
	}
	return o
}

func toSchedule(model persistence.OrganizationSchedule) Schedule {
	return Schedule{
		ID:                  model.ID,
		Name:                model.Name,
		MeetingLink:         model.MeetingLink,
		Timezone:            model.Timezone,
		TimeOfDay:           model.TimeOfDay,
		RecurringDays:       append([]int(nil), model.RecurringDays...),
		MinimumMinutes:      model.MinimumMinutes,
		MaturationDays:      model.MaturationDays,
		ReminderEnabled:     model.ReminderEnabled,
		ReminderLeadMinutes: model.ReminderLeadMinutes,
		Active:              model.Active,
		Version:             model.Version,
		CreatedAt:           model.CreatedAt,
		UpdatedAt:           model.UpdatedAt,
	}
}

func toSession(model persistence.Session) Session {
	return Session{
		ID:             model.ID,
		ScheduleID:     model.ScheduleID,
		Date:           model.SessionDate,
		StartsAt:       model.StartsAt,
		EndsAt:         cloneTime(model.EndsAt),
		Status:         lifecycle.Status(model.Status),
		ReminderSentAt: cloneTime(model.ReminderSentAt),
		Version:        model.Version,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
	}
}

func toAttendanceRecord(model persistence.AttendanceRecord) AttendanceRecord {
	return AttendanceRecord{
		ID:              model.ID,
		SessionID:       model.SessionID,
		UserID:          model.UserID,
		FirstJoinedAt:   model.FirstJoinedAt,
		JoinedAt:        cloneTime(model.JoinedAt),
		LeftAt:          cloneTime(model.LeftAt),
		Duration:        model.Duration,
		DurationSeconds: int64(model.Duration / time.Second),
		JoinCount:       model.JoinCount,
		QualifiedAt:     cloneTime(model.QualifiedAt),
		Version:         model.Version,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
}

func cloneTime(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	clone := *value
	return &clone
}
