package persistence

import (
	"context"
	"time"
)

// ScheduleFilter narrows schedule listings.
type ScheduleFilter struct {
	ActiveOnly          bool
	ReminderEnabledOnly bool
}

// ScheduleRepository stores organization schedules. Schedules are never deleted.
type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, schedule OrganizationSchedule) (OrganizationSchedule, error)
	// UpdateSchedule stores schedule if the stored version equals expectedVersion.
	UpdateSchedule(ctx context.Context, schedule OrganizationSchedule, expectedVersion int64) (OrganizationSchedule, error)
	GetSchedule(ctx context.Context, id string) (OrganizationSchedule, error)
	ListSchedules(ctx context.Context, filter ScheduleFilter) ([]OrganizationSchedule, error)
}

// SessionRepository stores materialized sessions.
type SessionRepository interface {
	// EnsureSession inserts session unless one already exists for the same
	// schedule and date, and returns the stored row. created reports whether
	// this call inserted it.
	EnsureSession(ctx context.Context, session Session) (stored Session, created bool, err error)
	GetSession(ctx context.Context, id string) (Session, error)
	GetSessionByDate(ctx context.Context, scheduleID, sessionDate string) (Session, error)
	// UpdateSessionStatus stores the status and end instant of session if the
	// stored version equals expectedVersion.
	UpdateSessionStatus(ctx context.Context, session Session, expectedVersion int64) (Session, error)
	// MarkReminderSent stamps the reminder instant once. It reports false when
	// a reminder was already recorded.
	MarkReminderSent(ctx context.Context, id string, at time.Time) (bool, error)
}

// AttendanceRepository stores per-user attendance records.
type AttendanceRepository interface {
	CreateAttendance(ctx context.Context, record AttendanceRecord) (AttendanceRecord, error)
	GetAttendance(ctx context.Context, sessionID, userID string) (AttendanceRecord, error)
	// UpdateAttendance stores record if the stored version equals expectedVersion.
	UpdateAttendance(ctx context.Context, record AttendanceRecord, expectedVersion int64) (AttendanceRecord, error)
	ListAttendanceForSession(ctx context.Context, sessionID string) ([]AttendanceRecord, error)
	// ListQualifiedDays returns the dates on which userID qualified, oldest first.
	ListQualifiedDays(ctx context.Context, userID string) ([]QualifiedDay, error)
}

// EngagementRepository stores derived engagement state and the forest.
type EngagementRepository interface {
	GetEngagement(ctx context.Context, userID string) (EngagementState, error)
	// SaveEngagement stores state and appends matured trees atomically. An
	// expectedVersion of zero inserts a new state.
	SaveEngagement(ctx context.Context, state EngagementState, expectedVersion int64, matured []ForestTree) (EngagementState, error)
	// ReplaceEngagement stores state and replaces the whole forest atomically.
	ReplaceEngagement(ctx context.Context, state EngagementState, expectedVersion int64, forest []ForestTree) (EngagementState, error)
	ListForest(ctx context.Context, userID string) ([]ForestTree, error)
}
