package persistence

import "time"

// OrganizationSchedule is the stored configuration of an organization's daily session.
type OrganizationSchedule struct {
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

// Session is a materialized occurrence of a schedule on one calendar date.
// SessionDate is formatted as YYYY-MM-DD in the schedule timezone.
type Session struct {
	ID             string
	ScheduleID     string
	SessionDate    string
	StartsAt       time.Time
	EndsAt         *time.Time
	Status         string
	ReminderSentAt *time.Time
	Version        int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// AttendanceRecord accumulates one user's attendance at one session.
// JoinedAt is non-nil only while a join is waiting for its matching leave.
// Duration is the exact sum of the closed join/leave cycles.
type AttendanceRecord struct {
	ID            string
	SessionID     string
	UserID        string
	FirstJoinedAt time.Time
	JoinedAt      *time.Time
	LeftAt        *time.Time
	Duration      time.Duration
	JoinCount     int
	QualifiedAt   *time.Time
	Version       int64
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// QualifiedDay is a session date on which a user reached the qualifying minimum.
// MaturationDays is the threshold configured on the session's schedule.
type QualifiedDay struct {
	SessionID      string
	SessionDate    string
	QualifiedAt    time.Time
	MaturationDays int
}

// EngagementState is the derived streak and tree progression of a user.
// Version zero means the state has never been stored.
type EngagementState struct {
	UserID            string
	CurrentStreak     int
	LongestStreak     int
	LastQualifiedOn   string
	LastQualifiedAt   *time.Time
	TreeStartedOn     string
	TreeGrowthDays    int
	TreeGrowthPercent float64
	TotalTreesGrown   int
	Version           int64
	UpdatedAt         time.Time
}

// ForestTree is a matured tree kept permanently for a user.
type ForestTree struct {
	ID            string
	UserID        string
	StartedOn     string
	MaturedOn     string
	GrowthDays    int
	GrowthPercent float64
	CreatedAt     time.Time
}
