package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/example/daily-engagement/internal/lifecycle"
	"github.com/example/daily-engagement/internal/persistence"
	"github.com/example/daily-engagement/internal/progression"
	"github.com/example/daily-engagement/internal/recurrence"
)

const (
	defaultReminderLeadMinutes = 30
	maxUpcomingDays            = 60
)

// ScheduleRepository captures the schedule persistence needed by the services.
type ScheduleRepository interface {
	CreateSchedule(ctx context.Context, schedule persistence.OrganizationSchedule) (persistence.OrganizationSchedule, error)
	UpdateSchedule(ctx context.Context, schedule persistence.OrganizationSchedule, expectedVersion int64) (persistence.OrganizationSchedule, error)
	GetSchedule(ctx context.Context, id string) (persistence.OrganizationSchedule, error)
	ListSchedules(ctx context.Context, filter persistence.ScheduleFilter) ([]persistence.OrganizationSchedule, error)
}

// SessionMaterializer captures the session persistence needed for materialization.
type SessionMaterializer interface {
	EnsureSession(ctx context.Context, session persistence.Session) (persistence.Session, bool, error)
	GetSessionByDate(ctx context.Context, scheduleID, sessionDate string) (persistence.Session, error)
	MarkReminderSent(ctx context.Context, id string, at time.Time) (bool, error)
}

// ScheduleService owns schedule configuration and the materialization of daily sessions.
type ScheduleService struct {
	schedules ScheduleRepository
	sessions  SessionMaterializer
	engine    *recurrence.Engine
	cache     *scheduleCache
	opts      Options
	logger    *slog.Logger
}

// NewScheduleService wires dependencies for schedule operations.
func NewScheduleService(schedules ScheduleRepository, sessions SessionMaterializer, opts Options, logger *slog.Logger) *ScheduleService {
	opts = opts.withDefaults()
	return &ScheduleService{
		schedules: schedules,
		sessions:  sessions,
		engine:    recurrence.NewEngine(time.UTC),
		cache:     newScheduleCache(30*time.Second, 256, opts.Now),
		opts:      opts,
		logger:    defaultLogger(logger),
	}
}

// ConfigureSchedule creates the schedule or replaces its configuration.
func (s *ScheduleService) ConfigureSchedule(ctx context.Context, params ConfigureScheduleParams) (Schedule, error) {
	if s == nil {
		return Schedule{}, fmt.Errorf("ScheduleService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "ScheduleService", "ConfigureSchedule", "schedule_id", params.ScheduleID)

	if !params.Principal.IsAdmin {
		logger.Warn("schedule configuration rejected", "error_kind", ErrorKind(ErrUnauthorized), "principal_id", params.Principal.UserID)
		return Schedule{}, ErrUnauthorized
	}

	input := normalizeScheduleInput(params.Input)
	if vErr := validateScheduleInput(input); vErr.HasErrors() {
		logger.Warn("schedule validation failed", "error_kind", ErrorKind(vErr), "fields", vErr.FieldErrors)
		return Schedule{}, vErr
	}

	now := s.opts.Now().UTC()
	id := strings.TrimSpace(params.ScheduleID)

	var existing *persistence.OrganizationSchedule
	if id != "" {
		current, err := s.schedules.GetSchedule(ctx, id)
		switch {
		case err == nil:
			existing = &current
		case errors.Is(err, persistence.ErrNotFound):
		default:
			logger.Error("failed to load schedule", "error", err)
			return Schedule{}, mapRepoError(err)
		}
	} else {
		id = s.opts.IDGenerator()
	}

	model := persistence.OrganizationSchedule{
		ID:                  id,
		Name:                input.Name,
		MeetingLink:         input.MeetingLink,
		Timezone:            input.Timezone,
		TimeOfDay:           input.TimeOfDay,
		RecurringDays:       input.RecurringDays,
		MinimumMinutes:      input.MinimumMinutes,
		MaturationDays:      input.MaturationDays,
		ReminderEnabled:     input.ReminderEnabled,
		ReminderLeadMinutes: input.ReminderLeadMinutes,
		Active:              true,
		CreatedAt:           now,
		UpdatedAt:           now,
	}

	var (
		stored persistence.OrganizationSchedule
		err    error
	)
	if existing == nil {
		if input.Active != nil {
			model.Active = *input.Active
		}
		stored, err = s.schedules.CreateSchedule(ctx, model)
	} else {
		model.Active = existing.Active
		if input.Active != nil {
			model.Active = *input.Active
		}
		model.CreatedAt = existing.CreatedAt
		stored, err = s.schedules.UpdateSchedule(ctx, model, existing.Version)
	}
	s.cache.Invalidate(id)
	if err != nil {
		logger.Error("failed to store schedule", "error", err)
		return Schedule{}, mapRepoError(err)
	}

	schedule := toSchedule(stored)
	logger.Info("schedule configured", "created", existing == nil, "active", schedule.Active, "version", schedule.Version)
	return schedule, nil
}

// DeactivateSchedule stops materialization for a schedule. Existing sessions are kept.
func (s *ScheduleService) DeactivateSchedule(ctx context.Context, principal Principal, scheduleID string) (Schedule, error) {
	if s == nil {
		return Schedule{}, fmt.Errorf("ScheduleService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "ScheduleService", "DeactivateSchedule", "schedule_id", scheduleID)

	if !principal.IsAdmin {
		logger.Warn("schedule deactivation rejected", "error_kind", ErrorKind(ErrUnauthorized), "principal_id", principal.UserID)
		return Schedule{}, ErrUnauthorized
	}

	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		current, err := s.schedules.GetSchedule(ctx, scheduleID)
		if err != nil {
			return Schedule{}, mapRepoError(err)
		}
		if !current.Active {
			return toSchedule(current), nil
		}
		current.Active = false
		current.UpdatedAt = s.opts.Now().UTC()
		stored, err := s.schedules.UpdateSchedule(ctx, current, current.Version)
		s.cache.Invalidate(scheduleID)
		if errors.Is(err, persistence.ErrVersionConflict) {
			s.opts.Observer.ConflictRetried("deactivate_schedule")
			continue
		}
		if err != nil {
			logger.Error("failed to deactivate schedule", "error", err)
			return Schedule{}, mapRepoError(err)
		}
		logger.Info("schedule deactivated", "version", stored.Version)
		return toSchedule(stored), nil
	}
	return Schedule{}, ErrConflict
}

// GetSchedule returns a schedule, served from a short lived cache when possible.
func (s *ScheduleService) GetSchedule(ctx context.Context, scheduleID string) (Schedule, error) {
	if s == nil {
		return Schedule{}, fmt.Errorf("ScheduleService is nil")
	}
	if cached, ok := s.cache.Get(scheduleID); ok {
		return cached, nil
	}
	stored, err := s.schedules.GetSchedule(ctx, scheduleID)
	if err != nil {
		return Schedule{}, mapRepoError(err)
	}
	schedule := toSchedule(stored)
	s.cache.Store(schedule)
	return schedule, nil
}

// ListSchedules returns the schedules matching filter.
func (s *ScheduleService) ListSchedules(ctx context.Context, filter ScheduleListFilter) ([]Schedule, error) {
	if s == nil {
		return nil, fmt.Errorf("ScheduleService is nil")
	}
	models, err := s.schedules.ListSchedules(ctx, persistence.ScheduleFilter{
		ActiveOnly:          filter.ActiveOnly,
		ReminderEnabledOnly: filter.ReminderEnabledOnly,
	})
	if err != nil {
		return nil, mapRepoError(err)
	}
	schedules := make([]Schedule, 0, len(models))
	for _, model := range models {
		schedules = append(schedules, toSchedule(model))
	}
	return schedules, nil
}

// EnsureTodaySession returns today's session for the schedule, creating it on
// first request. "Today" is the calendar date of now in the schedule timezone.
// Concurrent callers for the same date all receive the same stored session.
func (s *ScheduleService) EnsureTodaySession(ctx context.Context, scheduleID string) (MaterializeResult, error) {
	if s == nil {
		return MaterializeResult{}, fmt.Errorf("ScheduleService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "ScheduleService", "EnsureTodaySession", "schedule_id", scheduleID)

	schedule, err := s.GetSchedule(ctx, scheduleID)
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			logger.Error("failed to load schedule", "error", err)
		}
		return MaterializeResult{}, err
	}
	rule, err := scheduleRule(schedule)
	if err != nil {
		logger.Error("stored schedule is invalid", "error", err)
		return MaterializeResult{}, err
	}

	today := s.engine.Today(rule, s.opts.Now())
	result := MaterializeResult{Schedule: schedule, Date: today.String()}
	if !schedule.Active {
		result.Inactive = true
		return result, nil
	}
	if !s.engine.Occurs(rule, today) {
		result.OffDay = true
		return result, nil
	}

	session, created, err := s.materialize(ctx, schedule, rule, today)
	if err != nil {
		logger.Error("failed to materialize session", "error", err, "session_date", today.String())
		return MaterializeResult{}, err
	}
	s.opts.Observer.SessionMaterialized(created)
	if created {
		logger.Info("session materialized", "session_id", session.ID, "session_date", session.Date, "starts_at", session.StartsAt)
	}
	result.Session = &session
	result.Created = created
	return result, nil
}

// GetSession returns the session of a schedule on date (YYYY-MM-DD). A lookup
// for today materializes the session; other dates are read only.
func (s *ScheduleService) GetSession(ctx context.Context, scheduleID, date string) (Session, error) {
	if s == nil {
		return Session{}, fmt.Errorf("ScheduleService is nil")
	}
	day, err := recurrence.ParseDate(date)
	if err != nil {
		vErr := &ValidationError{}
		vErr.add("date", "must be formatted as YYYY-MM-DD")
		return Session{}, vErr
	}
	schedule, err := s.GetSchedule(ctx, scheduleID)
	if err != nil {
		return Session{}, err
	}
	rule, err := scheduleRule(schedule)
	if err != nil {
		return Session{}, err
	}

	if day == s.engine.Today(rule, s.opts.Now()) {
		result, err := s.EnsureTodaySession(ctx, scheduleID)
		if err != nil {
			return Session{}, err
		}
		if result.Session != nil {
			return *result.Session, nil
		}
	}

	stored, err := s.sessions.GetSessionByDate(ctx, scheduleID, day.String())
	if err != nil {
		return Session{}, mapRepoError(err)
	}
	return toSession(stored), nil
}

// UpcomingSessions lists the occurrences of the schedule over the next days
// calendar days, starting today. Nothing is persisted.
func (s *ScheduleService) UpcomingSessions(ctx context.Context, scheduleID string, days int) ([]UpcomingOccurrence, error) {
	if s == nil {
		return nil, fmt.Errorf("ScheduleService is nil")
	}
	if days <= 0 || days > maxUpcomingDays {
		vErr := &ValidationError{}
		vErr.add("days", fmt.Sprintf("must be between 1 and %d", maxUpcomingDays))
		return nil, vErr
	}
	schedule, err := s.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if !schedule.Active {
		return []UpcomingOccurrence{}, nil
	}
	rule, err := scheduleRule(schedule)
	if err != nil {
		return nil, err
	}
	occurrences, err := s.engine.Upcoming(rule, s.engine.Today(rule, s.opts.Now()), days)
	if err != nil {
		return nil, err
	}
	out := make([]UpcomingOccurrence, 0, len(occurrences))
	for _, occ := range occurrences {
		out = append(out, UpcomingOccurrence{Date: occ.Date.String(), StartsAt: occ.Start.UTC()})
	}
	return out, nil
}

// ClaimReminder records that the reminder for a session is being sent. It
// reports false when another caller already claimed it.
func (s *ScheduleService) ClaimReminder(ctx context.Context, sessionID string) (bool, error) {
	if s == nil {
		return false, fmt.Errorf("ScheduleService is nil")
	}
	claimed, err := s.sessions.MarkReminderSent(ctx, sessionID, s.opts.Now().UTC())
	if err != nil {
		return false, mapRepoError(err)
	}
	return claimed, nil
}

func (s *ScheduleService) materialize(ctx context.Context, schedule Schedule, rule recurrence.Rule, day recurrence.Date) (Session, bool, error) {
	now := s.opts.Now().UTC()
	stored, created, err := s.sessions.EnsureSession(ctx, persistence.Session{
		ID:          s.opts.IDGenerator(),
		ScheduleID:  schedule.ID,
		SessionDate: day.String(),
		StartsAt:    s.engine.StartInstant(rule, day).UTC(),
		Status:      string(lifecycle.StatusScheduled),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return Session{}, false, mapRepoError(err)
	}
	return toSession(stored), created, nil
}

func scheduleRule(schedule Schedule) (recurrence.Rule, error) {
	loc, err := recurrence.LoadLocation(schedule.Timezone)
	if err != nil {
		return recurrence.Rule{}, err
	}
	tod, err := recurrence.ParseTimeOfDay(schedule.TimeOfDay)
	if err != nil {
		return recurrence.Rule{}, err
	}
	weekdays, err := recurrence.ParseWeekdays(schedule.RecurringDays)
	if err != nil {
		return recurrence.Rule{}, err
	}
	return recurrence.Rule{Location: loc, TimeOfDay: tod, Weekdays: weekdays}, nil
}

func normalizeScheduleInput(input ScheduleInput) ScheduleInput {
	input.Name = strings.TrimSpace(input.Name)
	input.MeetingLink = strings.TrimSpace(input.MeetingLink)
	input.Timezone = strings.TrimSpace(input.Timezone)
	input.TimeOfDay = strings.TrimSpace(input.TimeOfDay)
	if input.MaturationDays == 0 {
		input.MaturationDays = progression.DefaultMaturationDays
	}
	if input.ReminderLeadMinutes == 0 {
		input.ReminderLeadMinutes = defaultReminderLeadMinutes
	}
	if days, err := recurrence.ParseWeekdays(input.RecurringDays); err == nil {
		normalized := make([]int, 0, len(days))
		for _, day := range days {
			normalized = append(normalized, int(day))
		}
		input.RecurringDays = normalized
	}
	return input
}

func validateScheduleInput(input ScheduleInput) *ValidationError {
	vErr := &ValidationError{}
	if input.Name == "" {
		vErr.add("name", "is required")
	}
	if input.MeetingLink != "" {
		if u, err := url.Parse(input.MeetingLink); err != nil || u.Scheme == "" || u.Host == "" {
			vErr.add("meetingLink", "must be an absolute URL")
		}
	}
	if _, err := recurrence.LoadLocation(input.Timezone); err != nil {
		vErr.add("timezone", "must be a valid IANA timezone")
	}
	if _, err := recurrence.ParseTimeOfDay(input.TimeOfDay); err != nil {
		vErr.add("timeOfDay", "must be formatted as HH:MM")
	}
	if len(input.RecurringDays) == 0 {
		vErr.add("recurringDays", "at least one weekday is required")
	} else if _, err := recurrence.ParseWeekdays(input.RecurringDays); err != nil {
		vErr.add("recurringDays", "weekdays must be between 0 (Sunday) and 6 (Saturday)")
	}
	if input.MinimumMinutes <= 0 {
		vErr.add("minimumMinutes", "must be positive")
	}
	if input.MaturationDays < 0 {
		vErr.add("maturationDays", "must be positive")
	}
	if input.ReminderLeadMinutes < 0 {
		vErr.add("reminderLeadMinutes", "must not be negative")
	}
	return vErr
}

func mapRepoError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if errors.Is(err, persistence.ErrNotFound) {
		return ErrNotFound
	}
	if errors.Is(err, persistence.ErrVersionConflict) {
		return ErrConflict
	}
	if errors.Is(err, persistence.ErrConstraintViolation) {
		vErr := &ValidationError{}
		vErr.add("record", "violates a storage constraint")
		return vErr
	}
	if errors.Is(err, persistence.ErrForeignKeyViolation) {
		return ErrNotFound
	}
	return err
}
