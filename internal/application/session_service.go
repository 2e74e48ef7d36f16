package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/example/daily-engagement/internal/lifecycle"
	"github.com/example/daily-engagement/internal/persistence"
)

// SessionRepository captures the session persistence needed by transitions and attendance.
type SessionRepository interface {
	GetSession(ctx context.Context, id string) (persistence.Session, error)
	UpdateSessionStatus(ctx context.Context, session persistence.Session, expectedVersion int64) (persistence.Session, error)
}

// ScheduleReader resolves a schedule by ID.
type ScheduleReader interface {
	GetSchedule(ctx context.Context, scheduleID string) (Schedule, error)
}

// SessionService applies lifecycle transitions to sessions.
type SessionService struct {
	sessions  SessionRepository
	schedules ScheduleReader
	opts      Options
	logger    *slog.Logger
}

// NewSessionService wires dependencies for session transitions.
func NewSessionService(sessions SessionRepository, schedules ScheduleReader, opts Options, logger *slog.Logger) *SessionService {
	return &SessionService{
		sessions:  sessions,
		schedules: schedules,
		opts:      opts.withDefaults(),
		logger:    defaultLogger(logger),
	}
}

// GetSession returns a session by ID.
func (s *SessionService) GetSession(ctx context.Context, sessionID string) (Session, error) {
	if s == nil {
		return Session{}, fmt.Errorf("SessionService is nil")
	}
	stored, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, mapRepoError(err)
	}
	return toSession(stored), nil
}

// Transition applies an administrator requested action to a session.
func (s *SessionService) Transition(ctx context.Context, principal Principal, sessionID, action string) (Session, error) {
	if s == nil {
		return Session{}, fmt.Errorf("SessionService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "SessionService", "Transition", "session_id", sessionID, "action", action)

	if !principal.IsAdmin {
		logger.Warn("session transition rejected", "error_kind", ErrorKind(ErrUnauthorized), "principal_id", principal.UserID)
		return Session{}, ErrUnauthorized
	}
	parsed, err := lifecycle.ParseAction(action)
	if err != nil {
		return Session{}, err
	}

	session, _, err := s.apply(ctx, logger, sessionID, parsed, false)
	if err != nil {
		if errors.Is(err, ErrInvalidTransition) {
			logger.Info("session transition refused", "error_kind", ErrorKind(err), "error", err)
		} else if !errors.Is(err, ErrNotFound) {
			logger.Error("session transition failed", "error", err)
		}
		return Session{}, err
	}
	return session, nil
}

// StartImplicitly moves a scheduled session to live. It is invoked when the
// first attendance cycle closes, which proves the meeting took place. Sessions
// in any other status are returned unchanged and started reports false.
func (s *SessionService) StartImplicitly(ctx context.Context, sessionID string) (session Session, started bool, err error) {
	if s == nil {
		return Session{}, false, fmt.Errorf("SessionService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "SessionService", "StartImplicitly", "session_id", sessionID)
	return s.apply(ctx, logger, sessionID, lifecycle.ActionStart, true)
}

// apply performs a version checked transition, re-reading and re-evaluating
// the session whenever a concurrent writer won the race.
func (s *SessionService) apply(ctx context.Context, logger *slog.Logger, sessionID string, action lifecycle.Action, implicit bool) (Session, bool, error) {
	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		current, err := s.sessions.GetSession(ctx, sessionID)
		if err != nil {
			return Session{}, false, mapRepoError(err)
		}
		from := lifecycle.Status(current.Status)
		if implicit && from != lifecycle.StatusScheduled {
			return toSession(current), false, nil
		}
		next, err := lifecycle.Next(from, action)
		if err != nil {
			return toSession(current), false, err
		}

		now := s.opts.Now().UTC()
		updated := current
		updated.Status = string(next)
		updated.UpdatedAt = now
		switch action {
		case lifecycle.ActionComplete:
			updated.EndsAt = &now
		case lifecycle.ActionReschedule:
			updated.EndsAt = nil
		}

		stored, err := s.sessions.UpdateSessionStatus(ctx, updated, current.Version)
		if errors.Is(err, persistence.ErrVersionConflict) {
			s.opts.Observer.ConflictRetried("session_transition")
			logger.Debug("session changed concurrently, retrying", "attempt", attempt+1)
			continue
		}
		if err != nil {
			return Session{}, false, mapRepoError(err)
		}

		session := toSession(stored)
		s.opts.Observer.SessionTransitioned(action, implicit)
		logger.Info("session transitioned", "from", from, "to", next, "implicit", implicit, "version", session.Version)
		if next == lifecycle.StatusLive {
			s.notifyLive(ctx, logger, session)
		}
		return session, true, nil
	}
	return Session{}, false, ErrConflict
}

func (s *SessionService) notifyLive(ctx context.Context, logger *slog.Logger, session Session) {
	event := Event{
		Type:        EventSessionLive,
		OccurredAt:  s.opts.Now().UTC(),
		ScheduleID:  session.ScheduleID,
		SessionID:   session.ID,
		SessionDate: session.Date,
		StartsAt:    session.StartsAt,
	}
	if s.schedules != nil {
		if schedule, err := s.schedules.GetSchedule(ctx, session.ScheduleID); err == nil {
			event.ScheduleName = schedule.Name
			event.MeetingLink = schedule.MeetingLink
		}
	}
	if err := s.opts.Notifier.Notify(ctx, event); err != nil {
		logger.Warn("failed to deliver notification", "event", event.Type, "error", err)
	}
}
