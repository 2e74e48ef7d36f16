package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/daily-engagement/internal/lifecycle"
	"github.com/example/daily-engagement/internal/persistence"
)

// AttendanceRepository captures the attendance persistence needed by the ledger.
type AttendanceRepository interface {
	CreateAttendance(ctx context.Context, record persistence.AttendanceRecord) (persistence.AttendanceRecord, error)
	GetAttendance(ctx context.Context, sessionID, userID string) (persistence.AttendanceRecord, error)
	UpdateAttendance(ctx context.Context, record persistence.AttendanceRecord, expectedVersion int64) (persistence.AttendanceRecord, error)
	ListAttendanceForSession(ctx context.Context, sessionID string) ([]persistence.AttendanceRecord, error)
}

// SessionLookup resolves a session by ID.
type SessionLookup interface {
	GetSession(ctx context.Context, sessionID string) (Session, error)
}

// SessionStarter applies the implicit start transition.
type SessionStarter interface {
	StartImplicitly(ctx context.Context, sessionID string) (Session, bool, error)
}

// ProgressionRecorder folds qualifying attendance into engagement state.
type ProgressionRecorder interface {
	ApplyQualifyingAttendance(ctx context.Context, in QualifyingAttendance) (ProgressionResult, error)
}

// AttendanceService records join and leave events and accumulates attendance.
type AttendanceService struct {
	attendance  AttendanceRepository
	sessions    SessionLookup
	schedules   ScheduleReader
	starter     SessionStarter
	progression ProgressionRecorder
	opts        Options
	logger      *slog.Logger
}

// NewAttendanceService wires dependencies for the attendance ledger.
func NewAttendanceService(attendance AttendanceRepository, sessions SessionLookup, schedules ScheduleReader, starter SessionStarter, progression ProgressionRecorder, opts Options, logger *slog.Logger) *AttendanceService {
	return &AttendanceService{
		attendance:  attendance,
		sessions:    sessions,
		schedules:   schedules,
		starter:     starter,
		progression: progression,
		opts:        opts.withDefaults(),
		logger:      defaultLogger(logger),
	}
}

// RecordJoin opens an attendance cycle for userID. A join while a cycle is
// already open restarts the cycle and the unclosed interval is not credited.
func (s *AttendanceService) RecordJoin(ctx context.Context, sessionID, userID string) (AttendanceRecord, error) {
	if s == nil {
		return AttendanceRecord{}, fmt.Errorf("AttendanceService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "AttendanceService", "RecordJoin", "session_id", sessionID, "user_id", userID)

	if vErr := validateAttendanceIdentity(userID); vErr.HasErrors() {
		return AttendanceRecord{}, vErr
	}
	session, err := s.openSession(ctx, sessionID)
	if err != nil {
		return AttendanceRecord{}, err
	}

	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		now := s.opts.Now().UTC()
		current, err := s.attendance.GetAttendance(ctx, session.ID, userID)
		if errors.Is(err, persistence.ErrNotFound) {
			created, err := s.attendance.CreateAttendance(ctx, persistence.AttendanceRecord{
				ID:            s.opts.IDGenerator(),
				SessionID:     session.ID,
				UserID:        userID,
				FirstJoinedAt: now,
				JoinedAt:      &now,
				JoinCount:     1,
				CreatedAt:     now,
				UpdatedAt:     now,
			})
			if errors.Is(err, persistence.ErrDuplicate) {
				// A concurrent first join won; retry as an update.
				s.opts.Observer.ConflictRetried("attendance_join")
				continue
			}
			if err != nil {
				logger.Error("failed to create attendance", "error", err)
				return AttendanceRecord{}, mapRepoError(err)
			}
			s.opts.Observer.AttendanceRecorded("join")
			logger.Info("attendance joined", "join_count", created.JoinCount)
			return toAttendanceRecord(created), nil
		}
		if err != nil {
			return AttendanceRecord{}, mapRepoError(err)
		}

		if current.JoinedAt != nil {
			logger.Info("join received while already joined, restarting cycle", "joined_at", *current.JoinedAt)
		}
		updated := current
		updated.JoinedAt = &now
		updated.LeftAt = nil
		updated.JoinCount++
		updated.UpdatedAt = now

		stored, err := s.attendance.UpdateAttendance(ctx, updated, current.Version)
		if errors.Is(err, persistence.ErrVersionConflict) {
			s.opts.Observer.ConflictRetried("attendance_join")
			continue
		}
		if err != nil {
			logger.Error("failed to update attendance", "error", err)
			return AttendanceRecord{}, mapRepoError(err)
		}
		s.opts.Observer.AttendanceRecorded("join")
		logger.Info("attendance rejoined", "join_count", stored.JoinCount, "duration", stored.Duration)
		return toAttendanceRecord(stored), nil
	}
	return AttendanceRecord{}, ErrConflict
}

// RecordLeave closes the open attendance cycle of userID and credits the
// elapsed whole seconds.
//
// The attendance write is committed first. The follow-up steps run afterwards
// and their failures are reported as warnings:
//   - a scheduled session is started implicitly, since a closed attendance
//     cycle proves the meeting took place;
//   - crossing the schedule's minimum for the first time advances the user's
//     engagement progression.
func (s *AttendanceService) RecordLeave(ctx context.Context, sessionID, userID string) (LeaveResult, error) {
	if s == nil {
		return LeaveResult{}, fmt.Errorf("AttendanceService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "AttendanceService", "RecordLeave", "session_id", sessionID, "user_id", userID)

	if vErr := validateAttendanceIdentity(userID); vErr.HasErrors() {
		return LeaveResult{}, vErr
	}
	session, err := s.openSession(ctx, sessionID)
	if err != nil {
		return LeaveResult{}, err
	}
	schedule, err := s.schedules.GetSchedule(ctx, session.ScheduleID)
	if err != nil {
		logger.Error("failed to load schedule", "schedule_id", session.ScheduleID, "error", err)
		return LeaveResult{}, err
	}
	minimum := schedule.MinimumDuration()

	var (
		stored   persistence.AttendanceRecord
		credited time.Duration
		crossed  bool
		done     bool
	)
	for attempt := 0; attempt < s.opts.MaxRetries && !done; attempt++ {
		now := s.opts.Now().UTC()
		current, err := s.attendance.GetAttendance(ctx, session.ID, userID)
		if err != nil {
			return LeaveResult{}, mapRepoError(err)
		}
		if current.JoinedAt == nil {
			logger.Info("leave without open join ignored", "error_kind", ErrorKind(ErrStaleLeave))
			return LeaveResult{}, ErrStaleLeave
		}

		credited = elapsed(*current.JoinedAt, now)
		updated := current
		updated.Duration += credited
		updated.LeftAt = &now
		updated.JoinedAt = nil
		updated.UpdatedAt = now
		crossed = current.QualifiedAt == nil && updated.Duration >= minimum
		if crossed {
			updated.QualifiedAt = &now
		}

		stored, err = s.attendance.UpdateAttendance(ctx, updated, current.Version)
		if errors.Is(err, persistence.ErrVersionConflict) {
			s.opts.Observer.ConflictRetried("attendance_leave")
			continue
		}
		if err != nil {
			logger.Error("failed to update attendance", "error", err)
			return LeaveResult{}, mapRepoError(err)
		}
		done = true
	}
	if !done {
		return LeaveResult{}, ErrConflict
	}

	s.opts.Observer.AttendanceRecorded("leave")
	logger.Info("attendance left", "credited", credited, "duration", stored.Duration, "qualified", crossed)

	result := LeaveResult{
		Record:    toAttendanceRecord(stored),
		Session:   session,
		Credited:  credited,
		Qualified: crossed,
	}

	if session.Status == lifecycle.StatusScheduled && s.starter != nil {
		started, changed, err := s.starter.StartImplicitly(ctx, session.ID)
		if err != nil {
			result.Warnings = append(result.Warnings, "implicit session start failed: "+err.Error())
			logger.Warn("implicit session start failed", "error", err)
		} else {
			result.Session = started
			result.SessionStarted = changed
		}
	}

	if crossed {
		s.opts.Observer.AttendanceQualified()
		if s.progression != nil {
			progress, err := s.progression.ApplyQualifyingAttendance(ctx, QualifyingAttendance{
				UserID:         userID,
				SessionID:      session.ID,
				Date:           session.Date,
				At:             *stored.QualifiedAt,
				MaturationDays: schedule.MaturationDays,
			})
			if err != nil {
				s.opts.Observer.ProgressionFailed()
				result.Warnings = append(result.Warnings, "engagement progression failed: "+err.Error())
				logger.Warn("engagement progression failed", "error", err)
			} else {
				result.Engagement = &progress.Engagement
				result.Matured = progress.Matured
			}
		}
	}
	return result, nil
}

// ListAttendance returns the attendance records of a session.
func (s *AttendanceService) ListAttendance(ctx context.Context, principal Principal, sessionID string) ([]AttendanceRecord, error) {
	if s == nil {
		return nil, fmt.Errorf("AttendanceService is nil")
	}
	if !principal.IsAdmin {
		return nil, ErrUnauthorized
	}
	if _, err := s.sessions.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	models, err := s.attendance.ListAttendanceForSession(ctx, sessionID)
	if err != nil {
		return nil, mapRepoError(err)
	}
	records := make([]AttendanceRecord, 0, len(models))
	for _, model := range models {
		records = append(records, toAttendanceRecord(model))
	}
	return records, nil
}

func (s *AttendanceService) openSession(ctx context.Context, sessionID string) (Session, error) {
	session, err := s.sessions.GetSession(ctx, sessionID)
	if err != nil {
		return Session{}, err
	}
	if !session.Status.AcceptsAttendance() {
		return Session{}, ErrSessionClosed
	}
	return session, nil
}

func validateAttendanceIdentity(userID string) *ValidationError {
	vErr := &ValidationError{}
	if strings.TrimSpace(userID) == "" {
		vErr.add("userId", "is required")
	}
	return vErr
}

// elapsed returns the time between joinedAt and now. Clock skew never
// produces a negative credit.
func elapsed(joinedAt, now time.Time) time.Duration {
	if d := now.Sub(joinedAt); d > 0 {
		return d
	}
	return 0
}
