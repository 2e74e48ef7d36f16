// Package reminder sends one notification per session ahead of its start.
package reminder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/example/daily-engagement/internal/application"
)

// DefaultSpec runs the reminder check every five minutes.
const DefaultSpec = "*/5 * * * *"

const jobTimeout = time.Minute

// ScheduleSource is the subset of the schedule service the job needs.
type ScheduleSource interface {
	ListSchedules(ctx context.Context, filter application.ScheduleListFilter) ([]application.Schedule, error)
	EnsureTodaySession(ctx context.Context, scheduleID string) (application.MaterializeResult, error)
	ClaimReminder(ctx context.Context, sessionID string) (bool, error)
}

// Recorder counts delivered reminders.
type Recorder interface {
	ReminderSent()
}

// Job checks reminder-enabled schedules and notifies sessions whose reminder
// window has opened.
type Job struct {
	schedules ScheduleSource
	notifier  application.Notifier
	recorder  Recorder
	now       func() time.Time
	logger    *slog.Logger
}

// NewJob builds a reminder job. recorder and now may be nil.
func NewJob(schedules ScheduleSource, notifier application.Notifier, recorder Recorder, now func() time.Time, logger *slog.Logger) *Job {
	if now == nil {
		now = time.Now
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Job{
		schedules: schedules,
		notifier:  notifier,
		recorder:  recorder,
		now:       now,
		logger:    logger.With(slog.String("component", "reminder")),
	}
}

// RunOnce performs a single pass and returns how many reminders were sent.
// Failures on one schedule do not stop the others.
func (j *Job) RunOnce(ctx context.Context) (int, error) {
	schedules, err := j.schedules.ListSchedules(ctx, application.ScheduleListFilter{ActiveOnly: true, ReminderEnabledOnly: true})
	if err != nil {
		return 0, fmt.Errorf("reminder: list schedules: %w", err)
	}

	sent := 0
	var errs []error
	for _, schedule := range schedules {
		ok, err := j.remind(ctx, schedule)
		if err != nil {
			j.logger.ErrorContext(ctx, "reminder_failed", slog.String("schedule_id", schedule.ID), slog.Any("err", err))
			errs = append(errs, fmt.Errorf("schedule %s: %w", schedule.ID, err))
			continue
		}
		if ok {
			sent++
		}
	}
	return sent, errors.Join(errs...)
}

func (j *Job) remind(ctx context.Context, schedule application.Schedule) (bool, error) {
	result, err := j.schedules.EnsureTodaySession(ctx, schedule.ID)
	if err != nil {
		return false, err
	}
	session := result.Session
	if session == nil || session.ReminderSentAt != nil {
		return false, nil
	}

	now := j.now()
	lead := time.Duration(result.Schedule.ReminderLeadMinutes) * time.Minute
	if now.Before(session.StartsAt.Add(-lead)) || !now.Before(session.StartsAt) {
		return false, nil
	}

	claimed, err := j.schedules.ClaimReminder(ctx, session.ID)
	if err != nil || !claimed {
		return false, err
	}

	event := application.Event{
		Type:         application.EventSessionReminder,
		OccurredAt:   now,
		ScheduleID:   result.Schedule.ID,
		ScheduleName: result.Schedule.Name,
		SessionID:    session.ID,
		SessionDate:  session.Date,
		StartsAt:     session.StartsAt,
		MeetingLink:  result.Schedule.MeetingLink,
	}
	if j.notifier != nil {
		if err := j.notifier.Notify(ctx, event); err != nil {
			j.logger.WarnContext(ctx, "reminder_notify_failed", slog.String("session_id", session.ID), slog.Any("err", err))
		}
	}
	if j.recorder != nil {
		j.recorder.ReminderSent()
	}
	j.logger.InfoContext(ctx, "reminder_sent", slog.String("schedule_id", schedule.ID), slog.String("session_id", session.ID))
	return true, nil
}

// Scheduler runs a Job on a cron spec.
type Scheduler struct {
	cron   *cron.Cron
	job    *Job
	logger *slog.Logger
}

// NewScheduler registers job under spec, evaluated in UTC.
func NewScheduler(job *Job, spec string, logger *slog.Logger) (*Scheduler, error) {
	if spec == "" {
		spec = DefaultSpec
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		cron:   cron.New(cron.WithLocation(time.UTC)),
		job:    job,
		logger: logger.With(slog.String("component", "reminder_scheduler")),
	}
	if _, err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("reminder: invalid cron spec %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()
	sent, err := s.job.RunOnce(ctx)
	if err != nil {
		s.logger.Error("reminder_run_failed", slog.Int("sent", sent), slog.Any("err", err))
		return
	}
	s.logger.Debug("reminder_run_completed", slog.Int("sent", sent))
}

// Start begins running the job in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("reminder_scheduler_started")
}

// Stop prevents further runs and waits for a running job or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.logger.Info("reminder_scheduler_stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
