package testfixtures

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/example/daily-engagement/internal/application"
	"github.com/example/daily-engagement/internal/persistence/sqlite"
)

// RecordingNotifier captures delivered events.
type RecordingNotifier struct {
	mu     sync.Mutex
	events []application.Event
	Err    error
}

// Notify records event and returns the configured error.
func (r *RecordingNotifier) Notify(_ context.Context, event application.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
	return r.Err
}

// Events returns a copy of the recorded events.
func (r *RecordingNotifier) Events() []application.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]application.Event(nil), r.events...)
}

// OfType returns the recorded events of the given type.
func (r *RecordingNotifier) OfType(eventType application.EventType) []application.Event {
	var out []application.Event
	for _, event := range r.Events() {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}

// Services bundles the application services over one SQLite storage.
type Services struct {
	Storage     *sqlite.Storage
	Clock       *Clock
	IDGenerator *IDGenerator
	Notifier    *RecordingNotifier
	Logger      *slog.Logger

	Schedules  *application.ScheduleService
	Sessions   *application.SessionService
	Attendance *application.AttendanceService
	Engagement *application.EngagementService
}

// ServicesOption configures NewServices.
type ServicesOption func(*servicesConfig)

type servicesConfig struct {
	clock    *Clock
	ids      *IDGenerator
	observer application.Observer
	logger   *slog.Logger
}

// WithClock overrides the clock used by the services.
func WithClock(clock *Clock) ServicesOption {
	return func(cfg *servicesConfig) {
		cfg.clock = clock
	}
}

// WithIDGenerator overrides the identifier generator used by the services.
func WithIDGenerator(generator *IDGenerator) ServicesOption {
	return func(cfg *servicesConfig) {
		cfg.ids = generator
	}
}

// WithObserver installs an observer on every service.
func WithObserver(observer application.Observer) ServicesOption {
	return func(cfg *servicesConfig) {
		cfg.observer = observer
	}
}

// WithLogger overrides the discard logger.
func WithLogger(logger *slog.Logger) ServicesOption {
	return func(cfg *servicesConfig) {
		cfg.logger = logger
	}
}

// NewServices wires the application services the way the entrypoint does,
// backed by a migrated temporary SQLite database.
func NewServices(tb testing.TB, opts ...ServicesOption) *Services {
	tb.Helper()

	cfg := servicesConfig{}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.clock == nil {
		cfg.clock = NewClock(time.Time{})
	}
	if cfg.ids == nil {
		cfg.ids = NewIDGenerator("id")
	}
	if cfg.logger == nil {
		cfg.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	storage := NewSQLiteStorage(tb, cfg.logger)
	notifier := &RecordingNotifier{}
	options := application.Options{
		IDGenerator: cfg.ids.NextFunc(),
		Now:         cfg.clock.NowFunc(),
		Notifier:    notifier,
		Observer:    cfg.observer,
	}

	schedules := application.NewScheduleService(storage.Schedules, storage.Sessions, options, cfg.logger)
	sessions := application.NewSessionService(storage.Sessions, schedules, options, cfg.logger)
	engagement := application.NewEngagementService(storage.Engagement, storage.Attendance, options, cfg.logger)
	attendance := application.NewAttendanceService(storage.Attendance, sessions, schedules, sessions, engagement, options, cfg.logger)

	return &Services{
		Storage:     storage,
		Clock:       cfg.clock,
		IDGenerator: cfg.ids,
		Notifier:    notifier,
		Logger:      cfg.logger,
		Schedules:   schedules,
		Sessions:    sessions,
		Attendance:  attendance,
		Engagement:  engagement,
	}
}

// ConfigureSchedule stores a schedule under id using the administrator principal.
func (s *Services) ConfigureSchedule(tb testing.TB, id string, opts ...ScheduleOption) application.Schedule {
	tb.Helper()
	schedule, err := s.Schedules.ConfigureSchedule(context.Background(), application.ConfigureScheduleParams{
		Principal:  AdminPrincipal,
		ScheduleID: id,
		Input:      NewScheduleInput(opts...),
	})
	if err != nil {
		tb.Fatalf("ConfigureSchedule: %v", err)
	}
	return schedule
}

// Attend records a join now and a leave after d.
func (s *Services) Attend(tb testing.TB, sessionID, userID string, d time.Duration) application.LeaveResult {
	tb.Helper()
	ctx := context.Background()
	if _, err := s.Attendance.RecordJoin(ctx, sessionID, userID); err != nil {
		tb.Fatalf("RecordJoin: %v", err)
	}
	s.Clock.Advance(d)
	result, err := s.Attendance.RecordLeave(ctx, sessionID, userID)
	if err != nil {
		tb.Fatalf("RecordLeave: %v", err)
	}
	return result
}
