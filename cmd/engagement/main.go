package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "time/tzdata"

	"github.com/google/uuid"

	"github.com/example/daily-engagement/internal/application"
	"github.com/example/daily-engagement/internal/config"
	httptransport "github.com/example/daily-engagement/internal/http"
	"github.com/example/daily-engagement/internal/logging"
	"github.com/example/daily-engagement/internal/metrics"
	"github.com/example/daily-engagement/internal/notify"
	"github.com/example/daily-engagement/internal/persistence/sqlite"
	"github.com/example/daily-engagement/internal/persistence/sqlite/migration"
	"github.com/example/daily-engagement/internal/reminder"
)

// systemPrincipal applies the schedule file at startup.
var systemPrincipal = application.Principal{UserID: "system", IsAdmin: true}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-admin-key" {
		if err := hashAdminKey(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	bootstrap := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	cfg, err := config.Load()
	if err != nil {
		bootstrap.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	logger, err := logging.New(os.Stdout, cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		bootstrap.Error("failed to build logger", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("engagement service stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	app, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer app.close()

	server := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           app.handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to shutdown server", "error", err)
		}
		if err := app.reminders.Stop(shutdownCtx); err != nil {
			logger.Error("failed to stop reminder scheduler", "error", err)
		}
	}()

	app.reminders.Start()
	logger.Info("engagement API listening", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server encountered error: %w", err)
	}
	return nil
}

type app struct {
	storage         *sqlite.Storage
	handler         http.Handler
	schedules       *application.ScheduleService
	metrics         *metrics.Metrics
	reminders       *reminder.Scheduler
	kafka           *notify.KafkaNotifier
	logger          *slog.Logger
	shutdownTimeout time.Duration
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (*app, error) {
	verifier, err := application.NewAdminKeyVerifier(cfg.AdminKeyHash)
	if err != nil {
		return nil, fmt.Errorf("admin key hash: %w", err)
	}

	storage, err := sqlite.Open(ctx, migration.DefaultSQLiteConfig(cfg.SQLitePath), logger)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	if err := storage.Migrate(ctx); err != nil {
		_ = storage.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	a := &app{storage: storage, metrics: metrics.NewMetrics(), logger: logger, shutdownTimeout: cfg.ShutdownTimeout}
	notifier := a.buildNotifier(cfg)

	options := application.Options{
		IDGenerator: uuid.NewString,
		Now:         time.Now,
		Notifier:    notifier,
		Observer:    a.metrics,
		MaxRetries:  cfg.MaxRetries,
	}
	schedules := application.NewScheduleService(storage.Schedules, storage.Sessions, options, logger)
	sessions := application.NewSessionService(storage.Sessions, schedules, options, logger)
	engagement := application.NewEngagementService(storage.Engagement, storage.Attendance, options, logger)
	attendance := application.NewAttendanceService(storage.Attendance, sessions, schedules, sessions, engagement, options, logger)
	a.schedules = schedules

	if cfg.ScheduleFile != "" {
		if err := applyScheduleFile(ctx, cfg.ScheduleFile, schedules, logger); err != nil {
			a.close()
			return nil, err
		}
	}

	job := reminder.NewJob(schedules, notifier, a.metrics, time.Now, logger)
	a.reminders, err = reminder.NewScheduler(job, cfg.ReminderCron, logger)
	if err != nil {
		a.close()
		return nil, err
	}

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Schedules:  httptransport.NewScheduleHandler(schedules, logger),
		Sessions:   httptransport.NewSessionHandler(sessions, attendance, logger),
		Engagement: httptransport.NewEngagementHandler(engagement, logger),
		Identity:   httptransport.RequireIdentity(verifier, logger),
		Instrument: a.metrics.WrapHandler,
		Metrics:    a.metrics.Handler(),
		Health:     storage.Ping,
		Middleware: []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})
	return a, nil
}

// buildNotifier always logs events and adds Kafka and Telegram delivery when
// configured. A Telegram bot that cannot be reached is skipped.
func (a *app) buildNotifier(cfg config.Config) application.Notifier {
	notifiers := []application.Notifier{notify.NewLogNotifier(a.logger)}

	if len(cfg.KafkaBrokers) > 0 {
		kafkaNotifier, err := notify.NewKafkaNotifier(notify.KafkaConfig{Brokers: cfg.KafkaBrokers, Topic: cfg.KafkaTopic}, a.logger)
		if err != nil {
			a.logger.Error("kafka notifier disabled", "error", err)
		} else {
			kafkaNotifier.Start()
			a.kafka = kafkaNotifier
			notifiers = append(notifiers, kafkaNotifier)
		}
	}

	if cfg.TelegramToken != "" {
		telegram, err := notify.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID, a.logger)
		if err != nil {
			a.logger.Error("telegram notifier disabled", "error", err)
		} else {
			notifiers = append(notifiers, telegram)
		}
	}

	return notify.NewFanout(notifiers...)
}

// close stops the Kafka delivery loop and releases storage. It is safe to
// call more than once.
func (a *app) close() {
	if a.kafka != nil {
		timeout := a.shutdownTimeout
		if timeout <= 0 {
			timeout = 5 * time.Second
		}
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		if err := a.kafka.Stop(ctx); err != nil {
			a.logger.Error("failed to stop kafka notifier", "error", err)
		}
		cancel()
	}
	if a.storage == nil {
		return
	}
	if err := a.storage.Close(); err != nil {
		a.logger.Error("failed to close storage", "error", err)
	}
	a.storage = nil
}

func applyScheduleFile(ctx context.Context, path string, schedules *application.ScheduleService, logger *slog.Logger) error {
	entries, err := config.LoadScheduleFile(path)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		schedule, err := schedules.ConfigureSchedule(ctx, application.ConfigureScheduleParams{
			Principal:  systemPrincipal,
			ScheduleID: entry.ID,
			Input:      entry.Input,
		})
		if err != nil {
			return fmt.Errorf("configure schedule %s: %w", entry.ID, err)
		}
		logger.Info("schedule applied", "schedule_id", schedule.ID, "version", schedule.Version, "active", schedule.Active)
	}
	return nil
}

// hashAdminKey reads a key from the first line of r and writes its encoded
// argon2id hash to w.
func hashAdminKey(r io.Reader, w io.Writer) error {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("read admin key: %w", err)
	}
	key := strings.TrimSpace(line)
	if key == "" {
		return errors.New("admin key must not be empty")
	}
	hash, err := application.HashAdminKey(key, application.DefaultArgon2idParams)
	if err != nil {
		return fmt.Errorf("hash admin key: %w", err)
	}
	_, err = fmt.Fprintln(w, hash)
	return err
}
