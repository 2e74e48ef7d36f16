// Package metrics exposes Prometheus collectors for the engagement service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/daily-engagement/internal/lifecycle"
)

const namespace = "engagement"

// Metrics records HTTP traffic and domain events. A nil *Metrics is a valid
// no-op observer.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal    *prometheus.CounterVec
	httpDuration         *prometheus.HistogramVec
	sessionsMaterialized *prometheus.CounterVec
	sessionTransitions   *prometheus.CounterVec
	attendanceEvents     *prometheus.CounterVec
	attendanceQualified  prometheus.Counter
	streakUpdates        *prometheus.CounterVec
	treesMatured         prometheus.Counter
	progressionFailures  prometheus.Counter
	conflictRetries      *prometheus.CounterVec
	remindersSent        prometheus.Counter
}

// NewMetrics registers the collectors on a fresh registry together with the
// Go runtime and process collectors.
func NewMetrics() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		httpRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total count of HTTP requests processed by route and status.",
		}, []string{"route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "Histogram of HTTP request durations by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		sessionsMaterialized: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_materialized_total",
			Help:      "Daily session lookups by whether the row was created.",
		}, []string{"created"}),
		sessionTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Applied session status transitions.",
		}, []string{"action", "implicit"}),
		attendanceEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_events_total",
			Help:      "Recorded joins and leaves.",
		}, []string{"kind"}),
		attendanceQualified: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "attendance_qualified_total",
			Help:      "Attendance records that crossed the qualifying minimum.",
		}),
		streakUpdates: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streak_updates_total",
			Help:      "Counted qualifying days by whether the streak was reset.",
		}, []string{"reset"}),
		treesMatured: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "trees_matured_total",
			Help:      "Trees moved into a forest.",
		}),
		progressionFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "progression_failures_total",
			Help:      "Qualifying attendance that could not update engagement.",
		}),
		conflictRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conflict_retries_total",
			Help:      "Optimistic version conflicts retried by operation.",
		}, []string{"operation"}),
		remindersSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reminders_sent_total",
			Help:      "Session reminders claimed and sent.",
		}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpDuration,
		m.sessionsMaterialized,
		m.sessionTransitions,
		m.attendanceEvents,
		m.attendanceQualified,
		m.streakUpdates,
		m.treesMatured,
		m.progressionFailures,
		m.conflictRetries,
		m.remindersSent,
	)
	return m
}

// Registry returns the registry holding the collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(status int) {
	s.status = status
	s.ResponseWriter.WriteHeader(status)
}

// WrapHandler counts requests and observes their duration under route.
func (m *Metrics) WrapHandler(route string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(recorder, r)

		duration := time.Since(start).Seconds()
		if m != nil {
			m.httpRequestsTotal.WithLabelValues(route, strconv.Itoa(recorder.status)).Inc()
			m.httpDuration.WithLabelValues(route).Observe(duration)
		}
	})
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionMaterialized(created bool) {
	if m == nil {
		return
	}
	m.sessionsMaterialized.WithLabelValues(strconv.FormatBool(created)).Inc()
}

func (m *Metrics) SessionTransitioned(action lifecycle.Action, implicit bool) {
	if m == nil {
		return
	}
	m.sessionTransitions.WithLabelValues(string(action), strconv.FormatBool(implicit)).Inc()
}

func (m *Metrics) AttendanceRecorded(kind string) {
	if m == nil {
		return
	}
	m.attendanceEvents.WithLabelValues(kind).Inc()
}

func (m *Metrics) AttendanceQualified() {
	if m == nil {
		return
	}
	m.attendanceQualified.Inc()
}

func (m *Metrics) StreakAdvanced(reset bool) {
	if m == nil {
		return
	}
	m.streakUpdates.WithLabelValues(strconv.FormatBool(reset)).Inc()
}

func (m *Metrics) TreeMatured() {
	if m == nil {
		return
	}
	m.treesMatured.Inc()
}

func (m *Metrics) ProgressionFailed() {
	if m == nil {
		return
	}
	m.progressionFailures.Inc()
}

func (m *Metrics) ConflictRetried(operation string) {
	if m == nil {
		return
	}
	m.conflictRetries.WithLabelValues(operation).Inc()
}

// ReminderSent counts a delivered session reminder.
func (m *Metrics) ReminderSent() {
	if m == nil {
		return
	}
	m.remindersSent.Inc()
}
