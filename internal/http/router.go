package http

import (
	"context"
	"net/http"
)

type RouterConfig struct {
	Schedules  *ScheduleHandler
	Sessions   *SessionHandler
	Engagement *EngagementHandler
	// Identity guards every API route. Health and metrics routes are public.
	Identity func(http.Handler) http.Handler
	// Instrument wraps each route handler with its pattern as label.
	Instrument func(route string, next http.Handler) http.Handler
	Metrics    http.Handler
	Health     func(ctx context.Context) error
	Middleware []func(http.Handler) http.Handler
}

func NewRouter(cfg RouterConfig) http.Handler {
	mux := http.NewServeMux()

	register := func(pattern string, handler http.HandlerFunc, public bool) {
		var h http.Handler = handler
		if !public && cfg.Identity != nil {
			h = cfg.Identity(h)
		}
		if cfg.Instrument != nil {
			h = cfg.Instrument(pattern, h)
		}
		mux.Handle(pattern, h)
	}

	register("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		if cfg.Health != nil {
			if err := cfg.Health(r.Context()); err != nil {
				http.Error(w, "unavailable", http.StatusServiceUnavailable)
				return
			}
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}, true)

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	if h := cfg.Schedules; h != nil {
		register("GET /schedules", h.List, false)
		register("GET /schedules/{id}", h.Get, false)
		register("PUT /schedules/{id}", h.Configure, false)
		register("POST /schedules/{id}/deactivate", h.Deactivate, false)
		register("GET /schedules/{id}/today", h.Today, false)
		register("GET /schedules/{id}/sessions/{date}", h.SessionByDate, false)
		register("GET /schedules/{id}/upcoming", h.Upcoming, false)
	}

	if h := cfg.Sessions; h != nil {
		register("GET /sessions/{id}", h.Get, false)
		register("POST /sessions/{id}/transitions", h.Transition, false)
		register("POST /sessions/{id}/join", h.Join, false)
		register("POST /sessions/{id}/leave", h.Leave, false)
		register("GET /sessions/{id}/attendance", h.Attendance, false)
	}

	if h := cfg.Engagement; h != nil {
		register("GET /users/{id}/engagement", h.Get, false)
		register("POST /users/{id}/engagement/rebuild", h.Rebuild, false)
	}

	var handler http.Handler = mux
	if len(cfg.Middleware) > 0 {
		for i := len(cfg.Middleware) - 1; i >= 0; i-- {
			if cfg.Middleware[i] != nil {
				handler = cfg.Middleware[i](handler)
			}
		}
	}

	return handler
}
