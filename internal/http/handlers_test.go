package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	_ "time/tzdata"

	"github.com/example/daily-engagement/internal/testfixtures"
)

const testAdminKey = "correct horse battery staple"

type staticKeyChecker string

func (k staticKeyChecker) Verify(key string) bool { return key == string(k) }

type apiHarness struct {
	services *testfixtures.Services
	handler  http.Handler
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	svc := testfixtures.NewServices(t)
	if _, err := svc.Clock.SetLocal("Asia/Kolkata", 2024, time.March, 4, 19, 0); err != nil {
		t.Fatalf("SetLocal: %v", err)
	}
	handler := NewRouter(RouterConfig{
		Schedules:  NewScheduleHandler(svc.Schedules, svc.Logger),
		Sessions:   NewSessionHandler(svc.Sessions, svc.Attendance, svc.Logger),
		Engagement: NewEngagementHandler(svc.Engagement, svc.Logger),
		Identity:   RequireIdentity(staticKeyChecker(testAdminKey), svc.Logger),
		Middleware: []func(http.Handler) http.Handler{RequestLogger(svc.Logger)},
	})
	return &apiHarness{services: svc, handler: handler}
}

func (h *apiHarness) do(t *testing.T, method, path, userID string, admin bool, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if userID != "" {
		req.Header.Set(UserIDHeader, userID)
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+testAdminKey)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

var eveningCircle = scheduleRequest{
	Name:                "Evening circle",
	MeetingLink:         "https://meet.example.com/evening",
	Timezone:            "Asia/Kolkata",
	TimeOfDay:           "19:00",
	RecurringDays:       []int{1, 2, 3, 4, 5},
	MinimumMinutes:      15,
	ReminderEnabled:     true,
	ReminderLeadMinutes: 30,
}

func TestScheduleHandlers(t *testing.T) {
	t.Parallel()

	t.Run("configure requires administrator and reports create then replace", func(t *testing.T) {
		t.Parallel()
		api := newAPIHarness(t)

		if rec := api.do(t, http.MethodPut, "/schedules/org-1", "user-1", false, eveningCircle); rec.Code != http.StatusForbidden {
			t.Fatalf("expected 403 for non-admin, got %d", rec.Code)
		}
		rec := api.do(t, http.MethodPut, "/schedules/org-1", "admin", true, eveningCircle)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
		}
		created := decode[scheduleDTO](t, rec)
		if created.MaturationDays != 5 || !created.Active || created.Version != 1 {
			t.Fatalf("unexpected schedule: %+v", created)
		}
		if rec := api.do(t, http.MethodPut, "/schedules/org-1", "admin", true, eveningCircle); rec.Code != http.StatusOK {
			t.Fatalf("expected 200 on replace, got %d", rec.Code)
		}
		if rec := api.do(t, http.MethodGet, "/schedules/org-1", "user-1", false, nil); rec.Code != http.StatusOK {
			t.Fatalf("expected schedule read, got %d", rec.Code)
		}
	})

	t.Run("validation errors map to 422 with field details", func(t *testing.T) {
		t.Parallel()
		api := newAPIHarness(t)

		invalid := eveningCircle
		invalid.Timezone = "Mars/Olympus"
		invalid.TimeOfDay = "25:00"
		rec := api.do(t, http.MethodPut, "/schedules/org-1", "admin", true, invalid)
		if rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422, got %d", rec.Code)
		}
		resp := decode[errorResponse](t, rec)
		if resp.ErrorCode != "validation" || resp.Errors["timezone"] == "" || resp.Errors["timeOfDay"] == "" {
			t.Fatalf("unexpected error body: %+v", resp)
		}
	})

	t.Run("today and lookups", func(t *testing.T) {
		t.Parallel()
		api := newAPIHarness(t)
		api.services.ConfigureSchedule(t, "org-1")

		rec := api.do(t, http.MethodGet, "/schedules/org-1/today", "user-1", false, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		today := decode[todayResponse](t, rec)
		if today.Session == nil || today.Session.Status != "scheduled" || today.Date != "2024-03-04" {
			t.Fatalf("unexpected today response: %+v", today)
		}

		if rec := api.do(t, http.MethodGet, "/schedules/org-1/sessions/2024-03-04", "user-1", false, nil); rec.Code != http.StatusOK {
			t.Fatalf("expected session by date, got %d", rec.Code)
		}
		if rec := api.do(t, http.MethodGet, "/schedules/org-1/sessions/04-03-2024", "user-1", false, nil); rec.Code != http.StatusUnprocessableEntity {
			t.Fatalf("expected 422 for malformed date, got %d", rec.Code)
		}
		if rec := api.do(t, http.MethodGet, "/schedules/missing/today", "user-1", false, nil); rec.Code != http.StatusNotFound {
			t.Fatalf("expected 404 for unknown schedule, got %d", rec.Code)
		}
		if rec := api.do(t, http.MethodGet, "/schedules/org-1/upcoming?days=abc", "user-1", false, nil); rec.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for bad days, got %d", rec.Code)
		}

		rec = api.do(t, http.MethodGet, "/schedules/org-1/upcoming?days=7", "user-1", false, nil)
		upcoming := decode[upcomingResponse](t, rec)
		if len(upcoming.Occurrences) != 5 {
			t.Fatalf("expected five weekday occurrences in a week, got %+v", upcoming.Occurrences)
		}
	})
}

func TestSessionHandlers(t *testing.T) {
	t.Parallel()

	api := newAPIHarness(t)
	api.services.ConfigureSchedule(t, "org-1")
	today := decode[todayResponse](t, api.do(t, http.MethodGet, "/schedules/org-1/today", "user-1", false, nil))
	sessionPath := "/sessions/" + today.Session.ID

	if rec := api.do(t, http.MethodPost, sessionPath+"/leave", "user-1", false, nil); rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for leave without join, got %d", rec.Code)
	}

	if rec := api.do(t, http.MethodPost, sessionPath+"/join", "user-1", false, nil); rec.Code != http.StatusOK {
		t.Fatalf("join: %d %s", rec.Code, rec.Body.String())
	}
	api.services.Clock.Advance(12 * time.Minute)
	first := decode[leaveResponse](t, api.do(t, http.MethodPost, sessionPath+"/leave", "user-1", false, nil))
	if first.Qualified || !first.SessionStarted || first.Session.Status != "live" || first.CreditedSeconds != 720 {
		t.Fatalf("unexpected first leave: %+v", first)
	}

	if rec := api.do(t, http.MethodPost, sessionPath+"/leave", "user-1", false, nil); rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for a stale leave, got %d", rec.Code)
	}

	api.do(t, http.MethodPost, sessionPath+"/join", "user-1", false, nil)
	api.services.Clock.Advance(5 * time.Minute)
	second := decode[leaveResponse](t, api.do(t, http.MethodPost, sessionPath+"/leave", "user-1", false, nil))
	if !second.Qualified || second.Attendance.DurationSeconds != 1020 || second.Attendance.DurationMillis != 1020000 || !second.Attendance.Qualified || second.Engagement == nil || second.Engagement.CurrentStreak != 1 {
		t.Fatalf("unexpected second leave: %+v", second)
	}

	if rec := api.do(t, http.MethodGet, sessionPath+"/attendance", "user-1", false, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for attendance listing, got %d", rec.Code)
	}
	listing := decode[attendanceListResponse](t, api.do(t, http.MethodGet, sessionPath+"/attendance", "admin", true, nil))
	if len(listing.Attendance) != 1 || listing.Attendance[0].JoinCount != 2 {
		t.Fatalf("unexpected attendance listing: %+v", listing)
	}

	rec := api.do(t, http.MethodPost, sessionPath+"/transitions", "admin", true, transitionRequest{Action: "complete"})
	if rec.Code != http.StatusOK || decode[sessionDTO](t, rec).EndsAt == nil {
		t.Fatalf("expected completed session, got %d %s", rec.Code, rec.Body.String())
	}
	rec = api.do(t, http.MethodPost, sessionPath+"/transitions", "admin", true, transitionRequest{Action: "complete"})
	if rec.Code != http.StatusConflict || decode[errorResponse](t, rec).ErrorCode != "invalid_transition" {
		t.Fatalf("expected 409 invalid_transition, got %d %s", rec.Code, rec.Body.String())
	}

	api.do(t, http.MethodPost, sessionPath+"/transitions", "admin", true, transitionRequest{Action: "cancel"})
	rec = api.do(t, http.MethodPost, sessionPath+"/join", "user-2", false, nil)
	if rec.Code != http.StatusConflict || decode[errorResponse](t, rec).ErrorCode != "session_closed" {
		t.Fatalf("expected 409 session_closed, got %d %s", rec.Code, rec.Body.String())
	}
}

func TestEngagementHandlers(t *testing.T) {
	t.Parallel()

	api := newAPIHarness(t)

	rec := api.do(t, http.MethodGet, "/users/user-1/engagement", "user-1", false, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected own engagement, got %d", rec.Code)
	}
	view := decode[engagementDTO](t, rec)
	if view.UserID != "user-1" || view.CurrentStreak != 0 || view.Forest == nil {
		t.Fatalf("unexpected zero state: %+v", view)
	}

	if rec := api.do(t, http.MethodGet, "/users/user-1/engagement", "user-2", false, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for another user's engagement, got %d", rec.Code)
	}
	if rec := api.do(t, http.MethodGet, "/users/user-1/engagement", "admin", true, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected administrator read, got %d", rec.Code)
	}
	if rec := api.do(t, http.MethodPost, "/users/user-1/engagement/rebuild", "user-1", false, nil); rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for rebuild, got %d", rec.Code)
	}
	if rec := api.do(t, http.MethodPost, "/users/user-1/engagement/rebuild", "admin", true, nil); rec.Code != http.StatusOK {
		t.Fatalf("expected rebuild, got %d", rec.Code)
	}
}
