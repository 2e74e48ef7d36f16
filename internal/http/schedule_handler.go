package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/example/daily-engagement/internal/application"
)

type scheduleService interface {
	ConfigureSchedule(ctx context.Context, params application.ConfigureScheduleParams) (application.Schedule, error)
	DeactivateSchedule(ctx context.Context, principal application.Principal, scheduleID string) (application.Schedule, error)
	GetSchedule(ctx context.Context, scheduleID string) (application.Schedule, error)
	ListSchedules(ctx context.Context, filter application.ScheduleListFilter) ([]application.Schedule, error)
	EnsureTodaySession(ctx context.Context, scheduleID string) (application.MaterializeResult, error)
	GetSession(ctx context.Context, scheduleID, date string) (application.Session, error)
	UpcomingSessions(ctx context.Context, scheduleID string, days int) ([]application.UpcomingOccurrence, error)
}

const defaultUpcomingDays = 7

type ScheduleHandler struct {
	service   scheduleService
	responder responder
	logger    *slog.Logger
}

func NewScheduleHandler(service scheduleService, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{service: service, responder: newResponder(logger), logger: logger}
}

func (h *ScheduleHandler) List(w http.ResponseWriter, r *http.Request) {
	activeOnly, _ := strconv.ParseBool(r.URL.Query().Get("active"))
	schedules, err := h.service.ListSchedules(r.Context(), application.ScheduleListFilter{ActiveOnly: activeOnly})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]scheduleDTO, 0, len(schedules))
	for _, schedule := range schedules {
		out = append(out, toScheduleDTO(schedule))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, scheduleListResponse{Schedules: out})
}

func (h *ScheduleHandler) Get(w http.ResponseWriter, r *http.Request) {
	schedule, err := h.service.GetSchedule(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toScheduleDTO(schedule))
}

func (h *ScheduleHandler) Configure(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	schedule, err := h.service.ConfigureSchedule(r.Context(), application.ConfigureScheduleParams{
		Principal:  principal,
		ScheduleID: r.PathValue("id"),
		Input:      req.toInput(),
	})
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	status := http.StatusOK
	if schedule.Version == 1 {
		status = http.StatusCreated
	}
	handlerLogger(r.Context(), h.logger, "ScheduleHandler", "Configure", "schedule_id", schedule.ID).
		InfoContext(r.Context(), "schedule configured", "version", schedule.Version)
	h.responder.writeJSON(r.Context(), w, status, toScheduleDTO(schedule))
}

func (h *ScheduleHandler) Deactivate(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	schedule, err := h.service.DeactivateSchedule(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toScheduleDTO(schedule))
}

func (h *ScheduleHandler) Today(w http.ResponseWriter, r *http.Request) {
	result, err := h.service.EnsureTodaySession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	resp := todayResponse{
		ScheduleID: result.Schedule.ID,
		Date:       result.Date,
		Created:    result.Created,
		OffDay:     result.OffDay,
		Inactive:   result.Inactive,
	}
	if result.Session != nil {
		session := toSessionDTO(*result.Session)
		resp.Session = &session
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *ScheduleHandler) SessionByDate(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.GetSession(r.Context(), r.PathValue("id"), r.PathValue("date"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSessionDTO(session))
}

func (h *ScheduleHandler) Upcoming(w http.ResponseWriter, r *http.Request) {
	days := defaultUpcomingDays
	if value := strings.TrimSpace(r.URL.Query().Get("days")); value != "" {
		parsed, err := strconv.Atoi(value)
		if err != nil {
			h.responder.writeError(r.Context(), w, http.StatusBadRequest, errInvalidDays)
			return
		}
		days = parsed
	}

	occurrences, err := h.service.UpcomingSessions(r.Context(), r.PathValue("id"), days)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]occurrenceDTO, 0, len(occurrences))
	for _, occurrence := range occurrences {
		out = append(out, occurrenceDTO{Date: occurrence.Date, StartsAt: occurrence.StartsAt.UTC()})
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, upcomingResponse{ScheduleID: r.PathValue("id"), Occurrences: out})
}

type scheduleRequest struct {
	Name                string `json:"name"`
	MeetingLink         string `json:"meeting_link"`
	Timezone            string `json:"timezone"`
	TimeOfDay           string `json:"time_of_day"`
	RecurringDays       []int  `json:"recurring_days"`
	MinimumMinutes      int    `json:"minimum_minutes"`
	MaturationDays      int    `json:"maturation_days"`
	ReminderEnabled     bool   `json:"reminder_enabled"`
	ReminderLeadMinutes int    `json:"reminder_lead_minutes"`
	Active              *bool  `json:"active"`
}

func (req scheduleRequest) toInput() application.ScheduleInput {
	return application.ScheduleInput{
		Name:                req.Name,
		MeetingLink:         req.MeetingLink,
		Timezone:            req.Timezone,
		TimeOfDay:           req.TimeOfDay,
		RecurringDays:       req.RecurringDays,
		MinimumMinutes:      req.MinimumMinutes,
		MaturationDays:      req.MaturationDays,
		ReminderEnabled:     req.ReminderEnabled,
		ReminderLeadMinutes: req.ReminderLeadMinutes,
		Active:              req.Active,
	}
}

type scheduleDTO struct {
	ID                  string    `json:"id"`
	Name                string    `json:"name"`
	MeetingLink         string    `json:"meeting_link"`
	Timezone            string    `json:"timezone"`
	TimeOfDay           string    `json:"time_of_day"`
	RecurringDays       []int     `json:"recurring_days"`
	MinimumMinutes      int       `json:"minimum_minutes"`
	MaturationDays      int       `json:"maturation_days"`
	ReminderEnabled     bool      `json:"reminder_enabled"`
	ReminderLeadMinutes int       `json:"reminder_lead_minutes"`
	Active              bool      `json:"active"`
	Version             int64     `json:"version"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`
}

func toScheduleDTO(schedule application.Schedule) scheduleDTO {
	days := schedule.RecurringDays
	if days == nil {
		days = []int{}
	}
	return scheduleDTO{
		ID:                  schedule.ID,
		Name:                schedule.Name,
		MeetingLink:         schedule.MeetingLink,
		Timezone:            schedule.Timezone,
		TimeOfDay:           schedule.TimeOfDay,
		RecurringDays:       days,
		MinimumMinutes:      schedule.MinimumMinutes,
		MaturationDays:      schedule.MaturationDays,
		ReminderEnabled:     schedule.ReminderEnabled,
		ReminderLeadMinutes: schedule.ReminderLeadMinutes,
		Active:              schedule.Active,
		Version:             schedule.Version,
		CreatedAt:           schedule.CreatedAt.UTC(),
		UpdatedAt:           schedule.UpdatedAt.UTC(),
	}
}

type scheduleListResponse struct {
	Schedules []scheduleDTO `json:"schedules"`
}

type todayResponse struct {
	ScheduleID string      `json:"schedule_id"`
	Date       string      `json:"date"`
	Session    *sessionDTO `json:"session"`
	Created    bool        `json:"created"`
	OffDay     bool        `json:"off_day"`
	Inactive   bool        `json:"inactive"`
}

type occurrenceDTO struct {
	Date     string    `json:"date"`
	StartsAt time.Time `json:"starts_at"`
}

type upcomingResponse struct {
	ScheduleID  string          `json:"schedule_id"`
	Occurrences []occurrenceDTO `json:"occurrences"`
}
