package http

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/daily-engagement/internal/application"
)

type sessionService interface {
	GetSession(ctx context.Context, sessionID string) (application.Session, error)
	Transition(ctx context.Context, principal application.Principal, sessionID, action string) (application.Session, error)
}

type attendanceService interface {
	RecordJoin(ctx context.Context, sessionID, userID string) (application.AttendanceRecord, error)
	RecordLeave(ctx context.Context, sessionID, userID string) (application.LeaveResult, error)
	ListAttendance(ctx context.Context, principal application.Principal, sessionID string) ([]application.AttendanceRecord, error)
}

// SessionHandler serves session status and attendance endpoints.
type SessionHandler struct {
	sessions   sessionService
	attendance attendanceService
	responder  responder
	logger     *slog.Logger
}

func NewSessionHandler(sessions sessionService, attendance attendanceService, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{sessions: sessions, attendance: attendance, responder: newResponder(logger), logger: logger}
}

func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.sessions.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSessionDTO(session))
}

func (h *SessionHandler) Transition(w http.ResponseWriter, r *http.Request) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.responder.writeError(r.Context(), w, http.StatusBadRequest, errBadRequestBody)
		return
	}

	principal, _ := PrincipalFromContext(r.Context())
	session, err := h.sessions.Transition(r.Context(), principal, r.PathValue("id"), req.Action)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toSessionDTO(session))
}

func (h *SessionHandler) Join(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	record, err := h.attendance.RecordJoin(r.Context(), r.PathValue("id"), principal.UserID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toAttendanceDTO(record))
}

func (h *SessionHandler) Leave(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	result, err := h.attendance.RecordLeave(r.Context(), r.PathValue("id"), principal.UserID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	if len(result.Warnings) > 0 {
		handlerLogger(r.Context(), h.logger, "SessionHandler", "Leave", "session_id", result.Session.ID).
			WarnContext(r.Context(), "leave recorded with warnings", "warnings", result.Warnings)
	}

	resp := leaveResponse{
		Attendance:      toAttendanceDTO(result.Record),
		Session:         toSessionDTO(result.Session),
		CreditedSeconds: int64(result.Credited / time.Second),
		CreditedMillis:  result.Credited.Milliseconds(),
		Qualified:       result.Qualified,
		SessionStarted:  result.SessionStarted,
		Warnings:        result.Warnings,
	}
	if result.Engagement != nil {
		engagement := toEngagementDTO(*result.Engagement)
		resp.Engagement = &engagement
	}
	if result.Matured != nil {
		tree := toForestTreeDTO(*result.Matured)
		resp.Matured = &tree
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, resp)
}

func (h *SessionHandler) Attendance(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	records, err := h.attendance.ListAttendance(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}

	out := make([]attendanceDTO, 0, len(records))
	for _, record := range records {
		out = append(out, toAttendanceDTO(record))
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, attendanceListResponse{SessionID: r.PathValue("id"), Attendance: out})
}

type transitionRequest struct {
	Action string `json:"action"`
}

type sessionDTO struct {
	ID             string     `json:"id"`
	ScheduleID     string     `json:"schedule_id"`
	Date           string     `json:"date"`
	StartsAt       time.Time  `json:"starts_at"`
	EndsAt         *time.Time `json:"ends_at,omitempty"`
	Status         string     `json:"status"`
	ReminderSentAt *time.Time `json:"reminder_sent_at,omitempty"`
	Version        int64      `json:"version"`
}

func toSessionDTO(session application.Session) sessionDTO {
	return sessionDTO{
		ID:             session.ID,
		ScheduleID:     session.ScheduleID,
		Date:           session.Date,
		StartsAt:       session.StartsAt.UTC(),
		EndsAt:         utcPtr(session.EndsAt),
		Status:         string(session.Status),
		ReminderSentAt: utcPtr(session.ReminderSentAt),
		Version:        session.Version,
	}
}

type attendanceDTO struct {
	SessionID       string     `json:"session_id"`
	UserID          string     `json:"user_id"`
	FirstJoinedAt   time.Time  `json:"first_joined_at"`
	JoinedAt        *time.Time `json:"joined_at,omitempty"`
	LeftAt          *time.Time `json:"left_at,omitempty"`
	DurationSeconds int64      `json:"duration_seconds"`
	DurationMillis  int64      `json:"duration_ms"`
	JoinCount       int        `json:"join_count"`
	Qualified       bool       `json:"qualified"`
	QualifiedAt     *time.Time `json:"qualified_at,omitempty"`
}

func toAttendanceDTO(record application.AttendanceRecord) attendanceDTO {
	return attendanceDTO{
		SessionID:       record.SessionID,
		UserID:          record.UserID,
		FirstJoinedAt:   record.FirstJoinedAt.UTC(),
		JoinedAt:        utcPtr(record.JoinedAt),
		LeftAt:          utcPtr(record.LeftAt),
		DurationSeconds: record.DurationSeconds,
		DurationMillis:  record.Duration.Milliseconds(),
		JoinCount:       record.JoinCount,
		Qualified:       record.Qualified(),
		QualifiedAt:     utcPtr(record.QualifiedAt),
	}
}

type leaveResponse struct {
	Attendance      attendanceDTO  `json:"attendance"`
	Session         sessionDTO     `json:"session"`
	CreditedSeconds int64          `json:"credited_seconds"`
	CreditedMillis  int64          `json:"credited_ms"`
	Qualified       bool           `json:"qualified"`
	SessionStarted  bool           `json:"session_started"`
	Engagement      *engagementDTO `json:"engagement,omitempty"`
	Matured         *forestTreeDTO `json:"matured_tree,omitempty"`
	Warnings        []string       `json:"warnings,omitempty"`
}

type attendanceListResponse struct {
	SessionID  string          `json:"session_id"`
	Attendance []attendanceDTO `json:"attendance"`
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}
