package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/example/daily-engagement/internal/application"
)

type engagementService interface {
	GetEngagementState(ctx context.Context, userID string) (application.EngagementView, error)
	RebuildEngagement(ctx context.Context, principal application.Principal, userID string) (application.EngagementView, error)
}

// EngagementHandler serves streak and forest endpoints. Users read their own
// state; administrators read and rebuild anyone's.
type EngagementHandler struct {
	service   engagementService
	responder responder
}

func NewEngagementHandler(service engagementService, logger *slog.Logger) *EngagementHandler {
	return &EngagementHandler{service: service, responder: newResponder(logger)}
}

func (h *EngagementHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")
	principal, _ := PrincipalFromContext(r.Context())
	if !principal.IsAdmin && principal.UserID != userID {
		h.responder.handleServiceError(r.Context(), w, application.ErrUnauthorized)
		return
	}

	view, err := h.service.GetEngagementState(r.Context(), userID)
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toEngagementDTO(view))
}

func (h *EngagementHandler) Rebuild(w http.ResponseWriter, r *http.Request) {
	principal, _ := PrincipalFromContext(r.Context())
	view, err := h.service.RebuildEngagement(r.Context(), principal, r.PathValue("id"))
	if err != nil {
		h.responder.handleServiceError(r.Context(), w, err)
		return
	}
	h.responder.writeJSON(r.Context(), w, http.StatusOK, toEngagementDTO(view))
}

type treeDTO struct {
	StartedOn     string  `json:"started_on,omitempty"`
	GrowthDays    int     `json:"growth_days"`
	GrowthPercent float64 `json:"growth_percent"`
}

type forestTreeDTO struct {
	ID            string  `json:"id"`
	StartedOn     string  `json:"started_on"`
	MaturedOn     string  `json:"matured_on"`
	GrowthDays    int     `json:"growth_days"`
	GrowthPercent float64 `json:"growth_percent"`
}

func toForestTreeDTO(tree application.ForestTree) forestTreeDTO {
	return forestTreeDTO{
		ID:            tree.ID,
		StartedOn:     tree.StartedOn,
		MaturedOn:     tree.MaturedOn,
		GrowthDays:    tree.GrowthDays,
		GrowthPercent: tree.GrowthPercent,
	}
}

type engagementDTO struct {
	UserID          string          `json:"user_id"`
	CurrentStreak   int             `json:"current_streak"`
	LongestStreak   int             `json:"longest_streak"`
	LastQualifiedOn string          `json:"last_qualified_on,omitempty"`
	LastQualifiedAt *time.Time      `json:"last_qualified_at,omitempty"`
	Tree            treeDTO         `json:"tree"`
	TotalTreesGrown int             `json:"total_trees_grown"`
	Forest          []forestTreeDTO `json:"forest"`
	Version         int64           `json:"version"`
}

func toEngagementDTO(view application.EngagementView) engagementDTO {
	forest := make([]forestTreeDTO, 0, len(view.Forest))
	for _, tree := range view.Forest {
		forest = append(forest, toForestTreeDTO(tree))
	}
	return engagementDTO{
		UserID:          view.UserID,
		CurrentStreak:   view.CurrentStreak,
		LongestStreak:   view.LongestStreak,
		LastQualifiedOn: view.LastQualifiedOn,
		LastQualifiedAt: utcPtr(view.LastQualifiedAt),
		Tree: treeDTO{
			StartedOn:     view.Tree.StartedOn,
			GrowthDays:    view.Tree.GrowthDays,
			GrowthPercent: view.Tree.GrowthPercent,
		},
		TotalTreesGrown: view.TotalTreesGrown,
		Forest:          forest,
		Version:         view.Version,
	}
}
