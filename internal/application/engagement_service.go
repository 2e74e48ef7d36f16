package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/example/daily-engagement/internal/persistence"
	"github.com/example/daily-engagement/internal/progression"
	"github.com/example/daily-engagement/internal/recurrence"
)

// EngagementRepository captures the engagement persistence needed by the service.
type EngagementRepository interface {
	GetEngagement(ctx context.Context, userID string) (persistence.EngagementState, error)
	SaveEngagement(ctx context.Context, state persistence.EngagementState, expectedVersion int64, matured []persistence.ForestTree) (persistence.EngagementState, error)
	ReplaceEngagement(ctx context.Context, state persistence.EngagementState, expectedVersion int64, forest []persistence.ForestTree) (persistence.EngagementState, error)
	ListForest(ctx context.Context, userID string) ([]persistence.ForestTree, error)
}

// QualifiedDayLister lists the dates on which a user qualified.
type QualifiedDayLister interface {
	ListQualifiedDays(ctx context.Context, userID string) ([]persistence.QualifiedDay, error)
}

// EngagementService maintains streaks and tree growth from qualifying attendance.
type EngagementService struct {
	states    EngagementRepository
	qualified QualifiedDayLister
	opts      Options
	logger    *slog.Logger
}

// NewEngagementService wires dependencies for engagement progression.
func NewEngagementService(states EngagementRepository, qualified QualifiedDayLister, opts Options, logger *slog.Logger) *EngagementService {
	return &EngagementService{
		states:    states,
		qualified: qualified,
		opts:      opts.withDefaults(),
		logger:    defaultLogger(logger),
	}
}

// ApplyQualifyingAttendance folds one qualifying day into the user's state.
// Repeated and out of order days leave the stored state unchanged.
func (s *EngagementService) ApplyQualifyingAttendance(ctx context.Context, in QualifyingAttendance) (ProgressionResult, error) {
	if s == nil {
		return ProgressionResult{}, fmt.Errorf("EngagementService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "EngagementService", "ApplyQualifyingAttendance", "user_id", in.UserID, "session_date", in.Date)

	day, err := recurrence.ParseDate(in.Date)
	if err != nil || strings.TrimSpace(in.UserID) == "" {
		vErr := &ValidationError{}
		if err != nil {
			vErr.add("date", "must be formatted as YYYY-MM-DD")
		}
		if strings.TrimSpace(in.UserID) == "" {
			vErr.add("userId", "is required")
		}
		return ProgressionResult{}, vErr
	}
	rules := progression.Rules{MaturationDays: in.MaturationDays}

	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		stored, err := s.load(ctx, in.UserID)
		if err != nil {
			return ProgressionResult{}, err
		}
		forest, err := s.states.ListForest(ctx, in.UserID)
		if err != nil {
			return ProgressionResult{}, mapRepoError(err)
		}

		before := toProgressionState(stored, forest)
		after, outcome := progression.Apply(before, day, rules)
		if !outcome.Counted {
			return ProgressionResult{
				Engagement:     toEngagementView(stored, forest),
				AlreadyCounted: outcome.AlreadyCounted,
				Stale:          outcome.Stale,
			}, nil
		}

		var matured []persistence.ForestTree
		if outcome.Matured != nil {
			tree := outcome.Matured
			tree.ID = s.opts.IDGenerator()
			after.Forest[len(after.Forest)-1].ID = tree.ID
			matured = append(matured, toForestModel(in.UserID, *tree, s.opts.Now().UTC()))
		}

		next := fromProgressionState(in.UserID, after)
		at := in.At.UTC()
		next.LastQualifiedAt = &at
		next.UpdatedAt = s.opts.Now().UTC()

		saved, err := s.states.SaveEngagement(ctx, next, stored.Version, matured)
		if errors.Is(err, persistence.ErrVersionConflict) {
			s.opts.Observer.ConflictRetried("engagement_save")
			logger.Debug("engagement changed concurrently, retrying", "attempt", attempt+1)
			continue
		}
		if err != nil {
			logger.Error("failed to store engagement", "error", err)
			return ProgressionResult{}, mapRepoError(err)
		}

		view := toEngagementView(saved, forestModels(in.UserID, after.Forest, forest))
		result := ProgressionResult{Engagement: view, Counted: true}
		s.opts.Observer.StreakAdvanced(outcome.StreakReset)
		logger.Info("engagement advanced", "current_streak", view.CurrentStreak, "tree_growth_percent", view.Tree.GrowthPercent, "streak_reset", outcome.StreakReset)

		if outcome.Matured != nil {
			tree := toForestTree(matured[0])
			result.Matured = &tree
			s.opts.Observer.TreeMatured()
			logger.Info("tree matured", "tree_id", tree.ID, "total_trees_grown", view.TotalTreesGrown)
			event := Event{
				Type:        EventTreeMatured,
				OccurredAt:  s.opts.Now().UTC(),
				SessionID:   in.SessionID,
				SessionDate: in.Date,
				UserID:      in.UserID,
				Tree:        &tree,
			}
			if err := s.opts.Notifier.Notify(ctx, event); err != nil {
				logger.Warn("failed to deliver notification", "event", event.Type, "error", err)
			}
		}
		return result, nil
	}
	return ProgressionResult{}, ErrConflict
}

// GetEngagementState returns the user's progression. Users without qualifying
// attendance receive a zero state.
func (s *EngagementService) GetEngagementState(ctx context.Context, userID string) (EngagementView, error) {
	if s == nil {
		return EngagementView{}, fmt.Errorf("EngagementService is nil")
	}
	stored, err := s.load(ctx, userID)
	if err != nil {
		return EngagementView{}, err
	}
	forest, err := s.states.ListForest(ctx, userID)
	if err != nil {
		return EngagementView{}, mapRepoError(err)
	}
	return toEngagementView(stored, forest), nil
}

// RebuildEngagement recomputes the user's state from the stored qualifying
// attendance, replacing the forest. It repairs state left behind when a
// progression update failed after attendance was recorded.
func (s *EngagementService) RebuildEngagement(ctx context.Context, principal Principal, userID string) (EngagementView, error) {
	if s == nil {
		return EngagementView{}, fmt.Errorf("EngagementService is nil")
	}
	logger := serviceLogger(ctx, s.logger, "EngagementService", "RebuildEngagement", "user_id", userID)

	if !principal.IsAdmin {
		logger.Warn("engagement rebuild rejected", "error_kind", ErrorKind(ErrUnauthorized), "principal_id", principal.UserID)
		return EngagementView{}, ErrUnauthorized
	}

	for attempt := 0; attempt < s.opts.MaxRetries; attempt++ {
		days, err := s.qualified.ListQualifiedDays(ctx, userID)
		if err != nil {
			return EngagementView{}, mapRepoError(err)
		}
		stored, err := s.load(ctx, userID)
		if err != nil {
			return EngagementView{}, err
		}

		var (
			state           progression.State
			lastQualifiedAt *persistence.QualifiedDay
		)
		for i := range days {
			day, err := recurrence.ParseDate(days[i].SessionDate)
			if err != nil {
				logger.Warn("skipping malformed session date", "session_id", days[i].SessionID, "error", err)
				continue
			}
			var outcome progression.Outcome
			state, outcome = progression.Apply(state, day, progression.Rules{MaturationDays: days[i].MaturationDays})
			if outcome.Counted {
				lastQualifiedAt = &days[i]
			}
			if outcome.Matured != nil {
				state.Forest[len(state.Forest)-1].ID = s.opts.IDGenerator()
			}
		}

		now := s.opts.Now().UTC()
		next := fromProgressionState(userID, state)
		if lastQualifiedAt != nil {
			at := lastQualifiedAt.QualifiedAt.UTC()
			next.LastQualifiedAt = &at
		}
		next.UpdatedAt = now
		forest := make([]persistence.ForestTree, 0, len(state.Forest))
		for _, tree := range state.Forest {
			forest = append(forest, toForestModel(userID, tree, now))
		}

		saved, err := s.states.ReplaceEngagement(ctx, next, stored.Version, forest)
		if errors.Is(err, persistence.ErrVersionConflict) {
			s.opts.Observer.ConflictRetried("engagement_rebuild")
			continue
		}
		if err != nil {
			logger.Error("failed to replace engagement", "error", err)
			return EngagementView{}, mapRepoError(err)
		}
		logger.Info("engagement rebuilt", "qualified_days", len(days), "current_streak", saved.CurrentStreak, "total_trees_grown", saved.TotalTreesGrown)
		return toEngagementView(saved, forest), nil
	}
	return EngagementView{}, ErrConflict
}

func (s *EngagementService) load(ctx context.Context, userID string) (persistence.EngagementState, error) {
	stored, err := s.states.GetEngagement(ctx, userID)
	if errors.Is(err, persistence.ErrNotFound) {
		return persistence.EngagementState{UserID: userID}, nil
	}
	if err != nil {
		return persistence.EngagementState{}, mapRepoError(err)
	}
	return stored, nil
}

func toProgressionState(stored persistence.EngagementState, forest []persistence.ForestTree) progression.State {
	state := progression.State{
		CurrentStreak:   stored.CurrentStreak,
		LongestStreak:   stored.LongestStreak,
		TotalTreesGrown: stored.TotalTreesGrown,
		Tree: progression.ActiveTree{
			GrowthDays:    stored.TreeGrowthDays,
			GrowthPercent: stored.TreeGrowthPercent,
		},
	}
	if day, err := recurrence.ParseDate(stored.LastQualifiedOn); err == nil {
		state.LastQualifiedOn = day
	}
	if day, err := recurrence.ParseDate(stored.TreeStartedOn); err == nil {
		state.Tree.StartedOn = day
	}
	for _, tree := range forest {
		entry := progression.Tree{ID: tree.ID, GrowthDays: tree.GrowthDays, GrowthPercent: tree.GrowthPercent}
		entry.StartedOn, _ = recurrence.ParseDate(tree.StartedOn)
		entry.MaturedOn, _ = recurrence.ParseDate(tree.MaturedOn)
		state.Forest = append(state.Forest, entry)
	}
	return state
}

func fromProgressionState(userID string, state progression.State) persistence.EngagementState {
	out := persistence.EngagementState{
		UserID:            userID,
		CurrentStreak:     state.CurrentStreak,
		LongestStreak:     state.LongestStreak,
		TreeGrowthDays:    state.Tree.GrowthDays,
		TreeGrowthPercent: state.Tree.GrowthPercent,
		TotalTreesGrown:   state.TotalTreesGrown,
	}
	if !state.LastQualifiedOn.IsZero() {
		out.LastQualifiedOn = state.LastQualifiedOn.String()
	}
	if !state.Tree.StartedOn.IsZero() {
		out.TreeStartedOn = state.Tree.StartedOn.String()
	}
	return out
}

func toForestModel(userID string, tree progression.Tree, createdAt time.Time) persistence.ForestTree {
	return persistence.ForestTree{
		ID:            tree.ID,
		UserID:        userID,
		StartedOn:     tree.StartedOn.String(),
		MaturedOn:     tree.MaturedOn.String(),
		GrowthDays:    tree.GrowthDays,
		GrowthPercent: tree.GrowthPercent,
		CreatedAt:     createdAt,
	}
}

// forestModels returns the stored forest extended with any trees matured in
// the current update.
func forestModels(userID string, trees []progression.Tree, stored []persistence.ForestTree) []persistence.ForestTree {
	out := append([]persistence.ForestTree(nil), stored...)
	for _, tree := range trees[len(stored):] {
		out = append(out, toForestModel(userID, tree, time.Time{}))
	}
	return out
}

func toForestTree(model persistence.ForestTree) ForestTree {
	return ForestTree{
		ID:            model.ID,
		StartedOn:     model.StartedOn,
		MaturedOn:     model.MaturedOn,
		GrowthDays:    model.GrowthDays,
		GrowthPercent: model.GrowthPercent,
	}
}

func toEngagementView(stored persistence.EngagementState, forest []persistence.ForestTree) EngagementView {
	view := EngagementView{
		UserID:          stored.UserID,
		CurrentStreak:   stored.CurrentStreak,
		LongestStreak:   stored.LongestStreak,
		LastQualifiedOn: stored.LastQualifiedOn,
		LastQualifiedAt: cloneTime(stored.LastQualifiedAt),
		Tree: ActiveTree{
			StartedOn:     stored.TreeStartedOn,
			GrowthDays:    stored.TreeGrowthDays,
			GrowthPercent: stored.TreeGrowthPercent,
		},
		TotalTreesGrown: stored.TotalTreesGrown,
		Forest:          make([]ForestTree, 0, len(forest)),
		Version:         stored.Version,
		UpdatedAt:       stored.UpdatedAt,
	}
	for _, tree := range forest {
		view.Forest = append(view.Forest, toForestTree(tree))
	}
	return view
}
