package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/example/daily-engagement/internal/persistence"
)

// EngagementRepository implements persistence.EngagementRepository using SQLite.
type EngagementRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewEngagementRepository creates a new SQLite engagement repository.
func NewEngagementRepository(pool *ConnectionPool) *EngagementRepository {
	return &EngagementRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

const engagementColumns = `user_id, current_streak, longest_streak, last_qualified_on, last_qualified_at,
	tree_started_on, tree_growth_days, tree_growth_percent, total_trees_grown, version, updated_at`

// GetEngagement retrieves the state of a user.
func (r *EngagementRepository) GetEngagement(ctx context.Context, userID string) (persistence.EngagementState, error) {
	state, err := scanEngagement(r.helper.QueryRow(ctx, `SELECT `+engagementColumns+` FROM engagement_states WHERE user_id = ?`, userID))
	if err != nil {
		return persistence.EngagementState{}, r.mapper.MapError(err)
	}
	return state, nil
}

// SaveEngagement writes state and appends matured trees in one transaction.
func (r *EngagementRepository) SaveEngagement(ctx context.Context, state persistence.EngagementState, expectedVersion int64, matured []persistence.ForestTree) (persistence.EngagementState, error) {
	return r.write(ctx, state, expectedVersion, matured, false)
}

// ReplaceEngagement writes state and swaps the forest for forest in one transaction.
func (r *EngagementRepository) ReplaceEngagement(ctx context.Context, state persistence.EngagementState, expectedVersion int64, forest []persistence.ForestTree) (persistence.EngagementState, error) {
	return r.write(ctx, state, expectedVersion, forest, true)
}

func (r *EngagementRepository) write(ctx context.Context, state persistence.EngagementState, expectedVersion int64, trees []persistence.ForestTree, replace bool) (persistence.EngagementState, error) {
	if state.UserID == "" {
		return persistence.EngagementState{}, persistence.ErrConstraintViolation
	}
	if state.UpdatedAt.IsZero() {
		state.UpdatedAt = time.Now().UTC()
	}

	var stored persistence.EngagementState
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		if err := r.upsertState(ctx, tx, state, expectedVersion); err != nil {
			return err
		}
		if replace {
			if _, err := r.helper.ExecTx(ctx, tx, `DELETE FROM forest_trees WHERE user_id = ?`, state.UserID); err != nil {
				return r.mapper.MapError(err)
			}
		}
		for _, tree := range trees {
			if err := r.insertTree(ctx, tx, state.UserID, tree, state.UpdatedAt); err != nil {
				return err
			}
		}
		var err error
		stored, err = scanEngagement(r.helper.QueryRowTx(ctx, tx, `SELECT `+engagementColumns+` FROM engagement_states WHERE user_id = ?`, state.UserID))
		if err != nil {
			return r.mapper.MapError(err)
		}
		return nil
	})
	if err != nil {
		return persistence.EngagementState{}, err
	}
	return stored, nil
}

func (r *EngagementRepository) upsertState(ctx context.Context, tx *sql.Tx, state persistence.EngagementState, expectedVersion int64) error {
	if expectedVersion == 0 {
		_, err := r.helper.ExecTx(ctx, tx, `
			INSERT INTO engagement_states (`+engagementColumns+`)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 1, ?)
		`,
			state.UserID,
			state.CurrentStreak,
			state.LongestStreak,
			state.LastQualifiedOn,
			nullableTime(state.LastQualifiedAt),
			state.TreeStartedOn,
			state.TreeGrowthDays,
			state.TreeGrowthPercent,
			state.TotalTreesGrown,
			formatTime(state.UpdatedAt),
		)
		if err != nil {
			mapped := r.mapper.MapError(err)
			if errors.Is(mapped, persistence.ErrDuplicate) {
				return persistence.ErrVersionConflict
			}
			return mapped
		}
		return nil
	}

	result, err := r.helper.ExecTx(ctx, tx, `
		UPDATE engagement_states
		SET current_streak = ?, longest_streak = ?, last_qualified_on = ?, last_qualified_at = ?,
			tree_started_on = ?, tree_growth_days = ?, tree_growth_percent = ?, total_trees_grown = ?,
			version = version + 1, updated_at = ?
		WHERE user_id = ? AND version = ?
	`,
		state.CurrentStreak,
		state.LongestStreak,
		state.LastQualifiedOn,
		nullableTime(state.LastQualifiedAt),
		state.TreeStartedOn,
		state.TreeGrowthDays,
		state.TreeGrowthPercent,
		state.TotalTreesGrown,
		formatTime(state.UpdatedAt),
		state.UserID,
		expectedVersion,
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return persistence.ErrVersionConflict
	}
	return nil
}

func (r *EngagementRepository) insertTree(ctx context.Context, tx *sql.Tx, userID string, tree persistence.ForestTree, at time.Time) error {
	if tree.ID == "" {
		return persistence.ErrConstraintViolation
	}
	if tree.CreatedAt.IsZero() {
		tree.CreatedAt = at
	}
	_, err := r.helper.ExecTx(ctx, tx, `
		INSERT INTO forest_trees (id, user_id, started_on, matured_on, growth_days, growth_percent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		tree.ID,
		userID,
		tree.StartedOn,
		tree.MaturedOn,
		tree.GrowthDays,
		tree.GrowthPercent,
		formatTime(tree.CreatedAt),
	)
	if err != nil {
		return r.mapper.MapError(err)
	}
	return nil
}

// ListForest returns the matured trees of a user, oldest first.
func (r *EngagementRepository) ListForest(ctx context.Context, userID string) ([]persistence.ForestTree, error) {
	rows, err := r.helper.Query(ctx, `
		SELECT id, user_id, started_on, matured_on, growth_days, growth_percent, created_at
		FROM forest_trees
		WHERE user_id = ?
		ORDER BY matured_on ASC, created_at ASC, id ASC
	`, userID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	forest := []persistence.ForestTree{}
	for rows.Next() {
		var (
			tree         persistence.ForestTree
			createdAtStr string
		)
		if err := rows.Scan(&tree.ID, &tree.UserID, &tree.StartedOn, &tree.MaturedOn, &tree.GrowthDays, &tree.GrowthPercent, &createdAtStr); err != nil {
			return nil, r.mapper.MapError(err)
		}
		if tree.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
			return nil, err
		}
		forest = append(forest, tree)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return forest, nil
}

func scanEngagement(row rowScanner) (persistence.EngagementState, error) {
	var (
		state           persistence.EngagementState
		lastQualifiedAt sql.NullString
		updatedAtStr    string
	)
	err := row.Scan(
		&state.UserID,
		&state.CurrentStreak,
		&state.LongestStreak,
		&state.LastQualifiedOn,
		&lastQualifiedAt,
		&state.TreeStartedOn,
		&state.TreeGrowthDays,
		&state.TreeGrowthPercent,
		&state.TotalTreesGrown,
		&state.Version,
		&updatedAtStr,
	)
	if err != nil {
		return persistence.EngagementState{}, err
	}
	if state.LastQualifiedAt, err = parseNullableTime("last_qualified_at", lastQualifiedAt); err != nil {
		return persistence.EngagementState{}, err
	}
	if state.UpdatedAt, err = parseTime("updated_at", updatedAtStr); err != nil {
		return persistence.EngagementState{}, err
	}
	return state, nil
}
