package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/example/daily-engagement/internal/persistence"
)

// SessionRepository implements persistence.SessionRepository using SQLite.
type SessionRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewSessionRepository creates a new SQLite session repository.
func NewSessionRepository(pool *ConnectionPool) *SessionRepository {
	return &SessionRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

const sessionColumns = `id, schedule_id, session_date, starts_at, ends_at, status, reminder_sent_at, version, created_at, updated_at`

// EnsureSession inserts the session unless the (schedule, date) slot is taken
// and returns whichever row occupies the slot afterwards.
func (r *SessionRepository) EnsureSession(ctx context.Context, session persistence.Session) (persistence.Session, bool, error) {
	if strings.TrimSpace(session.ID) == "" || session.ScheduleID == "" || session.SessionDate == "" {
		return persistence.Session{}, false, persistence.ErrConstraintViolation
	}
	if session.CreatedAt.IsZero() {
		session.CreatedAt = time.Now().UTC()
	}
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = session.CreatedAt
	}

	var (
		stored  persistence.Session
		created bool
	)
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		query := `
			INSERT INTO sessions (` + sessionColumns + `)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT (schedule_id, session_date) DO NOTHING
		`
		result, err := r.helper.ExecTx(ctx, tx, query,
			session.ID,
			session.ScheduleID,
			session.SessionDate,
			formatTime(session.StartsAt),
			nullableTime(session.EndsAt),
			session.Status,
			nullableTime(session.ReminderSentAt),
			formatTime(session.CreatedAt),
			formatTime(session.UpdatedAt),
		)
		if err != nil {
			return r.mapper.MapError(err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		created = rowsAffected > 0

		stored, err = scanSession(r.helper.QueryRowTx(ctx, tx,
			`SELECT `+sessionColumns+` FROM sessions WHERE schedule_id = ? AND session_date = ?`,
			session.ScheduleID, session.SessionDate))
		if err != nil {
			return r.mapper.MapError(err)
		}
		return nil
	})
	if err != nil {
		return persistence.Session{}, false, err
	}
	return stored, created, nil
}

// GetSession retrieves a session by ID.
func (r *SessionRepository) GetSession(ctx context.Context, id string) (persistence.Session, error) {
	if id == "" {
		return persistence.Session{}, persistence.ErrNotFound
	}
	session, err := scanSession(r.helper.QueryRow(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if err != nil {
		return persistence.Session{}, r.mapper.MapError(err)
	}
	return session, nil
}

// GetSessionByDate retrieves the session of a schedule on a date.
func (r *SessionRepository) GetSessionByDate(ctx context.Context, scheduleID, sessionDate string) (persistence.Session, error) {
	session, err := scanSession(r.helper.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE schedule_id = ? AND session_date = ?`,
		scheduleID, sessionDate))
	if err != nil {
		return persistence.Session{}, r.mapper.MapError(err)
	}
	return session, nil
}

// UpdateSessionStatus stores status and ends_at if the version matches.
func (r *SessionRepository) UpdateSessionStatus(ctx context.Context, session persistence.Session, expectedVersion int64) (persistence.Session, error) {
	if session.UpdatedAt.IsZero() {
		session.UpdatedAt = time.Now().UTC()
	}

	var updated persistence.Session
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := r.helper.ExecTx(ctx, tx, `
			UPDATE sessions
			SET status = ?, ends_at = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`,
			session.Status,
			nullableTime(session.EndsAt),
			formatTime(session.UpdatedAt),
			session.ID,
			expectedVersion,
		)
		if err != nil {
			return r.mapper.MapError(err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		updated, err = scanSession(r.helper.QueryRowTx(ctx, tx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, session.ID))
		if err != nil {
			return r.mapper.MapError(err)
		}
		if rowsAffected == 0 {
			return persistence.ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		return persistence.Session{}, err
	}
	return updated, nil
}

// MarkReminderSent records the reminder instant unless one is already set.
func (r *SessionRepository) MarkReminderSent(ctx context.Context, id string, at time.Time) (bool, error) {
	var marked bool
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := r.helper.ExecTx(ctx, tx, `
			UPDATE sessions
			SET reminder_sent_at = ?, updated_at = ?
			WHERE id = ? AND reminder_sent_at IS NULL
		`, formatTime(at), formatTime(at), id)
		if err != nil {
			return r.mapper.MapError(err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}
		if rowsAffected > 0 {
			marked = true
			return nil
		}
		var exists int
		err = r.helper.QueryRowTx(ctx, tx, `SELECT 1 FROM sessions WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return persistence.ErrNotFound
		}
		return r.mapper.MapError(err)
	})
	if err != nil {
		return false, err
	}
	return marked, nil
}

func scanSession(row rowScanner) (persistence.Session, error) {
	var (
		session                    persistence.Session
		startsAtStr                string
		endsAt, reminderSentAt     sql.NullString
		createdAtStr, updatedAtStr string
	)
	err := row.Scan(
		&session.ID,
		&session.ScheduleID,
		&session.SessionDate,
		&startsAtStr,
		&endsAt,
		&session.Status,
		&reminderSentAt,
		&session.Version,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return persistence.Session{}, err
	}
	if session.StartsAt, err = parseTime("starts_at", startsAtStr); err != nil {
		return persistence.Session{}, err
	}
	if session.EndsAt, err = parseNullableTime("ends_at", endsAt); err != nil {
		return persistence.Session{}, err
	}
	if session.ReminderSentAt, err = parseNullableTime("reminder_sent_at", reminderSentAt); err != nil {
		return persistence.Session{}, err
	}
	if session.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return persistence.Session{}, err
	}
	if session.UpdatedAt, err = parseTime("updated_at", updatedAtStr); err != nil {
		return persistence.Session{}, err
	}
	return session, nil
}
