package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/example/daily-engagement/internal/persistence"
)

// AttendanceRepository implements persistence.AttendanceRepository using SQLite.
type AttendanceRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewAttendanceRepository creates a new SQLite attendance repository.
func NewAttendanceRepository(pool *ConnectionPool) *AttendanceRepository {
	return &AttendanceRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

const attendanceColumns = `id, session_id, user_id, first_joined_at, joined_at, left_at, duration_ns,
	join_count, qualified_at, version, created_at, updated_at`

// CreateAttendance inserts a new record at version 1. A concurrent insert for
// the same session and user yields persistence.ErrDuplicate.
func (r *AttendanceRepository) CreateAttendance(ctx context.Context, record persistence.AttendanceRecord) (persistence.AttendanceRecord, error) {
	if strings.TrimSpace(record.ID) == "" || record.SessionID == "" || record.UserID == "" {
		return persistence.AttendanceRecord{}, persistence.ErrConstraintViolation
	}
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = record.CreatedAt
	}
	if record.JoinCount == 0 {
		record.JoinCount = 1
	}
	record.Version = 1

	_, err := r.helper.Exec(ctx, `
		INSERT INTO attendance_records (`+attendanceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		record.ID,
		record.SessionID,
		record.UserID,
		formatTime(record.FirstJoinedAt),
		nullableTime(record.JoinedAt),
		nullableTime(record.LeftAt),
		int64(record.Duration),
		record.JoinCount,
		nullableTime(record.QualifiedAt),
		record.Version,
		formatTime(record.CreatedAt),
		formatTime(record.UpdatedAt),
	)
	if err != nil {
		return persistence.AttendanceRecord{}, r.mapper.MapError(err)
	}
	return record, nil
}

// GetAttendance retrieves the record of a user at a session.
func (r *AttendanceRepository) GetAttendance(ctx context.Context, sessionID, userID string) (persistence.AttendanceRecord, error) {
	record, err := scanAttendance(r.helper.QueryRow(ctx,
		`SELECT `+attendanceColumns+` FROM attendance_records WHERE session_id = ? AND user_id = ?`,
		sessionID, userID))
	if err != nil {
		return persistence.AttendanceRecord{}, r.mapper.MapError(err)
	}
	return record, nil
}

// UpdateAttendance stores the mutable fields of record if the version matches.
func (r *AttendanceRepository) UpdateAttendance(ctx context.Context, record persistence.AttendanceRecord, expectedVersion int64) (persistence.AttendanceRecord, error) {
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = time.Now().UTC()
	}

	var updated persistence.AttendanceRecord
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		result, err := r.helper.ExecTx(ctx, tx, `
			UPDATE attendance_records
			SET joined_at = ?, left_at = ?, duration_ns = ?, join_count = ?, qualified_at = ?,
				version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`,
			nullableTime(record.JoinedAt),
			nullableTime(record.LeftAt),
			int64(record.Duration),
			record.JoinCount,
			nullableTime(record.QualifiedAt),
			formatTime(record.UpdatedAt),
			record.ID,
			expectedVersion,
		)
		if err != nil {
			return r.mapper.MapError(err)
		}
		rowsAffected, err := result.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get rows affected: %w", err)
		}

		updated, err = scanAttendance(r.helper.QueryRowTx(ctx, tx, `SELECT `+attendanceColumns+` FROM attendance_records WHERE id = ?`, record.ID))
		if err != nil {
			return r.mapper.MapError(err)
		}
		if rowsAffected == 0 {
			return persistence.ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		return persistence.AttendanceRecord{}, err
	}
	return updated, nil
}

// ListAttendanceForSession lists records of a session ordered by first join.
func (r *AttendanceRepository) ListAttendanceForSession(ctx context.Context, sessionID string) ([]persistence.AttendanceRecord, error) {
	rows, err := r.helper.Query(ctx,
		`SELECT `+attendanceColumns+` FROM attendance_records WHERE session_id = ? ORDER BY first_joined_at ASC, user_id ASC`,
		sessionID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var records []persistence.AttendanceRecord
	for rows.Next() {
		record, err := scanAttendance(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return records, nil
}

// ListQualifiedDays returns the session dates on which a user qualified.
func (r *AttendanceRepository) ListQualifiedDays(ctx context.Context, userID string) ([]persistence.QualifiedDay, error) {
	rows, err := r.helper.Query(ctx, `
		SELECT s.id, s.session_date, a.qualified_at, o.maturation_days
		FROM attendance_records a
		JOIN sessions s ON s.id = a.session_id
		JOIN organization_schedules o ON o.id = s.schedule_id
		WHERE a.user_id = ? AND a.qualified_at IS NOT NULL
		ORDER BY s.session_date ASC, a.qualified_at ASC
	`, userID)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var days []persistence.QualifiedDay
	for rows.Next() {
		var (
			day            persistence.QualifiedDay
			qualifiedAtStr string
		)
		if err := rows.Scan(&day.SessionID, &day.SessionDate, &qualifiedAtStr, &day.MaturationDays); err != nil {
			return nil, r.mapper.MapError(err)
		}
		if day.QualifiedAt, err = parseTime("qualified_at", qualifiedAtStr); err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return days, nil
}

func scanAttendance(row rowScanner) (persistence.AttendanceRecord, error) {
	var (
		record                        persistence.AttendanceRecord
		firstJoinedAtStr              string
		joinedAt, leftAt, qualifiedAt sql.NullString
		createdAtStr, updatedAtStr    string
		durationNanos                 int64
	)
	err := row.Scan(
		&record.ID,
		&record.SessionID,
		&record.UserID,
		&firstJoinedAtStr,
		&joinedAt,
		&leftAt,
		&durationNanos,
		&record.JoinCount,
		&qualifiedAt,
		&record.Version,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return persistence.AttendanceRecord{}, err
	}
	record.Duration = time.Duration(durationNanos)
	if record.FirstJoinedAt, err = parseTime("first_joined_at", firstJoinedAtStr); err != nil {
		return persistence.AttendanceRecord{}, err
	}
	if record.JoinedAt, err = parseNullableTime("joined_at", joinedAt); err != nil {
		return persistence.AttendanceRecord{}, err
	}
	if record.LeftAt, err = parseNullableTime("left_at", leftAt); err != nil {
		return persistence.AttendanceRecord{}, err
	}
	if record.QualifiedAt, err = parseNullableTime("qualified_at", qualifiedAt); err != nil {
		return persistence.AttendanceRecord{}, err
	}
	if record.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return persistence.AttendanceRecord{}, err
	}
	if record.UpdatedAt, err = parseTime("updated_at", updatedAtStr); err != nil {
		return persistence.AttendanceRecord{}, err
	}
	return record, nil
}
