package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/example/daily-engagement/internal/persistence"
)

// ScheduleRepository implements persistence.ScheduleRepository using SQLite.
type ScheduleRepository struct {
	pool   *ConnectionPool
	helper *QueryHelper
	mapper *ErrorMapper
}

// NewScheduleRepository creates a new SQLite schedule repository.
func NewScheduleRepository(pool *ConnectionPool) *ScheduleRepository {
	return &ScheduleRepository{
		pool:   pool,
		helper: NewQueryHelper(pool),
		mapper: NewErrorMapper(),
	}
}

const scheduleColumns = `id, name, meeting_link, timezone, time_of_day, recurring_days, minimum_minutes,
	maturation_days, reminder_enabled, reminder_lead_minutes, active, version, created_at, updated_at`

// CreateSchedule inserts a new schedule at version 1.
func (r *ScheduleRepository) CreateSchedule(ctx context.Context, schedule persistence.OrganizationSchedule) (persistence.OrganizationSchedule, error) {
	if strings.TrimSpace(schedule.ID) == "" {
		return persistence.OrganizationSchedule{}, persistence.ErrConstraintViolation
	}
	now := time.Now().UTC()
	if schedule.CreatedAt.IsZero() {
		schedule.CreatedAt = now
	}
	if schedule.UpdatedAt.IsZero() {
		schedule.UpdatedAt = schedule.CreatedAt
	}
	schedule.Version = 1

	query := `
		INSERT INTO organization_schedules (` + scheduleColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := r.helper.Exec(ctx, query,
		schedule.ID,
		schedule.Name,
		schedule.MeetingLink,
		schedule.Timezone,
		schedule.TimeOfDay,
		encodeDays(schedule.RecurringDays),
		schedule.MinimumMinutes,
		schedule.MaturationDays,
		boolToInt(schedule.ReminderEnabled),
		schedule.ReminderLeadMinutes,
		boolToInt(schedule.Active),
		schedule.Version,
		formatTime(schedule.CreatedAt),
		formatTime(schedule.UpdatedAt),
	)
	if err != nil {
		return persistence.OrganizationSchedule{}, r.mapper.MapError(err)
	}
	return schedule, nil
}

// UpdateSchedule replaces the mutable fields of a schedule if its version matches.
func (r *ScheduleRepository) UpdateSchedule(ctx context.Context, schedule persistence.OrganizationSchedule, expectedVersion int64) (persistence.OrganizationSchedule, error) {
	if schedule.UpdatedAt.IsZero() {
		schedule.UpdatedAt = time.Now().UTC()
	}

	var updated persistence.OrganizationSchedule
	err := r.pool.WithTransaction(ctx, func(tx *sql.Tx) error {
		query := `
			UPDATE organization_schedules
			SET name = ?, meeting_link = ?, timezone = ?, time_of_day = ?, recurring_days = ?,
				minimum_minutes = ?, maturation_days = ?, reminder_enabled = ?, reminder_lead_minutes = ?,
				active = ?, version = version + 1, updated_at = ?
			WHERE id = ? AND version = ?
		`
		result, err := r.helper.ExecTx(ctx, tx, query,
			schedule.Name,
			schedule.MeetingLink,
			schedule.Timezone,
			schedule.TimeOfDay,
			encodeDays(schedule.RecurringDays),
			schedule.MinimumMinutes,
			schedule.MaturationDays,
			boolToInt(schedule.ReminderEnabled),
			schedule.ReminderLeadMinutes,
			boolToInt(schedule.Active),
			formatTime(schedule.UpdatedAt),
			schedule.ID,
			expectedVersion,
		)
		if err != nil {
			return r.mapper.MapError(err)
		}
		if err := r.checkVersionedUpdate(ctx, tx, result, schedule.ID); err != nil {
			return err
		}
		updated, err = scanSchedule(r.helper.QueryRowTx(ctx, tx, `SELECT `+scheduleColumns+` FROM organization_schedules WHERE id = ?`, schedule.ID))
		if err != nil {
			return r.mapper.MapError(err)
		}
		return nil
	})
	if err != nil {
		return persistence.OrganizationSchedule{}, err
	}
	return updated, nil
}

// checkVersionedUpdate distinguishes a missing row from a lost race.
func (r *ScheduleRepository) checkVersionedUpdate(ctx context.Context, tx *sql.Tx, result sql.Result, id string) error {
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected > 0 {
		return nil
	}
	var exists int
	err = r.helper.QueryRowTx(ctx, tx, `SELECT 1 FROM organization_schedules WHERE id = ?`, id).Scan(&exists)
	if errors.Is(err, sql.ErrNoRows) {
		return persistence.ErrNotFound
	}
	if err != nil {
		return r.mapper.MapError(err)
	}
	return persistence.ErrVersionConflict
}

// GetSchedule retrieves a schedule by ID.
func (r *ScheduleRepository) GetSchedule(ctx context.Context, id string) (persistence.OrganizationSchedule, error) {
	if id == "" {
		return persistence.OrganizationSchedule{}, persistence.ErrNotFound
	}
	schedule, err := scanSchedule(r.helper.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM organization_schedules WHERE id = ?`, id))
	if err != nil {
		return persistence.OrganizationSchedule{}, r.mapper.MapError(err)
	}
	return schedule, nil
}

// ListSchedules lists schedules ordered by ID.
func (r *ScheduleRepository) ListSchedules(ctx context.Context, filter persistence.ScheduleFilter) ([]persistence.OrganizationSchedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM organization_schedules`
	var conditions []string
	if filter.ActiveOnly {
		conditions = append(conditions, "active = 1")
	}
	if filter.ReminderEnabledOnly {
		conditions = append(conditions, "reminder_enabled = 1")
	}
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY id ASC"

	rows, err := r.helper.Query(ctx, query)
	if err != nil {
		return nil, r.mapper.MapError(err)
	}
	defer rows.Close()

	var schedules []persistence.OrganizationSchedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, r.mapper.MapError(err)
		}
		schedules = append(schedules, schedule)
	}
	if err := rows.Err(); err != nil {
		return nil, r.mapper.MapError(err)
	}
	return schedules, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (persistence.OrganizationSchedule, error) {
	var (
		schedule                   persistence.OrganizationSchedule
		days                       string
		reminderEnabled, active    int
		createdAtStr, updatedAtStr string
	)
	err := row.Scan(
		&schedule.ID,
		&schedule.Name,
		&schedule.MeetingLink,
		&schedule.Timezone,
		&schedule.TimeOfDay,
		&days,
		&schedule.MinimumMinutes,
		&schedule.MaturationDays,
		&reminderEnabled,
		&schedule.ReminderLeadMinutes,
		&active,
		&schedule.Version,
		&createdAtStr,
		&updatedAtStr,
	)
	if err != nil {
		return persistence.OrganizationSchedule{}, err
	}
	schedule.ReminderEnabled = reminderEnabled == 1
	schedule.Active = active == 1
	if schedule.RecurringDays, err = decodeDays(days); err != nil {
		return persistence.OrganizationSchedule{}, err
	}
	if schedule.CreatedAt, err = parseTime("created_at", createdAtStr); err != nil {
		return persistence.OrganizationSchedule{}, err
	}
	if schedule.UpdatedAt, err = parseTime("updated_at", updatedAtStr); err != nil {
		return persistence.OrganizationSchedule{}, err
	}
	return schedule, nil
}

func encodeDays(days []int) string {
	parts := make([]string, len(days))
	for i, d := range days {
		parts[i] = strconv.Itoa(d)
	}
	return strings.Join(parts, ",")
}

func decodeDays(value string) ([]int, error) {
	if strings.TrimSpace(value) == "" {
		return []int{}, nil
	}
	parts := strings.Split(value, ",")
	days := make([]int, 0, len(parts))
	for _, part := range parts {
		d, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("failed to parse recurring_days %q: %w", value, err)
		}
		days = append(days, d)
	}
	return days, nil
}
