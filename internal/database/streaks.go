package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wellness-activity/internal/clock"
	"wellness-activity/internal/metrics"
)

// StreakRecord is the per-user consistency state
type StreakRecord struct {
	UserID               string
	CurrentStreak        int
	LongestStreak        int
	LastActivityDate     *time.Time // normalized day; nil before the first activity
	WeeklyActivityCount  int
	MonthlyActivityCount int
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// AdvanceFunc computes the next streak state for an activity on day. prev is
// nil when the user has no record yet.
type AdvanceFunc func(prev *StreakRecord, day time.Time) StreakRecord

const streakColumns = `user_id, current_streak, longest_streak, last_activity_date,
	weekly_activity_count, monthly_activity_count, created_at, updated_at`

// GetStreakRecord returns the user's streak record, or nil if none exists
func (db *DB) GetStreakRecord(ctx context.Context, userID string) (*StreakRecord, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetStreakRecord))
	defer timer.ObserveDuration()

	rec, err := getStreakRecord(ctx, db.conn, userID)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetStreakRecord).Inc()
		return nil, err
	}
	return rec, nil
}

// ApplyStreakActivity records the activity identified by (userID, eventKey)
// and advances the user's streak in one transaction. If the event was already
// applied nothing changes and applied is false.
func (db *DB) ApplyStreakActivity(ctx context.Context, userID, eventKey, activityType string, day time.Time, advance AdvanceFunc) (rec *StreakRecord, applied bool, err error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpApplyStreakActivity))
	defer timer.ObserveDuration()
	defer func() {
		if err != nil {
			metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpApplyStreakActivity).Inc()
		}
	}()

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `
		INSERT INTO activity_events (user_id, event_key, activity_type, activity_date, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, event_key) DO NOTHING
	`, userID, eventKey, activityType, clock.FormatDay(day), time.Now().Unix())
	if err != nil {
		return nil, false, fmt.Errorf("failed to record activity event: %w", err)
	}

	inserted, err := result.RowsAffected()
	if err != nil {
		return nil, false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	prev, err := getStreakRecord(ctx, tx, userID)
	if err != nil {
		return nil, false, err
	}

	if inserted == 0 {
		if err := tx.Commit(); err != nil {
			return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
		}
		return prev, false, nil
	}

	next := advance(prev, day)
	next.UserID = userID
	if err := upsertStreakRecord(ctx, tx, next); err != nil {
		return nil, false, err
	}

	if err := tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit transaction: %w", err)
	}
	return &next, true, nil
}

// CountActivityEvents returns how many distinct activity events were applied
// for the user on day
func (db *DB) CountActivityEvents(ctx context.Context, userID string, day time.Time) (int, error) {
	var count int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM activity_events WHERE user_id = ? AND activity_date = ?`,
		userID, clock.FormatDay(day)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count activity events: %w", err)
	}
	return count, nil
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

func getStreakRecord(ctx context.Context, q queryRower, userID string) (*StreakRecord, error) {
	var rec StreakRecord
	var lastDate sql.NullString
	var createdAt, updatedAt int64

	err := q.QueryRowContext(ctx,
		`SELECT `+streakColumns+` FROM streak_records WHERE user_id = ?`, userID,
	).Scan(
		&rec.UserID, &rec.CurrentStreak, &rec.LongestStreak, &lastDate,
		&rec.WeeklyActivityCount, &rec.MonthlyActivityCount, &createdAt, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get streak record: %w", err)
	}

	if lastDate.Valid {
		day, err := clock.ParseDay(lastDate.String)
		if err != nil {
			return nil, fmt.Errorf("invalid stored date %q: %w", lastDate.String, err)
		}
		rec.LastActivityDate = &day
	}
	rec.CreatedAt = time.Unix(createdAt, 0)
	rec.UpdatedAt = time.Unix(updatedAt, 0)
	return &rec, nil
}

func upsertStreakRecord(ctx context.Context, e execer, rec StreakRecord) error {
	now := time.Now().Unix()

	var lastDate interface{}
	if rec.LastActivityDate != nil {
		lastDate = clock.FormatDay(*rec.LastActivityDate)
	}

	_, err := e.ExecContext(ctx, `
		INSERT INTO streak_records (
			user_id, current_streak, longest_streak, last_activity_date,
			weekly_activity_count, monthly_activity_count, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			current_streak = excluded.current_streak,
			longest_streak = excluded.longest_streak,
			last_activity_date = excluded.last_activity_date,
			weekly_activity_count = excluded.weekly_activity_count,
			monthly_activity_count = excluded.monthly_activity_count,
			updated_at = excluded.updated_at
	`, rec.UserID, rec.CurrentStreak, rec.LongestStreak, lastDate,
		rec.WeeklyActivityCount, rec.MonthlyActivityCount, now, now)
	if err != nil {
		return fmt.Errorf("failed to upsert streak record: %w", err)
	}
	return nil
}
