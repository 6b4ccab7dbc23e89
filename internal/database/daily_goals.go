package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wellness-activity/internal/clock"
	"wellness-activity/internal/metrics"
)

// DailyGoal is the per-user, per-date step target and progress
type DailyGoal struct {
	ID             int64
	UserID         string
	Date           time.Time // normalized day, see clock.Day
	StepGoal       int
	StepsCompleted int
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// DailyGoalUpdate carries the fields to change; nil fields are left alone
type DailyGoalUpdate struct {
	StepGoal       *int
	StepsCompleted *int
}

// ErrDailyGoalNotFound is returned when updating a row that does not exist
var ErrDailyGoalNotFound = errors.New("daily goal not found")

const dailyGoalColumns = `id, user_id, date, step_goal, steps_completed, created_at, updated_at`

// GetDailyGoal returns the user's goal row for day, or nil if none exists
func (db *DB) GetDailyGoal(ctx context.Context, userID string, day time.Time) (*DailyGoal, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetDailyGoal))
	defer timer.ObserveDuration()

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+dailyGoalColumns+` FROM daily_goals WHERE user_id = ? AND date = ?`,
		userID, clock.FormatDay(day))

	goal, err := scanDailyGoal(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetDailyGoal).Inc()
		return nil, fmt.Errorf("failed to get daily goal: %w", err)
	}
	return goal, nil
}

// CreateDailyGoal inserts the row for day with the given goal. If a row
// already exists it is returned unchanged.
func (db *DB) CreateDailyGoal(ctx context.Context, userID string, day time.Time, stepGoal int) (*DailyGoal, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpCreateDailyGoal))
	defer timer.ObserveDuration()

	now := time.Now().Unix()
	date := clock.FormatDay(day)

	_, err := db.conn.ExecContext(ctx, `
		INSERT INTO daily_goals (user_id, date, step_goal, steps_completed, created_at, updated_at)
		VALUES (?, ?, ?, 0, ?, ?)
		ON CONFLICT(user_id, date) DO NOTHING
	`, userID, date, stepGoal, now, now)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpCreateDailyGoal).Inc()
		return nil, fmt.Errorf("failed to create daily goal: %w", err)
	}

	row := db.conn.QueryRowContext(ctx,
		`SELECT `+dailyGoalColumns+` FROM daily_goals WHERE user_id = ? AND date = ?`,
		userID, date)
	goal, err := scanDailyGoal(row)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpCreateDailyGoal).Inc()
		return nil, fmt.Errorf("failed to read created daily goal: %w", err)
	}
	return goal, nil
}

// UpdateDailyGoal applies the non-nil fields of update to the row with id
func (db *DB) UpdateDailyGoal(ctx context.Context, id int64, update DailyGoalUpdate) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpUpdateDailyGoal))
	defer timer.ObserveDuration()

	var sets []string
	var args []interface{}
	if update.StepGoal != nil {
		sets = append(sets, "step_goal = ?")
		args = append(args, *update.StepGoal)
	}
	if update.StepsCompleted != nil {
		sets = append(sets, "steps_completed = ?")
		args = append(args, *update.StepsCompleted)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().Unix(), id)

	result, err := db.conn.ExecContext(ctx,
		`UPDATE daily_goals SET `+strings.Join(sets, ", ")+` WHERE id = ?`, args...)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpUpdateDailyGoal).Inc()
		return fmt.Errorf("failed to update daily goal: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return ErrDailyGoalNotFound
	}
	return nil
}

// GetLatestStepGoal returns the goal from the user's most recent row before
// day. ok is false when the user has no earlier row.
func (db *DB) GetLatestStepGoal(ctx context.Context, userID string, day time.Time) (goal int, ok bool, err error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetLatestStepGoal))
	defer timer.ObserveDuration()

	err = db.conn.QueryRowContext(ctx, `
		SELECT step_goal FROM daily_goals
		WHERE user_id = ? AND date < ?
		ORDER BY date DESC
		LIMIT 1
	`, userID, clock.FormatDay(day)).Scan(&goal)
	if err == sql.ErrNoRows {
		return 0, false, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetLatestStepGoal).Inc()
		return 0, false, fmt.Errorf("failed to get latest step goal: %w", err)
	}
	return goal, true, nil
}

// ListDailyGoals returns the user's rows from the most recent backwards
func (db *DB) ListDailyGoals(ctx context.Context, userID string, limit int) ([]*DailyGoal, error) {
	query := `SELECT ` + dailyGoalColumns + ` FROM daily_goals WHERE user_id = ? ORDER BY date DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list daily goals: %w", err)
	}
	defer rows.Close()

	var goals []*DailyGoal
	for rows.Next() {
		goal, err := scanDailyGoal(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan daily goal: %w", err)
		}
		goals = append(goals, goal)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating daily goals: %w", err)
	}
	return goals, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDailyGoal(row rowScanner) (*DailyGoal, error) {
	var g DailyGoal
	var date string
	var createdAt, updatedAt int64

	if err := row.Scan(&g.ID, &g.UserID, &date, &g.StepGoal, &g.StepsCompleted, &createdAt, &updatedAt); err != nil {
		return nil, err
	}

	day, err := clock.ParseDay(date)
	if err != nil {
		return nil, fmt.Errorf("invalid stored date %q: %w", date, err)
	}
	g.Date = day
	g.CreatedAt = time.Unix(createdAt, 0)
	g.UpdatedAt = time.Unix(updatedAt, 0)
	return &g, nil
}
