package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wellness-activity/internal/metrics"
)

// StepLog is one append-only record of steps added to a user's day
type StepLog struct {
	ID        int64
	UserID    string
	SessionID string
	Steps     int
	Source    string
	LoggedAt  time.Time
}

// AppendStepLog records a step delta
func (db *DB) AppendStepLog(ctx context.Context, entry StepLog) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpAppendStepLog))
	defer timer.ObserveDuration()

	loggedAt := entry.LoggedAt
	if loggedAt.IsZero() {
		loggedAt = time.Now()
	}

	var sessionID interface{}
	if entry.SessionID != "" {
		sessionID = entry.SessionID
	}

	_, err := db.conn.ExecContext(ctx,
		`INSERT INTO step_logs (user_id, session_id, steps, source, logged_at) VALUES (?, ?, ?, ?, ?)`,
		entry.UserID, sessionID, entry.Steps, entry.Source, loggedAt.Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpAppendStepLog).Inc()
		return fmt.Errorf("failed to append step log: %w", err)
	}
	return nil
}

// ListStepLogs returns the user's step logs, newest first
func (db *DB) ListStepLogs(ctx context.Context, userID string, limit int) ([]StepLog, error) {
	query := `SELECT id, user_id, session_id, steps, source, logged_at
		FROM step_logs WHERE user_id = ? ORDER BY logged_at DESC, id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step logs: %w", err)
	}
	defer rows.Close()

	var logs []StepLog
	for rows.Next() {
		var entry StepLog
		var sessionID sql.NullString
		var loggedAt int64
		if err := rows.Scan(&entry.ID, &entry.UserID, &sessionID, &entry.Steps, &entry.Source, &loggedAt); err != nil {
			return nil, fmt.Errorf("failed to scan step log: %w", err)
		}
		entry.SessionID = sessionID.String
		entry.LoggedAt = time.Unix(loggedAt, 0)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step logs: %w", err)
	}
	return logs, nil
}
