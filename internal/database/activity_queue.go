package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"wellness-activity/internal/metrics"
)

const (
	// MaxRetries is the number of failed attempts after which an item is dropped
	MaxRetries = 7

	// StaleLockTimeout is how long a claimed item stays invisible to other
	// workers before it is considered abandoned
	StaleLockTimeout = 5 * time.Minute
)

var backoffMinutes = []int{1, 5, 15, 30, 60, 120, 240}

// ActivityQueueItem is an activity event awaiting streak application
type ActivityQueueItem struct {
	ID                  int64
	Data                json.RawMessage
	RetryCount          int
	LastError           *string
	NextRetryAt         *time.Time
	ProcessingStartedAt *time.Time
	CreatedAt           time.Time
}

// EnqueueActivity adds an activity event to the processing queue
func (db *DB) EnqueueActivity(ctx context.Context, data json.RawMessage) (int64, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpEnqueueActivity))
	defer timer.ObserveDuration()

	result, err := db.conn.ExecContext(ctx,
		`INSERT INTO activity_queue (data, created_at) VALUES (?, ?)`,
		string(data), time.Now().Unix())
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpEnqueueActivity).Inc()
		return 0, fmt.Errorf("failed to enqueue activity: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpEnqueueActivity).Inc()
		return 0, fmt.Errorf("failed to get queue item id: %w", err)
	}

	metrics.QueueEnqueueTotal.WithLabelValues(metrics.QueueTypeActivity).Inc()
	return id, nil
}

// ClaimActivity claims the next ready item and marks it as processing.
// Returns nil if no items are ready. An item is ready when its retry time
// has passed and it is not held by a live claim.
func (db *DB) ClaimActivity(ctx context.Context) (*ActivityQueueItem, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpClaimActivity))
	defer timer.ObserveDuration()

	now := time.Now()
	staleThreshold := now.Add(-StaleLockTimeout).Unix()

	var item ActivityQueueItem
	var data string
	var lastError sql.NullString
	var nextRetryAt sql.NullInt64
	var createdAt int64

	err := db.conn.QueryRowContext(ctx, `
		UPDATE activity_queue
		SET processing_started_at = ?
		WHERE id = (
			SELECT id
			FROM activity_queue
			WHERE (next_retry_at IS NULL OR next_retry_at <= ?)
			  AND (processing_started_at IS NULL OR processing_started_at < ?)
			ORDER BY id ASC
			LIMIT 1
		)
		RETURNING id, data, retry_count, last_error, next_retry_at, created_at
	`, now.Unix(), now.Unix(), staleThreshold).Scan(
		&item.ID, &data, &item.RetryCount, &lastError, &nextRetryAt, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpClaimActivity).Inc()
		return nil, fmt.Errorf("failed to claim activity: %w", err)
	}

	item.Data = json.RawMessage(data)
	if lastError.Valid {
		item.LastError = &lastError.String
	}
	if nextRetryAt.Valid {
		t := time.Unix(nextRetryAt.Int64, 0)
		item.NextRetryAt = &t
	}
	item.ProcessingStartedAt = &now
	item.CreatedAt = time.Unix(createdAt, 0)

	return &item, nil
}

// DeleteActivity removes a processed item from the queue
func (db *DB) DeleteActivity(ctx context.Context, id int64) error {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpDeleteActivity))
	defer timer.ObserveDuration()

	if _, err := db.conn.ExecContext(ctx, `DELETE FROM activity_queue WHERE id = ?`, id); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpDeleteActivity).Inc()
		return fmt.Errorf("failed to delete activity: %w", err)
	}
	return nil
}

// ReleaseActivity returns a failed item to the queue with backoff
// (1min, 5min, 15min, 30min, 1hr, ...). Returns false if the item was
// dropped because it exhausted its retries.
func (db *DB) ReleaseActivity(ctx context.Context, id int64, retryCount int, errMsg string) (bool, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpReleaseActivity))
	defer timer.ObserveDuration()

	newRetryCount := retryCount + 1
	if newRetryCount > MaxRetries {
		if err := db.DeleteActivity(ctx, id); err != nil {
			return false, fmt.Errorf("failed to drop activity after max retries: %w", err)
		}
		return false, nil
	}

	backoffIdx := newRetryCount - 1
	if backoffIdx >= len(backoffMinutes) {
		backoffIdx = len(backoffMinutes) - 1
	}
	nextRetryAt := time.Now().Add(time.Duration(backoffMinutes[backoffIdx]) * time.Minute)

	_, err := db.conn.ExecContext(ctx, `
		UPDATE activity_queue
		SET retry_count = ?,
		    last_error = ?,
		    next_retry_at = ?,
		    processing_started_at = NULL
		WHERE id = ?
	`, newRetryCount, errMsg, nextRetryAt.Unix(), id)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpReleaseActivity).Inc()
		return false, fmt.Errorf("failed to release activity: %w", err)
	}

	return true, nil
}

// GetActivityQueueLength returns the number of items in the queue
func (db *DB) GetActivityQueueLength() (int, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetActivityQueueDepth))
	defer timer.ObserveDuration()

	var count int
	if err := db.conn.QueryRow(`SELECT COUNT(*) FROM activity_queue`).Scan(&count); err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetActivityQueueDepth).Inc()
		return 0, fmt.Errorf("failed to get activity queue length: %w", err)
	}
	return count, nil
}

// GetReadyActivityQueueLength returns the number of items ready to process
func (db *DB) GetReadyActivityQueueLength() (int, error) {
	timer := prometheus.NewTimer(metrics.DBOperationDuration.WithLabelValues(metrics.DBOpGetActivityQueueDepth))
	defer timer.ObserveDuration()

	now := time.Now()
	staleThreshold := now.Add(-StaleLockTimeout).Unix()

	var count int
	err := db.conn.QueryRow(`
		SELECT COUNT(*)
		FROM activity_queue
		WHERE (next_retry_at IS NULL OR next_retry_at <= ?)
		  AND (processing_started_at IS NULL OR processing_started_at < ?)
	`, now.Unix(), staleThreshold).Scan(&count)
	if err != nil {
		metrics.DBOperationErrorsTotal.WithLabelValues(metrics.DBOpGetActivityQueueDepth).Inc()
		return 0, fmt.Errorf("failed to get ready activity queue length: %w", err)
	}
	return count, nil
}
