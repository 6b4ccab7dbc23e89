package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"wellness-activity/internal/database"
	"wellness-activity/internal/metrics"
	"wellness-activity/internal/streak"
)

// Queue is the activity queue the worker drains
type Queue interface {
	ClaimActivity(ctx context.Context) (*database.ActivityQueueItem, error)
	DeleteActivity(ctx context.Context, id int64) error
	ReleaseActivity(ctx context.Context, id int64, retryCount int, errMsg string) (bool, error)
}

// Recorder applies activities to streaks
type Recorder interface {
	RecordActivity(ctx context.Context, userID, eventKey, activityType string, at time.Time) (*database.StreakRecord, error)
}

// Worker applies queued activity events to streak records
type Worker struct {
	queue        Queue
	recorder     Recorder
	logger       *slog.Logger
	pollInterval time.Duration
}

// NewWorker creates a new activity worker
func NewWorker(queue Queue, recorder Recorder, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	return &Worker{
		queue:        queue,
		recorder:     recorder,
		logger:       slog.Default(),
		pollInterval: pollInterval,
	}
}

// Start processes the activity queue until ctx is cancelled
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting activity worker", "poll_interval", w.pollInterval)
	metrics.WorkerActive.Set(1)
	defer metrics.WorkerActive.Set(0)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Stopping activity worker")
			return ctx.Err()
		default:
		}

		found, err := w.processNext(ctx)
		if err != nil {
			metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeError).Inc()
			w.logger.Error("Failed to claim activity", "error", err)
			w.sleep(ctx)
			continue
		}
		if found {
			metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeActivityFound).Inc()
			continue
		}

		metrics.WorkerPollCyclesTotal.WithLabelValues(metrics.OutcomeIdle).Inc()
		w.sleep(ctx)
	}
}

func (w *Worker) sleep(ctx context.Context) {
	select {
	case <-ctx.Done():
	case <-time.After(w.pollInterval):
	}
}

// processNext claims and handles one item. found is false when the queue has
// nothing ready.
func (w *Worker) processNext(ctx context.Context) (found bool, err error) {
	item, err := w.queue.ClaimActivity(ctx)
	if err != nil {
		return false, err
	}
	if item == nil {
		return false, nil
	}
	w.processActivity(ctx, item)
	return true, nil
}

// processActivity handles a single queue item
func (w *Worker) processActivity(ctx context.Context, item *database.ActivityQueueItem) {
	start := time.Now()
	w.logger.Debug("Processing activity", "id", item.ID, "retry_count", item.RetryCount)

	var activity streak.Activity
	err := json.Unmarshal(item.Data, &activity)
	if err == nil {
		err = activity.Validate()
	}
	if err != nil {
		// Malformed items can never succeed
		w.logger.Warn("Dropping malformed activity", "id", item.ID, "error", err)
		if err := w.queue.DeleteActivity(ctx, item.ID); err != nil {
			w.logger.Error("Failed to delete malformed activity", "id", item.ID, "error", err)
		}
		metrics.QueueProcessingDuration.WithLabelValues(metrics.QueueTypeActivity, metrics.ResultFailure).Observe(time.Since(start).Seconds())
		metrics.QueueDequeueTotal.WithLabelValues(metrics.QueueTypeActivity, metrics.ResultDropped).Inc()
		return
	}

	if activity.OccurredAt.IsZero() {
		// Untimed activities count on the day they were queued
		activity.OccurredAt = item.CreatedAt
	}

	rec, err := w.recorder.RecordActivity(ctx, activity.UserID, activity.EventKey, activity.ActivityType, activity.OccurredAt)
	if err != nil {
		w.logger.Error("Failed to record activity", "id", item.ID, "user_id", activity.UserID, "error", err)
		metrics.QueueProcessingDuration.WithLabelValues(metrics.QueueTypeActivity, metrics.ResultFailure).Observe(time.Since(start).Seconds())
		metrics.QueueDequeueTotal.WithLabelValues(metrics.QueueTypeActivity, metrics.ResultRetry).Inc()
		metrics.QueueRetryTotal.WithLabelValues(metrics.QueueTypeActivity, strconv.Itoa(item.RetryCount+1)).Inc()
		w.releaseActivity(ctx, item.ID, item.RetryCount, err.Error())
		return
	}

	if err := w.queue.DeleteActivity(ctx, item.ID); err != nil {
		// The event key makes the retry harmless
		w.logger.Error("Failed to delete completed activity", "id", item.ID, "error", err)
		return
	}

	metrics.QueueProcessingDuration.WithLabelValues(metrics.QueueTypeActivity, metrics.ResultSuccess).Observe(time.Since(start).Seconds())
	metrics.QueueDequeueTotal.WithLabelValues(metrics.QueueTypeActivity, metrics.ResultSuccess).Inc()
	w.logger.Info("Activity processed",
		"id", item.ID,
		"user_id", activity.UserID,
		"activity_type", activity.ActivityType,
		"current_streak", rec.CurrentStreak)
}

// releaseActivity releases an item back to the queue with backoff
func (w *Worker) releaseActivity(ctx context.Context, id int64, retryCount int, errMsg string) {
	shouldRetry, err := w.queue.ReleaseActivity(ctx, id, retryCount, errMsg)
	if err != nil {
		w.logger.Error("Failed to release activity", "id", id, "error", err)
		return
	}

	if !shouldRetry {
		w.logger.Warn("Activity exceeded max retries, dropped", "id", id, "retry_count", retryCount)
		return
	}
	w.logger.Info("Activity released for retry", "id", id, "retry_count", retryCount+1)
}

// Enqueuer adds encoded activities to the queue
type Enqueuer interface {
	EnqueueActivity(ctx context.Context, data json.RawMessage) (int64, error)
}

// Enqueue validates and encodes activity and adds it to the queue
func Enqueue(ctx context.Context, q Enqueuer, activity streak.Activity) (int64, error) {
	if err := activity.Validate(); err != nil {
		return 0, err
	}
	data, err := json.Marshal(activity)
	if err != nil {
		return 0, fmt.Errorf("failed to encode activity: %w", err)
	}
	return q.EnqueueActivity(ctx, data)
}
