package metrics

import (
	"context"
	"log/slog"
	"time"
)

// DB interface for queue depth queries
type DB interface {
	GetActivityQueueLength() (int, error)
	GetReadyActivityQueueLength() (int, error)
}

// StartQueueDepthCollector starts a background goroutine that periodically
// collects queue depth metrics from the database
func StartQueueDepthCollector(ctx context.Context, db DB, interval time.Duration) {
	logger := slog.Default()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Collect once immediately
	collectQueueDepths(db, logger)

	for {
		select {
		case <-ctx.Done():
			logger.Info("Queue depth collector stopping")
			return
		case <-ticker.C:
			collectQueueDepths(db, logger)
		}
	}
}

func collectQueueDepths(db DB, logger *slog.Logger) {
	if total, err := db.GetActivityQueueLength(); err != nil {
		logger.Error("Failed to get activity queue length", "error", err)
	} else {
		QueueDepthTotal.WithLabelValues(QueueTypeActivity).Set(float64(total))
	}

	if ready, err := db.GetReadyActivityQueueLength(); err != nil {
		logger.Error("Failed to get ready activity queue length", "error", err)
	} else {
		QueueDepthReady.WithLabelValues(QueueTypeActivity).Set(float64(ready))
	}
}
