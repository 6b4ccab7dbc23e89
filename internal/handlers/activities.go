package handlers

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"wellness-activity/internal/clock"
	"wellness-activity/internal/config"
	"wellness-activity/internal/streak"
	"wellness-activity/internal/worker"
)

// IdempotencyKeyHeader lets clients retry an activity submission without it
// counting twice
const IdempotencyKeyHeader = "Idempotency-Key"

// ActivitiesHandler accepts explicit activity entries for the streak engine
type ActivitiesHandler struct {
	queue  worker.Enqueuer
	clock  clock.Clock
	config *config.Config
	logger *slog.Logger
}

// NewActivitiesHandler creates a new activities handler. Activities without
// an occurred_at are stamped with clk at submission.
func NewActivitiesHandler(queue worker.Enqueuer, clk clock.Clock, cfg *config.Config) *ActivitiesHandler {
	if clk == nil {
		clk = clock.Real{}
	}
	return &ActivitiesHandler{
		queue:  queue,
		clock:  clk,
		config: cfg,
		logger: slog.Default(),
	}
}

type activityRequest struct {
	ActivityType string    `json:"activity_type"`
	OccurredAt   time.Time `json:"occurred_at"`
}

type activityResponse struct {
	EventKey string `json:"event_key"`
	QueueID  int64  `json:"queue_id"`
}

// HandleActivity handles POST /v1/activities. The activity is queued and
// applied by the worker.
func (h *ActivitiesHandler) HandleActivity(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	userID, ok := authenticate(w, r, h.config.InternalAPIKey, h.logger)
	if !ok {
		return
	}

	var req activityRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, ErrTypeInvalidInput, "Invalid JSON body")
		return
	}
	if strings.TrimSpace(req.ActivityType) == "" {
		writeError(w, h.logger, http.StatusBadRequest, ErrTypeInvalidInput, "activity_type is required")
		return
	}

	if req.OccurredAt.IsZero() {
		req.OccurredAt = h.clock.Now()
	}

	eventKey := strings.TrimSpace(r.Header.Get(IdempotencyKeyHeader))
	if eventKey == "" {
		eventKey = uuid.NewString()
	}

	id, err := worker.Enqueue(r.Context(), h.queue, streak.Activity{
		UserID:       userID,
		EventKey:     eventKey,
		ActivityType: req.ActivityType,
		OccurredAt:   req.OccurredAt,
	})
	if err != nil {
		h.logger.Error("Failed to enqueue activity", "user_id", userID, "error", err)
		writeError(w, h.logger, http.StatusServiceUnavailable, ErrTypePersistenceFailure, "")
		return
	}

	h.logger.Info("Activity enqueued",
		"user_id", userID,
		"event_key", eventKey,
		"activity_type", req.ActivityType,
		"queue_id", id)

	writeJSON(w, h.logger, http.StatusAccepted, activityResponse{EventKey: eventKey, QueueID: id})
}
