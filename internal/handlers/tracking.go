package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"wellness-activity/internal/clock"
	"wellness-activity/internal/config"
	"wellness-activity/internal/database"
	"wellness-activity/internal/motion"
	"wellness-activity/internal/progress"
	"wellness-activity/internal/tracking"
)

// StreakReader reads a user's streak record
type StreakReader interface {
	Get(ctx context.Context, userID string) (*database.StreakRecord, error)
}

// TrackingHandler serves the step tracking endpoints. Motion samples arrive
// over the API and are fed to the user's session through a FeedSource. A
// feed is kept after Stop, where pushes find no subscriber, until Prune drops
// the idle session.
type TrackingHandler struct {
	manager *tracking.Manager
	streaks StreakReader
	config  *config.Config
	logger  *slog.Logger

	mu    sync.Mutex
	feeds map[string]*motion.FeedSource
}

// NewTrackingHandler creates a new tracking handler
func NewTrackingHandler(manager *tracking.Manager, streaks StreakReader, cfg *config.Config) *TrackingHandler {
	return &TrackingHandler{
		manager: manager,
		streaks: streaks,
		config:  cfg,
		logger:  slog.Default(),
		feeds:   make(map[string]*motion.FeedSource),
	}
}

// Prune drops sessions idle for maxIdle along with their motion feeds and
// returns how many were dropped
func (h *TrackingHandler) Prune(maxIdle time.Duration) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	pruned := h.manager.Prune(maxIdle)
	for _, userID := range pruned {
		delete(h.feeds, userID)
	}
	return len(pruned)
}

type startRequest struct {
	Motion motion.Permission `json:"motion"`
	// Grant answers the permission prompt when Motion is "prompt"
	Grant bool `json:"grant"`
}

type samplesRequest struct {
	Samples []motion.Sample `json:"samples"`
}

type samplesResponse struct {
	Accepted int `json:"accepted"`
	Steps    int `json:"steps"`
}

type manualStepsRequest struct {
	Steps int `json:"steps"`
}

type goalRequest struct {
	StepGoal int `json:"step_goal"`
}

type stepsResponse struct {
	tracking.View
	Warning string `json:"warning,omitempty"`
}

type streakResponse struct {
	UserID               string `json:"user_id"`
	CurrentStreak        int    `json:"current_streak"`
	LongestStreak        int    `json:"longest_streak"`
	LastActivityDate     string `json:"last_activity_date,omitempty"`
	WeeklyActivityCount  int    `json:"weekly_activity_count"`
	MonthlyActivityCount int    `json:"monthly_activity_count"`
}

// HandleSteps handles GET /v1/steps
func (h *TrackingHandler) HandleSteps(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := authenticate(w, r, h.config.InternalAPIKey, h.logger)
	if !ok {
		return
	}

	h.writeView(r.Context(), w, h.manager.Session(userID), http.StatusOK, "")
}

// HandleStart handles POST /v1/tracking/start
func (h *TrackingHandler) HandleStart(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	userID, ok := authenticate(w, r, h.config.InternalAPIKey, h.logger)
	if !ok {
		return
	}

	var req startRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, ErrTypeInvalidInput, "Invalid JSON body")
		return
	}
	if req.Motion == "" {
		req.Motion = motion.PermissionGranted
	}
	switch req.Motion {
	case motion.PermissionGranted, motion.PermissionDenied, motion.PermissionPrompt, motion.PermissionUnsupported:
	default:
		writeError(w, h.logger, http.StatusBadRequest, ErrTypeInvalidInput, "motion must be one of: granted, denied, prompt, unsupported")
		return
	}

	feed := motion.NewFeedSource(req.Motion)
	grant := req.Grant
	feed.SetPrompt(func(context.Context) (bool, error) { return grant, nil })

	session := h.manager.Session(userID)
	if err := session.Start(r.Context(), feed); err != nil {
		h.logger.Info("Tracking start rejected", "user_id", userID, "motion", req.Motion, "error", err)
		h.writeSessionError(w, err)
		return
	}

	h.mu.Lock()
	h.feeds[userID] = feed
	h.mu.Unlock()

	h.writeView(r.Context(), w, session, http.StatusOK, "")
}

// HandleStop handles POST /v1/tracking/stop. A failed final flush still
// stops tracking and is reported as a warning.
func (h *TrackingHandler) HandleStop(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	userID, ok := authenticate(w, r, h.config.InternalAPIKey, h.logger)
	if !ok {
		return
	}

	session := h.manager.Session(userID)
	err := session.Stop(r.Context())
	if errors.Is(err, tracking.ErrNotTracking) {
		writeError(w, h.logger, http.StatusConflict, ErrTypeNotTracking, "")
		return
	}

	h.writeView(r.Context(), w, session, http.StatusOK, warningFor(err))
}

// HandleSamples handles POST /v1/tracking/samples. Samples are applied in
// request order.
func (h *TrackingHandler) HandleSamples(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	userID, ok := authenticate(w, r, h.config.InternalAPIKey, h.logger)
	if !ok {
		return
	}

	var req samplesRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, ErrTypeInvalidInput, "Invalid JSON body")
		return
	}

	h.mu.Lock()
	feed := h.feeds[userID]
	h.mu.Unlock()

	session := h.manager.Session(userID)
	if feed == nil || !session.IsTracking() {
		writeError(w, h.logger, http.StatusConflict, ErrTypeNotTracking, "")
		return
	}

	if err := feed.Push(req.Samples...); err != nil {
		writeError(w, h.logger, http.StatusConflict, ErrTypeNotTracking, "")
		return
	}

	view, err := session.View(r.Context())
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, samplesResponse{
		Accepted: len(req.Samples),
		Steps:    view.Steps,
	})
}

// HandleManualSteps handles POST /v1/steps/manual
func (h *TrackingHandler) HandleManualSteps(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPost) {
		return
	}
	userID, ok := authenticate(w, r, h.config.InternalAPIKey, h.logger)
	if !ok {
		return
	}

	var req manualStepsRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, ErrTypeInvalidInput, "Invalid JSON body")
		return
	}

	session := h.manager.Session(userID)
	err := session.AddManualSteps(r.Context(), req.Steps)
	if err != nil && !errors.Is(err, tracking.ErrPersistenceFailure) {
		h.writeSessionError(w, err)
		return
	}
	h.writeView(r.Context(), w, session, http.StatusOK, warningFor(err))
}

// HandleGoal handles PUT /v1/goal
func (h *TrackingHandler) HandleGoal(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodPut) {
		return
	}
	userID, ok := authenticate(w, r, h.config.InternalAPIKey, h.logger)
	if !ok {
		return
	}

	var req goalRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, http.StatusBadRequest, ErrTypeInvalidInput, "Invalid JSON body")
		return
	}

	session := h.manager.Session(userID)
	err := session.SetGoal(r.Context(), req.StepGoal)
	if err != nil && !errors.Is(err, tracking.ErrPersistenceFailure) {
		h.writeSessionError(w, err)
		return
	}
	h.writeView(r.Context(), w, session, http.StatusOK, warningFor(err))
}

// HandleStreak handles GET /v1/streak
func (h *TrackingHandler) HandleStreak(w http.ResponseWriter, r *http.Request) {
	if !allowMethod(w, r, http.MethodGet) {
		return
	}
	userID, ok := authenticate(w, r, h.config.InternalAPIKey, h.logger)
	if !ok {
		return
	}

	rec, err := h.streaks.Get(r.Context(), userID)
	if err != nil {
		h.logger.Error("Failed to get streak", "user_id", userID, "error", err)
		writeError(w, h.logger, http.StatusServiceUnavailable, ErrTypePersistenceFailure, "")
		return
	}

	resp := streakResponse{
		UserID:               userID,
		CurrentStreak:        rec.CurrentStreak,
		LongestStreak:        rec.LongestStreak,
		WeeklyActivityCount:  rec.WeeklyActivityCount,
		MonthlyActivityCount: rec.MonthlyActivityCount,
	}
	if rec.LastActivityDate != nil {
		resp.LastActivityDate = clock.FormatDay(*rec.LastActivityDate)
	}
	writeJSON(w, h.logger, http.StatusOK, resp)
}

func (h *TrackingHandler) writeView(ctx context.Context, w http.ResponseWriter, session *tracking.Session, status int, warning string) {
	view, err := session.View(ctx)
	if err != nil {
		h.writeSessionError(w, err)
		return
	}
	writeJSON(w, h.logger, status, stepsResponse{View: view, Warning: warning})
}

func (h *TrackingHandler) writeSessionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, progress.ErrInvalidInput):
		writeError(w, h.logger, http.StatusBadRequest, ErrTypeInvalidInput, err.Error())
	case errors.Is(err, motion.ErrCapabilityUnavailable):
		writeError(w, h.logger, http.StatusConflict, ErrTypeCapabilityUnavailable, "Motion sensing is not available on this device")
	case errors.Is(err, motion.ErrPermissionDenied):
		writeError(w, h.logger, http.StatusForbidden, ErrTypePermissionDenied, "Motion permission was not granted")
	case errors.Is(err, tracking.ErrAlreadyTracking):
		writeError(w, h.logger, http.StatusConflict, ErrTypeAlreadyTracking, "")
	case errors.Is(err, tracking.ErrNotTracking):
		writeError(w, h.logger, http.StatusConflict, ErrTypeNotTracking, "")
	case errors.Is(err, tracking.ErrPersistenceFailure):
		h.logger.Error("Persistence failure", "error", err)
		writeError(w, h.logger, http.StatusServiceUnavailable, ErrTypePersistenceFailure, "")
	default:
		h.logger.Error("Unexpected tracking error", "error", err)
		writeError(w, h.logger, http.StatusInternalServerError, ErrTypeInternal, "")
	}
}

func warningFor(err error) string {
	if err == nil {
		return ""
	}
	return "Progress is kept but could not be saved yet; it will be retried on the next sync"
}
