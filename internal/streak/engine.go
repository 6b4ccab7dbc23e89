package streak

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"wellness-activity/internal/clock"
	"wellness-activity/internal/database"
	"wellness-activity/internal/metrics"
)

// ActivityTypeSteps is the activity type recorded for step logging
const ActivityTypeSteps = "steps"

// Store is the durable state the engine reads and writes
type Store interface {
	GetStreakRecord(ctx context.Context, userID string) (*database.StreakRecord, error)
	ApplyStreakActivity(ctx context.Context, userID, eventKey, activityType string, day time.Time, advance database.AdvanceFunc) (*database.StreakRecord, bool, error)
}

// Engine applies activity events to streak records
type Engine struct {
	store  Store
	clock  clock.Clock
	loc    *time.Location
	logger *slog.Logger
}

// NewEngine creates an engine that computes calendar days in loc
func NewEngine(store Store, clk clock.Clock, loc *time.Location) *Engine {
	if clk == nil {
		clk = clock.Real{}
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{
		store:  store,
		clock:  clk,
		loc:    loc,
		logger: slog.Default(),
	}
}

// Today returns the current normalized day
func (e *Engine) Today() time.Time {
	return clock.Day(e.clock.Now(), e.loc)
}

// DayOf returns the normalized day of t
func (e *Engine) DayOf(t time.Time) time.Time {
	return clock.Day(t, e.loc)
}

// StepsEventKey is the event key for step activity on day. It limits step
// logging to one streak application per user per day.
func StepsEventKey(day time.Time) string {
	return "steps:" + clock.FormatDay(day)
}

// RecordActivity applies an activity that occurred at the given time. A zero
// time means now. Events already applied under eventKey leave the record
// unchanged.
func (e *Engine) RecordActivity(ctx context.Context, userID, eventKey, activityType string, at time.Time) (*database.StreakRecord, error) {
	if at.IsZero() {
		at = e.clock.Now()
	}
	return e.RecordActivityOn(ctx, userID, eventKey, activityType, e.DayOf(at))
}

// RecordActivityOn is RecordActivity for an already normalized day
func (e *Engine) RecordActivityOn(ctx context.Context, userID, eventKey, activityType string, day time.Time) (*database.StreakRecord, error) {
	var transition Transition
	advance := func(prev *database.StreakRecord, d time.Time) database.StreakRecord {
		transition = Classify(prev, d)
		return Advance(prev, d)
	}

	rec, applied, err := e.store.ApplyStreakActivity(ctx, userID, eventKey, activityType, day, advance)
	if err != nil {
		return nil, fmt.Errorf("failed to record activity: %w", err)
	}

	if !applied {
		metrics.StreakTransitionsTotal.WithLabelValues(metrics.TransitionDuplicate).Inc()
		e.logger.Debug("Activity already applied", "user_id", userID, "event_key", eventKey)
		return rec, nil
	}

	metrics.StreakTransitionsTotal.WithLabelValues(string(transition)).Inc()
	e.logger.Debug("Activity applied",
		"user_id", userID,
		"event_key", eventKey,
		"activity_type", activityType,
		"day", clock.FormatDay(day),
		"transition", string(transition),
		"current_streak", rec.CurrentStreak,
		"longest_streak", rec.LongestStreak)
	return rec, nil
}

// Get returns the user's streak record, or a zero record when none exists
func (e *Engine) Get(ctx context.Context, userID string) (*database.StreakRecord, error) {
	rec, err := e.store.GetStreakRecord(ctx, userID)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		rec = &database.StreakRecord{UserID: userID}
	}
	return rec, nil
}
