// Package tracking owns a user's live step-tracking session and mirrors its
// in-memory counters to the durable store.
package tracking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"wellness-activity/internal/clock"
	"wellness-activity/internal/database"
	"wellness-activity/internal/metrics"
	"wellness-activity/internal/motion"
	"wellness-activity/internal/progress"
	"wellness-activity/internal/stepdetect"
	"wellness-activity/internal/streak"
)

var (
	// ErrPersistenceFailure wraps any failed write to the durable store. The
	// in-memory state stays authoritative and the next flush retries.
	ErrPersistenceFailure = errors.New("persistence failure")
	// ErrAlreadyTracking is returned by Start when a session is active.
	ErrAlreadyTracking = errors.New("already tracking")
	// ErrNotTracking is returned by Stop when no session is active.
	ErrNotTracking = errors.New("not tracking")
)

// Store is the subset of the database the session reads and writes
type Store interface {
	GetDailyGoal(ctx context.Context, userID string, day time.Time) (*database.DailyGoal, error)
	CreateDailyGoal(ctx context.Context, userID string, day time.Time, stepGoal int) (*database.DailyGoal, error)
	UpdateDailyGoal(ctx context.Context, id int64, update database.DailyGoalUpdate) error
	GetLatestStepGoal(ctx context.Context, userID string, day time.Time) (int, bool, error)
	AppendStepLog(ctx context.Context, entry database.StepLog) error
}

// Streaks records step activity and reads streak state
type Streaks interface {
	RecordActivityOn(ctx context.Context, userID, eventKey, activityType string, day time.Time) (*database.StreakRecord, error)
	Get(ctx context.Context, userID string) (*database.StreakRecord, error)
}

// Options tune a session
type Options struct {
	DefaultGoal   int
	Threshold     float64
	FlushInterval time.Duration
	Location      *time.Location
}

func (o Options) withDefaults() Options {
	if o.DefaultGoal <= 0 {
		o.DefaultGoal = 10000
	}
	if o.Threshold <= 0 {
		o.Threshold = stepdetect.DefaultThreshold
	}
	if o.FlushInterval <= 0 {
		o.FlushInterval = time.Minute
	}
	if o.Location == nil {
		o.Location = time.UTC
	}
	return o
}

// View is the session state exposed to callers
type View struct {
	progress.StepData
	IsTracking bool      `json:"is_tracking"`
	Date       string    `json:"date"`
	SessionID  string    `json:"session_id,omitempty"`
	Day        time.Time `json:"-"`
}

// Session is one user's tracking state. All methods are safe for concurrent
// use. Sample handling never waits on the store.
type Session struct {
	userID  string
	store   Store
	streaks Streaks
	clock   clock.Clock
	opts    Options
	logger  *slog.Logger

	// loadMu serializes loads; lock order is loadMu, flushMu, mu
	loadMu sync.Mutex
	// flushMu serializes flushes; it is always taken before mu
	flushMu sync.Mutex

	mu        sync.Mutex
	loaded    bool
	day       time.Time
	goalID    int64
	tracker   *progress.Tracker
	detector  *stepdetect.Detector
	tracking  bool
	starting  bool
	sessionID string
	streak    *database.StreakRecord

	// persisted is the step count of the last successful flush
	persisted int
	// unlogged counts detected steps not yet written to the step log
	unlogged int
	// manualUnlogged counts manual steps whose step log row failed to write
	manualUnlogged int
	// goalDirty is set by SetGoal until the goal reaches the store. Other
	// flushes leave step_goal alone.
	goalDirty bool

	unsubscribe func()
	ticker      clock.Ticker
	stopTick    chan struct{}
	tickDone    chan struct{}
}

// NewSession creates an unloaded session for userID
func NewSession(userID string, store Store, streaks Streaks, clk clock.Clock, opts Options) *Session {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Session{
		userID:   userID,
		store:    store,
		streaks:  streaks,
		clock:    clk,
		opts:     opts.withDefaults(),
		logger:   slog.Default().With("user_id", userID),
		detector: stepdetect.New(opts.Threshold),
	}
}

// UserID returns the owning user
func (s *Session) UserID() string {
	return s.userID
}

// Load reads today's DailyGoal, creating it when absent, and the user's
// streak record. It is a no-op while tracking or when today's row is already
// loaded. A new day is only picked up once the previous day's counters are
// persisted.
func (s *Session) Load(ctx context.Context) error {
	return s.load(ctx, false)
}

// load is Load; fromStart lets Start reload while it holds the starting flag
func (s *Session) load(ctx context.Context, fromStart bool) error {
	s.loadMu.Lock()
	defer s.loadMu.Unlock()

	today := clock.Day(s.clock.Now(), s.opts.Location)
	busy := func() bool { return s.tracking || (s.starting && !fromStart) }
	current := func() bool { return s.loaded && (busy() || s.day.Equal(today)) }

	s.mu.Lock()
	if current() {
		s.mu.Unlock()
		return nil
	}
	stale := s.loaded && s.pendingLocked()
	s.mu.Unlock()

	if stale {
		if err := s.Flush(ctx); err != nil {
			s.logger.Warn("Keeping previous day until its steps are saved", "error", err)
			return nil
		}
	}

	goal, err := s.loadGoal(ctx, today)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}

	rec, err := s.streaks.Get(ctx, s.userID)
	if err != nil {
		return fmt.Errorf("%w: failed to load streak: %w", ErrPersistenceFailure, err)
	}

	tracker, err := progress.NewTracker(goal.StepsCompleted, goal.StepGoal)
	if err != nil {
		return fmt.Errorf("invalid stored goal %d/%d: %w", goal.StepsCompleted, goal.StepGoal, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// The rows read above are stale once another caller loaded or started
	if busy() || current() {
		return nil
	}
	s.loaded = true
	s.day = today
	s.goalID = goal.ID
	s.tracker = tracker
	s.persisted = goal.StepsCompleted
	s.unlogged = 0
	s.manualUnlogged = 0
	s.goalDirty = false
	s.streak = rec

	s.logger.Debug("Loaded daily goal",
		"date", clock.FormatDay(today),
		"steps", goal.StepsCompleted,
		"goal", goal.StepGoal)
	return nil
}

func (s *Session) loadGoal(ctx context.Context, day time.Time) (*database.DailyGoal, error) {
	goal, err := s.store.GetDailyGoal(ctx, s.userID, day)
	if err != nil {
		return nil, err
	}
	if goal != nil {
		return goal, nil
	}

	stepGoal := s.opts.DefaultGoal
	if latest, ok, err := s.store.GetLatestStepGoal(ctx, s.userID, day); err != nil {
		return nil, err
	} else if ok {
		stepGoal = latest
	}
	return s.store.CreateDailyGoal(ctx, s.userID, day, stepGoal)
}

// Start begins tracking samples from src. It fails with
// motion.ErrCapabilityUnavailable or motion.ErrPermissionDenied without
// changing state.
func (s *Session) Start(ctx context.Context, src motion.Source) error {
	s.mu.Lock()
	if s.tracking || s.starting {
		s.mu.Unlock()
		return ErrAlreadyTracking
	}
	s.starting = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.starting = false
		s.mu.Unlock()
	}()

	if !src.Available() {
		metrics.TrackingStartFailuresTotal.WithLabelValues(metrics.StartFailureCapability).Inc()
		return motion.ErrCapabilityUnavailable
	}

	if pr, ok := src.(motion.PermissionRequester); ok {
		granted, err := pr.RequestPermission(ctx)
		if err != nil {
			metrics.TrackingStartFailuresTotal.WithLabelValues(metrics.StartFailurePermission).Inc()
			return fmt.Errorf("%w: %w", motion.ErrPermissionDenied, err)
		}
		if !granted {
			metrics.TrackingStartFailuresTotal.WithLabelValues(metrics.StartFailurePermission).Inc()
			return motion.ErrPermissionDenied
		}
	}

	// Pick up a new day before the session pins it
	if err := s.load(ctx, true); err != nil {
		metrics.TrackingStartFailuresTotal.WithLabelValues(metrics.StartFailureLoad).Inc()
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Source.Subscribe must not deliver synchronously; onSample takes mu
	unsubscribe, err := src.Subscribe(s.onSample)
	if err != nil {
		if errors.Is(err, motion.ErrCapabilityUnavailable) {
			metrics.TrackingStartFailuresTotal.WithLabelValues(metrics.StartFailureCapability).Inc()
		}
		return err
	}

	s.detector.Reset()
	s.tracker.SwitchSource(progress.SourceDeviceMotion)
	s.sessionID = uuid.NewString()
	s.unsubscribe = unsubscribe
	s.tracking = true
	s.ticker = s.clock.NewTicker(s.opts.FlushInterval)
	s.stopTick = make(chan struct{})
	s.tickDone = make(chan struct{})
	go s.tickLoop(s.ticker, s.stopTick, s.tickDone)
	metrics.TrackingSessionsActive.Inc()

	s.logger.Info("Tracking started",
		"session_id", s.sessionID,
		"date", clock.FormatDay(s.day),
		"steps", s.tracker.Steps())
	return nil
}

// Stop ends tracking. The sample subscription and the flush timer are
// released before the final flush, so no sample is counted and no tick fires
// after Stop returns even if the flush fails. The flush error is returned.
func (s *Session) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.tracking {
		s.mu.Unlock()
		return ErrNotTracking
	}
	s.tracking = false
	unsubscribe := s.unsubscribe
	s.unsubscribe = nil
	s.ticker.Stop()
	close(s.stopTick)
	done := s.tickDone
	sessionID := s.sessionID
	s.mu.Unlock()

	unsubscribe()
	metrics.TrackingSessionsActive.Dec()

	// Let an in-flight timer flush finish
	<-done

	err := s.flush(ctx, metrics.FlushTriggerStop)

	s.mu.Lock()
	s.sessionID = ""
	steps := s.tracker.Steps()
	s.mu.Unlock()

	s.logger.Info("Tracking stopped", "session_id", sessionID, "steps", steps, "flushed", err == nil)
	return err
}

func (s *Session) tickLoop(ticker clock.Ticker, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	for {
		select {
		case <-stop:
			return
		case <-ticker.C():
			select {
			case <-stop:
				return
			default:
			}
			if err := s.flush(context.Background(), metrics.FlushTriggerTimer); err != nil {
				s.logger.Warn("Periodic flush failed", "error", err)
			}
		}
	}
}

func (s *Session) onSample(sample motion.Sample) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.tracking {
		return
	}
	metrics.MotionSamplesTotal.Inc()

	if _, ok := s.detector.OnSample(sample); ok {
		s.tracker.ApplyStepEvent()
		s.unlogged++
		metrics.StepEventsTotal.Inc()
	}
}

// AddManualSteps adds n user-entered steps, logs them and flushes. A
// non-positive n fails with progress.ErrInvalidInput and changes nothing. A
// persistence error leaves the steps counted in memory, and a step log row
// that failed to write is retried by later flushes.
func (s *Session) AddManualSteps(ctx context.Context, n int) error {
	if err := s.Load(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	if err := s.tracker.AddManualSteps(n); err != nil {
		s.mu.Unlock()
		return err
	}
	sessionID := s.sessionID
	s.mu.Unlock()

	metrics.ManualStepsTotal.Add(float64(n))

	logErr := s.store.AppendStepLog(ctx, database.StepLog{
		UserID:    s.userID,
		SessionID: sessionID,
		Steps:     n,
		Source:    string(progress.SourceManual),
		LoggedAt:  s.clock.Now(),
	})
	flushErr := s.flush(ctx, metrics.FlushTriggerManual)

	if logErr != nil {
		s.mu.Lock()
		s.manualUnlogged += n
		s.mu.Unlock()
		s.logger.Warn("Manual step log failed, retrying on next flush", "steps", n, "error", logErr)
		if flushErr == nil {
			// The flush above ran before the row was queued
			flushErr = s.flush(ctx, metrics.FlushTriggerManual)
		}
		if flushErr != nil {
			return flushErr
		}
		return nil
	}
	return flushErr
}

// SetGoal replaces today's goal and flushes. Steps are never reset.
func (s *Session) SetGoal(ctx context.Context, goal int) error {
	if err := s.Load(ctx); err != nil {
		return err
	}

	s.mu.Lock()
	err := s.tracker.SetGoal(goal)
	if err == nil {
		s.goalDirty = true
	}
	s.mu.Unlock()
	if err != nil {
		return err
	}

	return s.flush(ctx, metrics.FlushTriggerGoal)
}

// Flush writes the current counters to the store
func (s *Session) Flush(ctx context.Context) error {
	return s.flush(ctx, metrics.FlushTriggerManual)
}

// flush mirrors the latest counters to the DailyGoal row, logs detected steps
// and records the day's step activity. The snapshot is taken after acquiring
// flushMu so a queued flush writes the newest value.
func (s *Session) flush(ctx context.Context, trigger string) error {
	s.flushMu.Lock()
	defer s.flushMu.Unlock()

	timer := prometheus.NewTimer(metrics.FlushDuration)
	defer timer.ObserveDuration()

	s.mu.Lock()
	if !s.loaded {
		s.mu.Unlock()
		return nil
	}
	steps := s.tracker.Steps()
	goal := s.tracker.Goal()
	goalID := s.goalID
	day := s.day
	unlogged := s.unlogged
	manualUnlogged := s.manualUnlogged
	goalDirty := s.goalDirty
	advanced := steps > s.persisted
	sessionID := s.sessionID
	s.mu.Unlock()

	fail := func(err error) error {
		metrics.FlushesTotal.WithLabelValues(trigger, metrics.ResultFailure).Inc()
		s.logger.Warn("Flush failed", "trigger", trigger, "steps", steps, "error", err)
		return fmt.Errorf("%w: %w", ErrPersistenceFailure, err)
	}

	update := database.DailyGoalUpdate{StepsCompleted: &steps}
	if goalDirty {
		update.StepGoal = &goal
	}
	if err := s.store.UpdateDailyGoal(ctx, goalID, update); err != nil {
		return fail(err)
	}
	if goalDirty {
		s.mu.Lock()
		if s.tracker.Goal() == goal {
			s.goalDirty = false
		}
		s.mu.Unlock()
	}

	if unlogged > 0 {
		err := s.store.AppendStepLog(ctx, database.StepLog{
			UserID:    s.userID,
			SessionID: sessionID,
			Steps:     unlogged,
			Source:    string(progress.SourceDeviceMotion),
			LoggedAt:  s.clock.Now(),
		})
		if err != nil {
			return fail(err)
		}
		s.mu.Lock()
		s.unlogged -= unlogged
		s.mu.Unlock()
	}

	if manualUnlogged > 0 {
		err := s.store.AppendStepLog(ctx, database.StepLog{
			UserID:    s.userID,
			SessionID: sessionID,
			Steps:     manualUnlogged,
			Source:    string(progress.SourceManual),
			LoggedAt:  s.clock.Now(),
		})
		if err != nil {
			return fail(err)
		}
		s.mu.Lock()
		s.manualUnlogged -= manualUnlogged
		s.mu.Unlock()
	}

	if advanced {
		rec, err := s.streaks.RecordActivityOn(ctx, s.userID, streak.StepsEventKey(day), streak.ActivityTypeSteps, day)
		if err != nil {
			return fail(err)
		}
		s.mu.Lock()
		s.streak = rec
		s.mu.Unlock()
	}

	s.mu.Lock()
	s.persisted = steps
	s.mu.Unlock()

	metrics.FlushesTotal.WithLabelValues(trigger, metrics.ResultSuccess).Inc()
	s.logger.Debug("Flushed", "trigger", trigger, "steps", steps, "goal", goal)
	return nil
}

// View returns the current state, loading it first if needed
func (s *Session) View(ctx context.Context) (View, error) {
	if err := s.Load(ctx); err != nil {
		return View{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return View{
		StepData:   s.tracker.Snapshot(),
		IsTracking: s.tracking,
		Date:       clock.FormatDay(s.day),
		SessionID:  s.sessionID,
		Day:        s.day,
	}, nil
}

// IsTracking reports whether a session is active
func (s *Session) IsTracking() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracking
}

// Streak returns the streak record as of the last load or flush. Counters
// are zero before the first activity.
func (s *Session) Streak() *database.StreakRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streak
}

// pendingLocked reports whether anything is waiting to be written. s.mu must
// be held.
func (s *Session) pendingLocked() bool {
	return s.tracker.Steps() != s.persisted || s.unlogged > 0 || s.manualUnlogged > 0 || s.goalDirty
}

// Idle reports whether the session is not tracking and has nothing left to
// write, so dropping it loses no state.
func (s *Session) Idle() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tracking || s.starting {
		return false
	}
	return !s.loaded || !s.pendingLocked()
}
