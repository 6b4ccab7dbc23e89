package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Label value constants to prevent typos
const (
	// Queue types
	QueueTypeActivity = "activity"

	// Queue results
	ResultSuccess = "success"
	ResultRetry   = "retry"
	ResultDropped = "dropped"
	ResultFailure = "failure"

	// Worker outcomes
	OutcomeActivityFound = "activity_found"
	OutcomeIdle          = "idle"
	OutcomeError         = "error"

	// HTTP endpoints
	EndpointSteps         = "steps"
	EndpointTrackingStart = "tracking_start"
	EndpointTrackingStop  = "tracking_stop"
	EndpointSamples       = "samples"
	EndpointManualSteps   = "manual_steps"
	EndpointGoal          = "goal"
	EndpointActivities    = "activities"
	EndpointStreak        = "streak"
	EndpointHealth        = "health"

	// Flush triggers
	FlushTriggerTimer  = "timer"
	FlushTriggerGoal   = "goal"
	FlushTriggerManual = "manual"
	FlushTriggerStop   = "stop"

	// Streak transitions
	TransitionCreated     = "created"
	TransitionSameDay     = "same_day"
	TransitionConsecutive = "consecutive"
	TransitionReset       = "reset"
	TransitionLate        = "late"
	TransitionDuplicate   = "duplicate"

	// Tracking start failures
	StartFailureCapability = "capability_unavailable"
	StartFailurePermission = "permission_denied"
	StartFailureLoad       = "load_failed"

	// Kafka ingestion results
	KafkaResultEnqueued    = "enqueued"
	KafkaResultDecodeError = "decode_error"
	KafkaResultEnqueueFail = "enqueue_failed"

	// Database operations
	DBOpGetDailyGoal          = "get_daily_goal"
	DBOpCreateDailyGoal       = "create_daily_goal"
	DBOpUpdateDailyGoal       = "update_daily_goal"
	DBOpGetLatestStepGoal     = "get_latest_step_goal"
	DBOpGetStreakRecord       = "get_streak_record"
	DBOpApplyStreakActivity   = "apply_streak_activity"
	DBOpAppendStepLog         = "append_step_log"
	DBOpEnqueueActivity       = "enqueue_activity"
	DBOpClaimActivity         = "claim_activity"
	DBOpDeleteActivity        = "delete_activity"
	DBOpReleaseActivity       = "release_activity"
	DBOpGetActivityQueueDepth = "get_activity_queue_depth"
)

// HTTP Metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		},
		[]string{"endpoint", "status_code"},
	)
)

// Tracking Metrics
var (
	MotionSamplesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "motion_samples_total",
			Help: "Total number of motion samples processed by the step detector",
		},
	)

	StepEventsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "step_events_total",
			Help: "Total number of steps emitted by the step detector",
		},
	)

	ManualStepsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "manual_steps_total",
			Help: "Total number of manually entered steps",
		},
	)

	TrackingSessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracking_sessions_active",
			Help: "Number of tracking sessions currently subscribed to a motion source",
		},
	)

	TrackingStartFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracking_start_failures_total",
			Help: "Total number of tracking starts that failed, by reason",
		},
		[]string{"reason"},
	)

	FlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "step_flushes_total",
			Help: "Total number of step flushes to the durable store",
		},
		[]string{"trigger", "result"},
	)

	FlushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "step_flush_duration_seconds",
			Help:    "Time spent writing in-memory step counters to the store",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)
)

// Streak Metrics
var (
	StreakTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "streak_transitions_total",
			Help: "Total number of streak state transitions by kind",
		},
		[]string{"transition"},
	)
)

// Queue Metrics
var (
	QueueDepthTotal = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth_total",
			Help: "Total number of items in queue (all states)",
		},
		[]string{"queue_type"},
	)

	QueueDepthReady = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "queue_depth_ready",
			Help: "Number of items ready for processing",
		},
		[]string{"queue_type"},
	)

	QueueEnqueueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_enqueue_total",
			Help: "Total number of items enqueued",
		},
		[]string{"queue_type"},
	)

	QueueDequeueTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_dequeue_total",
			Help: "Total number of items dequeued with outcome",
		},
		[]string{"queue_type", "result"},
	)

	QueueProcessingDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "queue_processing_duration_seconds",
			Help:    "Time spent processing queue items",
			Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
		},
		[]string{"queue_type", "result"},
	)

	QueueRetryTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "queue_retry_total",
			Help: "Total number of retry attempts",
		},
		[]string{"queue_type", "retry_count"},
	)
)

// Worker Metrics
var (
	WorkerPollCyclesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_poll_cycles_total",
			Help: "Total number of worker poll cycles by outcome",
		},
		[]string{"outcome"},
	)

	WorkerActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "worker_active",
			Help: "Whether the worker is currently active (1) or not (0)",
		},
	)
)

// Kafka Metrics
var (
	KafkaMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kafka_messages_total",
			Help: "Total number of Kafka activity messages by result",
		},
		[]string{"topic", "result"},
	)
)

// Database Metrics
var (
	DBOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_operation_duration_seconds",
			Help:    "Database operation latency in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
		[]string{"operation"},
	)

	DBOperationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_operation_errors_total",
			Help: "Total number of database operation errors",
		},
		[]string{"operation"},
	)
)
