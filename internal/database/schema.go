package database

// Schema contains all SQL statements for creating tables and indexes
const Schema = `
-- Daily goals: one row per user per calendar date
CREATE TABLE IF NOT EXISTS daily_goals (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    date TEXT NOT NULL,  -- YYYY-MM-DD in the configured reference zone

    step_goal INTEGER NOT NULL CHECK (step_goal > 0),
    steps_completed INTEGER NOT NULL DEFAULT 0 CHECK (steps_completed >= 0),

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,

    UNIQUE (user_id, date)
);

-- Streak records: one row per user, never deleted
CREATE TABLE IF NOT EXISTS streak_records (
    user_id TEXT PRIMARY KEY,

    current_streak INTEGER NOT NULL DEFAULT 0 CHECK (current_streak >= 0),
    longest_streak INTEGER NOT NULL DEFAULT 0 CHECK (longest_streak >= current_streak),
    last_activity_date TEXT,  -- YYYY-MM-DD, NULL until the first activity
    weekly_activity_count INTEGER NOT NULL DEFAULT 0,
    monthly_activity_count INTEGER NOT NULL DEFAULT 0,

    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);

-- Applied activity events: dedupe ledger so retried events do not re-advance streaks
CREATE TABLE IF NOT EXISTS activity_events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    event_key TEXT NOT NULL,
    activity_type TEXT NOT NULL,
    activity_date TEXT NOT NULL,
    created_at INTEGER NOT NULL,

    UNIQUE (user_id, event_key)
);

-- Step logs: append-only audit trail of step deltas
CREATE TABLE IF NOT EXISTS step_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id TEXT NOT NULL,
    session_id TEXT,
    steps INTEGER NOT NULL,
    source TEXT NOT NULL,
    logged_at INTEGER NOT NULL
);

-- Activity queue: activity events awaiting streak application
CREATE TABLE IF NOT EXISTS activity_queue (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    data TEXT NOT NULL,
    retry_count INTEGER NOT NULL DEFAULT 0,
    last_error TEXT,
    next_retry_at INTEGER,
    processing_started_at INTEGER,
    created_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_daily_goals_user_date ON daily_goals(user_id, date DESC);
CREATE INDEX IF NOT EXISTS idx_activity_events_user_date ON activity_events(user_id, activity_date);
CREATE INDEX IF NOT EXISTS idx_step_logs_user_logged ON step_logs(user_id, logged_at DESC);
CREATE INDEX IF NOT EXISTS idx_activity_queue_ready ON activity_queue(next_retry_at, processing_started_at);
`
