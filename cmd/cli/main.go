package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"wellness-activity/internal/clock"
	"wellness-activity/internal/config"
	"wellness-activity/internal/database"
	"wellness-activity/internal/motion"
	"wellness-activity/internal/progress"
	"wellness-activity/internal/stepdetect"
	"wellness-activity/internal/streak"
)

func main() {
	// Disable structured logging for CLI
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors
	})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	// Commands that need neither configuration nor database
	switch command {
	case "help", "-h", "--help":
		printUsage()
		return
	case "replay":
		handleReplay()
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	engine := streak.NewEngine(db, clock.Real{}, cfg.Location)
	ctx := context.Background()

	switch command {
	case "streak":
		handleStreak(ctx, db, engine)
	case "goal":
		handleGoal(ctx, db, engine)
	case "set-goal":
		handleSetGoal(ctx, db, engine)
	case "history":
		handleHistory(ctx, db)
	case "logs":
		handleLogs(ctx, db)
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`wellness-activity CLI - Step and streak inspection

Usage:
  cli <command> [options]

Commands:
  streak <user>                    Show a user's streak record
  goal <user> [YYYY-MM-DD]         Show a user's daily goal (default: today)
  set-goal <user> <steps>          Set today's step goal
  history <user> [limit]           List recent daily goals
  logs <user> [limit]              List recent step log entries
  replay <samples.csv> [threshold] Count steps in recorded x,y,z samples
  help                             Show this help message

Examples:
  cli streak user-123
  cli goal user-123 2024-03-01
  cli set-goal user-123 8000
  cli replay walk.csv 1.2

Environment Variables Required:
  INTERNAL_API_KEY       - API key for the HTTP API
  DATABASE_PATH          - SQLite database path (default: ./data.db)
  TIMEZONE               - Zone used for calendar days (default: UTC)`)
}

func requireArgs(n int, usage string) {
	if len(os.Args) < n {
		fmt.Fprintln(os.Stderr, "Error: Missing arguments")
		fmt.Fprintf(os.Stderr, "Usage: cli %s\n", usage)
		os.Exit(1)
	}
}

func optionalLimit(index, fallback int) int {
	if len(os.Args) <= index {
		return fallback
	}
	limit, err := strconv.Atoi(os.Args[index])
	if err != nil || limit <= 0 {
		fmt.Fprintf(os.Stderr, "Error: Invalid limit: %s\n", os.Args[index])
		os.Exit(1)
	}
	return limit
}

func handleStreak(ctx context.Context, db *database.DB, engine *streak.Engine) {
	requireArgs(3, "streak <user>")
	userID := os.Args[2]

	rec, err := engine.Get(ctx, userID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to get streak: %v\n", err)
		os.Exit(1)
	}

	today, err := db.CountActivityEvents(ctx, userID, engine.Today())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to count activities: %v\n", err)
		os.Exit(1)
	}

	lastActivity := "never"
	if rec.LastActivityDate != nil {
		lastActivity = clock.FormatDay(*rec.LastActivityDate)
	}

	fmt.Printf("Streak for %s:\n", userID)
	fmt.Printf("  Current streak: %d\n", rec.CurrentStreak)
	fmt.Printf("  Longest streak: %d\n", rec.LongestStreak)
	fmt.Printf("  Last activity: %s\n", lastActivity)
	fmt.Printf("  Weekly activity count: %d\n", rec.WeeklyActivityCount)
	fmt.Printf("  Monthly activity count: %d\n", rec.MonthlyActivityCount)
	fmt.Printf("  Activities today: %d\n", today)
}

func handleGoal(ctx context.Context, db *database.DB, engine *streak.Engine) {
	requireArgs(3, "goal <user> [YYYY-MM-DD]")
	userID := os.Args[2]

	day := engine.Today()
	if len(os.Args) > 3 {
		var err error
		day, err = clock.ParseDay(os.Args[3])
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: Invalid date: %s\n", os.Args[3])
			os.Exit(1)
		}
	}

	goal, err := db.GetDailyGoal(ctx, userID, day)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to get daily goal: %v\n", err)
		os.Exit(1)
	}
	if goal == nil {
		fmt.Printf("No daily goal for %s on %s\n", userID, clock.FormatDay(day))
		return
	}

	printGoal(goal)
}

func handleSetGoal(ctx context.Context, db *database.DB, engine *streak.Engine) {
	requireArgs(4, "set-goal <user> <steps>")
	userID := os.Args[2]

	stepGoal, err := strconv.Atoi(os.Args[3])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Invalid step goal: %s\n", os.Args[3])
		os.Exit(1)
	}

	goal, err := setGoal(ctx, db, userID, engine.Today(), stepGoal)
	if err != nil {
		if errors.Is(err, progress.ErrInvalidInput) {
			fmt.Fprintln(os.Stderr, "Error: Step goal must be positive")
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}

	fmt.Println("✓ Step goal updated")
	printGoal(goal)
}

// setGoal writes only step_goal so a running server's step count is never
// overwritten
func setGoal(ctx context.Context, db *database.DB, userID string, day time.Time, stepGoal int) (*database.DailyGoal, error) {
	if stepGoal <= 0 {
		return nil, fmt.Errorf("%w: step goal must be positive, got %d", progress.ErrInvalidInput, stepGoal)
	}

	goal, err := db.CreateDailyGoal(ctx, userID, day, stepGoal)
	if err != nil {
		return nil, err
	}
	if goal.StepGoal == stepGoal {
		return goal, nil
	}

	if err := db.UpdateDailyGoal(ctx, goal.ID, database.DailyGoalUpdate{StepGoal: &stepGoal}); err != nil {
		return nil, err
	}
	return db.GetDailyGoal(ctx, userID, day)
}

func handleHistory(ctx context.Context, db *database.DB) {
	requireArgs(3, "history <user> [limit]")
	userID := os.Args[2]
	limit := optionalLimit(3, 7)

	goals, err := db.ListDailyGoals(ctx, userID, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list daily goals: %v\n", err)
		os.Exit(1)
	}
	if len(goals) == 0 {
		fmt.Printf("No daily goals found for %s\n", userID)
		return
	}

	fmt.Printf("Found %d daily goal(s):\n\n", len(goals))
	for _, goal := range goals {
		printGoal(goal)
		fmt.Println()
	}
}

func handleLogs(ctx context.Context, db *database.DB) {
	requireArgs(3, "logs <user> [limit]")
	userID := os.Args[2]
	limit := optionalLimit(3, 20)

	logs, err := db.ListStepLogs(ctx, userID, limit)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list step logs: %v\n", err)
		os.Exit(1)
	}
	if len(logs) == 0 {
		fmt.Printf("No step logs found for %s\n", userID)
		return
	}

	for _, entry := range logs {
		session := entry.SessionID
		if session == "" {
			session = "-"
		}
		fmt.Printf("%s  %6d  %-14s  %s\n", entry.LoggedAt.Format("2006-01-02 15:04:05"), entry.Steps, entry.Source, session)
	}
}

func handleReplay() {
	requireArgs(3, "replay <samples.csv> [threshold]")

	threshold := stepdetect.DefaultThreshold
	if len(os.Args) > 3 {
		var err error
		threshold, err = strconv.ParseFloat(os.Args[3], 64)
		if err != nil || threshold <= 0 {
			fmt.Fprintf(os.Stderr, "Error: Invalid threshold: %s\n", os.Args[3])
			os.Exit(1)
		}
	}

	f, err := os.Open(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	samples, err := readSamples(f)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Samples: %d\n", len(samples))
	fmt.Printf("Threshold: %.2f\n", threshold)
	fmt.Printf("Steps: %d\n", stepdetect.Count(threshold, samples))
}

// readSamples parses x,y,z rows. A non-numeric first row is treated as a
// header.
func readSamples(r io.Reader) ([]motion.Sample, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = 3
	reader.TrimLeadingSpace = true
	reader.Comment = '#'

	var samples []motion.Sample
	for line := 1; ; line++ {
		record, err := reader.Read()
		if err == io.EOF {
			return samples, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read samples: %w", err)
		}

		var values [3]float64
		for i, field := range record {
			values[i], err = strconv.ParseFloat(strings.TrimSpace(field), 64)
			if err != nil {
				break
			}
		}
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: invalid sample: %w", line, err)
		}
		samples = append(samples, motion.Sample{X: values[0], Y: values[1], Z: values[2]})
	}
}

func printGoal(goal *database.DailyGoal) {
	fmt.Printf("Date: %s\n", clock.FormatDay(goal.Date))
	fmt.Printf("  Steps: %d / %d (%.2f%%)\n",
		goal.StepsCompleted, goal.StepGoal, progress.Percentage(goal.StepsCompleted, goal.StepGoal))
	fmt.Printf("  Updated: %s\n", goal.UpdatedAt.Format("2006-01-02 15:04:05"))
}
