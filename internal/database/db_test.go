package database

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := Open(t.TempDir() + "/test.db")
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func day(s string) time.Time {
	d, err := time.ParseInLocation("2006-01-02", s, time.UTC)
	if err != nil {
		panic(err)
	}
	return d
}

func intPtr(n int) *int { return &n }

func TestDailyGoals(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		goal, err := db.GetDailyGoal(ctx, "nobody", day("2024-03-01"))
		if err != nil {
			t.Fatalf("Failed to get daily goal: %v", err)
		}
		if goal != nil {
			t.Errorf("Expected nil goal, got %+v", goal)
		}
	})

	t.Run("CreateAndGet", func(t *testing.T) {
		created, err := db.CreateDailyGoal(ctx, "u1", day("2024-03-01"), 10000)
		if err != nil {
			t.Fatalf("Failed to create daily goal: %v", err)
		}
		if created.ID == 0 {
			t.Fatal("Expected non-zero id")
		}
		if created.StepGoal != 10000 || created.StepsCompleted != 0 {
			t.Errorf("Expected 0/10000, got %d/%d", created.StepsCompleted, created.StepGoal)
		}

		got, err := db.GetDailyGoal(ctx, "u1", day("2024-03-01"))
		if err != nil {
			t.Fatalf("Failed to get daily goal: %v", err)
		}
		if got == nil {
			t.Fatal("Expected daily goal to be found")
		}
		if got.ID != created.ID {
			t.Errorf("Expected id %d, got %d", created.ID, got.ID)
		}
		if !got.Date.Equal(day("2024-03-01")) {
			t.Errorf("Expected date 2024-03-01, got %v", got.Date)
		}
	})

	t.Run("CreateExistingKeepsRow", func(t *testing.T) {
		first, err := db.CreateDailyGoal(ctx, "u2", day("2024-03-01"), 8000)
		if err != nil {
			t.Fatalf("Failed to create daily goal: %v", err)
		}
		if err := db.UpdateDailyGoal(ctx, first.ID, DailyGoalUpdate{StepsCompleted: intPtr(42)}); err != nil {
			t.Fatalf("Failed to update daily goal: %v", err)
		}

		second, err := db.CreateDailyGoal(ctx, "u2", day("2024-03-01"), 12000)
		if err != nil {
			t.Fatalf("Failed to create daily goal: %v", err)
		}
		if second.ID != first.ID {
			t.Errorf("Expected same row %d, got %d", first.ID, second.ID)
		}
		if second.StepGoal != 8000 || second.StepsCompleted != 42 {
			t.Errorf("Expected 42/8000, got %d/%d", second.StepsCompleted, second.StepGoal)
		}
	})

	t.Run("PartialUpdate", func(t *testing.T) {
		goal, err := db.CreateDailyGoal(ctx, "u3", day("2024-03-01"), 10000)
		if err != nil {
			t.Fatalf("Failed to create daily goal: %v", err)
		}

		if err := db.UpdateDailyGoal(ctx, goal.ID, DailyGoalUpdate{StepsCompleted: intPtr(150)}); err != nil {
			t.Fatalf("Failed to update steps: %v", err)
		}
		if err := db.UpdateDailyGoal(ctx, goal.ID, DailyGoalUpdate{StepGoal: intPtr(5000)}); err != nil {
			t.Fatalf("Failed to update goal: %v", err)
		}

		got, err := db.GetDailyGoal(ctx, "u3", day("2024-03-01"))
		if err != nil {
			t.Fatalf("Failed to get daily goal: %v", err)
		}
		if got.StepsCompleted != 150 {
			t.Errorf("Expected steps 150, got %d", got.StepsCompleted)
		}
		if got.StepGoal != 5000 {
			t.Errorf("Expected goal 5000, got %d", got.StepGoal)
		}
	})

	t.Run("UpdateMissing", func(t *testing.T) {
		err := db.UpdateDailyGoal(ctx, 99999, DailyGoalUpdate{StepGoal: intPtr(1)})
		if err != ErrDailyGoalNotFound {
			t.Errorf("Expected ErrDailyGoalNotFound, got %v", err)
		}
	})

	t.Run("RejectsNonPositiveGoal", func(t *testing.T) {
		goal, err := db.CreateDailyGoal(ctx, "u4", day("2024-03-01"), 10000)
		if err != nil {
			t.Fatalf("Failed to create daily goal: %v", err)
		}
		if err := db.UpdateDailyGoal(ctx, goal.ID, DailyGoalUpdate{StepGoal: intPtr(0)}); err == nil {
			t.Error("Expected constraint error for zero goal")
		}
	})

	t.Run("LatestStepGoal", func(t *testing.T) {
		_, ok, err := db.GetLatestStepGoal(ctx, "u5", day("2024-03-05"))
		if err != nil {
			t.Fatalf("Failed to get latest step goal: %v", err)
		}
		if ok {
			t.Error("Expected no earlier goal")
		}

		if _, err := db.CreateDailyGoal(ctx, "u5", day("2024-03-01"), 6000); err != nil {
			t.Fatalf("Failed to create daily goal: %v", err)
		}
		if _, err := db.CreateDailyGoal(ctx, "u5", day("2024-03-03"), 7000); err != nil {
			t.Fatalf("Failed to create daily goal: %v", err)
		}
		if _, err := db.CreateDailyGoal(ctx, "u5", day("2024-03-09"), 9000); err != nil {
			t.Fatalf("Failed to create daily goal: %v", err)
		}

		goal, ok, err := db.GetLatestStepGoal(ctx, "u5", day("2024-03-05"))
		if err != nil {
			t.Fatalf("Failed to get latest step goal: %v", err)
		}
		if !ok || goal != 7000 {
			t.Errorf("Expected 7000, got %d (ok=%v)", goal, ok)
		}

		goals, err := db.ListDailyGoals(ctx, "u5", 2)
		if err != nil {
			t.Fatalf("Failed to list daily goals: %v", err)
		}
		if len(goals) != 2 {
			t.Fatalf("Expected 2 goals, got %d", len(goals))
		}
		if goals[0].StepGoal != 9000 {
			t.Errorf("Expected newest goal first, got %d", goals[0].StepGoal)
		}
	})
}

func bump(prev *StreakRecord, d time.Time) StreakRecord {
	if prev == nil {
		return StreakRecord{CurrentStreak: 1, LongestStreak: 1, LastActivityDate: &d, WeeklyActivityCount: 1, MonthlyActivityCount: 1}
	}
	next := *prev
	next.CurrentStreak++
	if next.CurrentStreak > next.LongestStreak {
		next.LongestStreak = next.CurrentStreak
	}
	next.LastActivityDate = &d
	next.WeeklyActivityCount++
	next.MonthlyActivityCount++
	return next
}

func TestStreakRecords(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	t.Run("GetMissing", func(t *testing.T) {
		rec, err := db.GetStreakRecord(ctx, "nobody")
		if err != nil {
			t.Fatalf("Failed to get streak record: %v", err)
		}
		if rec != nil {
			t.Errorf("Expected nil record, got %+v", rec)
		}
	})

	t.Run("UpsertAndGet", func(t *testing.T) {
		last := day("2024-03-02")
		err := upsertStreakRecord(ctx, db.conn, StreakRecord{
			UserID:               "u1",
			CurrentStreak:        2,
			LongestStreak:        5,
			LastActivityDate:     &last,
			WeeklyActivityCount:  3,
			MonthlyActivityCount: 9,
		})
		if err != nil {
			t.Fatalf("Failed to upsert streak record: %v", err)
		}

		rec, err := db.GetStreakRecord(ctx, "u1")
		if err != nil {
			t.Fatalf("Failed to get streak record: %v", err)
		}
		if rec == nil {
			t.Fatal("Expected streak record to be found")
		}
		if rec.CurrentStreak != 2 || rec.LongestStreak != 5 {
			t.Errorf("Expected 2/5, got %d/%d", rec.CurrentStreak, rec.LongestStreak)
		}
		if rec.LastActivityDate == nil || !rec.LastActivityDate.Equal(last) {
			t.Errorf("Expected last activity %v, got %v", last, rec.LastActivityDate)
		}
		if rec.WeeklyActivityCount != 3 || rec.MonthlyActivityCount != 9 {
			t.Errorf("Expected counts 3/9, got %d/%d", rec.WeeklyActivityCount, rec.MonthlyActivityCount)
		}
	})

	t.Run("RejectsLongestBelowCurrent", func(t *testing.T) {
		err := upsertStreakRecord(ctx, db.conn, StreakRecord{UserID: "u2", CurrentStreak: 3, LongestStreak: 1})
		if err == nil {
			t.Error("Expected constraint error when longest < current")
		}
	})

	t.Run("ApplyActivityOnce", func(t *testing.T) {
		rec, applied, err := db.ApplyStreakActivity(ctx, "u3", "steps:2024-03-01", "steps", day("2024-03-01"), bump)
		if err != nil {
			t.Fatalf("Failed to apply activity: %v", err)
		}
		if !applied {
			t.Fatal("Expected first activity to be applied")
		}
		if rec.CurrentStreak != 1 {
			t.Errorf("Expected streak 1, got %d", rec.CurrentStreak)
		}

		rec, applied, err = db.ApplyStreakActivity(ctx, "u3", "steps:2024-03-01", "steps", day("2024-03-01"), bump)
		if err != nil {
			t.Fatalf("Failed to apply duplicate activity: %v", err)
		}
		if applied {
			t.Error("Expected duplicate activity to be skipped")
		}
		if rec == nil || rec.CurrentStreak != 1 {
			t.Errorf("Expected unchanged record with streak 1, got %+v", rec)
		}

		stored, err := db.GetStreakRecord(ctx, "u3")
		if err != nil {
			t.Fatalf("Failed to get streak record: %v", err)
		}
		if stored.WeeklyActivityCount != 1 {
			t.Errorf("Expected weekly count 1, got %d", stored.WeeklyActivityCount)
		}

		count, err := db.CountActivityEvents(ctx, "u3", day("2024-03-01"))
		if err != nil {
			t.Fatalf("Failed to count activity events: %v", err)
		}
		if count != 1 {
			t.Errorf("Expected 1 activity event, got %d", count)
		}
	})

	t.Run("KeysAreScopedPerUser", func(t *testing.T) {
		_, applied, err := db.ApplyStreakActivity(ctx, "u4", "steps:2024-03-01", "steps", day("2024-03-01"), bump)
		if err != nil {
			t.Fatalf("Failed to apply activity: %v", err)
		}
		if !applied {
			t.Error("Expected same key for another user to be applied")
		}
	})

	t.Run("FailedAdvanceRollsBackEvent", func(t *testing.T) {
		broken := func(prev *StreakRecord, d time.Time) StreakRecord {
			return StreakRecord{CurrentStreak: 2, LongestStreak: 1}
		}
		if _, _, err := db.ApplyStreakActivity(ctx, "u5", "k1", "workout", day("2024-03-01"), broken); err == nil {
			t.Fatal("Expected error from invalid record")
		}

		_, applied, err := db.ApplyStreakActivity(ctx, "u5", "k1", "workout", day("2024-03-01"), bump)
		if err != nil {
			t.Fatalf("Failed to apply activity: %v", err)
		}
		if !applied {
			t.Error("Expected event key to be free after rollback")
		}
	})
}

func TestStepLogs(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	base := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	entries := []StepLog{
		{UserID: "u1", SessionID: "s1", Steps: 120, Source: "device_motion", LoggedAt: base},
		{UserID: "u1", Steps: 500, Source: "manual", LoggedAt: base.Add(time.Minute)},
		{UserID: "u2", SessionID: "s2", Steps: 7, Source: "device_motion", LoggedAt: base},
	}
	for _, e := range entries {
		if err := db.AppendStepLog(ctx, e); err != nil {
			t.Fatalf("Failed to append step log: %v", err)
		}
	}

	logs, err := db.ListStepLogs(ctx, "u1", 0)
	if err != nil {
		t.Fatalf("Failed to list step logs: %v", err)
	}
	if len(logs) != 2 {
		t.Fatalf("Expected 2 logs, got %d", len(logs))
	}
	if logs[0].Steps != 500 || logs[0].Source != "manual" || logs[0].SessionID != "" {
		t.Errorf("Expected newest manual log first, got %+v", logs[0])
	}
	if logs[1].SessionID != "s1" {
		t.Errorf("Expected session s1, got %q", logs[1].SessionID)
	}
}

func TestActivityQueue(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	t.Run("ClaimAndDelete", func(t *testing.T) {
		data := json.RawMessage(`{"user_id":"u1","event_key":"k1","activity_type":"workout"}`)

		id, err := db.EnqueueActivity(ctx, data)
		if err != nil {
			t.Fatalf("Failed to enqueue activity: %v", err)
		}
		if id == 0 {
			t.Fatal("Expected non-zero queue item id")
		}

		readyLength, err := db.GetReadyActivityQueueLength()
		if err != nil {
			t.Fatalf("Failed to get ready queue length: %v", err)
		}
		if readyLength != 1 {
			t.Errorf("Expected ready queue length 1, got %d", readyLength)
		}

		item, err := db.ClaimActivity(ctx)
		if err != nil {
			t.Fatalf("Failed to claim activity: %v", err)
		}
		if item == nil {
			t.Fatal("Expected item to be claimed")
		}
		if string(item.Data) != string(data) {
			t.Errorf("Expected data %s, got %s", data, item.Data)
		}
		if item.ProcessingStartedAt == nil {
			t.Error("Expected processing_started_at to be set")
		}

		// Still queued but held by the claim
		length, err := db.GetActivityQueueLength()
		if err != nil {
			t.Fatalf("Failed to get queue length: %v", err)
		}
		if length != 1 {
			t.Errorf("Expected queue length 1, got %d", length)
		}
		readyLength, err = db.GetReadyActivityQueueLength()
		if err != nil {
			t.Fatalf("Failed to get ready queue length: %v", err)
		}
		if readyLength != 0 {
			t.Errorf("Expected ready queue length 0, got %d", readyLength)
		}

		if err := db.DeleteActivity(ctx, item.ID); err != nil {
			t.Fatalf("Failed to delete activity: %v", err)
		}
		length, err = db.GetActivityQueueLength()
		if err != nil {
			t.Fatalf("Failed to get queue length: %v", err)
		}
		if length != 0 {
			t.Errorf("Expected queue length 0, got %d", length)
		}
	})

	t.Run("EmptyQueue", func(t *testing.T) {
		item, err := db.ClaimActivity(ctx)
		if err != nil {
			t.Fatalf("Failed to claim activity: %v", err)
		}
		if item != nil {
			t.Errorf("Expected no item, got %+v", item)
		}
	})

	t.Run("ReleaseWithBackoff", func(t *testing.T) {
		if _, err := db.EnqueueActivity(ctx, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Failed to enqueue activity: %v", err)
		}
		item, err := db.ClaimActivity(ctx)
		if err != nil || item == nil {
			t.Fatalf("Failed to claim activity: %v", err)
		}

		released, err := db.ReleaseActivity(ctx, item.ID, item.RetryCount, "database locked")
		if err != nil {
			t.Fatalf("Failed to release activity: %v", err)
		}
		if !released {
			t.Error("Expected item to be released")
		}

		item, err = db.ClaimActivity(ctx)
		if err != nil {
			t.Fatalf("Failed to claim activity: %v", err)
		}
		if item != nil {
			t.Error("Expected no item to be claimable while waiting for retry")
		}

		if _, err := db.conn.Exec("DELETE FROM activity_queue"); err != nil {
			t.Fatalf("Failed to clean up queue: %v", err)
		}
	})

	t.Run("MaxRetries", func(t *testing.T) {
		queueID, err := db.EnqueueActivity(ctx, json.RawMessage(`{}`))
		if err != nil {
			t.Fatalf("Failed to enqueue activity: %v", err)
		}

		for i := 0; i <= MaxRetries; i++ {
			if _, err := db.conn.Exec("UPDATE activity_queue SET next_retry_at = NULL WHERE id = ?", queueID); err != nil {
				t.Fatalf("Failed to reset retry time: %v", err)
			}

			item, err := db.ClaimActivity(ctx)
			if err != nil {
				t.Fatalf("Failed to claim activity: %v", err)
			}
			if item == nil {
				t.Fatalf("Expected item to be claimed on attempt %d", i+1)
			}
			if item.RetryCount != i {
				t.Errorf("Expected retry count %d, got %d", i, item.RetryCount)
			}

			released, err := db.ReleaseActivity(ctx, item.ID, item.RetryCount, "persistent error")
			if err != nil {
				t.Fatalf("Failed to release activity: %v", err)
			}
			if i < MaxRetries && !released {
				t.Errorf("Expected item to be released on attempt %d", i+1)
			}
			if i == MaxRetries && released {
				t.Error("Expected item to be dropped after max retries")
			}
		}

		length, err := db.GetActivityQueueLength()
		if err != nil {
			t.Fatalf("Failed to get queue length: %v", err)
		}
		if length != 0 {
			t.Errorf("Expected empty queue after max retries, got %d", length)
		}
	})

	t.Run("ConcurrentClaim", func(t *testing.T) {
		if _, err := db.EnqueueActivity(ctx, json.RawMessage(`{}`)); err != nil {
			t.Fatalf("Failed to enqueue activity: %v", err)
		}

		const workers = 10
		claims := make(chan *ActivityQueueItem, workers)
		errs := make(chan error, workers)
		for i := 0; i < workers; i++ {
			go func() {
				item, err := db.ClaimActivity(ctx)
				if err != nil {
					errs <- err
					return
				}
				claims <- item
			}()
		}

		var claimed []*ActivityQueueItem
		for i := 0; i < workers; i++ {
			select {
			case item := <-claims:
				if item != nil {
					claimed = append(claimed, item)
				}
			case err := <-errs:
				t.Fatalf("Unexpected error claiming activity: %v", err)
			}
		}
		if len(claimed) != 1 {
			t.Errorf("Expected exactly 1 claim, got %d", len(claimed))
		}
	})
}
