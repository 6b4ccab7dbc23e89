package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"wellness-activity/internal/clock"
	"wellness-activity/internal/config"
	"wellness-activity/internal/database"
	"wellness-activity/internal/streak"
	"wellness-activity/internal/worker"
)

func setupActivitiesTest(t *testing.T) (*ActivitiesHandler, *database.DB) {
	handler, db, _ := setupActivitiesClockTest(t)
	return handler, db
}

func setupActivitiesClockTest(t *testing.T) (*ActivitiesHandler, *database.DB, *clock.Mock) {
	dbPath := t.TempDir() + "/test.db"
	db, err := database.Open(dbPath)
	if err != nil {
		t.Fatalf("Failed to open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clk := clock.NewMock(time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC))
	cfg := &config.Config{InternalAPIKey: testAPIKey}
	return NewActivitiesHandler(db, clk, cfg), db, clk
}

func claimActivity(t *testing.T, db *database.DB) streak.Activity {
	t.Helper()
	item, err := db.ClaimActivity(context.Background())
	if err != nil {
		t.Fatalf("Failed to claim activity: %v", err)
	}
	if item == nil {
		t.Fatal("Expected activity item, got nil")
	}

	var activity streak.Activity
	if err := json.Unmarshal(item.Data, &activity); err != nil {
		t.Fatalf("Failed to unmarshal queued data: %v", err)
	}
	return activity
}

func TestHandleActivity_Success(t *testing.T) {
	handler, db := setupActivitiesTest(t)

	body := map[string]any{
		"activity_type": "yoga",
		"occurred_at":   "2024-02-28T18:30:00Z",
	}
	req := newAPIRequest(http.MethodPost, "/v1/activities", body, "u1")
	req.Header.Set(IdempotencyKeyHeader, "client-key-1")
	w := httptest.NewRecorder()

	handler.HandleActivity(w, req)

	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	var resp activityResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.EventKey != "client-key-1" {
		t.Errorf("Expected event key 'client-key-1', got %q", resp.EventKey)
	}

	activity := claimActivity(t, db)
	if activity.UserID != "u1" {
		t.Errorf("Expected user u1, got %q", activity.UserID)
	}
	if activity.ActivityType != "yoga" {
		t.Errorf("Expected activity type yoga, got %q", activity.ActivityType)
	}
	if !activity.OccurredAt.Equal(time.Date(2024, 2, 28, 18, 30, 0, 0, time.UTC)) {
		t.Errorf("Expected occurred_at to be kept, got %v", activity.OccurredAt)
	}
}

func TestHandleActivity_GeneratesEventKey(t *testing.T) {
	handler, db := setupActivitiesTest(t)

	keys := make(map[string]bool)
	for i := 0; i < 2; i++ {
		w := httptest.NewRecorder()
		handler.HandleActivity(w, newAPIRequest(http.MethodPost, "/v1/activities", map[string]string{"activity_type": "run"}, "u1"))
		if w.Code != http.StatusAccepted {
			t.Fatalf("Expected status 202, got %d", w.Code)
		}
		keys[claimActivity(t, db).EventKey] = true
	}

	if len(keys) != 2 {
		t.Errorf("Expected two distinct event keys, got %v", keys)
	}
}

func TestHandleActivity_InvalidInput(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"invalid json", `not json`},
		{"missing type", `{"occurred_at":"2024-02-28T18:30:00Z"}`},
		{"blank type", `{"activity_type":"  "}`},
		{"bad time", `{"activity_type":"run","occurred_at":"yesterday"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler, db := setupActivitiesTest(t)

			req := httptest.NewRequest(http.MethodPost, "/v1/activities", bytes.NewReader([]byte(tt.body)))
			req.Header.Set("Authorization", "Bearer "+testAPIKey)
			req.Header.Set(UserHeader, "u1")
			w := httptest.NewRecorder()

			handler.HandleActivity(w, req)

			if w.Code != http.StatusBadRequest {
				t.Errorf("Expected status 400, got %d", w.Code)
			}

			length, err := db.GetActivityQueueLength()
			if err != nil {
				t.Fatalf("Failed to get queue length: %v", err)
			}
			if length != 0 {
				t.Errorf("Expected queue length 0, got %d", length)
			}
		})
	}
}

func TestHandleActivity_Unauthorized(t *testing.T) {
	handler, _ := setupActivitiesTest(t)

	req := httptest.NewRequest(http.MethodPost, "/v1/activities", bytes.NewReader([]byte(`{"activity_type":"run"}`)))
	req.Header.Set(UserHeader, "u1")
	w := httptest.NewRecorder()

	handler.HandleActivity(w, req)

	if w.Code != http.StatusUnauthorized {
		t.Errorf("Expected status 401, got %d", w.Code)
	}
}

func TestHandleActivity_WrongMethod(t *testing.T) {
	handler, _ := setupActivitiesTest(t)

	w := httptest.NewRecorder()
	handler.HandleActivity(w, newAPIRequest(http.MethodGet, "/v1/activities", nil, "u1"))

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected status 405, got %d", w.Code)
	}
}

func TestHandleActivity_StampsSubmissionTime(t *testing.T) {
	handler, db, clk := setupActivitiesClockTest(t)
	clk.Set(time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC))

	w := httptest.NewRecorder()
	handler.HandleActivity(w, newAPIRequest(http.MethodPost, "/v1/activities", map[string]string{"activity_type": "walk"}, "u1"))
	if w.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", w.Code, w.Body.String())
	}

	// The worker only gets to it after midnight
	clk.Set(time.Date(2024, 3, 2, 0, 5, 0, 0, time.UTC))
	engine := streak.NewEngine(db, clk, time.UTC)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- worker.NewWorker(db, engine, 10*time.Millisecond).Start(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for {
		length, err := db.GetActivityQueueLength()
		if err != nil {
			t.Fatalf("Failed to get queue length: %v", err)
		}
		if length == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Worker did not drain the queue")
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	<-done

	rec, err := engine.Get(context.Background(), "u1")
	if err != nil {
		t.Fatalf("Failed to get streak: %v", err)
	}
	if rec.LastActivityDate == nil || clock.FormatDay(*rec.LastActivityDate) != "2024-03-01" {
		t.Errorf("Expected last activity 2024-03-01, got %v", rec.LastActivityDate)
	}
}
