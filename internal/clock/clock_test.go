package clock

import (
	"testing"
	"time"
)

func TestDay_NormalizesToUTCMidnight(t *testing.T) {
	ts := time.Date(2026, 3, 14, 23, 59, 59, 0, time.UTC)
	day := Day(ts, time.UTC)

	want := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	if !day.Equal(want) {
		t.Errorf("Expected %v, got %v", want, day)
	}
}

func TestDay_UsesConfiguredZone(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*60*60)
	// 02:00 UTC on the 15th is still the 14th five hours west.
	ts := time.Date(2026, 3, 15, 2, 0, 0, 0, time.UTC)

	got := FormatDay(Day(ts, loc))
	if got != "2026-03-14" {
		t.Errorf("Expected 2026-03-14, got %s", got)
	}
	if got := FormatDay(Day(ts, time.UTC)); got != "2026-03-15" {
		t.Errorf("Expected 2026-03-15 in UTC, got %s", got)
	}
}

func TestDaysBetween(t *testing.T) {
	tests := []struct {
		a, b string
		want int
	}{
		{"2026-01-01", "2026-01-01", 0},
		{"2026-01-01", "2026-01-02", 1},
		{"2026-01-31", "2026-02-01", 1},
		{"2026-01-01", "2026-01-04", 3},
		{"2026-03-28", "2026-03-30", 2}, // spans a DST change in most zones
	}

	for _, tt := range tests {
		a, err := ParseDay(tt.a)
		if err != nil {
			t.Fatalf("Failed to parse %s: %v", tt.a, err)
		}
		b, err := ParseDay(tt.b)
		if err != nil {
			t.Fatalf("Failed to parse %s: %v", tt.b, err)
		}
		if got := DaysBetween(a, b); got != tt.want {
			t.Errorf("DaysBetween(%s, %s) = %d, want %d", tt.a, tt.b, got, tt.want)
		}
	}
}

func TestMock_AdvanceFiresTicker(t *testing.T) {
	m := NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := m.NewTicker(time.Minute)

	m.Advance(30 * time.Second)
	select {
	case <-ticker.C():
		t.Fatal("ticker fired before its period elapsed")
	default:
	}

	m.Advance(30 * time.Second)
	select {
	case <-ticker.C():
	default:
		t.Fatal("expected ticker to fire after one period")
	}
}

func TestMock_StoppedTickerDoesNotFire(t *testing.T) {
	m := NewMock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	ticker := m.NewTicker(time.Second)
	ticker.Stop()

	m.Advance(10 * time.Second)
	select {
	case <-ticker.C():
		t.Error("stopped ticker fired")
	default:
	}
}
