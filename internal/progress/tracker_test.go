package progress

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newTracker(t *testing.T, steps, goal int) *Tracker {
	t.Helper()
	tr, err := NewTracker(steps, goal)
	require.NoError(t, err)
	return tr
}

func TestApplyStepEvents(t *testing.T) {
	tr := newTracker(t, 0, 10000)

	for i := 0; i < 150; i++ {
		tr.ApplyStepEvent()
	}

	data := tr.Snapshot()
	require.Equal(t, 150, data.Steps)
	require.Equal(t, 1.5, data.Percentage)
	require.Equal(t, SourceDeviceMotion, data.Source)
}

func TestAddManualSteps(t *testing.T) {
	tr := newTracker(t, 9600, 10000)

	require.ErrorIs(t, tr.AddManualSteps(-5), ErrInvalidInput)
	require.ErrorIs(t, tr.AddManualSteps(0), ErrInvalidInput)
	require.Equal(t, StepData{Steps: 9600, GoalSteps: 10000, Percentage: 96, Source: SourceDeviceMotion}, tr.Snapshot())

	require.NoError(t, tr.AddManualSteps(500))
	data := tr.Snapshot()
	require.Equal(t, 10100, data.Steps)
	require.Equal(t, float64(100), data.Percentage)
	require.Equal(t, SourceManual, data.Source)
}

func TestSetGoalKeepsSteps(t *testing.T) {
	tr := newTracker(t, 3000, 10000)
	require.Equal(t, float64(30), tr.Snapshot().Percentage)

	require.NoError(t, tr.SetGoal(6000))
	require.Equal(t, 3000, tr.Steps())
	require.Equal(t, float64(50), tr.Snapshot().Percentage)

	require.ErrorIs(t, tr.SetGoal(0), ErrInvalidInput)
	require.ErrorIs(t, tr.SetGoal(-1), ErrInvalidInput)
	require.Equal(t, 6000, tr.Goal())
}

func TestSwitchSourceDoesNotTouchSteps(t *testing.T) {
	tr := newTracker(t, 42, 100)
	tr.SwitchSource(SourceExternalProvider)

	require.Equal(t, 42, tr.Steps())
	require.Equal(t, SourceExternalProvider, tr.Source())
}

func TestPercentageClamped(t *testing.T) {
	tests := []struct {
		steps, goal int
		want        float64
	}{
		{0, 10000, 0},
		{1, 3, 33.33},
		{5000, 10000, 50},
		{10000, 10000, 100},
		{25000, 10000, 100},
		{10, 0, 0},
	}

	for _, tt := range tests {
		got := Percentage(tt.steps, tt.goal)
		require.Equal(t, tt.want, got, "steps=%d goal=%d", tt.steps, tt.goal)
		require.GreaterOrEqual(t, got, float64(0))
		require.LessOrEqual(t, got, float64(100))
	}
}

func TestNewTrackerRejectsInvalidState(t *testing.T) {
	_, err := NewTracker(-1, 100)
	require.ErrorIs(t, err, ErrInvalidInput)

	_, err = NewTracker(0, 0)
	require.ErrorIs(t, err, ErrInvalidInput)
}

func TestSourceValid(t *testing.T) {
	require.True(t, SourceManual.Valid())
	require.True(t, SourceDeviceMotion.Valid())
	require.True(t, SourceExternalProvider.Valid())
	require.False(t, Source("fitbit").Valid())
}
