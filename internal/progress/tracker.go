// Package progress holds the day's step count and derives goal progress.
package progress

import (
	"errors"
	"math"
)

// ErrInvalidInput is returned for non-positive goals or manual step counts.
var ErrInvalidInput = errors.New("invalid input")

// Source records which mechanism produced the current step count.
type Source string

const (
	SourceDeviceMotion     Source = "device_motion"
	SourceManual           Source = "manual"
	SourceExternalProvider Source = "external_provider"
)

// Valid reports whether s is a known source.
func (s Source) Valid() bool {
	switch s {
	case SourceDeviceMotion, SourceManual, SourceExternalProvider:
		return true
	}
	return false
}

// StepData is the read model exposed to the UI layer.
type StepData struct {
	Steps      int     `json:"steps"`
	GoalSteps  int     `json:"goal_steps"`
	Percentage float64 `json:"percentage"`
	Source     Source  `json:"source"`
}

// Tracker is not safe for concurrent use; the owning session serializes access.
type Tracker struct {
	steps  int
	goal   int
	source Source
}

// NewTracker creates a Tracker seeded from persisted state.
func NewTracker(steps, goal int) (*Tracker, error) {
	if steps < 0 || goal <= 0 {
		return nil, ErrInvalidInput
	}
	return &Tracker{steps: steps, goal: goal, source: SourceDeviceMotion}, nil
}

// ApplyStepEvent counts one detected step.
func (t *Tracker) ApplyStepEvent() {
	t.steps++
}

// AddManualSteps adds n user-entered steps and marks the source as manual.
func (t *Tracker) AddManualSteps(n int) error {
	if n <= 0 {
		return ErrInvalidInput
	}
	t.steps += n
	t.source = SourceManual
	return nil
}

// SetGoal replaces the goal. Steps are kept.
func (t *Tracker) SetGoal(goal int) error {
	if goal <= 0 {
		return ErrInvalidInput
	}
	t.goal = goal
	return nil
}

// SwitchSource records provenance only.
func (t *Tracker) SwitchSource(s Source) {
	t.source = s
}

// Steps returns the current count.
func (t *Tracker) Steps() int { return t.steps }

// Goal returns the current goal.
func (t *Tracker) Goal() int { return t.goal }

// Source returns the current provenance.
func (t *Tracker) Source() Source { return t.source }

// Snapshot returns the current state with a freshly computed percentage.
func (t *Tracker) Snapshot() StepData {
	return StepData{
		Steps:      t.steps,
		GoalSteps:  t.goal,
		Percentage: Percentage(t.steps, t.goal),
		Source:     t.source,
	}
}

// Percentage returns steps/goal*100 clamped to [0, 100] and rounded to two
// decimals.
func Percentage(steps, goal int) float64 {
	if goal <= 0 || steps <= 0 {
		return 0
	}
	pct := float64(steps) / float64(goal) * 100
	if pct > 100 {
		return 100
	}
	return math.Round(pct*100) / 100
}
