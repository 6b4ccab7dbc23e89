// Package stepdetect turns a raw acceleration stream into step events with a
// fixed-threshold peak heuristic.
package stepdetect

import (
	"math"

	"wellness-activity/internal/motion"
)

// DefaultThreshold is the delta magnitude a sample must exceed to count as a step.
const DefaultThreshold = 1.2

// Event signals that one step was counted.
type Event struct {
	// Magnitude is the delta magnitude that triggered the step.
	Magnitude float64
}

// Detector compares each sample with the previous one. There is no smoothing
// and no refractory period, so sustained vibration counts on every sample
// that moves far enough from its predecessor.
//
// A Detector is not safe for concurrent use.
type Detector struct {
	threshold float64
	prev      motion.Sample
	hasPrev   bool
}

// New creates a Detector. A non-positive threshold selects DefaultThreshold.
func New(threshold float64) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{threshold: threshold}
}

// Threshold returns the configured threshold.
func (d *Detector) Threshold() float64 {
	return d.threshold
}

// OnSample consumes one sample and reports whether it produced a step. The
// first sample after New or Reset only seeds the baseline.
func (d *Detector) OnSample(s motion.Sample) (Event, bool) {
	if !d.hasPrev {
		d.prev = s
		d.hasPrev = true
		return Event{}, false
	}

	m := Magnitude(d.prev, s)
	// The baseline always advances, step or not.
	d.prev = s

	if m > d.threshold {
		return Event{Magnitude: m}, true
	}
	return Event{}, false
}

// Reset drops the baseline so the next sample is stored without comparison.
func (d *Detector) Reset() {
	d.prev = motion.Sample{}
	d.hasPrev = false
}

// Magnitude is the Euclidean norm of the component-wise absolute deltas.
func Magnitude(prev, cur motion.Sample) float64 {
	dx := math.Abs(cur.X - prev.X)
	dy := math.Abs(cur.Y - prev.Y)
	dz := math.Abs(cur.Z - prev.Z)
	return math.Sqrt(dx*dx + dy*dy + dz*dz)
}

// Count runs a fresh detector over samples and returns the number of steps.
func Count(threshold float64, samples []motion.Sample) int {
	d := New(threshold)
	steps := 0
	for _, s := range samples {
		if _, ok := d.OnSample(s); ok {
			steps++
		}
	}
	return steps
}
