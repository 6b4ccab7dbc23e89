// Package motion models the device acceleration stream consumed by the step
// detector.
package motion

import (
	"context"
	"errors"
)

var (
	// ErrCapabilityUnavailable is returned when the platform exposes no motion sensing.
	ErrCapabilityUnavailable = errors.New("motion capability unavailable")
	// ErrPermissionDenied is returned when the user declines the motion permission prompt.
	ErrPermissionDenied = errors.New("motion permission denied")
)

// Sample is one acceleration-including-gravity reading. Its timestamp is
// implied by arrival order.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Handler receives samples in arrival order.
type Handler func(Sample)

// Source supplies motion samples.
type Source interface {
	// Available reports whether the platform can deliver samples at all.
	Available() bool
	// Subscribe registers h and returns the function that removes it.
	Subscribe(h Handler) (unsubscribe func(), err error)
}

// PermissionRequester is implemented by sources that need an explicit runtime
// grant before Subscribe. RequestPermission may block until the user answers.
type PermissionRequester interface {
	RequestPermission(ctx context.Context) (granted bool, err error)
}
