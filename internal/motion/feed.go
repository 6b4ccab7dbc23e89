package motion

import (
	"context"
	"errors"
	"sync"
)

// Permission is the grant state a client reports for its motion sensor.
type Permission string

const (
	PermissionGranted     Permission = "granted"
	PermissionDenied      Permission = "denied"
	PermissionPrompt      Permission = "prompt"
	PermissionUnsupported Permission = "unsupported"
)

// ErrNotSubscribed is returned by Push when nobody is listening.
var ErrNotSubscribed = errors.New("no motion subscriber")

// FeedSource is a Source fed by Push, used when samples arrive from a remote
// device over the API rather than from a local sensor.
type FeedSource struct {
	mu         sync.RWMutex
	permission Permission
	handler    Handler
	gen        uint64
	// prompt answers a PermissionPrompt request; nil means the prompt is declined.
	prompt func(ctx context.Context) (bool, error)
}

// NewFeedSource creates a FeedSource reporting the given permission state.
func NewFeedSource(permission Permission) *FeedSource {
	if permission == "" {
		permission = PermissionGranted
	}
	return &FeedSource{permission: permission}
}

// SetPrompt installs the callback used to ask for permission when the state
// is PermissionPrompt.
func (f *FeedSource) SetPrompt(prompt func(ctx context.Context) (bool, error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.prompt = prompt
}

// SetPermission replaces the reported permission state.
func (f *FeedSource) SetPermission(p Permission) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.permission = p
}

// Available implements Source.
func (f *FeedSource) Available() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.permission != PermissionUnsupported
}

// RequestPermission implements PermissionRequester.
func (f *FeedSource) RequestPermission(ctx context.Context) (bool, error) {
	f.mu.RLock()
	permission, prompt := f.permission, f.prompt
	f.mu.RUnlock()

	switch permission {
	case PermissionGranted:
		return true, nil
	case PermissionPrompt:
		if prompt == nil {
			return false, nil
		}
		granted, err := prompt(ctx)
		if err != nil {
			return false, err
		}
		if granted {
			f.SetPermission(PermissionGranted)
		}
		return granted, nil
	default:
		return false, nil
	}
}

// Subscribe implements Source. A later Subscribe replaces the earlier handler.
func (f *FeedSource) Subscribe(h Handler) (func(), error) {
	if !f.Available() {
		return nil, ErrCapabilityUnavailable
	}

	f.mu.Lock()
	f.gen++
	gen := f.gen
	f.handler = h
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			defer f.mu.Unlock()
			if f.gen == gen {
				f.handler = nil
			}
		})
	}, nil
}

// Subscribed reports whether a handler is registered.
func (f *FeedSource) Subscribed() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.handler != nil
}

// Push delivers samples to the current subscriber in order. The handler runs
// outside the source lock so it may call back into the source.
func (f *FeedSource) Push(samples ...Sample) error {
	f.mu.RLock()
	h := f.handler
	f.mu.RUnlock()

	if h == nil {
		return ErrNotSubscribed
	}
	for _, s := range samples {
		h(s)
	}
	return nil
}
