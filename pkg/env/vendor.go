// File: pkg/env/vendor.go
// Description: Shapes of the third-party globals a plugin can intercept.
// Hosts (or bridges to real vendor SDKs) construct these and register them
// in the environment's vendor registry.

package env

import "sync"

// VendorEvent is one event flowing through a third party's own pipeline.
type VendorEvent struct {
	Type   string
	Traits map[string]any
}

// SourceMiddleware inspects an outgoing vendor event. Implementations must
// call next exactly once so the vendor's pipeline behavior is unchanged.
type SourceMiddleware func(ev *VendorEvent, next func(*VendorEvent))

// MiddlewareVendor is a third party exposing a source-middleware
// registration point.
type MiddlewareVendor interface {
	AddSourceMiddleware(mw SourceMiddleware)
}

// CallFunc is the invocation shape of a v2-style vendor global.
type CallFunc func(args ...any) any

// Callable models a vendor global that is itself invocable. The installed
// function can be swapped wholesale, which is how a plugin wraps it.
type Callable struct {
	mu sync.Mutex
	fn CallFunc
}

// NewCallable creates a Callable around the vendor's own implementation.
func NewCallable(fn CallFunc) *Callable {
	return &Callable{fn: fn}
}

// Invoke calls whatever implementation is currently installed.
func (c *Callable) Invoke(args ...any) any {
	c.mu.Lock()
	fn := c.fn
	c.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(args...)
}

// Wrap atomically replaces the installed implementation with w(original).
// The wrapper receives the captured original so it can delegate to it.
func (c *Callable) Wrap(w func(orig CallFunc) CallFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fn = w(c.fn)
}

// TrackFunc is the method shape of a legacy queue-era vendor tracker.
type TrackFunc func(event string, props map[string]any)

// LegacyTracker models the older vendor object exposing a track method.
type LegacyTracker struct {
	mu sync.Mutex
	fn TrackFunc
}

// NewLegacyTracker creates a LegacyTracker around the vendor's own track
// implementation.
func NewLegacyTracker(fn TrackFunc) *LegacyTracker {
	return &LegacyTracker{fn: fn}
}

// Track calls whatever implementation is currently installed.
func (t *LegacyTracker) Track(event string, props map[string]any) {
	t.mu.Lock()
	fn := t.fn
	t.mu.Unlock()
	if fn == nil {
		return
	}
	fn(event, props)
}

// Wrap atomically replaces the installed track implementation with
// w(original).
func (t *LegacyTracker) Wrap(w func(orig TrackFunc) TrackFunc) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.fn = w(t.fn)
}
