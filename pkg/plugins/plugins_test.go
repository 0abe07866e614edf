// File: pkg/plugins/plugins_test.go
package plugins

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/u17g/senditly-go/pkg/env"
	"github.com/u17g/senditly-go/pkg/schemas"
)

// fakeHost backs plugins with a memory environment and records forwarded
// identifies.
type fakeHost struct {
	env *env.Memory

	mu          sync.Mutex
	identifies  []*schemas.IdentifyRequest
	identifyErr error
	received    chan *schemas.IdentifyRequest
}

func newFakeHost() *fakeHost {
	return &fakeHost{
		env:      env.NewMemory(env.PageContext{URL: "https://app.example.com/"}),
		received: make(chan *schemas.IdentifyRequest, 8),
	}
}

func (h *fakeHost) Vendors() env.VendorRegistry { return h.env.Vendors() }

func (h *fakeHost) Identify(_ context.Context, req *schemas.IdentifyRequest) error {
	h.mu.Lock()
	h.identifies = append(h.identifies, req)
	h.mu.Unlock()
	h.received <- req
	return h.identifyErr
}

func (h *fakeHost) PluginPoll() PollConfig {
	return PollConfig{Interval: 5 * time.Millisecond, Timeout: 500 * time.Millisecond}
}

func (h *fakeHost) await(t *testing.T) *schemas.IdentifyRequest {
	t.Helper()
	select {
	case req := <-h.received:
		return req
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for a forwarded identify")
		return nil
	}
}

func (h *fakeHost) forwarded() []*schemas.IdentifyRequest {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]*schemas.IdentifyRequest(nil), h.identifies...)
}

// fakeMiddlewareVendor captures registered middleware and replays events
// through it, recording what reaches the continuation.
type fakeMiddlewareVendor struct {
	mu        sync.Mutex
	mws       []env.SourceMiddleware
	delivered []*env.VendorEvent
}

func (v *fakeMiddlewareVendor) AddSourceMiddleware(mw env.SourceMiddleware) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.mws = append(v.mws, mw)
}

// emit pushes one event through the registered middleware chain.
func (v *fakeMiddlewareVendor) emit(ev *env.VendorEvent) {
	v.mu.Lock()
	mws := append([]env.SourceMiddleware(nil), v.mws...)
	v.mu.Unlock()

	next := func(out *env.VendorEvent) {
		v.mu.Lock()
		v.delivered = append(v.delivered, out)
		v.mu.Unlock()
	}
	for i := len(mws) - 1; i >= 0; i-- {
		mw, inner := mws[i], next
		next = func(out *env.VendorEvent) { mw(out, inner) }
	}
	next(ev)
}

func (v *fakeMiddlewareVendor) pipeline() []*env.VendorEvent {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]*env.VendorEvent(nil), v.delivered...)
}

func (v *fakeMiddlewareVendor) registered() int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return len(v.mws)
}

// -- Middleware-style --

func TestMiddlewarePlugin_ForwardsIdentifyAndPassesThrough(t *testing.T) {
	host := newFakeHost()
	vendor := &fakeMiddlewareVendor{}
	host.env.RegisterVendor("thirdparty", vendor)

	p := NewMiddlewarePlugin(MiddlewareConfig{GlobalName: "thirdparty"}, zaptest.NewLogger(t))
	require.NoError(t, p.Activate(context.Background(), host))

	trackEv := &env.VendorEvent{Type: "track", Traits: map[string]any{"plan": "pro"}}
	identifyEv := &env.VendorEvent{Type: "identify", Traits: map[string]any{"email": "a@b.com"}}
	vendor.emit(trackEv)
	vendor.emit(identifyEv)

	// Exactly one forward, with an empty (not nil) property bag.
	req := host.await(t)
	assert.Equal(t, "a@b.com", req.Email)
	assert.NotNil(t, req.Properties)
	assert.Empty(t, req.Properties)

	p.Settle()
	assert.Len(t, host.forwarded(), 1)

	// Both events reached the continuation, unmodified and in order.
	pipeline := vendor.pipeline()
	require.Len(t, pipeline, 2)
	assert.Same(t, trackEv, pipeline[0])
	assert.Same(t, identifyEv, pipeline[1])
}

func TestMiddlewarePlugin_ConfigurableFields(t *testing.T) {
	host := newFakeHost()
	vendor := &fakeMiddlewareVendor{}
	host.env.RegisterVendor("thirdparty", vendor)

	p := NewMiddlewarePlugin(MiddlewareConfig{
		GlobalName:     "thirdparty",
		EmailField:     "userEmail",
		PropertyFields: []string{"plan", "company"},
	}, zaptest.NewLogger(t))
	require.NoError(t, p.Activate(context.Background(), host))

	vendor.emit(&env.VendorEvent{Type: "identify", Traits: map[string]any{
		"userEmail": "c@d.com",
		"plan":      "enterprise",
		"ignored":   true,
	}})

	req := host.await(t)
	p.Settle()
	assert.Equal(t, "c@d.com", req.Email)
	assert.Equal(t, map[string]any{"plan": "enterprise"}, req.Properties)
}

func TestMiddlewarePlugin_IdentifyWithoutEmailIsIgnored(t *testing.T) {
	host := newFakeHost()
	vendor := &fakeMiddlewareVendor{}
	host.env.RegisterVendor("thirdparty", vendor)

	p := NewMiddlewarePlugin(MiddlewareConfig{GlobalName: "thirdparty"}, zaptest.NewLogger(t))
	require.NoError(t, p.Activate(context.Background(), host))

	vendor.emit(&env.VendorEvent{Type: "identify", Traits: map[string]any{"name": "no email"}})

	p.Settle()
	assert.Empty(t, host.forwarded())
	assert.Len(t, vendor.pipeline(), 1, "the event still passes through")
}

func TestMiddlewarePlugin_SecondActivateDoesNotRewrap(t *testing.T) {
	host := newFakeHost()
	vendor := &fakeMiddlewareVendor{}
	host.env.RegisterVendor("thirdparty", vendor)

	p := NewMiddlewarePlugin(MiddlewareConfig{GlobalName: "thirdparty"}, zaptest.NewLogger(t))
	require.NoError(t, p.Activate(context.Background(), host))
	require.NoError(t, p.Activate(context.Background(), host))

	assert.Equal(t, 1, vendor.registered(), "activation must wrap at most once")
}

func TestMiddlewarePlugin_ForwardFailureStaysOutOfVendorStack(t *testing.T) {
	host := newFakeHost()
	host.identifyErr = &schemas.TransportError{StatusCode: 500, Message: "boom"}
	vendor := &fakeMiddlewareVendor{}
	host.env.RegisterVendor("thirdparty", vendor)

	p := NewMiddlewarePlugin(MiddlewareConfig{GlobalName: "thirdparty"}, zaptest.NewLogger(t))
	require.NoError(t, p.Activate(context.Background(), host))

	// emit must not panic or error even though forwarding fails.
	vendor.emit(&env.VendorEvent{Type: "identify", Traits: map[string]any{"email": "a@b.com"}})
	host.await(t)
	p.Settle()

	assert.Len(t, vendor.pipeline(), 1)
}

// -- Callable-style --

func TestCallablePlugin_V2WrapDelegatesThenForwards(t *testing.T) {
	host := newFakeHost()

	var origCalls [][]any
	vendor := env.NewCallable(func(args ...any) any {
		origCalls = append(origCalls, args)
		return "vendor-result"
	})
	host.env.RegisterVendor("va", vendor)

	p := NewCallablePlugin(CallableConfig{V2GlobalName: "va", LegacyGlobalName: "legacy"}, zaptest.NewLogger(t))
	require.NoError(t, p.Activate(context.Background(), host))

	// Identify call: original invoked with identical args, value preserved,
	// exactly one forward.
	ret := vendor.Invoke("send", "identify", map[string]any{"email": "x@y.com"})
	assert.Equal(t, "vendor-result", ret)
	require.Len(t, origCalls, 1)
	assert.Equal(t, []any{"send", "identify", map[string]any{"email": "x@y.com"}}, origCalls[0])

	req := host.await(t)
	assert.Equal(t, "x@y.com", req.Email)

	// Non-identify call: original invoked, zero forwards.
	vendor.Invoke("send", "pageview", map[string]any{})
	assert.Len(t, origCalls, 2)

	p.Settle()
	assert.Len(t, host.forwarded(), 1)
}

func TestCallablePlugin_LegacyShape(t *testing.T) {
	host := newFakeHost()

	var origEvents []string
	tracker := env.NewLegacyTracker(func(event string, _ map[string]any) {
		origEvents = append(origEvents, event)
	})
	host.env.RegisterVendor("legacy", tracker)

	p := NewCallablePlugin(CallableConfig{V2GlobalName: "va", LegacyGlobalName: "legacy"}, zaptest.NewLogger(t))
	require.NoError(t, p.Activate(context.Background(), host))

	tracker.Track("pageview", nil)
	tracker.Track("identify", map[string]any{"email": "z@w.com"})

	req := host.await(t)
	p.Settle()
	assert.Equal(t, "z@w.com", req.Email)
	assert.Equal(t, []string{"pageview", "identify"}, origEvents)
	assert.Len(t, host.forwarded(), 1)
}

func TestCallablePlugin_TimeoutReportsOnce(t *testing.T) {
	host := newFakeHost() // no vendor registered

	p := NewCallablePlugin(CallableConfig{
		V2GlobalName:     "va",
		LegacyGlobalName: "legacy",
		Poll:             PollConfig{Interval: 5 * time.Millisecond, Timeout: 40 * time.Millisecond},
	}, zaptest.NewLogger(t))

	err := p.Activate(context.Background(), host)
	require.Error(t, err)
	assert.ErrorIs(t, err, schemas.ErrPluginTimeout)
	assert.Empty(t, host.forwarded())
}

func TestCallablePlugin_CancelledActivation(t *testing.T) {
	host := newFakeHost()

	p := NewCallablePlugin(CallableConfig{V2GlobalName: "va", LegacyGlobalName: "legacy"}, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Activate(ctx, host) }()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("activation did not observe cancellation")
	}
}

func TestCallablePlugin_VendorAppearsLate(t *testing.T) {
	host := newFakeHost()

	p := NewCallablePlugin(CallableConfig{V2GlobalName: "va", LegacyGlobalName: "legacy"}, zaptest.NewLogger(t))

	done := make(chan error, 1)
	go func() { done <- p.Activate(context.Background(), host) }()

	// The vendor's script "loads" after a few poll intervals.
	time.Sleep(20 * time.Millisecond)
	vendor := env.NewCallable(func(args ...any) any { return nil })
	host.env.RegisterVendor("va", vendor)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("activation never completed")
	}

	vendor.Invoke("send", "identify", map[string]any{"email": "late@b.com"})
	req := host.await(t)
	p.Settle()
	assert.Equal(t, "late@b.com", req.Email)
}

func TestPollConfig_Resolve(t *testing.T) {
	host := newFakeHost()

	resolved := PollConfig{}.resolve(host)
	assert.Equal(t, 5*time.Millisecond, resolved.Interval)
	assert.Equal(t, 500*time.Millisecond, resolved.Timeout)

	custom := PollConfig{Interval: time.Second, Timeout: time.Minute}.resolve(host)
	assert.Equal(t, time.Second, custom.Interval)
	assert.Equal(t, time.Minute, custom.Timeout)
}
