// File: pkg/tag/navigation_test.go
package tag

import (
	"reflect"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/u17g/senditly-go/pkg/env"
	"github.com/u17g/senditly-go/pkg/schemas"
)

// eventCollector records navigation events thread-safely.
type eventCollector struct {
	mu     sync.Mutex
	events []schemas.NavigationEvent
}

func (c *eventCollector) record(ev schemas.NavigationEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, ev)
}

func (c *eventCollector) all() []schemas.NavigationEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]schemas.NavigationEvent(nil), c.events...)
}

func TestNavigationWatcher_NotifiesOncePerDistinctTransition(t *testing.T) {
	m := env.NewMemory(env.PageContext{URL: "https://app.example.com/a"})
	w := NewNavigationWatcher(m, zaptest.NewLogger(t))

	var c eventCollector
	dispose := w.Start(c.record)
	defer dispose()

	// Mutation to the same URL is a no-op.
	m.Push("https://app.example.com/a")
	assert.Empty(t, c.all())

	// A real transition fires exactly once with previous and current.
	m.Push("https://app.example.com/b")
	want := []schemas.NavigationEvent{
		{PreviousURL: "https://app.example.com/a", CurrentURL: "https://app.example.com/b"},
	}
	if diff := cmp.Diff(want, c.all()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}

	// Replace to the now-current URL stays silent.
	m.Replace("https://app.example.com/b")
	assert.Len(t, c.all(), 1)

	// Back/forward navigation flows through the same path.
	m.NavigateBack("https://app.example.com/a")
	want = append(want, schemas.NavigationEvent{
		PreviousURL: "https://app.example.com/b",
		CurrentURL:  "https://app.example.com/a",
	})
	if diff := cmp.Diff(want, c.all()); diff != "" {
		t.Fatalf("events mismatch (-want +got):\n%s", diff)
	}
}

func TestNavigationWatcher_DisposeRestoresOriginals(t *testing.T) {
	m := env.NewMemory(env.PageContext{URL: "https://app.example.com/a"})
	w := NewNavigationWatcher(m, zaptest.NewLogger(t))

	origPush := reflect.ValueOf(m.PushState()).Pointer()
	origReplace := reflect.ValueOf(m.ReplaceState()).Pointer()

	var c eventCollector
	dispose := w.Start(c.record)

	require.NotEqual(t, origPush, reflect.ValueOf(m.PushState()).Pointer(),
		"push entry point should be wrapped while watching")
	require.NotEqual(t, origReplace, reflect.ValueOf(m.ReplaceState()).Pointer(),
		"replace entry point should be wrapped while watching")

	dispose()

	assert.Equal(t, origPush, reflect.ValueOf(m.PushState()).Pointer(),
		"push entry point must be referentially restored")
	assert.Equal(t, origReplace, reflect.ValueOf(m.ReplaceState()).Pointer(),
		"replace entry point must be referentially restored")

	// Mutations after disposal mutate the URL but produce no callbacks.
	m.Push("https://app.example.com/c")
	assert.Equal(t, "https://app.example.com/c", m.CurrentURL())
	assert.Empty(t, c.all())

	// Disposal is idempotent.
	dispose()
	assert.Equal(t, origPush, reflect.ValueOf(m.PushState()).Pointer())
}

func TestNavigationWatcher_DelegatesBeforeComparing(t *testing.T) {
	m := env.NewMemory(env.PageContext{URL: "https://app.example.com/a"})
	w := NewNavigationWatcher(m, zaptest.NewLogger(t))

	var c eventCollector
	dispose := w.Start(func(ev schemas.NavigationEvent) {
		// The underlying mutation must have completed by notification time.
		assert.Equal(t, ev.CurrentURL, m.CurrentURL())
		c.record(ev)
	})
	defer dispose()

	m.Push("https://app.example.com/b")
	require.Len(t, c.all(), 1)
}
