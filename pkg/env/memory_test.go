// File: pkg/env/memory_test.go
package env

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemory_ContextSnapshot(t *testing.T) {
	m := NewMemory(PageContext{
		URL:       "https://shop.example.com/catalog?sort=price",
		Title:     "Catalog",
		Referrer:  "https://www.google.com/",
		UserAgent: "Mozilla/5.0",
	})

	pc, err := m.Context(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "https://shop.example.com/catalog?sort=price", pc.URL)
	assert.Equal(t, "/catalog", pc.Path)
	assert.Equal(t, "sort=price", pc.Search)
	assert.Equal(t, "Catalog", pc.Title)
}

func TestMemory_PushMutatesURL(t *testing.T) {
	m := NewMemory(PageContext{URL: "https://app.example.com/a"})

	m.Push("https://app.example.com/b?tab=1")
	assert.Equal(t, "https://app.example.com/b?tab=1", m.CurrentURL())

	pc, err := m.Context(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "/b", pc.Path)
	assert.Equal(t, "tab=1", pc.Search)
}

func TestMemory_InstalledEntryPointsAreInvoked(t *testing.T) {
	m := NewMemory(PageContext{URL: "https://app.example.com/a"})

	var seen []string
	orig := m.PushState()
	m.SetPushState(func(u string) {
		orig(u)
		seen = append(seen, u)
	})

	m.Push("https://app.example.com/b")
	assert.Equal(t, []string{"https://app.example.com/b"}, seen)
	assert.Equal(t, "https://app.example.com/b", m.CurrentURL())
}

func TestMemory_PopStateSubscription(t *testing.T) {
	m := NewMemory(PageContext{URL: "https://app.example.com/b"})

	var urls []string
	cancel := m.SubscribePopState(func(u string) { urls = append(urls, u) })

	m.NavigateBack("https://app.example.com/a")
	require.Equal(t, []string{"https://app.example.com/a"}, urls)
	assert.Equal(t, "https://app.example.com/a", m.CurrentURL())

	cancel()
	cancel() // idempotent
	m.NavigateBack("https://app.example.com/b")
	assert.Len(t, urls, 1, "no callbacks after cancel")
}

func TestMemory_VendorRegistry(t *testing.T) {
	m := NewMemory(PageContext{URL: "https://app.example.com/"})

	_, ok := m.Lookup("va")
	assert.False(t, ok)

	callable := NewCallable(func(args ...any) any { return nil })
	m.RegisterVendor("va", callable)

	v, ok := m.Lookup("va")
	require.True(t, ok)
	assert.Same(t, callable, v)
}

func TestCallable_WrapDelegates(t *testing.T) {
	var gotArgs []any
	c := NewCallable(func(args ...any) any {
		gotArgs = args
		return "original"
	})

	var wrapped int
	c.Wrap(func(orig CallFunc) CallFunc {
		return func(args ...any) any {
			wrapped++
			return orig(args...)
		}
	})

	ret := c.Invoke("send", "pageview")
	assert.Equal(t, "original", ret)
	assert.Equal(t, 1, wrapped)
	assert.Equal(t, []any{"send", "pageview"}, gotArgs)
}

func TestLegacyTracker_WrapDelegates(t *testing.T) {
	var events []string
	tr := NewLegacyTracker(func(event string, _ map[string]any) {
		events = append(events, event)
	})

	var wrapped int
	tr.Wrap(func(orig TrackFunc) TrackFunc {
		return func(event string, props map[string]any) {
			orig(event, props)
			wrapped++
		}
	})

	tr.Track("identify", map[string]any{"email": "x@y.com"})
	assert.Equal(t, []string{"identify"}, events)
	assert.Equal(t, 1, wrapped)
}
