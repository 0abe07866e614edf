// File: pkg/env/memory.go
package env

import (
	"context"
	"net/url"
	"sync"
)

// Memory is a pure in-process Environment. It is the reference
// implementation for embedding hosts that drive the tag themselves, and the
// substrate every test runs against.
//
// Memory implements History itself: its native push/replace entry points
// mutate the stored page context, and Push/Replace invoke whatever entry
// point is currently installed, simulating the page's own routing code.
type Memory struct {
	mu      sync.Mutex
	page    PageContext
	push    HistoryFunc
	replace HistoryFunc
	popSubs map[int]func(url string)
	nextSub int
	vendors map[string]any
}

// NewMemory creates a Memory environment seeded with the given page context.
func NewMemory(pc PageContext) *Memory {
	m := &Memory{
		page:    pc,
		popSubs: make(map[int]func(url string)),
		vendors: make(map[string]any),
	}
	m.page.Path, m.page.Search = splitURL(pc.URL)
	m.push = m.nativeMutate
	m.replace = m.nativeMutate
	return m
}

// nativeMutate is the pre-wrap implementation behind both entry points.
func (m *Memory) nativeMutate(u string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setURLLocked(u)
}

func (m *Memory) setURLLocked(u string) {
	m.page.URL = u
	m.page.Path, m.page.Search = splitURL(u)
}

func splitURL(raw string) (path, search string) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", ""
	}
	return u.Path, u.RawQuery
}

// -- Environment --

func (m *Memory) Context(_ context.Context) (PageContext, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page, nil
}

func (m *Memory) History() History        { return m }
func (m *Memory) Vendors() VendorRegistry { return m }

// SetTitle updates the page title, as a host would on a route change.
func (m *Memory) SetTitle(title string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.page.Title = title
}

// -- History --

func (m *Memory) CurrentURL() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.page.URL
}

func (m *Memory) PushState() HistoryFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.push
}

func (m *Memory) ReplaceState() HistoryFunc {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.replace
}

func (m *Memory) SetPushState(fn HistoryFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.push = fn
}

func (m *Memory) SetReplaceState(fn HistoryFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replace = fn
}

func (m *Memory) SubscribePopState(fn func(url string)) func() {
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.popSubs[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.popSubs, id)
			m.mu.Unlock()
		})
	}
}

// -- Page-side triggers --

// Push invokes the currently installed pushState entry point, as the page's
// routing code would.
func (m *Memory) Push(u string) {
	m.mu.Lock()
	fn := m.push
	m.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}

// Replace invokes the currently installed replaceState entry point.
func (m *Memory) Replace(u string) {
	m.mu.Lock()
	fn := m.replace
	m.mu.Unlock()
	if fn != nil {
		fn(u)
	}
}

// NavigateBack simulates a user-initiated back/forward navigation: the URL
// changes natively and the pop-state event fires.
func (m *Memory) NavigateBack(u string) {
	m.mu.Lock()
	m.setURLLocked(u)
	subs := make([]func(string), 0, len(m.popSubs))
	for _, fn := range m.popSubs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()

	for _, fn := range subs {
		fn(u)
	}
}

// -- VendorRegistry --

func (m *Memory) Lookup(name string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.vendors[name]
	return v, ok
}

// RegisterVendor places a third-party global on the page, as a vendor
// script's own loader would.
func (m *Memory) RegisterVendor(name string, v any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.vendors[name] = v
}
