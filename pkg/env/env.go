// File: pkg/env/env.go
// Description: The environment capability injected into the tag. Every host
// global the tag touches (location, title, history entry points, vendor
// globals) is reached through these interfaces, so tests and embedding hosts
// substitute their own environment instead of mutating process-wide state.

package env

import "context"

// PageContext is a point-in-time snapshot of the page the tag runs on.
type PageContext struct {
	URL       string
	Path      string
	Search    string
	Title     string
	Referrer  string
	UserAgent string
	// Webdriver mirrors the automation flag some environments expose
	// (navigator.webdriver in a real browser).
	Webdriver bool
}

// Environment gives the tag access to the host page.
type Environment interface {
	// Context resolves the current page snapshot.
	Context(ctx context.Context) (PageContext, error)
	// History returns the interposable history binding, or nil when the
	// environment surfaces navigations natively instead (see
	// NavigationSource).
	History() History
	// Vendors returns the registry of third-party globals present on the page.
	Vendors() VendorRegistry
}

// HistoryFunc is one of the two history-mutation entry points
// (pushState/replaceState equivalents). It mutates the page URL without a
// reload.
type HistoryFunc func(url string)

// History exposes the page's history surface for interception. At most one
// watcher owns the entry points at a time; installing a replacement
// displaces whatever was installed before.
type History interface {
	// CurrentURL returns the page's current URL.
	CurrentURL() string

	// PushState and ReplaceState return the currently installed entry points.
	PushState() HistoryFunc
	ReplaceState() HistoryFunc

	// SetPushState and SetReplaceState install replacement entry points.
	// Callers restore the captured originals when they are done.
	SetPushState(fn HistoryFunc)
	SetReplaceState(fn HistoryFunc)

	// SubscribePopState registers a callback for user-initiated back/forward
	// navigation. The returned cancel is idempotent.
	SubscribePopState(fn func(url string)) (cancel func())
}

// NavigationSource is implemented by environments that cannot expose
// interposable history entry points but surface same-document navigations
// natively (the CDP environment, via Page.navigatedWithinDocument).
type NavigationSource interface {
	// SubscribeNavigation registers a callback invoked with the page URL
	// after every same-document navigation. The returned cancel is idempotent.
	SubscribeNavigation(fn func(url string)) (cancel func())
}

// VendorRegistry provides access to third-party globals on the host page.
// Presence is polled by plugins, never assumed.
type VendorRegistry interface {
	Lookup(name string) (any, bool)
}
