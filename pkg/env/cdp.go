// File: pkg/env/cdp.go
// Description: An Environment backed by a live Chrome target driven over the
// DevTools protocol. Same-document navigations (pushState, replaceState,
// back/forward) arrive natively via Page.navigatedWithinDocument, so this
// environment exposes no interposable History; the orchestrator falls back
// to the NavigationSource feed.

package env

import (
	"context"
	"sync"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"
)

// CDP adapts a chromedp target context to the Environment capability.
type CDP struct {
	targetCtx context.Context
	logger    *zap.Logger

	mu      sync.Mutex
	navSubs map[int]func(url string)
	nextSub int
}

// NewCDP creates a CDP environment bound to a chromedp target context. The
// listener stays attached for the lifetime of that context.
func NewCDP(targetCtx context.Context, logger *zap.Logger) *CDP {
	c := &CDP{
		targetCtx: targetCtx,
		logger:    logger.Named("cdpenv"),
		navSubs:   make(map[int]func(url string)),
	}

	chromedp.ListenTarget(targetCtx, func(ev interface{}) {
		switch ev := ev.(type) {
		case *page.EventNavigatedWithinDocument:
			c.emit(ev.URL)
		case *page.EventFrameNavigated:
			// Full navigations on the main frame only.
			if ev.Frame != nil && ev.Frame.ParentID == "" {
				c.emit(ev.Frame.URL)
			}
		}
	})
	return c
}

func (c *CDP) emit(url string) {
	c.mu.Lock()
	subs := make([]func(string), 0, len(c.navSubs))
	for _, fn := range c.navSubs {
		subs = append(subs, fn)
	}
	c.mu.Unlock()

	c.logger.Debug("Same-document navigation observed", zap.String("url", url))
	for _, fn := range subs {
		fn(url)
	}
}

// Context snapshots the live page. The passed ctx bounds the evaluation; the
// work itself runs against the target context.
func (c *CDP) Context(ctx context.Context) (PageContext, error) {
	runCtx := c.targetCtx
	if ctx != nil {
		if deadline, ok := ctx.Deadline(); ok {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithDeadline(c.targetCtx, deadline)
			defer cancel()
		}
	}

	var pc PageContext
	err := chromedp.Run(runCtx,
		chromedp.Location(&pc.URL),
		chromedp.Title(&pc.Title),
		chromedp.Evaluate(`location.pathname`, &pc.Path),
		chromedp.Evaluate(`location.search.replace(/^\?/, "")`, &pc.Search),
		chromedp.Evaluate(`document.referrer`, &pc.Referrer),
		chromedp.Evaluate(`navigator.userAgent`, &pc.UserAgent),
		chromedp.Evaluate(`navigator.webdriver === true`, &pc.Webdriver),
	)
	if err != nil {
		return PageContext{}, err
	}
	return pc, nil
}

// History returns nil: the browser's routing cannot be interposed from
// outside the page, so navigations flow through SubscribeNavigation instead.
func (c *CDP) History() History { return nil }

// Vendors returns an empty registry. Vendor globals live inside the page's
// JS realm and are not reachable as Go values; interception plugins require
// a host-side environment such as Memory.
func (c *CDP) Vendors() VendorRegistry { return emptyRegistry{} }

// SubscribeNavigation implements NavigationSource.
func (c *CDP) SubscribeNavigation(fn func(url string)) func() {
	c.mu.Lock()
	id := c.nextSub
	c.nextSub++
	c.navSubs[id] = fn
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.navSubs, id)
			c.mu.Unlock()
		})
	}
}

type emptyRegistry struct{}

func (emptyRegistry) Lookup(string) (any, bool) { return nil, false }
