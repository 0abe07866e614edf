// File: pkg/tag/navigation.go
// Description: Detects single-page-app URL changes without polling. Two
// change vectors exist: user back/forward navigation, observable via the
// environment's pop-state event, and programmatic history mutation, which is
// only observable by interposing on the two history entry points themselves.

package tag

import (
	"sync"

	"go.uber.org/zap"

	"github.com/u17g/senditly-go/pkg/env"
	"github.com/u17g/senditly-go/pkg/schemas"
)

// NavigationWatcher owns the page's two history-mutation entry points while
// started. The captured originals are explicit state on the watcher, so
// restore is provably exact. At most one watcher is active per environment.
type NavigationWatcher struct {
	history env.History
	logger  *zap.Logger

	mu sync.Mutex
	// listening gates every notification; checked after the delegated
	// native call and before the callback, which closes the race with a
	// mutation in flight at disposal time.
	listening bool
	lastURL   string
	callback  func(schemas.NavigationEvent)

	origPush    env.HistoryFunc
	origReplace env.HistoryFunc
	popCancel   func()
}

// NewNavigationWatcher creates a watcher over the given history binding.
func NewNavigationWatcher(history env.History, logger *zap.Logger) *NavigationWatcher {
	return &NavigationWatcher{
		history: history,
		logger:  logger.Named("navigation"),
	}
}

// Start captures the original entry points, installs the wrappers, and
// subscribes to pop-state. The returned disposer is idempotent, restores
// the captured originals exactly once, and guarantees no callback
// invocations after it returns.
func (w *NavigationWatcher) Start(cb func(schemas.NavigationEvent)) (dispose func()) {
	w.mu.Lock()
	w.listening = true
	w.callback = cb
	w.lastURL = w.history.CurrentURL()

	w.origPush = w.history.PushState()
	w.origReplace = w.history.ReplaceState()

	origPush, origReplace := w.origPush, w.origReplace
	w.history.SetPushState(func(u string) {
		origPush(u)
		w.noteChange()
	})
	w.history.SetReplaceState(func(u string) {
		origReplace(u)
		w.noteChange()
	})
	w.mu.Unlock()

	w.popCancel = w.history.SubscribePopState(func(string) {
		w.noteChange()
	})

	return w.stop
}

// noteChange compares the URL against the last known one and notifies on a
// real transition. The last-known URL is updated atomically with the
// notification; an equal URL produces no notification.
func (w *NavigationWatcher) noteChange() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.listening {
		return
	}
	current := w.history.CurrentURL()
	if current == w.lastURL {
		return
	}
	ev := schemas.NavigationEvent{PreviousURL: w.lastURL, CurrentURL: current}
	w.lastURL = current
	// Invoked under the lock so a concurrent disposer cannot return while
	// a notification is still being delivered.
	w.callback(ev)
}

// stop restores the pre-wrap entry points and unsubscribes. Safe to call
// more than once.
func (w *NavigationWatcher) stop() {
	w.mu.Lock()
	if !w.listening {
		w.mu.Unlock()
		return
	}
	w.listening = false
	w.history.SetPushState(w.origPush)
	w.history.SetReplaceState(w.origReplace)
	w.origPush, w.origReplace = nil, nil
	pop := w.popCancel
	w.popCancel = nil
	w.mu.Unlock()

	if pop != nil {
		pop()
	}
	w.logger.Debug("Navigation watcher disposed; history entry points restored")
}
