// File: pkg/tag/orchestrator.go
// Description: The tag's single entry point. The orchestrator owns the
// automation gate, the one-shot asynchronous session initialization that
// every outbound call awaits, automatic page-view fan-out from navigation
// events, and the plugin lifecycle. It is injected with its collaborators
// via interfaces, making it decoupled and testable.

package tag

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/u17g/senditly-go/pkg/env"
	"github.com/u17g/senditly-go/pkg/plugins"
	"github.com/u17g/senditly-go/pkg/schemas"
)

// RemoteClient is the collect API boundary the orchestrator depends on.
type RemoteClient interface {
	StartSession(ctx context.Context) error
	Identify(ctx context.Context, req *schemas.IdentifyRequest) error
	Track(ctx context.Context, req *schemas.TrackRequest) error
}

// Config holds orchestrator behavior settings. Start from DefaultConfig;
// the zero value disables automatic page-view tracking.
type Config struct {
	AutoTrackPageView  bool
	PluginPollInterval time.Duration
	PluginTimeout      time.Duration
	Plugins            []plugins.Plugin
}

// DefaultConfig returns the stock orchestrator settings.
func DefaultConfig() Config {
	return Config{
		AutoTrackPageView:  true,
		PluginPollInterval: 100 * time.Millisecond,
		PluginTimeout:      10 * time.Second,
	}
}

// Orchestrator coordinates gating, session lifecycle, page-view tracking,
// and plugins. Construction never blocks; session initialization runs in
// the background and every gated call awaits its resolution.
type Orchestrator struct {
	cfg         Config
	environment env.Environment
	client      RemoteClient
	logger      *zap.Logger

	classification schemas.ClassificationResult

	// state holds the SessionState; initDone is the one-shot future every
	// gated call awaits. The channel is stored once and shared by
	// reference, so the session-start network call executes exactly once
	// no matter how many callers arrive before it resolves.
	state    atomic.Int32
	initDone chan struct{}

	watcherDispose func()
	navCancel      func()
	pluginCancel   context.CancelFunc
	pluginGroup    *errgroup.Group

	// bg tracks fire-and-forget page-view deliveries so Close can drain them.
	bg        sync.WaitGroup
	closeOnce sync.Once
}

// New constructs a usable orchestrator without blocking. The classifier is
// evaluated exactly once; when it flags automated traffic the session state
// machine is never entered and every gated call silently no-ops.
func New(cfg Config, environment env.Environment, client RemoteClient, classifier Classifier, logger *zap.Logger) (*Orchestrator, error) {
	if environment == nil || client == nil || logger == nil {
		return nil, fmt.Errorf("cannot initialize orchestrator with nil dependencies")
	}
	if classifier == nil {
		classifier = NewHeuristicClassifier()
	}

	o := &Orchestrator{
		cfg:         cfg,
		environment: environment,
		client:      client,
		logger:      logger.Named("orchestrator"),
		initDone:    make(chan struct{}),
	}

	pc, err := environment.Context(context.Background())
	if err != nil {
		o.logger.Warn("Resolving page context failed; classifying on empty context", zap.Error(err))
	}
	o.classification = classifier.Classify(pc)

	if o.classification.IsAutomated {
		o.logger.Info("Automated traffic detected; tracking disabled",
			zap.Float64("confidence", o.classification.Confidence),
			zap.Strings("reasons", o.classification.Reasons))
		close(o.initDone)
		return o, nil
	}

	o.state.Store(int32(schemas.SessionInitializing))
	go o.initSession()

	o.startPlugins()

	if cfg.AutoTrackPageView {
		// Construction-time page view first, then route-change tracking.
		o.firePageView()
		o.startNavigationWatch()
	}

	return o, nil
}

// initSession performs the single session-start network call and resolves
// the shared future. Ready and Failed are terminal.
func (o *Orchestrator) initSession() {
	if err := o.client.StartSession(context.Background()); err != nil {
		o.state.Store(int32(schemas.SessionFailed))
		o.logger.Warn("Session initialization failed; tracking degrades to no-op", zap.Error(err))
	} else {
		o.state.Store(int32(schemas.SessionReady))
		o.logger.Debug("Session ready")
	}
	close(o.initDone)
}

// startPlugins activates each plugin independently. A slow or failing
// plugin never blocks construction or its peers.
func (o *Orchestrator) startPlugins() {
	if len(o.cfg.Plugins) == 0 {
		return
	}
	pluginCtx, cancel := context.WithCancel(context.Background())
	o.pluginCancel = cancel
	o.pluginGroup = new(errgroup.Group)

	for _, p := range o.cfg.Plugins {
		o.pluginGroup.Go(func() error {
			if err := p.Activate(pluginCtx, o); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				o.logger.Warn("Plugin activation failed",
					zap.String("plugin", p.Name()), zap.Error(err))
			}
			return nil
		})
	}
}

// startNavigationWatch wires route changes to automatic page views. An
// interposable history binding is preferred; environments without one fall
// back to their native navigation feed.
func (o *Orchestrator) startNavigationWatch() {
	if h := o.environment.History(); h != nil {
		w := NewNavigationWatcher(h, o.logger)
		o.watcherDispose = w.Start(func(ev schemas.NavigationEvent) {
			o.logger.Debug("Route change",
				zap.String("from", ev.PreviousURL), zap.String("to", ev.CurrentURL))
			o.firePageView()
		})
		return
	}

	src, ok := o.environment.(env.NavigationSource)
	if !ok {
		o.logger.Debug("Environment exposes no navigation surface; automatic page views limited to construction")
		return
	}

	pc, _ := o.environment.Context(context.Background())
	var mu sync.Mutex
	last := pc.URL
	o.navCancel = src.SubscribeNavigation(func(u string) {
		mu.Lock()
		if u == last {
			mu.Unlock()
			return
		}
		last = u
		mu.Unlock()
		o.firePageView()
	})
}

// firePageView snapshots the page synchronously and dispatches the page-view
// event in the background. Delivery failures never surface to the host.
func (o *Orchestrator) firePageView() {
	req := o.pageRequest(context.Background(), "", nil)
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		if err := o.Track(context.Background(), req); err != nil {
			o.logger.Debug("Automatic page view delivery failed", zap.Error(err))
		}
	}()
}

// Classification returns the construction-time automation verdict.
func (o *Orchestrator) Classification() schemas.ClassificationResult {
	return o.classification
}

// SessionState returns the current state of the session machine.
func (o *Orchestrator) SessionState() schemas.SessionState {
	return schemas.SessionState(o.state.Load())
}

// awaitSession suspends until the session future resolves, then reports
// whether outbound calls may proceed.
func (o *Orchestrator) awaitSession(ctx context.Context) (bool, error) {
	select {
	case <-o.initDone:
	case <-ctx.Done():
		return false, ctx.Err()
	}
	return o.SessionState() == schemas.SessionReady, nil
}

// Identify associates the visitor with an email address. Validation fails
// fast; the automation gate and a failed session degrade to silent no-ops;
// delivery failures propagate to the caller.
func (o *Orchestrator) Identify(ctx context.Context, req *schemas.IdentifyRequest) error {
	if req == nil {
		return &schemas.ValidationError{Field: "request", Reason: "identify request is required"}
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if o.classification.IsAutomated {
		return nil
	}
	ready, err := o.awaitSession(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}
	return o.client.Identify(ctx, req)
}

// Track dispatches an arbitrary event with the same gating contract as
// Identify.
func (o *Orchestrator) Track(ctx context.Context, req *schemas.TrackRequest) error {
	if req == nil {
		return &schemas.ValidationError{Field: "request", Reason: "track request is required"}
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if o.classification.IsAutomated {
		return nil
	}
	ready, err := o.awaitSession(ctx)
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}
	return o.client.Track(ctx, req)
}

// Page tracks a canonical page-view event for the current URL. Caller
// supplied extra fields win on key collision.
func (o *Orchestrator) Page(ctx context.Context, name string, extra map[string]any) error {
	return o.Track(ctx, o.pageRequest(ctx, name, extra))
}

// pageRequest builds the canonical page-view payload before any suspension
// point is reached.
func (o *Orchestrator) pageRequest(ctx context.Context, name string, extra map[string]any) *schemas.TrackRequest {
	props := map[string]any{}
	pc, err := o.environment.Context(ctx)
	if err != nil {
		o.logger.Warn("Resolving page context for page view failed", zap.Error(err))
	} else {
		props["url"] = pc.URL
		props["path"] = pc.Path
		props["title"] = pc.Title
		props["referrer"] = pc.Referrer
		props["user_agent"] = pc.UserAgent
		if pc.Search != "" {
			props["search"] = pc.Search
		}
	}
	if name != "" {
		props["name"] = name
	}
	for k, v := range extra {
		props[k] = v
	}
	return &schemas.TrackRequest{Type: schemas.PageViewEventType, Properties: props}
}

// -- plugins.Host --

// Vendors exposes the environment's vendor registry to plugins.
func (o *Orchestrator) Vendors() env.VendorRegistry {
	return o.environment.Vendors()
}

// PluginPoll returns the orchestrator's polling defaults for plugins that
// carry none of their own.
func (o *Orchestrator) PluginPoll() plugins.PollConfig {
	return plugins.PollConfig{Interval: o.cfg.PluginPollInterval, Timeout: o.cfg.PluginTimeout}
}

// Close tears the orchestrator down: the navigation surface is disposed,
// plugin activations are cancelled and drained, and in-flight automatic
// page views complete. The Go counterpart of page unload; idempotent.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() {
		if o.watcherDispose != nil {
			o.watcherDispose()
		}
		if o.navCancel != nil {
			o.navCancel()
		}
		if o.pluginCancel != nil {
			o.pluginCancel()
		}
		if o.pluginGroup != nil {
			_ = o.pluginGroup.Wait()
		}
		<-o.initDone
		o.bg.Wait()
	})
}
