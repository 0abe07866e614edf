// File: pkg/plugins/middleware.go
package plugins

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/u17g/senditly-go/pkg/env"
	"github.com/u17g/senditly-go/pkg/schemas"
)

const identifyEventType = "identify"

// MiddlewareConfig configures a middleware-style interception.
type MiddlewareConfig struct {
	// GlobalName is the registry key the vendor's global is published under.
	GlobalName string
	// EmailField is the trait key carrying the email. Defaults to "email".
	EmailField string
	// PropertyFields are additional trait keys copied into the forwarded
	// properties when present.
	PropertyFields []string
	// Poll overrides the host's polling defaults when non-zero.
	Poll PollConfig
}

// MiddlewarePlugin intercepts a vendor that exposes a source-middleware
// registration point. The registered middleware mirrors identify events into
// the tag and unconditionally passes every event through, so the vendor's
// own pipeline is never altered.
type MiddlewarePlugin struct {
	cfg       MiddlewareConfig
	logger    *zap.Logger
	activated atomic.Bool
	// forwards tracks in-flight asynchronous identify forwards.
	forwards sync.WaitGroup
}

// NewMiddlewarePlugin creates a middleware-style plugin.
func NewMiddlewarePlugin(cfg MiddlewareConfig, logger *zap.Logger) *MiddlewarePlugin {
	if cfg.EmailField == "" {
		cfg.EmailField = "email"
	}
	return &MiddlewarePlugin{
		cfg:    cfg,
		logger: logger.Named("plugin." + cfg.GlobalName),
	}
}

func (p *MiddlewarePlugin) Name() string { return "middleware:" + p.cfg.GlobalName }

// Activate implements Plugin.
func (p *MiddlewarePlugin) Activate(ctx context.Context, host Host) error {
	_, v, err := awaitAnyVendor(ctx, host, []string{p.cfg.GlobalName}, p.cfg.Poll.resolve(host))
	if err != nil {
		return err
	}

	vendor, ok := v.(env.MiddlewareVendor)
	if !ok {
		p.logger.Warn("Vendor global has no source-middleware registration point; skipping wrap")
		return schemas.ErrPluginTimeout
	}

	// One wrap per plugin instance, ever.
	if !p.activated.CompareAndSwap(false, true) {
		return nil
	}

	vendor.AddSourceMiddleware(func(ev *env.VendorEvent, next func(*env.VendorEvent)) {
		if ev != nil && strings.EqualFold(ev.Type, identifyEventType) {
			if req, ok := p.extract(ev); ok {
				p.forward(host, req)
			}
		}
		// The continuation runs no matter what: interception is purely
		// observational.
		next(ev)
	})
	p.logger.Debug("Source middleware registered")
	return nil
}

// extract pulls the email and the configured property fields out of an
// identify event's traits.
func (p *MiddlewarePlugin) extract(ev *env.VendorEvent) (*schemas.IdentifyRequest, bool) {
	email, ok := ev.Traits[p.cfg.EmailField].(string)
	if !ok || email == "" {
		return nil, false
	}
	props := map[string]any{}
	for _, field := range p.cfg.PropertyFields {
		if val, present := ev.Traits[field]; present {
			props[field] = val
		}
	}
	return &schemas.IdentifyRequest{Email: email, Properties: props}, true
}

// forward relays the identify asynchronously. Failures are logged, never
// surfaced into the vendor's call stack.
func (p *MiddlewarePlugin) forward(host Host, req *schemas.IdentifyRequest) {
	p.forwards.Add(1)
	go func() {
		defer p.forwards.Done()
		if err := host.Identify(context.Background(), req); err != nil {
			p.logger.Warn("Forwarding intercepted identify failed", zap.Error(err))
		}
	}()
}

// Settle blocks until in-flight forwards have drained. Intended for tests
// and orderly teardown.
func (p *MiddlewarePlugin) Settle() { p.forwards.Wait() }
