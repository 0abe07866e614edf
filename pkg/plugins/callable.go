// File: pkg/plugins/callable.go
package plugins

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/u17g/senditly-go/pkg/env"
	"github.com/u17g/senditly-go/pkg/schemas"
)

// CallableConfig configures a callable-style interception. The vendor ships
// two historical call shapes; exactly one is present on a given page. The v2
// callable global is probed first, then the legacy tracker object.
type CallableConfig struct {
	// V2GlobalName is the registry key of the invocable v2 global.
	V2GlobalName string
	// LegacyGlobalName is the registry key of the queue-era tracker object.
	LegacyGlobalName string
	// Poll overrides the host's polling defaults when non-zero.
	Poll PollConfig
}

// CallablePlugin wraps whichever vendor call shape exists. The wrapper
// always delegates to the original implementation first, preserving its
// behavior and return value, and only afterward forwards identify events.
type CallablePlugin struct {
	cfg       CallableConfig
	logger    *zap.Logger
	activated atomic.Bool
	forwards  sync.WaitGroup
}

// NewCallablePlugin creates a callable-style plugin.
func NewCallablePlugin(cfg CallableConfig, logger *zap.Logger) *CallablePlugin {
	return &CallablePlugin{
		cfg:    cfg,
		logger: logger.Named("plugin." + cfg.V2GlobalName),
	}
}

func (p *CallablePlugin) Name() string { return "callable:" + p.cfg.V2GlobalName }

// Activate implements Plugin.
func (p *CallablePlugin) Activate(ctx context.Context, host Host) error {
	names := []string{p.cfg.V2GlobalName, p.cfg.LegacyGlobalName}
	name, v, err := awaitAnyVendor(ctx, host, names, p.cfg.Poll.resolve(host))
	if err != nil {
		return err
	}

	if !p.activated.CompareAndSwap(false, true) {
		return nil
	}

	switch vendor := v.(type) {
	case *env.Callable:
		p.wrapCallable(host, vendor)
	case *env.LegacyTracker:
		p.wrapLegacy(host, vendor)
	default:
		p.activated.Store(false)
		p.logger.Warn("Vendor global has an unrecognized shape; skipping wrap",
			zap.String("global", name))
		return schemas.ErrPluginTimeout
	}

	p.logger.Debug("Vendor callable wrapped", zap.String("global", name))
	return nil
}

// wrapCallable handles the v2 shape: an invocable global called as
// ("send", "identify", {email: ...}).
func (p *CallablePlugin) wrapCallable(host Host, c *env.Callable) {
	c.Wrap(func(orig env.CallFunc) env.CallFunc {
		return func(args ...any) any {
			ret := orig(args...)
			if email, ok := identifyEmailFromCall(args); ok {
				p.forward(host, email)
			}
			return ret
		}
	})
}

// wrapLegacy handles the queue-era shape: a tracker object whose track
// method is called as ("identify", {email: ...}).
func (p *CallablePlugin) wrapLegacy(host Host, t *env.LegacyTracker) {
	t.Wrap(func(orig env.TrackFunc) env.TrackFunc {
		return func(event string, props map[string]any) {
			orig(event, props)
			if event == identifyEventType {
				if email, ok := props["email"].(string); ok && email != "" {
					p.forward(host, email)
				}
			}
		}
	})
}

// identifyEmailFromCall matches the v2 ("send", "identify", props) call
// shape and extracts the email.
func identifyEmailFromCall(args []any) (string, bool) {
	if len(args) < 3 {
		return "", false
	}
	cmd, ok := args[0].(string)
	if !ok || cmd != "send" {
		return "", false
	}
	typ, ok := args[1].(string)
	if !ok || typ != identifyEventType {
		return "", false
	}
	props, ok := args[2].(map[string]any)
	if !ok {
		return "", false
	}
	email, ok := props["email"].(string)
	if !ok || email == "" {
		return "", false
	}
	return email, true
}

func (p *CallablePlugin) forward(host Host, email string) {
	p.forwards.Add(1)
	go func() {
		defer p.forwards.Done()
		req := &schemas.IdentifyRequest{Email: email}
		if err := host.Identify(context.Background(), req); err != nil {
			p.logger.Warn("Forwarding intercepted identify failed", zap.Error(err))
		}
	}()
}

// Settle blocks until in-flight forwards have drained.
func (p *CallablePlugin) Settle() { p.forwards.Wait() }
