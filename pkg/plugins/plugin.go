// File: pkg/plugins/plugin.go
// Description: The interception-plugin protocol. A plugin polls the host
// page for a specific third-party global and, once present, wraps it exactly
// once so that vendor's identify events are mirrored into the tag. The
// wrapped vendor stays functionally indistinguishable from its unwrapped
// self except for the added forwarding side effect.

package plugins

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/u17g/senditly-go/pkg/env"
	"github.com/u17g/senditly-go/pkg/schemas"
)

// Host is the surface a plugin sees: vendor lookup, the identify sink, and
// the orchestrator's polling defaults.
type Host interface {
	Vendors() env.VendorRegistry
	Identify(ctx context.Context, req *schemas.IdentifyRequest) error
	PluginPoll() PollConfig
}

// Plugin bridges a third-party script's identify-style events into the tag.
type Plugin interface {
	Name() string

	// Activate runs the bounded readiness poll and performs the one-time
	// wrap. It blocks until activation, timeout, or ctx cancellation; the
	// orchestrator runs each plugin's Activate on its own goroutine, so a
	// slow or failing plugin never blocks construction or other plugins.
	// Activation is idempotent: a second call never re-wraps.
	Activate(ctx context.Context, host Host) error
}

// PollConfig bounds the vendor readiness poll.
type PollConfig struct {
	Interval time.Duration
	Timeout  time.Duration
}

// DefaultPollConfig matches the tag's stock polling budget.
func DefaultPollConfig() PollConfig {
	return PollConfig{Interval: 100 * time.Millisecond, Timeout: 10 * time.Second}
}

// resolve fills zero fields from the host's defaults, then from stock values.
func (p PollConfig) resolve(host Host) PollConfig {
	fallback := host.PluginPoll()
	if fallback.Interval <= 0 || fallback.Timeout <= 0 {
		stock := DefaultPollConfig()
		if fallback.Interval <= 0 {
			fallback.Interval = stock.Interval
		}
		if fallback.Timeout <= 0 {
			fallback.Timeout = stock.Timeout
		}
	}
	if p.Interval <= 0 {
		p.Interval = fallback.Interval
	}
	if p.Timeout <= 0 {
		p.Timeout = fallback.Timeout
	}
	return p
}

var errVendorAbsent = errors.New("vendor global not present yet")

// awaitAnyVendor polls the registry until one of the named globals appears,
// probing names in order on every attempt. It returns schemas.ErrPluginTimeout
// when the budget elapses with no global present.
func awaitAnyVendor(ctx context.Context, host Host, names []string, pc PollConfig) (string, any, error) {
	pollCtx, cancel := context.WithTimeout(ctx, pc.Timeout)
	defer cancel()

	var (
		foundName string
		found     any
	)
	b := retry.NewConstant(pc.Interval)
	err := retry.Do(pollCtx, b, func(context.Context) error {
		for _, name := range names {
			if v, ok := host.Vendors().Lookup(name); ok {
				foundName, found = name, v
				return nil
			}
		}
		return retry.RetryableError(errVendorAbsent)
	})
	if err != nil {
		// Distinguish our budget elapsing from the caller tearing down.
		if ctx.Err() != nil {
			return "", nil, ctx.Err()
		}
		return "", nil, schemas.ErrPluginTimeout
	}
	return foundName, found, nil
}
