// File: pkg/tag/bootstrap.go
// Description: Convenience wiring from the standard configuration sources
// (config file + SENDITLY_* environment) to a fully constructed
// orchestrator, for hosts that don't assemble the pieces themselves.

package tag

import (
	"fmt"

	"github.com/spf13/viper"

	"github.com/u17g/senditly-go/internal/config"
	"github.com/u17g/senditly-go/internal/observability"
	"github.com/u17g/senditly-go/pkg/api"
	"github.com/u17g/senditly-go/pkg/env"
	"github.com/u17g/senditly-go/pkg/plugins"
)

// The collect API client satisfies the orchestrator's boundary.
var _ RemoteClient = (*api.Client)(nil)

// NewFromConfigFile loads configuration (defaults, then the optional file at
// path, then environment overrides), initializes the global logger, builds
// the collect API client, and constructs the orchestrator.
func NewFromConfigFile(path string, environment env.Environment, pl ...plugins.Plugin) (*Orchestrator, error) {
	v := viper.New()
	config.SetDefaults(v)
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	cfg, err := config.NewConfigFromViper(v)
	if err != nil {
		return nil, err
	}

	observability.InitializeLogger(cfg.Logger())
	logger := observability.GetLogger()

	clientCfg := api.FromAPIConfig(cfg.API())
	clientCfg.Logger = logger
	client := api.NewClient(clientCfg)

	tagCfg := DefaultConfig()
	tagCfg.AutoTrackPageView = cfg.Tag().AutoTrackPageView
	tagCfg.PluginPollInterval = cfg.Tag().PluginPollInterval
	tagCfg.PluginTimeout = cfg.Tag().PluginTimeout
	tagCfg.Plugins = pl

	return New(tagCfg, environment, client, NewHeuristicClassifier(), logger)
}
