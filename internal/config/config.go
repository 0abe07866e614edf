// File: internal/config/config.go
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

// Interface defines the contract for accessing tag configuration.
// This allows for dependency injection and mocking in tests.
type Interface interface {
	Logger() LoggerConfig
	API() APIConfig
	Tag() TagConfig

	// Tag Setters
	SetTagAutoTrackPageView(bool)
	SetTagPluginPollInterval(d time.Duration)
	SetTagPluginTimeout(d time.Duration)

	// API Setters
	SetAPIEndpoint(string)
	SetAPIWriteKey(string)
	SetAPIRequestTimeout(d time.Duration)
}

// Config holds the entire tag configuration. It uses private fields to
// enforce access through the Interface's getter methods.
type Config struct {
	logger LoggerConfig
	api    APIConfig
	tag    TagConfig
}

// rawConfig is the exported decode target for viper/mapstructure; Config
// itself keeps its fields private.
type rawConfig struct {
	Logger LoggerConfig `mapstructure:"logger" yaml:"logger"`
	API    APIConfig    `mapstructure:"api" yaml:"api"`
	Tag    TagConfig    `mapstructure:"tag" yaml:"tag"`
}

// --- Interface Method Implementations (Getters) ---

func (c *Config) Logger() LoggerConfig { return c.logger }
func (c *Config) API() APIConfig       { return c.api }
func (c *Config) Tag() TagConfig       { return c.tag }

// --- Interface Method Implementations (Setters) ---

func (c *Config) SetTagAutoTrackPageView(b bool) { c.tag.AutoTrackPageView = b }
func (c *Config) SetTagPluginPollInterval(d time.Duration) {
	c.tag.PluginPollInterval = d
}
func (c *Config) SetTagPluginTimeout(d time.Duration) { c.tag.PluginTimeout = d }

func (c *Config) SetAPIEndpoint(s string) { c.api.Endpoint = s }
func (c *Config) SetAPIWriteKey(s string) { c.api.WriteKey = s }
func (c *Config) SetAPIRequestTimeout(d time.Duration) {
	c.api.RequestTimeout = d
}

// LoggerConfig holds settings for the structured logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" yaml:"level"`
	Format      string      `mapstructure:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" yaml:"colors"`
}

// ColorConfig defines the color codes for different log levels.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" yaml:"fatal"`
}

// APIConfig holds the collect API connection details.
type APIConfig struct {
	Endpoint       string        `mapstructure:"endpoint" yaml:"endpoint"`
	WriteKey       string        `mapstructure:"write_key" yaml:"write_key"`
	RequestTimeout time.Duration `mapstructure:"request_timeout" yaml:"request_timeout"`
	// EventsPerSecond throttles outbound identify/track traffic.
	// Zero disables the throttle. Session start is never throttled.
	EventsPerSecond float64 `mapstructure:"events_per_second" yaml:"events_per_second"`
	EventBurst      int     `mapstructure:"event_burst" yaml:"event_burst"`
}

// TagConfig holds orchestrator behavior settings.
type TagConfig struct {
	AutoTrackPageView  bool          `mapstructure:"auto_track_page_view" yaml:"auto_track_page_view"`
	PluginPollInterval time.Duration `mapstructure:"plugin_poll_interval" yaml:"plugin_poll_interval"`
	PluginTimeout      time.Duration `mapstructure:"plugin_timeout" yaml:"plugin_timeout"`
}

// NewDefaultConfig creates a new configuration struct populated with default values.
func NewDefaultConfig() *Config {
	v := viper.New()
	SetDefaults(v)

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		// This should not happen with defaults, but good to be safe.
		panic(fmt.Sprintf("failed to unmarshal default config: %v", err))
	}
	return &Config{logger: raw.Logger, api: raw.API, tag: raw.Tag}
}

// SetDefaults initializes default values for various configuration parameters.
func SetDefaults(v *viper.Viper) {
	// -- Logger --
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.add_source", false)
	v.SetDefault("logger.service_name", "senditly")
	v.SetDefault("logger.log_file", "")
	v.SetDefault("logger.max_size", 100)
	v.SetDefault("logger.max_backups", 5)
	v.SetDefault("logger.max_age", 30)
	v.SetDefault("logger.compress", true)

	// -- API --
	v.SetDefault("api.endpoint", "https://api.senditly.io")
	v.SetDefault("api.request_timeout", "10s")
	v.SetDefault("api.events_per_second", 0.0)
	v.SetDefault("api.event_burst", 10)

	// -- Tag --
	v.SetDefault("tag.auto_track_page_view", true)
	v.SetDefault("tag.plugin_poll_interval", "100ms")
	v.SetDefault("tag.plugin_timeout", "10s")
}

// NewConfigFromViper creates a new configuration instance from a viper object.
func NewConfigFromViper(v *viper.Viper) (*Config, error) {
	// Bind environment variables for sensitive data.
	v.BindEnv("api.write_key", "SENDITLY_WRITE_KEY")

	var raw rawConfig
	if err := v.Unmarshal(&raw); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg := Config{logger: raw.Logger, api: raw.API, tag: raw.Tag}

	// Manually load the write key if Unmarshal didn't pick it up.
	if cfg.api.WriteKey == "" {
		cfg.api.WriteKey = os.Getenv("SENDITLY_WRITE_KEY")
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks the configuration for required fields and sane values.
func (c *Config) Validate() error {
	if c.api.Endpoint == "" {
		return fmt.Errorf("api.endpoint is a required configuration field")
	}
	if c.api.RequestTimeout <= 0 {
		return fmt.Errorf("api.request_timeout must be a positive duration")
	}
	if c.tag.PluginPollInterval <= 0 {
		return fmt.Errorf("tag.plugin_poll_interval must be a positive duration")
	}
	if c.tag.PluginTimeout < c.tag.PluginPollInterval {
		return fmt.Errorf("tag.plugin_timeout must not be shorter than tag.plugin_poll_interval")
	}
	return nil
}
