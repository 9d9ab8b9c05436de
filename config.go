package analytics_transport

import (
	"fmt"
	"time"
)

const PluginName = "analytics_transport"

// Config represents the plugin configuration
type Config struct {
	// Enable/disable the plugin
	Enabled bool `mapstructure:"enabled" yaml:"enabled"`

	// Collection endpoint, events are POSTed here
	Endpoint string `mapstructure:"endpoint" yaml:"endpoint"`

	// Vendor used in the Accept media type (application/vnd.<vendor>.v1+json)
	Vendor string `mapstructure:"vendor" yaml:"vendor"`

	// Application version sent in the version header
	AppVersion string `mapstructure:"app_version" yaml:"app_version"`

	// Log records instead of sending them
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`

	// Debounce window used to coalesce submissions into one batch
	Debounce time.Duration `mapstructure:"debounce" yaml:"debounce"`

	// HTTP transport settings
	Transport TransportConfig `mapstructure:"transport" yaml:"transport"`

	// Retry configuration
	Retry RetryConfig `mapstructure:"retry" yaml:"retry"`

	// Teardown beacon configuration
	Beacon BeaconConfig `mapstructure:"beacon" yaml:"beacon"`

	// Library identification stamped into every record
	Library LibraryInfo `mapstructure:"library" yaml:"library"`

	// Privacy signals
	Privacy PrivacyConfig `mapstructure:"privacy" yaml:"privacy"`

	// Logging configuration
	Logging LoggingConfig `mapstructure:"logging" yaml:"logging"`
}

// TransportConfig contains HTTP transport settings
type TransportConfig struct {
	// Request timeout
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Enable gzip compression
	Compression bool `mapstructure:"compression" yaml:"compression"`
	// SSL verification
	SSLVerify *bool `mapstructure:"ssl_verify" yaml:"ssl_verify"`
	// Proxy settings
	Proxy string `mapstructure:"proxy" yaml:"proxy"`
	// Header carrying AppVersion
	AppVersionHeader string `mapstructure:"app_version_header" yaml:"app_version_header"`
	// Header carrying the optional caller identity
	IdentityHeader string `mapstructure:"identity_header" yaml:"identity_header"`
	// Identity value, header is omitted when empty
	Identity string `mapstructure:"identity" yaml:"identity"`
}

// RetryConfig contains retry mechanism settings
type RetryConfig struct {
	// Maximum retry attempts for a single batch
	MaxAttempts int `mapstructure:"max_attempts" yaml:"max_attempts"`
}

// BeaconConfig contains teardown flush settings
type BeaconConfig struct {
	// Use the fire-and-forget beacon on teardown
	Enabled *bool `mapstructure:"enabled" yaml:"enabled"`
	// Largest body the beacon accepts, larger flushes fall back to the transport
	MaxPayloadBytes int `mapstructure:"max_payload_bytes" yaml:"max_payload_bytes"`
	// Timeout of a beacon request after it has been handed off
	Timeout time.Duration `mapstructure:"timeout" yaml:"timeout"`
	// Concurrent beacon requests
	Concurrency int `mapstructure:"concurrency" yaml:"concurrency"`
}

// PrivacyConfig contains consent settings
type PrivacyConfig struct {
	RespectDoNotTrack           *bool `mapstructure:"respect_do_not_track" yaml:"respect_do_not_track"`
	RespectGlobalPrivacyControl *bool `mapstructure:"respect_global_privacy_control" yaml:"respect_global_privacy_control"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	// Log level for plugin operations
	Level string `mapstructure:"level" yaml:"level"`
}

// InitDefaults initializes default configuration values
func (cfg *Config) InitDefaults() {
	if cfg.Vendor == "" {
		cfg.Vendor = "analytics"
	}
	if cfg.Debounce == 0 {
		cfg.Debounce = 200 * time.Millisecond
	}

	if cfg.Transport.Timeout == 0 {
		cfg.Transport.Timeout = 10 * time.Second
	}
	if cfg.Transport.SSLVerify == nil {
		cfg.Transport.SSLVerify = ptrTo(true)
	}
	if cfg.Transport.AppVersionHeader == "" {
		cfg.Transport.AppVersionHeader = "X-App-Version"
	}
	if cfg.Transport.IdentityHeader == "" {
		cfg.Transport.IdentityHeader = "X-Identity"
	}

	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}

	if cfg.Beacon.Enabled == nil {
		cfg.Beacon.Enabled = ptrTo(true)
	}
	if cfg.Beacon.MaxPayloadBytes == 0 {
		cfg.Beacon.MaxPayloadBytes = 64 << 10
	}
	if cfg.Beacon.Timeout == 0 {
		cfg.Beacon.Timeout = 5 * time.Second
	}
	if cfg.Beacon.Concurrency == 0 {
		cfg.Beacon.Concurrency = 4
	}

	if cfg.Library.Name == "" {
		cfg.Library.Name = "analytics-transport"
	}
	if cfg.Library.Version == "" {
		cfg.Library.Version = "1.0.0"
	}

	if cfg.Privacy.RespectDoNotTrack == nil {
		cfg.Privacy.RespectDoNotTrack = ptrTo(true)
	}
	if cfg.Privacy.RespectGlobalPrivacyControl == nil {
		cfg.Privacy.RespectGlobalPrivacyControl = ptrTo(true)
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
}

// Validate validates the configuration. A negative max_attempts
// disables retries.
func (cfg *Config) Validate() error {
	switch {
	case cfg.Endpoint != "":
		if _, err := ParseEndpoint(cfg.Endpoint); err != nil {
			return err
		}
	case !cfg.DryRun:
		return fmt.Errorf("endpoint is required unless dry_run is set")
	}

	if cfg.Debounce < 0 {
		return fmt.Errorf("debounce must not be negative, got %s", cfg.Debounce)
	}

	if cfg.Beacon.Concurrency <= 0 {
		cfg.Beacon.Concurrency = 1
	}

	return nil
}
