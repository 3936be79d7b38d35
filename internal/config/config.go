// Package config holds the runtime configuration for MotiveProxy.
package config

import (
	"time"

	"github.com/spf13/viper"
)

// Version is set at build time via -ldflags.
var Version = "dev"

// Config holds all runtime configuration. Values are merged from flags,
// MOTIVEPROXY_* environment variables, and defaults (set up by the cobra
// command in cmd/motiveproxy).
type Config struct {
	Host     string
	Port     int
	LogLevel string

	HandshakeTimeoutSeconds int
	TurnTimeoutSeconds      int
	SessionTTLSeconds       int
	MaxSessions             int
	EvictIdleOnFull         bool
	CleanupIntervalSeconds  int

	MaxPayloadBytes int64
	EnableMetrics   bool

	EnableRateLimiting bool
	RateLimitPerMinute int
	RateLimitPerHour   int
	RateLimitBurst     int

	// APIKeys enables key auth when non-empty; requests must present one
	// of these values in APIKeyHeader.
	APIKeys      []string
	APIKeyHeader string
}

// Load reads configuration from viper.
func Load() Config {
	return Config{
		Host:     viper.GetString("host"),
		Port:     viper.GetInt("port"),
		LogLevel: viper.GetString("log_level"),

		HandshakeTimeoutSeconds: viper.GetInt("handshake_timeout_seconds"),
		TurnTimeoutSeconds:      viper.GetInt("turn_timeout_seconds"),
		SessionTTLSeconds:       viper.GetInt("session_ttl_seconds"),
		MaxSessions:             viper.GetInt("max_sessions"),
		EvictIdleOnFull:         viper.GetBool("evict_idle_on_full"),
		CleanupIntervalSeconds:  viper.GetInt("cleanup_interval_seconds"),

		MaxPayloadBytes: viper.GetInt64("max_payload_bytes"),
		EnableMetrics:   viper.GetBool("enable_metrics"),

		EnableRateLimiting: viper.GetBool("enable_rate_limiting"),
		RateLimitPerMinute: viper.GetInt("rate_limit_per_minute"),
		RateLimitPerHour:   viper.GetInt("rate_limit_per_hour"),
		RateLimitBurst:     viper.GetInt("rate_limit_burst"),

		APIKeys:      viper.GetStringSlice("api_keys"),
		APIKeyHeader: viper.GetString("api_key_header"),
	}
}

// HandshakeTimeout returns the handshake budget as a duration.
func (c Config) HandshakeTimeout() time.Duration {
	return time.Duration(c.HandshakeTimeoutSeconds) * time.Second
}

// TurnTimeout returns the per-turn budget as a duration.
func (c Config) TurnTimeout() time.Duration {
	return time.Duration(c.TurnTimeoutSeconds) * time.Second
}

// SessionTTL returns the idle TTL as a duration.
func (c Config) SessionTTL() time.Duration {
	return time.Duration(c.SessionTTLSeconds) * time.Second
}

// CleanupInterval returns the sweep period as a duration.
func (c Config) CleanupInterval() time.Duration {
	return time.Duration(c.CleanupIntervalSeconds) * time.Second
}
