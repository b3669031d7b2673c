package config

import "time"

// AuthConfig holds resolved Auth & Transport Gate configuration (spec §4.7).
type AuthConfig struct {
	// APIKeyEnv is the env var name holding the process-wide API key
	// checked on every HTTP/GraphQL request. Required in production.
	APIKeyEnv string `yaml:"api_key_env,omitempty"`

	// DebugMode allows unauthenticated access with a logged warning when
	// no API key is configured. Never set true in production.
	DebugMode bool `yaml:"debug_mode,omitempty"`

	// ProductionMode toggles Secure on session cookies.
	ProductionMode bool `yaml:"production_mode,omitempty"`

	// AllowedWSOrigins lists additional accepted Origin header patterns
	// for WebSocket upgrade requests, beyond same-origin.
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`
}

// NotifyConfig holds resolved outcome-notification configuration (the
// generic successor to the teacher's Slack integration), used to deliver
// scheduler/orchestrator outcomes to an external channel.
type NotifyConfig struct {
	Enabled   bool   `yaml:"enabled,omitempty"`
	WebhookEnv string `yaml:"webhook_env,omitempty"`
	Channel   string `yaml:"channel,omitempty"`
}

// TracingConfig holds optional OpenTelemetry exporter configuration.
type TracingConfig struct {
	Endpoint string        `yaml:"endpoint,omitempty"`
	Timeout  time.Duration `yaml:"timeout,omitempty"`
}
