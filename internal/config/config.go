// Package config provides the configuration schema, loader, file watcher and
// stream-provider registry for the voicelink client.
package config

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure for voicelink.
// It is typically loaded from a YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Stream   StreamConfig   `yaml:"stream"`
	Session  SessionConfig  `yaml:"session"`
	Capture  CaptureConfig  `yaml:"capture"`
	Playback PlaybackConfig `yaml:"playback"`
}

// ServerConfig holds logging and observability settings.
type ServerConfig struct {
	// LogLevel controls verbosity.
	LogLevel LogLevel `yaml:"log_level"`

	// MetricsAddr is the TCP address the Prometheus /metrics endpoint listens
	// on (e.g., ":9090"). Empty disables the endpoint.
	MetricsAddr string `yaml:"metrics_addr"`
}

// StreamConfig selects and configures the remote duplex stream provider.
type StreamConfig struct {
	// Provider selects the registered stream implementation (e.g., "gemini-live").
	Provider string `yaml:"provider"`

	// APIKey is the authentication key for the provider's API. When empty,
	// the loader falls back to the GEMINI_API_KEY environment variable.
	APIKey string `yaml:"api_key"`

	// Model selects a specific model within the provider
	// (e.g., "gemini-2.0-flash-live-001").
	Model string `yaml:"model"`

	// BaseURL overrides the provider's default API endpoint.
	// Leave empty to use the provider's built-in default.
	BaseURL string `yaml:"base_url"`
}

// SessionConfig describes the conversational persona for a session.
type SessionConfig struct {
	// Voice is the provider voice identity (e.g., "Puck").
	Voice string `yaml:"voice"`

	// Instructions is a free-text persona description injected as the
	// session's system instruction.
	Instructions string `yaml:"instructions"`
}

// CaptureConfig tunes the microphone pipeline.
type CaptureConfig struct {
	// ChunkSize is the number of samples per outbound chunk. 0 uses the
	// pipeline default.
	ChunkSize int `yaml:"chunk_size"`
}

// PlaybackConfig tunes the speaker pipeline.
type PlaybackConfig struct {
	// Gain is the output gain multiplier. 0 means the default of 1.0.
	// Hot-reloadable: changes apply to the running session.
	Gain float64 `yaml:"gain"`
}

// EffectiveGain returns the configured gain, treating the zero value as 1.0.
func (p PlaybackConfig) EffectiveGain() float64 {
	if p.Gain == 0 {
		return 1.0
	}
	return p.Gain
}
