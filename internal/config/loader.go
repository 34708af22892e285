package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidStreamProviders lists the known stream provider names.
// Used by [Validate] to warn about unrecognised names.
var ValidStreamProviders = []string{"gemini-live"}

// ValidVoices lists the voice identities known to work with the default
// provider. Unknown voices are warned about, not rejected, since providers
// add voices faster than this list is updated.
var ValidVoices = []string{"Puck", "Charon", "Kore", "Fenrir", "Aoede"}

// apiKeyEnv is consulted when stream.api_key is not set in the file.
const apiKeyEnv = "GEMINI_API_KEY"

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, overlays environment
// credentials and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if cfg.Stream.APIKey == "" {
		cfg.Stream.APIKey = os.Getenv(apiKeyEnv)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Stream.Provider != "" && !slices.Contains(ValidStreamProviders, cfg.Stream.Provider) {
		slog.Warn("unknown stream provider — may be a typo or third-party provider",
			"name", cfg.Stream.Provider,
			"known", ValidStreamProviders,
		)
	}
	if cfg.Stream.APIKey == "" {
		slog.Warn("no API key configured; set stream.api_key or the " + apiKeyEnv + " environment variable")
	}

	if cfg.Session.Voice != "" && !slices.Contains(ValidVoices, cfg.Session.Voice) {
		slog.Warn("unknown voice — may be a typo or a newly added voice",
			"voice", cfg.Session.Voice,
			"known", ValidVoices,
		)
	}

	if cfg.Capture.ChunkSize < 0 {
		errs = append(errs, fmt.Errorf("capture.chunk_size %d must not be negative", cfg.Capture.ChunkSize))
	}
	if cfg.Playback.Gain < 0 {
		errs = append(errs, fmt.Errorf("playback.gain %.2f must not be negative", cfg.Playback.Gain))
	}

	return errors.Join(errs...)
}
