package config

// ConfigDiff describes what changed between two configs, split into changes
// that apply to a running session and changes that need a reconnect.
type ConfigDiff struct {
	// LogLevelChanged and NewLogLevel track log verbosity. Hot-reloadable.
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// GainChanged and NewGain track the playback gain stage. Hot-reloadable.
	GainChanged bool
	NewGain     float64

	// NeedsReconnect is set when the stream, session or capture settings
	// changed; those only take effect on the next Connect.
	NeedsReconnect bool
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	if old.Playback.EffectiveGain() != new.Playback.EffectiveGain() {
		d.GainChanged = true
		d.NewGain = new.Playback.EffectiveGain()
	}

	if old.Stream != new.Stream || old.Session != new.Session || old.Capture != new.Capture {
		d.NeedsReconnect = true
	}

	return d
}
