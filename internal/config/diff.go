package config

// ConfigDiff describes what changed between two configs. Only fields that
// can be applied without restarting the process are tracked; session fields
// take effect on the next session start.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	// SessionChanged is true when the voice, instructions, or frame size
	// changed. The running session is unaffected; the next start picks the
	// new values up.
	SessionChanged bool

	// CredentialChanged is true when provider.api_key changed. Like session
	// fields, it applies on the next connect attempt.
	CredentialChanged bool
}

// Any reports whether the diff carries any change.
func (d ConfigDiff) Any() bool {
	return d.LogLevelChanged || d.SessionChanged || d.CredentialChanged
}

// Diff compares old and new configs and returns what changed.
// Only tracks changes that are safe to apply without restart.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}
	if old.Session != new.Session {
		d.SessionChanged = true
	}
	if old.Provider.APIKey != new.Provider.APIKey {
		d.CredentialChanged = true
	}

	return d
}
