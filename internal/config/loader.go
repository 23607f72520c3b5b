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

// maxFrameSize bounds session.frame_size; larger frames add more latency
// than any device needs.
const maxFrameSize = 1 << 14

// ValidProviderNames lists known realtime provider names.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = []string{"gemini-live"}

// KnownVoices lists voice identifiers recognised by the default provider.
// Unknown voices only warn; providers may add voices faster than this list
// is updated.
var KnownVoices = []string{"Aoede", "Charon", "Fenrir", "Kore", "Puck"}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
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

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
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

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if cfg.Server.TLS != nil {
		if cfg.Server.TLS.CertFile == "" || cfg.Server.TLS.KeyFile == "" {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
	}

	// Provider
	if cfg.Provider.Name != "" && !slices.Contains(ValidProviderNames, cfg.Provider.Name) {
		slog.Warn("unknown provider name, may be a typo or third-party provider",
			"name", cfg.Provider.Name,
			"known", ValidProviderNames,
		)
	}
	if cfg.Provider.APIKey == "" {
		slog.Warn("provider.api_key is empty; the credential will be resolved from the environment at session start")
	}

	// Session
	if cfg.Session.FrameSize < 0 {
		errs = append(errs, fmt.Errorf("session.frame_size %d must not be negative", cfg.Session.FrameSize))
	}
	if cfg.Session.FrameSize > maxFrameSize {
		errs = append(errs, fmt.Errorf("session.frame_size %d exceeds the maximum of %d", cfg.Session.FrameSize, maxFrameSize))
	}
	if cfg.Session.Voice != "" && !slices.Contains(KnownVoices, cfg.Session.Voice) {
		slog.Warn("unknown voice identifier",
			"voice", cfg.Session.Voice,
			"known", KnownVoices,
		)
	}

	// Transcript
	if cfg.Transcript.PostgresDSN == "" {
		slog.Warn("transcript.postgres_dsn is empty; transcripts will not be persisted")
	}

	return errors.Join(errs...)
}
