package config

import (
	"testing"

	"github.com/voxtide/voxtide/pkg/provider/live"
)

func TestDefaultRegistry_HasGeminiLive(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	factory, err := r.Live(ProviderConfig{Name: "gemini-live"})
	if err != nil {
		t.Fatalf("Live: %v", err)
	}

	p := factory(ProviderConfig{Model: "custom-model"}, "key")
	caps := p.Capabilities()
	if caps.InputSampleRate != 16000 || caps.OutputSampleRate != 24000 {
		t.Fatalf("capabilities = %+v", caps)
	}
}

func TestRegistry_EmptyNameDefaults(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	if _, err := r.Live(ProviderConfig{}); err != nil {
		t.Fatalf("Live with empty name: %v", err)
	}
}

func TestRegistry_UnknownName(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	if _, err := r.Live(ProviderConfig{Name: "acme"}); err == nil {
		t.Fatal("unknown provider name did not error")
	}
}

func TestRegistry_RegisterOverrides(t *testing.T) {
	t.Parallel()

	r := DefaultRegistry()
	called := false
	r.RegisterLive("gemini-live", func(ProviderConfig, string) live.Provider {
		called = true
		return nil
	})

	factory, err := r.Live(ProviderConfig{Name: "gemini-live"})
	if err != nil {
		t.Fatalf("Live: %v", err)
	}
	factory(ProviderConfig{}, "")
	if !called {
		t.Fatal("replacement factory was not invoked")
	}
}
