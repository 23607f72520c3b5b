package config

import (
	"fmt"
	"sync"

	"github.com/voxtide/voxtide/pkg/provider/live"
	"github.com/voxtide/voxtide/pkg/provider/live/gemini"
)

// LiveFactory builds a [live.Provider] from a provider config block and a
// resolved credential. The credential is passed separately because it may
// come from the environment rather than the config file.
type LiveFactory func(entry ProviderConfig, credential string) live.Provider

// Registry maps provider names to their constructor functions. It is safe
// for concurrent use.
type Registry struct {
	mu   sync.RWMutex
	live map[string]LiveFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{live: make(map[string]LiveFactory)}
}

// RegisterLive registers a realtime provider factory under name, replacing
// any previous registration.
func (r *Registry) RegisterLive(name string, factory LiveFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// Live returns the factory registered under entry.Name, defaulting to
// "gemini-live" when the name is empty.
func (r *Registry) Live(entry ProviderConfig) (LiveFactory, error) {
	name := entry.Name
	if name == "" {
		name = "gemini-live"
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	factory, ok := r.live[name]
	if !ok {
		return nil, fmt.Errorf("config: provider %q not registered", name)
	}
	return factory, nil
}

// DefaultRegistry returns a registry with all built-in providers registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterLive("gemini-live", func(entry ProviderConfig, credential string) live.Provider {
		var opts []gemini.Option
		if entry.Model != "" {
			opts = append(opts, gemini.WithModel(entry.Model))
		}
		if entry.BaseURL != "" {
			opts = append(opts, gemini.WithBaseURL(entry.BaseURL))
		}
		return gemini.New(credential, opts...)
	})
	return r
}
