package config

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/MrWong99/yuva/internal/speech"
)

// ErrAdapterNotRegistered is returned by [Registry.CreateSpeech] when no
// factory has been registered under the requested name.
var ErrAdapterNotRegistered = errors.New("config: speech adapter not registered")

// SpeechFactory builds a speech adapter from its config section.
type SpeechFactory func(SpeechConfig) (speech.Adapter, error)

// Registry maps speech adapter names to constructors. It is safe for
// concurrent use.
type Registry struct {
	mu     sync.RWMutex
	speech map[string]SpeechFactory
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{speech: make(map[string]SpeechFactory)}
}

// DefaultRegistry returns a registry with the built-in adapters.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterSpeech("none", func(SpeechConfig) (speech.Adapter, error) {
		return speech.Unavailable{}, nil
	})
	r.RegisterSpeech("command", func(c SpeechConfig) (speech.Adapter, error) {
		return speech.NewCommand(speech.CommandConfig{
			TTSCommand: c.TTSCommand,
			TTSArgs:    c.TTSArgs,
			STTCommand: c.STTCommand,
			STTArgs:    c.STTArgs,
		}), nil
	})
	return r
}

// RegisterSpeech registers factory under name, replacing any previous one.
func (r *Registry) RegisterSpeech(name string, factory SpeechFactory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[name] = factory
}

// CreateSpeech builds the adapter named by cfg.Adapter.
func (r *Registry) CreateSpeech(cfg SpeechConfig) (speech.Adapter, error) {
	r.mu.RLock()
	factory, ok := r.speech[cfg.Adapter]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrAdapterNotRegistered, cfg.Adapter)
	}
	return factory(cfg)
}

// SpeechNames returns the registered adapter names in sorted order.
func (r *Registry) SpeechNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.speech))
	for n := range r.speech {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}
