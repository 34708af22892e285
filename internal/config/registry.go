package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/voicelink/pkg/stream"
)

// ErrProviderNotRegistered is returned by CreateStream when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps stream provider names to their constructor functions.
// It is safe for concurrent use.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]func(StreamConfig) (stream.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		streams: make(map[string]func(StreamConfig) (stream.Provider, error)),
	}
}

// RegisterStream registers a stream provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterStream(name string, factory func(StreamConfig) (stream.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.streams[name] = factory
}

// CreateStream instantiates a stream provider using the factory registered
// under cfg.Provider. Returns [ErrProviderNotRegistered] if no factory has
// been registered for that name.
func (r *Registry) CreateStream(cfg StreamConfig) (stream.Provider, error) {
	r.mu.RLock()
	factory, ok := r.streams[cfg.Provider]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: stream/%q", ErrProviderNotRegistered, cfg.Provider)
	}
	return factory(cfg)
}
