package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/MrWong99/novalive/pkg/provider/chat"
	liveapi "github.com/MrWong99/novalive/pkg/provider/live"
	"github.com/MrWong99/novalive/pkg/provider/speech"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// provider kind. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	live   map[string]func(ProviderEntry) (liveapi.Provider, error)
	speech map[string]func(ProviderEntry) (speech.Synthesizer, error)
	chat   map[string]func(ProviderEntry) (chat.Chatter, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		live:   make(map[string]func(ProviderEntry) (liveapi.Provider, error)),
		speech: make(map[string]func(ProviderEntry) (speech.Synthesizer, error)),
		chat:   make(map[string]func(ProviderEntry) (chat.Chatter, error)),
	}
}

// RegisterLive registers a live provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (liveapi.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.live[name] = factory
}

// RegisterSpeech registers a speech synthesizer factory under name.
func (r *Registry) RegisterSpeech(name string, factory func(ProviderEntry) (speech.Synthesizer, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.speech[name] = factory
}

// RegisterChat registers a chat backend factory under name.
func (r *Registry) RegisterChat(name string, factory func(ProviderEntry) (chat.Chatter, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chat[name] = factory
}

// HasLive reports whether a live provider is registered under name.
func (r *Registry) HasLive(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.live[name]
	return ok
}

// CreateLive instantiates the live provider registered under entry.Name.
// Returns [ErrProviderNotRegistered] if no factory has been registered.
func (r *Registry) CreateLive(entry ProviderEntry) (liveapi.Provider, error) {
	r.mu.RLock()
	factory, ok := r.live[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: live/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateSpeech instantiates the speech synthesizer registered under
// entry.Name.
func (r *Registry) CreateSpeech(entry ProviderEntry) (speech.Synthesizer, error) {
	r.mu.RLock()
	factory, ok := r.speech[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: speech/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateChat instantiates the chat backend registered under entry.Name.
func (r *Registry) CreateChat(entry ProviderEntry) (chat.Chatter, error) {
	r.mu.RLock()
	factory, ok := r.chat[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: chat/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
