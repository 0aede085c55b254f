package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/parley/pkg/provider/live"
	"github.com/MrWong99/parley/pkg/provider/llm"
	"github.com/MrWong99/parley/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// has been registered under the requested name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to constructors for each provider kind. It
// is safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	liv map[string]func(ProviderEntry) (live.Provider, error)
	llm map[string]func(ProviderEntry) (llm.Provider, error)
	stt map[string]func(ProviderEntry) (stt.Transcriber, error)
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		liv: make(map[string]func(ProviderEntry) (live.Provider, error)),
		llm: make(map[string]func(ProviderEntry) (llm.Provider, error)),
		stt: make(map[string]func(ProviderEntry) (stt.Transcriber, error)),
	}
}

// RegisterLive registers a live streaming provider. A later registration
// under the same name replaces the earlier one.
func (r *Registry) RegisterLive(name string, factory func(ProviderEntry) (live.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.liv[name] = factory
}

// RegisterLLM registers a completion backend used for translation.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTranscriber registers a dictation transcriber.
func (r *Registry) RegisterTranscriber(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stt[name] = factory
}

// CreateLive builds the live provider named by entry.Name.
func (r *Registry) CreateLive(entry ProviderEntry) (live.Provider, error) {
	return create(&r.mu, r.liv, "live", entry)
}

// CreateLLM builds the completion backend named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	return create(&r.mu, r.llm, "llm", entry)
}

// CreateTranscriber builds the transcriber named by entry.Name.
func (r *Registry) CreateTranscriber(entry ProviderEntry) (stt.Transcriber, error) {
	return create(&r.mu, r.stt, "transcription", entry)
}

// Names returns the sorted registered names for kind ("live", "llm" or
// "transcription").
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case "live":
		return slices.Sorted(maps.Keys(r.liv))
	case "llm":
		return slices.Sorted(maps.Keys(r.llm))
	case "transcription":
		return slices.Sorted(maps.Keys(r.stt))
	}
	return nil
}

func create[T any](mu *sync.RWMutex, factories map[string]func(ProviderEntry) (T, error), kind string, entry ProviderEntry) (T, error) {
	mu.RLock()
	factory, ok := factories[entry.Name]
	mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, entry.Name)
	}
	return factory(entry)
}
