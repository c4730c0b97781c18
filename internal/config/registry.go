package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/MrWong99/speechcoach/pkg/provider/llm"
	"github.com/MrWong99/speechcoach/pkg/provider/stt"
)

// ErrProviderNotRegistered is returned by the Create methods when no factory
// is known under the entry's name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// factories is a name-keyed constructor table for one provider kind.
type factories[T any] struct {
	kind   string
	byName map[string]func(ProviderEntry) (T, error)
}

func newFactories[T any](kind string) factories[T] {
	return factories[T]{kind: kind, byName: make(map[string]func(ProviderEntry) (T, error))}
}

func (f factories[T]) create(entry ProviderEntry) (T, error) {
	factory, ok := f.byName[entry.Name]
	if !ok {
		var zero T
		known := slices.Sorted(maps.Keys(f.byName))
		return zero, fmt.Errorf("%w: %s/%q (known: %s)", ErrProviderNotRegistered, f.kind, entry.Name, strings.Join(known, ", "))
	}
	return factory(entry)
}

// Registry maps provider names from the config file to constructors for
// the LLM, batch STT and streaming STT kinds. Safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	llm       factories[llm.Provider]
	stt       factories[stt.Transcriber]
	streamSTT factories[stt.StreamProvider]
}

// NewRegistry returns an empty [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm:       newFactories[llm.Provider]("llm"),
		stt:       newFactories[stt.Transcriber]("stt"),
		streamSTT: newFactories[stt.StreamProvider]("stream_stt"),
	}
}

// RegisterLLM registers an LLM factory under name, replacing any earlier one.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	r.llm.byName[name] = factory
	r.mu.Unlock()
}

// RegisterSTT registers a batch transcriber factory under name.
func (r *Registry) RegisterSTT(name string, factory func(ProviderEntry) (stt.Transcriber, error)) {
	r.mu.Lock()
	r.stt.byName[name] = factory
	r.mu.Unlock()
}

// RegisterStreamSTT registers a streaming recognizer factory under name.
func (r *Registry) RegisterStreamSTT(name string, factory func(ProviderEntry) (stt.StreamProvider, error)) {
	r.mu.Lock()
	r.streamSTT.byName[name] = factory
	r.mu.Unlock()
}

// CreateLLM builds the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(entry)
}

// CreateSTT builds the batch transcriber named by entry.Name.
func (r *Registry) CreateSTT(entry ProviderEntry) (stt.Transcriber, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.stt.create(entry)
}

// CreateStreamSTT builds the streaming recognizer named by entry.Name.
func (r *Registry) CreateStreamSTT(entry ProviderEntry) (stt.StreamProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.streamSTT.create(entry)
}
