package config

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sync"

	"github.com/MrWong99/voxlink/pkg/provider/llm"
	"github.com/MrWong99/voxlink/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Provider kinds accepted by [Registry.Names].
const (
	KindLLM = "llm"
	KindTTS = "tts"
)

// factories holds the constructors of one provider kind.
type factories[P any] map[string]func(ProviderEntry) (P, error)

func (f factories[P]) create(kind string, e ProviderEntry) (P, error) {
	var zero P
	build, ok := f[e.Name]
	if !ok {
		return zero, fmt.Errorf("%w: %s/%q", ErrProviderNotRegistered, kind, e.Name)
	}
	p, err := build(e)
	if err != nil {
		return zero, fmt.Errorf("config: create %s %s: %w", kind, EntryLabel(e), err)
	}
	return p, nil
}

// Registry maps provider names to constructors for the fallback chain. It is
// safe for concurrent use.
type Registry struct {
	mu  sync.RWMutex
	llm factories[llm.Provider]
	tts factories[tts.Provider]
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llm: factories[llm.Provider]{},
		tts: factories[tts.Provider]{},
	}
}

// RegisterLLM registers an LLM factory under name, replacing any earlier one.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a TTS factory under name, replacing any earlier one.
func (r *Registry) RegisterTTS(name string, factory func(ProviderEntry) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// CreateLLM builds the LLM provider registered under entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.llm.create(KindLLM, entry)
}

// CreateTTS builds the TTS provider registered under entry.Name.
func (r *Registry) CreateTTS(entry ProviderEntry) (tts.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tts.create(KindTTS, entry)
}

// Names lists the registered names for kind, sorted. Unknown kinds yield nil.
func (r *Registry) Names(kind string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	switch kind {
	case KindLLM:
		return slices.Sorted(maps.Keys(r.llm))
	case KindTTS:
		return slices.Sorted(maps.Keys(r.tts))
	}
	return nil
}

// EntryLabel names an entry for logs and fallback metrics.
func EntryLabel(e ProviderEntry) string {
	if e.Model == "" {
		return e.Name
	}
	return e.Name + "/" + e.Model
}
