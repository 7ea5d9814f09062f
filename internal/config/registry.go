package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/oraculovoz/oraculo/pkg/provider/embedder"
	"github.com/oraculovoz/oraculo/pkg/provider/llm"
	"github.com/oraculovoz/oraculo/pkg/provider/transcriber"
	"github.com/oraculovoz/oraculo/pkg/provider/transport"
	"github.com/oraculovoz/oraculo/pkg/provider/tts"
)

// ErrProviderNotRegistered is returned by Create* methods when no factory has
// been registered under the requested provider name.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry maps provider names to their constructor functions for each
// capability kind named in spec §6 ("Capability interfaces"). It is safe for
// concurrent use. cmd/oraculo wires concrete providers into a Registry so
// the core packages never import an SDK directly.
type Registry struct {
	mu          sync.RWMutex
	transcriber map[string]func(TranscriptionConfig) (transcriber.Provider, error)
	embedder    map[string]func(SearchConfig) (embedder.Provider, error)
	llm         map[string]func(OracleConfig) (llm.Provider, error)
	tts         map[string]func(TTSConfig) (tts.Provider, error)
	transport   map[string]func(TransportConfig) (transport.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		transcriber: make(map[string]func(TranscriptionConfig) (transcriber.Provider, error)),
		embedder:    make(map[string]func(SearchConfig) (embedder.Provider, error)),
		llm:         make(map[string]func(OracleConfig) (llm.Provider, error)),
		tts:         make(map[string]func(TTSConfig) (tts.Provider, error)),
		transport:   make(map[string]func(TransportConfig) (transport.Provider, error)),
	}
}

// RegisterTranscriber registers a transcriber provider factory under name.
// Subsequent calls with the same name overwrite the previous registration.
func (r *Registry) RegisterTranscriber(name string, factory func(TranscriptionConfig) (transcriber.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transcriber[name] = factory
}

// RegisterEmbedder registers an embedder provider factory under name.
func (r *Registry) RegisterEmbedder(name string, factory func(SearchConfig) (embedder.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedder[name] = factory
}

// RegisterLLM registers an LLM provider factory under name.
func (r *Registry) RegisterLLM(name string, factory func(OracleConfig) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llm[name] = factory
}

// RegisterTTS registers a TTS provider factory under name.
func (r *Registry) RegisterTTS(name string, factory func(TTSConfig) (tts.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tts[name] = factory
}

// RegisterTransport registers a chat transport provider factory under name.
func (r *Registry) RegisterTransport(name string, factory func(TransportConfig) (transport.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.transport[name] = factory
}

// CreateTranscriber instantiates a transcriber provider using the factory
// registered under cfg.Name. Returns [ErrProviderNotRegistered] if no
// factory has been registered for that name.
func (r *Registry) CreateTranscriber(cfg TranscriptionConfig) (transcriber.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transcriber[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transcriber/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateEmbedder instantiates an embedder provider using the factory
// registered under cfg.Backend (falling back to "file" when unset).
func (r *Registry) CreateEmbedder(cfg SearchConfig) (embedder.Provider, error) {
	name := cfg.Backend
	if name == "" {
		name = "file"
	}
	r.mu.RLock()
	factory, ok := r.embedder[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embedder/%q", ErrProviderNotRegistered, name)
	}
	return factory(cfg)
}

// CreateLLM instantiates an LLM provider using the factory registered under cfg.Name.
func (r *Registry) CreateLLM(cfg OracleConfig) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llm[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateTTS instantiates a TTS provider using the factory registered under cfg.Name.
func (r *Registry) CreateTTS(cfg TTSConfig) (tts.Provider, error) {
	r.mu.RLock()
	factory, ok := r.tts[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: tts/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}

// CreateTransport instantiates a chat transport provider using the factory
// registered under cfg.Name.
func (r *Registry) CreateTransport(cfg TransportConfig) (transport.Provider, error) {
	r.mu.RLock()
	factory, ok := r.transport[cfg.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: transport/%q", ErrProviderNotRegistered, cfg.Name)
	}
	return factory(cfg)
}
