package resilience

import (
	"context"

	"github.com/oraculovoz/oraculo/pkg/provider/tts"
)

// TTSFallback implements [tts.Provider] with automatic failover across multiple
// TTS backends. Each backend has its own circuit breaker.
type TTSFallback struct {
	group *FallbackGroup[tts.Provider]
}

// Compile-time interface assertion.
var _ tts.Provider = (*TTSFallback)(nil)

// NewTTSFallback creates a [TTSFallback] with primary as the preferred backend.
func NewTTSFallback(primary tts.Provider, primaryName string, cfg FallbackConfig) *TTSFallback {
	return &TTSFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional TTS provider as a fallback.
func (f *TTSFallback) AddFallback(name string, provider tts.Provider) {
	f.group.AddFallback(name, provider)
}

// Synthesize tries the first healthy provider, falling through to the next
// on failure or an open circuit.
func (f *TTSFallback) Synthesize(ctx context.Context, req tts.SynthesisRequest) (tts.SynthesisResult, error) {
	return ExecuteWithResult(f.group, func(p tts.Provider) (tts.SynthesisResult, error) {
		return p.Synthesize(ctx, req)
	})
}

// CheckHealth reports whether at least one entry in the group is reachable.
func (f *TTSFallback) CheckHealth(ctx context.Context) error {
	return f.group.Execute(func(p tts.Provider) error {
		return p.CheckHealth(ctx)
	})
}
