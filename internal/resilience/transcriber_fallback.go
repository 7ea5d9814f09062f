package resilience

import (
	"context"

	"github.com/oraculovoz/oraculo/pkg/provider/transcriber"
)

// TranscriberFallback implements [transcriber.Provider] with automatic
// failover across multiple speech-to-text backends. Each backend has its
// own circuit breaker; when the primary fails or its breaker is open, the
// next healthy fallback is tried.
type TranscriberFallback struct {
	group *FallbackGroup[transcriber.Provider]
}

// Compile-time interface assertion.
var _ transcriber.Provider = (*TranscriberFallback)(nil)

// NewTranscriberFallback creates a [TranscriberFallback] with primary as the
// preferred backend.
func NewTranscriberFallback(primary transcriber.Provider, primaryName string, cfg FallbackConfig) *TranscriberFallback {
	return &TranscriberFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcriber provider as a fallback.
func (f *TranscriberFallback) AddFallback(name string, provider transcriber.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe tries the first healthy provider, falling through to the next
// on failure or an open circuit.
func (f *TranscriberFallback) Transcribe(ctx context.Context, audioPath string) (transcriber.Result, error) {
	return ExecuteWithResult(f.group, func(p transcriber.Provider) (transcriber.Result, error) {
		return p.Transcribe(ctx, audioPath)
	})
}

// TranscribeBatch delegates to the first healthy provider's batch call.
func (f *TranscriberFallback) TranscribeBatch(ctx context.Context, audioPaths []string, onProgress transcriber.ProgressFunc) error {
	return f.group.Execute(func(p transcriber.Provider) error {
		return p.TranscribeBatch(ctx, audioPaths, onProgress)
	})
}

// Load prepares every entry in the group, so a fallback taken over mid-run
// is already warm.
func (f *TranscriberFallback) Load(ctx context.Context) error {
	var firstErr error
	for i := range f.group.entries {
		if err := f.group.entries[i].value.Load(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Unload releases every entry in the group.
func (f *TranscriberFallback) Unload(ctx context.Context) error {
	var firstErr error
	for i := range f.group.entries {
		if err := f.group.entries[i].value.Unload(ctx); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// IsReady reports whether the primary is ready. Fallback readiness is
// checked implicitly on use via its own circuit breaker.
func (f *TranscriberFallback) IsReady() bool {
	if len(f.group.entries) == 0 {
		return false
	}
	return f.group.entries[0].value.IsReady()
}
