// Package mock provides a test double for the transcriber.Provider interface.
package mock

import (
	"context"
	"sync"

	"github.com/oraculovoz/oraculo/pkg/provider/transcriber"
)

// TranscribeCall records a single invocation of Transcribe.
type TranscribeCall struct {
	Ctx       context.Context
	AudioPath string
}

// Provider is a mock implementation of transcriber.Provider.
type Provider struct {
	mu sync.Mutex

	// TranscribeResult is returned by Transcribe.
	TranscribeResult transcriber.Result

	// TranscribeErr, if non-nil, is returned as the error from Transcribe.
	TranscribeErr error

	// LoadErr, if non-nil, is returned by Load.
	LoadErr error

	// UnloadErr, if non-nil, is returned by Unload.
	UnloadErr error

	// Ready is returned by IsReady and flipped by Load/Unload unless
	// ReadyOverridden is set.
	Ready           bool
	ReadyOverridden bool

	// TranscribeCalls records every call to Transcribe in order.
	TranscribeCalls []TranscribeCall

	// LoadCallCount and UnloadCallCount count calls to Load and Unload.
	LoadCallCount   int
	UnloadCallCount int
}

// Transcribe records the call and returns TranscribeResult, TranscribeErr.
func (p *Provider) Transcribe(ctx context.Context, audioPath string) (transcriber.Result, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = append(p.TranscribeCalls, TranscribeCall{Ctx: ctx, AudioPath: audioPath})
	return p.TranscribeResult, p.TranscribeErr
}

// TranscribeBatch calls Transcribe for each path in order, invoking
// onProgress after each.
func (p *Provider) TranscribeBatch(ctx context.Context, audioPaths []string, onProgress transcriber.ProgressFunc) error {
	var firstErr error
	for i, path := range audioPaths {
		res, err := p.Transcribe(ctx, path)
		if err != nil && firstErr == nil {
			firstErr = err
		}
		if onProgress != nil {
			onProgress(i, res, err)
		}
	}
	return firstErr
}

// Load records the call, sets Ready (unless overridden), and returns LoadErr.
func (p *Provider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.LoadCallCount++
	if !p.ReadyOverridden {
		p.Ready = true
	}
	return p.LoadErr
}

// Unload records the call, clears Ready (unless overridden), and returns UnloadErr.
func (p *Provider) Unload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.UnloadCallCount++
	if !p.ReadyOverridden {
		p.Ready = false
	}
	return p.UnloadErr
}

// IsReady returns Ready.
func (p *Provider) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.Ready
}

// Reset clears all recorded calls and counters. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.TranscribeCalls = nil
	p.LoadCallCount = 0
	p.UnloadCallCount = 0
}

// Ensure Provider implements transcriber.Provider at compile time.
var _ transcriber.Provider = (*Provider)(nil)
