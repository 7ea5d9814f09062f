// Package mock provides a test double for the tts.Provider interface.
//
// Use Provider to return pre-canned synthesis results without a live
// provider and to verify that the correct requests are submitted.
//
// Example:
//
//	p := &mock.Provider{
//	    SynthesizeResult: tts.SynthesisResult{Audio: []byte("audio"), Format: "mp3"},
//	}
//	res, _ := p.Synthesize(ctx, tts.SynthesisRequest{Text: "hello", Voice: "v1"})
package mock

import (
	"context"
	"sync"

	"github.com/oraculovoz/oraculo/pkg/provider/tts"
)

// SynthesizeCall records a single invocation of Synthesize.
type SynthesizeCall struct {
	Ctx context.Context
	Req tts.SynthesisRequest
}

// Provider is a mock implementation of tts.Provider.
type Provider struct {
	mu sync.Mutex

	// SynthesizeResult is returned by Synthesize.
	SynthesizeResult tts.SynthesisResult

	// SynthesizeErr, if non-nil, is returned as the error from Synthesize.
	SynthesizeErr error

	// CheckHealthErr, if non-nil, is returned by CheckHealth.
	CheckHealthErr error

	// SynthesizeCalls records every call to Synthesize in order.
	SynthesizeCalls []SynthesizeCall

	// CheckHealthCallCount counts calls to CheckHealth.
	CheckHealthCallCount int
}

// Synthesize records the call and returns SynthesizeResult, SynthesizeErr.
func (p *Provider) Synthesize(ctx context.Context, req tts.SynthesisRequest) (tts.SynthesisResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = append(p.SynthesizeCalls, SynthesizeCall{Ctx: ctx, Req: req})
	return p.SynthesizeResult, p.SynthesizeErr
}

// CheckHealth records the call and returns CheckHealthErr.
func (p *Provider) CheckHealth(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CheckHealthCallCount++
	return p.CheckHealthErr
}

// Reset clears all recorded calls. Thread-safe.
func (p *Provider) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.SynthesizeCalls = nil
	p.CheckHealthCallCount = 0
}

// Ensure Provider implements tts.Provider at compile time.
var _ tts.Provider = (*Provider)(nil)
