// Package tts defines the Provider interface for Text-to-Speech backends.
//
// Unlike a live voice-gateway TTS integration, the Oracle's output is a
// complete text message already delivered to the chat; synthesis is an
// async, fire-and-forget enrichment of that message (spec §4.7), never a
// blocking step in the delivery path. A provider therefore exposes a single
// batch Synthesize call rather than a streaming text-in/audio-out pipe.
//
// Implementations must be safe for concurrent use and must never block
// callers past the request's timeout.
package tts

import (
	"context"
	"time"
)

// SynthesisRequest describes one synthesis call.
type SynthesisRequest struct {
	// Text is the sanitized text to synthesize. Callers (internal/tts) are
	// responsible for stripping inline formatting and non-speakable
	// characters before this reaches a Provider.
	Text string

	// Voice selects the provider's voice/speaker identity.
	Voice string

	// Format requests an output container/codec (e.g. "mp3", "ogg"). A
	// Provider that cannot produce the requested format returns an error.
	Format string

	// Timeout bounds the synthesis call. Zero means the provider's default.
	Timeout time.Duration
}

// SynthesisResult is the raw output of a successful synthesis call.
type SynthesisResult struct {
	// Audio holds the synthesized audio bytes in the requested Format.
	Audio []byte

	// Format is the actual container/codec of Audio, which should match
	// the request's Format.
	Format string
}

// Provider is the abstraction over any TTS backend.
type Provider interface {
	// Synthesize converts req.Text to speech and returns the raw audio
	// bytes. Returns a non-nil error if the provider cannot be reached,
	// times out, or rejects the request; callers must never propagate a
	// panic to the Oracle completion path — synthesis failures degrade to
	// a logged diagnostic, not a crash.
	Synthesize(ctx context.Context, req SynthesisRequest) (SynthesisResult, error)

	// CheckHealth reports whether the provider is currently reachable and
	// able to serve Synthesize calls, without performing a full synthesis.
	CheckHealth(ctx context.Context) error
}
