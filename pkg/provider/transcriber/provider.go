// Package transcriber defines the Provider interface for speech-to-text
// backends.
//
// Unlike a live call-transcription service, Oráculo's capture unit is a
// complete, message-sized audio segment already persisted to disk (§4.2 of
// the design). A transcriber therefore exposes a batch, file-in/text-out
// contract rather than a streaming session: the Transcription Queue worker
// (internal/transcribe) calls Transcribe once per pending segment.
//
// Implementations must be safe for concurrent use.
package transcriber

import "context"

// Result is the outcome of transcribing a single audio file.
type Result struct {
	// Text is the transcribed content. Never meaningful when an error is
	// also returned.
	Text string

	// Language is the BCP-47 language tag detected or assumed, when the
	// provider reports one. May be empty.
	Language string

	// Confidence is the provider's overall confidence in [0,1], when
	// reported. Zero means "not reported", not "zero confidence".
	Confidence float64
}

// ProgressFunc is invoked by TranscribeBatch after each item completes,
// receiving the zero-based index of the completed path and its outcome.
type ProgressFunc func(index int, res Result, err error)

// Provider is the abstraction over any STT backend.
//
// Implementations must propagate context cancellation promptly and must
// never panic on malformed audio — transcription failures are reported as
// errors, never exceptions escaping to the caller.
type Provider interface {
	// Transcribe converts the audio file at audioPath into text. Returns a
	// non-nil error if the provider cannot be reached, times out, or rejects
	// the input; the caller (internal/transcribe) maps this to a typed
	// CapabilityTimeout/CapabilityFailure result and marks the segment FAILED.
	Transcribe(ctx context.Context, audioPath string) (Result, error)

	// TranscribeBatch transcribes multiple files, invoking onProgress after
	// each completes (in index order if the provider processes serially, or
	// as each finishes if it fans out internally). A nil onProgress is
	// legal. Returns the first error encountered after wrapping partial
	// completions into onProgress calls; callers that want per-item errors
	// must rely on onProgress rather than the aggregate return value.
	TranscribeBatch(ctx context.Context, audioPaths []string, onProgress ProgressFunc) error

	// Load prepares the provider for use (e.g., loading a local model into
	// memory). Providers with no warm-up cost may implement this as a no-op.
	Load(ctx context.Context) error

	// Unload releases any resources acquired by Load.
	Unload(ctx context.Context) error

	// IsReady reports whether the provider is currently able to serve
	// Transcribe calls.
	IsReady() bool
}
