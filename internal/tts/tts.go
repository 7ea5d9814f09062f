// Package tts implements the TTS Pipeline (spec §4.7): idempotent,
// fire-and-forget synthesis of Oracle text into a persisted audio artifact,
// wrapping the tts.Provider capability with sanitization, caching, a hard
// timeout, and never-raise error semantics.
package tts

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/oraculovoz/oraculo/internal/observe"
	"github.com/oraculovoz/oraculo/internal/store"
	ttsprovider "github.com/oraculovoz/oraculo/pkg/provider/tts"
	"github.com/oraculovoz/oraculo/pkg/types"
)

// ErrDisabled is returned by Synthesize when the pipeline is configured off.
var ErrDisabled = fmt.Errorf("tts: disabled by configuration")

// Pipeline wraps a tts.Provider with the idempotency, sanitization, and
// timeout semantics named in spec §4.7.
type Pipeline struct {
	store    *store.Store
	provider ttsprovider.Provider

	enabled    bool
	voice      string
	format     string
	timeout    time.Duration
	maxTextLen int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithVoice sets the provider voice identity used for every request.
func WithVoice(voice string) Option { return func(p *Pipeline) { p.voice = voice } }

// WithFormat sets the output container/codec requested from the provider.
func WithFormat(format string) Option { return func(p *Pipeline) { p.format = format } }

// WithTimeout sets the hard synthesis timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option { return func(p *Pipeline) { p.timeout = d } }

// WithMaxTextLength caps sanitized text length; longer requests are
// rejected. Defaults to 2000.
func WithMaxTextLength(n int) Option { return func(p *Pipeline) { p.maxTextLen = n } }

// New constructs a Pipeline. enabled mirrors the "tts.enabled" config
// field — when false, Synthesize always returns ErrDisabled.
func New(s *store.Store, provider ttsprovider.Provider, enabled bool, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:      s,
		provider:   provider,
		enabled:    enabled,
		format:     "mp3",
		timeout:    30 * time.Second,
		maxTextLen: 2000,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IdempotencyKey computes the truncated digest named in spec §3 invariant
// 7: digest(session_id ‖ persona_id ‖ sanitized_text)[..16].
func IdempotencyKey(sessionID, personaID, sanitizedText string) string {
	sum := sha256.Sum256([]byte(sessionID + "\x00" + personaID + "\x00" + sanitizedText))
	return hex.EncodeToString(sum[:])[:16]
}

// artifactFilename builds the <seq>_<persona>.<fmt> artifact name.
func (p *Pipeline) artifactFilename(sequence int, personaID string) string {
	return fmt.Sprintf("%d_%s.%s", sequence, personaID, p.format)
}

// GetArtifactPath returns the on-disk path a given request would produce,
// without performing synthesis.
func (p *Pipeline) GetArtifactPath(sessionID string, sequence int, personaID string) string {
	return filepath.Join(p.store.TTSDir(sessionID), p.artifactFilename(sequence, personaID))
}

// Synthesize implements the full algorithm in spec §4.7. It has no error
// return: every outcome, including a disabled pipeline, rejected text and a
// provider failure, is reported in the returned TTSResult, whose Err is
// empty on success (the fire-and-forget scheduling path logs
// TTSResult.Err and moves on).
func (p *Pipeline) Synthesize(ctx context.Context, sessionID, personaID string, sequence int, text string) types.TTSResult {
	if !p.enabled {
		return types.TTSResult{SessionID: sessionID, PersonaID: personaID, Sequence: sequence, Err: ErrDisabled.Error()}
	}

	path := p.GetArtifactPath(sessionID, sequence, personaID)
	if info, err := os.Stat(path); err == nil && info.Size() > 0 {
		return types.TTSResult{
			SessionID: sessionID, PersonaID: personaID, Sequence: sequence,
			Path: path, Cached: true,
		}
	}

	sanitized := sanitize(text)
	key := IdempotencyKey(sessionID, personaID, sanitized)
	if sanitized == "" {
		return types.TTSResult{SessionID: sessionID, PersonaID: personaID, Sequence: sequence, IdempotencyKey: key, Err: "empty after sanitization"}
	}
	if len(sanitized) > p.maxTextLen {
		return types.TTSResult{SessionID: sessionID, PersonaID: personaID, Sequence: sequence, IdempotencyKey: key, Err: "text exceeds configured length cap"}
	}

	callCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	result, err := p.provider.Synthesize(callCtx, ttsprovider.SynthesisRequest{
		Text: sanitized, Voice: p.voice, Format: p.format, Timeout: p.timeout,
	})
	elapsed := time.Since(start)
	observe.DefaultMetrics().TTSDuration.Record(ctx, elapsed.Seconds())
	if err != nil {
		observe.DefaultMetrics().RecordProviderRequest(ctx, "tts", "synthesize", "error")
		observe.DefaultMetrics().RecordProviderError(ctx, "tts", "synthesize")
		slog.Warn("tts: synthesis failed", "session_id", sessionID, "persona_id", personaID, "error", err)
		return types.TTSResult{SessionID: sessionID, PersonaID: personaID, Sequence: sequence, IdempotencyKey: key, Err: err.Error()}
	}
	observe.DefaultMetrics().RecordProviderRequest(ctx, "tts", "synthesize", "ok")

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		slog.Error("tts: create artifact dir", "session_id", sessionID, "error", err)
		return types.TTSResult{SessionID: sessionID, PersonaID: personaID, Sequence: sequence, IdempotencyKey: key, Err: err.Error()}
	}
	if err := writeArtifactAtomic(filepath.Dir(path), filepath.Base(path), result.Audio); err != nil {
		slog.Error("tts: write artifact", "session_id", sessionID, "error", err)
		return types.TTSResult{SessionID: sessionID, PersonaID: personaID, Sequence: sequence, IdempotencyKey: key, Err: err.Error()}
	}

	return types.TTSResult{
		SessionID: sessionID, PersonaID: personaID, Sequence: sequence,
		Path: path, IdempotencyKey: key, DurationMs: elapsed.Milliseconds(),
	}
}

// CheckHealth delegates to the underlying provider.
func (p *Pipeline) CheckHealth(ctx context.Context) error {
	return p.provider.CheckHealth(ctx)
}

var (
	markdownMarker = regexp.MustCompile("[*_`#>~]")
	linkPattern    = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	nonSpeakable   = regexp.MustCompile(`[^\p{L}\p{N}\s.,!?;:'"()-]`)
	whitespaceRun  = regexp.MustCompile(`\s+`)
)

// sanitize strips inline formatting markers and normalizes non-speakable
// characters, per spec §4.7 step 3.
func sanitize(text string) string {
	out := linkPattern.ReplaceAllString(text, "$1")
	out = markdownMarker.ReplaceAllString(out, "")
	out = nonSpeakable.ReplaceAllString(out, " ")
	out = whitespaceRun.ReplaceAllString(out, " ")
	return strings.TrimSpace(out)
}

// writeArtifactAtomic writes data to dir/filename via a temp file + rename,
// matching the store package's atomic-write convention.
func writeArtifactAtomic(dir, filename string, data []byte) error {
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, filename)); err != nil {
		os.Remove(tmpPath)
		return err
	}
	return nil
}
