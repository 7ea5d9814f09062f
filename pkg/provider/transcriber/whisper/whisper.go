// Package whisper provides a transcriber.Provider backed by the whisper.cpp
// Go bindings (CGO). The whisper.cpp static library and headers must be
// available at link time via LIBRARY_PATH and C_INCLUDE_PATH.
//
// Unlike a streaming STT session, Oráculo's audio capture unit is a complete
// file already written to the session's audio directory (§4.2), stored as
// received; this provider reads it as a PCM16 WAV file. Provider therefore
// loads the model once and runs one inference per call to
// Transcribe, sharing the model across concurrent calls — each call gets its
// own whisper.cpp context, which is not itself safe for concurrent use.
package whisper

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/oraculovoz/oraculo/pkg/provider/transcriber"
)

// Compile-time assertion that Provider satisfies transcriber.Provider.
var _ transcriber.Provider = (*Provider)(nil)

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithLanguage sets the BCP-47 language code passed to whisper.cpp
// (e.g., "en", "de", "fr"). Defaults to "en".
func WithLanguage(lang string) Option {
	return func(p *Provider) { p.language = lang }
}

// Provider implements transcriber.Provider using a whisper.cpp model loaded
// in-process via CGO bindings. The model is loaded once by Load and shared
// across all Transcribe calls.
type Provider struct {
	modelPath string
	language  string

	mu    sync.Mutex
	model whisperlib.Model
}

// New constructs a Provider for the whisper.cpp model at modelPath. The
// model is not loaded until Load is called.
func New(modelPath string, opts ...Option) (*Provider, error) {
	if modelPath == "" {
		return nil, errors.New("whisper: modelPath must not be empty")
	}
	p := &Provider{
		modelPath: modelPath,
		language:  "en",
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// Load loads the whisper.cpp model from disk. Safe to call more than once;
// subsequent calls are no-ops while a model is already loaded.
func (p *Provider) Load(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model != nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	model, err := whisperlib.New(p.modelPath)
	if err != nil {
		return fmt.Errorf("whisper: load model %q: %w", p.modelPath, err)
	}
	p.model = model
	return nil
}

// Unload releases the whisper.cpp model.
func (p *Provider) Unload(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

// IsReady implements transcriber.Provider.
func (p *Provider) IsReady() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.model != nil
}

// Transcribe implements transcriber.Provider.
func (p *Provider) Transcribe(ctx context.Context, audioPath string) (transcriber.Result, error) {
	p.mu.Lock()
	model := p.model
	p.mu.Unlock()
	if model == nil {
		return transcriber.Result{}, errors.New("whisper: provider not loaded")
	}
	if err := ctx.Err(); err != nil {
		return transcriber.Result{}, err
	}

	pcm, sampleRate, channels, err := readWAV(audioPath)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: read %q: %w", audioPath, err)
	}
	samples := pcmToFloat32Mono(pcm, channels)
	_ = sampleRate // whisper.cpp resamples internally; kept for future validation

	wctx, err := model.NewContext()
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: create context: %w", err)
	}
	if err := wctx.SetLanguage(p.language); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: set language %q: %w", p.language, err)
	}
	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return transcriber.Result{}, fmt.Errorf("whisper: process audio: %w", err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return transcriber.Result{}, fmt.Errorf("whisper: read segment: %w", err)
		}
		text := strings.TrimSpace(segment.Text)
		if text != "" {
			parts = append(parts, text)
		}
	}

	return transcriber.Result{
		Text:     strings.Join(parts, " "),
		Language: p.language,
	}, nil
}

// TranscribeBatch implements transcriber.Provider by running Transcribe
// serially over audioPaths, invoking onProgress after each item.
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
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return firstErr
}
