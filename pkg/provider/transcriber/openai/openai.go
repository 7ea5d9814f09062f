// Package openai provides a transcriber.Provider backed by the OpenAI audio
// transcription API (Whisper-family models hosted by OpenAI). Use this
// provider when operators prefer a hosted transcription backend over the
// in-process whisper.cpp provider, trading local inference for zero
// operational footprint.
package openai

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	oai "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/oraculovoz/oraculo/pkg/provider/transcriber"
)

// DefaultModel is used when New is called with an empty model string.
const DefaultModel = "whisper-1"

// Ensure Provider implements transcriber.Provider at compile time.
var _ transcriber.Provider = (*Provider)(nil)

// Provider implements transcriber.Provider using OpenAI's hosted audio
// transcription endpoint. Load and Unload are no-ops: there is no local
// model to warm up, so IsReady always reports true once constructed.
type Provider struct {
	client   oai.Client
	model    string
	language string
}

// config holds optional configuration collected from functional options.
type config struct {
	baseURL      string
	organization string
	timeout      time.Duration
	language     string
}

// Option is a functional option for Provider.
type Option func(*config)

// WithBaseURL overrides the default OpenAI API base URL.
func WithBaseURL(url string) Option {
	return func(c *config) { c.baseURL = url }
}

// WithOrganization sets the OpenAI organization ID on all requests.
func WithOrganization(org string) Option {
	return func(c *config) { c.organization = org }
}

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// WithLanguage sets the BCP-47 language hint passed to the API. When unset,
// the model auto-detects the spoken language.
func WithLanguage(lang string) Option {
	return func(c *config) { c.language = lang }
}

// New constructs a new OpenAI-backed transcriber Provider. model defaults to
// DefaultModel when empty.
func New(apiKey string, model string, opts ...Option) (*Provider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai transcriber: apiKey must not be empty")
	}
	if model == "" {
		model = DefaultModel
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	reqOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.organization != "" {
		reqOpts = append(reqOpts, option.WithOrganization(cfg.organization))
	}
	if cfg.timeout > 0 {
		reqOpts = append(reqOpts, option.WithHTTPClient(&http.Client{Timeout: cfg.timeout}))
	}

	return &Provider{
		client:   oai.NewClient(reqOpts...),
		model:    model,
		language: cfg.language,
	}, nil
}

// Load is a no-op: OpenAI's transcription endpoint is remote and requires no
// local warm-up.
func (p *Provider) Load(ctx context.Context) error { return nil }

// Unload is a no-op.
func (p *Provider) Unload(ctx context.Context) error { return nil }

// IsReady always reports true: the provider has no local model state that
// can become unready.
func (p *Provider) IsReady() bool { return true }

// Transcribe implements transcriber.Provider by uploading the audio file at
// audioPath to OpenAI's audio transcription endpoint.
func (p *Provider) Transcribe(ctx context.Context, audioPath string) (transcriber.Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("openai transcriber: open %q: %w", audioPath, err)
	}
	defer f.Close()

	params := oai.AudioTranscriptionNewParams{
		Model: oai.AudioModel(p.model),
		File:  oai.File(f, filepath.Base(audioPath), "audio/wav"),
	}
	if p.language != "" {
		params.Language = param.NewOpt(p.language)
	}

	resp, err := p.client.Audio.Transcriptions.New(ctx, params)
	if err != nil {
		return transcriber.Result{}, fmt.Errorf("openai transcriber: transcribe %q: %w", audioPath, err)
	}

	return transcriber.Result{
		Text:     resp.Text,
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
