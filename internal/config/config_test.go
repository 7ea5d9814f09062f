package config_test

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oraculovoz/oraculo/internal/config"
	"github.com/oraculovoz/oraculo/pkg/provider/embedder"
	"github.com/oraculovoz/oraculo/pkg/provider/llm"
	"github.com/oraculovoz/oraculo/pkg/provider/transcriber"
	"github.com/oraculovoz/oraculo/pkg/provider/transport"
	"github.com/oraculovoz/oraculo/pkg/provider/tts"
)

const sampleYAML = `
server:
  log_level: info

transport:
  bot_token: "123:abc"
  allowed_chat_ids: [42]
  name: telegram

paths:
  sessions_root: /var/lib/oraculo/sessions
  oracles_dir: /etc/oraculo/oracles

transcription:
  name: whisper
  model_id: base.en
  device: cpu
  timeout: 30s

tts:
  enabled: true
  name: elevenlabs
  voice: default
  format: ogg
  max_text_length: 2000
  gc_retention_hours: 168
  gc_max_storage_mb: 512

search:
  min_score: 0.7
  max_results: 8
  backend: file

ui:
  message_byte_cap: 4096
  progress_interval: 5s

oracle:
  name: openai
  placeholder_token: "{{CONTEXT}}"
  cache_ttl: 10s
  llm_timeout: 30s
`

func TestLoadFromReader_Valid(t *testing.T) {
	cfg, err := config.LoadFromReader(strings.NewReader(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, config.LogInfo, cfg.Server.LogLevel)
	assert.Equal(t, "telegram", cfg.Transport.Name)
	assert.Equal(t, []int64{42}, cfg.Transport.AllowedChatIDs)
	assert.Equal(t, "whisper", cfg.Transcription.Name)
	assert.True(t, cfg.TTS.Enabled)
	assert.Equal(t, 0.7, cfg.Search.MinScore)
	assert.Equal(t, 8, cfg.Search.MaxResults)
	assert.Equal(t, "{{CONTEXT}}", cfg.Oracle.PlaceholderToken)
}

func TestLoadFromReader_DefaultsApplied(t *testing.T) {
	yaml := `
transport:
  bot_token: "123:abc"
  name: telegram
paths:
  sessions_root: /data/sessions
  oracles_dir: /data/oracles
transcription:
  name: whisper
oracle:
  name: openai
`
	cfg, err := config.LoadFromReader(strings.NewReader(yaml))
	require.NoError(t, err)

	assert.Equal(t, 0.6, cfg.Search.MinScore)
	assert.Equal(t, 5, cfg.Search.MaxResults)
	assert.Equal(t, 60*time.Second, cfg.Search.QueryTimeout)
	assert.Equal(t, 4096, cfg.UI.MessageByteCap)
	assert.Equal(t, 5*time.Second, cfg.UI.ProgressInterval)
	assert.Equal(t, "{{CONTEXT}}", cfg.Oracle.PlaceholderToken)
	assert.Equal(t, 10*time.Second, cfg.Oracle.CacheTTL)
	assert.Equal(t, 30*time.Second, cfg.Oracle.LLMTimeout)
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	yaml := `
server:
  log_level: verbose
transport:
  bot_token: x
  name: telegram
paths:
  sessions_root: /data
  oracles_dir: /oracles
transcription:
  name: whisper
oracle:
  name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "log_level")
}

func TestValidate_MissingRequiredFields(t *testing.T) {
	_, err := config.LoadFromReader(strings.NewReader("{}"))
	require.Error(t, err)
	for _, want := range []string{"transport.bot_token", "transport.name", "paths.sessions_root", "paths.oracles_dir", "transcription.name", "oracle.name"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestValidate_TTSEnabledRequiresName(t *testing.T) {
	yaml := `
transport:
  bot_token: x
  name: telegram
paths:
  sessions_root: /data
  oracles_dir: /oracles
transcription:
  name: whisper
tts:
  enabled: true
oracle:
  name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "tts.name")
}

func TestValidate_PostgresBackendRequiresDSN(t *testing.T) {
	yaml := `
transport:
  bot_token: x
  name: telegram
paths:
  sessions_root: /data
  oracles_dir: /oracles
transcription:
  name: whisper
search:
  backend: postgres
oracle:
  name: openai
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "postgres_dsn")
}

// ── Registry ─────────────────────────────────────────────────────────────

func TestRegistry_UnknownProviders(t *testing.T) {
	reg := config.NewRegistry()

	_, err := reg.CreateLLM(config.OracleConfig{Name: "nonexistent"})
	assert.ErrorIs(t, err, config.ErrProviderNotRegistered)

	_, err = reg.CreateTranscriber(config.TranscriptionConfig{Name: "nonexistent"})
	assert.ErrorIs(t, err, config.ErrProviderNotRegistered)

	_, err = reg.CreateTTS(config.TTSConfig{Name: "nonexistent"})
	assert.ErrorIs(t, err, config.ErrProviderNotRegistered)

	_, err = reg.CreateEmbedder(config.SearchConfig{Backend: "nonexistent"})
	assert.ErrorIs(t, err, config.ErrProviderNotRegistered)

	_, err = reg.CreateTransport(config.TransportConfig{Name: "nonexistent"})
	assert.ErrorIs(t, err, config.ErrProviderNotRegistered)
}

func TestRegistry_DefaultsEmbedderBackendToFile(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubEmbedder{}
	reg.RegisterEmbedder("file", func(config.SearchConfig) (embedder.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateEmbedder(config.SearchConfig{})
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestRegistry_RegisteredFactoryReturnsInstance(t *testing.T) {
	reg := config.NewRegistry()
	want := &stubLLM{}
	reg.RegisterLLM("stub", func(config.OracleConfig) (llm.Provider, error) {
		return want, nil
	})
	got, err := reg.CreateLLM(config.OracleConfig{Name: "stub"})
	require.NoError(t, err)
	assert.Same(t, want, got)
}

func TestRegistry_FactoryError(t *testing.T) {
	reg := config.NewRegistry()
	wantErr := errors.New("factory boom")
	reg.RegisterLLM("broken", func(config.OracleConfig) (llm.Provider, error) {
		return nil, wantErr
	})
	_, err := reg.CreateLLM(config.OracleConfig{Name: "broken"})
	assert.ErrorIs(t, err, wantErr)
}

// ── Stub implementations (satisfy interfaces for the compiler) ───────────

type stubLLM struct{}

func (s *stubLLM) Complete(_ context.Context, _ llm.CompletionRequest) (llm.CompletionResponse, error) {
	return llm.CompletionResponse{}, nil
}

type stubEmbedder struct{}

func (s *stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) { return nil, nil }
func (s *stubEmbedder) Dimensions() int                                      { return 0 }
func (s *stubEmbedder) ModelID() string                                      { return "stub" }

var (
	_ transcriber.Provider = (*stubTranscriber)(nil)
	_ tts.Provider         = (*stubTTS)(nil)
	_ transport.Provider   = (*stubTransport)(nil)
)

type stubTranscriber struct{}

func (s *stubTranscriber) Transcribe(_ context.Context, _ string) (transcriber.Result, error) {
	return transcriber.Result{}, nil
}
func (s *stubTranscriber) TranscribeBatch(_ context.Context, _ []string, _ transcriber.ProgressFunc) error {
	return nil
}
func (s *stubTranscriber) Load(_ context.Context) error   { return nil }
func (s *stubTranscriber) Unload(_ context.Context) error { return nil }
func (s *stubTranscriber) IsReady() bool                  { return true }

type stubTTS struct{}

func (s *stubTTS) Synthesize(_ context.Context, _ tts.SynthesisRequest) (tts.SynthesisResult, error) {
	return tts.SynthesisResult{}, nil
}
func (s *stubTTS) CheckHealth(_ context.Context) error { return nil }

type stubTransport struct{}

func (s *stubTransport) Listen(_ context.Context, _ transport.Handler) error { return nil }
func (s *stubTransport) SendText(_ context.Context, _ transport.ChatID, _ string, _ *transport.Keyboard) (transport.MessageRef, error) {
	return transport.MessageRef{}, nil
}
func (s *stubTransport) EditText(_ context.Context, _ transport.MessageRef, _ string, _ *transport.Keyboard) error {
	return nil
}
func (s *stubTransport) SendVoice(_ context.Context, _ transport.ChatID, _ string) error { return nil }
func (s *stubTransport) SendFile(_ context.Context, _ transport.ChatID, _ string) error  { return nil }
func (s *stubTransport) DownloadVoice(_ context.Context, _ transport.FileRef) ([]byte, error) {
	return nil, nil
}
func (s *stubTransport) AnswerCallback(_ context.Context, _ transport.CallbackRef, _ string) error {
	return nil
}
