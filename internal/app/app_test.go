package app

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oraculovoz/oraculo/internal/config"
	"github.com/oraculovoz/oraculo/internal/store"
	"github.com/oraculovoz/oraculo/pkg/types"
	embeddermock "github.com/oraculovoz/oraculo/pkg/provider/embedder/mock"
	llmmock "github.com/oraculovoz/oraculo/pkg/provider/llm/mock"
	transcriberprovider "github.com/oraculovoz/oraculo/pkg/provider/transcriber"
	transcribermock "github.com/oraculovoz/oraculo/pkg/provider/transcriber/mock"
	transportmock "github.com/oraculovoz/oraculo/pkg/provider/transport/mock"
	ttsmock "github.com/oraculovoz/oraculo/pkg/provider/tts/mock"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		Server:        config.ServerConfig{LogLevel: config.LogInfo},
		Transport:     config.TransportConfig{BotToken: "x", Name: "mock"},
		Paths:         config.PathsConfig{OraclesDir: t.TempDir()},
		Transcription: config.TranscriptionConfig{Name: "mock", QueueCapacity: 4},
		TTS:           config.TTSConfig{Enabled: false, GCRetentionHours: 1, GCMaxStorageMB: 10},
		Search:        config.SearchConfig{MinScore: 0.6, MaxResults: 5},
		UI:            config.UIConfig{MessageByteCap: 4096, OperationTimeout: 0},
		Oracle:        config.OracleConfig{Name: "mock", PlaceholderToken: "{{CONTEXT}}", CacheTTL: 20 * time.Millisecond},
	}
}

func newTestProviders() *Providers {
	return &Providers{
		Transcriber: &transcribermock.Provider{TranscribeResult: transcriberprovider.Result{Text: "hi"}},
		Embedder:    &embeddermock.Provider{EmbedResult: make([]float32, 4), DimensionsValue: 4},
		LLM:         &llmmock.Provider{},
		TTS:         &ttsmock.Provider{},
		Transport:   &transportmock.Provider{},
	}
}

func TestNew_WiresAllSubsystems(t *testing.T) {
	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, testConfig(t), newTestProviders(), WithStore(s))
	require.NoError(t, err)
	require.NotNil(t, a.router)
	require.NotNil(t, a.transcribe)
	require.NotNil(t, a.oracle)
	require.NotNil(t, a.tts)

	require.NoError(t, a.Shutdown(context.Background()))
}

func TestNew_MissingTransportFails(t *testing.T) {
	providers := newTestProviders()
	providers.Transport = nil

	_, err := New(context.Background(), testConfig(t), providers)
	assert.Error(t, err)
}

func TestNew_MissingTranscriberFails(t *testing.T) {
	providers := newTestProviders()
	providers.Transcriber = nil

	_, err := New(context.Background(), testConfig(t), providers)
	assert.Error(t, err)
}

func TestRecoverInterruptedSessions_SendsPrompt(t *testing.T) {
	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	sess := &types.Session{ID: "sess-1", ChatID: 99, State: types.StateCollecting, IntelligibleName: "test session"}
	require.NoError(t, s.Save(sess))

	tp := &transportmock.Provider{}
	providers := newTestProviders()
	providers.Transport = tp

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, testConfig(t), providers, WithStore(s))
	require.NoError(t, err)
	defer a.Shutdown(context.Background())

	require.Len(t, tp.SendTextCalls, 1)
	assert.Equal(t, "99", string(tp.SendTextCalls[0].Chat))
	require.NotNil(t, tp.SendTextCalls[0].Keyboard)
	assert.Equal(t, "recover:resume:sess-1", tp.SendTextCalls[0].Keyboard.Rows[0][0].CallbackData)
	assert.Equal(t, "recover:discard:sess-1", tp.SendTextCalls[0].Keyboard.Rows[0][1].CallbackData)
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	a, err := New(ctx, testConfig(t), newTestProviders(), WithStore(s))
	require.NoError(t, err)
	defer a.Shutdown(context.Background())

	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestShutdown_IsIdempotent(t *testing.T) {
	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	a, err := New(context.Background(), testConfig(t), newTestProviders(), WithStore(s))
	require.NoError(t, err)

	require.NoError(t, a.Shutdown(context.Background()))
	require.NoError(t, a.Shutdown(context.Background()))
}

// TestTranscriptionPipeline_ReachesReadyWithEmbeddings drives a session
// through capture, finalize, transcription, and embedding end to end using
// the mock transcriber/embedder providers, exercising the completion
// callback wired in initTranscription (spec §4.4/§4.5).
func TestTranscriptionPipeline_ReachesReadyWithEmbeddings(t *testing.T) {
	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	providers := newTestProviders()
	providers.Transcriber = &transcribermock.Provider{
		TranscribeResult: transcriberprovider.Result{Text: "remember to water the plants tomorrow"},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := New(ctx, testConfig(t), providers, WithStore(s))
	require.NoError(t, err)
	defer a.Shutdown(context.Background())

	sess, err := a.sessions.CreateSession(42, time.Now())
	require.NoError(t, err)

	_, err = a.capture.AddAudioChunk(ctx, sess.ID, []byte("fake audio bytes"), "ogg", time.Now())
	require.NoError(t, err)

	sess, pending, err := a.sessions.FinalizeSession(sess.ID, time.Now())
	require.NoError(t, err)
	require.Len(t, pending, 1)

	_, err = a.transcribe.QueueSession(sess)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		loaded, err := a.store.Load(sess.ID)
		return err == nil && loaded.State == types.StateReady
	}, 2*time.Second, 10*time.Millisecond, "session did not reach StateReady")

	_, err = os.Stat(a.store.EmbeddingsPath(sess.ID))
	require.NoError(t, err, "embeddings.json should exist once the session is ready")

	final, err := a.store.Load(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.NameSourceTranscript, final.NameSource)
	assert.NotEmpty(t, final.IntelligibleName)
}

func TestHealthy_ReportsStoreReachable(t *testing.T) {
	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	a, err := New(context.Background(), testConfig(t), newTestProviders(), WithStore(s))
	require.NoError(t, err)
	defer a.Shutdown(context.Background())

	assert.NoError(t, a.Healthy(context.Background()))
}
