package elevenlabs

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/oraculovoz/oraculo/pkg/provider/tts"
)

// ---- Constructor tests ----

func TestNew_EmptyAPIKey(t *testing.T) {
	_, err := New("")
	if err == nil {
		t.Error("expected error for empty API key")
	}
}

func TestNew_Defaults(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != defaultModel {
		t.Errorf("expected model %q, got %q", defaultModel, p.model)
	}
	if p.outputFormat != defaultOutputFormat {
		t.Errorf("expected outputFormat %q, got %q", defaultOutputFormat, p.outputFormat)
	}
	if p.baseURL != DefaultBaseURL {
		t.Errorf("expected baseURL %q, got %q", DefaultBaseURL, p.baseURL)
	}
}

func TestNew_WithOptions(t *testing.T) {
	p, err := New("key", WithModel("eleven_multilingual_v2"), WithOutputFormat("pcm_24000"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if p.model != "eleven_multilingual_v2" {
		t.Errorf("expected model 'eleven_multilingual_v2', got %q", p.model)
	}
	if p.outputFormat != "pcm_24000" {
		t.Errorf("expected outputFormat 'pcm_24000', got %q", p.outputFormat)
	}
}

// ---- Synthesize ----

func TestSynthesize_MissingVoice(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Synthesize(context.Background(), tts.SynthesisRequest{Text: "hi"})
	if err == nil {
		t.Fatal("expected error for missing voice")
	}
}

func TestSynthesize_MissingText(t *testing.T) {
	p, err := New("key")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = p.Synthesize(context.Background(), tts.SynthesisRequest{Voice: "abc123"})
	if err == nil {
		t.Fatal("expected error for missing text")
	}
}

func TestSynthesize_Success(t *testing.T) {
	wantAudio := []byte{0x01, 0x02, 0x03, 0x04}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method: got %q, want POST", r.Method)
		}
		if r.URL.Path != "/v1/text-to-speech/abc123" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		if r.Header.Get("xi-api-key") != "key" {
			t.Error("missing/incorrect xi-api-key header")
		}
		var body synthesizeBody
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Fatalf("decode body: %v", err)
		}
		if body.Text != "hello there" {
			t.Errorf("text: got %q, want %q", body.Text, "hello there")
		}
		if body.ModelID != defaultModel {
			t.Errorf("model_id: got %q, want %q", body.ModelID, defaultModel)
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		w.Write(wantAudio)
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	res, err := p.Synthesize(context.Background(), tts.SynthesisRequest{
		Voice: "abc123",
		Text:  "hello there",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if string(res.Audio) != string(wantAudio) {
		t.Errorf("audio: got %v, want %v", res.Audio, wantAudio)
	}
	if res.Format != defaultOutputFormat {
		t.Errorf("format: got %q, want %q", res.Format, defaultOutputFormat)
	}
}

func TestSynthesize_RequestFormatOverride(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("output_format"); got != "pcm_16000" {
			t.Errorf("output_format: got %q, want %q", got, "pcm_16000")
		}
		w.Write([]byte{0xAA})
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	res, err := p.Synthesize(context.Background(), tts.SynthesisRequest{
		Voice:  "abc123",
		Text:   "hello",
		Format: "pcm_16000",
	})
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if res.Format != "pcm_16000" {
		t.Errorf("format: got %q, want %q", res.Format, "pcm_16000")
	}
}

func TestSynthesize_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := New("bad-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Synthesize(context.Background(), tts.SynthesisRequest{
		Voice:   "abc123",
		Text:    "hello",
		Timeout: 2 * time.Second,
	})
	if err == nil {
		t.Fatal("expected error for unauthorized response")
	}
}

func TestSynthesize_ContextTimeout(t *testing.T) {
	blockCh := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blockCh
	}))
	defer srv.Close()
	defer close(blockCh)

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	_, err = p.Synthesize(context.Background(), tts.SynthesisRequest{
		Voice:   "abc123",
		Text:    "hello",
		Timeout: 100 * time.Millisecond,
	})
	if err == nil {
		t.Fatal("expected timeout error")
	}
}

// ---- CheckHealth ----

func TestCheckHealth_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/voices" {
			t.Errorf("path: got %q", r.URL.Path)
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"voices":[]}`))
	}))
	defer srv.Close()

	p, err := New("key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.CheckHealth(context.Background()); err != nil {
		t.Errorf("CheckHealth: %v", err)
	}
}

func TestCheckHealth_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	p, err := New("bad-key", WithBaseURL(srv.URL))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := p.CheckHealth(context.Background()); err == nil {
		t.Fatal("expected error for unauthorized response")
	}
}
