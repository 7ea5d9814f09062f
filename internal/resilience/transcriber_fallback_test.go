package resilience

import (
	"context"
	"errors"
	"testing"

	"github.com/oraculovoz/oraculo/pkg/provider/transcriber"
	transcribermock "github.com/oraculovoz/oraculo/pkg/provider/transcriber/mock"
)

func TestTranscriberFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &transcribermock.Provider{TranscribeResult: transcriber.Result{Text: "from primary"}}
	secondary := &transcribermock.Provider{TranscribeResult: transcriber.Result{Text: "from secondary"}}

	fb := NewTranscriberFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	res, err := fb.Transcribe(context.Background(), "/tmp/a.ogg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "from primary" {
		t.Fatalf("text = %q, want 'from primary'", res.Text)
	}
	if len(secondary.TranscribeCalls) != 0 {
		t.Fatalf("secondary called %d times, want 0", len(secondary.TranscribeCalls))
	}
}

func TestTranscriberFallback_Transcribe_Failover(t *testing.T) {
	primary := &transcribermock.Provider{TranscribeErr: errors.New("primary down")}
	secondary := &transcribermock.Provider{TranscribeResult: transcriber.Result{Text: "from secondary"}}

	fb := NewTranscriberFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	res, err := fb.Transcribe(context.Background(), "/tmp/a.ogg")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Text != "from secondary" {
		t.Fatalf("text = %q, want 'from secondary'", res.Text)
	}
}

func TestTranscriberFallback_Transcribe_AllFail(t *testing.T) {
	primary := &transcribermock.Provider{TranscribeErr: errors.New("primary down")}
	secondary := &transcribermock.Provider{TranscribeErr: errors.New("secondary down")}

	fb := NewTranscriberFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), "/tmp/a.ogg")
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestTranscriberFallback_LoadUnload(t *testing.T) {
	primary := &transcribermock.Provider{}
	secondary := &transcribermock.Provider{}

	fb := NewTranscriberFallback(primary, "primary", FallbackConfig{})
	fb.AddFallback("secondary", secondary)

	if err := fb.Load(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.LoadCallCount != 1 || secondary.LoadCallCount != 1 {
		t.Fatalf("load counts = %d, %d, want 1, 1", primary.LoadCallCount, secondary.LoadCallCount)
	}
	if !fb.IsReady() {
		t.Fatal("expected primary to report ready after Load")
	}

	if err := fb.Unload(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if primary.UnloadCallCount != 1 || secondary.UnloadCallCount != 1 {
		t.Fatalf("unload counts = %d, %d, want 1, 1", primary.UnloadCallCount, secondary.UnloadCallCount)
	}
}
