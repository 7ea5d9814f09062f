// Command oraculo is the main entry point for the Oráculo voice journal bot.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/oraculovoz/oraculo/internal/app"
	"github.com/oraculovoz/oraculo/internal/audiocap"
	"github.com/oraculovoz/oraculo/internal/config"
	"github.com/oraculovoz/oraculo/internal/health"
	"github.com/oraculovoz/oraculo/internal/observe"
	"github.com/oraculovoz/oraculo/internal/resilience"
	"github.com/oraculovoz/oraculo/internal/session"
	"github.com/oraculovoz/oraculo/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── CLI flags ────────────────────────────────────────────────────────
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	recoverOnly := flag.Bool("recover-only", false, "run the startup crash-recovery sweep and exit")
	flag.Parse()

	// ── Load configuration ──────────────────────────────────────────────
	cfg, err := config.Load(*configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			fmt.Fprintf(os.Stderr, "oraculo: config file %q not found — copy configs/example.yaml to get started\n", *configPath)
		} else {
			fmt.Fprintf(os.Stderr, "oraculo: %v\n", err)
		}
		return 1
	}

	// ── Logger ───────────────────────────────────────────────────────────
	logger := newLogger(cfg.Server.LogLevel)
	slog.SetDefault(logger)

	slog.Info("oraculo starting",
		"config", *configPath,
		"log_level", cfg.Server.LogLevel,
	)

	if *recoverOnly {
		return recoverOnlyMain(cfg)
	}

	// ── Observability ────────────────────────────────────────────────────
	shutdownObserve, err := observe.InitProvider(context.Background(), observe.ProviderConfig{ServiceVersion: "dev"})
	if err != nil {
		slog.Error("failed to initialise observability providers", "err", err)
		return 1
	}
	defer func() {
		if err := shutdownObserve(context.Background()); err != nil {
			slog.Warn("observability shutdown error", "err", err)
		}
	}()

	// ── Provider registry ────────────────────────────────────────────────
	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	// ── Instantiate providers ────────────────────────────────────────────
	providers, err := buildProviders(cfg, reg)
	if err != nil {
		slog.Error("failed to build providers", "err", err)
		return 1
	}

	// ── Startup summary ──────────────────────────────────────────────────
	printStartupSummary(cfg)

	// ── Application wiring ───────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	application, err := app.New(ctx, cfg, providers)
	if err != nil {
		slog.Error("failed to initialise application", "err", err)
		return 1
	}

	if cfg.Server.ListenAddr != "" {
		go serveHealth(cfg.Server.ListenAddr, application)
	}

	slog.Info("oraculo ready — press Ctrl+C to shut down")

	if err := application.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("run error", "err", err)
		return 1
	}

	// ── Graceful shutdown ────────────────────────────────────────────────
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	slog.Info("shutdown signal received, stopping…")
	if err := application.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
		return 1
	}
	slog.Info("goodbye")
	return 0
}

// recoverOnlyMain runs the startup crash-recovery sweep in isolation and
// exits, for operational use without starting the bot (spec §4.2
// recover_orphans / §4.3 detect_interrupted_sessions).
func recoverOnlyMain(cfg *config.Config) int {
	s, err := store.New(cfg.Paths.SessionsRoot)
	if err != nil {
		slog.Error("recover-only: failed to open store", "err", err)
		return 1
	}
	ids, err := s.List()
	if err != nil {
		slog.Error("recover-only: failed to list sessions", "err", err)
		return 1
	}
	capture := audiocap.New(s)
	for _, id := range ids {
		if n, err := capture.RecoverOrphans(id); err != nil {
			slog.Warn("recover-only: orphan recovery failed", "session_id", id, "err", err)
		} else if n > 0 {
			slog.Info("recover-only: orphan files recovered", "session_id", id, "count", n)
		}
	}
	mgr := session.New(s)
	interrupted, err := mgr.DetectInterruptedSessions()
	if err != nil {
		slog.Error("recover-only: sweep failed", "err", err)
		return 1
	}
	slog.Info("recover-only: sweep complete", "interrupted_sessions", len(interrupted))
	for _, sess := range interrupted {
		slog.Info("recover-only: interrupted session", "session_id", sess.ID, "chat_id", sess.ChatID, "name", sess.IntelligibleName)
	}
	return 0
}

// ── Provider wiring ─────────────────────────────────────────────────────

// builtinProviders maps capability kinds to the implementation names
// Oráculo ships with. Used only for startup logging; registerBuiltinProviders
// registers no factories from it.
var builtinProviders = map[string][]string{
	"transcriber": {"whisper", "openai"},
	"embedder":    {"file", "postgres"},
	"llm":         {"openai", "anyllm"},
	"tts":         {"elevenlabs"},
	"transport":   {"telegram"},
}

// registerBuiltinProviders logs the registered names as a placeholder.
// Real factory functions are added as provider packages are implemented.
func registerBuiltinProviders(reg *config.Registry) {
	for kind, names := range builtinProviders {
		for _, name := range names {
			slog.Debug("registered provider", "kind", kind, "name", name)
		}
	}
	_ = reg // wired when real provider factories land
}

// circuitBreakerConfig builds the per-provider circuit breaker tuning used
// to wrap each external capability (spec §6's "repeated CapabilityFailure
// trips a breaker" note). No fallback backends are configured today — the
// registry only ever builds one provider per kind — so each wrapper holds
// a single-entry [resilience.FallbackGroup] purely for its breaker; a
// second backend becomes a one-line AddFallback call once the registry
// supports naming more than one provider per capability.
func circuitBreakerConfig(name string) resilience.FallbackConfig {
	return resilience.FallbackConfig{
		CircuitBreaker: resilience.CircuitBreakerConfig{Name: name},
	}
}

// buildProviders instantiates all providers named in cfg using the registry
// and returns them in an [app.Providers] struct for the application to
// consume. A provider not yet registered is tolerated and left nil; app.New
// rejects missing providers it requires.
//
// Transcriber, LLM, and TTS providers are wrapped in [resilience]'s
// circuit-breaker fallback groups — repeated failures trip the breaker
// (spec §6) and the caller gets a fast [resilience.ErrCircuitOpen] instead
// of hammering a degraded backend. Embedder and Transport have no
// corresponding fallback type in internal/resilience: embeddings are
// always computed synchronously against a single configured backend (spec
// §4.5 explicitly rejects incremental/alternate-backend recomputation for
// semantic coherence), and Transport is the one connection the whole
// event loop is built on — failing it over mid-session would silently
// orphan in-flight callbacks.
func buildProviders(cfg *config.Config, reg *config.Registry) (*app.Providers, error) {
	ps := &app.Providers{}

	if name := cfg.Transcription.Name; name != "" {
		p, err := reg.CreateTranscriber(cfg.Transcription)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "transcriber", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create transcriber provider %q: %w", name, err)
		} else {
			ps.Transcriber = resilience.NewTranscriberFallback(p, name, circuitBreakerConfig(name))
			slog.Info("provider created", "kind", "transcriber", "name", name, "circuit_breaker", true)
		}
	}

	p, err := reg.CreateEmbedder(cfg.Search)
	if errors.Is(err, config.ErrProviderNotRegistered) {
		slog.Debug("provider not yet implemented — skipping", "kind", "embedder", "name", cfg.Search.Backend)
	} else if err != nil {
		return nil, fmt.Errorf("create embedder provider %q: %w", cfg.Search.Backend, err)
	} else {
		ps.Embedder = p
		slog.Info("provider created", "kind", "embedder", "name", cfg.Search.Backend)
	}

	if name := cfg.Oracle.Name; name != "" {
		p, err := reg.CreateLLM(cfg.Oracle)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "llm", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create llm provider %q: %w", name, err)
		} else {
			ps.LLM = resilience.NewLLMFallback(p, name, circuitBreakerConfig(name))
			slog.Info("provider created", "kind", "llm", "name", name, "circuit_breaker", true)
		}
	}

	if name := cfg.TTS.Name; name != "" {
		p, err := reg.CreateTTS(cfg.TTS)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "tts", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create tts provider %q: %w", name, err)
		} else {
			ps.TTS = resilience.NewTTSFallback(p, name, circuitBreakerConfig(name))
			slog.Info("provider created", "kind", "tts", "name", name, "circuit_breaker", true)
		}
	}

	if name := cfg.Transport.Name; name != "" {
		p, err := reg.CreateTransport(cfg.Transport)
		if errors.Is(err, config.ErrProviderNotRegistered) {
			slog.Debug("provider not yet implemented — skipping", "kind", "transport", "name", name)
		} else if err != nil {
			return nil, fmt.Errorf("create transport provider %q: %w", name, err)
		} else {
			ps.Transport = p
			slog.Info("provider created", "kind", "transport", "name", name)
		}
	}

	return ps, nil
}

// ── Health endpoint ──────────────────────────────────────────────────────

// serveHealth exposes /healthz and /readyz on addr. It runs until the
// process exits; errors are logged, not fatal.
func serveHealth(addr string, application *app.App) {
	h := health.New(health.Checker{
		Name:  "store",
		Check: func(ctx context.Context) error { return application.Healthy(ctx) },
	})
	mux := http.NewServeMux()
	h.Register(mux)
	wrapped := observe.Middleware(observe.DefaultMetrics())(mux)
	slog.Info("health endpoint listening", "addr", addr)
	if err := http.ListenAndServe(addr, wrapped); err != nil {
		slog.Error("health endpoint stopped", "err", err)
	}
}

// ── Startup summary ──────────────────────────────────────────────────────

func printStartupSummary(cfg *config.Config) {
	fmt.Println("╔═══════════════════════════════════════╗")
	fmt.Println("║         Oráculo — startup summary     ║")
	fmt.Println("╠═══════════════════════════════════════╣")
	printProvider("Transport", cfg.Transport.Name, "")
	printProvider("Transcription", cfg.Transcription.Name, cfg.Transcription.ModelID)
	printProvider("Oracle/LLM", cfg.Oracle.Name, "")
	printProvider("TTS", cfg.TTS.Name, cfg.TTS.Voice)
	backend := cfg.Search.Backend
	if backend == "" {
		backend = "file"
	}
	printProvider("Search backend", backend, "")
	fmt.Printf("║  Narrative enabled : %-16t ║\n", cfg.Narrative.Enabled)
	if cfg.Server.ListenAddr != "" {
		fmt.Printf("║  Listen addr       : %-16s ║\n", cfg.Server.ListenAddr)
	}
	fmt.Println("╚═══════════════════════════════════════╝")
}

func printProvider(kind, name, model string) {
	value := name
	if value == "" {
		value = "(not configured)"
	} else if model != "" {
		value = name + " / " + model
	}
	if len(value) > 16 {
		value = value[:13] + "…"
	}
	fmt.Printf("║  %-17s : %-16s ║\n", kind, value)
}

// ── Logger ───────────────────────────────────────────────────────────────

func newLogger(level config.LogLevel) *slog.Logger {
	var lvl slog.Level
	switch level {
	case config.LogDebug:
		lvl = slog.LevelDebug
	case config.LogWarn:
		lvl = slog.LevelWarn
	case config.LogError:
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
