// Package app wires every Oráculo subsystem into a running application.
//
// The App struct owns the full lifecycle: New creates and connects all
// subsystems, Run executes the transport event loop, and Shutdown tears
// everything down in order.
//
// For testing, inject components via functional options (WithStore,
// WithTransport, etc.). When an option is not provided, New creates a real
// implementation from the config.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oraculovoz/oraculo/internal/audiocap"
	"github.com/oraculovoz/oraculo/internal/config"
	"github.com/oraculovoz/oraculo/internal/embed"
	"github.com/oraculovoz/oraculo/internal/narrative"
	"github.com/oraculovoz/oraculo/internal/oracle"
	"github.com/oraculovoz/oraculo/internal/router"
	"github.com/oraculovoz/oraculo/internal/session"
	"github.com/oraculovoz/oraculo/internal/store"
	"github.com/oraculovoz/oraculo/internal/transcribe"
	"github.com/oraculovoz/oraculo/internal/tts"
	"github.com/oraculovoz/oraculo/pkg/provider/embedder"
	"github.com/oraculovoz/oraculo/pkg/provider/llm"
	"github.com/oraculovoz/oraculo/pkg/provider/transcriber"
	"github.com/oraculovoz/oraculo/pkg/provider/transport"
	ttsprovider "github.com/oraculovoz/oraculo/pkg/provider/tts"
	"github.com/oraculovoz/oraculo/pkg/types"
)

// nameDerivationMaxTokens bounds the automatic name-derivation pass to a
// small number of meaningful tokens (spec §4.4).
const nameDerivationMaxTokens = 6

// Providers holds one capability implementation per kind named in spec §6.
// Nil fields that are required by the configured pipeline cause [New] to
// fail. Populated by cmd/oraculo via the config [config.Registry].
type Providers struct {
	Transcriber transcriber.Provider
	Embedder    embedder.Provider
	LLM         llm.Provider
	TTS         ttsprovider.Provider
	Transport   transport.Provider
}

// App owns all subsystem lifetimes and orchestrates the Oráculo pipeline.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store      *store.Store
	sessions   *session.Manager
	capture    *audiocap.Capture
	transcribe *transcribe.Worker
	index      *embed.Index
	personas   *oracle.PersonaRegistry
	oracle     *oracle.Dispatcher
	tts        *tts.Pipeline
	narrative  *narrative.Adapter
	router     *router.Router
	transport  transport.Provider

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup

	// closers are called in order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithStore injects a session store instead of creating one from config.
func WithStore(s *store.Store) Option {
	return func(a *App) { a.store = s }
}

// WithTransport injects a chat transport instead of creating one from
// providers.Transport.
func WithTransport(tp transport.Provider) Option {
	return func(a *App) { a.transport = tp }
}

// ─── New ────────────────────────────────────────────────────────────────

// New wires C1–C10 in the startup order named by spec §4.10: (2) construct
// the session store and scan for interrupted sessions, (3) start the
// transcription worker, (4) start the TTS GC loop, (5) start the oracle
// cache refresher, (6)/(7) are completed by [App.Run]. Step (1), loading
// config, is the caller's responsibility — cfg arrives already loaded and
// validated.
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	a := &App{cfg: cfg, providers: providers}
	for _, o := range opts {
		o(a)
	}

	if a.transport == nil {
		a.transport = providers.Transport
	}
	if a.transport == nil {
		return nil, fmt.Errorf("app: no transport provider configured")
	}

	if err := a.initStore(cfg); err != nil {
		return nil, fmt.Errorf("app: init store: %w", err)
	}

	a.sessions = session.New(a.store)
	a.capture = audiocap.New(a.store)

	if err := a.recoverInterruptedSessions(ctx); err != nil {
		return nil, fmt.Errorf("app: recover interrupted sessions: %w", err)
	}

	if err := a.initTranscription(ctx, cfg, providers); err != nil {
		return nil, fmt.Errorf("app: init transcription: %w", err)
	}

	if err := a.initEmbedding(cfg, providers); err != nil {
		return nil, fmt.Errorf("app: init embedding: %w", err)
	}

	if err := a.initOracle(ctx, cfg, providers); err != nil {
		return nil, fmt.Errorf("app: init oracle: %w", err)
	}

	a.initTTS(cfg, providers)

	if cfg.Narrative.Enabled {
		a.narrative = narrative.New(cfg.Narrative.Command, cfg.Narrative.Args...)
	}

	a.router = router.New(a.store, a.sessions, a.capture, a.transcribe, a.index, a.oracle, a.tts, a.narrative, a.transport, cfg.UI.OperationTimeout)
	a.transcribe.SetProgressFunc(a.router.OnTranscriptionProgress)

	return a, nil
}

func (a *App) initStore(cfg *config.Config) error {
	if a.store != nil {
		return nil
	}
	s, err := store.New(cfg.Paths.SessionsRoot)
	if err != nil {
		return err
	}
	a.store = s
	return nil
}

// recoverInterruptedSessions implements spec §4.10 step 2: reconcile
// orphaned audio files of every stored session, then scan for sessions
// left in a non-terminal state by a prior crash and push an explicit
// recovery prompt to each affected chat.
func (a *App) recoverInterruptedSessions(ctx context.Context) error {
	ids, err := a.store.List()
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := a.capture.RecoverOrphans(id); err != nil {
			slog.Warn("app: orphan recovery failed", "session_id", id, "err", err)
		}
	}
	interrupted, err := a.sessions.DetectInterruptedSessions()
	if err != nil {
		return err
	}
	for _, sess := range interrupted {
		chat := transport.ChatID(fmt.Sprintf("%d", sess.ChatID))
		text := fmt.Sprintf("Session %q was interrupted. Resume it or discard it?", sess.IntelligibleName)
		kb := &transport.Keyboard{Rows: [][]transport.KeyboardButton{{
			{Text: "Resume", CallbackData: "recover:resume:" + sess.ID},
			{Text: "Discard", CallbackData: "recover:discard:" + sess.ID},
		}}}
		if _, err := a.transport.SendText(ctx, chat, text, kb); err != nil {
			slog.Warn("app: failed to send recovery prompt", "session_id", sess.ID, "err", err)
		}
	}
	return nil
}

func (a *App) initTranscription(ctx context.Context, cfg *config.Config, providers *Providers) error {
	if providers.Transcriber == nil {
		return fmt.Errorf("no transcriber provider configured")
	}
	opts := []transcribe.Option{transcribe.WithCompletionFunc(a.onTranscriptionComplete)}
	if cfg.Transcription.Timeout > 0 {
		opts = append(opts, transcribe.WithTimeout(cfg.Transcription.Timeout))
	}
	if cfg.UI.ProgressInterval > 0 {
		opts = append(opts, transcribe.WithProgressInterval(cfg.UI.ProgressInterval))
	}
	a.transcribe = transcribe.New(a.store, providers.Transcriber, cfg.Transcription.QueueCapacity, opts...)
	a.transcribe.StartWorker(ctx)
	a.closers = append(a.closers, func() error {
		return a.transcribe.Drain(context.Background())
	})
	return nil
}

// onTranscriptionComplete implements spec §4.4's completion policy: it
// advances the session past TRANSCRIBED, attempts automatic name
// derivation from the first successful segment, and drives the embedding
// indexer so the session can reach READY. a.router is not yet assigned
// when this closure is registered (New assigns it after initTranscription
// runs), but it is only ever invoked later, once a real transcription run
// settles — by then New has already returned and a.router is set.
func (a *App) onTranscriptionComplete(ctx context.Context, sessionID string, anySucceeded bool) {
	sess, err := a.sessions.TranscriptionDone(sessionID, anySucceeded)
	if err != nil {
		slog.Error("app: transcription completion transition failed", "session_id", sessionID, "error", err)
		return
	}
	if !anySucceeded {
		a.notifyChat(sess.ChatID, fmt.Sprintf("Session %q failed to transcribe — every segment errored.", sess.IntelligibleName))
		return
	}

	a.deriveSessionName(sess)

	if err := a.index.IndexSession(ctx, sess); err != nil {
		slog.Error("app: embedding index failed", "session_id", sessionID, "error", err)
		a.notifyChat(sess.ChatID, fmt.Sprintf("Session %q transcribed, but indexing failed — search won't find it until a retry succeeds.", sess.IntelligibleName))
		return
	}
	ready, err := a.sessions.EmbeddingDone(sessionID)
	if err != nil {
		slog.Error("app: embedding-done transition failed", "session_id", sessionID, "error", err)
		return
	}
	a.notifyChat(ready.ChatID, fmt.Sprintf("Session %q is ready — ask the Oracle or search its contents.", ready.IntelligibleName))
}

// deriveSessionName implements spec §4.4's "first successful segment of
// sequence == 1" automatic naming pass. UpdateSessionName is idempotent
// once a name has already been derived or set by the user, so it's safe
// to call unconditionally whenever segment 1 transcribed successfully.
func (a *App) deriveSessionName(sess *types.Session) {
	for _, seg := range sess.AudioEntries {
		if seg.Sequence != 1 {
			continue
		}
		if seg.TranscriptionStatus != types.TranscriptionSuccess || seg.TranscriptFilename == "" {
			return
		}
		data, err := os.ReadFile(filepath.Join(a.store.TranscriptsDir(sess.ID), seg.TranscriptFilename))
		if err != nil {
			slog.Warn("app: failed to read transcript for name derivation", "session_id", sess.ID, "error", err)
			return
		}
		name := session.DeriveName(string(data), nameDerivationMaxTokens)
		if name == "" {
			return
		}
		if _, err := a.sessions.UpdateSessionName(sess.ID, name); err != nil {
			slog.Warn("app: name derivation update failed", "session_id", sess.ID, "error", err)
		}
		return
	}
}

// notifyChat sends a best-effort text message to chatID's chat, logging
// rather than propagating a transport failure — these are background
// notifications, not request/response turns.
func (a *App) notifyChat(chatID int64, text string) {
	chat := transport.ChatID(fmt.Sprintf("%d", chatID))
	if _, err := a.transport.SendText(context.Background(), chat, text, nil); err != nil {
		slog.Warn("app: failed to send chat notification", "chat_id", chatID, "error", err)
	}
}

func (a *App) initEmbedding(cfg *config.Config, providers *Providers) error {
	if providers.Embedder == nil {
		return fmt.Errorf("no embedder provider configured")
	}
	a.index = embed.New(a.store, providers.Embedder)
	return nil
}

func (a *App) initOracle(ctx context.Context, cfg *config.Config, providers *Providers) error {
	if providers.LLM == nil {
		return fmt.Errorf("no llm provider configured")
	}
	a.personas = oracle.NewPersonaRegistry(cfg.Paths.OraclesDir, cfg.Oracle.CacheTTL)
	var opts []oracle.Option
	if cfg.Oracle.LLMTimeout > 0 {
		opts = append(opts, oracle.WithTimeout(cfg.Oracle.LLMTimeout))
	}
	if cfg.Oracle.PlaceholderToken != "" {
		opts = append(opts, oracle.WithPlaceholderToken(cfg.Oracle.PlaceholderToken))
	}
	a.oracle = oracle.New(a.store, providers.LLM, a.personas, opts...)

	bgCtx, cancel := context.WithCancel(ctx)
	a.bgCancel = cancel
	a.bgWG.Add(1)
	go a.runOracleRefresher(bgCtx, cfg.Oracle.CacheTTL)
	return nil
}

// runOracleRefresher implements spec §4.10 step 5: periodically re-scan the
// persona directory so new templates become visible without a restart.
func (a *App) runOracleRefresher(ctx context.Context, interval time.Duration) {
	defer a.bgWG.Done()
	if interval <= 0 {
		interval = 10 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := a.personas.List(ctx); err != nil {
				slog.Warn("app: persona refresh failed", "err", err)
			}
		}
	}
}

func (a *App) initTTS(cfg *config.Config, providers *Providers) {
	var opts []tts.Option
	if cfg.TTS.Voice != "" {
		opts = append(opts, tts.WithVoice(cfg.TTS.Voice))
	}
	if cfg.TTS.Format != "" {
		opts = append(opts, tts.WithFormat(cfg.TTS.Format))
	}
	if cfg.TTS.Timeout > 0 {
		opts = append(opts, tts.WithTimeout(cfg.TTS.Timeout))
	}
	if cfg.TTS.MaxTextLength > 0 {
		opts = append(opts, tts.WithMaxTextLength(cfg.TTS.MaxTextLength))
	}
	a.tts = tts.New(a.store, providers.TTS, cfg.TTS.Enabled, opts...)
	if !cfg.TTS.Enabled {
		return
	}
	retention := time.Duration(cfg.TTS.GCRetentionHours) * time.Hour
	maxBytes := int64(cfg.TTS.GCMaxStorageMB) * 1024 * 1024

	bgCtx, cancel := context.WithCancel(context.Background())
	if a.bgCancel == nil {
		a.bgCancel = cancel
	} else {
		prev := a.bgCancel
		a.bgCancel = func() { prev(); cancel() }
	}
	a.bgWG.Add(1)
	go a.runTTSGC(bgCtx, retention, maxBytes)
}

// runTTSGC implements spec §4.10 step 4 and §4.7's garbage collection sweep.
func (a *App) runTTSGC(ctx context.Context, retention time.Duration, maxBytes int64) {
	defer a.bgWG.Done()
	ticker := time.NewTicker(retention / 4)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, freed, err := a.tts.GC(retention, maxBytes)
			if err != nil {
				slog.Warn("app: tts gc failed", "err", err)
				continue
			}
			if removed > 0 {
				slog.Info("app: tts gc swept artifacts", "removed", removed, "freed_bytes", freed)
			}
		}
	}
}

// ─── Run ────────────────────────────────────────────────────────────────

// Run registers the router as the transport's event handler and blocks
// until ctx is cancelled or the transport fails irrecoverably (spec §4.10
// steps 6–7).
func (a *App) Run(ctx context.Context) error {
	slog.Info("app: running")
	err := a.transport.Listen(ctx, a.router.Handle)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// Healthy reports whether the session store is still reachable. It backs
// the /readyz store checker registered by cmd/oraculo.
func (a *App) Healthy(ctx context.Context) error {
	_, err := a.store.List()
	return err
}

// ─── Shutdown ───────────────────────────────────────────────────────────

// Shutdown stops background loops, drains the in-flight transcription item
// with a bounded grace period, and runs the remaining closers in order. It
// respects ctx's deadline: if it expires before all closers finish,
// remaining closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("app: shutting down", "closers", len(a.closers))

		if a.bgCancel != nil {
			a.bgCancel()
		}
		a.bgWG.Wait()

		for i, closer := range a.closers {
			select {
			case <-ctx.Done():
				slog.Warn("app: shutdown deadline exceeded", "remaining", len(a.closers)-i)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := closer(); err != nil {
				slog.Warn("app: closer error", "index", i, "err", err)
			}
		}

		slog.Info("app: shutdown complete")
	})
	return shutdownErr
}
