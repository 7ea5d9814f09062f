// Package router implements the UI / Callback Router (spec §4.8): it
// consumes the typed transport.Event feed, parses callback tokens, tracks
// per-chat conversational intent, and dispatches into the Session Manager,
// Audio Capture, Transcription Queue, Embedding Indexer, Oracle Dispatch,
// and TTS Pipeline.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/oraculovoz/oraculo/internal/audiocap"
	"github.com/oraculovoz/oraculo/internal/embed"
	"github.com/oraculovoz/oraculo/internal/narrative"
	"github.com/oraculovoz/oraculo/internal/oracle"
	"github.com/oraculovoz/oraculo/internal/presentation"
	"github.com/oraculovoz/oraculo/internal/session"
	"github.com/oraculovoz/oraculo/internal/store"
	"github.com/oraculovoz/oraculo/internal/transcribe"
	"github.com/oraculovoz/oraculo/internal/tts"
	"github.com/oraculovoz/oraculo/pkg/provider/transport"
	"github.com/oraculovoz/oraculo/pkg/types"
)

// intentKind names the pending conversational states a chat can be in.
// Only one is named today (spec §4.8's example), but the type keeps room
// for more without widening the Router's public surface.
type intentKind string

const awaitingSearchQuery intentKind = "awaiting_search_query"

// intent is the one pending conversational state a chat may hold.
type intent struct {
	kind   intentKind
	cancel context.CancelFunc
}

// Router wires the typed transport event feed into the core components
// named in spec §4.8.
type Router struct {
	store      *store.Store
	sessions   *session.Manager
	capture    *audiocap.Capture
	transcribe *transcribe.Worker
	index      *embed.Index
	oracle     *oracle.Dispatcher
	tts        *tts.Pipeline
	narrative  *narrative.Adapter
	transport  transport.Provider

	throttle      *presentation.Throttle
	intentTimeout time.Duration

	intentsMu sync.Mutex
	intents   map[transport.ChatID]*intent

	pagesMu sync.Mutex
	pages   map[transport.ChatID][]presentation.Page

	progressMu sync.Mutex
	progress   map[string]transport.MessageRef // session id -> pinned progress message
}

// New constructs a Router. intentTimeout defaults to 60s if <= 0.
func New(
	s *store.Store,
	sessions *session.Manager,
	capture *audiocap.Capture,
	transcribeWorker *transcribe.Worker,
	index *embed.Index,
	dispatcher *oracle.Dispatcher,
	ttsPipeline *tts.Pipeline,
	narrativeAdapter *narrative.Adapter,
	tp transport.Provider,
	intentTimeout time.Duration,
) *Router {
	if intentTimeout <= 0 {
		intentTimeout = 60 * time.Second
	}
	return &Router{
		store:         s,
		sessions:      sessions,
		capture:       capture,
		transcribe:    transcribeWorker,
		index:         index,
		oracle:        dispatcher,
		tts:           ttsPipeline,
		narrative:     narrativeAdapter,
		transport:     tp,
		throttle:      presentation.NewThrottle(5 * time.Second),
		intentTimeout: intentTimeout,
		intents:       make(map[transport.ChatID]*intent),
		pages:         make(map[transport.ChatID][]presentation.Page),
		progress:      make(map[string]transport.MessageRef),
	}
}

// setPages stores chat's current paginated result set, replacing any
// previous one — at most one pending paginated result per chat, mirroring
// the single-pending-intent rule.
func (r *Router) setPages(chat transport.ChatID, pages []presentation.Page) {
	r.pagesMu.Lock()
	defer r.pagesMu.Unlock()
	r.pages[chat] = pages
}

// pagesFor returns chat's stored paginated result set, if any.
func (r *Router) pagesFor(chat transport.ChatID) ([]presentation.Page, bool) {
	r.pagesMu.Lock()
	defer r.pagesMu.Unlock()
	pages, ok := r.pages[chat]
	return pages, ok
}

// Handle is the transport.Handler registered with Listen; it dispatches to
// the right event-type handler and never lets a handler's error escape to
// the caller — failures are rendered back to the chat instead.
func (r *Router) Handle(ctx context.Context, ev transport.Event) {
	var err error
	switch ev.Type {
	case transport.EventCallback:
		err = r.handleCallback(ctx, ev.Callback)
	case transport.EventCommand:
		err = r.handleCommand(ctx, ev)
	case transport.EventVoice:
		err = r.handleVoice(ctx, ev)
	case transport.EventText:
		err = r.handleText(ctx, ev)
	}
	if err != nil {
		slog.Warn("router: event handling failed", "type", ev.Type, "chat_id", ev.ChatID, "error", err)
		r.sendError(ctx, ev.ChatID, err)
	}
}

// sendError humanizes err and sends it to chat. The error catalog code is
// inferred from err's concrete type where recognized, falling back to
// ErrInternal (spec §4.9).
func (r *Router) sendError(ctx context.Context, chat transport.ChatID, err error) {
	code := classify(err)
	text, recovery := presentation.RenderError(code, r.prefsFor(chat))
	_, _ = r.transport.SendText(ctx, chat, text, recoveryKeyboard(recovery))
}

// prefsFor loads the active session's UI preferences for chat, falling
// back to decorated defaults when no active session exists.
func (r *Router) prefsFor(chat transport.ChatID) types.UIPreferences {
	id, ok := r.activeSessionID(chat)
	if !ok {
		return types.UIPreferences{}
	}
	sess, err := r.store.Load(id)
	if err != nil {
		return types.UIPreferences{}
	}
	return sess.UIPreferences
}

// activeSessionID resolves a transport chat id to the session manager's
// int64 chat identifier and looks up its active COLLECTING session.
func (r *Router) activeSessionID(chat transport.ChatID) (string, bool) {
	chatID, ok := parseChatID(chat)
	if !ok {
		return "", false
	}
	return r.sessions.ActiveSession(chatID)
}

// setIntent installs a single pending conversational intent for chat,
// cancelling and replacing any previous one (spec §4.8: "at most one
// pending intent"). The intent auto-expires after r.intentTimeout with an
// explicit cancellation message.
func (r *Router) setIntent(ctx context.Context, chat transport.ChatID, kind intentKind) {
	r.intentsMu.Lock()
	if existing, ok := r.intents[chat]; ok {
		existing.cancel()
	}
	timerCtx, cancel := context.WithCancel(context.Background())
	r.intents[chat] = &intent{kind: kind, cancel: cancel}
	r.intentsMu.Unlock()

	go func() {
		select {
		case <-time.After(r.intentTimeout):
			r.clearIntentIfCurrent(chat, kind)
			_, _ = r.transport.SendText(ctx, chat, "Search request timed out — send a new one whenever you're ready.", nil)
		case <-timerCtx.Done():
		}
	}()
}

// clearIntentIfCurrent removes chat's pending intent only if it is still
// the one kind expects, avoiding a race where a fresher intent was
// already installed.
func (r *Router) clearIntentIfCurrent(chat transport.ChatID, kind intentKind) {
	r.intentsMu.Lock()
	defer r.intentsMu.Unlock()
	if cur, ok := r.intents[chat]; ok && cur.kind == kind {
		delete(r.intents, chat)
	}
}

// takeIntent pops chat's pending intent, if any, cancelling its timer.
func (r *Router) takeIntent(chat transport.ChatID) (intentKind, bool) {
	r.intentsMu.Lock()
	defer r.intentsMu.Unlock()
	cur, ok := r.intents[chat]
	if !ok {
		return "", false
	}
	cur.cancel()
	delete(r.intents, chat)
	return cur.kind, true
}

// recoveryKeyboard turns catalog recovery-action tokens into a single-row
// inline keyboard, or nil when there are none.
func recoveryKeyboard(tokens []string) *transport.Keyboard {
	if len(tokens) == 0 {
		return nil
	}
	row := make([]transport.KeyboardButton, 0, len(tokens))
	for _, tok := range tokens {
		row = append(row, transport.KeyboardButton{Text: labelFor(tok), CallbackData: tok})
	}
	return &transport.Keyboard{Rows: [][]transport.KeyboardButton{row}}
}

// labelFor derives a human button label from a callback token's verb.
func labelFor(token string) string {
	parts := strings.SplitN(token, ":", 3)
	if len(parts) < 2 {
		return token
	}
	return strings.ReplaceAll(parts[1], "_", " ")
}

// classify maps a known error type to a presentation.ErrorCode.
func classify(err error) presentation.ErrorCode {
	switch err.(type) {
	case *session.ConflictError:
		return presentation.ErrValidation
	case *session.IllegalStateTransitionError:
		return presentation.ErrValidation
	}
	if err == audiocap.ErrWrongState {
		return presentation.ErrValidation
	}
	return presentation.ErrInternal
}

// parseChatID converts a transport.ChatID into the int64 identifier the
// session manager keys its registry by. Transport implementations are
// expected to hand out numeric chat ids as decimal strings.
func parseChatID(chat transport.ChatID) (int64, bool) {
	var id int64
	_, err := fmt.Sscanf(string(chat), "%d", &id)
	return id, err == nil
}
