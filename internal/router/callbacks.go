package router

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/oraculovoz/oraculo/internal/oracle"
	"github.com/oraculovoz/oraculo/internal/presentation"
	"github.com/oraculovoz/oraculo/internal/tts"
	"github.com/oraculovoz/oraculo/pkg/provider/transport"
	"github.com/oraculovoz/oraculo/pkg/types"
)

// namespaceHandler processes one callback's verb/arg pair and returns the
// acknowledgement text shown on the button (success, no-op, or warning —
// spec §4.8: every callback must be acknowledged).
type namespaceHandler func(ctx context.Context, r *Router, cb transport.CallbackRef, verb, arg string) (ackText string, err error)

// namespaces is the closed routing table named in spec §4.8. An
// unrecognized namespace is itself an acknowledged no-op, never a silent
// drop.
var namespaces = map[string]namespaceHandler{
	"action":   handleAction,
	"confirm":  handleConfirm,
	"recover":  handleRecover,
	"page":     handlePage,
	"search":   handleSearchCallback,
	"pref":     handlePref,
	"oracle":   handleOracle,
	"toggle":   handleToggle,
	"retry":    handleRetry,
	"help":     handleHelp,
	"get_file": handleGetFile,
}

// handleCallback parses the opaque token and routes it, always answering
// the callback query afterward.
func (r *Router) handleCallback(ctx context.Context, cb transport.CallbackRef) error {
	namespace, verb, arg := parseToken(cb.Data)
	handler, ok := namespaces[namespace]
	if !ok {
		return r.transport.AnswerCallback(ctx, cb, "Unrecognized action.")
	}

	ackText, err := handler(ctx, r, cb, verb, arg)
	if err != nil {
		slog.Warn("router: callback handler failed", "namespace", namespace, "verb", verb, "error", err)
		entry := presentation.Humanize(classify(err))
		return r.transport.AnswerCallback(ctx, cb, entry.Message)
	}
	return r.transport.AnswerCallback(ctx, cb, ackText)
}

// parseToken splits "<namespace>:<verb>[:<arg>]" per spec §4.8.
func parseToken(token string) (namespace, verb, arg string) {
	parts := strings.SplitN(token, ":", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2]
	case 2:
		return parts[0], parts[1], ""
	default:
		return token, "", ""
	}
}

func handleAction(ctx context.Context, r *Router, cb transport.CallbackRef, verb, arg string) (string, error) {
	switch verb {
	case "create":
		if err := r.createSession(ctx, cb.ChatID); err != nil {
			return "", err
		}
		return "Started.", nil
	case "finalize":
		if err := r.finalizeActive(ctx, cb.ChatID); err != nil {
			return "", err
		}
		return "Finalized.", nil
	default:
		return "No action taken.", nil
	}
}

func handleConfirm(ctx context.Context, r *Router, cb transport.CallbackRef, verb, arg string) (string, error) {
	chatID, ok := parseChatID(cb.ChatID)
	if !ok {
		return "", fmt.Errorf("router: malformed chat id %q", cb.ChatID)
	}
	switch verb {
	case "finalize":
		if _, err := r.sessions.ResolveConflictFinalize(chatID, time.Now()); err != nil {
			return "", err
		}
		return "Previous session finalized; new one started.", nil
	case "discard":
		if _, err := r.sessions.ResolveConflictDiscard(chatID, time.Now()); err != nil {
			return "", err
		}
		return "Previous session discarded; new one started.", nil
	case "cancel":
		return "Returning to your current session.", nil
	default:
		return "No option selected.", nil
	}
}

func handleRecover(ctx context.Context, r *Router, cb transport.CallbackRef, verb, arg string) (string, error) {
	switch verb {
	case "resume":
		if _, err := r.sessions.ReopenSession(arg); err != nil {
			return "", err
		}
		return "Session resumed.", nil
	case "discard":
		if err := r.store.Delete(arg); err != nil {
			return "", err
		}
		return "Session discarded.", nil
	default:
		return "No option selected.", nil
	}
}

// handlePage re-renders the chat's stored paginated result set in place:
// verb is the direction ("next"/"prev") and arg carries the page index the
// button was rendered at, so a stale button still moves relative to where
// the user actually was.
func handlePage(ctx context.Context, r *Router, cb transport.CallbackRef, verb, arg string) (string, error) {
	pages, ok := r.pagesFor(cb.ChatID)
	if !ok || len(pages) == 0 {
		return "No paginated results to page through.", nil
	}
	current, err := strconv.Atoi(arg)
	if err != nil {
		current = 0
	}
	target := current
	switch verb {
	case "next":
		target++
	case "prev":
		target--
	}
	if target < 0 {
		target = 0
	}
	if target > len(pages)-1 {
		target = len(pages) - 1
	}

	ref := transport.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}
	if err := r.transport.EditText(ctx, ref, pages[target].Text, pageKeyboard(target, len(pages))); err != nil {
		return "", err
	}
	return "Page updated.", nil
}

// pageKeyboard builds the prev/next row for a paginated result set,
// omitting whichever side doesn't apply at index. Returns nil for a
// single-page result.
func pageKeyboard(index, total int) *transport.Keyboard {
	if total <= 1 {
		return nil
	}
	var row []transport.KeyboardButton
	if index > 0 {
		row = append(row, transport.KeyboardButton{Text: "« Prev", CallbackData: fmt.Sprintf("page:prev:%d", index)})
	}
	if index < total-1 {
		row = append(row, transport.KeyboardButton{Text: "Next »", CallbackData: fmt.Sprintf("page:next:%d", index)})
	}
	if len(row) == 0 {
		return nil
	}
	return &transport.Keyboard{Rows: [][]transport.KeyboardButton{row}}
}

func handleSearchCallback(ctx context.Context, r *Router, cb transport.CallbackRef, verb, arg string) (string, error) {
	if verb == "again" {
		r.setIntent(ctx, cb.ChatID, awaitingSearchQuery)
		return "Send your next search.", nil
	}
	return "No-op.", nil
}

func handlePref(ctx context.Context, r *Router, cb transport.CallbackRef, verb, arg string) (string, error) {
	id, ok := r.activeSessionID(cb.ChatID)
	if !ok {
		return "No open session.", nil
	}
	sess, err := r.store.Load(id)
	if err != nil {
		return "", err
	}
	switch verb {
	case "simplified_ui":
		sess.UIPreferences.SimplifiedUI = arg == "on"
	case "include_history":
		sess.UIPreferences.IncludeLLMHistory = arg == "on"
	default:
		return "Unknown preference.", nil
	}
	if err := r.store.Save(sess); err != nil {
		return "", err
	}
	return "Preference updated.", nil
}

// handleOracle dispatches the Oracle against the chat's most recently
// created READY session using the persona named by verb (the token is
// "oracle:<persona_id>"). On success the response is sent to the chat and
// voice-note synthesis is scheduled; the TTS pipeline's enabled flag is the
// only gate, and there is no per-session opt-out.
func handleOracle(ctx context.Context, r *Router, cb transport.CallbackRef, verb, arg string) (string, error) {
	chatID, _ := parseChatID(cb.ChatID)
	ids, err := r.store.List()
	if err != nil {
		return "", err
	}
	var sess *types.Session
	for _, id := range ids {
		if s, err := r.store.Load(id); err == nil && s.ChatID == chatID && s.State == types.StateReady && (sess == nil || s.CreatedAt.After(sess.CreatedAt)) {
			sess = s
		}
	}
	if sess == nil {
		return "No ready session.", nil
	}
	resp, err := r.oracle.Dispatch(ctx, sess, verb)
	if err != nil {
		return "", err
	}
	if _, err := r.transport.SendText(ctx, cb.ChatID, resp.Text, nil); err != nil {
		return "", err
	}
	r.synthesizeReply(sess.ID, resp, cb.ChatID)
	return "Oracle consulted.", nil
}

// synthesizeReply schedules TTS synthesis for an oracle response as a
// fire-and-forget task (spec §4.7: "the TTS path must never block or delay
// text delivery", which has already completed by the time this is called).
// The pipeline itself is the single source of truth for whether synthesis
// is enabled — a disabled pipeline returns a diagnostic result rather than
// an error, so no separate enablement check is needed here.
func (r *Router) synthesizeReply(sessionID string, resp oracle.Response, chat transport.ChatID) {
	sequence := sequenceFromFilename(resp.Filename)
	go func() {
		result := r.tts.Synthesize(context.Background(), sessionID, resp.PersonaID, sequence, resp.Text)
		if result.Err != "" {
			if result.Err != tts.ErrDisabled.Error() {
				slog.Warn("router: tts synthesis failed", "session_id", sessionID, "persona_id", resp.PersonaID, "error", result.Err)
			}
			return
		}
		if err := r.transport.SendVoice(context.Background(), chat, result.Path); err != nil {
			slog.Warn("router: failed to send tts voice note", "session_id", sessionID, "error", err)
		}
	}()
}

// sequenceFromFilename extracts the leading sequence number from an oracle
// response filename ("<seq>_<persona>.txt"), matching the TTS artifact's
// own sequence-keyed naming.
func sequenceFromFilename(filename string) int {
	idx := strings.Index(filename, "_")
	if idx < 0 {
		return 0
	}
	n, err := strconv.Atoi(filename[:idx])
	if err != nil {
		return 0
	}
	return n
}

func handleToggle(ctx context.Context, r *Router, cb transport.CallbackRef, verb, arg string) (string, error) {
	id, ok := r.activeSessionID(cb.ChatID)
	if !ok {
		return "No open session.", nil
	}
	sess, err := r.store.Load(id)
	if err != nil {
		return "", err
	}
	switch verb {
	case "simplified_ui":
		sess.UIPreferences.SimplifiedUI = !sess.UIPreferences.SimplifiedUI
	case "include_history":
		sess.UIPreferences.IncludeLLMHistory = !sess.UIPreferences.IncludeLLMHistory
	default:
		return "Nothing to toggle.", nil
	}
	if err := r.store.Save(sess); err != nil {
		return "", err
	}
	return "Toggled.", nil
}

func handleRetry(ctx context.Context, r *Router, cb transport.CallbackRef, verb, arg string) (string, error) {
	id, ok := r.activeSessionID(cb.ChatID)
	if !ok {
		id = arg
	}
	if id == "" {
		return "Nothing to retry.", nil
	}
	sess, err := r.store.Load(id)
	if err != nil {
		return "", err
	}
	n, err := r.transcribe.RetryFailed(sess)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Retrying %d segment(s).", n), nil
}

func handleHelp(ctx context.Context, r *Router, cb transport.CallbackRef, verb, arg string) (string, error) {
	_, err := r.transport.SendText(ctx, cb.ChatID, helpText, nil)
	return "Sent.", err
}

func handleGetFile(ctx context.Context, r *Router, cb transport.CallbackRef, verb, arg string) (string, error) {
	id, ok := r.activeSessionID(cb.ChatID)
	if !ok {
		id = arg
	}
	switch verb {
	case "transcript":
		path := r.store.TranscriptsDir(id)
		if err := r.transport.SendFile(ctx, cb.ChatID, path); err != nil {
			return "", err
		}
		return "Sent.", nil
	case "audio":
		path := r.store.AudioDir(id)
		if err := r.transport.SendFile(ctx, cb.ChatID, path); err != nil {
			return "", err
		}
		return "Sent.", nil
	default:
		return "Unknown file request.", nil
	}
}
