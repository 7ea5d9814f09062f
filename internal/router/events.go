package router

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/oraculovoz/oraculo/internal/audiocap"
	"github.com/oraculovoz/oraculo/internal/narrative"
	"github.com/oraculovoz/oraculo/internal/presentation"
	"github.com/oraculovoz/oraculo/internal/session"
	"github.com/oraculovoz/oraculo/pkg/provider/transport"
	"github.com/oraculovoz/oraculo/pkg/types"
)

// handleCommand implements the /start /finalize /reopen /search /narrate
// /help slash-command surface, each a thin wrapper over the corresponding
// core operation.
func (r *Router) handleCommand(ctx context.Context, ev transport.Event) error {
	switch strings.ToLower(ev.Text) {
	case "/start", "/record":
		return r.createSession(ctx, ev.ChatID)
	case "/finalize", "/done":
		return r.finalizeActive(ctx, ev.ChatID)
	case "/reopen":
		if len(ev.CommandArgs) == 0 {
			_, err := r.transport.SendText(ctx, ev.ChatID, "Usage: /reopen <session_id>", nil)
			return err
		}
		return r.reopen(ctx, ev.ChatID, ev.CommandArgs[0])
	case "/search":
		if len(ev.CommandArgs) > 0 {
			return r.runSearch(ctx, ev.ChatID, strings.Join(ev.CommandArgs, " "))
		}
		r.setIntent(ctx, ev.ChatID, awaitingSearchQuery)
		_, err := r.transport.SendText(ctx, ev.ChatID, "What are you looking for?", nil)
		return err
	case "/narrate":
		if len(ev.CommandArgs) == 0 {
			_, err := r.transport.SendText(ctx, ev.ChatID, "Usage: /narrate <session_id>", nil)
			return err
		}
		return r.runNarrative(ctx, ev.ChatID, ev.CommandArgs[0])
	case "/help":
		_, err := r.transport.SendText(ctx, ev.ChatID, helpText, nil)
		return err
	default:
		_, err := r.transport.SendText(ctx, ev.ChatID, "Unrecognized command. Send /help for a list.", nil)
		return err
	}
}

const helpText = "/start begins a new session\n" +
	"/finalize closes the current session for processing\n" +
	"/reopen <id> resumes a finalized session\n" +
	"/search <text> looks through past sessions\n" +
	"/narrate <id> runs the narrative pipeline over a ready session\n" +
	"Send a voice message any time while a session is open to add to it."

// handleText consumes a pending conversational intent if one exists,
// otherwise treats the message as a default no-op notice (spec §4.8).
func (r *Router) handleText(ctx context.Context, ev transport.Event) error {
	kind, ok := r.takeIntent(ev.ChatID)
	if !ok {
		_, err := r.transport.SendText(ctx, ev.ChatID, "Start a session with /start, or try /search <text>.", nil)
		return err
	}
	switch kind {
	case awaitingSearchQuery:
		return r.runSearch(ctx, ev.ChatID, ev.Text)
	}
	return nil
}

// handleVoice ingests a voice attachment into the chat's active session,
// downloading it from the transport first.
func (r *Router) handleVoice(ctx context.Context, ev transport.Event) error {
	sessionID, ok := r.activeSessionID(ev.ChatID)
	if !ok {
		_, err := r.transport.SendText(ctx, ev.ChatID, "No open session — send /start first.", nil)
		return err
	}
	data, err := r.transport.DownloadVoice(ctx, ev.VoiceFile)
	if err != nil {
		return fmt.Errorf("router: download voice: %w", err)
	}
	segment, err := r.capture.AddAudioChunk(ctx, sessionID, data, "ogg", time.Now())
	if err != nil {
		if err == audiocap.ErrWrongState {
			return err
		}
		return fmt.Errorf("router: add audio chunk: %w", err)
	}
	_, err = r.transport.SendText(ctx, ev.ChatID, fmt.Sprintf("Recorded segment %d.", segment.Sequence), nil)
	return err
}

// createSession implements /start's happy path and its conflict detour:
// on *session.ConflictError, a three-option confirmation dialog is shown
// and no session is created until the user resolves it (spec §4.8).
func (r *Router) createSession(ctx context.Context, chat transport.ChatID) error {
	chatID, ok := parseChatID(chat)
	if !ok {
		return fmt.Errorf("router: malformed chat id %q", chat)
	}
	_, err := r.sessions.CreateSession(chatID, time.Now())
	if err == nil {
		_, sendErr := r.transport.SendText(ctx, chat, "New session started. Send voice messages whenever you're ready.", nil)
		return sendErr
	}
	if isConflict(err) {
		return r.sendConflictDialog(ctx, chat)
	}
	return err
}

func (r *Router) finalizeActive(ctx context.Context, chat transport.ChatID) error {
	id, ok := r.activeSessionID(chat)
	if !ok {
		_, err := r.transport.SendText(ctx, chat, "No open session to finalize.", nil)
		return err
	}
	sess, pending, err := r.sessions.FinalizeSession(id, time.Now())
	if err != nil {
		return err
	}
	if _, err := r.transcribe.QueueSession(sess); err != nil {
		_, sendErr := r.transport.SendText(ctx, chat, "Finalized, but the transcription queue is full right now — it will retry shortly.", nil)
		if sendErr != nil {
			return sendErr
		}
		return nil
	}
	_, err = r.transport.SendText(ctx, chat, fmt.Sprintf("Finalized. Transcribing %d segment(s).", len(pending)), nil)
	return err
}

func (r *Router) reopen(ctx context.Context, chat transport.ChatID, sessionID string) error {
	_, err := r.sessions.ReopenSession(sessionID)
	if err != nil {
		if isConflict(err) {
			return r.sendConflictDialog(ctx, chat)
		}
		return err
	}
	_, err = r.transport.SendText(ctx, chat, "Session reopened — add more voice messages, then /finalize when done.", nil)
	return err
}

// sendConflictDialog renders the exactly-three-option confirmation dialog
// named in spec §4.3/§4.8.
func (r *Router) sendConflictDialog(ctx context.Context, chat transport.ChatID) error {
	kb := &transport.Keyboard{Rows: [][]transport.KeyboardButton{{
		{Text: "Finalize current", CallbackData: "confirm:finalize"},
		{Text: "Start new (discard current)", CallbackData: "confirm:discard"},
		{Text: "Return to current", CallbackData: "confirm:cancel"},
	}}}
	_, err := r.transport.SendText(ctx, chat, "You already have an open session. What would you like to do?", kb)
	return err
}

func (r *Router) runSearch(ctx context.Context, chat transport.ChatID, query string) error {
	chatID, ok := parseChatID(chat)
	if !ok {
		return fmt.Errorf("router: malformed chat id %q", chat)
	}
	results, err := r.index.Search(ctx, query, chatID, 5, 0.6)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		_, err := r.transport.SendText(ctx, chat, "No matching sessions found.", nil)
		return err
	}

	var b strings.Builder
	for _, res := range results {
		fmt.Fprintf(&b, "%s (%s)\n", res.DisplayName, res.CreatedAt.Format("2006-01-02"))
		for _, p := range res.Previews {
			fmt.Fprintf(&b, "  %s\n", p.Text)
		}
	}
	pages := presentation.Paginate(b.String(), 4096)
	if pages == nil {
		_, err := r.transport.SendText(ctx, chat, "Results are too long to display; ask about a narrower time range.", nil)
		return err
	}
	r.setPages(chat, pages)
	_, err = r.transport.SendText(ctx, chat, pages[0].Text, pageKeyboard(0, len(pages)))
	return err
}

// runNarrative drives the narrative pipeline adapter over a ready session's
// consolidated transcript (C12, spec §9 decision 3): the session-aware
// assembly happens here, not inside internal/narrative, which only ever
// sees a directory path and a plain-text blob.
func (r *Router) runNarrative(ctx context.Context, chat transport.ChatID, sessionID string) error {
	if r.narrative == nil {
		_, err := r.transport.SendText(ctx, chat, "The narrative pipeline isn't enabled.", nil)
		return err
	}
	sess, err := r.store.Load(sessionID)
	if err != nil {
		return err
	}
	if sess.State != types.StateReady {
		_, err := r.transport.SendText(ctx, chat, fmt.Sprintf("Session %q isn't ready yet (currently %s).", sessionID, sess.State), nil)
		return err
	}
	transcript, err := r.oracle.ConsolidatedTranscript(sess)
	if err != nil {
		return fmt.Errorf("router: consolidate transcript: %w", err)
	}
	result, err := r.narrative.Run(ctx, r.store.ProcessDir(sessionID), transcript)
	if err != nil {
		return fmt.Errorf("router: run narrative pipeline: %w", err)
	}
	if result.Class != narrative.ExitSuccess {
		_, err := r.transport.SendText(ctx, chat, fmt.Sprintf("Narrative pipeline reported %s (exit %d).", result.Class, result.ExitCode), nil)
		return err
	}
	_, err = r.transport.SendText(ctx, chat, fmt.Sprintf("Narrative pipeline finished. Output in %s.", result.OutputDir), nil)
	return err
}

// isConflict reports whether err is a session-conflict detour trigger.
func isConflict(err error) bool {
	_, ok := err.(*session.ConflictError)
	return ok
}
