package router

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oraculovoz/oraculo/internal/presentation"
	"github.com/oraculovoz/oraculo/internal/transcribe"
	"github.com/oraculovoz/oraculo/pkg/provider/transport"
)

// OnTranscriptionProgress renders a transcription.Worker progress event as a
// pinned, edited-in-place chat message (spec §4.9): the first update for a
// session sends a new message, later ones edit it, and r.throttle gates how
// often in-between updates actually reach the transport.
func (r *Router) OnTranscriptionProgress(p transcribe.Progress) {
	state := progressState(p)
	if !r.throttle.Allow(p.SessionID, state) {
		return
	}

	sess, err := r.store.Load(p.SessionID)
	if err != nil {
		slog.Warn("router: failed to load session for progress update", "session_id", p.SessionID, "error", err)
		return
	}
	chat := transport.ChatID(fmt.Sprintf("%d", sess.ChatID))
	text := fmt.Sprintf("Transcribing %q: %d/%d (%s)", sess.IntelligibleName, p.Current, p.Total, p.Step)
	ctx := context.Background()

	r.progressMu.Lock()
	ref, pinned := r.progress[p.SessionID]
	r.progressMu.Unlock()

	if pinned {
		if err := r.transport.EditText(ctx, ref, text, nil); err != nil {
			slog.Warn("router: failed to edit progress message", "session_id", p.SessionID, "error", err)
		}
	} else {
		ref, err := r.transport.SendText(ctx, chat, text, nil)
		if err != nil {
			slog.Warn("router: failed to send progress message", "session_id", p.SessionID, "error", err)
			return
		}
		r.progressMu.Lock()
		r.progress[p.SessionID] = ref
		r.progressMu.Unlock()
	}

	if state == presentation.ProgressComplete {
		r.progressMu.Lock()
		delete(r.progress, p.SessionID)
		r.progressMu.Unlock()
	}
}

// progressState maps a transcribe.Progress snapshot onto the throttle's
// always-allowed transition states: the first segment is a start, the last
// is a completion, everything between is a throttled update.
func progressState(p transcribe.Progress) presentation.ProgressState {
	switch {
	case p.Total > 0 && p.Current >= p.Total:
		return presentation.ProgressComplete
	case p.Current <= 1:
		return presentation.ProgressStart
	default:
		return presentation.ProgressUpdate
	}
}
