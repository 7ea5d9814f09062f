// Package transcribe implements the Transcription Queue (spec §4.4): a
// single cooperative worker consuming pending audio segments, invoking the
// Transcriber capability, and updating session state as work completes.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/oraculovoz/oraculo/internal/observe"
	"github.com/oraculovoz/oraculo/internal/store"
	"github.com/oraculovoz/oraculo/pkg/provider/transcriber"
	"github.com/oraculovoz/oraculo/pkg/types"
)

// ErrQueueFull is returned by QueueSession when the bounded channel has no
// capacity left — the documented retryable backpressure error (spec §5).
var ErrQueueFull = errors.New("transcribe: queue is full")

// workItem is one unit of work: transcribe a single segment of a session.
type workItem struct {
	sessionID string
	sequence  int
}

// Progress describes the current state of a session's transcription run,
// returned by GetSessionProgress and emitted to subscribed listeners.
type Progress struct {
	SessionID string
	Current   int
	Total     int
	Step      string
}

// CompletionFunc is invoked once per session when its last PENDING segment
// settles (spec §4.4 "Completion policy"). anySucceeded reports whether at
// least one segment in the run transcribed successfully.
type CompletionFunc func(ctx context.Context, sessionID string, anySucceeded bool)

// ProgressFunc receives throttled progress events, rate-limited by Worker
// to at most one update per operation every progressInterval.
type ProgressFunc func(p Progress)

// Worker is the single cooperative consumer described in spec §4.4. Start
// and Stop are idempotent lifecycle operations; QueueSession and
// RetryFailed are safe to call concurrently with a running worker.
type Worker struct {
	store       *store.Store
	transcriber transcriber.Provider
	timeout     time.Duration
	interval    time.Duration
	onComplete  CompletionFunc
	onProgress  ProgressFunc

	items chan workItem

	mu        sync.Mutex
	running   bool
	cancel    context.CancelFunc
	group     *errgroup.Group
	lastShown map[string]time.Time // session id -> last progress emission

	progressMu sync.Mutex
	inFlight   map[string]*sessionRun // session id -> in-progress run state
}

// sessionRun tracks the outstanding segment count for one in-flight
// transcription run, so the worker knows when to invoke onComplete.
type sessionRun struct {
	total     int
	remaining int
	succeeded int
}

// Option configures a Worker.
type Option func(*Worker)

// WithTimeout sets the per-segment transcription timeout. Defaults to 30s.
func WithTimeout(d time.Duration) Option {
	return func(w *Worker) { w.timeout = d }
}

// WithProgressInterval sets the minimum interval between progress emissions
// for one session. Defaults to 5s (spec §4.4: "rate-limited to ≥5s").
func WithProgressInterval(d time.Duration) Option {
	return func(w *Worker) { w.interval = d }
}

// WithCompletionFunc registers the callback invoked when a session's run
// settles.
func WithCompletionFunc(fn CompletionFunc) Option {
	return func(w *Worker) { w.onComplete = fn }
}

// WithProgressFunc registers the callback invoked on throttled progress
// updates.
func WithProgressFunc(fn ProgressFunc) Option {
	return func(w *Worker) { w.onProgress = fn }
}

// SetProgressFunc replaces the progress callback after construction. Used
// where the consumer (e.g. the UI router) isn't built until after the
// worker is, breaking what would otherwise be a construction-order cycle.
func (w *Worker) SetProgressFunc(fn ProgressFunc) {
	w.progressMu.Lock()
	defer w.progressMu.Unlock()
	w.onProgress = fn
}

// New constructs a Worker with the given bounded queue capacity.
func New(s *store.Store, t transcriber.Provider, capacity int, opts ...Option) *Worker {
	w := &Worker{
		store:       s,
		transcriber: t,
		timeout:     30 * time.Second,
		interval:    5 * time.Second,
		items:       make(chan workItem, capacity),
		lastShown:   make(map[string]time.Time),
		inFlight:    make(map[string]*sessionRun),
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// StartWorker starts the consumer goroutine under an errgroup so StopWorker
// can wait for in-flight work to actually exit. Idempotent: calling it
// again while already running is a no-op.
func (w *Worker) StartWorker(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	group, groupCtx := errgroup.WithContext(runCtx)
	w.cancel = cancel
	w.group = group
	w.running = true
	group.Go(func() error {
		w.consume(groupCtx)
		return nil
	})
}

// StopWorker signals the consumer to stop after its current item, and
// blocks until it does. Idempotent.
func (w *Worker) StopWorker() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	cancel := w.cancel
	group := w.group
	w.running = false
	w.mu.Unlock()
	cancel()
	_ = group.Wait()
}

// QueueSession enqueues every PENDING segment of the given session and
// returns the count queued. Segments already queued or not PENDING are
// skipped — dedup by (session, sequence), satisfying the idempotence law
// in spec §8 ("queue_session run twice... enqueues the same PENDING set").
func (w *Worker) QueueSession(sess *types.Session) (int, error) {
	pending := sess.PendingSegments()
	queued := 0
	for _, seg := range pending {
		select {
		case w.items <- workItem{sessionID: sess.ID, sequence: seg.Sequence}:
			queued++
		default:
			return queued, ErrQueueFull
		}
	}
	if queued > 0 {
		w.progressMu.Lock()
		if run, ok := w.inFlight[sess.ID]; ok {
			run.total += queued
			run.remaining += queued
		} else {
			w.inFlight[sess.ID] = &sessionRun{total: queued, remaining: queued}
		}
		w.progressMu.Unlock()
		observe.DefaultMetrics().TranscriptionQueueDepth.Add(context.Background(), int64(queued))
	}
	return queued, nil
}

// RetryFailed re-enqueues a session's FAILED segments, resetting their
// status to PENDING first.
func (w *Worker) RetryFailed(sess *types.Session) (int, error) {
	var reset []int
	for i := range sess.AudioEntries {
		if sess.AudioEntries[i].TranscriptionStatus == types.TranscriptionFailed {
			sess.AudioEntries[i].TranscriptionStatus = types.TranscriptionPending
			reset = append(reset, sess.AudioEntries[i].Sequence)
		}
	}
	if len(reset) == 0 {
		return 0, nil
	}
	if err := w.store.Save(sess); err != nil {
		return 0, fmt.Errorf("transcribe: save reset segments: %w", err)
	}
	return w.QueueSession(sess)
}

// GetSessionProgress returns the current queue-local progress for a
// session, if a run is in flight.
func (w *Worker) GetSessionProgress(sessionID string) (Progress, bool) {
	w.progressMu.Lock()
	defer w.progressMu.Unlock()
	run, ok := w.inFlight[sessionID]
	if !ok {
		return Progress{}, false
	}
	return Progress{
		SessionID: sessionID,
		Current:   run.total - run.remaining,
		Total:     run.total,
		Step:      "transcribing",
	}, true
}

func (w *Worker) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case item, ok := <-w.items:
			if !ok {
				return
			}
			w.processItem(ctx, item)
		}
	}
}

// processItem implements the per-item algorithm in spec §4.4: load segment,
// invoke the transcription capability with a timeout, persist the outcome,
// and notify progress/completion.
func (w *Worker) processItem(ctx context.Context, item workItem) {
	sess, err := w.store.Load(item.sessionID)
	if err != nil {
		slog.Error("transcribe: failed to load session for item", "session_id", item.sessionID, "sequence", item.sequence, "error", err)
		return
	}

	idx := -1
	for i, seg := range sess.AudioEntries {
		if seg.Sequence == item.sequence {
			idx = i
			break
		}
	}
	if idx < 0 || sess.AudioEntries[idx].TranscriptionStatus != types.TranscriptionPending {
		return
	}
	seg := sess.AudioEntries[idx]

	callCtx, cancel := context.WithTimeout(ctx, w.timeout)
	audioPath := filepath.Join(w.store.AudioDir(sess.ID), seg.LocalFilename)
	start := time.Now()
	result, err := w.transcriber.Transcribe(callCtx, audioPath)
	cancel()
	observe.DefaultMetrics().TranscriptionDuration.Record(ctx, time.Since(start).Seconds())
	observe.DefaultMetrics().TranscriptionQueueDepth.Add(ctx, -1)

	succeeded := err == nil
	status := "ok"
	if err != nil {
		status = "error"
		observe.DefaultMetrics().RecordProviderError(ctx, "transcriber", "transcribe")
		sess.AudioEntries[idx].TranscriptionStatus = types.TranscriptionFailed
		sess.Errors = append(sess.Errors, types.ErrorLogEntry{
			Timestamp:   time.Now(),
			Operation:   "transcribe",
			Target:      fmt.Sprintf("segment %d", seg.Sequence),
			Message:     err.Error(),
			Recoverable: true,
		})
		slog.Warn("transcribe: segment failed", "session_id", sess.ID, "sequence", seg.Sequence, "error", err)
	} else {
		transcriptName := fmt.Sprintf("%03d_%s.txt", seg.Sequence, seg.ReceivedAt.Format("150405"))
		if err := w.writeTranscript(sess.ID, transcriptName, result.Text); err != nil {
			sess.AudioEntries[idx].TranscriptionStatus = types.TranscriptionFailed
			sess.Errors = append(sess.Errors, types.ErrorLogEntry{
				Timestamp:   time.Now(),
				Operation:   "transcribe",
				Target:      fmt.Sprintf("segment %d", seg.Sequence),
				Message:     err.Error(),
				Recoverable: true,
			})
			succeeded = false
			slog.Error("transcribe: failed to persist transcript", "session_id", sess.ID, "sequence", seg.Sequence, "error", err)
		} else {
			sess.AudioEntries[idx].TranscriptionStatus = types.TranscriptionSuccess
			sess.AudioEntries[idx].TranscriptFilename = transcriptName
		}
	}
	observe.DefaultMetrics().RecordProviderRequest(ctx, "transcriber", "transcribe", status)

	if err := w.store.Save(sess); err != nil {
		slog.Error("transcribe: failed to save segment outcome", "session_id", sess.ID, "sequence", seg.Sequence, "error", err)
		return
	}

	w.emitProgress(sess.ID)
	w.settle(ctx, sess.ID, succeeded)
}

func (w *Worker) writeTranscript(sessionID, filename, text string) error {
	dir := w.store.TranscriptsDir(sessionID)
	return writeFileAtomic(dir, filename, []byte(text))
}

func (w *Worker) emitProgress(sessionID string) {
	w.progressMu.Lock()
	run := w.inFlight[sessionID]
	var current, total int
	if run != nil {
		run.remaining--
		current, total = run.total-run.remaining, run.total
	}
	onProgress := w.onProgress
	if onProgress == nil {
		w.progressMu.Unlock()
		return
	}
	last, shown := w.lastShown[sessionID]
	emit := !shown || time.Since(last) >= w.interval
	if emit {
		w.lastShown[sessionID] = time.Now()
	}
	w.progressMu.Unlock()

	if emit {
		onProgress(Progress{SessionID: sessionID, Current: current, Total: total, Step: "transcribing"})
	}
}

// settle invokes onComplete once a session's in-flight run has no segments
// remaining, implementing spec §4.4's completion policy.
func (w *Worker) settle(ctx context.Context, sessionID string, succeeded bool) {
	w.progressMu.Lock()
	run, ok := w.inFlight[sessionID]
	if !ok {
		w.progressMu.Unlock()
		return
	}
	if succeeded {
		run.succeeded++
	}
	done := run.remaining <= 0
	anySucceeded := run.succeeded > 0
	if done {
		delete(w.inFlight, sessionID)
		delete(w.lastShown, sessionID)
	}
	w.progressMu.Unlock()

	if done && w.onComplete != nil {
		w.onComplete(ctx, sessionID, anySucceeded)
	}
}

// Drain blocks until the queue has no more buffered items or ctx expires,
// used by the supervisor's bounded-grace-period shutdown (spec §4.10).
func (w *Worker) Drain(ctx context.Context) error {
	for {
		if len(w.items) == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}
