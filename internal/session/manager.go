// Package session implements the Session Manager (spec §4.3): the state
// machine governing session lifecycle, the active-session registry (at most
// one COLLECTING session per chat), and crash-interruption detection.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oraculovoz/oraculo/internal/observe"
	"github.com/oraculovoz/oraculo/internal/store"
	"github.com/oraculovoz/oraculo/pkg/types"
)

// Event names a transition trigger in the state table (spec §4.3).
type Event string

const (
	EventAudioReceived     Event = "audio_received"
	EventFinalize          Event = "finalize"
	EventTranscriptionDone Event = "transcription_done"
	EventEmbeddingDone     Event = "embedding_done"
	EventReopen            Event = "reopen"
	EventCrashSweep        Event = "crash_sweep"
)

// IllegalStateTransitionError is returned when an event is not permitted
// from a session's current state.
type IllegalStateTransitionError struct {
	SessionID string
	From      types.SessionState
	Event     Event
}

func (e *IllegalStateTransitionError) Error() string {
	return fmt.Sprintf("session: illegal transition: session %q in state %s cannot handle event %s", e.SessionID, e.From, e.Event)
}

// transitions mirrors the table in spec §4.3 exactly. A state/event pair
// absent from the inner map is a rejection.
var transitions = map[types.SessionState]map[Event]types.SessionState{
	types.StateCollecting: {
		EventFinalize:   types.StateTranscribing,
		EventCrashSweep: types.StateInterrupted,
	},
	types.StateTranscribing: {
		EventTranscriptionDone: types.StateTranscribed,
	},
	types.StateTranscribed: {
		EventEmbeddingDone: types.StateEmbedding,
	},
	types.StateEmbedding: {
		// EMBEDDING -> READY is driven externally once the embedding write
		// completes; modeled as its own event for symmetry with the table.
		Event("embedding_written"): types.StateReady,
	},
	types.StateReady: {
		EventReopen: types.StateCollecting,
	},
	types.StateInterrupted: {
		EventFinalize: types.StateTranscribing,
		EventReopen:   types.StateCollecting,
	},
}

// ConflictError is returned by CreateSession when the chat already has an
// active COLLECTING session. Callers must resolve it via one of the three
// documented choices before a new session can be created (spec §4.3, §4.8).
type ConflictError struct {
	ChatID           int64
	ActiveSessionID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("session: chat %d already has an active session %q", e.ChatID, e.ActiveSessionID)
}

// Manager owns the session state machine and the per-chat active-session
// registry. Each session's mutations are serialized under its own mutex;
// the active-session registry has its own mutex so no operation ever needs
// to hold two session locks simultaneously (spec §5).
type Manager struct {
	store *store.Store

	registryMu sync.Mutex
	active     map[int64]string // chat_id -> session id currently COLLECTING

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New constructs a Manager backed by s.
func New(s *store.Store) *Manager {
	return &Manager{
		store:  s,
		active: make(map[int64]string),
		locks:  make(map[string]*sync.Mutex),
	}
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

// apply performs the table lookup and, on success, mutates state in place.
func apply(sess *types.Session, ev Event) error {
	allowed, ok := transitions[sess.State]
	if !ok {
		return &IllegalStateTransitionError{SessionID: sess.ID, From: sess.State, Event: ev}
	}
	next, ok := allowed[ev]
	if !ok {
		return &IllegalStateTransitionError{SessionID: sess.ID, From: sess.State, Event: ev}
	}
	sess.State = next
	return nil
}

// CreateSession implements create_session: if chatID already has an active
// COLLECTING session, a *ConflictError is returned and no session is
// created — the caller (router) must resolve it via
// ResolveConflictFinalize or ResolveConflictDiscard.
func (m *Manager) CreateSession(chatID int64, now time.Time) (*types.Session, error) {
	m.registryMu.Lock()
	if existing, ok := m.active[chatID]; ok {
		m.registryMu.Unlock()
		return nil, &ConflictError{ChatID: chatID, ActiveSessionID: existing}
	}
	id := now.Format("2006-01-02_15-04-05")
	m.active[chatID] = id
	m.registryMu.Unlock()

	sess := &types.Session{
		ID:               id,
		ChatID:           chatID,
		State:            types.StateCollecting,
		CreatedAt:        now,
		IntelligibleName: id,
		NameSource:       types.NameSourceDefault,
		UIPreferences:    types.UIPreferences{IncludeLLMHistory: true},
	}
	if err := m.store.Save(sess); err != nil {
		m.registryMu.Lock()
		delete(m.active, chatID)
		m.registryMu.Unlock()
		return nil, fmt.Errorf("session: save new session: %w", err)
	}
	observe.DefaultMetrics().SessionsCreated.Add(context.Background(), 1)
	observe.DefaultMetrics().ActiveSessions.Add(context.Background(), 1)
	slog.Info("session: created", "session_id", id, "chat_id", chatID)
	return sess, nil
}

// FinalizeSession implements finalize_session: COLLECTING or INTERRUPTED ->
// TRANSCRIBING, stamping FinalizedAt. Returns the PENDING segments the
// caller should enqueue into the Transcription Queue.
func (m *Manager) FinalizeSession(id string, now time.Time) (*types.Session, []types.AudioSegment, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.Load(id)
	if err != nil {
		return nil, nil, fmt.Errorf("session: load: %w", err)
	}
	wasCollecting := sess.State == types.StateCollecting
	if err := apply(sess, EventFinalize); err != nil {
		return nil, nil, err
	}
	sess.FinalizedAt = &now
	pending := sess.PendingSegments()

	if err := m.store.Save(sess); err != nil {
		return nil, nil, fmt.Errorf("session: save: %w", err)
	}
	if wasCollecting {
		m.registryMu.Lock()
		if m.active[sess.ChatID] == id {
			delete(m.active, sess.ChatID)
		}
		m.registryMu.Unlock()
		observe.DefaultMetrics().ActiveSessions.Add(context.Background(), -1)
	}
	slog.Info("session: finalized", "session_id", id, "pending_segments", len(pending))
	return sess, pending, nil
}

// ReopenSession implements reopen_session: READY or INTERRUPTED ->
// COLLECTING, incrementing ReopenCount. Registers the session as the
// chat's active session.
func (m *Manager) ReopenSession(id string) (*types.Session, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.Load(id)
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}

	m.registryMu.Lock()
	if existing, ok := m.active[sess.ChatID]; ok && existing != id {
		m.registryMu.Unlock()
		return nil, &ConflictError{ChatID: sess.ChatID, ActiveSessionID: existing}
	}
	if err := apply(sess, EventReopen); err != nil {
		m.registryMu.Unlock()
		return nil, err
	}
	sess.ReopenCount++
	m.active[sess.ChatID] = id
	m.registryMu.Unlock()

	if err := m.store.Save(sess); err != nil {
		return nil, fmt.Errorf("session: save: %w", err)
	}
	observe.DefaultMetrics().ActiveSessions.Add(context.Background(), 1)
	slog.Info("session: reopened", "session_id", id, "reopen_count", sess.ReopenCount)
	return sess, nil
}

// TranscriptionDone implements the transcription-complete transition
// (spec §4.4 completion policy): if at least one segment succeeded,
// TRANSCRIBING -> TRANSCRIBED; if all failed, the session moves to ERROR
// directly (an explicit bypass of the normal table, matching spec's
// "TRANSCRIBING -> ERROR with a diagnostic").
func (m *Manager) TranscriptionDone(id string, anySucceeded bool) (*types.Session, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.Load(id)
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}

	if !anySucceeded {
		sess.State = types.StateError
		sess.Errors = append(sess.Errors, types.ErrorLogEntry{
			Timestamp:   time.Now(),
			Operation:   "transcribe",
			Target:      id,
			Message:     "all segments failed transcription",
			Recoverable: true,
		})
	} else if err := apply(sess, EventTranscriptionDone); err != nil {
		return nil, err
	}

	if err := m.store.Save(sess); err != nil {
		return nil, fmt.Errorf("session: save: %w", err)
	}
	return sess, nil
}

// EmbeddingDone implements the TRANSCRIBED -> EMBEDDING -> READY sequence
// once the embedding indexer finishes writing embeddings.json.
func (m *Manager) EmbeddingDone(id string) (*types.Session, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.Load(id)
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	if err := apply(sess, EventEmbeddingDone); err != nil {
		return nil, err
	}
	if err := apply(sess, Event("embedding_written")); err != nil {
		return nil, err
	}
	if err := m.store.Save(sess); err != nil {
		return nil, fmt.Errorf("session: save: %w", err)
	}
	slog.Info("session: ready", "session_id", id)
	return sess, nil
}

// DetectInterruptedSessions implements the startup sweep (spec §4.3): any
// session persisted in COLLECTING is moved to INTERRUPTED, since no
// in-process owner can exist immediately after process start.
func (m *Manager) DetectInterruptedSessions() ([]*types.Session, error) {
	ids, err := m.store.List()
	if err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}

	var interrupted []*types.Session
	for _, id := range ids {
		sess, err := m.store.Load(id)
		if err != nil {
			slog.Warn("session: skipping unreadable session during recovery sweep", "session_id", id, "error", err)
			continue
		}
		if sess.State != types.StateCollecting {
			continue
		}
		if err := apply(sess, EventCrashSweep); err != nil {
			slog.Warn("session: crash sweep transition rejected", "session_id", id, "error", err)
			continue
		}
		if err := m.store.Save(sess); err != nil {
			slog.Error("session: failed to persist INTERRUPTED state", "session_id", id, "error", err)
			continue
		}
		slog.Warn("session: marked interrupted at startup", "session_id", id)
		interrupted = append(interrupted, sess)
	}
	return interrupted, nil
}

// UpdateSessionName implements update_session_name: allowed once, when
// NameSource is still "default". Uniqueness is enforced by appending
// "(n)" on collision against other sessions' current names.
func (m *Manager) UpdateSessionName(id, proposed string) (*types.Session, error) {
	lock := m.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	sess, err := m.store.Load(id)
	if err != nil {
		return nil, fmt.Errorf("session: load: %w", err)
	}
	if sess.NameSource != types.NameSourceDefault {
		return sess, nil // already derived/renamed once; no-op
	}

	name, err := m.uniqueName(id, proposed)
	if err != nil {
		return nil, err
	}
	sess.IntelligibleName = name
	sess.NameSource = types.NameSourceTranscript
	if err := m.store.Save(sess); err != nil {
		return nil, fmt.Errorf("session: save: %w", err)
	}
	return sess, nil
}

func (m *Manager) uniqueName(excludeID, proposed string) (string, error) {
	ids, err := m.store.List()
	if err != nil {
		return "", fmt.Errorf("session: list for uniqueness check: %w", err)
	}
	taken := make(map[string]bool, len(ids))
	for _, id := range ids {
		if id == excludeID {
			continue
		}
		sess, err := m.store.Load(id)
		if err != nil {
			continue
		}
		taken[sess.IntelligibleName] = true
	}
	if !taken[proposed] {
		return proposed, nil
	}
	for n := 2; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", proposed, n)
		if !taken[candidate] {
			return candidate, nil
		}
	}
}

// ActiveSession returns the id of chatID's current COLLECTING session, if
// any.
func (m *Manager) ActiveSession(chatID int64) (string, bool) {
	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	id, ok := m.active[chatID]
	return id, ok
}

// ResolveConflictFinalize resolves a CreateSession conflict by finalizing
// the active session, then creating the requested new one.
func (m *Manager) ResolveConflictFinalize(chatID int64, now time.Time) (*types.Session, error) {
	activeID, ok := m.ActiveSession(chatID)
	if !ok {
		return m.CreateSession(chatID, now)
	}
	if _, _, err := m.FinalizeSession(activeID, now); err != nil {
		return nil, err
	}
	return m.CreateSession(chatID, now)
}

// ResolveConflictDiscard resolves a conflict by abandoning the active
// session's COLLECTING claim (deleting it outright) and creating a new one.
func (m *Manager) ResolveConflictDiscard(chatID int64, now time.Time) (*types.Session, error) {
	activeID, ok := m.ActiveSession(chatID)
	if ok {
		if err := m.store.Delete(activeID); err != nil {
			return nil, fmt.Errorf("session: discard active session: %w", err)
		}
		m.registryMu.Lock()
		delete(m.active, chatID)
		m.registryMu.Unlock()
		observe.DefaultMetrics().ActiveSessions.Add(context.Background(), -1)
	}
	return m.CreateSession(chatID, now)
}

// RebuildRegistry repopulates the active-session registry from disk with
// every session currently in COLLECTING.
func (m *Manager) RebuildRegistry() error {
	ids, err := m.store.List()
	if err != nil {
		return fmt.Errorf("session: list: %w", err)
	}
	sort.Strings(ids)

	m.registryMu.Lock()
	defer m.registryMu.Unlock()
	m.active = make(map[int64]string)
	for _, id := range ids {
		sess, err := m.store.Load(id)
		if err != nil {
			continue
		}
		if sess.State == types.StateCollecting {
			m.active[sess.ChatID] = sess.ID
		}
	}
	return nil
}

// DeriveName filters stop words from text and returns up to maxTokens
// meaningful tokens joined with spaces, for the name-derivation pass run
// on the first successful segment of a session (spec §4.4).
func DeriveName(text string, maxTokens int) string {
	var stopWords = map[string]bool{
		"a": true, "o": true, "e": true, "de": true, "do": true, "da": true,
		"the": true, "and": true, "of": true, "to": true, "in": true, "for": true,
		"que": true, "é": true, "um": true, "uma": true,
	}
	var tokens []string
	for _, raw := range strings.Fields(text) {
		word := strings.ToLower(strings.Trim(raw, ".,!?;:\"'"))
		if word == "" || stopWords[word] {
			continue
		}
		tokens = append(tokens, word)
		if len(tokens) >= maxTokens {
			break
		}
	}
	return strings.Join(tokens, " ")
}
