// Package types defines the shared value types used across all Oráculo
// packages: the session data model, transient query/response shapes, and the
// LLM message types consumed by the oracle capability. These are intentionally
// plain structs with identifiers rather than pointer graphs — sessions own
// segments by value, embeddings and TTS artifacts are looked up by session id.
package types

import (
	"math"
	"time"
)

// SessionState is the session lifecycle state, per the transition table:
// COLLECTING → TRANSCRIBING → TRANSCRIBED → EMBEDDING → READY, with
// READY → COLLECTING on reopen, COLLECTING → INTERRUPTED on crash detection,
// INTERRUPTED → COLLECTING on resume, and any state → ERROR.
type SessionState string

const (
	StateCollecting   SessionState = "COLLECTING"
	StateTranscribing SessionState = "TRANSCRIBING"
	StateTranscribed  SessionState = "TRANSCRIBED"
	StateEmbedding    SessionState = "EMBEDDING"
	StateReady        SessionState = "READY"
	StateInterrupted  SessionState = "INTERRUPTED"
	StateError        SessionState = "ERROR"
)

// IsValid reports whether s is one of the known session states.
func (s SessionState) IsValid() bool {
	switch s {
	case StateCollecting, StateTranscribing, StateTranscribed, StateEmbedding, StateReady, StateInterrupted, StateError:
		return true
	}
	return false
}

// TranscriptionStatus is the per-segment transcription outcome.
type TranscriptionStatus string

const (
	TranscriptionPending TranscriptionStatus = "PENDING"
	TranscriptionSuccess TranscriptionStatus = "SUCCESS"
	TranscriptionFailed  TranscriptionStatus = "FAILED"
)

// NameSource records how a session's display name was derived.
type NameSource string

const (
	NameSourceDefault    NameSource = "default"
	NameSourceTranscript NameSource = "transcript"
	NameSourceManual     NameSource = "manual"
)

// AudioSegment is an append-only child of a Session. Bytes on disk are
// immutable after successful write; the checksum must always match the
// on-disk content.
type AudioSegment struct {
	// Sequence is the 1-indexed, gapless position within the session.
	Sequence int `json:"sequence"`

	// ReceivedAt is when the chunk was ingested.
	ReceivedAt time.Time `json:"received_at"`

	// LocalFilename is the on-disk audio file name under sessions/<id>/audio/.
	LocalFilename string `json:"local_filename"`

	// FileSizeBytes is the size of the audio file in bytes.
	FileSizeBytes int64 `json:"file_size_bytes"`

	// DurationSeconds is the estimated playback duration, when known.
	DurationSeconds float64 `json:"duration_seconds,omitempty"`

	// Checksum is the hex-encoded SHA-256 digest of the audio file content.
	Checksum string `json:"checksum"`

	// TranscriptionStatus tracks this segment's progress through the queue.
	TranscriptionStatus TranscriptionStatus `json:"transcription_status"`

	// TranscriptFilename is set once transcription succeeds.
	TranscriptFilename string `json:"transcript_filename,omitempty"`

	// ReopenEpoch is 0 for the original capture cycle, incremented on each
	// reopen cycle that contributed this segment.
	ReopenEpoch int `json:"reopen_epoch"`
}

// ErrorLogEntry records a single recoverable failure against a session.
type ErrorLogEntry struct {
	Timestamp   time.Time `json:"timestamp"`
	Operation   string    `json:"operation"`
	Target      string    `json:"target"`
	Message     string    `json:"message"`
	Recoverable bool      `json:"recoverable"`
}

// UIPreferences are persisted per-session chat preferences.
type UIPreferences struct {
	// SimplifiedUI strips decorative glyphs from rendered messages.
	SimplifiedUI bool `json:"simplified_ui"`

	// IncludeLLMHistory controls whether prior oracle responses are folded
	// into the context of subsequent oracle requests ("spiral feedback").
	// Defaults to true at session creation.
	IncludeLLMHistory bool `json:"include_llm_history"`
}

// Session is the root entity: an append-only, state-machine-governed
// timeline of audio captures and their derivatives, materialized as a
// directory. Exclusively owned by the Session Manager; other components
// receive read-only views.
type Session struct {
	ID               string         `json:"id"`
	ChatID           int64          `json:"chat_id"`
	State            SessionState   `json:"state"`
	CreatedAt        time.Time      `json:"created_at"`
	FinalizedAt      *time.Time     `json:"finalized_at,omitempty"`
	IntelligibleName string         `json:"intelligible_name"`
	NameSource       NameSource     `json:"name_source"`
	ProcessingStatus string         `json:"processing_status"`
	ReopenCount      int            `json:"reopen_count"`
	UIPreferences    UIPreferences  `json:"ui_preferences"`
	AudioEntries     []AudioSegment `json:"audio_entries"`
	Errors           []ErrorLogEntry `json:"errors"`
}

// Clone returns a deep copy of the session, safe to hand to callers that
// must not observe subsequent mutation (read-only views per §3 ownership).
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.FinalizedAt != nil {
		t := *s.FinalizedAt
		cp.FinalizedAt = &t
	}
	cp.AudioEntries = append([]AudioSegment(nil), s.AudioEntries...)
	cp.Errors = append([]ErrorLogEntry(nil), s.Errors...)
	return &cp
}

// NextSequence returns the sequence number the next captured segment should
// receive: dense, 1-indexed, gapless.
func (s *Session) NextSequence() int {
	return len(s.AudioEntries) + 1
}

// PendingSegments returns the subset of AudioEntries whose TranscriptionStatus
// is PENDING, preserving sequence order.
func (s *Session) PendingSegments() []AudioSegment {
	var out []AudioSegment
	for _, e := range s.AudioEntries {
		if e.TranscriptionStatus == TranscriptionPending {
			out = append(out, e)
		}
	}
	return out
}

// EmbeddingRecord is the persisted contents of embeddings.json: one fixed
// dimension vector per session, computed over the full transcript corpus.
type EmbeddingRecord struct {
	SessionID      string    `json:"session_id"`
	Model          string    `json:"model"`
	Dimension      int       `json:"dimension"`
	Vector         []float32 `json:"vector"`
	SourceTextHash string    `json:"source_text_hash"`
	CreatedAt      time.Time `json:"created_at"`
}

// MatchType classifies how a SearchResult was produced.
type MatchType string

const (
	MatchSemantic     MatchType = "semantic"
	MatchText         MatchType = "text"
	MatchChronological MatchType = "chronological"
)

// HighlightSpan marks a matched substring inside a preview fragment, in
// byte offsets relative to the fragment's own start.
type HighlightSpan struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// PreviewFragment is a short excerpt of transcript surrounding a match.
type PreviewFragment struct {
	Text      string          `json:"text"`
	Highlights []HighlightSpan `json:"highlights"`
}

// SearchResult is a transient, query-time projection of a session.
type SearchResult struct {
	SessionID        string            `json:"session_id"`
	DisplayName      string            `json:"display_name"`
	RelevanceScore   float64           `json:"relevance_score"`
	MatchType        MatchType         `json:"match_type"`
	Previews         []PreviewFragment `json:"previews"`
	CreatedAt        time.Time         `json:"created_at"`
	AudioCount       int               `json:"audio_count"`
}

// Message is a single message in an LLM conversation/prompt.
type Message struct {
	Role    string
	Content string
}

// TTSResult is the outcome of a TTS Pipeline synthesize request (§4.7). Path
// is empty when Err is non-empty: the pipeline never raises, it returns a
// diagnostic result instead.
type TTSResult struct {
	SessionID      string `json:"session_id"`
	PersonaID      string `json:"persona_id"`
	Sequence       int    `json:"sequence"`
	Path           string `json:"path"`
	IdempotencyKey string `json:"idempotency_key"`
	Cached         bool   `json:"cached"`
	DurationMs     int64  `json:"duration_ms"`
	Err            string `json:"err,omitempty"`
}

// CosineSimilarity computes the cosine similarity between two equal-length
// vectors. Returns 0 if either vector has zero magnitude or lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, magA, magB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		magA += float64(a[i]) * float64(a[i])
		magB += float64(b[i]) * float64(b[i])
	}
	if magA == 0 || magB == 0 {
		return 0
	}
	return dot / (math.Sqrt(magA) * math.Sqrt(magB))
}
