// Package oracle implements Oracle Dispatch (spec §4.6): persona template
// selection, chronological context assembly over a session's transcripts
// (and, when enabled, its own prior responses), and a single LLM call per
// request.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/oraculovoz/oraculo/internal/observe"
	"github.com/oraculovoz/oraculo/internal/store"
	"github.com/oraculovoz/oraculo/pkg/provider/llm"
	"github.com/oraculovoz/oraculo/pkg/types"
)

// missingTranscriptPlaceholder replaces a transcript or prior-response file
// that metadata references but that cannot be read from disk (spec §4.6:
// "missing files are replaced by an explicit placeholder token").
const missingTranscriptPlaceholder = "[conteúdo indisponível]"

// Dispatcher assembles context and invokes the LLM capability on behalf of
// the Oracle Dispatch component.
type Dispatcher struct {
	store    *store.Store
	llm      llm.Provider
	personas *PersonaRegistry
	timeout  time.Duration

	placeholderToken string

	seqMu   sync.Mutex
	seqLock map[string]*sync.Mutex
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithTimeout sets the LLM call timeout. Defaults to 30s (spec §6 default).
func WithTimeout(d time.Duration) Option {
	return func(d2 *Dispatcher) { d2.timeout = d }
}

// WithPlaceholderToken overrides the default {{CONTEXT}} placeholder token
// recognised inside persona templates.
func WithPlaceholderToken(token string) Option {
	return func(d *Dispatcher) { d.placeholderToken = token }
}

// New constructs a Dispatcher.
func New(s *store.Store, provider llm.Provider, personas *PersonaRegistry, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		store:            s,
		llm:              provider,
		personas:         personas,
		timeout:          30 * time.Second,
		placeholderToken: "{{CONTEXT}}",
		seqLock:          make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) lockFor(sessionID string) *sync.Mutex {
	d.seqMu.Lock()
	defer d.seqMu.Unlock()
	m, ok := d.seqLock[sessionID]
	if !ok {
		m = &sync.Mutex{}
		d.seqLock[sessionID] = m
	}
	return m
}

// Response is the outcome of a successful dispatch.
type Response struct {
	PersonaID string
	Filename  string
	Text      string
}

// contextSnapshot is appended to logs/llm_traffic.jsonl for auditability
// (spec §4.6: "a context snapshot is logged alongside each request").
type contextSnapshot struct {
	Timestamp          time.Time `json:"timestamp"`
	SessionID          string    `json:"session_id"`
	PersonaID          string    `json:"persona_id"`
	TranscriptCount    int       `json:"transcript_count"`
	PriorResponseCount int       `json:"prior_response_count"`
	IncludeHistory     bool      `json:"include_history"`
	TokenEstimate      int       `json:"token_estimate"`
}

// Dispatch builds the context for sess and personaID, sends it to the LLM
// capability, and persists the response as
// llm_responses/<next_seq>_<persona_id>.txt.
func (d *Dispatcher) Dispatch(ctx context.Context, sess *types.Session, personaID string) (Response, error) {
	persona, err := d.personas.Get(ctx, personaID)
	if err != nil {
		return Response{}, fmt.Errorf("oracle: load persona %q: %w", personaID, err)
	}

	transcripts, err := d.transcriptEntries(sess)
	if err != nil {
		return Response{}, fmt.Errorf("oracle: read transcripts: %w", err)
	}

	var priorResponses []string
	if sess.UIPreferences.IncludeLLMHistory {
		priorResponses, err = d.priorResponseEntries(sess.ID)
		if err != nil {
			return Response{}, fmt.Errorf("oracle: read prior responses: %w", err)
		}
	}

	contextText := strings.Join(append(append([]string{}, transcripts...), priorResponses...), "\n")
	prompt := fillPlaceholder(persona.Template, d.placeholderToken, contextText)

	d.logSnapshot(sess.ID, personaID, len(transcripts), len(priorResponses), sess.UIPreferences.IncludeLLMHistory, contextText)

	callCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	start := time.Now()
	resp, err := d.llm.Complete(callCtx, llm.CompletionRequest{Prompt: prompt, Timeout: d.timeout})
	observe.DefaultMetrics().LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		observe.DefaultMetrics().RecordProviderRequest(ctx, "llm", "complete", "error")
		observe.DefaultMetrics().RecordProviderError(ctx, "llm", "complete")
		return Response{}, fmt.Errorf("oracle: llm complete: %w", err)
	}
	observe.DefaultMetrics().RecordProviderRequest(ctx, "llm", "complete", "ok")

	filename, err := d.persistResponse(sess.ID, personaID, resp.Text)
	if err != nil {
		return Response{}, fmt.Errorf("oracle: persist response: %w", err)
	}

	return Response{PersonaID: personaID, Filename: filename, Text: resp.Text}, nil
}

// fillPlaceholder replaces the first occurrence of token in template with
// contextText; if token is absent, contextText is appended (spec §4.6).
func fillPlaceholder(template, token, contextText string) string {
	if strings.Contains(template, token) {
		return strings.Replace(template, token, contextText, 1)
	}
	return template + "\n\n" + contextText
}

// ConsolidatedTranscript joins every successfully transcribed segment of
// sess, in sequence order, into the single plain-text blob the narrative
// pipeline adapter reads as its input (spec §9 decision 3: the adapter
// itself never imports session types, so this assembly step lives here
// rather than in internal/narrative).
func (d *Dispatcher) ConsolidatedTranscript(sess *types.Session) (string, error) {
	entries, err := d.transcriptEntries(sess)
	if err != nil {
		return "", err
	}
	return strings.Join(entries, "\n"), nil
}

// transcriptEntries returns every successfully transcribed segment's text,
// prefixed per spec §4.6, in sequence order.
func (d *Dispatcher) transcriptEntries(sess *types.Session) ([]string, error) {
	var entries []string
	for _, seg := range sess.AudioEntries {
		if seg.TranscriptionStatus != types.TranscriptionSuccess || seg.TranscriptFilename == "" {
			continue
		}
		path := filepath.Join(d.store.TranscriptsDir(sess.ID), seg.TranscriptFilename)
		text, err := os.ReadFile(path)
		prefix := fmt.Sprintf("[TRANSCRIÇÃO %d — %s]", seg.Sequence, seg.ReceivedAt.Format(time.RFC3339))
		if err != nil {
			slog.Warn("oracle: transcript file missing, using placeholder", "session_id", sess.ID, "sequence", seg.Sequence, "error", err)
			entries = append(entries, prefix+" "+missingTranscriptPlaceholder)
			continue
		}
		entries = append(entries, prefix+" "+string(text))
	}
	return entries, nil
}

var responseFilePattern = regexp.MustCompile(`^(\d+)_(.+)\.txt$`)

// priorResponseEntries returns every previously persisted oracle response,
// prefixed per spec §4.6, ordered by sequence.
func (d *Dispatcher) priorResponseEntries(sessionID string) ([]string, error) {
	dir := d.store.LLMResponsesDir(sessionID)
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	type indexed struct {
		seq      int
		persona  string
		filename string
		modTime  time.Time
	}
	var found []indexed
	for _, f := range files {
		m := responseFilePattern.FindStringSubmatch(f.Name())
		if m == nil {
			continue
		}
		seq, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		info, err := f.Info()
		var modTime time.Time
		if err == nil {
			modTime = info.ModTime()
		}
		found = append(found, indexed{seq: seq, persona: m[2], filename: f.Name(), modTime: modTime})
	}
	sort.Slice(found, func(i, j int) bool { return found[i].seq < found[j].seq })

	var entries []string
	for _, item := range found {
		data, err := os.ReadFile(filepath.Join(dir, item.filename))
		prefix := fmt.Sprintf("[ORÁCULO: %s — %s]", item.persona, item.modTime.Format(time.RFC3339))
		if err != nil {
			slog.Warn("oracle: prior response file missing, using placeholder", "session_id", sessionID, "filename", item.filename, "error", err)
			entries = append(entries, prefix+" "+missingTranscriptPlaceholder)
			continue
		}
		entries = append(entries, prefix+" "+string(data))
	}
	return entries, nil
}

// persistResponse assigns the next sequence number atomically per session
// and writes llm_responses/<next_seq>_<persona_id>.txt.
func (d *Dispatcher) persistResponse(sessionID, personaID, text string) (string, error) {
	lock := d.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	dir := d.store.LLMResponsesDir(sessionID)
	entries, err := os.ReadDir(dir)
	if err != nil && !os.IsNotExist(err) {
		return "", err
	}
	seq := 1
	for _, e := range entries {
		if m := responseFilePattern.FindStringSubmatch(e.Name()); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n >= seq {
				seq = n + 1
			}
		}
	}

	filename := fmt.Sprintf("%d_%s.txt", seq, personaID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return "", err
	}
	tmpPath := tmp.Name()
	if _, err := tmp.WriteString(text); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	if err := os.Rename(tmpPath, filepath.Join(dir, filename)); err != nil {
		os.Remove(tmpPath)
		return "", err
	}
	return filename, nil
}

// logSnapshot appends a context snapshot to logs/llm_traffic.jsonl.
func (d *Dispatcher) logSnapshot(sessionID, personaID string, transcriptCount, priorCount int, includeHistory bool, contextText string) {
	snap := contextSnapshot{
		Timestamp:          time.Now(),
		SessionID:          sessionID,
		PersonaID:          personaID,
		TranscriptCount:    transcriptCount,
		PriorResponseCount: priorCount,
		IncludeHistory:     includeHistory,
		TokenEstimate:      len(contextText) / 4,
	}
	data, err := json.Marshal(snap)
	if err != nil {
		slog.Error("oracle: marshal context snapshot", "error", err)
		return
	}
	dir := d.store.LogsDir(sessionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		slog.Error("oracle: create logs dir", "error", err)
		return
	}
	f, err := os.OpenFile(filepath.Join(dir, "llm_traffic.jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		slog.Error("oracle: open llm traffic log", "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(data, '\n')); err != nil {
		slog.Error("oracle: write llm traffic log", "error", err)
	}
}
