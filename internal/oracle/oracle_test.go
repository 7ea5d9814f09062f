package oracle

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oraculovoz/oraculo/internal/store"
	"github.com/oraculovoz/oraculo/pkg/provider/llm"
	"github.com/oraculovoz/oraculo/pkg/provider/llm/mock"
	"github.com/oraculovoz/oraculo/pkg/types"
)

func newTestSetup(t *testing.T, personaTemplate string) (*Dispatcher, *store.Store, *mock.Provider) {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)

	personaDir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(personaDir, "sage.txt"), []byte(personaTemplate), 0o644))
	registry := NewPersonaRegistry(personaDir, time.Minute)

	provider := &mock.Provider{CompleteResponse: llm.CompletionResponse{Text: "a wise reply"}}
	d := New(s, provider, registry)
	return d, s, provider
}

func sessionWithTranscripts(t *testing.T, s *store.Store, id string, includeHistory bool) *types.Session {
	t.Helper()
	sess := &types.Session{
		ID:            id,
		ChatID:        1,
		State:         types.StateReady,
		UIPreferences: types.UIPreferences{IncludeLLMHistory: includeHistory},
		AudioEntries: []types.AudioSegment{{
			Sequence:            1,
			ReceivedAt:          time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
			TranscriptFilename:  "001_100000.txt",
			TranscriptionStatus: types.TranscriptionSuccess,
		}},
	}
	require.NoError(t, os.MkdirAll(s.TranscriptsDir(id), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.TranscriptsDir(id), "001_100000.txt"), []byte("hello oracle"), 0o644))
	require.NoError(t, s.Save(sess))
	return sess
}

func TestDispatch_FillsPlaceholderAndPersistsResponse(t *testing.T) {
	d, s, provider := newTestSetup(t, "# The Sage\n\n{{CONTEXT}}")
	sess := sessionWithTranscripts(t, s, "sess-1", false)

	resp, err := d.Dispatch(context.Background(), sess, "sage")
	require.NoError(t, err)
	assert.Equal(t, "1_sage.txt", resp.Filename)
	assert.Equal(t, "a wise reply", resp.Text)

	require.Len(t, provider.CompleteCalls, 1)
	assert.Contains(t, provider.CompleteCalls[0].Req.Prompt, "hello oracle")
	assert.Contains(t, provider.CompleteCalls[0].Req.Prompt, "[TRANSCRIÇÃO 1")

	data, err := os.ReadFile(filepath.Join(s.LLMResponsesDir("sess-1"), "1_sage.txt"))
	require.NoError(t, err)
	assert.Equal(t, "a wise reply", string(data))
}

func TestDispatch_AppendsContextWhenPlaceholderAbsent(t *testing.T) {
	d, s, _ := newTestSetup(t, "# The Sage\n\nAlways answer kindly.")
	sess := sessionWithTranscripts(t, s, "sess-1", false)

	resp, err := d.Dispatch(context.Background(), sess, "sage")
	require.NoError(t, err)
	assert.NotEmpty(t, resp.Filename)
}

func TestDispatch_IncludesPriorResponsesWhenHistoryEnabled(t *testing.T) {
	d, s, provider := newTestSetup(t, "# The Sage\n\n{{CONTEXT}}")
	sess := sessionWithTranscripts(t, s, "sess-1", true)

	_, err := d.Dispatch(context.Background(), sess, "sage")
	require.NoError(t, err)

	provider.CompleteResponse = llm.CompletionResponse{Text: "second reply"}
	_, err = d.Dispatch(context.Background(), sess, "sage")
	require.NoError(t, err)

	assert.Contains(t, provider.CompleteCalls[1].Req.Prompt, "[ORÁCULO: sage")
	assert.Contains(t, provider.CompleteCalls[1].Req.Prompt, "a wise reply")
}

func TestDispatch_SequenceNumbersAreMonotonic(t *testing.T) {
	d, s, _ := newTestSetup(t, "# The Sage\n\n{{CONTEXT}}")
	sess := sessionWithTranscripts(t, s, "sess-1", false)

	first, err := d.Dispatch(context.Background(), sess, "sage")
	require.NoError(t, err)
	second, err := d.Dispatch(context.Background(), sess, "sage")
	require.NoError(t, err)

	assert.Equal(t, "1_sage.txt", first.Filename)
	assert.Equal(t, "2_sage.txt", second.Filename)
}

func TestDispatch_MissingTranscriptFileUsesPlaceholder(t *testing.T) {
	d, s, provider := newTestSetup(t, "# The Sage\n\n{{CONTEXT}}")
	sess := sessionWithTranscripts(t, s, "sess-1", false)
	require.NoError(t, os.Remove(filepath.Join(s.TranscriptsDir("sess-1"), "001_100000.txt")))

	_, err := d.Dispatch(context.Background(), sess, "sage")
	require.NoError(t, err)
	assert.Contains(t, provider.CompleteCalls[0].Req.Prompt, missingTranscriptPlaceholder)
}

func TestDispatch_UnknownPersonaReturnsError(t *testing.T) {
	d, s, _ := newTestSetup(t, "# The Sage\n\n{{CONTEXT}}")
	sess := sessionWithTranscripts(t, s, "sess-1", false)

	_, err := d.Dispatch(context.Background(), sess, "unknown")
	assert.ErrorIs(t, err, ErrPersonaNotFound)
}

func TestConsolidatedTranscript_JoinsSuccessfulSegmentsInOrder(t *testing.T) {
	d, s, _ := newTestSetup(t, "# The Sage\n\n{{CONTEXT}}")
	sess := sessionWithTranscripts(t, s, "sess-1", false)

	text, err := d.ConsolidatedTranscript(sess)
	require.NoError(t, err)
	assert.Contains(t, text, "[TRANSCRIÇÃO 1")
	assert.Contains(t, text, "hello oracle")
}

func TestConsolidatedTranscript_MissingFileUsesPlaceholder(t *testing.T) {
	d, s, _ := newTestSetup(t, "# The Sage\n\n{{CONTEXT}}")
	sess := sessionWithTranscripts(t, s, "sess-1", false)
	require.NoError(t, os.Remove(filepath.Join(s.TranscriptsDir("sess-1"), "001_100000.txt")))

	text, err := d.ConsolidatedTranscript(sess)
	require.NoError(t, err)
	assert.Contains(t, text, missingTranscriptPlaceholder)
}

func TestDispatch_LLMErrorPropagates(t *testing.T) {
	d, s, provider := newTestSetup(t, "# The Sage\n\n{{CONTEXT}}")
	sess := sessionWithTranscripts(t, s, "sess-1", false)
	provider.CompleteErr = errors.New("provider down")

	_, err := d.Dispatch(context.Background(), sess, "sage")
	assert.Error(t, err)
}
