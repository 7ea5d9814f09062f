// Package embed implements the Embedding Indexer + Search Engine (spec
// §4.5): one fixed-dimension vector per session, computed over the full
// transcript corpus, plus a three-tier search fallback (semantic → text →
// chronological).
package embed

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oraculovoz/oraculo/internal/observe"
	"github.com/oraculovoz/oraculo/internal/store"
	"github.com/oraculovoz/oraculo/pkg/provider/embedder"
	"github.com/oraculovoz/oraculo/pkg/types"
)

// previewWindow is the number of characters either side of a matched token
// kept in a preview fragment (spec §4.5: "±N characters around the
// strongest match token").
const previewWindow = 60

// Index is the default on-disk embedding index: each session's vector lives
// in its own sessions/<id>/embeddings.json, and search loads a snapshot of
// every indexed session for a chat into memory. Suitable for the
// single-chat deployments this system targets.
type Index struct {
	store    *store.Store
	embedder embedder.Provider
}

// New constructs an Index backed by the given session store and embedding
// capability.
func New(s *store.Store, e embedder.Provider) *Index {
	return &Index{store: s, embedder: e}
}

// Status summarises the indexer's view of the world for get_index_status.
type Status struct {
	IndexedSessions int
	Backend         string
	ModelID         string
	Dimensions      int
}

// GetIndexStatus implements the C5 diagnostics operation.
func (idx *Index) GetIndexStatus(chatID int64) (Status, error) {
	sessions, err := idx.chatSessions(chatID)
	if err != nil {
		return Status{}, err
	}
	count := 0
	for _, sess := range sessions {
		if _, err := idx.loadRecord(sess.ID); err == nil {
			count++
		}
	}
	return Status{
		IndexedSessions: count,
		Backend:         "filesystem",
		ModelID:         idx.embedder.ModelID(),
		Dimensions:      idx.embedder.Dimensions(),
	}, nil
}

// IndexSession recomputes and persists the embedding vector for a session,
// over its full (original + any reopened) transcript corpus — incremental
// embedding is explicitly rejected for semantic coherence (spec §4.5).
func (idx *Index) IndexSession(ctx context.Context, sess *types.Session) error {
	corpus, err := idx.transcriptCorpus(sess)
	if err != nil {
		return fmt.Errorf("embed: read transcripts: %w", err)
	}
	vec, err := idx.embedder.Embed(ctx, corpus)
	if err != nil {
		observe.DefaultMetrics().RecordProviderError(ctx, "embedder", "embed")
		observe.DefaultMetrics().RecordProviderRequest(ctx, "embedder", "embed", "error")
		return fmt.Errorf("embed: compute vector: %w", err)
	}
	observe.DefaultMetrics().RecordProviderRequest(ctx, "embedder", "embed", "ok")
	record := types.EmbeddingRecord{
		SessionID:      sess.ID,
		Model:          idx.embedder.ModelID(),
		Dimension:      idx.embedder.Dimensions(),
		Vector:         vec,
		SourceTextHash: hashCorpus(corpus),
		CreatedAt:      time.Now(),
	}
	return idx.saveRecord(sess.ID, record)
}

// transcriptCorpus concatenates every successfully transcribed segment's
// text, in sequence order.
func (idx *Index) transcriptCorpus(sess *types.Session) (string, error) {
	var b strings.Builder
	for _, seg := range sess.AudioEntries {
		if seg.TranscriptionStatus != types.TranscriptionSuccess || seg.TranscriptFilename == "" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(idx.store.TranscriptsDir(sess.ID), seg.TranscriptFilename))
		if err != nil {
			return "", err
		}
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.Write(data)
	}
	return b.String(), nil
}

func hashCorpus(corpus string) string {
	sum := sha256.Sum256([]byte(corpus))
	return hex.EncodeToString(sum[:])
}

func (idx *Index) saveRecord(sessionID string, record types.EmbeddingRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(idx.store.EmbeddingsPath(sessionID), data, 0o644)
}

func (idx *Index) loadRecord(sessionID string) (types.EmbeddingRecord, error) {
	data, err := os.ReadFile(idx.store.EmbeddingsPath(sessionID))
	if err != nil {
		return types.EmbeddingRecord{}, err
	}
	var record types.EmbeddingRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return types.EmbeddingRecord{}, fmt.Errorf("embed: decode record for %s: %w", sessionID, err)
	}
	return record, nil
}

// chatSessions returns every session belonging to chatID, loaded from disk.
func (idx *Index) chatSessions(chatID int64) ([]*types.Session, error) {
	ids, err := idx.store.List()
	if err != nil {
		return nil, err
	}
	var sessions []*types.Session
	for _, id := range ids {
		sess, err := idx.store.Load(id)
		if err != nil {
			continue
		}
		if sess.ChatID == chatID {
			sessions = append(sessions, sess)
		}
	}
	return sessions, nil
}

// byRecencyThenID orders sessions newest-first, then lexicographically
// higher session id — the tie-break rule in spec §4.5.
func byRecencyThenID(sessions []*types.Session) {
	sort.Slice(sessions, func(i, j int) bool {
		if !sessions[i].CreatedAt.Equal(sessions[j].CreatedAt) {
			return sessions[i].CreatedAt.After(sessions[j].CreatedAt)
		}
		return sessions[i].ID > sessions[j].ID
	})
}

// Search implements the three-tier fallback algorithm (spec §4.5): semantic
// over indexed sessions, else substring/keyword over transcripts, else
// chronological with zero relevance.
func (idx *Index) Search(ctx context.Context, query string, chatID int64, limit int, minScore float64) ([]types.SearchResult, error) {
	start := time.Now()
	defer func() {
		observe.DefaultMetrics().SearchDuration.Record(ctx, time.Since(start).Seconds())
	}()

	sessions, err := idx.chatSessions(chatID)
	if err != nil {
		return nil, fmt.Errorf("embed: load chat sessions: %w", err)
	}

	semantic, available, err := idx.searchSemantic(ctx, query, sessions, limit, minScore)
	if err != nil {
		return nil, err
	}
	if available {
		observe.DefaultMetrics().RecordSearchQuery(ctx, "semantic")
		return semantic, nil
	}

	if text := idx.searchText(sessions, query, limit, minScore); len(text) > 0 {
		observe.DefaultMetrics().RecordSearchQuery(ctx, "text")
		return text, nil
	}

	observe.DefaultMetrics().RecordSearchQuery(ctx, "chronological")
	return idx.ListChronological(sessions, limit, 0), nil
}

// searchSemantic computes cosine similarity between the embedded query and
// every indexed session's vector. The second return reports whether at
// least one session in the chat had a usable embedding — when false, the
// caller must fall through to text search rather than returning no results.
func (idx *Index) searchSemantic(ctx context.Context, query string, sessions []*types.Session, limit int, minScore float64) ([]types.SearchResult, bool, error) {
	type scored struct {
		sess  *types.Session
		rec   types.EmbeddingRecord
		score float64
	}
	var candidates []scored
	for _, sess := range sessions {
		rec, err := idx.loadRecord(sess.ID)
		if err != nil {
			continue
		}
		candidates = append(candidates, scored{sess: sess, rec: rec})
	}
	if len(candidates) == 0 {
		return nil, false, nil
	}

	queryVec, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		observe.DefaultMetrics().RecordProviderError(ctx, "embedder", "embed_query")
		return nil, false, fmt.Errorf("embed: embed query: %w", err)
	}

	for i := range candidates {
		candidates[i].score = types.CosineSimilarity(queryVec, candidates[i].rec.Vector)
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if !candidates[i].sess.CreatedAt.Equal(candidates[j].sess.CreatedAt) {
			return candidates[i].sess.CreatedAt.After(candidates[j].sess.CreatedAt)
		}
		return candidates[i].sess.ID > candidates[j].sess.ID
	})

	var results []types.SearchResult
	for _, c := range candidates {
		if c.score < minScore {
			continue
		}
		if len(results) >= limit {
			break
		}
		results = append(results, types.SearchResult{
			SessionID:      c.sess.ID,
			DisplayName:    c.sess.IntelligibleName,
			RelevanceScore: c.score,
			MatchType:      types.MatchSemantic,
			Previews:       idx.previews(c.sess, query),
			CreatedAt:      c.sess.CreatedAt,
			AudioCount:     len(c.sess.AudioEntries),
		})
	}
	return results, true, nil
}

// searchText falls back to a substring/keyword scan over transcript text
// when no session has a usable embedding.
func (idx *Index) searchText(sessions []*types.Session, query string, limit int, minScore float64) []types.SearchResult {
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil
	}

	type scored struct {
		sess  *types.Session
		score float64
	}
	var candidates []scored
	for _, sess := range sessions {
		corpus, err := idx.transcriptCorpus(sess)
		if err != nil || corpus == "" {
			continue
		}
		lower := strings.ToLower(corpus)
		hits := strings.Count(lower, needle)
		if hits == 0 {
			continue
		}
		score := float64(hits*len(needle)) / float64(len(lower))
		if score > 1 {
			score = 1
		}
		candidates = append(candidates, scored{sess: sess, score: score})
	}
	if len(candidates) == 0 {
		return nil
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		if !candidates[i].sess.CreatedAt.Equal(candidates[j].sess.CreatedAt) {
			return candidates[i].sess.CreatedAt.After(candidates[j].sess.CreatedAt)
		}
		return candidates[i].sess.ID > candidates[j].sess.ID
	})

	var results []types.SearchResult
	for _, c := range candidates {
		if c.score < minScore {
			continue
		}
		if len(results) >= limit {
			break
		}
		results = append(results, types.SearchResult{
			SessionID:      c.sess.ID,
			DisplayName:    c.sess.IntelligibleName,
			RelevanceScore: c.score,
			MatchType:      types.MatchText,
			Previews:       idx.previews(c.sess, query),
			CreatedAt:      c.sess.CreatedAt,
			AudioCount:     len(c.sess.AudioEntries),
		})
	}
	return results
}

// ListChronological implements list_chronological — the final fallback tier,
// and also a standalone browsing operation.
func (idx *Index) ListChronological(sessions []*types.Session, limit, offset int) []types.SearchResult {
	ordered := append([]*types.Session(nil), sessions...)
	byRecencyThenID(ordered)

	if offset >= len(ordered) {
		return nil
	}
	ordered = ordered[offset:]
	if limit > 0 && len(ordered) > limit {
		ordered = ordered[:limit]
	}

	results := make([]types.SearchResult, 0, len(ordered))
	for _, sess := range ordered {
		results = append(results, types.SearchResult{
			SessionID:      sess.ID,
			DisplayName:    sess.IntelligibleName,
			RelevanceScore: 0,
			MatchType:      types.MatchChronological,
			CreatedAt:      sess.CreatedAt,
			AudioCount:     len(sess.AudioEntries),
		})
	}
	return results
}

// previews extracts up to three windows of ±previewWindow characters around
// occurrences of query inside the session's transcript corpus, with
// highlight spans relative to each fragment's own start.
func (idx *Index) previews(sess *types.Session, query string) []types.PreviewFragment {
	corpus, err := idx.transcriptCorpus(sess)
	if err != nil || corpus == "" {
		return nil
	}
	needle := strings.ToLower(strings.TrimSpace(query))
	if needle == "" {
		return nil
	}
	lower := strings.ToLower(corpus)

	var fragments []types.PreviewFragment
	start := 0
	for len(fragments) < 3 {
		pos := strings.Index(lower[start:], needle)
		if pos < 0 {
			break
		}
		matchStart := start + pos
		matchEnd := matchStart + len(needle)

		winStart := matchStart - previewWindow
		if winStart < 0 {
			winStart = 0
		}
		winEnd := matchEnd + previewWindow
		if winEnd > len(corpus) {
			winEnd = len(corpus)
		}

		fragments = append(fragments, types.PreviewFragment{
			Text: corpus[winStart:winEnd],
			Highlights: []types.HighlightSpan{{
				Start: matchStart - winStart,
				End:   matchEnd - winStart,
			}},
		})
		start = matchEnd
	}
	return fragments
}
