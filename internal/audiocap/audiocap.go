// Package audiocap implements Audio Capture (spec §4.2): ingesting audio
// segments into a session, assigning sequence numbers, computing checksums,
// and reconciling on-disk files against metadata after a crash.
package audiocap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/oraculovoz/oraculo/internal/store"
	"github.com/oraculovoz/oraculo/pkg/types"
)

// ErrWrongState is returned when a chunk is submitted for a session that
// is not currently COLLECTING (spec §4.3: "audio ingestion is only
// accepted in COLLECTING").
var ErrWrongState = errors.New("audiocap: session is not in COLLECTING state")

// Capture ingests audio segments into sessions backed by a store.Store.
// Writes to any one session are serialized under that session's own mutex
// (spec §4.2/§5); cross-session operations never hold two session locks
// simultaneously.
type Capture struct {
	store *store.Store

	mu       sync.Mutex
	sessions map[string]*sync.Mutex
}

// New constructs a Capture backed by s.
func New(s *store.Store) *Capture {
	return &Capture{
		store:    s,
		sessions: make(map[string]*sync.Mutex),
	}
}

func (c *Capture) lockFor(id string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.sessions[id]
	if !ok {
		m = &sync.Mutex{}
		c.sessions[id] = m
	}
	return m
}

// IntegrityReport summarises the result of verify_integrity (spec §4.2).
type IntegrityReport struct {
	SessionID    string
	Checked      int
	Mismatches   []string
	MissingFiles []string
}

// OK reports whether every audio entry validated cleanly.
func (r IntegrityReport) OK() bool {
	return len(r.Mismatches) == 0 && len(r.MissingFiles) == 0
}

// AddAudioChunk implements add_audio_chunk: it assigns the next sequence
// number, writes data to a temp file, computes its checksum, renames the
// temp file into place, and appends the resulting AudioSegment to the
// session's metadata — all under the session's mutex, matching the
// five-step ordering in spec §4.2.
//
// Duplicate rejection: if data's checksum matches the checksum of the most
// recently recorded segment (a replayed message), the call is an idempotent
// no-op returning that segment. Bytes identical to an earlier segment that
// is not the most recent one are stored as a new segment.
func (c *Capture) AddAudioChunk(ctx context.Context, sessionID string, data []byte, ext string, receivedAt time.Time) (types.AudioSegment, error) {
	lock := c.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := c.store.Load(sessionID)
	if err != nil {
		return types.AudioSegment{}, fmt.Errorf("audiocap: load session: %w", err)
	}
	if sess.State != types.StateCollecting {
		return types.AudioSegment{}, ErrWrongState
	}

	checksum := store.ChecksumBytes(data)
	if dup, ok := c.findDuplicate(sess, checksum); ok {
		slog.Info("audiocap: duplicate chunk ignored", "session_id", sessionID, "sequence", dup.Sequence)
		return dup, nil
	}

	seq := sess.NextSequence()
	filename := fmt.Sprintf("%03d_%s.%s", seq, receivedAt.Format("150405"), ext)

	audioDir := c.store.AudioDir(sessionID)
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return types.AudioSegment{}, fmt.Errorf("audiocap: create audio dir: %w", err)
	}

	finalPath := filepath.Join(audioDir, filename)
	tmp, err := os.CreateTemp(audioDir, ".chunk-*.tmp")
	if err != nil {
		return types.AudioSegment{}, fmt.Errorf("audiocap: create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return types.AudioSegment{}, fmt.Errorf("audiocap: write chunk: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return types.AudioSegment{}, fmt.Errorf("audiocap: sync chunk: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return types.AudioSegment{}, fmt.Errorf("audiocap: close chunk: %w", err)
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return types.AudioSegment{}, fmt.Errorf("audiocap: rename chunk into place: %w", err)
	}

	segment := types.AudioSegment{
		Sequence:            seq,
		ReceivedAt:          receivedAt,
		LocalFilename:       filename,
		FileSizeBytes:       int64(len(data)),
		Checksum:            checksum,
		TranscriptionStatus: types.TranscriptionPending,
		ReopenEpoch:         sess.ReopenCount,
	}
	sess.AudioEntries = append(sess.AudioEntries, segment)

	if err := c.store.Save(sess); err != nil {
		// Failure mode per spec §4.2: orphan-recovery at next startup
		// reconciles files that exist on disk without a metadata entry.
		slog.Error("audiocap: metadata save failed after write; orphan recovery will reconcile", "session_id", sessionID, "sequence", seq, "error", err)
		return types.AudioSegment{}, fmt.Errorf("audiocap: save metadata: %w", err)
	}

	slog.Info("audiocap: chunk ingested", "session_id", sessionID, "sequence", seq, "bytes", len(data))
	return segment, nil
}

// findDuplicate reports whether checksum matches the most recently recorded
// segment — i.e. a message-transport replay of the same bytes the caller
// just successfully ingested. Earlier segments are not compared.
func (c *Capture) findDuplicate(sess *types.Session, checksum string) (types.AudioSegment, bool) {
	if len(sess.AudioEntries) == 0 {
		return types.AudioSegment{}, false
	}
	last := sess.AudioEntries[len(sess.AudioEntries)-1]
	if last.Checksum == checksum {
		return last, true
	}
	return types.AudioSegment{}, false
}

// VerifyIntegrity implements verify_integrity: recomputes and compares the
// checksum of every recorded audio entry against what is on disk.
func (c *Capture) VerifyIntegrity(sessionID string) (IntegrityReport, error) {
	lock := c.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := c.store.Load(sessionID)
	if err != nil {
		return IntegrityReport{}, fmt.Errorf("audiocap: load session: %w", err)
	}

	report := IntegrityReport{SessionID: sessionID}
	audioDir := c.store.AudioDir(sessionID)
	for _, seg := range sess.AudioEntries {
		report.Checked++
		path := filepath.Join(audioDir, seg.LocalFilename)
		sum, err := store.Checksum(path)
		if err != nil {
			report.MissingFiles = append(report.MissingFiles, seg.LocalFilename)
			continue
		}
		if sum != seg.Checksum {
			report.Mismatches = append(report.Mismatches, seg.LocalFilename)
		}
	}
	return report, nil
}

// RecoverOrphans implements recover_orphans: reconciles on-disk audio files
// against recorded metadata. Files present on disk with no corresponding
// metadata entry (left behind by a crash between steps (iv) and (v) of
// AddAudioChunk) are appended as new segments with recomputed sequence
// numbers and checksums.
func (c *Capture) RecoverOrphans(sessionID string) (added int, err error) {
	lock := c.lockFor(sessionID)
	lock.Lock()
	defer lock.Unlock()

	sess, err := c.store.Load(sessionID)
	if err != nil {
		return 0, fmt.Errorf("audiocap: load session: %w", err)
	}

	known := make(map[string]bool, len(sess.AudioEntries))
	for _, seg := range sess.AudioEntries {
		known[seg.LocalFilename] = true
	}

	audioDir := c.store.AudioDir(sessionID)
	entries, err := os.ReadDir(audioDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("audiocap: read audio dir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || known[e.Name()] {
			continue
		}
		path := filepath.Join(audioDir, e.Name())
		info, err := e.Info()
		if err != nil {
			continue
		}
		sum, err := store.Checksum(path)
		if err != nil {
			slog.Warn("audiocap: orphan file unreadable, skipping", "session_id", sessionID, "file", e.Name(), "error", err)
			continue
		}
		seq := sess.NextSequence()
		sess.AudioEntries = append(sess.AudioEntries, types.AudioSegment{
			Sequence:            seq,
			ReceivedAt:          info.ModTime(),
			LocalFilename:       e.Name(),
			FileSizeBytes:       info.Size(),
			Checksum:            sum,
			TranscriptionStatus: types.TranscriptionPending,
			ReopenEpoch:         sess.ReopenCount,
		})
		added++
		slog.Info("audiocap: recovered orphan file", "session_id", sessionID, "file", e.Name(), "sequence", seq)
	}

	if added > 0 {
		if err := c.store.Save(sess); err != nil {
			return 0, fmt.Errorf("audiocap: save recovered metadata: %w", err)
		}
	}
	return added, nil
}
