// Package store implements the Session Store (spec §4.1): atomic JSON
// persistence of session metadata on a local filesystem, with the
// directory layout that every other component assumes.
package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/oraculovoz/oraculo/pkg/types"
)

// CorruptSessionError is returned by Load when a session's on-disk state
// fails schema, state, or checksum validation. Callers offer the session
// for recovery or deletion rather than treating this as a generic IOError.
type CorruptSessionError struct {
	ID     string
	Reason string
}

func (e *CorruptSessionError) Error() string {
	return fmt.Sprintf("store: session %q is corrupt: %s", e.ID, e.Reason)
}

// ErrNotFound is returned by Load and Delete when no session with the
// given id exists on disk.
var ErrNotFound = errors.New("store: session not found")

const metadataFile = "metadata.json"

// Store persists sessions as self-describing directories under Root,
// following the layout in spec §4.1:
//
//	sessions/<id>/metadata.json
//	sessions/<id>/embeddings.json?
//	sessions/<id>/audio/<NNN>_<hhmmss>.<ext>
//	sessions/<id>/audio/tts/<NNN>_<persona>.<fmt>
//	sessions/<id>/transcripts/<NNN>_<hhmmss>.txt
//	sessions/<id>/llm_responses/<NNN>_<persona>.txt
//	sessions/<id>/logs/llm_traffic.jsonl
//	sessions/<id>/process/input.txt
//	sessions/<id>/process/output/…
type Store struct {
	Root string
}

// New constructs a Store rooted at root. root is created if it does not
// already exist.
func New(root string) (*Store, error) {
	if root == "" {
		return nil, errors.New("store: root must not be empty")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("store: create root %q: %w", root, err)
	}
	return &Store{Root: root}, nil
}

// SessionDir returns the directory a session's artifacts live under.
func (s *Store) SessionDir(id string) string {
	return filepath.Join(s.Root, id)
}

// AudioDir returns the directory raw audio segments are written to.
func (s *Store) AudioDir(id string) string {
	return filepath.Join(s.SessionDir(id), "audio")
}

// TTSDir returns the directory TTS artifacts are written to.
func (s *Store) TTSDir(id string) string {
	return filepath.Join(s.AudioDir(id), "tts")
}

// TranscriptsDir returns the directory transcripts are written to.
func (s *Store) TranscriptsDir(id string) string {
	return filepath.Join(s.SessionDir(id), "transcripts")
}

// LLMResponsesDir returns the directory oracle responses are written to.
func (s *Store) LLMResponsesDir(id string) string {
	return filepath.Join(s.SessionDir(id), "llm_responses")
}

// LogsDir returns the directory per-session logs are written to.
func (s *Store) LogsDir(id string) string {
	return filepath.Join(s.SessionDir(id), "logs")
}

// ProcessDir returns the directory the narrative pipeline reads/writes.
func (s *Store) ProcessDir(id string) string {
	return filepath.Join(s.SessionDir(id), "process")
}

// EmbeddingsPath returns the path to a session's embeddings.json.
func (s *Store) EmbeddingsPath(id string) string {
	return filepath.Join(s.SessionDir(id), "embeddings.json")
}

func (s *Store) metadataPath(id string) string {
	return filepath.Join(s.SessionDir(id), metadataFile)
}

// Save atomically persists sess's metadata: marshal to a temp file inside
// the session directory, then rename over metadata.json. Rename is atomic
// within a POSIX filesystem, so readers always observe either the prior
// complete snapshot or the new one — never a partial write (spec §3
// invariant 6).
func (s *Store) Save(sess *types.Session) error {
	if sess == nil {
		return errors.New("store: nil session")
	}
	if sess.ID == "" {
		return errors.New("store: session id must not be empty")
	}

	dir := s.SessionDir(sess.ID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("store: create session dir: %w", err)
	}

	data, err := json.MarshalIndent(sess, "", "  ")
	if err != nil {
		return fmt.Errorf("store: marshal session %q: %w", sess.ID, err)
	}

	tmp, err := os.CreateTemp(dir, ".metadata-*.json.tmp")
	if err != nil {
		return fmt.Errorf("store: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("store: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("store: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("store: close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, s.metadataPath(sess.ID)); err != nil {
		return fmt.Errorf("store: rename into place: %w", err)
	}
	return nil
}

// Load reads and validates the session with the given id. A session whose
// metadata.json fails to parse, names an unrecognised state, or fails
// checksum validation for any of its audio entries is returned alongside a
// *CorruptSessionError.
func (s *Store) Load(id string) (*types.Session, error) {
	raw, err := os.ReadFile(s.metadataPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: read metadata for %q: %w", id, err)
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	var sess types.Session
	if err := dec.Decode(&sess); err != nil {
		return nil, &CorruptSessionError{ID: id, Reason: fmt.Sprintf("malformed metadata.json: %v", err)}
	}
	if sess.ID != id {
		return nil, &CorruptSessionError{ID: id, Reason: fmt.Sprintf("metadata id %q does not match directory %q", sess.ID, id)}
	}
	if !sess.State.IsValid() {
		return nil, &CorruptSessionError{ID: id, Reason: fmt.Sprintf("unrecognised state %q", sess.State)}
	}
	if err := s.validateSequences(&sess); err != nil {
		return nil, &CorruptSessionError{ID: id, Reason: err.Error()}
	}
	if err := s.validateChecksums(&sess); err != nil {
		return nil, &CorruptSessionError{ID: id, Reason: err.Error()}
	}
	return &sess, nil
}

// validateSequences enforces spec §3 invariant 2: segment sequence numbers
// within a session form a dense 1..N range.
func (s *Store) validateSequences(sess *types.Session) error {
	for i, seg := range sess.AudioEntries {
		if seg.Sequence != i+1 {
			return fmt.Errorf("audio_entries[%d] has sequence %d, expected %d", i, seg.Sequence, i+1)
		}
	}
	return nil
}

func (s *Store) validateChecksums(sess *types.Session) error {
	for _, seg := range sess.AudioEntries {
		path := filepath.Join(s.AudioDir(sess.ID), seg.LocalFilename)
		sum, err := fileChecksum(path)
		if err != nil {
			return fmt.Errorf("segment %d: %w", seg.Sequence, err)
		}
		if sum != seg.Checksum {
			return fmt.Errorf("segment %d: checksum mismatch (metadata %s, disk %s)", seg.Sequence, seg.Checksum, sum)
		}
	}
	return nil
}

// List returns the ids of all sessions present under Root, in
// lexicographic order (session ids are timestamp-literal and thus also
// chronological).
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.Root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("store: read root: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := os.Stat(filepath.Join(s.Root, e.Name(), metadataFile)); err == nil {
			ids = append(ids, e.Name())
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Delete removes a session's entire directory tree.
func (s *Store) Delete(id string) error {
	dir := s.SessionDir(id)
	if _, err := os.Stat(dir); err != nil {
		if os.IsNotExist(err) {
			return ErrNotFound
		}
		return fmt.Errorf("store: stat session dir: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("store: remove session dir: %w", err)
	}
	return nil
}
