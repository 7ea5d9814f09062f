package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oraculovoz/oraculo/pkg/types"
)

func newTestSession(id string) *types.Session {
	return &types.Session{
		ID:               id,
		ChatID:           42,
		State:            types.StateCollecting,
		CreatedAt:        time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC),
		IntelligibleName: id,
		NameSource:       types.NameSourceDefault,
		UIPreferences:    types.UIPreferences{IncludeLLMHistory: true},
	}
}

func TestNew_EmptyRoot(t *testing.T) {
	_, err := New("")
	assert.Error(t, err)
}

func TestNew_CreatesRoot(t *testing.T) {
	root := filepath.Join(t.TempDir(), "sessions")
	s, err := New(root)
	require.NoError(t, err)
	_, err = os.Stat(s.Root)
	assert.NoError(t, err)
}

func TestSaveLoad_RoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	sess := newTestSession("2025-01-01_10-00-00")
	require.NoError(t, s.Save(sess))

	got, err := s.Load(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, sess.ID, got.ID)
	assert.Equal(t, sess.ChatID, got.ChatID)
	assert.Equal(t, sess.State, got.State)
	assert.True(t, sess.CreatedAt.Equal(got.CreatedAt))
}

func TestLoad_NotFound(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestLoad_MalformedJSON(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	dir := s.SessionDir("bad")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, metadataFile), []byte("{not json"), 0o644))

	_, err = s.Load("bad")
	var corrupt *CorruptSessionError
	assert.ErrorAs(t, err, &corrupt)
}

func TestLoad_IDMismatch(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	sess := newTestSession("actual-id")
	require.NoError(t, s.Save(sess))

	dir := s.SessionDir("actual-id")
	renamed := s.SessionDir("looked-up-as")
	require.NoError(t, os.Rename(dir, renamed))

	_, err = s.Load("looked-up-as")
	var corrupt *CorruptSessionError
	assert.ErrorAs(t, err, &corrupt)
}

func TestLoad_UnrecognisedState(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	sess := newTestSession("weird-state")
	require.NoError(t, s.Save(sess))

	raw, err := os.ReadFile(s.metadataPath(sess.ID))
	require.NoError(t, err)
	tampered := []byte(`{"id":"weird-state","state":"NOT_A_STATE"}`)
	_ = raw
	require.NoError(t, os.WriteFile(s.metadataPath(sess.ID), tampered, 0o644))

	_, err = s.Load(sess.ID)
	var corrupt *CorruptSessionError
	assert.ErrorAs(t, err, &corrupt)
}

func TestLoad_ChecksumMismatch(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	sess := newTestSession("with-audio")
	sess.AudioEntries = []types.AudioSegment{{
		Sequence:            1,
		LocalFilename:       "001_100000.wav",
		Checksum:            "deadbeef",
		TranscriptionStatus: types.TranscriptionPending,
	}}
	require.NoError(t, s.Save(sess))

	require.NoError(t, os.MkdirAll(s.AudioDir(sess.ID), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(s.AudioDir(sess.ID), "001_100000.wav"), []byte("audio bytes"), 0o644))

	_, err = s.Load(sess.ID)
	var corrupt *CorruptSessionError
	assert.ErrorAs(t, err, &corrupt)
}

func TestLoad_SequenceGap(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	sess := newTestSession("gap")
	sess.AudioEntries = []types.AudioSegment{{Sequence: 2, LocalFilename: "x"}}
	require.NoError(t, s.Save(sess))

	_, err = s.Load(sess.ID)
	var corrupt *CorruptSessionError
	assert.ErrorAs(t, err, &corrupt)
}

func TestList_OrderedAndFiltered(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Save(newTestSession("2025-01-02_00-00-00")))
	require.NoError(t, s.Save(newTestSession("2025-01-01_00-00-00")))
	require.NoError(t, os.MkdirAll(filepath.Join(s.Root, "not-a-session"), 0o755))

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"2025-01-01_00-00-00", "2025-01-02_00-00-00"}, ids)
}

func TestDelete(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	sess := newTestSession("to-delete")
	require.NoError(t, s.Save(sess))
	require.NoError(t, s.Delete(sess.ID))

	_, err = s.Load(sess.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDelete_NotFound(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	err = s.Delete("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestChecksumBytes_MatchesFileChecksum(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "f.bin")
	data := []byte("hello world")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	fromFile, err := Checksum(path)
	require.NoError(t, err)
	assert.Equal(t, ChecksumBytes(data), fromFile)
}
