package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oraculovoz/oraculo/internal/store"
	"github.com/oraculovoz/oraculo/pkg/types"
)

func newManager(t *testing.T) (*Manager, *store.Store) {
	t.Helper()
	s, err := store.New(t.TempDir())
	require.NoError(t, err)
	return New(s), s
}

func TestCreateSession_AssignsTimestampID(t *testing.T) {
	m, _ := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	sess, err := m.CreateSession(42, now)
	require.NoError(t, err)
	assert.Equal(t, "2025-01-01_10-00-00", sess.ID)
	assert.Equal(t, types.StateCollecting, sess.State)
	assert.True(t, sess.UIPreferences.IncludeLLMHistory)
}

func TestCreateSession_ConflictWhenActive(t *testing.T) {
	m, _ := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	_, err := m.CreateSession(42, now)
	require.NoError(t, err)

	_, err = m.CreateSession(42, now.Add(time.Minute))
	var conflict *ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, int64(42), conflict.ChatID)
}

func TestCreateSession_DifferentChatsDoNotConflict(t *testing.T) {
	m, _ := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)

	_, err := m.CreateSession(1, now)
	require.NoError(t, err)
	_, err = m.CreateSession(2, now)
	require.NoError(t, err)
}

func TestFinalizeSession_TransitionsAndClearsActive(t *testing.T) {
	m, s := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	sess, err := m.CreateSession(7, now)
	require.NoError(t, err)
	sess.AudioEntries = []types.AudioSegment{{Sequence: 1, TranscriptionStatus: types.TranscriptionPending}}
	require.NoError(t, s.Save(sess))

	got, pending, err := m.FinalizeSession(sess.ID, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, types.StateTranscribing, got.State)
	assert.Len(t, pending, 1)
	require.NotNil(t, got.FinalizedAt)

	_, ok := m.ActiveSession(7)
	assert.False(t, ok)
}

func TestFinalizeSession_RejectsFromWrongState(t *testing.T) {
	m, s := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	sess, err := m.CreateSession(7, now)
	require.NoError(t, err)
	sess.State = types.StateReady
	require.NoError(t, s.Save(sess))

	_, _, err = m.FinalizeSession(sess.ID, now)
	var illegal *IllegalStateTransitionError
	assert.ErrorAs(t, err, &illegal)
}

func TestReopenSession_IncrementsCounterAndReclaimsActive(t *testing.T) {
	m, s := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	sess, err := m.CreateSession(7, now)
	require.NoError(t, err)
	sess.State = types.StateReady
	require.NoError(t, s.Save(sess))
	m.registryMu.Lock()
	delete(m.active, 7)
	m.registryMu.Unlock()

	got, err := m.ReopenSession(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateCollecting, got.State)
	assert.Equal(t, 1, got.ReopenCount)

	id, ok := m.ActiveSession(7)
	assert.True(t, ok)
	assert.Equal(t, sess.ID, id)
}

func TestReopenSession_ConflictsWithDifferentActiveSession(t *testing.T) {
	m, s := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	ready, err := m.CreateSession(7, now)
	require.NoError(t, err)
	ready.State = types.StateReady
	require.NoError(t, s.Save(ready))
	m.registryMu.Lock()
	delete(m.active, 7)
	m.registryMu.Unlock()

	_, err = m.CreateSession(7, now.Add(time.Hour))
	require.NoError(t, err)

	_, err = m.ReopenSession(ready.ID)
	var conflict *ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestTranscriptionDone_AnySucceededMovesToTranscribed(t *testing.T) {
	m, s := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	sess, err := m.CreateSession(7, now)
	require.NoError(t, err)
	sess.State = types.StateTranscribing
	require.NoError(t, s.Save(sess))

	got, err := m.TranscriptionDone(sess.ID, true)
	require.NoError(t, err)
	assert.Equal(t, types.StateTranscribed, got.State)
}

func TestTranscriptionDone_AllFailedMovesToError(t *testing.T) {
	m, s := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	sess, err := m.CreateSession(7, now)
	require.NoError(t, err)
	sess.State = types.StateTranscribing
	require.NoError(t, s.Save(sess))

	got, err := m.TranscriptionDone(sess.ID, false)
	require.NoError(t, err)
	assert.Equal(t, types.StateError, got.State)
	require.Len(t, got.Errors, 1)
}

func TestEmbeddingDone_ReachesReady(t *testing.T) {
	m, s := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	sess, err := m.CreateSession(7, now)
	require.NoError(t, err)
	sess.State = types.StateTranscribed
	require.NoError(t, s.Save(sess))

	got, err := m.EmbeddingDone(sess.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateReady, got.State)
}

func TestDetectInterruptedSessions_MovesCollectingToInterrupted(t *testing.T) {
	m, s := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	collecting, err := m.CreateSession(7, now)
	require.NoError(t, err)
	ready, err := m.CreateSession(8, now.Add(time.Minute))
	require.NoError(t, err)
	ready.State = types.StateReady
	require.NoError(t, s.Save(ready))

	interrupted, err := m.DetectInterruptedSessions()
	require.NoError(t, err)
	require.Len(t, interrupted, 1)
	assert.Equal(t, collecting.ID, interrupted[0].ID)

	got, err := s.Load(collecting.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateInterrupted, got.State)
}

func TestUpdateSessionName_OnceOnly(t *testing.T) {
	m, _ := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	sess, err := m.CreateSession(7, now)
	require.NoError(t, err)

	got, err := m.UpdateSessionName(sess.ID, "trip planning")
	require.NoError(t, err)
	assert.Equal(t, "trip planning", got.IntelligibleName)
	assert.Equal(t, types.NameSourceTranscript, got.NameSource)

	got2, err := m.UpdateSessionName(sess.ID, "something else")
	require.NoError(t, err)
	assert.Equal(t, "trip planning", got2.IntelligibleName)
}

func TestUpdateSessionName_CollisionAppendsSuffix(t *testing.T) {
	m, _ := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	s1, err := m.CreateSession(1, now)
	require.NoError(t, err)
	s2, err := m.CreateSession(2, now.Add(time.Hour))
	require.NoError(t, err)

	_, err = m.UpdateSessionName(s1.ID, "trip")
	require.NoError(t, err)

	got, err := m.UpdateSessionName(s2.ID, "trip")
	require.NoError(t, err)
	assert.Equal(t, "trip (2)", got.IntelligibleName)
}

func TestResolveConflictFinalize(t *testing.T) {
	m, _ := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	active, err := m.CreateSession(7, now)
	require.NoError(t, err)

	fresh, err := m.ResolveConflictFinalize(7, now.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, active.ID, fresh.ID)

	id, ok := m.ActiveSession(7)
	assert.True(t, ok)
	assert.Equal(t, fresh.ID, id)
}

func TestResolveConflictDiscard(t *testing.T) {
	m, s := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	active, err := m.CreateSession(7, now)
	require.NoError(t, err)

	fresh, err := m.ResolveConflictDiscard(7, now.Add(time.Hour))
	require.NoError(t, err)
	assert.NotEqual(t, active.ID, fresh.ID)

	_, err = s.Load(active.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRebuildRegistry(t *testing.T) {
	m, s := newManager(t)
	now := time.Date(2025, 1, 1, 10, 0, 0, 0, time.UTC)
	collecting, err := m.CreateSession(7, now)
	require.NoError(t, err)
	ready, err := m.CreateSession(8, now.Add(time.Minute))
	require.NoError(t, err)
	ready.State = types.StateReady
	require.NoError(t, s.Save(ready))

	m2 := New(s)
	require.NoError(t, m2.RebuildRegistry())

	id, ok := m2.ActiveSession(7)
	assert.True(t, ok)
	assert.Equal(t, collecting.ID, id)

	_, ok = m2.ActiveSession(8)
	assert.False(t, ok)
}

func TestDeriveName_FiltersStopWordsAndCaps(t *testing.T) {
	name := DeriveName("the quick plan for a trip to lisbon", 3)
	assert.Equal(t, "quick plan trip", name)
}
