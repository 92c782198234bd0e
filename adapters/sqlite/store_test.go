package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/estodo/core/es"
)

func openMemory(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), StoreConfig{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_Conformance(t *testing.T) {
	es.RunStoreConformance(t, func(t *testing.T) es.EventStore { return openMemory(t) })
}

func TestStore_Reopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "todo.db")
	id := uuid.New()

	s, err := Open(ctx, StoreConfig{Path: path})
	require.NoError(t, err)
	_, err = s.Append(ctx, "reopen", id, es.NoVersion, es.TestEnvelopes("reopen", id, es.NoVersion, 3))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, StoreConfig{Path: path})
	require.NoError(t, err)
	defer s.Close()

	envs, err := s.Load(ctx, "reopen", id)
	require.NoError(t, err)
	require.Len(t, envs, 3)
	require.False(t, envs[0].OccurredAt.IsZero())

	_, err = s.Append(ctx, "reopen", id, 1, es.TestEnvelopes("reopen", id, 1, 1))
	require.ErrorIs(t, err, es.ErrConcurrencyConflict)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(context.Background(), StoreConfig{Path: "  "})
	require.Error(t, err)
}

func TestStore_DuplicateEnvelopeID(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	a, b := uuid.New(), uuid.New()

	envs := es.TestEnvelopes("dup", a, es.NoVersion, 1)
	_, err := s.Append(ctx, "dup", a, es.NoVersion, envs)
	require.NoError(t, err)

	again := es.TestEnvelopes("dup", b, es.NoVersion, 1)
	again[0].ID = envs[0].ID
	_, err = s.Append(ctx, "dup", b, es.NoVersion, again)
	require.Error(t, err)
	require.NotErrorIs(t, err, es.ErrConcurrencyConflict)
	require.ErrorIs(t, err, es.ErrDuplicateEvent)

	loaded, err := s.Load(ctx, "dup", b)
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestIsStreamSeqConflict(t *testing.T) {
	ctx := context.Background()
	s := openMemory(t)
	id := uuid.New()
	_, err := s.Append(ctx, "keys", id, es.NoVersion, es.TestEnvelopes("keys", id, es.NoVersion, 1))
	require.NoError(t, err)

	insert := func(eventID string, seq int64) error {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO events (id, aggregate_type, aggregate_id, seq, type, occurred_at, data)
			VALUES (?, 'keys', ?, ?, 'x', '2026-01-01T00:00:00Z', '{}')`,
			eventID, id.String(), seq,
		)
		return err
	}

	err = insert("fresh-id", 0)
	require.Error(t, err)
	require.True(t, isStreamSeqConflict(err))

	loaded, err := s.Load(ctx, "keys", id)
	require.NoError(t, err)
	err = insert(loaded[0].ID, 1)
	require.Error(t, err)
	require.False(t, isStreamSeqConflict(err))
}
