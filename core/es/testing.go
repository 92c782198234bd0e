package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"
)

// === Helpers ===

type TestingEnv struct {
	*Env
	t *testing.T
}

func (e *TestingEnv) Assert() *TestingEnvAssert {
	return &TestingEnvAssert{env: e}
}

func StartTestEnv(t *testing.T, opts ...EnvOption) *TestingEnv {
	t.Helper()
	return &TestingEnv{
		t:   t,
		Env: NewEnv(WithStore(NewInMemoryStore()), WithEnvOpts(opts...)),
	}
}

type TestingEnvAssert struct {
	env *TestingEnv
}

// Append writes raw events straight to the store, bypassing aggregates.
func (a *TestingEnvAssert) Append(
	ctx context.Context,
	aggType string,
	aggID uuid.UUID,
	expected Version,
	events ...Event,
) {
	a.env.t.Helper()
	envs := make([]Envelope, 0, len(events))
	for i, ev := range events {
		data, err := json.Marshal(ev)
		require.NoError(a.env.t, err)
		envs = append(envs, Envelope{
			ID:            gonanoid.Must(),
			AggregateType: aggType,
			AggregateID:   aggID,
			Seq:           expected + Version(i+1),
			Type:          ev.EventType(),
			OccurredAt:    time.Now().UTC(),
			Data:          data,
		})
	}
	_, err := a.env.Store().Append(ctx, aggType, aggID, expected, envs)
	require.NoError(a.env.t, err)
}

// StreamLen asserts the number of committed events of a stream.
func (a *TestingEnvAssert) StreamLen(ctx context.Context, aggType string, aggID uuid.UUID, n int) {
	a.env.t.Helper()
	envs, err := a.env.Store().Load(ctx, aggType, aggID)
	require.NoError(a.env.t, err)
	require.Len(a.env.t, envs, n)
}

// TestEnvelopes builds n contiguous envelopes for one stream, continuing
// after expected.
func TestEnvelopes(aggType string, aggID uuid.UUID, expected Version, n int) []Envelope {
	out := make([]Envelope, n)
	for i := range out {
		seq := expected + Version(i+1)
		out[i] = Envelope{
			ID:            gonanoid.Must(),
			AggregateType: aggType,
			AggregateID:   aggID,
			Seq:           seq,
			Type:          fmt.Sprintf("test_event_%d", seq),
			OccurredAt:    time.Now().UTC().Truncate(time.Microsecond),
			Data:          json.RawMessage(fmt.Sprintf(`{"n":%d}`, seq)),
		}
	}
	return out
}

// RunStoreConformance exercises the EventStore contract against stores
// produced by newStore. Each subtest gets a fresh store.
func RunStoreConformance(t *testing.T, newStore func(t *testing.T) EventStore) {
	const aggType = "conformance"
	ctx := context.Background()

	t.Run("load unknown stream is empty", func(t *testing.T) {
		s := newStore(t)
		envs, err := s.Load(ctx, aggType, uuid.New())
		require.NoError(t, err)
		require.Empty(t, envs)
	})

	t.Run("append then load in order", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()

		res, err := s.Append(ctx, aggType, id, NoVersion, TestEnvelopes(aggType, id, NoVersion, 2))
		require.NoError(t, err)
		require.Equal(t, Version(1), res.LastSeq)
		require.Len(t, res.Committed, 2)

		res, err = s.Append(ctx, aggType, id, 1, TestEnvelopes(aggType, id, 1, 3))
		require.NoError(t, err)
		require.Equal(t, Version(4), res.LastSeq)

		envs, err := s.Load(ctx, aggType, id)
		require.NoError(t, err)
		require.Len(t, envs, 5)
		for i, e := range envs {
			require.Equal(t, Version(i), e.Seq)
			require.Equal(t, id, e.AggregateID)
			require.Equal(t, aggType, e.AggregateType)
			require.Equal(t, fmt.Sprintf("test_event_%d", i), e.Type)
			require.JSONEq(t, fmt.Sprintf(`{"n":%d}`, i), string(e.Data))
			require.NotZero(t, e.Position)
		}
	})

	t.Run("streams are isolated", func(t *testing.T) {
		s := newStore(t)
		a, b := uuid.New(), uuid.New()

		_, err := s.Append(ctx, aggType, a, NoVersion, TestEnvelopes(aggType, a, NoVersion, 2))
		require.NoError(t, err)
		_, err = s.Append(ctx, aggType, b, NoVersion, TestEnvelopes(aggType, b, NoVersion, 1))
		require.NoError(t, err)

		envs, err := s.Load(ctx, aggType, b)
		require.NoError(t, err)
		require.Len(t, envs, 1)
		envs, err = s.Load(ctx, "other", a)
		require.NoError(t, err)
		require.Empty(t, envs)
	})

	t.Run("stale expected conflicts and writes nothing", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()

		_, err := s.Append(ctx, aggType, id, NoVersion, TestEnvelopes(aggType, id, NoVersion, 2))
		require.NoError(t, err)

		_, err = s.Append(ctx, aggType, id, 0, TestEnvelopes(aggType, id, 0, 2))
		require.ErrorIs(t, err, ErrConcurrencyConflict)

		_, err = s.Append(ctx, aggType, id, NoVersion, TestEnvelopes(aggType, id, NoVersion, 1))
		require.ErrorIs(t, err, ErrConcurrencyConflict)

		_, err = s.Append(ctx, aggType, uuid.New(), 3, TestEnvelopes(aggType, id, 3, 1))
		require.Error(t, err)

		envs, err := s.Load(ctx, aggType, id)
		require.NoError(t, err)
		require.Len(t, envs, 2)
	})

	t.Run("expected ahead of head conflicts", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()
		_, err := s.Append(ctx, aggType, id, 5, TestEnvelopes(aggType, id, 5, 1))
		require.ErrorIs(t, err, ErrConcurrencyConflict)
	})

	t.Run("invalid batches are rejected", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()

		_, err := s.Append(ctx, aggType, id, NoVersion, nil)
		require.ErrorIs(t, err, ErrStoreNoEvents)

		gap := TestEnvelopes(aggType, id, NoVersion, 3)
		gap = append(gap[:1], gap[2])
		_, err = s.Append(ctx, aggType, id, NoVersion, gap)
		require.Error(t, err)

		envs, err := s.Load(ctx, aggType, id)
		require.NoError(t, err)
		require.Empty(t, envs)
	})

	t.Run("load with start", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()
		_, err := s.Append(ctx, aggType, id, NoVersion, TestEnvelopes(aggType, id, NoVersion, 4))
		require.NoError(t, err)

		envs, err := s.Load(ctx, aggType, id, WithStartAt(2))
		require.NoError(t, err)
		require.Len(t, envs, 2)
		require.Equal(t, Version(2), envs[0].Seq)

		envs, err = s.Load(ctx, aggType, id, WithStartAt(9))
		require.NoError(t, err)
		require.Empty(t, envs)
	})

	t.Run("concurrent appends have a single winner", func(t *testing.T) {
		s := newStore(t)
		id := uuid.New()
		_, err := s.Append(ctx, aggType, id, NoVersion, TestEnvelopes(aggType, id, NoVersion, 1))
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			wins      int
			conflicts int
		)
		for range writers {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Append(ctx, aggType, id, 0, TestEnvelopes(aggType, id, 0, 1))
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					wins++
				case errors.Is(err, ErrConcurrencyConflict):
					conflicts++
				default:
					t.Errorf("unexpected error: %v", err)
				}
			}()
		}
		wg.Wait()

		require.Equal(t, 1, wins)
		require.Equal(t, writers-1, conflicts)

		envs, err := s.Load(ctx, aggType, id)
		require.NoError(t, err)
		require.Len(t, envs, 2)
	})

	t.Run("read all in commit order", func(t *testing.T) {
		s := newStore(t)
		reader, ok := s.(GlobalReader)
		if !ok {
			t.Skip("store has no global reader")
		}
		a, b := uuid.New(), uuid.New()
		_, err := s.Append(ctx, aggType, a, NoVersion, TestEnvelopes(aggType, a, NoVersion, 1))
		require.NoError(t, err)
		_, err = s.Append(ctx, aggType, b, NoVersion, TestEnvelopes(aggType, b, NoVersion, 2))
		require.NoError(t, err)
		_, err = s.Append(ctx, aggType, a, 0, TestEnvelopes(aggType, a, 0, 1))
		require.NoError(t, err)

		all, err := reader.ReadAll(ctx, 0, 100)
		require.NoError(t, err)
		require.Len(t, all, 4)
		require.Equal(t, a, all[0].AggregateID)
		require.Equal(t, b, all[1].AggregateID)
		require.Equal(t, b, all[2].AggregateID)
		require.Equal(t, a, all[3].AggregateID)
		require.Equal(t, Version(1), all[3].Seq)
		for i := 1; i < len(all); i++ {
			require.GreaterOrEqual(t, all[i].Position, all[i-1].Position)
		}

		rest, err := reader.ReadAll(ctx, all[0].Position, 100)
		require.NoError(t, err)
		require.Len(t, rest, 3)
	})
}
