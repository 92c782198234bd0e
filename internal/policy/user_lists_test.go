package policy

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/estodo/core/es"
	"github.com/codewandler/estodo/internal/domain/collection"
	"github.com/codewandler/estodo/internal/domain/todolist"
)

type eventLog interface {
	es.EventStore
	es.GlobalReader
}

type fixture struct {
	store       eventLog
	bus         *es.Bus
	lists       es.TypedRepository[*todolist.TodoList]
	collections es.TypedRepository[*collection.Collection]
	policy      *UserListPolicy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	return newFixtureOn(t, es.NewInMemoryStore())
}

func newFixtureOn(t *testing.T, store eventLog) *fixture {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := es.NewBus(es.WithLog(log))
	repo := es.NewRepository(store, es.WithLog(log), es.WithBus(bus))
	f := &fixture{
		store:       store,
		bus:         bus,
		lists:       es.NewTypedRepository[*todolist.TodoList](log, repo),
		collections: es.NewTypedRepository[*collection.Collection](log, repo),
	}
	f.policy = NewUserListPolicy(log, bus, f.collections)
	t.Cleanup(f.policy.Close)
	return f
}

func (f *fixture) start(t *testing.T, owner string) *todolist.TodoList {
	t.Helper()
	l, err := todolist.Start(uuid.New(), owner)
	require.NoError(t, err)
	require.NoError(t, f.lists.Save(context.Background(), l))
	return l
}

func (f *fixture) members(t *testing.T, owner string) []uuid.UUID {
	t.Helper()
	c, err := f.collections.GetByID(context.Background(), collection.IDFor(owner))
	if errors.Is(err, es.ErrAggregateNotFound) {
		return nil
	}
	require.NoError(t, err)
	return c.Members()
}

func TestUserListPolicy_StartAndDiscard(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	require.Empty(t, f.members(t, "alice"))

	l1 := f.start(t, "alice")
	require.Equal(t, []uuid.UUID{l1.GetID()}, f.members(t, "alice"))

	l2 := f.start(t, "alice")
	require.Equal(t, []uuid.UUID{l1.GetID(), l2.GetID()}, f.members(t, "alice"))

	require.NoError(t, l1.AddItem("milk"))
	require.NoError(t, f.lists.Save(ctx, l1))
	require.Len(t, f.members(t, "alice"), 2)

	require.NoError(t, l1.Discard())
	require.NoError(t, f.lists.Save(ctx, l1))
	require.Equal(t, []uuid.UUID{l2.GetID()}, f.members(t, "alice"))
}

func TestUserListPolicy_OwnersAreIsolated(t *testing.T) {
	f := newFixture(t)

	a := f.start(t, "alice")
	b := f.start(t, "bob")

	require.NotEqual(t, collection.IDFor("alice"), collection.IDFor("bob"))
	require.Equal(t, []uuid.UUID{a.GetID()}, f.members(t, "alice"))
	require.Equal(t, []uuid.UUID{b.GetID()}, f.members(t, "bob"))
}

func TestUserListPolicy_BatchAndIdempotence(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.policy.Close()

	l1, l2 := uuid.New(), uuid.New()
	msg := func(id uuid.UUID, ev todolist.Event) es.Msg {
		return es.Msg{Envelope: es.Envelope{AggregateType: todolist.AggType, AggregateID: id, Type: ev.EventType()}, Event: ev}
	}

	require.NoError(t, f.policy.Handle(ctx,
		msg(l1, &todolist.TodoListStarted{OwnerID: "alice"}),
		msg(l2, &todolist.TodoListStarted{OwnerID: "alice"}),
		msg(l1, &todolist.TodoItemAdded{Item: "ignored"}),
		msg(l1, &todolist.TodoListStarted{OwnerID: "alice"}),
	))
	require.Equal(t, []uuid.UUID{l1, l2}, f.members(t, "alice"))

	c, err := f.collections.GetByID(ctx, collection.IDFor("alice"))
	require.NoError(t, err)
	require.Equal(t, es.Version(2), c.GetVersion())

	// discarding twice and discarding for an unknown owner are no-ops
	require.NoError(t, f.policy.Handle(ctx,
		msg(l1, &todolist.TodoListDiscarded{OwnerID: "alice"}),
		msg(l1, &todolist.TodoListDiscarded{OwnerID: "alice"}),
		msg(uuid.New(), &todolist.TodoListDiscarded{OwnerID: "nobody"}),
	))
	require.Equal(t, []uuid.UUID{l2}, f.members(t, "alice"))
	require.Empty(t, f.members(t, "nobody"))
}

func TestUserListPolicy_Close(t *testing.T) {
	f := newFixture(t)
	require.Equal(t, 2, f.bus.Len())

	f.policy.Close()
	f.policy.Close()
	require.Zero(t, f.bus.Len())

	f.start(t, "alice")
	require.Empty(t, f.members(t, "alice"))
}

func TestUserListPolicy_HandlerFailureSurfaces(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	f.policy.Close()
	boom := errors.New("collection store down")
	f.bus.Subscribe("broken", es.HandlerFunc(func(context.Context, []es.Msg) error { return boom }), es.OfType(todolist.TypeStarted))

	l, err := todolist.Start(uuid.New(), "alice")
	require.NoError(t, err)
	err = f.lists.Save(ctx, l)
	require.ErrorIs(t, err, es.ErrProjection)
	require.ErrorIs(t, err, boom)

	// the list itself is committed
	_, err = f.lists.GetByID(ctx, l.GetID())
	require.NoError(t, err)
}

func TestUserListPolicy_Rebuild(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	a1 := f.start(t, "alice")
	a2 := f.start(t, "alice")
	b1 := f.start(t, "bob")
	require.NoError(t, a1.Discard())
	require.NoError(t, f.lists.Save(ctx, a1))

	// lists written while the projection was detached
	f.policy.Close()
	a3 := f.start(t, "alice")
	c1 := f.start(t, "carol")
	require.NoError(t, b1.Discard())
	require.NoError(t, f.lists.Save(ctx, b1))

	require.Equal(t, []uuid.UUID{a2.GetID()}, f.members(t, "alice"))
	require.Equal(t, []uuid.UUID{b1.GetID()}, f.members(t, "bob"))
	require.Empty(t, f.members(t, "carol"))

	require.NoError(t, f.policy.Rebuild(ctx, f.store))

	require.Equal(t, []uuid.UUID{a2.GetID(), a3.GetID()}, f.members(t, "alice"))
	require.Empty(t, f.members(t, "bob"))
	require.Equal(t, []uuid.UUID{c1.GetID()}, f.members(t, "carol"))

	// a second rebuild changes nothing
	before, err := f.store.ReadAll(ctx, 0, 0)
	require.NoError(t, err)
	require.NoError(t, f.policy.Rebuild(ctx, f.store))
	after, err := f.store.ReadAll(ctx, 0, 0)
	require.NoError(t, err)
	require.Len(t, after, len(before))
}

func TestUserListPolicy_MixedBatchAppliedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	l, err := todolist.Start(uuid.New(), "alice")
	require.NoError(t, err)
	require.NoError(t, l.Discard())
	require.NoError(t, f.lists.Save(ctx, l))

	c, err := f.collections.GetByID(ctx, collection.IDFor("alice"))
	require.NoError(t, err)
	require.Empty(t, c.Members())
	// created, added, removed
	require.Equal(t, es.Version(2), c.GetVersion())
}

// racingCollectionStore lets another writer add a member right before the
// next collection append once race is set.
type racingCollectionStore struct {
	*es.InMemoryStore
	race atomic.Bool
}

func (s *racingCollectionStore) Append(ctx context.Context, aggType string, aggID uuid.UUID, expected es.Version, events []es.Envelope) (*es.StoreAppendResult, error) {
	if aggType == collection.AggType && expected >= 0 && s.race.CompareAndSwap(true, false) {
		data, _ := json.Marshal(&collection.ItemAdded{ItemID: uuid.New()})
		_, err := s.InMemoryStore.Append(ctx, aggType, aggID, expected, []es.Envelope{{
			ID:            uuid.NewString(),
			AggregateType: aggType,
			AggregateID:   aggID,
			Seq:           expected + 1,
			Type:          collection.TypeItemAdded,
			OccurredAt:    time.Now().UTC(),
			Data:          data,
		}})
		if err != nil {
			return nil, err
		}
	}
	return s.InMemoryStore.Append(ctx, aggType, aggID, expected, events)
}

func TestUserListPolicy_RebuildRetriesOnConflict(t *testing.T) {
	ctx := context.Background()
	store := &racingCollectionStore{InMemoryStore: es.NewInMemoryStore()}
	f := newFixtureOn(t, store)

	a1 := f.start(t, "alice")
	f.policy.Close()
	a2 := f.start(t, "alice")

	store.race.Store(true)
	require.NoError(t, f.policy.Rebuild(ctx, f.store))
	require.False(t, store.race.Load())

	require.Equal(t, []uuid.UUID{a1.GetID(), a2.GetID()}, f.members(t, "alice"))
}

func TestUserListPolicy_StartRetriesOnConflict(t *testing.T) {
	store := &racingCollectionStore{InMemoryStore: es.NewInMemoryStore()}
	f := newFixtureOn(t, store)

	a1 := f.start(t, "alice")
	store.race.Store(true)
	a2 := f.start(t, "alice")
	require.False(t, store.race.Load())

	members := f.members(t, "alice")
	require.Len(t, members, 3)
	require.Equal(t, a1.GetID(), members[0])
	require.Equal(t, a2.GetID(), members[2])
}
