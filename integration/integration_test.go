package integration

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/estodo/adapters/nats"
	"github.com/codewandler/estodo/adapters/postgres"
	"github.com/codewandler/estodo/adapters/sqlite"
	"github.com/codewandler/estodo/core/es"
	"github.com/codewandler/estodo/internal/app"
)

type backend struct {
	name string
	open func(t *testing.T) es.EventStore
}

func backends() []backend {
	return []backend{
		{"memory", func(*testing.T) es.EventStore { return es.NewInMemoryStore() }},
		{"sqlite", func(t *testing.T) es.EventStore {
			s, err := sqlite.Open(context.Background(), sqlite.StoreConfig{Path: filepath.Join(t.TempDir(), "todo.db")})
			require.NoError(t, err)
			t.Cleanup(func() { _ = s.Close() })
			return s
		}},
		{"postgres", func(t *testing.T) es.EventStore {
			return postgres.OpenTestStore(t, postgres.NewTestContainer(t))
		}},
		{"nats", func(t *testing.T) es.EventStore {
			return nats.NewTestEventStore(t, nats.NewTestContainer(t))
		}},
	}
}

func newApp(t *testing.T, store es.EventStore, maxAttempts int) *app.TodoApp {
	t.Helper()
	a := app.New(app.Config{
		Store:       store,
		Log:         slog.New(slog.NewTextHandler(io.Discard, nil)),
		CacheSize:   64,
		MaxAttempts: maxAttempts,
	})
	t.Cleanup(a.Close)
	return a
}

func TestScenarios(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			store := b.open(t)
			a := newApp(t, store, 0)
			ctx := context.Background()

			// A
			ids, err := a.GetTodoListCollection(ctx, "owner-x")
			require.NoError(t, err)
			require.Empty(t, ids)
			l1, err := a.StartTodoList(ctx, "owner-x")
			require.NoError(t, err)
			ids, err = a.GetTodoListCollection(ctx, "owner-x")
			require.NoError(t, err)
			require.Equal(t, []uuid.UUID{l1}, ids)

			// B
			require.NoError(t, a.AddItem(ctx, l1, "item1"))
			require.NoError(t, a.UpdateItem(ctx, l1, 0, "item1.1"))
			list, err := a.GetTodoList(ctx, l1)
			require.NoError(t, err)
			require.Equal(t, []string{"item1.1"}, list.Items)
			require.NoError(t, a.DiscardItem(ctx, l1, 0))
			list, err = a.GetTodoList(ctx, l1)
			require.NoError(t, err)
			require.Empty(t, list.Items)
			require.Equal(t, es.Version(3), list.GetVersion())

			// C
			require.NoError(t, a.DiscardList(ctx, l1))
			ids, err = a.GetTodoListCollection(ctx, "owner-x")
			require.NoError(t, err)
			require.Empty(t, ids)
			list, err = a.GetTodoList(ctx, l1)
			require.NoError(t, err)
			require.True(t, list.IsDiscarded())
			require.ErrorIs(t, a.AddItem(ctx, l1, "late"), es.ErrAlreadyDiscarded)

			// D
			x, err := a.StartTodoList(ctx, "owner-x")
			require.NoError(t, err)
			y, err := a.StartTodoList(ctx, "owner-y")
			require.NoError(t, err)
			xs, err := a.GetTodoListCollection(ctx, "owner-x")
			require.NoError(t, err)
			ys, err := a.GetTodoListCollection(ctx, "owner-y")
			require.NoError(t, err)
			require.Equal(t, []uuid.UUID{x}, xs)
			require.Equal(t, []uuid.UUID{y}, ys)

			// a fresh process rebuilds the same collections from the log
			fresh := newApp(t, store, 0)
			require.NoError(t, fresh.RebuildCollections(ctx))
			xs, err = fresh.GetTodoListCollection(ctx, "owner-x")
			require.NoError(t, err)
			require.Equal(t, []uuid.UUID{x}, xs)
		})
	}
}

func TestCompetingProcesses(t *testing.T) {
	for _, b := range backends() {
		t.Run(b.name, func(t *testing.T) {
			store := b.open(t)
			ctx := context.Background()
			p1 := newApp(t, store, 50)
			p2 := newApp(t, store, 50)

			id, err := p1.StartTodoList(ctx, "owner")
			require.NoError(t, err)

			const perProcess = 5
			var wg sync.WaitGroup
			for _, p := range []*app.TodoApp{p1, p2} {
				for range perProcess {
					wg.Add(1)
					go func() {
						defer wg.Done()
						if err := p.AddItem(ctx, id, "item"); err != nil {
							t.Errorf("add item: %v", err)
						}
					}()
				}
			}
			wg.Wait()

			for _, p := range []*app.TodoApp{p1, p2} {
				list, err := p.GetTodoList(ctx, id)
				require.NoError(t, err)
				require.Len(t, list.Items, 2*perProcess)
				require.Equal(t, es.Version(2*perProcess), list.GetVersion())
			}
		})
	}
}
