// Package policy keeps the per-owner collections of todo lists in step with
// the todo list event streams.
package policy

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/codewandler/estodo/core/ds"
	"github.com/codewandler/estodo/core/es"
	"github.com/codewandler/estodo/internal/domain/collection"
	"github.com/codewandler/estodo/internal/domain/todolist"
)

const (
	rebuildPageSize = 500
	updateAttempts  = 16
)

// UserListPolicy adds a list to its owner's collection when the list starts
// and removes it when the list is discarded.
type UserListPolicy struct {
	log         *slog.Logger
	collections es.TypedRepository[*collection.Collection]
	subs        []*es.Subscription
	closeOnce   sync.Once
}

func NewUserListPolicy(
	log *slog.Logger,
	bus *es.Bus,
	collections es.TypedRepository[*collection.Collection],
) *UserListPolicy {
	p := &UserListPolicy{
		log:         log.With(slog.String("policy", "user_lists")),
		collections: collections,
	}
	p.subs = []*es.Subscription{
		bus.Subscribe("user_list_policy/started", p.handlerFor(todolist.TypeStarted), es.OfType(todolist.TypeStarted)),
		bus.Subscribe("user_list_policy/discarded", p.handlerFor(todolist.TypeDiscarded), es.OfType(todolist.TypeDiscarded)),
	}
	return p
}

// Close unsubscribes both handlers. It is safe to call more than once.
func (p *UserListPolicy) Close() {
	p.closeOnce.Do(func() {
		for _, sub := range p.subs {
			sub.Close()
		}
	})
}

// handlerFor handles only the events of eventType out of a delivered batch.
func (p *UserListPolicy) handlerFor(eventType string) es.HandlerFunc {
	return func(ctx context.Context, batch []es.Msg) error {
		msgs := slices.DeleteFunc(slices.Clone(batch), func(m es.Msg) bool { return m.Envelope.Type != eventType })
		return p.Handle(ctx, msgs...)
	}
}

// Handle applies msgs in order. Events other than list start and discard are
// ignored.
func (p *UserListPolicy) Handle(ctx context.Context, msgs ...es.Msg) error {
	for _, m := range msgs {
		listID := m.Envelope.AggregateID
		switch e := m.Event.(type) {
		case *todolist.TodoListStarted:
			if err := p.listStarted(ctx, e.OwnerID, listID); err != nil {
				return err
			}
		case *todolist.TodoListDiscarded:
			if err := p.listDiscarded(ctx, e.OwnerID, listID); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *UserListPolicy) listStarted(ctx context.Context, ownerID string, listID uuid.UUID) error {
	err := p.update(ctx, ownerID, true, func(c *collection.Collection) error { return c.Add(listID) })
	if err != nil {
		return err
	}
	p.log.Debug("list added", slog.String("owner", ownerID), slog.String("list", listID.String()))
	return nil
}

func (p *UserListPolicy) listDiscarded(ctx context.Context, ownerID string, listID uuid.UUID) error {
	err := p.update(ctx, ownerID, false, func(c *collection.Collection) error { return c.Remove(listID) })
	if err != nil {
		return err
	}
	p.log.Debug("list removed", slog.String("owner", ownerID), slog.String("list", listID.String()))
	return nil
}

// update loads the collection of ownerID, runs fn on it and saves the result.
// A missing collection is created when create is set and skipped otherwise.
// A save that loses a concurrency conflict is re-run from a fresh load.
func (p *UserListPolicy) update(ctx context.Context, ownerID string, create bool, fn func(*collection.Collection) error) error {
	var err error
	for range updateAttempts {
		var c *collection.Collection
		c, err = p.collections.GetByID(ctx, collection.IDFor(ownerID))
		if errors.Is(err, es.ErrAggregateNotFound) {
			if !create {
				return nil
			}
			c, err = collection.New(ownerID)
		}
		if err != nil {
			return fmt.Errorf("collection of %s: %w", ownerID, err)
		}
		if err = fn(c); err != nil {
			return err
		}
		err = p.collections.Save(ctx, c)
		if !errors.Is(err, es.ErrConcurrencyConflict) {
			return err
		}
	}
	return err
}

// Rebuild replays the global log and brings every owner's collection in line
// with the lists that were started and not discarded. It repairs collections
// left behind by a failed projection.
func (p *UserListPolicy) Rebuild(ctx context.Context, reader es.GlobalReader) error {
	want := ds.NewMap(func(string) *ds.Set[uuid.UUID] { return ds.NewSet[uuid.UUID]() })

	var after uint64
	for {
		page, err := reader.ReadAll(ctx, after, rebuildPageSize)
		if err != nil {
			return fmt.Errorf("read log: %w", err)
		}
		if len(page) == 0 {
			break
		}
		for _, env := range page {
			after = max(after, env.Position)
			if env.AggregateType != todolist.AggType {
				continue
			}
			if env.Type != todolist.TypeStarted && env.Type != todolist.TypeDiscarded {
				continue
			}
			ev, err := es.Decode(&todolist.TodoList{}, env)
			if err != nil {
				return err
			}
			switch e := ev.(type) {
			case *todolist.TodoListStarted:
				want.Ensure(e.OwnerID).Add(env.AggregateID)
			case *todolist.TodoListDiscarded:
				want.Ensure(e.OwnerID).Remove(env.AggregateID)
			}
		}
		if len(page) < rebuildPageSize {
			break
		}
	}

	for _, ownerID := range want.Keys().Values() {
		members, _ := want.Get(ownerID)
		if err := p.reconcile(ctx, ownerID, members); err != nil {
			return err
		}
	}
	p.log.Info("rebuilt", slog.Int("owners", want.Len()))
	return nil
}

func (p *UserListPolicy) reconcile(ctx context.Context, ownerID string, want *ds.Set[uuid.UUID]) error {
	var added, removed int
	err := p.update(ctx, ownerID, !want.IsEmpty(), func(c *collection.Collection) error {
		add, remove := c.MemberSet().Diff(want)
		added, removed = add.Len(), remove.Len()
		for _, id := range add.Values() {
			if err := c.Add(id); err != nil {
				return err
			}
		}
		for _, id := range remove.Values() {
			if err := c.Remove(id); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if added > 0 || removed > 0 {
		p.log.Info(
			"collection repaired",
			slog.String("owner", ownerID),
			slog.Int("added", added),
			slog.Int("removed", removed),
		)
	}
	return nil
}
