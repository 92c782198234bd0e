// Package app is the todo application: it starts lists, runs commands against
// them with bounded retries and answers which lists an owner has.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/estodo/core/cache"
	"github.com/codewandler/estodo/core/es"
	"github.com/codewandler/estodo/core/perkey"
	"github.com/codewandler/estodo/core/sf"
	"github.com/codewandler/estodo/internal/domain/collection"
	"github.com/codewandler/estodo/internal/domain/todolist"
	"github.com/codewandler/estodo/internal/policy"
)

const DefaultMaxAttempts = 3

// ErrNoGlobalReader is returned by RebuildCollections for stores that cannot
// read the whole log.
var ErrNoGlobalReader = errors.New("store cannot read the global log")

type Config struct {
	Store es.EventStore
	Log   *slog.Logger
	// ESMetrics instruments store, repository and bus. Optional.
	ESMetrics es.ESMetrics
	// Metrics instruments commands. Optional.
	Metrics Metrics
	Tracer  trace.Tracer
	// CacheSize is the number of streams kept in the repository cache; 0 disables it.
	CacheSize int
	// MaxAttempts bounds how often a command runs when it keeps conflicting.
	MaxAttempts int
}

type TodoApp struct {
	log         *slog.Logger
	env         *es.Env
	cache       cache.Cache
	lists       es.TypedRepository[*todolist.TodoList]
	collections es.TypedRepository[*collection.Collection]
	policy      *policy.UserListPolicy
	querySub    *es.Subscription
	sched       *perkey.Scheduler[uuid.UUID]
	queries     *sf.Singleflight[[]uuid.UUID]
	metrics     Metrics
	maxAttempts int
}

func New(cfg Config) *TodoApp {
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.ESMetrics == nil {
		cfg.ESMetrics = es.NopESMetrics()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = nopMetrics{}
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}

	var c cache.Cache = cache.NewNop()
	if cfg.CacheSize > 0 {
		c = cache.NewLRU(cache.LRUOpts{Size: cfg.CacheSize})
	}

	opts := []es.EnvOption{
		es.WithLog(cfg.Log),
		es.WithMetrics(cfg.ESMetrics),
		es.WithRepoCache(c),
	}
	if cfg.Store != nil {
		opts = append(opts, es.WithStore(cfg.Store))
	}
	if cfg.Tracer != nil {
		opts = append(opts, es.WithTracer(cfg.Tracer))
	}
	env := es.NewEnv(opts...)

	a := &TodoApp{
		log:         env.Log().With(slog.String("app", "todo")),
		env:         env,
		cache:       c,
		lists:       es.NewTypedRepository[*todolist.TodoList](env.Log(), env.Repository()),
		collections: es.NewTypedRepository[*collection.Collection](env.Log(), env.Repository()),
		sched:       perkey.New[uuid.UUID](),
		queries:     sf.New[[]uuid.UUID](),
		metrics:     cfg.Metrics,
		maxAttempts: cfg.MaxAttempts,
	}
	a.policy = policy.NewUserListPolicy(a.log, env.Bus(), a.collections)
	a.querySub = env.Bus().Subscribe(
		"todo_app/collection_queries",
		es.HandlerFunc(a.forgetQueries),
		es.OfType(collection.TypeCreated, collection.TypeItemAdded, collection.TypeItemRemoved),
	)
	return a
}

// Close detaches the projection and stops the command scheduler.
func (a *TodoApp) Close() {
	a.querySub.Close()
	a.policy.Close()
	a.sched.Close()
	a.cache.Close()
}

// StartTodoList creates a list for ownerID and returns its ID. When only the
// collection update failed the list exists: the ID is returned together with
// an error wrapping es.ErrProjection.
func (a *TodoApp) StartTodoList(ctx context.Context, ownerID string) (id uuid.UUID, err error) {
	defer a.observe("start_list")(&err)

	l, err := todolist.Start(uuid.New(), ownerID)
	if err != nil {
		return uuid.Nil, err
	}
	if err := a.lists.Save(ctx, l); err != nil {
		if errors.Is(err, es.ErrProjection) {
			return l.GetID(), err
		}
		return uuid.Nil, err
	}
	a.log.Info("list started", slog.String("owner", ownerID), slog.String("list", l.GetID().String()))
	return l.GetID(), nil
}

// GetTodoList returns the current state of a list. Discarded lists are
// returned too; check IsDiscarded.
func (a *TodoApp) GetTodoList(ctx context.Context, id uuid.UUID) (*todolist.TodoList, error) {
	return a.lists.GetByID(ctx, id)
}

func (a *TodoApp) AddItem(ctx context.Context, id uuid.UUID, item string) error {
	return a.Execute(ctx, "add_item", id, func(l *todolist.TodoList) error { return l.AddItem(item) })
}

func (a *TodoApp) UpdateItem(ctx context.Context, id uuid.UUID, index int, item string) error {
	return a.Execute(ctx, "update_item", id, func(l *todolist.TodoList) error { return l.UpdateItem(index, item) })
}

func (a *TodoApp) DiscardItem(ctx context.Context, id uuid.UUID, index int) error {
	return a.Execute(ctx, "discard_item", id, func(l *todolist.TodoList) error { return l.DiscardItem(index) })
}

func (a *TodoApp) DiscardList(ctx context.Context, id uuid.UUID) error {
	return a.Execute(ctx, "discard_list", id, func(l *todolist.TodoList) error { return l.Discard() })
}

// Execute runs fn against freshly loaded state of list id and saves the
// result. Commands for one list run one at a time; an attempt that loses a
// concurrency conflict is re-run from a fresh load, up to MaxAttempts in
// total. Every other error ends the command.
func (a *TodoApp) Execute(ctx context.Context, command string, id uuid.UUID, fn func(*todolist.TodoList) error) (err error) {
	defer a.observe(command)(&err)

	return a.sched.DoContext(ctx, id, func() error {
		var err error
		for attempt := 1; attempt <= a.maxAttempts; attempt++ {
			err = a.lists.WithTransaction(ctx, id, fn)
			if !errors.Is(err, es.ErrConcurrencyConflict) || errors.Is(err, es.ErrProjection) {
				return err
			}
			if attempt == a.maxAttempts {
				break
			}
			a.metrics.CommandRetried(command).Inc()
			a.log.Debug(
				"conflict, retrying",
				slog.String("command", command),
				slog.String("list", id.String()),
				slog.Int("attempt", attempt),
			)
		}
		return fmt.Errorf("%s gave up after %d attempts: %w", command, a.maxAttempts, err)
	})
}

// GetTodoListCollection returns the IDs of the lists of ownerID in the order
// they were started. An unknown owner has no lists.
func (a *TodoApp) GetTodoListCollection(ctx context.Context, ownerID string) ([]uuid.UUID, error) {
	id := collection.IDFor(ownerID)
	ids, _, err := a.queries.Do(id.String(), func() ([]uuid.UUID, error) {
		c, err := a.collections.GetByID(ctx, id)
		if errors.Is(err, es.ErrAggregateNotFound) {
			return []uuid.UUID{}, nil
		}
		if err != nil {
			return nil, err
		}
		return c.Members(), nil
	})
	if err != nil {
		return nil, err
	}
	// results are shared between collapsed callers
	return append([]uuid.UUID{}, ids...), nil
}

// forgetQueries detaches in-flight collection queries from collections that
// just committed, so a query issued after a command sees its effect.
func (a *TodoApp) forgetQueries(_ context.Context, batch []es.Msg) error {
	for _, m := range batch {
		if m.Envelope.AggregateType == collection.AggType {
			a.queries.Forget(m.Envelope.AggregateID.String())
		}
	}
	return nil
}

// RebuildCollections re-derives every owner's collection from the global log.
func (a *TodoApp) RebuildCollections(ctx context.Context) error {
	reader, ok := a.env.Reader()
	if !ok {
		return ErrNoGlobalReader
	}
	return a.policy.Rebuild(ctx, reader)
}

func (a *TodoApp) observe(command string) func(*error) {
	timer := a.metrics.CommandDuration(command)
	return func(err *error) {
		timer.ObserveDuration()
		a.metrics.CommandCompleted(command, *err == nil)
	}
}
