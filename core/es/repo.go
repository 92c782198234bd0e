package es

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"slices"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/estodo/core/cache"
)

// Repository rehydrates aggregates and persists their staged events with
// optimistic concurrency.
type Repository interface {
	// Load folds the stream of agg into agg. agg must be fresh: ID and type set,
	// nothing staged, never loaded.
	Load(ctx context.Context, agg Aggregate) error
	// Save commits the staged events of agg. It is a no-op when nothing is staged.
	Save(ctx context.Context, agg Aggregate) error
}

type repository struct {
	log         *slog.Logger
	store       EventStore
	cache       cache.TypedCache[[]Envelope]
	bus         *Bus
	idGenerator IDGenerator
	metrics     ESMetrics
	tracer      trace.Tracer
}

func NewRepository(store EventStore, opts ...RepositoryOption) Repository {
	options := newRepoOpts(opts...)
	return &repository{
		log:         options.log.With(slog.String("repo", fmt.Sprintf("%T", store))),
		store:       store,
		cache:       cache.NewTyped[[]Envelope](options.cache),
		bus:         options.bus,
		idGenerator: options.idGenerator,
		metrics:     options.metrics,
		tracer:      options.tracer,
	}
}

func cacheKey(aggType string, aggID uuid.UUID) string { return aggType + "/" + aggID.String() }

func aggAttrs(aggType string, aggID uuid.UUID, v Version) slog.Attr {
	return slog.Group(
		"agg",
		slog.String("type", aggType),
		slog.String("id", aggID.String()),
		v.SlogAttr(),
	)
}

func (r *repository) Load(ctx context.Context, agg Aggregate) (err error) {
	aggType := agg.GetAggType()
	if aggType == "" {
		return errors.New("aggregate type is empty")
	}
	aggID := agg.GetID()
	if aggID == uuid.Nil {
		return errors.New("aggregate id is empty")
	}
	if len(agg.Uncommitted()) != 0 {
		return errors.New("aggregate has uncommitted events (dirty=true)")
	}
	if agg.GetVersion() != NoVersion {
		return errors.New("aggregate is already loaded")
	}

	ctx, span := r.tracer.Start(ctx, "es.repository.load", trace.WithAttributes(
		attribute.String("aggregate.type", aggType),
		attribute.String("aggregate.id", aggID.String()),
	))
	defer func() {
		if err != nil && !errors.Is(err, ErrAggregateNotFound) {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer r.metrics.RepoLoadDuration(aggType).ObserveDuration()

	stream, err := r.loadStream(ctx, aggType, aggID)
	if err != nil {
		return err
	}

	for _, env := range stream {
		ev, err := Decode(agg, env)
		if err != nil {
			return fmt.Errorf("load %s %s seq %d: %w", aggType, aggID, env.Seq, err)
		}
		if err := ApplyEvent(agg, env.Seq, ev); err != nil {
			return fmt.Errorf("load %s %s: %w", aggType, aggID, err)
		}
	}

	if agg.GetVersion() == NoVersion {
		return fmt.Errorf("%w: %s %s", ErrAggregateNotFound, aggType, aggID)
	}

	span.SetAttributes(attribute.Int64("aggregate.version", agg.GetVersion().Int64()))
	r.log.Debug("loaded", aggAttrs(aggType, aggID, agg.GetVersion()), slog.Int("num_events", len(stream)))
	return nil
}

// loadStream returns the committed stream, topping up a cached prefix with
// the tail from the store.
func (r *repository) loadStream(ctx context.Context, aggType string, aggID uuid.UUID) ([]Envelope, error) {
	key := cacheKey(aggType, aggID)

	cached, hit := r.cache.Get(key)
	startAt := Version(0)
	if hit {
		r.metrics.CacheHit(aggType)
		if n := len(cached); n > 0 {
			startAt = cached[n-1].Seq.Next()
		}
	} else {
		r.metrics.CacheMiss(aggType)
	}

	timer := r.metrics.StoreLoadDuration(aggType)
	tail, err := r.store.Load(ctx, aggType, aggID, WithStartAt(startAt))
	timer.ObserveDuration()
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", aggType, aggID, err)
	}

	stream := append(slices.Clone(cached), tail...)
	if len(stream) > 0 {
		r.cache.Put(key, stream)
	}
	return stream, nil
}

func (r *repository) Save(ctx context.Context, agg Aggregate) (err error) {
	pending := agg.Uncommitted()
	if len(pending) == 0 {
		return nil
	}
	aggType := agg.GetAggType()
	if aggType == "" {
		return errors.New("aggregate type is empty")
	}
	aggID := agg.GetID()
	if aggID == uuid.Nil {
		return errors.New("aggregate id is empty")
	}

	ctx, span := r.tracer.Start(ctx, "es.repository.save", trace.WithAttributes(
		attribute.String("aggregate.type", aggType),
		attribute.String("aggregate.id", aggID.String()),
		attribute.Int("events", len(pending)),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	defer r.metrics.RepoSaveDuration(aggType).ObserveDuration()

	expected := pending[0].Seq - 1
	envs := make([]Envelope, 0, len(pending))
	for _, p := range pending {
		data, err := json.Marshal(p.Event)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", p.Event.EventType(), err)
		}
		env := Envelope{
			ID:            r.idGenerator(),
			AggregateType: aggType,
			AggregateID:   aggID,
			Seq:           p.Seq,
			Type:          p.Event.EventType(),
			OccurredAt:    p.OccurredAt,
			Data:          data,
		}
		if err := env.Validate(); err != nil {
			return err
		}
		envs = append(envs, env)
	}

	key := cacheKey(aggType, aggID)
	timer := r.metrics.StoreAppendDuration(aggType)
	res, err := r.store.Append(ctx, aggType, aggID, expected, envs)
	timer.ObserveDuration()
	if err != nil {
		if errors.Is(err, ErrConcurrencyConflict) {
			r.metrics.ConcurrencyConflict(aggType)
			r.cache.Delete(key)
		}
		return fmt.Errorf("failed to save agg_type=%s agg_id=%s: %w", aggType, aggID, err)
	}
	if res == nil {
		return errors.New("append returned nil result")
	}

	agg.ClearUncommitted()
	r.metrics.EventsAppended(aggType, len(envs))

	committed := res.Committed
	if len(committed) != len(envs) {
		committed = envs
	}
	if cached, ok := r.cache.Get(key); ok && len(cached) > 0 && cached[len(cached)-1].Seq == expected {
		r.cache.Put(key, append(slices.Clone(cached), committed...))
	} else if expected == NoVersion {
		r.cache.Put(key, slices.Clone(committed))
	} else {
		r.cache.Delete(key)
	}

	r.log.Debug("saved", aggAttrs(aggType, aggID, res.LastSeq), slog.Int("num_events", len(envs)))

	if r.bus == nil {
		return nil
	}
	batch := make([]Msg, len(committed))
	for i, env := range committed {
		batch[i] = Msg{Envelope: env, Event: pending[i].Event}
	}
	if err := r.bus.Publish(ctx, batch); err != nil {
		return fmt.Errorf("%w: %w", ErrProjection, err)
	}
	return nil
}

var _ Repository = (*repository)(nil)

// === TypedRepository ===

// TypedRepository is a Repository bound to one aggregate type.
type TypedRepository[T Aggregate] interface {
	GetAggType() string
	New() T
	NewWithID(id uuid.UUID) T
	GetByID(ctx context.Context, id uuid.UUID) (T, error)
	Save(ctx context.Context, agg T) error
	// WithTransaction loads the aggregate, runs fn and saves what fn staged.
	// Nothing is saved if fn fails.
	WithTransaction(ctx context.Context, id uuid.UUID, fn func(T) error) error
}

type typedRepo[T Aggregate] struct {
	r   Repository
	log *slog.Logger
}

func NewTypedRepository[T Aggregate](log *slog.Logger, r Repository) TypedRepository[T] {
	return &typedRepo[T]{r: r, log: log.With(slog.String("repo", fmt.Sprintf("%T", *new(T))))}
}

func (t *typedRepo[T]) New() T { return t.NewWithID(uuid.Nil) }

func (t *typedRepo[T]) NewWithID(id uuid.UUID) T {
	var a T
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if rt.Kind() == reflect.Pointer {
		a = reflect.New(rt.Elem()).Interface().(T)
	}
	a.SetID(id)
	return a
}

func (t *typedRepo[T]) GetAggType() string { return t.New().GetAggType() }

func (t *typedRepo[T]) GetByID(ctx context.Context, id uuid.UUID) (a T, err error) {
	if id == uuid.Nil {
		return a, errors.New("aggregate id is empty")
	}
	a = t.NewWithID(id)
	if err = t.r.Load(ctx, a); err != nil {
		return *new(T), err
	}
	return a, nil
}

func (t *typedRepo[T]) Save(ctx context.Context, agg T) error { return t.r.Save(ctx, agg) }

func (t *typedRepo[T]) WithTransaction(ctx context.Context, id uuid.UUID, fn func(T) error) error {
	a, err := t.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if err := fn(a); err != nil {
		return err
	}
	return t.Save(ctx, a)
}
