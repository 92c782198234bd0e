package es

import (
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/codewandler/estodo/core/cache"
)

const tracerName = "github.com/codewandler/estodo/core/es"

// IDGenerator is a function that generates unique IDs for event envelopes.
type IDGenerator func() string

// DefaultIDGenerator returns the default ID generator using nanoid.
func DefaultIDGenerator() IDGenerator {
	return func() string { return gonanoid.Must() }
}

type (
	valueOption[T any] struct{ v T }

	LogOption             valueOption[*slog.Logger]
	ESMetricsOption       valueOption[ESMetrics]
	StoreOption           valueOption[EventStore]
	RepoCacheOption       valueOption[cache.Cache]
	RepoBusOption         valueOption[*Bus]
	RepoIDGeneratorOption valueOption[IDGenerator]
	TracerOption          valueOption[trace.Tracer]
)

func WithLog(l *slog.Logger) LogOption            { return LogOption{v: l} }
func WithMetrics(m ESMetrics) ESMetricsOption     { return ESMetricsOption{v: m} }
func WithStore(s EventStore) StoreOption          { return StoreOption{v: s} }
func WithRepoCache(c cache.Cache) RepoCacheOption { return RepoCacheOption{v: c} }
func WithBus(b *Bus) RepoBusOption                { return RepoBusOption{v: b} }
func WithTracer(t trace.Tracer) TracerOption      { return TracerOption{v: t} }
func WithIDGenerator(gen IDGenerator) RepoIDGeneratorOption {
	return RepoIDGeneratorOption{v: gen}
}

// WithRepoCacheLRU caches committed streams in an LRU of the given size.
// A size <= 0 disables caching.
func WithRepoCacheLRU(size int) RepoCacheOption {
	if size <= 0 {
		return WithRepoCache(cache.NewNop())
	}
	return WithRepoCache(cache.NewLRU(cache.LRUOpts{Size: size}))
}

// === repository ===

type (
	repoOpts struct {
		log         *slog.Logger
		cache       cache.Cache
		bus         *Bus
		idGenerator IDGenerator
		metrics     ESMetrics
		tracer      trace.Tracer
	}

	RepositoryOption interface{ applyToRepository(*repoOpts) }
)

func (o LogOption) applyToRepository(r *repoOpts)             { r.log = o.v }
func (o ESMetricsOption) applyToRepository(r *repoOpts)       { r.metrics = o.v }
func (o RepoCacheOption) applyToRepository(r *repoOpts)       { r.cache = o.v }
func (o RepoBusOption) applyToRepository(r *repoOpts)         { r.bus = o.v }
func (o RepoIDGeneratorOption) applyToRepository(r *repoOpts) { r.idGenerator = o.v }
func (o TracerOption) applyToRepository(r *repoOpts)          { r.tracer = o.v }

func newRepoOpts(opts ...RepositoryOption) repoOpts {
	options := repoOpts{
		log:         slog.Default(),
		cache:       cache.NewNop(),
		idGenerator: DefaultIDGenerator(),
		metrics:     NopESMetrics(),
		tracer:      otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	return options
}

// === bus ===

type (
	busOpts struct {
		log     *slog.Logger
		metrics ESMetrics
	}

	BusOption interface{ applyToBus(*busOpts) }
)

func (o LogOption) applyToBus(b *busOpts)       { b.log = o.v }
func (o ESMetricsOption) applyToBus(b *busOpts) { b.metrics = o.v }

func newBusOpts(opts ...BusOption) busOpts {
	options := busOpts{
		log:     slog.Default(),
		metrics: NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToBus(&options)
	}
	return options
}

// === env ===

type (
	envOptions struct {
		log     *slog.Logger
		store   EventStore
		metrics ESMetrics
		cache   cache.Cache
		tracer  trace.Tracer
		idGen   IDGenerator
	}

	EnvOption interface{ applyToEnv(*envOptions) }
	EnvOpts   struct{ opts []EnvOption }
)

func WithEnvOpts(opts ...EnvOption) EnvOpts { return EnvOpts{opts: opts} }

func (o LogOption) applyToEnv(e *envOptions)             { e.log = o.v }
func (o ESMetricsOption) applyToEnv(e *envOptions)       { e.metrics = o.v }
func (o StoreOption) applyToEnv(e *envOptions)           { e.store = o.v }
func (o RepoCacheOption) applyToEnv(e *envOptions)       { e.cache = o.v }
func (o RepoIDGeneratorOption) applyToEnv(e *envOptions) { e.idGen = o.v }
func (o TracerOption) applyToEnv(e *envOptions)          { e.tracer = o.v }
func (o EnvOpts) applyToEnv(e *envOptions) {
	for _, opt := range o.opts {
		opt.applyToEnv(e)
	}
}

func newEnvOptions(opts ...EnvOption) envOptions {
	options := envOptions{
		log:     slog.Default(),
		metrics: NopESMetrics(),
		cache:   cache.NewNop(),
		idGen:   DefaultIDGenerator(),
		tracer:  otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt.applyToEnv(&options)
	}
	if options.store == nil {
		options.store = NewInMemoryStore()
	}
	return options
}
