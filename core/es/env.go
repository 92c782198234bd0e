package es

import (
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Env wires a store, a bus and a repository that publishes on that bus.
type Env struct {
	id    string
	log   *slog.Logger
	store EventStore
	bus   *Bus
	repo  Repository
}

func NewEnv(opts ...EnvOption) *Env {
	var (
		id      = gonanoid.Must(6)
		options = newEnvOptions(opts...)
		log     = options.log.With(slog.String("env", id))
	)

	bus := NewBus(WithLog(log), WithMetrics(options.metrics))
	repo := NewRepository(
		options.store,
		WithLog(log),
		WithMetrics(options.metrics),
		WithRepoCache(options.cache),
		WithBus(bus),
		WithIDGenerator(options.idGen),
		WithTracer(options.tracer),
	)

	log.Debug("env created", slog.String("store", storeName(options.store)))

	return &Env{
		id:    id,
		log:   log,
		store: options.store,
		bus:   bus,
		repo:  repo,
	}
}

func (e *Env) ID() string             { return e.id }
func (e *Env) Log() *slog.Logger      { return e.log }
func (e *Env) Store() EventStore      { return e.store }
func (e *Env) Bus() *Bus              { return e.bus }
func (e *Env) Repository() Repository { return e.repo }

// Reader returns the store's GlobalReader, if it has one.
func (e *Env) Reader() (GlobalReader, bool) {
	r, ok := e.store.(GlobalReader)
	return r, ok
}

func storeName(s EventStore) string {
	if n, ok := s.(interface{ Name() string }); ok {
		return n.Name()
	}
	return "custom"
}
