// Package es provides the event sourcing runtime: aggregates, an append-only
// event store contract, a repository with optimistic concurrency and a
// synchronous in-process event bus.
//
// # Aggregates
//
// An aggregate embeds [BaseAggregate], declares a closed set of events and
// implements two switches: NewEvent (decoding a persisted type tag) and Apply
// (the mutator). Commands record exactly one event through [RaiseAndApply]:
//
//	type Counter struct {
//	    es.BaseAggregate
//	    N int
//	}
//
//	func (c *Counter) Inc() error {
//	    return c.Checked(c.NotDiscarded(), es.RaiseAndApplyD(c, &Incremented{}))
//	}
//
// Every stream starts with a [CreationEvent] at sequence 0 and may end with a
// [TerminalEvent]. [ApplyEvent] refuses anything else with
// [ErrInvariantViolation], both on replay and on command execution.
//
// # Event store
//
// [EventStore] stores [Envelope] records per stream. Append is a
// compare-and-append on the stream head: the expected version must equal the
// stored head ([NoVersion] for a new stream), otherwise
// [ErrConcurrencyConflict] is returned and nothing is written. Stores that can
// read the whole log in commit order also implement [GlobalReader].
// [NewInMemoryStore] is the reference implementation; SQL and NATS JetStream
// stores live in adapters/. All of them are checked by [RunStoreConformance].
//
// # Repository
//
// [NewTypedRepository] binds a [Repository] to one aggregate type:
//
//	repo := es.NewTypedRepository[*Counter](log, es.NewRepository(store, es.WithBus(bus)))
//	err := repo.WithTransaction(ctx, id, func(c *Counter) error { return c.Inc() })
//
// Save with nothing staged does nothing. After a successful append the
// committed events are published on the configured [Bus] before Save returns;
// a handler error is reported wrapped in [ErrProjection] while the events stay
// committed. Conflicts are never retried here.
//
// # Bus
//
// [Bus.Subscribe] registers a [Handler] with a [Predicate] over event types.
// Publish delivers each subscriber the matching part of a commit, in order,
// and stops at the first handler error.
package es
