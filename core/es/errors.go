package es

import (
	"errors"
	"fmt"
)

var (
	// ErrAggregateNotFound is returned when no creation event was ever committed for an ID.
	ErrAggregateNotFound = errors.New("aggregate not found")
	// ErrConcurrencyConflict is returned when the expected version is stale. Nothing was written.
	ErrConcurrencyConflict = errors.New("concurrency conflict")
	// ErrAlreadyDiscarded is returned for commands issued against a tombstoned aggregate.
	ErrAlreadyDiscarded = errors.New("aggregate already discarded")
	// ErrValidation is returned when command preconditions are violated.
	ErrValidation = errors.New("validation failed")
	// ErrInvariantViolation signals a broken log or mutator: out-of-order, unknown
	// or post-tombstone events. Callers must not swallow it.
	ErrInvariantViolation = errors.New("invariant violation")
	ErrUnknownEventType   = fmt.Errorf("%w: unknown event type", ErrInvariantViolation)
	// ErrProjection is returned by Save when the append was committed but a bus
	// handler failed afterwards.
	ErrProjection = errors.New("projection failed")

	ErrStoreNoEvents = errors.New("no events to store")
	// ErrDuplicateEvent is returned by stores when an envelope ID was already
	// committed. It is not a concurrency conflict.
	ErrDuplicateEvent = errors.New("duplicate event id")
)
