package es

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/codewandler/estodo/core/es/assert"
)

// Aggregate is the core interface for event-sourced domain objects.
// It defines the contract that all aggregate roots must implement to work
// with the Repository for loading and persisting state through events.
//
// The typical lifecycle is:
//  1. Create a new aggregate via a creation command, or load one via Repository
//  2. Execute domain logic that calls RaiseAndApply to record exactly one event
//  3. Apply() is called to update internal state from each event
//  4. Save via Repository which persists uncommitted events and calls ClearUncommitted()
//
// Aggregates must embed BaseAggregate, which carries the bookkeeping the
// framework relies on.
type Aggregate interface {
	EventFactory

	// GetAggType returns the aggregate type name used for stream identification.
	GetAggType() string
	GetID() uuid.UUID
	SetID(uuid.UUID)

	// GetVersion returns the sequence number of the last applied event, or
	// NoVersion if the aggregate was never created.
	GetVersion() Version
	IsDiscarded() bool

	// Apply is the mutator. It dispatches on the concrete event type and must
	// either fully apply the event or return an error without touching state.
	Apply(event Event) error

	// Uncommitted returns a copy of events raised but not yet persisted.
	Uncommitted() []Pending
	// ClearUncommitted removes all uncommitted events after successful save.
	ClearUncommitted()

	setVersion(Version)
	markDiscarded()
	stage(Pending)
}

// Pending is an event that was raised and applied locally but not committed.
type Pending struct {
	Seq        Version
	OccurredAt time.Time
	Event      Event
}

// BaseAggregate is an embeddable helper that tracks version, tombstone and
// uncommitted events.
type BaseAggregate struct {
	id          uuid.UUID
	created     bool
	version     Version
	discarded   bool
	uncommitted []Pending
}

func (b *BaseAggregate) GetID() uuid.UUID   { return b.id }
func (b *BaseAggregate) SetID(id uuid.UUID) { b.id = id }
func (b *BaseAggregate) IsCreated() bool    { return b.created }
func (b *BaseAggregate) IsDiscarded() bool  { return b.discarded }

func (b *BaseAggregate) GetVersion() Version {
	if !b.created {
		return NoVersion
	}
	return b.version
}

func (b *BaseAggregate) setVersion(v Version) {
	b.version = v
	b.created = true
}

func (b *BaseAggregate) markDiscarded()  { b.discarded = true }
func (b *BaseAggregate) stage(p Pending) { b.uncommitted = append(b.uncommitted, p) }
func (b *BaseAggregate) ClearUncommitted() {
	b.uncommitted = nil
}

func (b *BaseAggregate) Uncommitted() []Pending {
	out := make([]Pending, len(b.uncommitted))
	copy(out, b.uncommitted)
	return out
}

// Checked runs thenFunc only if c holds.
func (b *BaseAggregate) Checked(c assert.Cond, thenFunc func() error) error {
	if err := c.Check(); err != nil {
		return err
	}
	return thenFunc()
}

// NotDiscarded is the precondition shared by every command on a live aggregate.
func (b *BaseAggregate) NotDiscarded() assert.Cond {
	return assert.Wrap(ErrAlreadyDiscarded, assert.False(b.discarded, "aggregate is live"))
}

// === Mutation ===

// ApplyEvent applies ev at sequence seq. It is the single path through which
// both replay and command execution mutate an aggregate, and it refuses
// anything that would break the stream invariants.
func ApplyEvent(agg Aggregate, seq Version, ev Event) error {
	if ev == nil {
		return fmt.Errorf("%w: nil event at seq %d", ErrInvariantViolation, seq)
	}
	if agg.IsDiscarded() {
		return fmt.Errorf(
			"%w: %s %s is discarded, cannot apply %s at seq %d",
			ErrInvariantViolation, agg.GetAggType(), agg.GetID(), ev.EventType(), seq,
		)
	}
	if want := agg.GetVersion().Next(); seq != want {
		return fmt.Errorf(
			"%w: %s %s expected seq %d, got %d (%s)",
			ErrInvariantViolation, agg.GetAggType(), agg.GetID(), want, seq, ev.EventType(),
		)
	}

	_, creates := ev.(CreationEvent)
	switch {
	case seq == 0 && !creates:
		return fmt.Errorf("%w: first event of %s must be a creation event, got %s", ErrInvariantViolation, agg.GetAggType(), ev.EventType())
	case seq > 0 && creates:
		return fmt.Errorf("%w: %s %s already created", ErrInvariantViolation, agg.GetAggType(), agg.GetID())
	}

	if err := agg.Apply(ev); err != nil {
		if errors.Is(err, ErrInvariantViolation) {
			return err
		}
		return fmt.Errorf("%w: apply %s: %w", ErrInvariantViolation, ev.EventType(), err)
	}

	agg.setVersion(seq)
	if _, ok := ev.(TerminalEvent); ok {
		agg.markDiscarded()
	}
	return nil
}

// RaiseAndApply stamps ev with the next sequence number, applies it and
// stages it for commit. Commands call it exactly once.
func RaiseAndApply(agg Aggregate, ev Event) error {
	if agg.IsDiscarded() {
		return fmt.Errorf("%w: %s %s", ErrAlreadyDiscarded, agg.GetAggType(), agg.GetID())
	}
	if v, ok := ev.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("%w: invalid event %s: %w", ErrValidation, ev.EventType(), err)
		}
	}

	seq := agg.GetVersion().Next()
	if err := ApplyEvent(agg, seq, ev); err != nil {
		return err
	}
	agg.stage(Pending{Seq: seq, OccurredAt: time.Now().UTC(), Event: ev})
	return nil
}

// RaiseAndApplyD defers RaiseAndApply, for use with BaseAggregate.Checked.
func RaiseAndApplyD(agg Aggregate, ev Event) func() error {
	return func() error {
		return RaiseAndApply(agg, ev)
	}
}
