package es

import (
	"context"
	"fmt"

	"github.com/google/uuid"
)

type (
	storeLoadOptions struct {
		startSeq Version
	}

	// StoreLoadOption narrows what EventStore.Load returns.
	StoreLoadOption interface {
		applyToStoreLoadOptions(*storeLoadOptions)
	}

	startSeqOption valueOption[Version]
)

func (o startSeqOption) applyToStoreLoadOptions(opts *storeLoadOptions) { opts.startSeq = o.v }

// WithStartAt makes Load skip events with a sequence number below seq.
func WithStartAt(seq Version) StoreLoadOption { return startSeqOption{v: seq} }

// NewStoreLoadOptions resolves load options. Store adapters call it.
func NewStoreLoadOptions(opts ...StoreLoadOption) (startSeq Version) {
	options := storeLoadOptions{}
	for _, opt := range opts {
		opt.applyToStoreLoadOptions(&options)
	}
	return max(options.startSeq, 0)
}

type (
	// StoreAppendResult describes a committed batch.
	StoreAppendResult struct {
		LastSeq Version
		// Committed holds the appended envelopes with their store-assigned positions.
		Committed []Envelope
	}

	// EventStore stores and loads envelopes per aggregate stream.
	//
	// Load returns the stream in ascending Seq order and an empty slice (not an
	// error) for an unknown stream.
	//
	// Append atomically checks that the stream head equals expected (NoVersion
	// for a stream that must not exist yet) and writes the whole batch, or
	// returns ErrConcurrencyConflict and writes nothing.
	EventStore interface {
		Load(ctx context.Context, aggType string, aggID uuid.UUID, opts ...StoreLoadOption) ([]Envelope, error)
		Append(ctx context.Context, aggType string, aggID uuid.UUID, expected Version, events []Envelope) (*StoreAppendResult, error)
	}

	// GlobalReader reads the whole log in commit order. Projections use it to
	// rebuild read models from scratch.
	GlobalReader interface {
		ReadAll(ctx context.Context, afterPosition uint64, limit int) ([]Envelope, error)
	}
)

// CheckAppend validates a batch before a store tries to commit it: it must be
// non-empty, belong to a single stream, and continue that stream from expected
// without gaps.
func CheckAppend(aggType string, aggID uuid.UUID, expected Version, events []Envelope) error {
	if len(events) == 0 {
		return ErrStoreNoEvents
	}
	if aggType == "" {
		return fmt.Errorf("aggregate type is empty")
	}
	if aggID == uuid.Nil {
		return fmt.Errorf("aggregate id is empty")
	}
	if expected < NoVersion {
		return fmt.Errorf("invalid expected version %d", expected)
	}
	for i, e := range events {
		if err := e.Validate(); err != nil {
			return fmt.Errorf("event %d: %w", i, err)
		}
		if e.AggregateType != aggType || e.AggregateID != aggID {
			return fmt.Errorf("event %d: belongs to %s/%s, not %s/%s", i, e.AggregateType, e.AggregateID, aggType, aggID)
		}
		if want := expected + Version(i+1); e.Seq != want {
			return fmt.Errorf("%w: event %d has seq %d, want %d", ErrInvariantViolation, i, e.Seq, want)
		}
	}
	return nil
}

// ConflictError reports a stale expected version.
func ConflictError(aggType string, aggID uuid.UUID, expected, actual Version) error {
	return fmt.Errorf(
		"%w: expected version %d, got %d (agg_type=%s agg_id=%s)",
		ErrConcurrencyConflict, expected, actual, aggType, aggID,
	)
}
