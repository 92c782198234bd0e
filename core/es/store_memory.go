package es

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// InMemoryStore is a simple, correct (optimistic) store for tests/dev.
type InMemoryStore struct {
	mu      sync.Mutex
	log     *slog.Logger
	streams map[string][]Envelope
	all     []Envelope
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		log:     slog.Default().With(slog.String("store", "memory")),
		streams: map[string][]Envelope{},
	}
}

func (s *InMemoryStore) Name() string { return "memory" }

func (s *InMemoryStore) streamKey(aggType string, aggID uuid.UUID) string {
	return fmt.Sprintf("%s-%s", aggType, aggID)
}

func (s *InMemoryStore) Load(
	_ context.Context,
	aggType string,
	aggID uuid.UUID,
	opts ...StoreLoadOption,
) ([]Envelope, error) {
	startSeq := NewStoreLoadOptions(opts...)

	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.streams[s.streamKey(aggType, aggID)]
	out := make([]Envelope, 0, len(events))
	for _, e := range events {
		if e.Seq < startSeq {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

func (s *InMemoryStore) Append(
	_ context.Context,
	aggType string,
	aggID uuid.UUID,
	expected Version,
	events []Envelope,
) (*StoreAppendResult, error) {
	if err := CheckAppend(aggType, aggID, expected, events); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		sk        = s.streamKey(aggType, aggID)
		curStream = s.streams[sk]
		head      = NoVersion
	)
	if len(curStream) > 0 {
		head = curStream[len(curStream)-1].Seq
	}
	if head != expected {
		return nil, ConflictError(aggType, aggID, expected, head)
	}

	committed := make([]Envelope, 0, len(events))
	for _, e := range events {
		e.Position = uint64(len(s.all) + 1)
		s.all = append(s.all, e)
		committed = append(committed, e)
	}
	s.streams[sk] = append(curStream, committed...)

	last := committed[len(committed)-1]
	s.log.Debug(
		"append",
		slog.String("stream", sk),
		last.Seq.SlogAttrWithKey("last_seq"),
		slog.Uint64("last_position", last.Position),
		slog.Int("num_events", len(committed)),
	)

	out := make([]Envelope, len(committed))
	copy(out, committed)
	return &StoreAppendResult{LastSeq: last.Seq, Committed: out}, nil
}

func (s *InMemoryStore) ReadAll(_ context.Context, afterPosition uint64, limit int) ([]Envelope, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if afterPosition >= uint64(len(s.all)) {
		return nil, nil
	}
	rest := s.all[afterPosition:]
	if limit > 0 && len(rest) > limit {
		rest = rest[:limit]
	}
	out := make([]Envelope, len(rest))
	copy(out, rest)
	return out, nil
}

var (
	_ EventStore   = (*InMemoryStore)(nil)
	_ GlobalReader = (*InMemoryStore)(nil)
)
