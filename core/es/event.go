package es

import (
	"encoding/json"
	"fmt"
)

// Event is a domain fact. Each aggregate type declares a closed set of events
// by embedding Event into an interface with an unexported marker method.
type Event interface {
	EventType() string
}

// CreationEvent is implemented by the event that brings an aggregate into
// existence. It must be the event at sequence 0 and nowhere else.
type CreationEvent interface {
	Event
	CreatesAggregate()
}

// TerminalEvent tombstones an aggregate. No event may follow it.
type TerminalEvent interface {
	Event
	DiscardsAggregate()
}

// EventFactory returns an empty, decodable value for an event type tag.
// Implementations switch over their own closed event set.
type EventFactory interface {
	NewEvent(eventType string) (Event, error)
}

// Decode turns a persisted envelope back into a typed event.
func Decode(f EventFactory, env Envelope) (Event, error) {
	ev, err := f.NewEvent(env.Type)
	if err != nil {
		return nil, err
	}
	if len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, ev); err != nil {
			return nil, fmt.Errorf("failed to decode %s seq=%d: %w", env.Type, env.Seq, err)
		}
	}
	return ev, nil
}

// UnknownEvent is the error EventFactory implementations return for tags they do not know.
func UnknownEvent(eventType string) error {
	return fmt.Errorf("%w: %q", ErrUnknownEventType, eventType)
}
