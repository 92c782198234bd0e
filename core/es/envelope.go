package es

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Envelope wraps an event with metadata for persistence and routing.
// It is the unit of storage in the EventStore.
type Envelope struct {
	// ID is the unique identifier of this record.
	ID string `json:"id"`
	// Position is the global commit position assigned by the store. Records
	// appended in a single batch may share a position on stores that persist
	// a batch as one message.
	Position uint64 `json:"position,omitempty"`
	// AggregateType identifies the type of aggregate this event belongs to.
	AggregateType string `json:"aggregate"`
	// AggregateID identifies the specific aggregate instance.
	AggregateID uuid.UUID `json:"aggregate_id"`
	// Seq is the per-aggregate sequence number, 0 for the creation event.
	Seq Version `json:"seq"`
	// Type is the event type tag used for decoding.
	Type string `json:"type"`
	// OccurredAt is when the event was raised.
	OccurredAt time.Time `json:"occurred_at"`
	// Data contains the JSON-encoded event payload.
	Data json.RawMessage `json:"data"`
}

func (e Envelope) Validate() error {
	if e.ID == "" {
		return fmt.Errorf("envelope id is empty")
	}
	if e.OccurredAt.IsZero() {
		return fmt.Errorf("envelope occurred at is zero")
	}
	if e.AggregateID == uuid.Nil {
		return fmt.Errorf("envelope aggregate id is empty")
	}
	if e.AggregateType == "" {
		return fmt.Errorf("envelope aggregate type is empty")
	}
	if e.Type == "" {
		return fmt.Errorf("envelope type is empty")
	}
	if !e.Seq.Exists() {
		return fmt.Errorf("envelope seq %d is negative", e.Seq)
	}
	return nil
}

func (e Envelope) logAttrs() slog.Attr {
	return slog.Group(
		"event",
		slog.String("id", e.ID),
		slog.String("type", e.Type),
		slog.String("aggregate_type", e.AggregateType),
		slog.String("aggregate_id", e.AggregateID.String()),
		e.Seq.SlogAttrWithKey("seq"),
		slog.Uint64("position", e.Position),
	)
}
