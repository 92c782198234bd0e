package es

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

type (
	// Msg is a committed event as delivered on the Bus.
	Msg struct {
		Envelope Envelope
		Event    Event
	}

	// Predicate decides interest by event type only.
	Predicate func(eventType string) bool

	// Handler receives the matching events of one commit, in commit order.
	// A single event arrives as a batch of one.
	Handler interface {
		Handle(ctx context.Context, batch []Msg) error
	}

	HandlerFunc func(ctx context.Context, batch []Msg) error
)

func (f HandlerFunc) Handle(ctx context.Context, batch []Msg) error { return f(ctx, batch) }

// OfType matches any of the given event types.
func OfType(eventTypes ...string) Predicate {
	return func(eventType string) bool {
		return slices.Contains(eventTypes, eventType)
	}
}

// AnyEvent matches every event.
func AnyEvent(string) bool { return true }

// Bus is a synchronous in-process publisher. Handlers run in subscription
// order inside the Publish call; the first handler error stops dispatch and
// is returned to the publisher.
type Bus struct {
	mu      sync.RWMutex
	log     *slog.Logger
	metrics ESMetrics
	nextID  uint64
	subs    []*Subscription
}

// Subscription is the handle returned by Bus.Subscribe. Closing it
// deregisters the handler.
type Subscription struct {
	bus       *Bus
	id        uint64
	name      string
	handler   Handler
	predicate Predicate
	closeOnce sync.Once
}

func (s *Subscription) Name() string { return s.name }

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.bus.remove(s.id)
	})
}

func NewBus(opts ...BusOption) *Bus {
	options := newBusOpts(opts...)
	return &Bus{
		log:     options.log.With(slog.String("bus", "memory")),
		metrics: options.metrics,
	}
}

// Subscribe registers handler for events matching predicate.
func (b *Bus) Subscribe(name string, handler Handler, predicate Predicate) *Subscription {
	if predicate == nil {
		predicate = AnyEvent
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	sub := &Subscription{
		bus:       b,
		id:        b.nextID,
		name:      name,
		handler:   handler,
		predicate: predicate,
	}
	b.subs = append(b.subs, sub)
	b.metrics.Subscriptions().Inc()
	b.log.Debug("subscribed", slog.String("subscription", name), slog.Int("subscriptions", len(b.subs)))
	return sub
}

func (b *Bus) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.Close()
}

func (b *Bus) remove(id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := len(b.subs)
	b.subs = slices.DeleteFunc(b.subs, func(s *Subscription) bool { return s.id == id })
	if len(b.subs) < n {
		b.metrics.Subscriptions().Dec()
	}
}

// Len returns the number of active subscriptions.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Publish delivers the whole batch to every subscriber interested in at least
// one of its events. The subscriber list is snapshotted first, so handlers may
// publish (e.g. by saving another aggregate) or unsubscribe without
// deadlocking.
func (b *Bus) Publish(ctx context.Context, batch []Msg) error {
	if len(batch) == 0 {
		return nil
	}

	b.mu.RLock()
	subs := slices.Clone(b.subs)
	b.mu.RUnlock()

	defer b.metrics.BusPublishDuration().ObserveDuration()

	for _, sub := range subs {
		if !slices.ContainsFunc(batch, func(m Msg) bool { return sub.predicate(m.Envelope.Type) }) {
			continue
		}

		if err := sub.handler.Handle(ctx, batch); err != nil {
			b.metrics.HandlerFailed(sub.name)
			b.log.Error(
				"handler failed",
				slog.String("subscription", sub.name),
				batch[0].Envelope.logAttrs(),
				slog.Any("error", err),
			)
			return fmt.Errorf("handler %s: %w", sub.name, err)
		}
		b.log.Debug("delivered", slog.String("subscription", sub.name), slog.Int("num_events", len(batch)))
	}

	b.metrics.EventsPublished(batch[0].Envelope.AggregateType, len(batch))
	return nil
}
