package es

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func nopLog() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func testMsgs(types ...string) []Msg {
	id := uuid.New()
	out := make([]Msg, len(types))
	for i, typ := range types {
		out[i] = Msg{Envelope: Envelope{AggregateType: "test", AggregateID: id, Seq: Version(i), Type: typ}}
	}
	return out
}

func msgTypes(batch []Msg) []string {
	out := make([]string, len(batch))
	for i, m := range batch {
		out[i] = m.Envelope.Type
	}
	return out
}

func TestBus_PredicateAndOrder(t *testing.T) {
	bus := NewBus(WithLog(nopLog()))
	var calls []string
	var aBatches [][]string

	bus.Subscribe("a", HandlerFunc(func(_ context.Context, batch []Msg) error {
		calls = append(calls, "a")
		aBatches = append(aBatches, msgTypes(batch))
		return nil
	}), OfType("x", "z"))
	bus.Subscribe("b", HandlerFunc(func(_ context.Context, batch []Msg) error {
		calls = append(calls, "b")
		return nil
	}), OfType("y"))
	bus.Subscribe("none", HandlerFunc(func(_ context.Context, batch []Msg) error {
		t.Fatal("must not be called")
		return nil
	}), OfType("never"))

	require.NoError(t, bus.Publish(context.Background(), testMsgs("x", "y", "z")))
	require.Equal(t, []string{"a", "b"}, calls)
	require.Equal(t, [][]string{{"x", "y", "z"}}, aBatches)

	require.NoError(t, bus.Publish(context.Background(), nil))
	require.Len(t, calls, 2)
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(WithLog(nopLog()))
	var n int
	sub := bus.Subscribe("count", HandlerFunc(func(context.Context, []Msg) error {
		n++
		return nil
	}), nil)
	require.Equal(t, 1, bus.Len())
	require.Equal(t, "count", sub.Name())

	require.NoError(t, bus.Publish(context.Background(), testMsgs("x")))
	sub.Close()
	sub.Close()
	bus.Unsubscribe(sub)
	bus.Unsubscribe(nil)
	require.NoError(t, bus.Publish(context.Background(), testMsgs("x")))

	require.Equal(t, 1, n)
	require.Zero(t, bus.Len())
}

func TestBus_FirstErrorStopsDispatch(t *testing.T) {
	bus := NewBus(WithLog(nopLog()))
	boom := errors.New("boom")
	var later bool

	bus.Subscribe("fail", HandlerFunc(func(context.Context, []Msg) error { return boom }), AnyEvent)
	bus.Subscribe("later", HandlerFunc(func(context.Context, []Msg) error {
		later = true
		return nil
	}), AnyEvent)

	err := bus.Publish(context.Background(), testMsgs("x"))
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "fail")
	require.False(t, later)
}

func TestBus_HandlerMaySubscribeAndPublish(t *testing.T) {
	bus := NewBus(WithLog(nopLog()))
	var inner int
	bus.Subscribe("outer", HandlerFunc(func(ctx context.Context, batch []Msg) error {
		if batch[0].Envelope.Type != "x" {
			return nil
		}
		bus.Subscribe("inner", HandlerFunc(func(context.Context, []Msg) error {
			inner++
			return nil
		}), OfType("y"))
		return bus.Publish(ctx, testMsgs("y"))
	}), AnyEvent)

	require.NoError(t, bus.Publish(context.Background(), testMsgs("x")))
	require.Equal(t, 1, inner)
}
