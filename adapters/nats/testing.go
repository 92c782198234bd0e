package nats

import (
	"context"
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewTestContainer starts a JetStream enabled server and returns a Connector
// that shares one connection between its callers. The test is skipped when no
// container runtime is reachable.
func NewTestContainer(t *testing.T) Connector {
	t.Helper()
	if testing.Short() {
		t.Skip("container tests are skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := t.Context()
	natsC, err := testcontainers.Run(
		ctx, "nats:latest",
		testcontainers.WithCmd("-js"),
		testcontainers.WithExposedPorts("4222/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForListeningPort("4222/tcp"),
			wait.ForLog("Server is ready"),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(natsC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	host, err := natsC.Host(ctx)
	require.NoError(t, err)
	port, err := natsC.MappedPort(ctx, "4222/tcp")
	require.NoError(t, err)
	url := "nats://" + host + ":" + port.Port()
	t.Logf("nats url: %s", url)
	return ReuseConnection(ConnectURL(url))
}

// NewTestEventStore creates a store on its own in-memory stream, so stores
// sharing one server never see each other's events.
func NewTestEventStore(t *testing.T, connect Connector) *EventStore {
	t.Helper()
	name := gonanoid.MustGenerate("abcdefghijklmnopqrstuvwxyz", 10)
	s, err := NewEventStore(t.Context(), EventStoreConfig{
		Connect:       connect,
		SubjectPrefix: "test." + name,
		StreamName:    "TEST_" + name,
		Storage:       jetstream.MemoryStorage,
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = s.js.DeleteStream(context.Background(), s.streamName)
		_ = s.Close()
	})
	return s
}
