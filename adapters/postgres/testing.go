package postgres

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// NewTestContainer starts a throwaway PostgreSQL server and returns its URL.
// The test is skipped when no container runtime is reachable.
func NewTestContainer(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("container tests are skipped in short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := t.Context()
	pgC, err := testcontainers.Run(
		ctx, "postgres:16-alpine",
		testcontainers.WithEnv(map[string]string{
			"POSTGRES_USER":     "estodo",
			"POSTGRES_PASSWORD": "estodo",
			"POSTGRES_DB":       "estodo",
		}),
		testcontainers.WithExposedPorts("5432/tcp"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(t, err)

	t.Cleanup(func() {
		if err := testcontainers.TerminateContainer(pgC); err != nil {
			t.Errorf("failed to terminate container: %s", err.Error())
		}
	})

	host, err := pgC.Host(ctx)
	require.NoError(t, err)
	port, err := pgC.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://estodo:estodo@%s:%s/estodo?sslmode=disable", host, port.Port())
}

// OpenTestStore opens a store on url and drops its table when the test ends,
// so every test starts from an empty log.
func OpenTestStore(t *testing.T, url string) *Store {
	t.Helper()
	ctx := context.Background()
	s, err := Open(ctx, StoreConfig{DatabaseURL: url, MaxConns: 4})
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = s.pool.Exec(ctx, `DROP TABLE IF EXISTS es_events`)
		s.Close()
	})
	return s
}
