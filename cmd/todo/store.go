package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codewandler/estodo/adapters/nats"
	"github.com/codewandler/estodo/adapters/postgres"
	"github.com/codewandler/estodo/adapters/sqlite"
	"github.com/codewandler/estodo/core/es"
	"github.com/codewandler/estodo/internal/config"
)

func openStore(ctx context.Context, cfg config.Config, log *slog.Logger) (es.EventStore, func(), error) {
	switch cfg.Backend {
	case config.BackendMemory:
		return es.NewInMemoryStore(), func() {}, nil

	case config.BackendSQLite:
		s, err := sqlite.Open(ctx, sqlite.StoreConfig{Path: cfg.SQLitePath, Log: log})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case config.BackendPostgres:
		s, err := postgres.Open(ctx, postgres.StoreConfig{DatabaseURL: cfg.DatabaseURL, Log: log})
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil

	case config.BackendNATS:
		s, err := nats.NewEventStore(ctx, nats.EventStoreConfig{
			Connect: nats.ConnectURL(cfg.NATSURL),
			Log:     log,
		})
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unknown backend %q", cfg.Backend)
}
