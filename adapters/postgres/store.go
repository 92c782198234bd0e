// Package postgres stores event streams in PostgreSQL through a pgx pool.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/codewandler/estodo/core/es"
)

const (
	defaultMinConns        = 1
	defaultMaxConns        = 10
	defaultMaxConnLifetime = 30 * time.Minute
	defaultMaxConnIdleTime = 5 * time.Minute

	uniqueViolation = "23505"

	// streamSeqConstraint guards one event per (stream, seq).
	streamSeqConstraint = "es_events_stream_seq_key"

	// appendLockKey serializes appends so positions become visible in
	// ascending order.
	appendLockKey int64 = 0x65737464
)

const createEventsTableSQL = `
CREATE TABLE IF NOT EXISTS es_events (
  position       bigint GENERATED ALWAYS AS IDENTITY PRIMARY KEY,
  id             text        NOT NULL UNIQUE,
  aggregate_type text        NOT NULL,
  aggregate_id   uuid        NOT NULL,
  seq            bigint      NOT NULL,
  type           text        NOT NULL,
  occurred_at    timestamptz NOT NULL,
  data           jsonb       NOT NULL,
  CONSTRAINT ` + streamSeqConstraint + ` UNIQUE (aggregate_type, aggregate_id, seq)
)`

const lockAppendSQL = `SELECT pg_advisory_xact_lock($1)`

const headSQL = `
SELECT COALESCE(MAX(seq), -1)
FROM es_events
WHERE aggregate_type = $1 AND aggregate_id = $2::uuid`

const insertEventSQL = `
INSERT INTO es_events (id, aggregate_type, aggregate_id, seq, type, occurred_at, data)
VALUES ($1, $2, $3::uuid, $4, $5, $6, $7)
RETURNING position`

const selectColumns = `position, id, aggregate_type, aggregate_id::text, seq, type, occurred_at, data`

const loadStreamSQL = `
SELECT ` + selectColumns + `
FROM es_events
WHERE aggregate_type = $1 AND aggregate_id = $2::uuid AND seq >= $3
ORDER BY seq`

const readAllSQL = `
SELECT ` + selectColumns + `
FROM es_events
WHERE position > $1
ORDER BY position
LIMIT $2`

type StoreConfig struct {
	DatabaseURL string
	Log         *slog.Logger
	MaxConns    int32
}

type Store struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

// Open connects a pool to cfg.DatabaseURL and creates the events table.
func Open(ctx context.Context, cfg StoreConfig) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	poolCfg.MinConns = defaultMinConns
	poolCfg.MaxConns = defaultMaxConns
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MaxConnLifetime = defaultMaxConnLifetime
	poolCfg.MaxConnIdleTime = defaultMaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	s, err := New(ctx, pool, cfg.Log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// New uses an existing pool. The caller keeps ownership of pool.
func New(ctx context.Context, pool *pgxpool.Pool, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	if _, err := pool.Exec(ctx, createEventsTableSQL); err != nil {
		return nil, fmt.Errorf("create events table: %w", err)
	}
	return &Store{pool: pool, log: log.With(slog.String("store", "postgres"))}, nil
}

func (s *Store) Name() string { return "postgres" }

func (s *Store) Close() { s.pool.Close() }

func (s *Store) Load(ctx context.Context, aggType string, aggID uuid.UUID, opts ...es.StoreLoadOption) ([]es.Envelope, error) {
	startSeq := es.NewStoreLoadOptions(opts...)
	rows, err := s.pool.Query(ctx, loadStreamSQL, aggType, aggID.String(), startSeq.Int64())
	if err != nil {
		return nil, fmt.Errorf("query stream: %w", err)
	}
	return collectEnvelopes(rows)
}

func (s *Store) Append(ctx context.Context, aggType string, aggID uuid.UUID, expected es.Version, events []es.Envelope) (*es.StoreAppendResult, error) {
	if err := es.CheckAppend(aggType, aggID, expected, events); err != nil {
		return nil, err
	}

	var committed []es.Envelope
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, lockAppendSQL, appendLockKey); err != nil {
			return fmt.Errorf("lock append: %w", err)
		}
		var head int64
		if err := tx.QueryRow(ctx, headSQL, aggType, aggID.String()).Scan(&head); err != nil {
			return fmt.Errorf("read head: %w", err)
		}
		if es.Version(head) != expected {
			return es.ConflictError(aggType, aggID, expected, es.Version(head))
		}

		committed = make([]es.Envelope, 0, len(events))
		for i, e := range events {
			var pos int64
			if err := tx.QueryRow(ctx, insertEventSQL,
				e.ID, e.AggregateType, e.AggregateID.String(), e.Seq.Int64(), e.Type,
				e.OccurredAt.UTC(), []byte(e.Data),
			).Scan(&pos); err != nil {
				if isStreamSeqConflict(err) {
					return es.ConflictError(aggType, aggID, expected, es.Version(head))
				}
				if isUniqueViolation(err) {
					return fmt.Errorf("%w: %s", es.ErrDuplicateEvent, e.ID)
				}
				return fmt.Errorf("insert event %d: %w", i, err)
			}
			e.Position = uint64(pos)
			committed = append(committed, e)
		}
		return nil
	})
	if err != nil {
		// a racing writer can also surface at commit time
		if isStreamSeqConflict(err) {
			return nil, es.ConflictError(aggType, aggID, expected, es.NoVersion)
		}
		return nil, err
	}

	last := committed[len(committed)-1]
	s.log.Debug(
		"append",
		slog.String("aggregate_type", aggType),
		slog.String("aggregate_id", aggID.String()),
		last.Seq.SlogAttrWithKey("last_seq"),
		slog.Int("num_events", len(committed)),
	)
	return &es.StoreAppendResult{LastSeq: last.Seq, Committed: committed}, nil
}

func (s *Store) ReadAll(ctx context.Context, afterPosition uint64, limit int) ([]es.Envelope, error) {
	var lim *int
	if limit > 0 {
		lim = &limit
	}
	rows, err := s.pool.Query(ctx, readAllSQL, int64(afterPosition), lim)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	return collectEnvelopes(rows)
}

func collectEnvelopes(rows pgx.Rows) ([]es.Envelope, error) {
	out, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (es.Envelope, error) {
		var (
			e     es.Envelope
			pos   int64
			seq   int64
			aggID string
			data  []byte
		)
		if err := row.Scan(&pos, &e.ID, &e.AggregateType, &aggID, &seq, &e.Type, &e.OccurredAt, &data); err != nil {
			return es.Envelope{}, err
		}
		id, err := uuid.Parse(aggID)
		if err != nil {
			return es.Envelope{}, fmt.Errorf("parse aggregate id %q: %w", aggID, err)
		}
		e.Position = uint64(pos)
		e.AggregateID = id
		e.Seq = es.Version(seq)
		e.Data = data
		return e, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan events: %w", err)
	}
	return out, nil
}

// isStreamSeqConflict reports a second writer of the same stream position.
// Other unique violations, such as a reused event id, are not conflicts.
func isStreamSeqConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation && pgErr.ConstraintName == streamSeqConstraint
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

var (
	_ es.EventStore   = (*Store)(nil)
	_ es.GlobalReader = (*Store)(nil)
)
