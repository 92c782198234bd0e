// Package sqlite stores event streams in a single SQLite table.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/codewandler/estodo/core/es"
)

const schema = `
CREATE TABLE IF NOT EXISTS events (
	position       INTEGER PRIMARY KEY AUTOINCREMENT,
	id             TEXT    NOT NULL UNIQUE,
	aggregate_type TEXT    NOT NULL,
	aggregate_id   TEXT    NOT NULL,
	seq            INTEGER NOT NULL,
	type           TEXT    NOT NULL,
	occurred_at    TEXT    NOT NULL,
	data           BLOB    NOT NULL,
	UNIQUE (aggregate_type, aggregate_id, seq)
)`

// streamSeqColumns is how SQLite reports a violation of the stream key.
const streamSeqColumns = "events.aggregate_type, events.aggregate_id, events.seq"

type StoreConfig struct {
	// Path is a file path or ":memory:".
	Path string
	Log  *slog.Logger
}

type Store struct {
	db  *sql.DB
	log *slog.Logger
}

// Open opens (and if needed creates) the database at cfg.Path.
func Open(ctx context.Context, cfg StoreConfig) (*Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}

	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// one writer at a time; for :memory: every connection would be its own database
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &Store{
		db:  db,
		log: log.With(slog.String("store", "sqlite")),
	}, nil
}

func (s *Store) Name() string { return "sqlite" }

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Load(ctx context.Context, aggType string, aggID uuid.UUID, opts ...es.StoreLoadOption) ([]es.Envelope, error) {
	startSeq := es.NewStoreLoadOptions(opts...)
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, id, aggregate_type, aggregate_id, seq, type, occurred_at, data
		FROM events
		WHERE aggregate_type = ? AND aggregate_id = ? AND seq >= ?
		ORDER BY seq`,
		aggType, aggID.String(), startSeq.Int64(),
	)
	if err != nil {
		return nil, fmt.Errorf("query stream: %w", err)
	}
	return scanEnvelopes(rows)
}

func (s *Store) Append(ctx context.Context, aggType string, aggID uuid.UUID, expected es.Version, events []es.Envelope) (_ *es.StoreAppendResult, err error) {
	if err := es.CheckAppend(aggType, aggID, expected, events); err != nil {
		return nil, err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var head sql.NullInt64
	if err := tx.QueryRowContext(ctx,
		`SELECT MAX(seq) FROM events WHERE aggregate_type = ? AND aggregate_id = ?`,
		aggType, aggID.String(),
	).Scan(&head); err != nil {
		return nil, fmt.Errorf("read head: %w", err)
	}
	actual := es.NoVersion
	if head.Valid {
		actual = es.Version(head.Int64)
	}
	if actual != expected {
		return nil, es.ConflictError(aggType, aggID, expected, actual)
	}

	committed := make([]es.Envelope, 0, len(events))
	for i, e := range events {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO events (id, aggregate_type, aggregate_id, seq, type, occurred_at, data)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.AggregateType, e.AggregateID.String(), e.Seq.Int64(), e.Type,
			e.OccurredAt.UTC().Format(time.RFC3339Nano), []byte(e.Data),
		)
		if err != nil {
			if isStreamSeqConflict(err) {
				return nil, es.ConflictError(aggType, aggID, expected, actual)
			}
			if isConstraintError(err) {
				return nil, fmt.Errorf("%w: %s", es.ErrDuplicateEvent, e.ID)
			}
			return nil, fmt.Errorf("insert event %d: %w", i, err)
		}
		pos, err := res.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("last insert id: %w", err)
		}
		e.Position = uint64(pos)
		committed = append(committed, e)
	}

	if err := tx.Commit(); err != nil {
		if isStreamSeqConflict(err) {
			return nil, es.ConflictError(aggType, aggID, expected, actual)
		}
		return nil, fmt.Errorf("commit: %w", err)
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
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT position, id, aggregate_type, aggregate_id, seq, type, occurred_at, data
		FROM events
		WHERE position > ?
		ORDER BY position
		LIMIT ?`,
		int64(afterPosition), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query log: %w", err)
	}
	return scanEnvelopes(rows)
}

func scanEnvelopes(rows *sql.Rows) ([]es.Envelope, error) {
	defer rows.Close()

	out := []es.Envelope{}
	for rows.Next() {
		var (
			e         es.Envelope
			pos, seq  int64
			aggID, at string
			data      []byte
		)
		if err := rows.Scan(&pos, &e.ID, &e.AggregateType, &aggID, &seq, &e.Type, &at, &data); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		id, err := uuid.Parse(aggID)
		if err != nil {
			return nil, fmt.Errorf("parse aggregate id %q: %w", aggID, err)
		}
		occurredAt, err := time.Parse(time.RFC3339Nano, at)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at %q: %w", at, err)
		}
		e.Position = uint64(pos)
		e.AggregateID = id
		e.Seq = es.Version(seq)
		e.OccurredAt = occurredAt
		e.Data = data
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return out, nil
}

// isStreamSeqConflict reports a violation of the (stream, seq) unique key.
// SQLite names the violated columns only in the message. Other constraint
// failures, such as a reused event id, are not conflicts.
func isStreamSeqConflict(err error) bool {
	return isConstraintError(err) && strings.Contains(err.Error(), streamSeqColumns)
}

func isConstraintError(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT || code == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}

var (
	_ es.EventStore   = (*Store)(nil)
	_ es.GlobalReader = (*Store)(nil)
)
