package streamlog

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStorage persists the log in two tables: an append-only record
// table with per-partition monotonic offsets and an upserted committed
// offset table per consumer group.
type PostgresStorage struct {
	db *pgxpool.Pool

	// Serializes offset assignment. The broker runs in a single process,
	// so in-process exclusion is sufficient to keep offsets gapless.
	appendMu sync.Mutex
}

// NewPostgresStorage creates the storage and ensures its schema exists.
func NewPostgresStorage(ctx context.Context, db *pgxpool.Pool) (*PostgresStorage, error) {
	s := &PostgresStorage{db: db}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure stream schema: %w", err)
	}
	return s, nil
}

func (s *PostgresStorage) ensureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS stream_records (
			topic         TEXT        NOT NULL,
			partition_id  INT         NOT NULL,
			record_offset BIGINT      NOT NULL,
			key           BYTEA,
			value         BYTEA       NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (topic, partition_id, record_offset)
		);
		CREATE TABLE IF NOT EXISTS stream_offsets (
			group_id     TEXT        NOT NULL,
			topic        TEXT        NOT NULL,
			partition_id INT         NOT NULL,
			committed    BIGINT      NOT NULL,
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (group_id, topic, partition_id)
		);
	`)
	return err
}

func (s *PostgresStorage) Ping(ctx context.Context) error {
	return s.db.Ping(ctx)
}

func (s *PostgresStorage) Append(ctx context.Context, topic string, partition int, key, value []byte, ts time.Time) (int64, error) {
	s.appendMu.Lock()
	defer s.appendMu.Unlock()

	var offset int64
	err := s.db.QueryRow(ctx, `
		INSERT INTO stream_records (topic, partition_id, record_offset, key, value, created_at)
		SELECT $1, $2, COALESCE(MAX(record_offset) + 1, 0), $3, $4, $5
		FROM stream_records
		WHERE topic = $1 AND partition_id = $2
		RETURNING record_offset
	`, topic, partition, key, value, ts).Scan(&offset)
	if err != nil {
		return 0, err
	}
	return offset, nil
}

func (s *PostgresStorage) Read(ctx context.Context, topic string, partition int, offset int64, max int) ([]Message, error) {
	rows, err := s.db.Query(ctx, `
		SELECT record_offset, key, value, created_at
		FROM stream_records
		WHERE topic = $1 AND partition_id = $2 AND record_offset >= $3
		ORDER BY record_offset
		LIMIT $4
	`, topic, partition, offset, max)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		msg := Message{Topic: topic, Partition: partition}
		if err := rows.Scan(&msg.Offset, &msg.Key, &msg.Value, &msg.Ts); err != nil {
			return nil, err
		}
		out = append(out, msg)
	}
	return out, rows.Err()
}

func (s *PostgresStorage) CommitOffset(ctx context.Context, group, topic string, partition int, offset int64) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO stream_offsets (group_id, topic, partition_id, committed, updated_at)
		VALUES ($1, $2, $3, $4, now())
		ON CONFLICT (group_id, topic, partition_id)
		DO UPDATE SET committed = EXCLUDED.committed, updated_at = now()
	`, group, topic, partition, offset)
	return err
}

func (s *PostgresStorage) GetCommittedOffset(ctx context.Context, group, topic string, partition int) (int64, error) {
	var committed int64
	err := s.db.QueryRow(ctx, `
		SELECT committed FROM stream_offsets
		WHERE group_id = $1 AND topic = $2 AND partition_id = $3
	`, group, topic, partition).Scan(&committed)
	if err != nil {
		if isNoRows(err) {
			return -1, nil
		}
		return 0, err
	}
	return committed, nil
}

// Close is a no-op: the pool is shared and owned by the caller.
func (s *PostgresStorage) Close() error { return nil }

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
