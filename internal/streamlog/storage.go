package streamlog

import (
	"context"
	"time"
)

// Message is the wire unit carried on a topic: the serialized record plus
// transport metadata.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Ts        time.Time
}

// LogStorage is the persistence abstraction the broker depends on.
type LogStorage interface {
	// Ping verifies the storage backend is reachable.
	Ping(ctx context.Context) error

	// Append appends a record to topic:partition and returns the assigned
	// offset (monotonic per partition).
	Append(ctx context.Context, topic string, partition int, key, value []byte, ts time.Time) (int64, error)

	// Read returns up to max messages starting at offset (inclusive), in
	// offset order.
	Read(ctx context.Context, topic string, partition int, offset int64, max int) ([]Message, error)

	// CommitOffset records that group has processed topic:partition up to
	// and including offset.
	CommitOffset(ctx context.Context, group, topic string, partition int, offset int64) error

	// GetCommittedOffset returns the last committed offset for
	// group/topic/partition, or -1 when nothing has been committed.
	GetCommittedOffset(ctx context.Context, group, topic string, partition int) (int64, error)

	// Close releases storage resources.
	Close() error
}
