package streamlog

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"
	"time"
)

// Broker errors.
var (
	ErrClosed = errors.New("broker closed")
)

// Config holds broker settings.
type Config struct {
	Topic      string
	Partitions int
}

// Broker mediates access to one topic of the durable log. Appends assign a
// partition by key hash; fetches hand records out in per-partition offset
// order, starting after the group's committed offset. Safe for concurrent
// use by many producers and consumers.
type Broker struct {
	cfg     Config
	storage LogStorage
	logger  *slog.Logger

	mu     sync.Mutex
	notify chan struct{}
	closed bool
}

// NewBroker creates a broker over the given storage.
func NewBroker(cfg Config, storage LogStorage, logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Partitions < 1 {
		cfg.Partitions = 1
	}
	return &Broker{
		cfg:     cfg,
		storage: storage,
		logger:  logger,
		notify:  make(chan struct{}),
	}
}

// Topic returns the topic this broker serves.
func (b *Broker) Topic() string { return b.cfg.Topic }

// Ping verifies the underlying storage is reachable.
func (b *Broker) Ping(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}
	b.mu.Unlock()
	return b.storage.Ping(ctx)
}

// Append durably writes a record and returns it with its assigned partition
// and offset. Returns only after the storage acknowledges the write.
func (b *Broker) Append(ctx context.Context, key, value []byte) (Message, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return Message{}, ErrClosed
	}
	b.mu.Unlock()

	partition := b.partitionFor(key)
	ts := time.Now().UTC()

	offset, err := b.storage.Append(ctx, b.cfg.Topic, partition, key, value, ts)
	if err != nil {
		return Message{}, fmt.Errorf("append topic %s partition %d: %w", b.cfg.Topic, partition, err)
	}

	b.wake()

	return Message{
		Topic:     b.cfg.Topic,
		Partition: partition,
		Offset:    offset,
		Key:       key,
		Value:     value,
		Ts:        ts,
	}, nil
}

// Fetch returns the next batch of uncommitted messages for a consumer
// group, at most max. It blocks until at least one message is available,
// the context is cancelled, or the broker is closed. No busy-polling: a
// waiting fetch is woken by the next append.
func (b *Broker) Fetch(ctx context.Context, group string, max int) ([]Message, error) {
	if max < 1 {
		max = 1
	}
	for {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return nil, ErrClosed
		}
		wait := b.notify
		b.mu.Unlock()

		msgs, err := b.readPending(ctx, group, max)
		if err != nil {
			return nil, err
		}
		if len(msgs) > 0 {
			return msgs, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-wait:
		}
	}
}

// Commit records that group has fully handled the given message.
func (b *Broker) Commit(ctx context.Context, group string, msg Message) error {
	if err := b.storage.CommitOffset(ctx, group, msg.Topic, msg.Partition, msg.Offset); err != nil {
		return fmt.Errorf("commit offset %d topic %s partition %d: %w", msg.Offset, msg.Topic, msg.Partition, err)
	}
	return nil
}

// Close marks the broker closed and wakes any blocked fetchers. The
// storage itself is owned by the caller and closed separately.
func (b *Broker) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.notify)
}

// readPending reads uncommitted messages across all partitions, in
// per-partition offset order.
func (b *Broker) readPending(ctx context.Context, group string, max int) ([]Message, error) {
	var out []Message
	for p := 0; p < b.cfg.Partitions && len(out) < max; p++ {
		committed, err := b.storage.GetCommittedOffset(ctx, group, b.cfg.Topic, p)
		if err != nil {
			return nil, fmt.Errorf("committed offset topic %s partition %d: %w", b.cfg.Topic, p, err)
		}
		msgs, err := b.storage.Read(ctx, b.cfg.Topic, p, committed+1, max-len(out))
		if err != nil {
			return nil, fmt.Errorf("read topic %s partition %d: %w", b.cfg.Topic, p, err)
		}
		out = append(out, msgs...)
	}
	return out, nil
}

// partitionFor maps a record key to a partition. Records with the same key
// always land on the same partition.
func (b *Broker) partitionFor(key []byte) int {
	if len(key) == 0 {
		return 0
	}
	h := fnv.New32a()
	h.Write(key)
	return int(h.Sum32() % uint32(b.cfg.Partitions))
}

// wake signals blocked fetchers that new data arrived.
func (b *Broker) wake() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	close(b.notify)
	b.notify = make(chan struct{})
}
