package streamlog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemoryStorage is a map-backed LogStorage for tests and broker-less
// development. Offsets behave exactly like the Postgres implementation.
type MemoryStorage struct {
	mu        sync.Mutex
	records   map[string]map[int][]Message // topic → partition → records
	committed map[string]int64             // group|topic|partition → offset
	closed    bool
}

// NewMemoryStorage creates an empty in-memory log.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records:   make(map[string]map[int][]Message),
		committed: make(map[string]int64),
	}
}

func (s *MemoryStorage) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	return nil
}

func (s *MemoryStorage) Append(ctx context.Context, topic string, partition int, key, value []byte, ts time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}

	parts, ok := s.records[topic]
	if !ok {
		parts = make(map[int][]Message)
		s.records[topic] = parts
	}

	offset := int64(len(parts[partition]))
	parts[partition] = append(parts[partition], Message{
		Topic:     topic,
		Partition: partition,
		Offset:    offset,
		Key:       append([]byte(nil), key...),
		Value:     append([]byte(nil), value...),
		Ts:        ts,
	})
	return offset, nil
}

func (s *MemoryStorage) Read(ctx context.Context, topic string, partition int, offset int64, max int) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, ErrClosed
	}

	records := s.records[topic][partition]
	if offset < 0 {
		offset = 0
	}
	if offset >= int64(len(records)) {
		return nil, nil
	}

	end := int64(len(records))
	if max > 0 && offset+int64(max) < end {
		end = offset + int64(max)
	}

	out := make([]Message, end-offset)
	copy(out, records[offset:end])
	return out, nil
}

func (s *MemoryStorage) CommitOffset(ctx context.Context, group, topic string, partition int, offset int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}
	s.committed[offsetKey(group, topic, partition)] = offset
	return nil
}

func (s *MemoryStorage) GetCommittedOffset(ctx context.Context, group, topic string, partition int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrClosed
	}
	if off, ok := s.committed[offsetKey(group, topic, partition)]; ok {
		return off, nil
	}
	return -1, nil
}

func (s *MemoryStorage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func offsetKey(group, topic string, partition int) string {
	return fmt.Sprintf("%s|%s|%d", group, topic, partition)
}
