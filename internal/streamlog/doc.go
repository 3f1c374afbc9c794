// Package streamlog implements the durable append-only log that decouples
// metric ingestion from processing.
//
// The log:
//   - Partitions a topic by record key (same key, same partition) so that
//     per-dashboard order survives end to end
//   - Assigns monotonic per-partition offsets on append
//   - Tracks committed offsets per consumer group; a restarted consumer
//     resumes after the last committed offset
//   - Persists through a pluggable LogStorage (Postgres in production,
//     in-memory for tests)
package streamlog
