// Package model defines shared data types used across the InsightBoard backend.
//
// Conventions:
//   - IDs: int64 database-generated identifiers
//   - Timestamps: time.Time on persisted types, RFC 3339 strings on the wire
//   - MetricRecord is the log wire unit; PersistedMetric is the stored form
package model
