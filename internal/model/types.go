package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Metric type values accepted on ingestion.
const (
	TypeGauge     = "gauge"
	TypeCounter   = "counter"
	TypeHistogram = "histogram"
)

// ErrMalformed marks a metric record that cannot be repaired by redelivery:
// unparsable JSON or a missing mandatory field.
var ErrMalformed = errors.New("malformed metric record")

// -----------------------------------------------------------------------------
// Stream Types
// -----------------------------------------------------------------------------

// MetricRecord is a single metric observation as submitted by a client and
// carried on the log topic. Immutable once produced.
type MetricRecord struct {
	DashboardID int64          `json:"dashboard_id"`
	Name        string         `json:"name"`
	Value       float64        `json:"value"`
	MetricType  string         `json:"metric_type"`
	Timestamp   string         `json:"timestamp,omitempty"` // RFC 3339
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// PersistedMetric is a metric record after durable storage: the submitted
// fields plus the generated id and server-side creation time.
type PersistedMetric struct {
	ID          int64          `json:"id"`
	Name        string         `json:"name"`
	Value       float64        `json:"value"`
	MetricType  string         `json:"metric_type"`
	DashboardID int64          `json:"dashboard_id"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
}

// -----------------------------------------------------------------------------
// Relational Types
// -----------------------------------------------------------------------------

// Dashboard is a named collection of metrics owned by exactly one user.
type Dashboard struct {
	ID          int64     `json:"id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	OwnerID     int64     `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// User is an authenticated identity. PasswordHash never crosses the API.
type User struct {
	ID           int64     `json:"id"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}

// -----------------------------------------------------------------------------
// Wire decoding
// -----------------------------------------------------------------------------

// metricWire mirrors MetricRecord with pointer fields so that absent
// mandatory fields are distinguishable from zero values. Unknown extra
// fields are tolerated.
type metricWire struct {
	DashboardID *int64         `json:"dashboard_id"`
	Name        *string        `json:"name"`
	Value       *float64       `json:"value"`
	MetricType  string         `json:"metric_type"`
	Timestamp   string         `json:"timestamp"`
	Metadata    map[string]any `json:"metadata"`
}

// DecodeMetricRecord parses a log payload into a MetricRecord, enforcing the
// mandatory-field contract. A failure is wrapped in ErrMalformed and must be
// treated as permanent by the caller.
func DecodeMetricRecord(data []byte) (MetricRecord, error) {
	var wire metricWire
	if err := json.Unmarshal(data, &wire); err != nil {
		return MetricRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if wire.DashboardID == nil {
		return MetricRecord{}, fmt.Errorf("%w: missing dashboard_id", ErrMalformed)
	}
	if wire.Name == nil || *wire.Name == "" {
		return MetricRecord{}, fmt.Errorf("%w: missing name", ErrMalformed)
	}
	if wire.Value == nil {
		return MetricRecord{}, fmt.Errorf("%w: missing value", ErrMalformed)
	}

	rec := MetricRecord{
		DashboardID: *wire.DashboardID,
		Name:        *wire.Name,
		Value:       *wire.Value,
		MetricType:  wire.MetricType,
		Timestamp:   wire.Timestamp,
		Metadata:    wire.Metadata,
	}
	if rec.MetricType == "" {
		rec.MetricType = TypeGauge
	}
	return rec, nil
}

// Normalize fills defaults on a record submitted through the API: metric
// type falls back to gauge, timestamp to the current time.
func (r *MetricRecord) Normalize(now time.Time) {
	if r.MetricType == "" {
		r.MetricType = TypeGauge
	}
	if r.Timestamp == "" {
		r.Timestamp = now.UTC().Format(time.RFC3339Nano)
	}
}
