package model

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeMetricRecord(t *testing.T) {
	data := []byte(`{
		"dashboard_id": 7,
		"name": "cpu_usage",
		"value": 42.5,
		"metric_type": "gauge",
		"timestamp": "2026-01-15T10:30:00Z",
		"metadata": {"host": "web-1"}
	}`)

	rec, err := DecodeMetricRecord(data)
	if err != nil {
		t.Fatalf("DecodeMetricRecord failed: %v", err)
	}

	if rec.DashboardID != 7 {
		t.Errorf("DashboardID = %d, want 7", rec.DashboardID)
	}
	if rec.Name != "cpu_usage" {
		t.Errorf("Name = %q, want %q", rec.Name, "cpu_usage")
	}
	if rec.Value != 42.5 {
		t.Errorf("Value = %v, want 42.5", rec.Value)
	}
	if rec.MetricType != TypeGauge {
		t.Errorf("MetricType = %q, want %q", rec.MetricType, TypeGauge)
	}
	if rec.Metadata["host"] != "web-1" {
		t.Errorf("Metadata[host] = %v, want web-1", rec.Metadata["host"])
	}
}

func TestDecodeMetricRecordToleratesUnknownFields(t *testing.T) {
	data := []byte(`{"dashboard_id": 1, "name": "m", "value": 0, "some_future_field": true}`)

	rec, err := DecodeMetricRecord(data)
	if err != nil {
		t.Fatalf("DecodeMetricRecord failed: %v", err)
	}
	if rec.Value != 0 {
		t.Errorf("Value = %v, want 0 (zero is a valid value, distinct from absent)", rec.Value)
	}
}

func TestDecodeMetricRecordDefaultsType(t *testing.T) {
	rec, err := DecodeMetricRecord([]byte(`{"dashboard_id": 1, "name": "m", "value": 1}`))
	if err != nil {
		t.Fatalf("DecodeMetricRecord failed: %v", err)
	}
	if rec.MetricType != TypeGauge {
		t.Errorf("MetricType = %q, want default %q", rec.MetricType, TypeGauge)
	}
}

func TestDecodeMetricRecordMalformed(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"missing dashboard_id", `{"name": "m", "value": 1}`},
		{"missing name", `{"dashboard_id": 1, "value": 1}`},
		{"empty name", `{"dashboard_id": 1, "name": "", "value": 1}`},
		{"missing value", `{"dashboard_id": 1, "name": "m"}`},
		{"not json", `{{{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMetricRecord([]byte(tt.data))
			if !errors.Is(err, ErrMalformed) {
				t.Errorf("error = %v, want ErrMalformed", err)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	now := time.Date(2026, 1, 15, 10, 30, 0, 0, time.UTC)

	rec := MetricRecord{DashboardID: 1, Name: "m", Value: 1}
	rec.Normalize(now)

	if rec.MetricType != TypeGauge {
		t.Errorf("MetricType = %q, want %q", rec.MetricType, TypeGauge)
	}
	if rec.Timestamp != "2026-01-15T10:30:00Z" {
		t.Errorf("Timestamp = %q, want %q", rec.Timestamp, "2026-01-15T10:30:00Z")
	}

	// Explicit values are preserved.
	rec2 := MetricRecord{DashboardID: 1, Name: "m", Value: 1, MetricType: TypeCounter, Timestamp: "2026-01-01T00:00:00Z"}
	rec2.Normalize(now)
	if rec2.MetricType != TypeCounter || rec2.Timestamp != "2026-01-01T00:00:00Z" {
		t.Errorf("Normalize overwrote explicit fields: %+v", rec2)
	}
}
