package producer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/insightboard/insightboard/internal/model"
	"github.com/insightboard/insightboard/internal/streamlog"
)

func newTestProducer(t *testing.T) (*Producer, *streamlog.Broker) {
	t.Helper()
	broker := streamlog.NewBroker(streamlog.Config{Topic: "metrics-stream", Partitions: 2}, streamlog.NewMemoryStorage(), nil)
	t.Cleanup(broker.Close)
	p := New(Config{ConnectRetries: 3, ConnectRetryDelay: time.Millisecond}, broker, nil)
	return p, broker
}

func TestSendBeforeStart(t *testing.T) {
	p, _ := newTestProducer(t)

	_, err := p.Send(context.Background(), model.MetricRecord{DashboardID: 1, Name: "m", Value: 1})
	if !errors.Is(err, ErrNotStarted) {
		t.Errorf("error = %v, want ErrNotStarted", err)
	}
	if p.Ready() {
		t.Error("Ready = true before start")
	}
}

func TestStartAndSend(t *testing.T) {
	p, broker := newTestProducer(t)
	ctx := context.Background()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if !p.Ready() {
		t.Error("Ready = false after start")
	}

	msg, err := p.Send(ctx, model.MetricRecord{DashboardID: 7, Name: "cpu", Value: 42.5})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if string(msg.Key) != "7" {
		t.Errorf("partition key = %q, want %q", msg.Key, "7")
	}

	// The appended record is normalized: default type and timestamp set.
	fetched, err := broker.Fetch(ctx, "verify", 1)
	if err != nil {
		t.Fatalf("Fetch failed: %v", err)
	}
	var rec model.MetricRecord
	if err := json.Unmarshal(fetched[0].Value, &rec); err != nil {
		t.Fatalf("unmarshal appended record: %v", err)
	}
	if rec.MetricType != model.TypeGauge {
		t.Errorf("MetricType = %q, want %q", rec.MetricType, model.TypeGauge)
	}
	if rec.Timestamp == "" {
		t.Error("Timestamp not filled in")
	}
}

func TestStartIdempotent(t *testing.T) {
	p, _ := newTestProducer(t)
	ctx := context.Background()

	if err := p.Start(ctx); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	if err := p.Start(ctx); err != nil {
		t.Errorf("second Start failed: %v", err)
	}
}

func TestStartFailsWhenBrokerClosed(t *testing.T) {
	broker := streamlog.NewBroker(streamlog.Config{Topic: "t", Partitions: 1}, streamlog.NewMemoryStorage(), nil)
	broker.Close()

	p := New(Config{ConnectRetries: 2, ConnectRetryDelay: time.Millisecond}, broker, nil)
	err := p.Start(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("error = %v, want ErrConnectionFailed", err)
	}
	if p.Ready() {
		t.Error("Ready = true after failed start")
	}
}

func TestStopIdempotent(t *testing.T) {
	p, _ := newTestProducer(t)
	ctx := context.Background()

	if err := p.Stop(ctx); err != nil {
		t.Errorf("Stop before start failed: %v", err)
	}

	if err := p.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := p.Stop(ctx); err != nil {
		t.Errorf("Stop failed: %v", err)
	}
	if err := p.Stop(ctx); err != nil {
		t.Errorf("second Stop failed: %v", err)
	}

	_, err := p.Send(ctx, model.MetricRecord{DashboardID: 1, Name: "m", Value: 1})
	if !errors.Is(err, ErrNotStarted) {
		t.Errorf("Send after stop error = %v, want ErrNotStarted", err)
	}
}
