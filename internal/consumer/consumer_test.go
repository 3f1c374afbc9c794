package consumer

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/insightboard/insightboard/internal/model"
	"github.com/insightboard/insightboard/internal/store"
	"github.com/insightboard/insightboard/internal/streamlog"
)

type fakeMetricStore struct {
	mu         sync.Mutex
	persistErr error
	nextID     int64
	persisted  []model.PersistedMetric
}

func (f *fakeMetricStore) Persist(ctx context.Context, rec model.MetricRecord) (model.PersistedMetric, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.persistErr != nil {
		return model.PersistedMetric{}, f.persistErr
	}
	f.nextID++
	m := model.PersistedMetric{
		ID:          f.nextID,
		Name:        rec.Name,
		Value:       rec.Value,
		MetricType:  rec.MetricType,
		DashboardID: rec.DashboardID,
		Metadata:    rec.Metadata,
		CreatedAt:   time.Now().UTC(),
	}
	f.persisted = append(f.persisted, m)
	return m, nil
}

func (f *fakeMetricStore) ListByDashboard(ctx context.Context, dashboardID int64, limit int) ([]model.PersistedMetric, error) {
	return nil, nil
}

func (f *fakeMetricStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.persisted)
}

type fakePublisher struct {
	mu         sync.Mutex
	publishErr error
	published  []model.PersistedMetric
}

func (f *fakePublisher) Publish(dashboardID int64, m model.PersistedMetric) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.publishErr != nil {
		return f.publishErr
	}
	f.published = append(f.published, m)
	return nil
}

func (f *fakePublisher) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.published)
}

type fixture struct {
	broker    *streamlog.Broker
	storage   *streamlog.MemoryStorage
	metrics   *fakeMetricStore
	publisher *fakePublisher
	consumer  *Consumer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	storage := streamlog.NewMemoryStorage()
	broker := streamlog.NewBroker(streamlog.Config{Topic: "metrics-stream", Partitions: 1}, storage, nil)
	t.Cleanup(broker.Close)

	metrics := &fakeMetricStore{}
	publisher := &fakePublisher{}
	cons := New(Config{
		Group:             "test-group",
		ConnectRetries:    3,
		ConnectRetryDelay: time.Millisecond,
		FetchBatchSize:    10,
	}, broker, metrics, publisher, nil)
	t.Cleanup(func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		cons.Stop(stopCtx)
	})

	return &fixture{broker: broker, storage: storage, metrics: metrics, publisher: publisher, consumer: cons}
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

func produce(t *testing.T, f *fixture, payload string) {
	t.Helper()
	if _, err := f.broker.Append(context.Background(), []byte("1"), []byte(payload)); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
}

func committedOffset(t *testing.T, f *fixture) int64 {
	t.Helper()
	off, err := f.storage.GetCommittedOffset(context.Background(), "test-group", "metrics-stream", 0)
	if err != nil {
		t.Fatalf("GetCommittedOffset failed: %v", err)
	}
	return off
}

func TestConsumerPersistsAndPublishes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.consumer.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if f.consumer.State() != StateRunning {
		t.Fatalf("State = %q, want %q", f.consumer.State(), StateRunning)
	}

	produce(t, f, `{"dashboard_id": 7, "name": "cpu_usage", "value": 42.5, "metric_type": "gauge"}`)

	waitFor(t, func() bool { return f.metrics.count() == 1 }, "record not persisted")
	waitFor(t, func() bool { return f.publisher.count() == 1 }, "record not published")
	waitFor(t, func() bool { return committedOffset(t, f) == 0 }, "offset not committed")

	f.metrics.mu.Lock()
	got := f.metrics.persisted[0]
	f.metrics.mu.Unlock()
	if got.DashboardID != 7 || got.Name != "cpu_usage" || got.Value != 42.5 {
		t.Errorf("persisted = %+v, want dashboard 7 cpu_usage 42.5", got)
	}

	f.publisher.mu.Lock()
	pub := f.publisher.published[0]
	f.publisher.mu.Unlock()
	if pub.ID != got.ID {
		t.Errorf("published id = %d, want persisted id %d", pub.ID, got.ID)
	}

	stats := f.consumer.Stats()
	if stats.Processed != 1 || stats.Malformed != 0 {
		t.Errorf("stats = %+v, want 1 processed", stats)
	}
}

func TestConsumerSkipsMalformedAndCommits(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.consumer.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	produce(t, f, `not json at all`)
	produce(t, f, `{"dashboard_id": 1, "name": "m", "value": 1}`)

	// The valid record behind the malformed one still gets through.
	waitFor(t, func() bool { return f.metrics.count() == 1 }, "valid record not persisted")
	waitFor(t, func() bool { return committedOffset(t, f) == 1 }, "offsets not committed past malformed record")

	stats := f.consumer.Stats()
	if stats.Malformed != 1 {
		t.Errorf("Malformed = %d, want 1", stats.Malformed)
	}
	if stats.Processed != 1 {
		t.Errorf("Processed = %d, want 1", stats.Processed)
	}
}

func TestConsumerCommitsOnPersistFailure(t *testing.T) {
	f := newFixture(t)
	f.metrics.persistErr = store.ErrUnknownDashboard
	ctx := context.Background()

	if err := f.consumer.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	produce(t, f, `{"dashboard_id": 999, "name": "m", "value": 1}`)

	// The offset advances even though the persist failed.
	waitFor(t, func() bool { return committedOffset(t, f) == 0 }, "offset not committed after persist failure")

	if got := f.publisher.count(); got != 0 {
		t.Errorf("published %d records after persist failure, want 0", got)
	}
	if stats := f.consumer.Stats(); stats.PersistErrors != 1 {
		t.Errorf("PersistErrors = %d, want 1", stats.PersistErrors)
	}
}

func TestConsumerCommitsOnPublishFailure(t *testing.T) {
	f := newFixture(t)
	f.publisher.publishErr = errors.New("relay unavailable")
	ctx := context.Background()

	if err := f.consumer.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	produce(t, f, `{"dashboard_id": 1, "name": "m", "value": 1}`)

	waitFor(t, func() bool { return f.metrics.count() == 1 }, "record not persisted")
	waitFor(t, func() bool { return committedOffset(t, f) == 0 }, "offset not committed after publish failure")

	stats := f.consumer.Stats()
	if stats.Processed != 1 || stats.PublishErrors != 1 {
		t.Errorf("stats = %+v, want 1 processed with 1 publish error", stats)
	}
}

func TestConsumerStartWhileRunning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.consumer.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if err := f.consumer.Start(ctx); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start error = %v, want ErrAlreadyStarted", err)
	}
}

func TestConsumerStartFailsWhenBrokerClosed(t *testing.T) {
	storage := streamlog.NewMemoryStorage()
	broker := streamlog.NewBroker(streamlog.Config{Topic: "t", Partitions: 1}, storage, nil)
	broker.Close()

	cons := New(Config{Group: "g", ConnectRetries: 2, ConnectRetryDelay: time.Millisecond, FetchBatchSize: 1},
		broker, &fakeMetricStore{}, &fakePublisher{}, nil)

	err := cons.Start(context.Background())
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("error = %v, want ErrConnectionFailed", err)
	}
	if cons.State() != StateStopped {
		t.Errorf("State = %q, want %q after failed start", cons.State(), StateStopped)
	}
}

func TestConsumerStopAndRestartRedelivers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	if err := f.consumer.Start(ctx); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	produce(t, f, `{"dashboard_id": 1, "name": "m", "value": 1}`)
	waitFor(t, func() bool { return committedOffset(t, f) == 0 }, "first record not committed")

	stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := f.consumer.Stop(stopCtx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if f.consumer.State() != StateStopped {
		t.Fatalf("State = %q, want %q", f.consumer.State(), StateStopped)
	}

	// Appended while stopped; delivered after restart.
	produce(t, f, `{"dashboard_id": 1, "name": "m2", "value": 2}`)

	if err := f.consumer.Start(ctx); err != nil {
		t.Fatalf("restart failed: %v", err)
	}
	waitFor(t, func() bool { return f.metrics.count() == 2 }, "record appended during stop not delivered after restart")
}
