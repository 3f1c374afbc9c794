// Package consumer implements the sole reader of the metrics topic: it
// turns each log record into a persisted metric and a relay publication,
// committing offsets only after a record is fully handled.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/insightboard/insightboard/internal/model"
	"github.com/insightboard/insightboard/internal/store"
	"github.com/insightboard/insightboard/internal/streamlog"
)

// Consumer errors.
var (
	// ErrConnectionFailed means the broker was unreachable after the
	// configured retries; the consumer never entered Running.
	ErrConnectionFailed = errors.New("consumer: broker connection failed")

	// ErrAlreadyStarted means Start was called while not Stopped.
	ErrAlreadyStarted = errors.New("consumer: already started")
)

// State is the consumer lifecycle state.
type State string

// Lifecycle: Stopped → Connecting → Running → Draining → Stopped.
const (
	StateStopped    State = "stopped"
	StateConnecting State = "connecting"
	StateRunning    State = "running"
	StateDraining   State = "draining"
)

// Publisher is the relay surface the consumer needs.
type Publisher interface {
	Publish(dashboardID int64, m model.PersistedMetric) error
}

// Config holds consumer settings.
type Config struct {
	Group             string
	ConnectRetries    int
	ConnectRetryDelay time.Duration
	FetchBatchSize    int
}

// Stats counts processing outcomes since start.
type Stats struct {
	Processed     int64
	Malformed     int64
	PersistErrors int64
	PublishErrors int64
}

// Consumer runs a single read loop over the log topic.
//
// Delivery into the store is at-least-once: a crash between persist and
// commit redelivers the record on restart, and the duplicate persists as a
// new row. Malformed records and persist failures commit their offset so a
// bad record never stalls its partition.
type Consumer struct {
	cfg       Config
	broker    *streamlog.Broker
	metrics   store.MetricStore
	publisher Publisher
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu    sync.Mutex
	state State
	stats Stats
}

// New creates a consumer. Dependencies are injected; the consumer holds no
// ambient references.
func New(cfg Config, broker *streamlog.Broker, metrics store.MetricStore, publisher Publisher, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectRetries < 1 {
		cfg.ConnectRetries = 1
	}
	if cfg.FetchBatchSize < 1 {
		cfg.FetchBatchSize = 1
	}
	return &Consumer{
		cfg:       cfg,
		broker:    broker,
		metrics:   metrics,
		publisher: publisher,
		logger:    logger,
		state:     StateStopped,
	}
}

// Start connects to the broker with bounded retries and launches the read
// loop. On exhausting retries it reports ErrConnectionFailed and returns
// to Stopped without entering Running.
func (c *Consumer) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateStopped {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	c.state = StateConnecting
	c.mu.Unlock()

	if err := c.connect(ctx); err != nil {
		c.setState(StateStopped)
		return err
	}

	c.ctx, c.cancel = context.WithCancel(context.Background())
	c.setState(StateRunning)

	c.wg.Add(1)
	go c.readLoop()

	c.logger.Info("consumer started",
		"topic", c.broker.Topic(),
		"group", c.cfg.Group,
	)
	return nil
}

// Stop drains the consumer: cancels the read loop, waits for its
// cooperative exit (bounded by ctx), then returns to Stopped. An in-flight
// record either finishes its persist+publish+commit cycle or is abandoned
// uncommitted for redelivery on restart.
func (c *Consumer) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state != StateRunning {
		c.mu.Unlock()
		return nil
	}
	c.state = StateDraining
	c.mu.Unlock()

	c.logger.Info("stopping consumer")
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		c.logger.Info("consumer stopped")
	case <-ctx.Done():
		c.logger.Warn("consumer stop timed out")
	}

	c.setState(StateStopped)
	return nil
}

// State returns the current lifecycle state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Ready reports whether the read loop is running.
func (c *Consumer) Ready() bool {
	return c.State() == StateRunning
}

// Stats returns processing counters.
func (c *Consumer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

func (c *Consumer) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// connect pings the broker with the bounded retry contract.
func (c *Consumer) connect(ctx context.Context) error {
	for attempt := 1; attempt <= c.cfg.ConnectRetries; attempt++ {
		err := c.broker.Ping(ctx)
		if err == nil {
			return nil
		}

		c.logger.Warn("failed to connect to broker",
			"error", err,
			"attempt", attempt,
			"max_attempts", c.cfg.ConnectRetries,
		)
		if attempt == c.cfg.ConnectRetries {
			return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrConnectionFailed, ctx.Err())
		case <-time.After(c.cfg.ConnectRetryDelay):
		}
	}
	return ErrConnectionFailed
}

// readLoop pulls batches from the log and handles each record. Fetch
// blocks while the topic is empty; there is no polling interval.
func (c *Consumer) readLoop() {
	defer c.wg.Done()

	for {
		msgs, err := c.broker.Fetch(c.ctx, c.cfg.Group, c.cfg.FetchBatchSize)
		if err != nil {
			if c.ctx.Err() != nil || errors.Is(err, streamlog.ErrClosed) {
				return
			}
			c.logger.Error("fetch failed", "error", err)
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(time.Second):
			}
			continue
		}

		for _, msg := range msgs {
			if c.ctx.Err() != nil {
				// Draining: remaining records stay uncommitted and are
				// redelivered on restart.
				return
			}
			c.handle(msg)
		}
	}
}

// handle runs one record through validate → persist → publish → commit.
// Failures are isolated to the record and never stop the loop.
func (c *Consumer) handle(msg streamlog.Message) {
	rec, err := model.DecodeMetricRecord(msg.Value)
	if err != nil {
		// Permanent: malformed data cannot be redelivered into
		// correctness, so skip it rather than stall the partition.
		c.logger.Error("skipping malformed record",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
		c.count(func(s *Stats) { s.Malformed++ })
		c.commit(msg)
		return
	}

	persisted, err := c.metrics.Persist(c.ctx, rec)
	if err != nil {
		// Stated trade-off: the offset advances even on a transient store
		// failure, accepting loss over an indefinitely stalled partition.
		c.logger.Error("persist failed",
			"error", err,
			"permanent", store.IsPermanent(err),
			"dashboard_id", rec.DashboardID,
			"offset", msg.Offset,
		)
		c.count(func(s *Stats) { s.PersistErrors++ })
		c.commit(msg)
		return
	}

	// Real-time delivery is best-effort; durability is not. A publish
	// failure neither rolls back the persist nor blocks the commit.
	if err := c.publisher.Publish(persisted.DashboardID, persisted); err != nil {
		c.logger.Warn("relay publish failed",
			"error", err,
			"dashboard_id", persisted.DashboardID,
		)
		c.count(func(s *Stats) { s.PublishErrors++ })
	}

	c.commit(msg)

	processed := c.countProcessed()
	if processed%100 == 0 {
		c.logger.Info("processing progress", "processed", processed)
	}

	c.logger.Debug("metric processed",
		"name", persisted.Name,
		"dashboard_id", persisted.DashboardID,
		"id", persisted.ID,
	)
}

func (c *Consumer) commit(msg streamlog.Message) {
	if err := c.broker.Commit(c.ctx, c.cfg.Group, msg); err != nil {
		c.logger.Error("offset commit failed",
			"error", err,
			"partition", msg.Partition,
			"offset", msg.Offset,
		)
	}
}

func (c *Consumer) count(f func(*Stats)) {
	c.mu.Lock()
	f(&c.stats)
	c.mu.Unlock()
}

func (c *Consumer) countProcessed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.Processed++
	return c.stats.Processed
}
