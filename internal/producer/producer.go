// Package producer implements the synchronous front end of the metric
// pipeline: it hands validated records to the durable log and returns only
// after the write is acknowledged.
package producer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/insightboard/insightboard/internal/model"
	"github.com/insightboard/insightboard/internal/streamlog"
)

// Producer errors.
var (
	// ErrConnectionFailed means the broker was unreachable after the
	// configured retries. The producer is unusable until restarted.
	ErrConnectionFailed = errors.New("producer: broker connection failed")

	// ErrPublishFailed means a single send failed. The producer never
	// retries internally; retry or drop is the caller's decision.
	ErrPublishFailed = errors.New("producer: publish failed")

	// ErrNotStarted means Send was called before a successful Start.
	ErrNotStarted = errors.New("producer: not started")
)

// Config holds producer settings.
type Config struct {
	ConnectRetries    int
	ConnectRetryDelay time.Duration
}

// Producer appends metric records to the log topic. Safe for concurrent
// use once started.
type Producer struct {
	cfg    Config
	broker *streamlog.Broker
	logger *slog.Logger

	// mu is held shared by in-flight sends and exclusively by Stop, so
	// Stop drains active sends before releasing the broker.
	mu      sync.RWMutex
	started bool
}

// New creates a producer over the given broker.
func New(cfg Config, broker *streamlog.Broker, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ConnectRetries < 1 {
		cfg.ConnectRetries = 1
	}
	return &Producer{
		cfg:    cfg,
		broker: broker,
		logger: logger,
	}
}

// Start establishes the broker connection with bounded retries. On
// exhausting retries it returns ErrConnectionFailed and the producer stays
// unusable; the owning process should degrade, not crash.
func (p *Producer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.started {
		return nil
	}

	for attempt := 1; attempt <= p.cfg.ConnectRetries; attempt++ {
		err := p.broker.Ping(ctx)
		if err == nil {
			p.started = true
			p.logger.Info("producer started", "topic", p.broker.Topic())
			return nil
		}

		p.logger.Warn("failed to connect to broker",
			"error", err,
			"attempt", attempt,
			"max_attempts", p.cfg.ConnectRetries,
		)
		if attempt == p.cfg.ConnectRetries {
			return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%w: %v", ErrConnectionFailed, ctx.Err())
		case <-time.After(p.cfg.ConnectRetryDelay):
		}
	}
	return ErrConnectionFailed
}

// Send serializes a record and blocks until the log acknowledges the
// append. The record's dashboard id is the partition key, which preserves
// per-dashboard ordering downstream.
func (p *Producer) Send(ctx context.Context, rec model.MetricRecord) (streamlog.Message, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.started {
		return streamlog.Message{}, ErrNotStarted
	}

	rec.Normalize(time.Now())

	value, err := json.Marshal(rec)
	if err != nil {
		return streamlog.Message{}, fmt.Errorf("%w: serialize: %v", ErrPublishFailed, err)
	}

	key := []byte(strconv.FormatInt(rec.DashboardID, 10))
	msg, err := p.broker.Append(ctx, key, value)
	if err != nil {
		return streamlog.Message{}, fmt.Errorf("%w: %v", ErrPublishFailed, err)
	}

	p.logger.Debug("metric sent",
		"name", rec.Name,
		"dashboard_id", rec.DashboardID,
		"partition", msg.Partition,
		"offset", msg.Offset,
	)
	return msg, nil
}

// Stop drains in-flight sends and marks the producer stopped. Idempotent:
// safe to call when never started or already stopped.
func (p *Producer) Stop(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.started {
		return nil
	}
	p.started = false
	p.logger.Info("producer stopped")
	return nil
}

// Ready reports whether the producer is usable.
func (p *Producer) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.started
}
