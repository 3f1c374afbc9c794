// Package relay implements the ephemeral pub/sub medium between the log
// consumer and the broadcast gateways.
//
// One channel exists per dashboard. Publishes fan out to every current
// subscriber of that channel in publish order; with no subscribers the
// payload is dropped. Nothing is retained or replayed. Each subscription
// owns an independent unbounded buffer, so a slow subscriber never blocks
// the publisher or other subscribers.
package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/insightboard/insightboard/internal/model"
)

// ErrClosed means the relay has shut down and no longer accepts publishes
// or subscriptions.
var ErrClosed = errors.New("relay closed")

// ChannelName derives the pub/sub channel for a dashboard. The mapping is
// a contract between the consumer and the gateway.
func ChannelName(dashboardID int64) string {
	return fmt.Sprintf("dashboard:%d:metrics", dashboardID)
}

// Config holds relay settings.
type Config struct {
	// SubscriberBuffer is each subscription's initial buffer capacity.
	SubscriberBuffer int
}

// Relay broadcasts persisted metrics to dashboard subscribers.
type Relay struct {
	cfg    Config
	logger *slog.Logger

	mu      sync.RWMutex
	subs    map[int64]map[*Subscription]struct{}
	started bool
	closed  bool
}

// New creates a relay.
func New(cfg Config, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SubscriberBuffer < 1 {
		cfg.SubscriberBuffer = 1
	}
	return &Relay{
		cfg:    cfg,
		logger: logger,
		subs:   make(map[int64]map[*Subscription]struct{}),
	}
}

// Start marks the relay ready.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.started = true
	r.logger.Info("relay started")
	return nil
}

// Ready reports whether the relay accepts publishes and subscriptions.
func (r *Relay) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.started && !r.closed
}

// Publish fans a persisted metric out to all current subscribers of the
// dashboard's channel. Fire-and-forget: zero subscribers drops the
// payload, and no subscriber's backlog can block the call.
func (r *Relay) Publish(dashboardID int64, m model.PersistedMetric) error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed || !r.started {
		return ErrClosed
	}

	for sub := range r.subs[dashboardID] {
		sub.buf.send(m)
	}
	return nil
}

// Subscribe opens a subscription to a dashboard's channel. It yields each
// payload published from this moment onward; there is no replay. The
// caller must Close the subscription on every exit path.
func (r *Relay) Subscribe(dashboardID int64) (*Subscription, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || !r.started {
		return nil, ErrClosed
	}

	sub := &Subscription{
		relay:       r,
		dashboardID: dashboardID,
		buf:         newBuffer(r.cfg.SubscriberBuffer),
		out:         make(chan model.PersistedMetric),
		done:        make(chan struct{}),
	}

	set, ok := r.subs[dashboardID]
	if !ok {
		set = make(map[*Subscription]struct{})
		r.subs[dashboardID] = set
	}
	set[sub] = struct{}{}

	go sub.pump()

	r.logger.Debug("subscribed", "channel", ChannelName(dashboardID))
	return sub, nil
}

// Close shuts the relay down and tears down every open subscription.
func (r *Relay) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	var all []*Subscription
	for _, set := range r.subs {
		for sub := range set {
			all = append(all, sub)
		}
	}
	r.subs = make(map[int64]map[*Subscription]struct{})
	r.mu.Unlock()

	for _, sub := range all {
		sub.teardown()
	}
	r.logger.Info("relay closed")
}

// Subscribers returns the current subscriber count for a dashboard.
func (r *Relay) Subscribers(dashboardID int64) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.subs[dashboardID])
}

func (r *Relay) unsubscribe(sub *Subscription) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[sub.dashboardID]
	if !ok {
		return
	}
	delete(set, sub)
	if len(set) == 0 {
		delete(r.subs, sub.dashboardID)
	}
	r.logger.Debug("unsubscribed", "channel", ChannelName(sub.dashboardID))
}

// Subscription is one live attachment to a dashboard channel. Payloads
// arrive on C in publish order.
type Subscription struct {
	relay       *Relay
	dashboardID int64
	buf         *buffer
	out         chan model.PersistedMetric
	done        chan struct{}
	closeOnce   sync.Once
}

// C returns the payload channel. It is closed when the subscription ends.
func (s *Subscription) C() <-chan model.PersistedMetric {
	return s.out
}

// Close releases the subscription: unregisters it from the relay and frees
// its buffer. Idempotent.
func (s *Subscription) Close() {
	s.relay.unsubscribe(s)
	s.teardown()
}

func (s *Subscription) teardown() {
	s.closeOnce.Do(func() {
		close(s.done)
		s.buf.close()
	})
}

// pump moves payloads from the subscription's private buffer to its
// channel, preserving order.
func (s *Subscription) pump() {
	defer close(s.out)
	for {
		m, ok := s.buf.receive()
		if !ok {
			return
		}
		select {
		case s.out <- m:
		case <-s.done:
			return
		}
	}
}
