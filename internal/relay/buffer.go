package relay

import (
	"sync"

	"github.com/insightboard/insightboard/internal/model"
)

// buffer is an unbounded ordered FIFO of metric payloads. Send never
// blocks: the backing slice doubles when full, so one stalled subscriber
// only grows its own buffer and never slows the publisher or its peers.
type buffer struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []model.PersistedMetric
	head     int
	tail     int
	count    int
	capacity int
	closed   bool
}

func newBuffer(initialCapacity int) *buffer {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	b := &buffer{
		items:    make([]model.PersistedMetric, initialCapacity),
		capacity: initialCapacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// send enqueues an item, growing the buffer if needed. Returns false if
// the buffer is closed.
func (b *buffer) send(item model.PersistedMetric) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}
	if b.count == b.capacity {
		b.grow()
	}

	b.items[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++

	b.cond.Signal()
	return true
}

// receive dequeues the next item, blocking until one is available or the
// buffer is closed. Returns false once closed and drained.
func (b *buffer) receive() (model.PersistedMetric, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}
	if b.count == 0 {
		return model.PersistedMetric{}, false
	}

	item := b.items[b.head]
	b.items[b.head] = model.PersistedMetric{}
	b.head = (b.head + 1) % b.capacity
	b.count--
	return item, true
}

// close stops the buffer. Pending items remain receivable.
func (b *buffer) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cond.Broadcast()
}

func (b *buffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// grow doubles capacity. Caller holds the lock.
func (b *buffer) grow() {
	next := make([]model.PersistedMetric, b.capacity*2)
	if b.head < b.tail {
		copy(next, b.items[b.head:b.tail])
	} else if b.count > 0 {
		n := copy(next, b.items[b.head:])
		copy(next[n:], b.items[:b.tail])
	}
	b.items = next
	b.head = 0
	b.tail = b.count
	b.capacity *= 2
}
