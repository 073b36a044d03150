// Package buffer provides a bounded, thread-safe queue with an overflow policy,
// used to decouple frame-rate producers from slower network consumers.
//
// Producers Write without blocking; when the queue is full the overflow policy
// decides which item is lost and the loss is counted. Consumers wait on Ready
// and drain with ReadBatch.
package buffer

import (
	"sync"

	"github.com/c360/phasorstreams/errors"
	"github.com/c360/phasorstreams/metric"
)

// OverflowPolicy decides what a full buffer does with a new item.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued item to make room.
	DropOldest OverflowPolicy = iota
	// DropNewest discards the item being written.
	DropNewest
)

// String returns the policy name.
func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "DropOldest"
	case DropNewest:
		return "DropNewest"
	default:
		return "Unknown"
	}
}

// Option configures a Buffer.
type Option[T any] func(*Buffer[T])

// WithOverflowPolicy sets the overflow policy; the default is DropOldest.
func WithOverflowPolicy[T any](policy OverflowPolicy) Option[T] {
	return func(b *Buffer[T]) { b.policy = policy }
}

// WithDropCallback observes every dropped item. It runs outside the buffer lock.
func WithDropCallback[T any](fn func(item T)) Option[T] {
	return func(b *Buffer[T]) { b.onDrop = fn }
}

// WithMetrics exposes size and drop counts under the given name.
func WithMetrics[T any](registry *metric.MetricsRegistry, name string) Option[T] {
	return func(b *Buffer[T]) {
		b.metrics = newMetrics(registry, name)
	}
}

// Buffer is a fixed-capacity ring of T.
type Buffer[T any] struct {
	mu      sync.Mutex
	items   []T
	head    int
	size    int
	policy  OverflowPolicy
	onDrop  func(T)
	metrics *bufferMetrics
	closed  bool

	ready   chan struct{}
	dropped int64
	written int64
}

// New returns a buffer holding at most capacity items. Capacity below 1 is raised to 1.
func New[T any](capacity int, opts ...Option[T]) *Buffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	b := &Buffer[T]{
		items: make([]T, capacity),
		ready: make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Write queues item. It never blocks; a full buffer applies the overflow policy.
func (b *Buffer[T]) Write(item T) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return errors.WrapInvalid(errors.ErrShuttingDown, "Buffer", "Write", "buffer closed")
	}

	var (
		lost    T
		hasLost bool
	)
	capacity := len(b.items)
	if b.size == capacity {
		b.dropped++
		hasLost = true
		if b.policy == DropNewest {
			lost = item
			b.mu.Unlock()
			b.recordDrop(lost)
			return nil
		}
		lost = b.items[b.head]
		var zero T
		b.items[b.head] = zero
		b.head = (b.head + 1) % capacity
		b.size--
	}

	b.items[(b.head+b.size)%capacity] = item
	b.size++
	b.written++
	size := b.size
	b.mu.Unlock()

	if hasLost {
		b.recordDrop(lost)
	}
	if b.metrics != nil {
		b.metrics.size.Set(float64(size))
	}
	select {
	case b.ready <- struct{}{}:
	default:
	}
	return nil
}

func (b *Buffer[T]) recordDrop(item T) {
	if b.metrics != nil {
		b.metrics.drops.Inc()
	}
	if b.onDrop != nil {
		b.onDrop(item)
	}
}

// ReadBatch removes and returns up to max items in arrival order.
func (b *Buffer[T]) ReadBatch(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.size
	if max > 0 && n > max {
		n = max
	}
	if n == 0 {
		return nil
	}
	out := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		out[i] = b.items[b.head]
		b.items[b.head] = zero
		b.head = (b.head + 1) % len(b.items)
	}
	b.size -= n
	if b.metrics != nil {
		b.metrics.size.Set(float64(b.size))
	}
	if b.size > 0 {
		select {
		case b.ready <- struct{}{}:
		default:
		}
	}
	return out
}

// Ready is signalled after a write; consumers wait on it and then ReadBatch.
func (b *Buffer[T]) Ready() <-chan struct{} {
	return b.ready
}

// Len is the number of queued items.
func (b *Buffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Capacity is the maximum number of queued items.
func (b *Buffer[T]) Capacity() int {
	return len(b.items)
}

// Dropped is the number of items lost to overflow.
func (b *Buffer[T]) Dropped() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.dropped
}

// Written is the number of items accepted.
func (b *Buffer[T]) Written() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.written
}

// Close rejects further writes and releases metrics. Queued items stay readable.
func (b *Buffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.metrics != nil {
		b.metrics.release()
	}
}
