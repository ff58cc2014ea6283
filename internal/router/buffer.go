package router

import (
	"sync"
)

// GrowableBuffer is a thread-safe FIFO ring that doubles its capacity when
// it reaches 70% full, up to an optional ceiling. At the ceiling the oldest
// item is evicted so Send never blocks the producer.
type GrowableBuffer[T any] struct {
	mu          sync.Mutex
	cond        *sync.Cond
	buf         []T
	head        int // read position
	tail        int // write position
	count       int
	capacity    int
	maxCapacity int // 0 = unbounded
	closed      bool

	// Stats
	totalReceived int64
	totalSent     int64
	totalDropped  int64
	resizeCount   int
}

// NewGrowableBuffer creates an unbounded buffer with the given initial capacity.
func NewGrowableBuffer[T any](initialCapacity int) *GrowableBuffer[T] {
	return NewBoundedBuffer[T](initialCapacity, 0)
}

// NewBoundedBuffer creates a buffer that grows up to maxCapacity items.
// A maxCapacity of 0 means unbounded.
func NewBoundedBuffer[T any](initialCapacity, maxCapacity int) *GrowableBuffer[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	if maxCapacity > 0 && initialCapacity > maxCapacity {
		initialCapacity = maxCapacity
	}
	b := &GrowableBuffer[T]{
		buf:         make([]T, initialCapacity),
		capacity:    initialCapacity,
		maxCapacity: maxCapacity,
	}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Send appends an item. Returns false if the buffer is closed.
func (b *GrowableBuffer[T]) Send(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return false
	}

	threshold := (b.capacity * 70) / 100
	if threshold < 1 {
		threshold = 1
	}
	if b.count+1 >= threshold && b.canGrow() {
		b.grow()
	}

	if b.count == b.capacity {
		// Full at the ceiling: evict the oldest
		b.pop()
		b.totalSent--
		b.totalDropped++
	}

	b.buf[b.tail] = item
	b.tail = (b.tail + 1) % b.capacity
	b.count++
	b.totalReceived++

	b.cond.Signal()
	return true
}

// Receive removes and returns the oldest item, blocking until one is
// available. Returns false once the buffer is closed and empty.
func (b *GrowableBuffer[T]) Receive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for b.count == 0 && !b.closed {
		b.cond.Wait()
	}

	if b.count == 0 {
		var zero T
		return zero, false
	}

	return b.pop(), true
}

// TryReceive removes and returns the oldest item without blocking.
func (b *GrowableBuffer[T]) TryReceive() (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		var zero T
		return zero, false
	}

	return b.pop(), true
}

// DrainTo removes up to max items (all when max <= 0) in FIFO order.
func (b *GrowableBuffer[T]) DrainTo(max int) []T {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.count == 0 {
		return nil
	}

	n := b.count
	if max > 0 && max < n {
		n = max
	}

	result := make([]T, n)
	for i := range result {
		result[i] = b.pop()
	}
	return result
}

// Close stops accepting items. Receivers drain what is left, then see false.
func (b *GrowableBuffer[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.closed = true
	b.cond.Broadcast()
}

// IsClosed reports whether Close has been called.
func (b *GrowableBuffer[T]) IsClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}

// Len returns the current number of items in the buffer.
func (b *GrowableBuffer[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.count
}

// Cap returns the current capacity of the buffer.
func (b *GrowableBuffer[T]) Cap() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.capacity
}

// BufferStats contains buffer statistics.
type BufferStats struct {
	Count         int
	Capacity      int
	TotalReceived int64
	TotalSent     int64
	TotalDropped  int64
	ResizeCount   int
}

// Stats returns buffer statistics.
func (b *GrowableBuffer[T]) Stats() BufferStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BufferStats{
		Count:         b.count,
		Capacity:      b.capacity,
		TotalReceived: b.totalReceived,
		TotalSent:     b.totalSent,
		TotalDropped:  b.totalDropped,
		ResizeCount:   b.resizeCount,
	}
}

// pop removes the head item. Must be called with lock held and count > 0.
func (b *GrowableBuffer[T]) pop() T {
	item := b.buf[b.head]
	var zero T
	b.buf[b.head] = zero // Clear reference for GC
	b.head = (b.head + 1) % b.capacity
	b.count--
	b.totalSent++
	return item
}

func (b *GrowableBuffer[T]) canGrow() bool {
	return b.maxCapacity == 0 || b.capacity < b.maxCapacity
}

// grow doubles the capacity, clamped to maxCapacity. Must be called with lock held.
func (b *GrowableBuffer[T]) grow() {
	newCapacity := b.capacity * 2
	if b.maxCapacity > 0 && newCapacity > b.maxCapacity {
		newCapacity = b.maxCapacity
	}
	newBuf := make([]T, newCapacity)

	if b.count > 0 {
		if b.head < b.tail {
			copy(newBuf, b.buf[b.head:b.tail])
		} else {
			// Wrapped: [head...end) + [0...tail)
			n := copy(newBuf, b.buf[b.head:])
			copy(newBuf[n:], b.buf[:b.tail])
		}
	}

	b.buf = newBuf
	b.head = 0
	b.tail = b.count % newCapacity
	b.capacity = newCapacity
	b.resizeCount++
}
