// Package concurrency implements the runtime that executes concurrent
// (I/O-bound) and parallel (CPU-bound) blocks: typed channels, a global
// scheduler, a work-stealing thread pool, a platform event loop, and the
// per-block execution state the VM drives through ConcurrencyState.
package concurrency

import "sync"

// Channel is a thread-safe, closeable FIFO queue. Send never blocks (the
// buffer is unbounded); Receive blocks until an item arrives or the channel
// is closed. Items from a single producer are delivered in send order.
type Channel[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	buf    []T
	closed bool
}

func NewChannel[T any]() *Channel[T] {
	c := &Channel[T]{}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// Send enqueues a value and wakes one waiting receiver. Sending on a closed
// channel drops the value and returns false; it never blocks or panics.
func (c *Channel[T]) Send(value T) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	c.buf = append(c.buf, value)
	c.cond.Signal()
	return true
}

// Receive blocks until a value is available or the channel is closed.
// ok is false only when the channel is closed and empty.
func (c *Channel[T]) Receive() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.buf) == 0 && !c.closed {
		c.cond.Wait()
	}
	if len(c.buf) == 0 {
		var zero T
		return zero, false
	}
	return c.pop(), true
}

// TryReceive is the non-blocking form of Receive.
func (c *Channel[T]) TryReceive() (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.buf) == 0 {
		var zero T
		return zero, false
	}
	return c.pop(), true
}

// pop removes the head. Caller holds c.mu.
func (c *Channel[T]) pop() T {
	v := c.buf[0]
	var zero T
	c.buf[0] = zero // release the reference
	c.buf = c.buf[1:]
	return v
}

// Close marks the channel closed and wakes all blocked receivers.
// It is idempotent. Items already buffered remain receivable.
func (c *Channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.cond.Broadcast()
}

func (c *Channel[T]) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Channel[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buf)
}
