package pubsub

import (
	"sync"
)

type Sender[T any] interface {
	// TrySend delivers msg if there is room, returning false if it was dropped or the channel is closed.
	TrySend(T) bool
}

type Receiver[T any] interface {
	Receive() <-chan T
}

type Closer interface {
	Close()
	Closed() <-chan struct{}
}

type SenderCloser[T any] interface {
	Sender[T]
	Closer
}

type ReceiverCloser[T any] interface {
	Receiver[T]
	Closer
}

type Channel[T any] interface {
	Sender[T]
	Receiver[T]
	Closer
}

// channel wraps a primitive `chan` in some concurrency-safe state management, so that it can be closed while
// senders are active.
type channel[T any] struct {
	mu     sync.RWMutex
	ch     chan T
	done   chan struct{}
	closed bool
}

// NewChannel creates a new channel of the specified type and buffer size.
func NewChannel[T any](bufSize int) Channel[T] {
	return &channel[T]{
		ch:   make(chan T, bufSize),
		done: make(chan struct{}),
	}
}

// Receive returns a channel receiver for awaiting the next message.
func (c *channel[T]) Receive() <-chan T {
	return c.ch
}

func (c *channel[T]) TrySend(msg T) bool {
	// Holding the read lock keeps Close() from closing c.ch under us
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.ch <- msg:
		return true
	default:
		return false
	}
}

// Close idempotently ends the channel so that all current and future sends fail. Buffered messages can still be
// received.
func (c *channel[T]) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	close(c.done)
	close(c.ch)
	c.closed = true
}

func (c *channel[T]) Closed() <-chan struct{} {
	return c.done
}
