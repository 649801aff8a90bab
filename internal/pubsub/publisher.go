package pubsub

import (
	"errors"
	"sync"
	"sync/atomic"

	"github.com/alanbriolat/media-fetch/generic"
	"github.com/alanbriolat/media-fetch/internal/sync_"
)

const DefaultSubscriberBufSize = 16

var (
	ErrPublisherClosed = errors.New("publisher closed")
)

// Publisher fans messages out to subscribers. Publishing never blocks: a subscriber whose buffer is full misses the
// message, so a slow reader cannot hold up the work being reported on.
type Publisher[T any] struct {
	mu          sync.Mutex
	subscribers *sync_.Mutexed[generic.Set[*subscription[T]]]
	closed      bool
	dropped     atomic.Int64
}

func NewPublisher[T any]() *Publisher[T] {
	return &Publisher[T]{
		subscribers: sync_.NewMutexed(generic.NewSet[*subscription[T]]()),
	}
}

type subscription[T any] struct {
	Channel[T]
	filter    func(T) bool
	publisher *Publisher[T]
}

// Close unsubscribes, then closes the channel.
func (s *subscription[T]) Close() {
	s.publisher.unsubscribe(s)
	s.Channel.Close()
}

// Send publishes msg to every current subscriber, returning false if the publisher is closed.
func (p *Publisher[T]) Send(msg T) bool {
	var subscribers []*subscription[T]
	_ = p.subscribers.Locked(func(s generic.Set[*subscription[T]]) error {
		subscribers = s.ToSlice()
		return nil
	})
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return false
	}
	for _, s := range subscribers {
		if s.filter != nil && !s.filter(msg) {
			continue
		}
		if !s.TrySend(msg) {
			p.dropped.Add(1)
		}
	}
	return true
}

// Dropped counts messages that did not fit in a subscriber's buffer.
func (p *Publisher[T]) Dropped() int64 {
	return p.dropped.Load()
}

func (p *Publisher[T]) Subscribe() (ReceiverCloser[T], error) {
	return p.SubscribeFiltered(DefaultSubscriberBufSize, nil)
}

// SubscribeFiltered subscribes to messages for which filter returns true (all messages if filter is nil).
func (p *Publisher[T]) SubscribeFiltered(bufSize int, filter func(T) bool) (ReceiverCloser[T], error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPublisherClosed
	}
	s := &subscription[T]{
		Channel:   NewChannel[T](bufSize),
		filter:    filter,
		publisher: p,
	}
	_ = p.subscribers.Locked(func(subscribers generic.Set[*subscription[T]]) error {
		subscribers.Add(s)
		return nil
	})
	return s, nil
}

func (p *Publisher[T]) unsubscribe(s *subscription[T]) {
	_ = p.subscribers.Locked(func(subscribers generic.Set[*subscription[T]]) error {
		subscribers.Remove(s)
		return nil
	})
}

// Close idempotently shuts down the publisher, closing all subscribers too.
func (p *Publisher[T]) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	var subscribers []*subscription[T]
	_ = p.subscribers.Locked(func(s generic.Set[*subscription[T]]) error {
		subscribers = s.ToSlice()
		s.Clear()
		return nil
	})
	for _, s := range subscribers {
		s.Channel.Close()
	}
}
