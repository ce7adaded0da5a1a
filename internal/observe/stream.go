// ABOUTME: Event stream with no replay and bounded per-subscriber buffers
// ABOUTME: Events published while a subscriber's buffer is full are dropped for it

package observe

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Stream broadcasts events to every current subscriber.
type Stream[T any] struct {
	mu      sync.RWMutex
	subs    cmap.ConcurrentMap[string, *subscriber[T]]
	closed  bool
	dropped atomic.Int64
}

// NewStream returns an empty stream.
func NewStream[T any]() *Stream[T] {
	return &Stream[T]{subs: cmap.New[*subscriber[T]]()}
}

// Publish delivers v to every subscriber that has buffer room.
func (s *Stream[T]) Publish(v T) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	s.subs.IterCb(func(_ string, sub *subscriber[T]) {
		if !sub.offer(v) {
			s.dropped.Add(1)
		}
	})
}

// Subscribe registers a subscriber with the given buffer size.
func (s *Stream[T]) Subscribe(buffer int) (<-chan T, func()) {
	sub := newSubscriber[T](buffer)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		sub.close()
		return sub.ch, func() {}
	}

	key := uuid.NewString()
	s.subs.Set(key, sub)
	return sub.ch, func() {
		s.subs.Remove(key)
		sub.close()
	}
}

// Dropped returns how many deliveries were skipped because a buffer was full.
func (s *Stream[T]) Dropped() int64 {
	return s.dropped.Load()
}

// Subscribers returns the number of live subscriptions.
func (s *Stream[T]) Subscribers() int {
	return s.subs.Count()
}

// Close closes every subscriber channel. Later publishes are ignored.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for key, sub := range s.subs.Items() {
		s.subs.Remove(key)
		sub.close()
	}
}
