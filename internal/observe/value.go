// ABOUTME: Observable last-value cell with subscribe/unsubscribe
// ABOUTME: Slow subscribers only ever see the most recent value

package observe

import (
	"sync"

	"github.com/google/uuid"
	cmap "github.com/orcaman/concurrent-map/v2"
)

// Value holds a current value and fans every change out to subscribers.
// A new subscriber receives the current value first. Set never blocks on
// a subscriber: each one has a single-slot buffer holding the latest value.
type Value[T any] struct {
	mu     sync.RWMutex
	cur    T
	subs   cmap.ConcurrentMap[string, *subscriber[T]]
	closed bool
}

// NewValue returns a Value initialised to v.
func NewValue[T any](v T) *Value[T] {
	return &Value[T]{cur: v, subs: cmap.New[*subscriber[T]]()}
}

// Get returns a snapshot of the current value.
func (o *Value[T]) Get() T {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.cur
}

// Set stores v and offers it to every subscriber.
func (o *Value[T]) Set(v T) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		return
	}
	o.cur = v
	o.subs.IterCb(func(_ string, s *subscriber[T]) {
		s.replace(v)
	})
}

// Subscribe returns a channel of values starting with the current one.
// The cancel func closes the channel; it is safe to call more than once.
func (o *Value[T]) Subscribe() (<-chan T, func()) {
	s := newSubscriber[T](1)

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.closed {
		s.close()
		return s.ch, func() {}
	}

	key := uuid.NewString()
	o.subs.Set(key, s)
	s.replace(o.cur)

	return s.ch, func() {
		o.subs.Remove(key)
		s.close()
	}
}

// Subscribers returns the number of live subscriptions.
func (o *Value[T]) Subscribers() int {
	return o.subs.Count()
}

// Close closes every subscriber channel. Later Sets are ignored.
func (o *Value[T]) Close() {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closed = true
	for key, s := range o.subs.Items() {
		o.subs.Remove(key)
		s.close()
	}
}
