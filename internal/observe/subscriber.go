// ABOUTME: Subscriber channel wrapper shared by Value and Stream
// ABOUTME: Guards sends against a concurrent close

package observe

import "sync"

type subscriber[T any] struct {
	mu     sync.Mutex
	ch     chan T
	closed bool
}

func newSubscriber[T any](buffer int) *subscriber[T] {
	if buffer < 1 {
		buffer = 1
	}
	return &subscriber[T]{ch: make(chan T, buffer)}
}

// offer sends v if there is room and reports whether it was delivered.
func (s *subscriber[T]) offer(v T) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	select {
	case s.ch <- v:
		return true
	default:
		return false
	}
}

// replace drops any undelivered value and sends v in its place.
func (s *subscriber[T]) replace(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	for {
		select {
		case s.ch <- v:
			return
		default:
		}
		select {
		case <-s.ch:
		default:
		}
	}
}

func (s *subscriber[T]) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
