package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber receives events on a buffered channel. Delivery never blocks
// the publisher: when the buffer is full the event is dropped and counted.
type Subscriber struct {
	id string
	ch chan *Event

	mu     sync.RWMutex
	closed bool
	filter func(*Event) bool

	dropped atomic.Int64
}

// NewSubscriber creates a subscriber with the given buffer size.
func NewSubscriber(id string, bufferSize int) *Subscriber {
	return &Subscriber{
		id: id,
		ch: make(chan *Event, bufferSize),
	}
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the event channel. It is closed by Close.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// Dropped returns how many events were lost to a full buffer.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter installs a predicate; only matching events are delivered.
func (s *Subscriber) SetFilter(fn func(*Event) bool) {
	s.mu.Lock()
	s.filter = fn
	s.mu.Unlock()
}

func (s *Subscriber) send(evt *Event) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return false
	}
	if s.filter != nil && !s.filter(evt) {
		return false
	}

	select {
	case s.ch <- evt:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Close closes the channel. Safe to call multiple times.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}
