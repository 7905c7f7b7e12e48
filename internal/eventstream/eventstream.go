// Package eventstream is an in-process publish/subscribe hub used to tell
// watchers that committed local state changed.
package eventstream

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Subscribe after Shutdown.
var ErrClosed = errors.New("eventstream: streamer closed")

// DefaultBuffer is the per-subscriber channel capacity.
const DefaultBuffer = 64

// Event pairs a payload with the topic it was published on.
type Event[Topic comparable, Payload any] struct {
	Topic   Topic
	Payload Payload
}

// TopicFilter selects the topics a subscriber receives. A nil filter
// receives everything.
type TopicFilter[Topic comparable] func(Topic) bool

type subscriber[Topic comparable, Payload any] struct {
	filter TopicFilter[Topic]
	ch     chan Event[Topic, Payload]
}

// Streamer fans published events out to subscribers. Publish never blocks:
// when a subscriber's buffer is full the event is dropped for that
// subscriber, so payloads should describe "something changed" rather than
// carry state that must not be lost.
type Streamer[Topic comparable, Payload any] struct {
	mu          sync.RWMutex
	subscribers map[*subscriber[Topic, Payload]]struct{}
	buffer      int
	closed      bool
}

type Option func(*options)

type options struct {
	buffer int
}

// WithBuffer sets the per-subscriber buffer. A buffer of 1 coalesces bursts
// into a single pending event.
func WithBuffer(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.buffer = n
		}
	}
}

func New[Topic comparable, Payload any](opts ...Option) *Streamer[Topic, Payload] {
	o := options{buffer: DefaultBuffer}
	for _, opt := range opts {
		opt(&o)
	}
	return &Streamer[Topic, Payload]{
		subscribers: make(map[*subscriber[Topic, Payload]]struct{}),
		buffer:      o.buffer,
	}
}

// Publish delivers payloads on topic to every matching subscriber.
func (s *Streamer[Topic, Payload]) Publish(topic Topic, payloads ...Payload) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	for sub := range s.subscribers {
		if sub.filter != nil && !sub.filter(topic) {
			continue
		}
		for _, p := range payloads {
			select {
			case sub.ch <- Event[Topic, Payload]{Topic: topic, Payload: p}:
			default:
			}
		}
	}
}

// Subscribe registers a subscriber until ctx is done. The returned channel
// is closed when ctx is cancelled or the streamer shuts down.
func (s *Streamer[Topic, Payload]) Subscribe(ctx context.Context, filter TopicFilter[Topic]) (<-chan Event[Topic, Payload], error) {
	sub := &subscriber[Topic, Payload]{
		filter: filter,
		ch:     make(chan Event[Topic, Payload], s.buffer),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrClosed
	}
	s.subscribers[sub] = struct{}{}
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.remove(sub)
	}()
	return sub.ch, nil
}

func (s *Streamer[Topic, Payload]) remove(sub *subscriber[Topic, Payload]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subscribers[sub]; !ok {
		return
	}
	delete(s.subscribers, sub)
	close(sub.ch)
}

// Shutdown closes every subscriber channel. Later publishes are ignored.
func (s *Streamer[Topic, Payload]) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	for sub := range s.subscribers {
		delete(s.subscribers, sub)
		close(sub.ch)
	}
}

// Subscribers returns the number of live subscribers.
func (s *Streamer[Topic, Payload]) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subscribers)
}
