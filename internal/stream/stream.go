// Package stream fans tracking events out to live subscribers.
package stream

import (
	"context"
	"sync"

	"tovus.net/evalflow/internal/obs"
)

const defaultBuffer = 16

// Stream delivers each published value to every current subscriber.
// A subscriber whose buffer is full misses the value; Publish never blocks.
type Stream[T any] struct {
	mu     sync.Mutex
	subs   map[chan T]struct{}
	buffer int
	done   chan struct{}
	closed bool
}

// New returns a Stream whose subscribers each buffer up to buffer values.
func New[T any](buffer int) *Stream[T] {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Stream[T]{
		subs:   make(map[chan T]struct{}),
		buffer: buffer,
		done:   make(chan struct{}),
	}
}

// Subscribe returns a channel that is closed when ctx ends or the stream is closed.
func (s *Stream[T]) Subscribe(ctx context.Context) <-chan T {
	ch := make(chan T, s.buffer)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		close(ch)
		return ch
	}
	s.subs[ch] = struct{}{}
	s.mu.Unlock()
	obs.StreamSubscribers(1)

	go func() {
		select {
		case <-ctx.Done():
		case <-s.done:
		}
		s.drop(ch)
	}()
	return ch
}

func (s *Stream[T]) drop(ch chan T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.subs[ch]; ok {
		delete(s.subs, ch)
		close(ch)
		obs.StreamSubscribers(-1)
	}
}

// Publish hands v to every subscriber with room for it.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- v:
		default:
			obs.StreamDropped()
		}
	}
}

// Close ends every subscription. Handlers ranging over their channel return,
// which lets http.Server.Shutdown finish with SSE clients still connected.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.done)
	for ch := range s.subs {
		delete(s.subs, ch)
		close(ch)
		obs.StreamSubscribers(-1)
	}
}

// Subscribers reports the number of open subscriptions.
func (s *Stream[T]) Subscribers() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
