package tracking

import (
	"context"
	"sync"
	"time"

	"tovus.net/evalflow/internal/ids"
	"tovus.net/evalflow/internal/obs"
	"tovus.net/evalflow/internal/stream"
)

// Dispatcher mirrors events into a Sink off the request path.
// Publish never blocks; a full queue drops the event and counts it.
type Dispatcher struct {
	sink    Sink
	stream  *stream.Stream[Event]
	queue   chan Event
	timeout time.Duration

	mu     sync.RWMutex // guards closed against the close of queue
	closed bool
	done   chan struct{}
}

type DispatcherOption func(*Dispatcher)

// WithStream fans every recorded event out to SSE subscribers.
func WithStream(s *stream.Stream[Event]) DispatcherOption {
	return func(d *Dispatcher) { d.stream = s }
}

// WithQueue sets the buffer length.
func WithQueue(n int) DispatcherOption {
	return func(d *Dispatcher) {
		if n > 0 {
			d.queue = make(chan Event, n)
		}
	}
}

// WithWriteTimeout bounds a single sink write.
func WithWriteTimeout(t time.Duration) DispatcherOption {
	return func(d *Dispatcher) { d.timeout = t }
}

// NewDispatcher starts the background writer.
func NewDispatcher(sink Sink, opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		sink:    sink,
		queue:   make(chan Event, 256),
		timeout: 5 * time.Second,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(d)
	}
	go d.run()
	return d
}

// Publish enqueues evt. After Close the event is dropped and counted.
func (d *Dispatcher) Publish(evt Event) {
	if evt.ID == "" {
		evt.ID = ids.New()
	}
	if evt.At.IsZero() {
		evt.At = time.Now().UTC()
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	reason := "closed"
	if !d.closed {
		select {
		case d.queue <- evt:
			return
		default:
			reason = "queue_full"
		}
	}
	obs.TrackingFailure(reason)
	obs.Logger().Warn().
		Str("document_id", evt.DocumentID).
		Str("action", string(evt.Action)).
		Str("reason", reason).
		Msg("tracking event dropped")
}

// Close stops accepting events and waits until queued ones are written.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()
	<-d.done
}

func (d *Dispatcher) run() {
	defer close(d.done)
	for evt := range d.queue {
		d.write(evt)
	}
}

func (d *Dispatcher) write(evt Event) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.sink.Record(ctx, evt); err != nil {
		obs.TrackingFailure("sink_error")
		obs.Logger().Error().Err(err).
			Str("document_id", evt.DocumentID).
			Str("action", string(evt.Action)).
			Msg("tracking sync failed")
		return
	}
	if d.stream != nil {
		d.stream.Publish(evt)
	}
}
