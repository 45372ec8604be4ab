package gateway

import (
	"context"
	"sync"

	"github.com/flemzord/fanyi/internal/session"
)

// defaultQueueSize bounds the events buffered for one client.
const defaultQueueSize = 256

// eventQueue is a session.Sink that never blocks. Events are buffered and
// written to the client by a separate goroutine through drain, so a slow
// client cannot stall the decode loop of the session feeding it.
//
// When the buffer is full, a text delta is merged into the newest buffered
// event if that event is a delta of the same kind and session; otherwise it
// is dropped. The done event carries the full content, so a client that
// lost deltas still ends with the complete translation. Terminal events
// are always buffered.
type eventQueue struct {
	mu      sync.Mutex
	events  []session.Event
	limit   int
	dropped int
	closed  bool

	wake chan struct{}
}

var _ session.Sink = (*eventQueue)(nil)

func newEventQueue(limit int) *eventQueue {
	if limit <= 0 {
		limit = defaultQueueSize
	}
	return &eventQueue{limit: limit, wake: make(chan struct{}, 1)}
}

// Send implements session.Sink.
func (q *eventQueue) Send(ev session.Event) {
	q.mu.Lock()
	switch {
	case q.closed:
	case len(q.events) < q.limit || isTerminal(ev):
		q.events = append(q.events, ev)
	case q.merge(ev):
	default:
		q.dropped++
	}
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
}

// merge appends ev's text to the newest buffered event. Callers hold mu.
func (q *eventQueue) merge(ev session.Event) bool {
	if ev.Type != session.EventContent && ev.Type != session.EventReasoning {
		return false
	}
	last := &q.events[len(q.events)-1]
	if last.Type != ev.Type || last.SessionID != ev.SessionID {
		return false
	}
	last.Text += ev.Text
	return true
}

// Dropped returns how many events were discarded because the buffer was
// full.
func (q *eventQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

func (q *eventQueue) take() []session.Event {
	q.mu.Lock()
	defer q.mu.Unlock()
	batch := q.events
	q.events = nil
	return batch
}

// close discards buffered events and ignores later sends.
func (q *eventQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.events = nil
	q.mu.Unlock()
}

// drain writes buffered events in order until ctx ends, write fails, or
// done is closed and everything sent before it has been written. A nil
// done drains until ctx ends. The queue is closed on return.
func (q *eventQueue) drain(ctx context.Context, done <-chan struct{}, write func(session.Event) error) error {
	defer q.close()

	flush := func() error {
		for _, ev := range q.take() {
			if err := write(ev); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-q.wake:
			if err := flush(); err != nil {
				return err
			}
		case <-done:
			return flush()
		}
	}
}

func isTerminal(ev session.Event) bool {
	return ev.Type == session.EventDone || ev.Type == session.EventError || ev.Status.Terminal()
}
