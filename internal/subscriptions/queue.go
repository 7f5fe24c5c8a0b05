package subscriptions

import "sync"

// eventQueue is an unbounded FIFO feeding one subscription's worker. Events
// must never be dropped or reordered: a subscriber may not observe mutation
// N+1's effect before mutation N's, and a slow delivery function may only
// stall its own subscription. A bounded channel would force a choice between
// dropping and blocking the publisher, so the queue grows instead.
type eventQueue struct {
	mu     sync.Mutex
	ready  *sync.Cond
	items  []Event
	closed bool
}

func newEventQueue() *eventQueue {
	q := &eventQueue{}
	q.ready = sync.NewCond(&q.mu)
	return q
}

// push appends an event. Pushing to a closed queue is a no-op.
func (q *eventQueue) push(ev Event) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.items = append(q.items, ev)
	q.ready.Signal()
}

// pop blocks until an event is available or the queue is closed. The second
// return value is false once the queue is closed and drained of nothing:
// close discards pending events, since a closed queue means the
// subscription is gone and deliveries must cease.
func (q *eventQueue) pop() (Event, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) == 0 && !q.closed {
		q.ready.Wait()
	}
	if q.closed {
		return Event{}, false
	}
	ev := q.items[0]
	q.items = q.items[1:]
	return ev, true
}

// close wakes the worker and discards anything still queued.
func (q *eventQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.items = nil
	q.ready.Broadcast()
}
