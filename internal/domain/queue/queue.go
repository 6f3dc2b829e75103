// Package queue implements the conductor's central message queue: the single
// in-order sequencer every forwarded frame passes through (§2 "Message
// queue", §5 "The ordering contract"). Every outbound send the router makes
// is the result of dequeuing from here — there is no fast path — which is
// what makes the system-wide ordering guarantee hold.
package queue

import (
	"context"
	"fmt"
)

// Item is one unit of work the queue sequences: a frame to deliver to a
// named destination. What "deliver" means (which Connector, which
// rewriting) is entirely up to the consumer; the queue itself only
// guarantees FIFO order between Push and Pop.
type Item struct {
	// Dest names the component the item is ultimately destined for, used
	// only for diagnostics — the queue does not route.
	Dest string
	// Apply performs the actual delivery (rewriting + Connector.Send) when
	// popped. It runs on the single consumer's goroutine.
	Apply func(ctx context.Context) error
}

// Queue is a strict FIFO, single-consumer channel of Items. Multiple
// producers (one per inbound Connector stream) may Push concurrently; Pop
// is meant to be called from exactly one consumer goroutine (the router's
// task loop), matching the cooperative single-task model of §5.
type Queue struct {
	items  chan Item
	closed chan struct{}
}

// New creates a Queue with the given buffer capacity. A capacity of 0 is a
// valid, fully synchronous rendezvous queue; a small positive capacity lets
// producers stay non-blocking across one scheduling tick without changing
// delivery order.
func New(capacity int) *Queue {
	return &Queue{
		items:  make(chan Item, capacity),
		closed: make(chan struct{}),
	}
}

// Push enqueues an item. Blocks if the queue is at capacity, respecting ctx
// cancellation. Returns an error if the queue has been closed.
func (q *Queue) Push(ctx context.Context, item Item) error {
	select {
	case <-q.closed:
		return fmt.Errorf("queue: closed")
	default:
	}
	select {
	case q.items <- item:
		return nil
	case <-q.closed:
		return fmt.Errorf("queue: closed")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pop dequeues and returns the next item in FIFO order. Returns false if the
// queue was closed with nothing left to deliver.
func (q *Queue) Pop(ctx context.Context) (Item, bool) {
	select {
	case item, ok := <-q.items:
		return item, ok
	case <-ctx.Done():
		return Item{}, false
	}
}

// Close stops accepting new items and unblocks any pending Pop once the
// buffered items are drained. Safe to call more than once.
func (q *Queue) Close() {
	select {
	case <-q.closed:
		return
	default:
		close(q.closed)
		close(q.items)
	}
}

// Drain removes and discards every item currently buffered, without running
// their Apply functions. Used during fatal shutdown (§4.1) once the router
// has already decided no more forwarding should happen.
func (q *Queue) Drain() int {
	n := 0
	for {
		select {
		case _, ok := <-q.items:
			if !ok {
				return n
			}
			n++
		default:
			return n
		}
	}
}
