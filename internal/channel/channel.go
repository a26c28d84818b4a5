// Package channel implements the lock-free bidirectional per-thread
// queues used to move records from the thread that fills them out of
// line to the thread that attributes them to a calling context. A
// channel has two directions — forward (the thread producing new
// records) and backward (completed-record nodes waiting to be reused)
// — each a lock-free singly linked stack addressed by a single atomic
// head pointer. No node is ever freed: Consume recycles every node it
// drains onto the backward stack, and Produce prefers to reuse one of
// those before allocating.
package channel

import "sync/atomic"

type node[T any] struct {
	payload T
	next    *node[T]
}

// Bichannel is a single-producer/single-consumer-per-direction lock-free
// queue pair generic over the payload type T. The zero value is ready to
// use.
type Bichannel[T any] struct {
	forward  atomic.Pointer[node[T]]
	backward atomic.Pointer[node[T]]
}

// push prepends n onto the stack addressed by dir via a CAS loop.
func push[T any](dir *atomic.Pointer[node[T]], n *node[T]) {
	for {
		old := dir.Load()
		n.next = old
		if dir.CompareAndSwap(old, n) {
			return
		}
	}
}

// pop removes and returns the head of the stack addressed by dir, or
// nil if it is empty, via a CAS loop.
func pop[T any](dir *atomic.Pointer[node[T]]) *node[T] {
	for {
		old := dir.Load()
		if old == nil {
			return nil
		}
		if dir.CompareAndSwap(old, old.next) {
			old.next = nil
			return old
		}
	}
}

// Produce appends payload to the forward direction, where Consume will
// find it. It prefers to reuse a node already recycled onto the
// backward direction; failing that it steals the entire backward chain
// at once (a single atomic exchange) to pick one node from it and
// reinstate the remainder; failing that — an empty channel with no
// recycled nodes yet — it allocates.
func (c *Bichannel[T]) Produce(payload T) {
	n := pop(&c.backward)
	if n == nil {
		if stolen := c.backward.Swap(nil); stolen != nil {
			n = stolen
			rest := stolen.next
			n.next = nil
			for rest != nil {
				next := rest.next
				rest.next = nil
				push(&c.backward, rest)
				rest = next
			}
		}
	}
	if n == nil {
		n = &node[T]{}
	}
	n.payload = payload
	push(&c.forward, n)
}

// Consume atomically detaches the entire forward chain (a single atomic
// exchange, so producers racing with a consumer never block or retry)
// and invokes handle on each payload in FIFO order relative to this
// batch, recycling every node onto the backward direction as it goes.
// It returns the number of records handled.
func (c *Bichannel[T]) Consume(handle func(T)) int {
	stolen := c.forward.Swap(nil)
	// Swap returns the chain in LIFO (most-recently-produced-first)
	// order; reverse it so handle sees producer order.
	var prev *node[T]
	for stolen != nil {
		next := stolen.next
		stolen.next = prev
		prev = stolen
		stolen = next
	}

	count := 0
	for prev != nil {
		next := prev.next
		prev.next = nil
		handle(prev.payload)
		count++
		push(&c.backward, prev)
		prev = next
	}
	return count
}

// Empty reports whether the forward direction currently has no pending
// records. It is advisory only: a concurrent Produce can make it stale
// the instant it returns.
func (c *Bichannel[T]) Empty() bool {
	return c.forward.Load() == nil
}
