// Package queue implements the Concurrent Ordered Queue from spec §4.1: an
// insertion-ordered, de-duplicating, node-addressable queue safe for
// concurrent callers. It is the building block each GameServer uses to
// hold its waiting players.
package queue

import "sync"

// Node is an opaque handle to a queued element. A Node remains valid (but
// unlinked) after removal; TryRemoveNode on an already-unlinked node is a
// no-op that returns false.
type Node[T comparable] struct {
	value      T
	prev, next *Node[T]
	linked     bool
}

// Value returns the element held by this node.
func (n *Node[T]) Value() T { return n.value }

// Queue is a FIFO, de-duplicating queue. The zero value is not usable;
// construct with New.
type Queue[T comparable] struct {
	mu         sync.Mutex
	head, tail *Node[T]
	index      map[T]*Node[T]
	size       int
}

// New creates an empty Queue.
func New[T comparable]() *Queue[T] {
	return &Queue[T]{index: make(map[T]*Node[T])}
}

// Enqueue appends v to the back of the queue. Returns false without
// modifying the queue if v is already present.
func (q *Queue[T]) Enqueue(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[v]; exists {
		return false
	}

	n := &Node[T]{value: v, linked: true}
	if q.tail == nil {
		q.head = n
		q.tail = n
	} else {
		n.prev = q.tail
		q.tail.next = n
		q.tail = n
	}
	q.index[v] = n
	q.size++
	return true
}

// TryRemove removes v by value. Returns false if v is not present.
func (q *Queue[T]) TryRemove(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	n, exists := q.index[v]
	if !exists {
		return false
	}
	q.unlink(n)
	return true
}

// TryRemoveNode removes the element referenced by n, but only if n is
// still linked into the queue. Safe to call with a node obtained from an
// earlier Snapshot even if the queue has since mutated: it will simply
// report false if the node was already removed.
func (q *Queue[T]) TryRemoveNode(n *Node[T]) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if n == nil || !n.linked {
		return false
	}
	q.unlink(n)
	return true
}

// unlink must be called with q.mu held.
func (q *Queue[T]) unlink(n *Node[T]) {
	if n.prev != nil {
		n.prev.next = n.next
	} else {
		q.head = n.next
	}
	if n.next != nil {
		n.next.prev = n.prev
	} else {
		q.tail = n.prev
	}
	n.prev, n.next = nil, nil
	n.linked = false
	delete(q.index, n.value)
	q.size--
}

// Contains reports whether v is currently queued, in O(1) via the side
// index (spec §4.1).
func (q *Queue[T]) Contains(v T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, exists := q.index[v]
	return exists
}

// Len returns the number of queued elements.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// Snapshot returns a stable, point-in-time ordered slice of node handles.
// Iterating the returned slice never observes concurrent mutation; the
// handles themselves remain valid for TryRemoveNode even if the queue
// mutates afterwards.
func (q *Queue[T]) Snapshot() []*Node[T] {
	q.mu.Lock()
	defer q.mu.Unlock()

	nodes := make([]*Node[T], 0, q.size)
	for n := q.head; n != nil; n = n.next {
		nodes = append(nodes, n)
	}
	return nodes
}

// PositionOf returns the 1-indexed position of v in the queue and true,
// or (0, false) if v is not queued.
func (q *Queue[T]) PositionOf(v T) (int, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	pos := 1
	for n := q.head; n != nil; n = n.next {
		if n.value == v {
			return pos, true
		}
		pos++
	}
	return 0, false
}
