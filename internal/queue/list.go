// Package queue implements the intrusive list primitives the kernel uses
// for its submit, cancel and ready queues. Linking and unlinking never
// allocate: the link fields live inside the caller-owned item, and the
// item is a member of at most one list at a time (the owning item's
// state encodes which, if any). Drain and DrainUpTo do allocate the
// slice of nodes they return.
package queue

// Node is the intrusive link embedded in a work item of type T. A Node
// belongs to at most one list at a time. Which list (if any) is tracked
// externally by the owning item's state field; Node itself only knows
// its neighbours.
type Node[T any] struct {
	next, prev *Node[T]
	item       *T
}

// Init binds the node to its owning item and clears its links. Call this
// once, typically from the item's own initializer.
func (n *Node[T]) Init(item *T) {
	n.item = item
	n.next = nil
	n.prev = nil
}

// Item returns the work item this node is embedded in.
func (n *Node[T]) Item() *T {
	return n.item
}

// Linked reports whether the node currently sits on some list.
func (n *Node[T]) Linked() bool {
	return n.next != nil || n.prev != nil
}

// FIFO is a doubly-linked first-in-first-out queue. Used for the submit
// queue: producers append at the tail, the tick drains from the head in
// one sweep.
type FIFO[T any] struct {
	head, tail *Node[T]
	n          int
}

// Len returns the number of items currently queued.
func (q *FIFO[T]) Len() int { return q.n }

// PushBack appends node to the tail of the queue. O(1).
func (q *FIFO[T]) PushBack(node *Node[T]) {
	node.next = nil
	node.prev = q.tail
	if q.tail != nil {
		q.tail.next = node
	} else {
		q.head = node
	}
	q.tail = node
	q.n++
}

// Remove unlinks node from the queue. O(1). node must currently be on q.
func (q *FIFO[T]) Remove(node *Node[T]) {
	if node.prev != nil {
		node.prev.next = node.next
	} else {
		q.head = node.next
	}
	if node.next != nil {
		node.next.prev = node.prev
	} else {
		q.tail = node.prev
	}
	node.next, node.prev = nil, nil
	q.n--
}

// Drain detaches every queued node and returns them head-to-tail, leaving
// the queue empty. O(n) in the number of queued items, same cost as the
// sweep it replaces.
func (q *FIFO[T]) Drain() []*Node[T] {
	out := make([]*Node[T], 0, q.n)
	for node := q.head; node != nil; {
		next := node.next
		node.next, node.prev = nil, nil
		out = append(out, node)
		node = next
	}
	q.head, q.tail, q.n = nil, nil, 0
	return out
}

// Tail returns the node currently at the back of the queue, or nil if
// empty. Callers snapshot this before running code that might push more
// work, then pass it to DrainUpTo so a later bounded drain doesn't also
// collect those later pushes.
func (q *FIFO[T]) Tail() *Node[T] { return q.tail }

// DrainUpTo detaches every node from the head through boundary
// (inclusive) and returns them head-to-tail, leaving any node pushed
// after boundary was captured still queued. boundary must either be nil
// (nothing is drained) or a node that was on q at the time it was
// captured by Tail.
func (q *FIFO[T]) DrainUpTo(boundary *Node[T]) []*Node[T] {
	if boundary == nil {
		return nil
	}
	var out []*Node[T]
	node := q.head
	for node != nil {
		next := node.next
		out = append(out, node)
		reachedBoundary := node == boundary
		node.next, node.prev = nil, nil
		q.n--
		node = next
		if reachedBoundary {
			break
		}
	}
	q.head = node
	if q.head != nil {
		q.head.prev = nil
	} else {
		q.tail = nil
	}
	return out
}

// LIFO is a singly-linked last-in-first-out stack, used for the cancel
// and ready queues: prepend at the head, drain front-to-back in one
// sweep. Order within a drained batch is not guaranteed beyond "all
// queued items are present".
type LIFO[T any] struct {
	top *Node[T]
	n   int
}

// Len returns the number of items currently queued.
func (q *LIFO[T]) Len() int { return q.n }

// Push prepends node to the stack. O(1).
func (q *LIFO[T]) Push(node *Node[T]) {
	node.prev = nil
	node.next = q.top
	q.top = node
	q.n++
}

// Drain detaches every queued node and returns them, leaving the stack
// empty. O(n).
func (q *LIFO[T]) Drain() []*Node[T] {
	out := make([]*Node[T], 0, q.n)
	for node := q.top; node != nil; {
		next := node.next
		node.next = nil
		out = append(out, node)
		node = next
	}
	q.top, q.n = nil, 0
	return out
}
