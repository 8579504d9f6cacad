// Package queue provides the ordered in-memory FIFO behind the delivery queue.
package queue

// SliceQueue is a FIFO backed by a slice. It is not safe for concurrent use;
// callers serialize access with their own lock.
type SliceQueue[T any] struct {
	items []T
}

// NewSliceQueue creates an empty queue with room for prealloc items.
func NewSliceQueue[T any](prealloc int) *SliceQueue[T] {
	return &SliceQueue[T]{items: make([]T, 0, prealloc)}
}

// Enqueue adds an item to the tail of the queue.
func (q *SliceQueue[T]) Enqueue(item T) {
	q.items = append(q.items, item)
}

// Dequeue removes and returns the item at the head of the queue.
func (q *SliceQueue[T]) Dequeue() (T, bool) {
	var zero T
	if len(q.items) == 0 {
		return zero, false
	}

	item := q.items[0]
	q.items[0] = zero
	q.items = q.items[1:]

	return item, true
}

// Peek returns the item at the head of the queue without removing it.
func (q *SliceQueue[T]) Peek() (T, bool) {
	if len(q.items) == 0 {
		var zero T
		return zero, false
	}

	return q.items[0], true
}

// RemoveFirst removes the first item matching pred and reports whether one was found.
func (q *SliceQueue[T]) RemoveFirst(pred func(T) bool) (T, bool) {
	for i, item := range q.items {
		if pred(item) {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return item, true
		}
	}

	var zero T
	return zero, false
}

// Items returns a copy of the queued items in order.
func (q *SliceQueue[T]) Items() []T {
	out := make([]T, len(q.items))
	copy(out, q.items)

	return out
}

// Replace discards the current contents and enqueues items in order.
func (q *SliceQueue[T]) Replace(items []T) {
	q.items = append(q.items[:0], items...)
}

// Reset resets the queue to an empty state.
func (q *SliceQueue[T]) Reset() {
	clear(q.items)
	q.items = q.items[:0]
}

// IsEmpty returns true if the queue is empty.
func (q *SliceQueue[T]) IsEmpty() bool {
	return len(q.items) == 0
}

// Length returns the number of items in the queue.
func (q *SliceQueue[T]) Length() int {
	return len(q.items)
}
