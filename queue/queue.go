package queue

// Queue is a generic FIFO window. With a positive capacity it drops the
// oldest element on overflow, so it always holds the most recent items.
type Queue[T any] struct {
	items    []T
	capacity int
}

// NewBounded creates a queue that keeps at most capacity items.
func NewBounded[T any](capacity int) *Queue[T] {
	return &Queue[T]{items: make([]T, 0, capacity), capacity: capacity}
}

// Enqueue adds an element to the end of the queue, evicting the front
// element if the queue is full.
func (q *Queue[T]) Enqueue(item T) {
	if q.capacity > 0 && len(q.items) == q.capacity {
		q.items = q.items[1:]
	}
	q.items = append(q.items, item)
}

// Items returns a copy of the queued elements, front first.
func (q *Queue[T]) Items() []T {
	out := make([]T, len(q.items))
	copy(out, q.items)
	return out
}
