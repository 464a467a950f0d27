package workerpool

// queue is a fixed-capacity FIFO ring buffer. It does no locking; the pool
// only touches it while holding its mutex.
type queue[T any] struct {
	buf   []T
	head  int
	tail  int
	count int
}

func newQueue[T any](capacity int) *queue[T] {
	return &queue[T]{buf: make([]T, capacity)}
}

// push appends v at the tail. It reports false, leaving the queue
// unchanged, when the queue is full.
func (q *queue[T]) push(v T) bool {
	if q.full() {
		return false
	}
	q.buf[q.tail] = v
	q.tail = (q.tail + 1) % len(q.buf)
	q.count++
	return true
}

// pop removes and returns the head. The queue must not be empty.
func (q *queue[T]) pop() T {
	v := q.buf[q.head]
	var zero T
	q.buf[q.head] = zero // release the reference for GC
	q.head = (q.head + 1) % len(q.buf)
	q.count--
	return v
}

func (q *queue[T]) len() int { return q.count }

func (q *queue[T]) cap() int { return len(q.buf) }

func (q *queue[T]) empty() bool { return q.count == 0 }

func (q *queue[T]) full() bool { return q.count == len(q.buf) }
