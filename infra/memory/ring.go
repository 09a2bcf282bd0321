package memory

// Ring is a power-of-two FIFO ring. It is not synchronized: the owning
// queue serializes Enqueue, Dequeue and Grow under its own lock.
type Ring[T any] struct {
	head uint64
	tail uint64
	buf  []T
	mask uint64
}

func NewRing[T any](size uint64) *Ring[T] {
	if size == 0 || size&(size-1) != 0 {
		panic("memory.Ring: size must be power of two")
	}
	return &Ring[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}
}

// Enqueue appends v; returns false if full.
func (r *Ring[T]) Enqueue(v T) bool {
	if r.head-r.tail == uint64(len(r.buf)) {
		return false
	}
	r.buf[r.head&r.mask] = v
	r.head++
	return true
}

// Push appends v, doubling the ring when it is full.
func (r *Ring[T]) Push(v T) {
	if !r.Enqueue(v) {
		r.Grow()
		r.Enqueue(v)
	}
}

// Dequeue removes the oldest element.
func (r *Ring[T]) Dequeue() (T, bool) {
	var zero T
	if r.tail == r.head {
		return zero, false
	}
	v := r.buf[r.tail&r.mask]
	r.buf[r.tail&r.mask] = zero
	r.tail++
	return v, true
}

// Remove deletes the first element for which match returns true, keeping
// the order of the rest.
func (r *Ring[T]) Remove(match func(T) bool) bool {
	n := r.Len()
	found := false
	for i := 0; i < n; i++ {
		v, _ := r.Dequeue()
		if !found && match(v) {
			found = true
			continue
		}
		r.Enqueue(v)
	}
	return found
}

// PushFront puts v at the head so it is dequeued next.
func (r *Ring[T]) PushFront(v T) {
	if r.head-r.tail == uint64(len(r.buf)) {
		r.Grow()
	}
	r.tail--
	r.buf[r.tail&r.mask] = v
}

// Grow doubles the capacity, preserving order.
func (r *Ring[T]) Grow() {
	n := r.Len()
	buf := make([]T, len(r.buf)*2)
	for i := 0; i < n; i++ {
		buf[i] = r.buf[(r.tail+uint64(i))&r.mask]
	}
	r.buf = buf
	r.mask = uint64(len(buf)) - 1
	r.tail = 0
	r.head = uint64(n)
}

func (r *Ring[T]) Len() int      { return int(r.head - r.tail) }
func (r *Ring[T]) Cap() int      { return len(r.buf) }
func (r *Ring[T]) IsEmpty() bool { return r.head == r.tail }
