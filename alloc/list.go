package alloc

import (
	"sync"

	"netbuf/domain/buffer"
	"netbuf/infra/memory"
)

// List is a locked FIFO of buffers whose queue operations leave a
// checkpoint on the tracker, so a leak report shows where a buffer was last
// queued or dequeued.
type List struct {
	a    *Allocator
	mu   sync.Mutex
	ring *memory.Ring[*buffer.Buffer]
}

func (a *Allocator) NewList() *List {
	return &List{a: a, ring: memory.NewRing[*buffer.Buffer](16)}
}

// QueueTail appends b. The list owns b afterwards.
func (l *List) QueueTail(b *buffer.Buffer) {
	l.mu.Lock()
	l.ring.Push(b)
	l.mu.Unlock()
	l.a.tracker.Mark(b, Caller(1))
}

// QueueHead puts b in front so it is dequeued next.
func (l *List) QueueHead(b *buffer.Buffer) {
	l.mu.Lock()
	l.ring.PushFront(b)
	l.mu.Unlock()
	l.a.tracker.Mark(b, Caller(1))
}

// Dequeue removes and returns the head, or nil.
func (l *List) Dequeue() *buffer.Buffer {
	l.mu.Lock()
	b, ok := l.ring.Dequeue()
	l.mu.Unlock()
	if !ok {
		return nil
	}
	l.a.tracker.Mark(b, Caller(1))
	return b
}

// Unlink removes b from anywhere in the list.
func (l *List) Unlink(b *buffer.Buffer) bool {
	l.mu.Lock()
	ok := l.ring.Remove(func(v *buffer.Buffer) bool { return v == b })
	l.mu.Unlock()
	if ok {
		l.a.tracker.Mark(b, Caller(1))
	}
	return ok
}

func (l *List) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.ring.Len()
}

// Purge releases every queued buffer and returns how many there were.
func (l *List) Purge() int {
	site := Caller(1)
	n := 0
	for {
		l.mu.Lock()
		b, ok := l.ring.Dequeue()
		l.mu.Unlock()
		if !ok {
			return n
		}
		l.a.release(b, site)
		n++
	}
}
