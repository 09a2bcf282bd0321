package buffer

import (
	"fmt"

	"github.com/cockroachdb/errors"
)

// ID is the identity of a buffer. Zero is never assigned.
type ID uint64

// Priority is the urgency hint passed down to the storage allocator.
type Priority int

const (
	// Atomic is used from producer (interrupt-like) context.
	Atomic Priority = iota
	// Kernel is used from sleepable context.
	Kernel
)

func (p Priority) String() string {
	switch p {
	case Atomic:
		return "atomic"
	case Kernel:
		return "kernel"
	default:
		return "unknown"
	}
}

var (
	ErrHeadroom  = errors.New("buffer: insufficient headroom")
	ErrTailroom  = errors.New("buffer: insufficient tailroom")
	ErrUnderflow = errors.New("buffer: pull beyond data length")
)

// Control is per-buffer scratch state owned by whoever holds the buffer.
// It is cleared on every allocation.
type Control struct {
	SigLength   uint32
	DataLength  uint32
	FrameFormat uint32
	Colour      uint32
}

// Buffer is a packet buffer: a storage slab with a movable data window
//
//	storage[0:head] headroom | storage[head:tail] data | storage[tail:] tailroom
//
// A Buffer is obtained from and returned to the tracked allocator; it never
// frees its own storage.
type Buffer struct {
	ID       ID
	Site     string
	Priority Priority
	Control  Control

	// Shadow is a buffer whose storage this one aliases. Releasing this
	// buffer releases the shadow first unless ShadowNoFree is set.
	Shadow       *Buffer
	ShadowNoFree bool

	storage []byte
	head    int
	tail    int

	// Slab is the allocator's handle on the storage; nil once released.
	Slab any
}

// New wraps storage as an empty buffer whose data window starts at offset 0.
// Only allocators should call it.
func New(id ID, storage []byte, site string, prio Priority) *Buffer {
	return &Buffer{
		ID:       id,
		Site:     site,
		Priority: prio,
		storage:  storage,
	}
}

// Len returns the length of the data window.
func (b *Buffer) Len() int { return b.tail - b.head }

// Cap returns the size of the underlying storage.
func (b *Buffer) Cap() int { return len(b.storage) }

// Headroom returns the bytes available in front of the data window.
func (b *Buffer) Headroom() int { return b.head }

// Tailroom returns the bytes available after the data window.
func (b *Buffer) Tailroom() int { return len(b.storage) - b.tail }

// Bytes returns the data window. The slice aliases the buffer storage.
func (b *Buffer) Bytes() []byte { return b.storage[b.head:b.tail:b.tail] }

// Storage returns the whole slab. Allocators use it for copies and pooling.
func (b *Buffer) Storage() []byte { return b.storage }

// Reserve moves an empty data window n bytes forward, creating headroom.
func (b *Buffer) Reserve(n int) error {
	if n < 0 || b.tail+n > len(b.storage) {
		return errors.Wrapf(ErrTailroom, "reserve %d of %d", n, b.Tailroom())
	}
	b.head += n
	b.tail += n
	return nil
}

// Push extends the data window n bytes towards the front and returns the
// new leading bytes.
func (b *Buffer) Push(n int) ([]byte, error) {
	if n < 0 || n > b.head {
		return nil, errors.Wrapf(ErrHeadroom, "push %d with headroom %d", n, b.head)
	}
	b.head -= n
	return b.storage[b.head : b.head+n], nil
}

// Pull strips n bytes from the front of the data window and returns them.
func (b *Buffer) Pull(n int) ([]byte, error) {
	if n < 0 || n > b.Len() {
		return nil, errors.Wrapf(ErrUnderflow, "pull %d of %d", n, b.Len())
	}
	out := b.storage[b.head : b.head+n]
	b.head += n
	return out, nil
}

// Put extends the data window n bytes at the end and returns the new
// trailing bytes.
func (b *Buffer) Put(n int) ([]byte, error) {
	if n < 0 || n > b.Tailroom() {
		return nil, errors.Wrapf(ErrTailroom, "put %d with tailroom %d", n, b.Tailroom())
	}
	out := b.storage[b.tail : b.tail+n]
	b.tail += n
	return out, nil
}

// Append copies p to the end of the data window.
func (b *Buffer) Append(p []byte) error {
	dst, err := b.Put(len(p))
	if err != nil {
		return err
	}
	copy(dst, p)
	return nil
}

// Trim shortens the data window to n bytes.
func (b *Buffer) Trim(n int) {
	if n < b.Len() && n >= 0 {
		b.tail = b.head + n
	}
}

// SetShadow records that b aliases storage owned by s.
func (b *Buffer) SetShadow(s *Buffer, noFree bool) {
	b.Shadow = s
	b.ShadowNoFree = noFree
}

// ShadowID returns the shadow's identity or zero.
func (b *Buffer) ShadowID() ID {
	if b.Shadow == nil {
		return 0
	}
	return b.Shadow.ID
}

// Detach drops the storage reference after the allocator reclaimed it, so
// a stale holder faults on access instead of reading recycled bytes.
func (b *Buffer) Detach() {
	b.storage = nil
	b.head, b.tail = 0, 0
	b.Slab = nil
}

// Window returns the head and tail offsets into Storage.
func (b *Buffer) Window() (head, tail int) { return b.head, b.tail }

// SetWindow positions the data window. Allocators use it when copying.
func (b *Buffer) SetWindow(head, tail int) {
	if head < 0 || tail < head || tail > len(b.storage) {
		panic(fmt.Sprintf("buffer: bad window [%d:%d] over %d", head, tail, len(b.storage)))
	}
	b.head, b.tail = head, tail
}

func (b *Buffer) String() string {
	return fmt.Sprintf("buf#%d{len=%d head=%d tail=%d site=%s}",
		b.ID, b.Len(), b.Headroom(), b.Tailroom(), b.Site)
}
