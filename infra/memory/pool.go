package memory

import "sync"

// Pool is a typed object pool.
type Pool[T any] struct {
	p *sync.Pool
}

func NewPool[T any](ctor func() *T) *Pool[T] {
	return &Pool[T]{
		p: &sync.Pool{
			New: func() any { return ctor() },
		},
	}
}

func (p *Pool[T]) Get() *T {
	return p.p.Get().(*T)
}

func (p *Pool[T]) Put(v *T) {
	p.p.Put(v)
}

const (
	minSlabShift = 6  // 64 B
	maxSlabShift = 16 // 64 KiB
)

// SlabPool recycles byte slabs in power-of-two size classes.
// Requests above the largest class are served by make and dropped on Put.
type SlabPool struct {
	classes [maxSlabShift - minSlabShift + 1]*Pool[[]byte]
	poison  bool
}

func NewSlabPool(poison bool) *SlabPool {
	sp := &SlabPool{poison: poison}
	for i := range sp.classes {
		size := 1 << (minSlabShift + i)
		sp.classes[i] = NewPool(func() *[]byte {
			b := make([]byte, size)
			return &b
		})
	}
	return sp
}

// ClassSize returns the slab size that Get(n) would hand out.
func ClassSize(n int) int {
	if n <= 1<<minSlabShift {
		return 1 << minSlabShift
	}
	if n > 1<<maxSlabShift {
		return n
	}
	size := 1 << minSlabShift
	for size < n {
		size <<= 1
	}
	return size
}

func classIndex(size int) int {
	for i := 0; i <= maxSlabShift-minSlabShift; i++ {
		if size == 1<<(minSlabShift+i) {
			return i
		}
	}
	return -1
}

// Get returns a zeroed slab of exactly n bytes backed by a class-sized array.
func (sp *SlabPool) Get(n int) []byte {
	size := ClassSize(n)
	idx := classIndex(size)
	if idx < 0 {
		return make([]byte, n)
	}
	bp := sp.classes[idx].Get()
	b := (*bp)[:size]
	clear(b)
	return b[:n]
}

// Put returns a slab obtained from Get.
func (sp *SlabPool) Put(b []byte) {
	b = b[:cap(b)]
	if sp.poison {
		Poison(b)
	}
	idx := classIndex(cap(b))
	if idx < 0 {
		return
	}
	sp.classes[idx].Put(&b)
}
