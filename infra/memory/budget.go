package memory

import "sync/atomic"

// Budget caps the bytes held by live buffers. A zero limit is unlimited.
type Budget struct {
	limit int64
	used  atomic.Int64
}

func NewBudget(limit int64) *Budget {
	return &Budget{limit: limit}
}

// Reserve claims n bytes and reports whether they fit under the limit.
func (b *Budget) Reserve(n int64) bool {
	if b == nil {
		return true
	}
	for {
		cur := b.used.Load()
		next := cur + n
		if b.limit > 0 && next > b.limit {
			return false
		}
		if b.used.CompareAndSwap(cur, next) {
			return true
		}
	}
}

// Return gives back n previously reserved bytes.
func (b *Budget) Return(n int64) {
	if b == nil {
		return
	}
	b.used.Add(-n)
}

func (b *Budget) Used() int64 {
	if b == nil {
		return 0
	}
	return b.used.Load()
}

func (b *Budget) Limit() int64 {
	if b == nil {
		return 0
	}
	return b.limit
}
