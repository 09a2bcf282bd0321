package rcu

import "sync/atomic"

// Pointer is an RCU-protected pointer. Load is meant to be called inside a
// Domain read section; Assign followed by Domain.Synchronize guarantees no
// reader still holds the previous value.
type Pointer[T any] struct {
	p atomic.Pointer[T]
}

// Assign publishes v.
func (p *Pointer[T]) Assign(v *T) {
	p.p.Store(v)
}

// Load returns the current value.
func (p *Pointer[T]) Load() *T {
	return p.p.Load()
}

// Swap publishes v and returns the previous value.
func (p *Pointer[T]) Swap(v *T) *T {
	return p.p.Swap(v)
}
