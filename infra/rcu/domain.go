package rcu

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// Domain is one grace-period scope. The zero value is ready to use.
type Domain struct {
	// phase counts started grace periods; its parity picks the reader slot
	// new readers register in.
	phase   atomic.Uint64
	readers [2]atomic.Int64

	mu sync.Mutex // serializes writers
	// set when a Synchronize gave up before its old slot drained
	undrained     bool
	undrainedSlot uint64
}

// Reader is an open read-side critical section.
type Reader struct {
	d    *Domain
	slot uint64
}

// Enter opens a read section. It never blocks: it retries only when a
// writer flipped the phase between the load and the registration.
func (d *Domain) Enter() Reader {
	for {
		p := d.phase.Load()
		s := p & 1
		d.readers[s].Add(1)
		if d.phase.Load() == p {
			return Reader{d: d, slot: s}
		}
		d.readers[s].Add(-1)
	}
}

// Exit closes the read section.
func (r Reader) Exit() {
	r.d.readers[r.slot].Add(-1)
}

// Epoch returns the number of grace periods started so far.
func (d *Domain) Epoch() uint64 {
	return d.phase.Load()
}

// Active returns the number of readers currently inside a read section.
func (d *Domain) Active() int64 {
	return d.readers[0].Load() + d.readers[1].Load()
}

// Synchronize waits for a grace period: every reader that entered before
// the call has exited when it returns nil. If ctx is done first it returns
// ctx.Err() and the next Synchronize finishes the wait.
func (d *Domain) Synchronize(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.undrained {
		if err := d.wait(ctx, d.undrainedSlot); err != nil {
			return err
		}
		d.undrained = false
	}

	old := d.phase.Add(1) - 1
	slot := old & 1
	if err := d.wait(ctx, slot); err != nil {
		d.undrained = true
		d.undrainedSlot = slot
		return err
	}
	return nil
}

func (d *Domain) wait(ctx context.Context, slot uint64) error {
	const spins = 64
	delay := 10 * time.Microsecond
	for i := 0; d.readers[slot].Load() != 0; i++ {
		if i < spins {
			runtime.Gosched()
			continue
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		if delay < time.Millisecond {
			delay *= 2
		}
	}
	return nil
}
