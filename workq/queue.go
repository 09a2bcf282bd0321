package workq

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"netbuf/alloc"
	"netbuf/domain/buffer"
	"netbuf/infra/memory"
	"netbuf/infra/rcu"
	"netbuf/internal/assert"

	"github.com/golang/glog"
)

// State is the lifecycle stage of a Queue.
type State int32

const (
	Uninitialized State = iota
	Live
	Draining
	Destroyed
)

func (s State) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Live:
		return "live"
	case Draining:
		return "draining"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Owner is the component a queue works for, usually a device. The queue
// only passes it back through Owner.
type Owner any

// Func is a worker pass. It is called with the queue whenever buffers may
// be pending and should Dequeue until it gets nil.
type Func func(q *Queue)

// token is the published liveness of a queue. A nil token means the queue
// accepts nothing.
type token struct {
	owner Owner
}

// Stats are per-queue counters.
type Stats struct {
	Name      string `json:"name"`
	State     string `json:"state"`
	Len       int    `json:"len"`
	Enqueued  uint64 `json:"enqueued"`
	Rejected  uint64 `json:"rejected"`
	Dequeued  uint64 `json:"dequeued"`
	Purged    uint64 `json:"purged"`
	Panics    uint64 `json:"panics"`
	Schedules uint64 `json:"schedules"`
}

// Queue is a deferred work queue. Obtain one from Group.NewQueue; the zero
// value reports Uninitialized but cannot be initialized.
type Queue struct {
	group *Group
	name  string
	fn    Func

	state atomic.Int32
	live  rcu.Pointer[token]

	mu   sync.Mutex
	fifo *memory.Ring[*buffer.Buffer]

	pending chan struct{}
	stop    chan struct{}
	done    chan struct{}
	// set when a Deinit gave up waiting for the grace period
	interrupted atomic.Bool

	enqueued  atomic.Uint64
	rejected  atomic.Uint64
	dequeued  atomic.Uint64
	purged    atomic.Uint64
	panics    atomic.Uint64
	schedules atomic.Uint64
}

// Init makes q live: owner is published as its liveness token and a worker
// goroutine starts running fn. On error q stays Uninitialized.
func (q *Queue) Init(owner Owner, name string, fn Func) error {
	if q.group == nil {
		return assert.Fail("workq: init of queue %q not created by a group", name)
	}
	if s := q.State(); s != Uninitialized {
		return assert.Fail("workq: init of %s queue %q", s, q.name)
	}
	if fn == nil {
		return assert.Fail("workq: init of queue %q without a worker", name)
	}
	if err := q.group.acquire(name); err != nil {
		glog.Warningf("[workq] init %s: %v", name, err)
		return err
	}

	q.name = name
	q.fn = fn
	q.fifo = memory.NewRing[*buffer.Buffer](64)
	q.pending = make(chan struct{}, 1)
	q.stop = make(chan struct{})
	q.done = make(chan struct{})
	q.live.Assign(&token{owner: owner})
	q.state.Store(int32(Live))

	go q.run()
	glog.V(1).Infof("[workq] %s/%s live", q.group.cfg.Name, name)
	return nil
}

func (q *Queue) Name() string { return q.name }

func (q *Queue) State() State {
	return State(q.state.Load())
}

// Owner returns the owner while the queue is live, otherwise nil.
func (q *Queue) Owner() Owner {
	if q.group == nil {
		return nil
	}
	r := q.group.dom.Enter()
	defer r.Exit()
	if t := q.live.Load(); t != nil {
		return t.owner
	}
	return nil
}

// Enqueue hands b to the queue. If the queue is not live b is released
// instead; either way the caller gives up b.
func (q *Queue) Enqueue(b *buffer.Buffer) {
	if q.group == nil {
		assert.Fail("workq: enqueue %s on a queue not created by a group", b)
		return
	}
	a := q.group.alloc
	a.MarkAt(b, alloc.Caller(1))

	r := q.group.dom.Enter()
	if q.live.Load() == nil {
		r.Exit()
		q.rejected.Add(1)
		q.group.metrics.rejected.WithLabelValues(q.label()).Inc()
		glog.Warningf("[workq] %s: enqueue after teardown, releasing %s", q.label(), b)
		a.Release(b)
		return
	}
	q.mu.Lock()
	q.fifo.Push(b)
	q.mu.Unlock()
	r.Exit()

	q.enqueued.Add(1)
	q.group.metrics.enqueued.WithLabelValues(q.label()).Inc()
	q.schedule()
}

func (q *Queue) schedule() {
	select {
	case q.pending <- struct{}{}:
		q.schedules.Add(1)
	default:
	}
}

// Dequeue pops the oldest buffer, or returns nil when the queue is empty.
// It is meant for the worker.
func (q *Queue) Dequeue() *buffer.Buffer {
	q.mu.Lock()
	var (
		b  *buffer.Buffer
		ok bool
	)
	if q.fifo != nil {
		b, ok = q.fifo.Dequeue()
	}
	q.mu.Unlock()
	if !ok {
		return nil
	}
	q.dequeued.Add(1)
	q.group.metrics.processed.WithLabelValues(q.label()).Inc()
	q.group.alloc.MarkAt(b, alloc.Caller(1))
	return b
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.fifo == nil {
		return 0
	}
	return q.fifo.Len()
}

// Deinit tears the queue down. When it returns nil no producer is inside
// Enqueue for this queue, the worker has exited, every queued buffer was
// either processed or released, and later Enqueue calls release their
// buffer. If ctx ends before the grace period, the queue stays Draining
// and Deinit may be called again to finish.
func (q *Queue) Deinit(ctx context.Context) error {
	if !q.state.CompareAndSwap(int32(Live), int32(Draining)) {
		s := q.State()
		if s != Draining || !q.interrupted.CompareAndSwap(true, false) {
			return assert.Fail("workq: deinit of %s queue %q", s, q.name)
		}
	}

	q.live.Assign(nil)
	if err := q.group.dom.Synchronize(ctx); err != nil {
		q.interrupted.Store(true)
		glog.Warningf("[workq] %s: teardown interrupted: %v", q.label(), err)
		return err
	}

	close(q.stop)
	<-q.done

	n := q.purge()
	q.state.Store(int32(Destroyed))
	q.group.releaseSlot()
	glog.V(1).Infof("[workq] %s destroyed, %d buffers purged", q.label(), n)
	return nil
}

func (q *Queue) purge() int {
	q.mu.Lock()
	var drained []*buffer.Buffer
	for {
		b, ok := q.fifo.Dequeue()
		if !ok {
			break
		}
		drained = append(drained, b)
	}
	q.mu.Unlock()

	for _, b := range drained {
		q.group.alloc.Release(b)
	}
	q.purged.Add(uint64(len(drained)))
	q.group.metrics.purged.WithLabelValues(q.label()).Add(float64(len(drained)))
	return len(drained)
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		select {
		case <-q.pending:
			q.runPass()
		case <-q.stop:
			// flush: a pass scheduled before teardown still runs
			select {
			case <-q.pending:
				q.runPass()
			default:
			}
			return
		}
	}
}

func (q *Queue) runPass() {
	defer func() {
		if r := recover(); r != nil {
			q.panics.Add(1)
			q.group.metrics.panics.WithLabelValues(q.label()).Inc()
			glog.Errorf("[workq] %s: worker panic: %v\n%s", q.label(), r, debug.Stack())
		}
	}()
	q.fn(q)
}

func (q *Queue) label() string {
	if q.name == "" {
		return "<unnamed>"
	}
	return q.name
}

func (q *Queue) Stats() Stats {
	return Stats{
		Name:      q.name,
		State:     q.State().String(),
		Len:       q.Len(),
		Enqueued:  q.enqueued.Load(),
		Rejected:  q.rejected.Load(),
		Dequeued:  q.dequeued.Load(),
		Purged:    q.purged.Load(),
		Panics:    q.panics.Load(),
		Schedules: q.schedules.Load(),
	}
}
