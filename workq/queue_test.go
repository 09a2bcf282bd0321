package workq

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"netbuf/alloc"
	"netbuf/domain/buffer"
	"netbuf/internal/assert"
	"netbuf/tracker"

	"github.com/cockroachdb/errors"
	tassert "github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

type device struct{ name string }

func newGroup(t *testing.T, maxQueues int) (*Group, *tracker.Registry) {
	t.Helper()
	reg := tracker.NewRegistry(tracker.Config{Enabled: true, KeepFreed: true})
	a := alloc.New(alloc.Config{Tracker: reg})
	return NewGroup(Config{Name: t.Name(), MaxQueues: maxQueues, Allocator: a}), reg
}

// releasing returns a worker that records and releases every buffer.
func releasing(a *alloc.Allocator, seen *[]buffer.ID, mu *sync.Mutex) Func {
	return func(q *Queue) {
		for b := q.Dequeue(); b != nil; b = q.Dequeue() {
			mu.Lock()
			*seen = append(*seen, b.ID)
			mu.Unlock()
			a.Release(b)
		}
	}
}

func TestQueueFIFOOrder(t *testing.T) {
	g, reg := newGroup(t, 0)
	a := g.Allocator()

	gate := make(chan struct{})
	var (
		mu   sync.Mutex
		seen []buffer.ID
	)
	work := releasing(a, &seen, &mu)
	q := g.NewQueue()
	require.NoError(t, q.Init(&device{"wlan0"}, "rx", func(q *Queue) {
		<-gate
		work(q)
	}))

	var want []buffer.ID
	for i := 0; i < 3; i++ {
		b, err := a.Alloc(32, buffer.Atomic)
		require.NoError(t, err)
		want = append(want, b.ID)
		q.Enqueue(b)
	}
	tassert.Equal(t, 3, q.Len())
	close(gate)

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 3
	}, time.Second, time.Millisecond)
	mu.Lock()
	tassert.Equal(t, want, seen)
	mu.Unlock()

	require.NoError(t, q.Deinit(context.Background()))
	tassert.Empty(t, reg.Report().Live)
}

func TestQueueOwner(t *testing.T) {
	g, _ := newGroup(t, 0)
	dev := &device{"wlan0"}
	q := g.NewQueue()
	tassert.Nil(t, q.Owner())
	require.NoError(t, q.Init(dev, "rx", func(*Queue) {}))
	tassert.Same(t, dev, q.Owner())
	require.NoError(t, q.Deinit(context.Background()))
	tassert.Nil(t, q.Owner())
}

func TestEnqueueAfterDeinitReleases(t *testing.T) {
	g, reg := newGroup(t, 0)
	a := g.Allocator()
	q := g.NewQueue()
	require.NoError(t, q.Init(&device{}, "rx", func(*Queue) {}))
	require.NoError(t, q.Deinit(context.Background()))
	tassert.Equal(t, Destroyed, q.State())

	b, err := a.Alloc(64, buffer.Atomic)
	require.NoError(t, err)
	q.Enqueue(b)

	tassert.Equal(t, 0, q.Len())
	tassert.Empty(t, reg.Report().Live)
	tassert.Equal(t, uint64(1), q.Stats().Rejected)
}

func TestDeinitPurgesUnprocessed(t *testing.T) {
	g, reg := newGroup(t, 0)
	a := g.Allocator()
	q := g.NewQueue()
	// the worker never dequeues
	require.NoError(t, q.Init(&device{}, "rx", func(*Queue) {}))

	for i := 0; i < 10; i++ {
		b, err := a.Alloc(64, buffer.Atomic)
		require.NoError(t, err)
		q.Enqueue(b)
	}
	require.NoError(t, q.Deinit(context.Background()))
	tassert.Equal(t, uint64(10), q.Stats().Purged)
	tassert.Empty(t, reg.Report().Live)
	tassert.Zero(t, a.Stats().Live)
}

func TestDeinitTwiceIsMisuse(t *testing.T) {
	g, _ := newGroup(t, 0)
	q := g.NewQueue()
	require.NoError(t, q.Init(&device{}, "rx", func(*Queue) {}))
	require.NoError(t, q.Deinit(context.Background()))

	tassert.Panics(t, func() { _ = q.Deinit(context.Background()) })
	tassert.Panics(t, func() { _ = g.NewQueue().Deinit(context.Background()) })
	tassert.Equal(t, Destroyed, q.State())
}

func TestDeinitMisuseNonStrict(t *testing.T) {
	assert.SetStrict(false)
	defer assert.SetStrict(true)

	g, _ := newGroup(t, 0)
	q := g.NewQueue()
	err := q.Deinit(context.Background())
	require.Error(t, err)
	tassert.True(t, errors.IsAssertionFailure(err))
	tassert.Equal(t, Uninitialized, q.State())
}

func TestInitTwiceIsMisuse(t *testing.T) {
	g, _ := newGroup(t, 0)
	q := g.NewQueue()
	require.NoError(t, q.Init(&device{}, "rx", func(*Queue) {}))
	tassert.Panics(t, func() { _ = q.Init(&device{}, "rx", func(*Queue) {}) })
	require.NoError(t, q.Deinit(context.Background()))
}

func TestInitFailureLeavesUninitialized(t *testing.T) {
	g, _ := newGroup(t, 1)
	q1 := g.NewQueue()
	require.NoError(t, q1.Init(&device{}, "rx0", func(*Queue) {}))

	q2 := g.NewQueue()
	err := q2.Init(&device{}, "rx1", func(*Queue) {})
	require.Error(t, err)
	tassert.True(t, errors.Is(err, ErrNoResources))
	tassert.Equal(t, Uninitialized, q2.State())
	tassert.Nil(t, q2.Owner())

	// the slot comes back after teardown
	require.NoError(t, q1.Deinit(context.Background()))
	require.NoError(t, q2.Init(&device{}, "rx1", func(*Queue) {}))
	require.NoError(t, q2.Deinit(context.Background()))
	tassert.Zero(t, g.Live())
}

func TestWorkerPanicIsRecovered(t *testing.T) {
	g, reg := newGroup(t, 0)
	a := g.Allocator()
	var calls atomic.Int32
	q := g.NewQueue()
	require.NoError(t, q.Init(&device{}, "rx", func(q *Queue) {
		for b := q.Dequeue(); b != nil; b = q.Dequeue() {
			a.Release(b)
			if calls.Add(1) == 1 {
				panic("bad frame")
			}
		}
	}))

	b, _ := a.Alloc(16, buffer.Atomic)
	q.Enqueue(b)
	require.Eventually(t, func() bool { return q.Stats().Panics == 1 }, time.Second, time.Millisecond)

	b, _ = a.Alloc(16, buffer.Atomic)
	q.Enqueue(b)
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)

	require.NoError(t, q.Deinit(context.Background()))
	tassert.Empty(t, reg.Report().Live)
}

func TestDeinitWaitsForReaders(t *testing.T) {
	g, reg := newGroup(t, 0)
	q := g.NewQueue()
	require.NoError(t, q.Init(&device{}, "rx", func(*Queue) {}))

	r := g.Domain().Enter()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := q.Deinit(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
	tassert.Equal(t, Draining, q.State())

	// producers arriving now are turned away
	b, _ := g.Allocator().Alloc(8, buffer.Atomic)
	q.Enqueue(b)
	tassert.Empty(t, reg.Report().Live)

	r.Exit()
	require.NoError(t, q.Deinit(context.Background()))
	tassert.Equal(t, Destroyed, q.State())
}

func TestProducersRacingDeinit(t *testing.T) {
	const (
		producers = 8
		perProd   = 500
	)
	g, reg := newGroup(t, 0)
	a := g.Allocator()

	var (
		mu   sync.Mutex
		seen []buffer.ID
	)
	q := g.NewQueue()
	require.NoError(t, q.Init(&device{}, "rx", releasing(a, &seen, &mu)))

	start := make(chan struct{})
	var eg errgroup.Group
	for p := 0; p < producers; p++ {
		eg.Go(func() error {
			<-start
			for i := 0; i < perProd; i++ {
				b, err := a.Alloc(128, buffer.Atomic)
				if err != nil {
					return err
				}
				q.Enqueue(b)
			}
			return nil
		})
	}
	close(start)
	time.Sleep(time.Millisecond)
	require.NoError(t, q.Deinit(context.Background()))
	require.NoError(t, eg.Wait())

	st := q.Stats()
	mu.Lock()
	processed := uint64(len(seen))
	mu.Unlock()
	tassert.Equal(t, uint64(producers*perProd), st.Enqueued+st.Rejected)
	tassert.Equal(t, st.Enqueued, processed+st.Purged)
	tassert.Empty(t, reg.Report().Live)
	tassert.Zero(t, a.Stats().Live)
	tassert.Zero(t, reg.Stats().DoubleFree)
}

func TestDeinitAll(t *testing.T) {
	g, reg := newGroup(t, 0)
	a := g.Allocator()
	for i := 0; i < 4; i++ {
		q := g.NewQueue()
		require.NoError(t, q.Init(&device{}, "rx", func(*Queue) {}))
		b, _ := a.Alloc(32, buffer.Atomic)
		q.Enqueue(b)
	}
	// never initialized, skipped
	g.NewQueue()

	require.NoError(t, g.DeinitAll(context.Background()))
	for _, q := range g.Queues()[:4] {
		tassert.Equal(t, Destroyed, q.State())
	}
	tassert.Empty(t, reg.Report().Live)
}

func TestStateString(t *testing.T) {
	tassert.Equal(t, "uninitialized", Uninitialized.String())
	tassert.Equal(t, "draining", Draining.String())
	tassert.Equal(t, "state(9)", State(9).String())
}
