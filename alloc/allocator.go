package alloc

import (
	"sync/atomic"

	"netbuf/domain/buffer"
	"netbuf/infra/memory"
	"netbuf/infra/sequence"
	"netbuf/tracker"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
)

// ErrNoMemory is returned when storage cannot be obtained.
var ErrNoMemory = errors.New("alloc: out of buffer memory")

// MaxBuffer bounds a single allocation including head and tail room.
const MaxBuffer = 1 << 24

type Config struct {
	// Headroom and Tailroom are reserved by AllocHeadroom and DevAlloc.
	Headroom int
	Tailroom int
	// BudgetBytes caps live storage; zero is unlimited.
	BudgetBytes int64
	// Poison fills released storage with memory.PoisonByte.
	Poison bool

	Tracker    tracker.Tracker
	Registerer prometheus.Registerer
}

func (c Config) WithDefaults() Config {
	if c.Headroom <= 0 {
		c.Headroom = 64
	}
	if c.Tailroom < 0 {
		c.Tailroom = 0
	}
	if c.Tracker == nil {
		c.Tracker = tracker.Nop{}
	}
	return c
}

// Options control a single allocation.
type Options struct {
	Headroom int
	Tailroom int
	Priority buffer.Priority
	// Site overrides the caller-derived allocation tag.
	Site string
}

// slab is the storage handle shared by a buffer and its clones.
type slab struct {
	refs   atomic.Int32
	charge int64
}

type Allocator struct {
	cfg     Config
	tracker tracker.Tracker
	slabs   *memory.SlabPool
	budget  *memory.Budget
	ids     *sequence.Sequencer

	live     atomic.Int64
	failures atomic.Uint64
	leaked   atomic.Uint64

	metrics *metrics
}

func New(cfg Config) *Allocator {
	cfg = cfg.WithDefaults()
	return &Allocator{
		cfg:     cfg,
		tracker: cfg.Tracker,
		slabs:   memory.NewSlabPool(cfg.Poison),
		budget:  memory.NewBudget(cfg.BudgetBytes),
		ids:     sequence.New(0),
		metrics: newMetrics(cfg.Registerer),
	}
}

func (a *Allocator) Tracker() tracker.Tracker { return a.tracker }

// Alloc returns a buffer of size bytes with no reserved head or tail room.
func (a *Allocator) Alloc(size int, prio buffer.Priority) (*buffer.Buffer, error) {
	return a.allocate(size, Options{Priority: prio}, 1)
}

// AllocHeadroom returns a buffer of size bytes with the configured head and
// tail reservation around it.
func (a *Allocator) AllocHeadroom(size int, prio buffer.Priority) (*buffer.Buffer, error) {
	return a.allocate(size, Options{
		Headroom: a.cfg.Headroom,
		Tailroom: a.cfg.Tailroom,
		Priority: prio,
	}, 1)
}

// DevAlloc is AllocHeadroom from producer context.
func (a *Allocator) DevAlloc(length int) (*buffer.Buffer, error) {
	return a.allocate(length, Options{
		Headroom: a.cfg.Headroom,
		Tailroom: a.cfg.Tailroom,
		Priority: buffer.Atomic,
	}, 1)
}

// Allocate is the general form: storage for opts.Headroom+size+opts.Tailroom
// bytes, data window empty and positioned after the headroom.
func (a *Allocator) Allocate(size int, opts Options) (*buffer.Buffer, error) {
	return a.allocate(size, opts, 1)
}

func (a *Allocator) allocate(size int, opts Options, depth int) (*buffer.Buffer, error) {
	site := opts.Site
	if site == "" {
		site = Caller(depth + 1)
	}
	if size < 0 || opts.Headroom < 0 || opts.Tailroom < 0 {
		return nil, errors.Newf("alloc: negative size %d/%d/%d at %s", size, opts.Headroom, opts.Tailroom, site)
	}
	// compared piecewise so the sum cannot overflow
	if opts.Headroom > MaxBuffer || opts.Tailroom > MaxBuffer-opts.Headroom ||
		size > MaxBuffer-opts.Headroom-opts.Tailroom {
		return nil, a.fail(errors.Wrapf(ErrNoMemory, "%d+%d+%d bytes exceeds limit at %s",
			opts.Headroom, size, opts.Tailroom, site))
	}
	total := opts.Headroom + size + opts.Tailroom
	charge := int64(memory.ClassSize(total))
	if !a.budget.Reserve(charge) {
		return nil, a.fail(errors.Wrapf(ErrNoMemory, "%d bytes at %s (budget %d/%d)",
			total, site, a.budget.Used(), a.budget.Limit()))
	}

	b := buffer.New(buffer.ID(a.ids.Next()), a.slabs.Get(total), site, opts.Priority)
	s := &slab{charge: charge}
	s.refs.Store(1)
	b.Slab = s
	if err := b.Reserve(opts.Headroom); err != nil {
		panic(err) // storage is sized to fit
	}

	a.tracker.Track(b, site)
	a.live.Add(1)
	a.metrics.live.Inc()
	a.metrics.bytes.Set(float64(a.budget.Used()))
	return b, nil
}

func (a *Allocator) fail(err error) error {
	a.failures.Add(1)
	a.metrics.failures.Inc()
	return err
}

// Duplicate copies src into new storage of the same size, keeping its head
// and tail room and control block. The copy has its own identity and no
// shadow.
func (a *Allocator) Duplicate(src *buffer.Buffer) (*buffer.Buffer, error) {
	head, tail := src.Window()
	b, err := a.allocate(src.Len(), Options{
		Headroom: head,
		Tailroom: src.Cap() - tail,
		Priority: src.Priority,
	}, 1)
	if err != nil {
		return nil, err
	}
	copy(b.Storage(), src.Storage())
	b.SetWindow(head, tail)
	b.Control = src.Control
	return b, nil
}

// CopyExpand copies src's data into a new buffer with the given head and
// tail room.
func (a *Allocator) CopyExpand(src *buffer.Buffer, headroom, tailroom int) (*buffer.Buffer, error) {
	return a.copyExpand(src, headroom, tailroom, 2)
}

func (a *Allocator) copyExpand(src *buffer.Buffer, headroom, tailroom, depth int) (*buffer.Buffer, error) {
	b, err := a.allocate(src.Len(), Options{
		Headroom: headroom,
		Tailroom: tailroom,
		Priority: src.Priority,
	}, depth)
	if err != nil {
		return nil, err
	}
	if err := b.Append(src.Bytes()); err != nil {
		panic(err)
	}
	b.Control = src.Control
	return b, nil
}

// ReallocHeadroom returns a copy of src with at least headroom bytes in
// front of the data. src is left untouched and still owned by the caller.
func (a *Allocator) ReallocHeadroom(src *buffer.Buffer, headroom int) (*buffer.Buffer, error) {
	if headroom < src.Headroom() {
		headroom = src.Headroom()
	}
	return a.copyExpand(src, headroom, src.Tailroom(), 2)
}

// Clone returns a new identity sharing src's storage. The storage goes
// back to the pool once every identity sharing it has been released.
func (a *Allocator) Clone(src *buffer.Buffer) (*buffer.Buffer, error) {
	s, ok := src.Slab.(*slab)
	if !ok {
		return nil, errors.Newf("alloc: clone of released %s", src)
	}
	s.refs.Add(1)
	b := buffer.New(buffer.ID(a.ids.Next()), src.Storage(), Caller(1), src.Priority)
	b.Slab = s
	head, tail := src.Window()
	b.SetWindow(head, tail)
	b.Control = src.Control

	a.tracker.Track(b, b.Site)
	a.live.Add(1)
	a.metrics.live.Inc()
	return b, nil
}

// Release is the single free path. The tracker decides first: if it does
// not know b as live, b is leaked rather than freed. Otherwise a shadow
// buffer not flagged ShadowNoFree is released, then b's storage.
func (a *Allocator) Release(b *buffer.Buffer) {
	a.release(b, Caller(1))
}

func (a *Allocator) release(b *buffer.Buffer, site string) {
	if b == nil {
		return
	}
	if !a.tracker.Untrack(b, site) {
		a.leaked.Add(1)
		a.metrics.leaked.Inc()
		return
	}
	if sh := b.Shadow; sh != nil {
		b.Shadow = nil
		if !b.ShadowNoFree {
			a.release(sh, site)
		}
	}
	a.free(b, site)
}

func (a *Allocator) free(b *buffer.Buffer, site string) {
	s, ok := b.Slab.(*slab)
	if !ok {
		// the tracker is off or was reset: the storage handle is the
		// last line against returning a slab twice
		a.leaked.Add(1)
		a.metrics.leaked.Inc()
		glog.Warningf("[alloc] release of already released buf#%d at %s", b.ID, site)
		return
	}
	storage := b.Storage()
	b.Detach()
	a.live.Add(-1)
	a.metrics.live.Dec()
	if s.refs.Add(-1) > 0 {
		return
	}
	a.slabs.Put(storage)
	a.budget.Return(s.charge)
	a.metrics.bytes.Set(float64(a.budget.Used()))
}

// SetShadow makes b alias storage owned by shadow and records the link
// with the tracker so reports show it.
func (a *Allocator) SetShadow(b, shadow *buffer.Buffer, noFree bool) bool {
	b.SetShadow(shadow, noFree)
	return a.tracker.Mark(b, Caller(1))
}

// Mark records a checkpoint for b at the caller's site.
func (a *Allocator) Mark(b *buffer.Buffer) bool {
	return a.tracker.Mark(b, Caller(1))
}

// MarkAt records a checkpoint with an explicit site tag.
func (a *Allocator) MarkAt(b *buffer.Buffer, site string) bool {
	return a.tracker.Mark(b, site)
}

// Stats describes the allocator's outstanding storage.
type Stats struct {
	Live      int64  `json:"live"`
	LiveBytes int64  `json:"live_bytes"`
	Budget    int64  `json:"budget"`
	Failures  uint64 `json:"failures"`
	Leaked    uint64 `json:"leaked"`
}

func (a *Allocator) Stats() Stats {
	return Stats{
		Live:      a.live.Load(),
		LiveBytes: a.budget.Used(),
		Budget:    a.budget.Limit(),
		Failures:  a.failures.Load(),
		Leaked:    a.leaked.Load(),
	}
}
