package alloc

import (
	"fmt"
	"math"
	"strings"
	"testing"

	"netbuf/domain/buffer"
	"netbuf/infra/memory"
	"netbuf/tracker"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTracked(t *testing.T, cfg Config) (*Allocator, *tracker.Registry) {
	t.Helper()
	reg := tracker.NewRegistry(tracker.Config{Enabled: true, KeepFreed: true})
	cfg.Tracker = reg
	return New(cfg), reg
}

func TestAllocReleaseLeavesRegistryEmpty(t *testing.T) {
	a, reg := newTracked(t, Config{})

	var bufs []*buffer.Buffer
	for i := 0; i < 50; i++ {
		b, err := a.Alloc(100+i, buffer.Kernel)
		require.NoError(t, err)
		bufs = append(bufs, b)
	}
	assert.Len(t, reg.Report().Live, 50)

	for _, b := range bufs {
		a.Release(b)
	}
	assert.Empty(t, reg.Report().Live)
	assert.Equal(t, int64(0), a.Stats().Live)
	assert.Equal(t, int64(0), a.Stats().LiveBytes)
}

func TestAllocSiteIsCaller(t *testing.T) {
	a, reg := newTracked(t, Config{})
	b, err := a.DevAlloc(10)
	require.NoError(t, err)

	rec, ok := reg.Lookup(b.ID)
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(rec.Site, "allocator_test.go:"), rec.Site)
	a.Release(b)
}

func TestAllocHeadroomReservation(t *testing.T) {
	a, _ := newTracked(t, Config{Headroom: 32, Tailroom: 8})
	b, err := a.AllocHeadroom(100, buffer.Atomic)
	require.NoError(t, err)
	assert.Equal(t, 32, b.Headroom())
	assert.Equal(t, 108, b.Tailroom())
	assert.Equal(t, 0, b.Len())
	a.Release(b)

	p, err := a.Alloc(16, buffer.Kernel)
	require.NoError(t, err)
	assert.Equal(t, 0, p.Headroom())
	a.Release(p)
}

func TestDoubleReleaseFreesOnce(t *testing.T) {
	a, reg := newTracked(t, Config{Poison: true})
	b, err := a.Alloc(64, buffer.Kernel)
	require.NoError(t, err)
	storage := b.Storage()

	a.Release(b)
	require.True(t, memory.Poisoned(storage[:cap(storage)]))

	// reuse the slab for someone else, then double release the stale handle
	other, err := a.Alloc(64, buffer.Kernel)
	require.NoError(t, err)
	a.Release(b)

	st := a.Stats()
	assert.Equal(t, uint64(1), st.Leaked)
	assert.Equal(t, int64(1), st.Live)
	assert.Equal(t, uint64(1), reg.Stats().DoubleFree)
	assert.True(t, reg.Report().Contains(other.ID))
	a.Release(other)
}

func TestReleaseUntrackedIsLeaked(t *testing.T) {
	a, reg := newTracked(t, Config{})
	stray := buffer.New(12345, make([]byte, 8), "elsewhere", buffer.Atomic)
	a.Release(stray)

	assert.Equal(t, 8, stray.Cap(), "untracked buffer must not be touched")
	assert.Equal(t, uint64(1), reg.Stats().DoubleFree)
	assert.Equal(t, uint64(1), a.Stats().Leaked)
}

func TestReleaseShadow(t *testing.T) {
	a, reg := newTracked(t, Config{})

	owner, err := a.Alloc(256, buffer.Atomic)
	require.NoError(t, err)
	alias, err := a.Alloc(16, buffer.Atomic)
	require.NoError(t, err)
	alias.SetShadow(owner, false)

	a.Release(alias)
	assert.Empty(t, reg.Report().Live)

	// a do-not-free shadow survives its alias
	owner2, err := a.Alloc(256, buffer.Atomic)
	require.NoError(t, err)
	alias2, err := a.Alloc(16, buffer.Atomic)
	require.NoError(t, err)
	alias2.SetShadow(owner2, true)

	a.Release(alias2)
	rep := reg.Report()
	assert.True(t, rep.Contains(owner2.ID))
	assert.False(t, rep.Contains(alias2.ID))
	a.Release(owner2)
	assert.Empty(t, reg.Report().Live)
}

func TestShadowLinkIsReported(t *testing.T) {
	a, reg := newTracked(t, Config{})
	owner, err := a.Alloc(256, buffer.Atomic)
	require.NoError(t, err)
	alias, err := a.Alloc(16, buffer.Atomic)
	require.NoError(t, err)

	require.True(t, a.SetShadow(alias, owner, true))
	rec, ok := reg.Lookup(alias.ID)
	require.True(t, ok)
	assert.Equal(t, owner.ID, rec.Shadow)

	rep := reg.Report()
	var found bool
	for _, r := range rep.Live {
		if r.ID == alias.ID {
			found = true
			assert.Equal(t, owner.ID, r.Shadow)
		}
	}
	assert.True(t, found)
	assert.Contains(t, rep.String(), fmt.Sprintf("shadow=buf#%d", owner.ID))

	a.Release(alias)
	a.Release(owner)
	assert.Empty(t, reg.Report().Live)
}

func TestDuplicate(t *testing.T) {
	a, reg := newTracked(t, Config{Headroom: 16})
	src, err := a.AllocHeadroom(8, buffer.Kernel)
	require.NoError(t, err)
	require.NoError(t, src.Append([]byte("payload!")))
	src.Control.Colour = 3

	dup, err := a.Duplicate(src)
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, dup.ID)
	assert.Equal(t, src.Bytes(), dup.Bytes())
	assert.Equal(t, src.Headroom(), dup.Headroom())
	assert.Equal(t, uint32(3), dup.Control.Colour)

	dup.Bytes()[0] = 'P'
	assert.Equal(t, byte('p'), src.Bytes()[0], "duplicate must not share storage")

	assert.Len(t, reg.Report().Live, 2)
	a.Release(src)
	a.Release(dup)
	assert.Empty(t, reg.Report().Live)
}

func TestCopyExpandAndRealloc(t *testing.T) {
	a, _ := newTracked(t, Config{})
	src, err := a.Alloc(4, buffer.Kernel)
	require.NoError(t, err)
	require.NoError(t, src.Append([]byte{1, 2, 3, 4}))

	exp, err := a.CopyExpand(src, 10, 20)
	require.NoError(t, err)
	assert.Equal(t, 10, exp.Headroom())
	assert.Equal(t, 20, exp.Tailroom())
	assert.Equal(t, []byte{1, 2, 3, 4}, exp.Bytes())

	re, err := a.ReallocHeadroom(src, 40)
	require.NoError(t, err)
	assert.Equal(t, 40, re.Headroom())
	assert.Equal(t, src.Bytes(), re.Bytes())

	for _, b := range []*buffer.Buffer{src, exp, re} {
		a.Release(b)
	}
	assert.Equal(t, int64(0), a.Stats().Live)
}

func TestCloneSharesStorage(t *testing.T) {
	a, reg := newTracked(t, Config{Poison: true})
	src, err := a.Alloc(8, buffer.Kernel)
	require.NoError(t, err)
	require.NoError(t, src.Append([]byte{7, 7}))

	cl, err := a.Clone(src)
	require.NoError(t, err)
	assert.NotEqual(t, src.ID, cl.ID)
	assert.Equal(t, []byte{7, 7}, cl.Bytes())

	a.Release(src)
	assert.Equal(t, []byte{7, 7}, cl.Bytes(), "storage must outlive the first identity")
	assert.True(t, reg.Report().Contains(cl.ID))

	a.Release(cl)
	assert.Equal(t, int64(0), a.Stats().LiveBytes)

	_, err = a.Clone(src)
	assert.Error(t, err)
}

func TestBudgetExhaustion(t *testing.T) {
	a, reg := newTracked(t, Config{BudgetBytes: 256})
	b1, err := a.Alloc(200, buffer.Atomic)
	require.NoError(t, err)

	_, err = a.Alloc(200, buffer.Atomic)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoMemory))
	assert.Len(t, reg.Report().Live, 1)
	assert.Equal(t, uint64(1), a.Stats().Failures)

	a.Release(b1)
	b2, err := a.Alloc(200, buffer.Atomic)
	require.NoError(t, err)
	a.Release(b2)
}

func TestAllocTooLarge(t *testing.T) {
	a, _ := newTracked(t, Config{})
	_, err := a.Alloc(MaxBuffer+1, buffer.Kernel)
	assert.True(t, errors.Is(err, ErrNoMemory))

	_, err = a.Alloc(-1, buffer.Kernel)
	assert.Error(t, err)
}

func TestAllocOverflowingSizeIsRefused(t *testing.T) {
	a, reg := newTracked(t, Config{BudgetBytes: 1 << 20})

	for _, tc := range []struct {
		name string
		size int
		opts Options
	}{
		{"size", math.MaxInt, Options{}},
		{"size with headroom", math.MaxInt - 10, Options{Headroom: 64, Tailroom: 8}},
		{"headroom", 1, Options{Headroom: math.MaxInt}},
		{"tailroom", 1, Options{Headroom: 64, Tailroom: math.MaxInt - 32}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var (
				b   *buffer.Buffer
				err error
			)
			require.NotPanics(t, func() { b, err = a.Allocate(tc.size, tc.opts) })
			assert.Nil(t, b)
			assert.True(t, errors.Is(err, ErrNoMemory), "%v", err)
		})
	}

	require.NotPanics(t, func() {
		_, err := a.AllocHeadroom(math.MaxInt, buffer.Atomic)
		assert.True(t, errors.Is(err, ErrNoMemory))
	})
	assert.Zero(t, a.Stats().LiveBytes, "refused allocations must not hold budget")
	assert.Empty(t, reg.Report().Live)
}

func TestUntrackedAllocatorStillRefusesDoubleFree(t *testing.T) {
	a := New(Config{})
	assert.False(t, a.Tracker().Enabled())

	b, err := a.Alloc(32, buffer.Kernel)
	require.NoError(t, err)
	a.Release(b)
	a.Release(b)

	assert.Equal(t, int64(0), a.Stats().Live)
	assert.Equal(t, uint64(1), a.Stats().Leaked)
}
