package service

import (
	"context"
	"testing"
	"time"

	"netbuf/alloc"
	"netbuf/domain/buffer"
	"netbuf/infra/journal"
	"netbuf/infra/reportstore"
	"netbuf/tracker"
	"netbuf/workq"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDiag(t *testing.T, withStore bool) (*Diagnostics, *alloc.Allocator) {
	t.Helper()
	reg := tracker.NewRegistry(tracker.Config{Enabled: true})
	a := alloc.New(alloc.Config{Tracker: reg})
	o := Options{Allocator: a, Group: workq.NewGroup(workq.Config{Allocator: a})}
	if withStore {
		s, err := reportstore.Open(t.TempDir())
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		o.Store = s
	}
	return NewDiagnostics(o), a
}

func TestSnapshotListsLeaks(t *testing.T) {
	d, a := newDiag(t, false)
	b, err := a.Alloc(64, buffer.Kernel)
	require.NoError(t, err)

	r := d.Snapshot()
	assert.True(t, r.Contains(b.ID))
	assert.Equal(t, 1, d.Stats().Tracker.Live)
	assert.Equal(t, int64(1), d.Stats().Alloc.Live)

	a.Release(b)
	assert.Empty(t, d.Snapshot().Live)

	_, err = d.Persist()
	assert.True(t, errors.Is(err, ErrNoStore))
}

func TestPersist(t *testing.T) {
	d, a := newDiag(t, true)
	b, err := a.Alloc(64, buffer.Kernel)
	require.NoError(t, err)

	seq, err := d.Persist()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), seq)

	got, err := d.store.Get(seq)
	require.NoError(t, err)
	assert.True(t, got.Contains(b.ID))
	a.Release(b)
}

func TestPersistTruncatesJournal(t *testing.T) {
	dir := t.TempDir()
	j, err := journal.Open(journal.Config{Dir: dir, SegmentSize: 128})
	require.NoError(t, err)
	defer j.Close()

	reg := tracker.NewRegistry(tracker.Config{Enabled: true, Sink: j})
	a := alloc.New(alloc.Config{Tracker: reg})
	s, err := reportstore.Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()
	d := NewDiagnostics(Options{Allocator: a, Store: s, Journal: j})

	for i := 0; i < 20; i++ {
		b, err := a.Alloc(32, buffer.Kernel)
		require.NoError(t, err)
		a.Release(b)
	}
	require.NoError(t, reg.Close())

	_, err = d.Persist()
	require.NoError(t, err)

	n := 0
	_, err = journal.Replay(dir, func(journal.Entry) error { n++; return nil })
	require.NoError(t, err)
	assert.Less(t, n, 40)
}

func TestReset(t *testing.T) {
	d, a := newDiag(t, false)
	_, err := a.Alloc(64, buffer.Kernel)
	require.NoError(t, err)
	d.Reset()
	assert.Empty(t, d.Snapshot().Live)
}

func TestStatsIncludeQueues(t *testing.T) {
	d, _ := newDiag(t, false)
	q := d.group.NewQueue()
	require.NoError(t, q.Init(nil, "rx", func(*workq.Queue) {}))
	st := d.Stats()
	require.Len(t, st.Queues, 1)
	assert.Equal(t, "live", st.Queues[0].State)
	require.NoError(t, q.Deinit(context.Background()))
}

func TestReportJob(t *testing.T) {
	d, _ := newDiag(t, true)
	ctx, cancel := context.WithCancel(context.Background())
	done := d.StartReportJob(ctx, 5*time.Millisecond)

	require.Eventually(t, func() bool {
		seq, _, err := d.store.Latest()
		return err == nil && seq >= 2
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}
