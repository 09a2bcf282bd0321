package reportstore

import (
	"testing"
	"time"

	"netbuf/tracker"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func report(live int) tracker.Report {
	r := tracker.Report{Time: time.Unix(1700000000, 0).UTC(), Enabled: true}
	for i := 0; i < live; i++ {
		r.Live = append(r.Live, tracker.Record{ID: 1, Size: 64, Site: "rx.go:12", Allocated: r.Time})
	}
	r.Stats.Live = live
	return r
}

func TestPutGet(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	require.NoError(t, s.Put(7, report(2)))
	got, err := s.Get(7)
	require.NoError(t, err)
	assert.Len(t, got.Live, 2)
	assert.Equal(t, "rx.go:12", got.Live[0].Site)
	assert.True(t, got.Time.Equal(report(0).Time))

	_, err = s.Get(8)
	assert.True(t, errors.Is(err, ErrNotFound))
}

func TestLatestAndReopen(t *testing.T) {
	dir := t.TempDir()
	s, err := Open(dir)
	require.NoError(t, err)

	_, _, err = s.Latest()
	assert.True(t, errors.Is(err, ErrNotFound))

	for i := 1; i <= 3; i++ {
		seq, err := s.Append(report(i))
		require.NoError(t, err)
		assert.Equal(t, uint64(i), seq)
	}
	seq, r, err := s.Latest()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), seq)
	assert.Equal(t, 3, r.Stats.Live)
	require.NoError(t, s.Close())

	s, err = Open(dir)
	require.NoError(t, err)
	defer s.Close()
	seq, err = s.Append(report(0))
	require.NoError(t, err)
	assert.Equal(t, uint64(4), seq)
}

func TestScanAfterAndDeleteBefore(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	for i := 1; i <= 12; i++ {
		_, err := s.Append(report(i))
		require.NoError(t, err)
	}

	var seqs []uint64
	require.NoError(t, s.Scan(9, func(seq uint64, r tracker.Report) error {
		seqs = append(seqs, seq)
		assert.Equal(t, int(seq), r.Stats.Live)
		return nil
	}))
	assert.Equal(t, []uint64{10, 11, 12}, seqs)

	require.NoError(t, s.DeleteBefore(11))
	seqs = nil
	require.NoError(t, s.Scan(0, func(seq uint64, _ tracker.Report) error {
		seqs = append(seqs, seq)
		return nil
	}))
	assert.Equal(t, []uint64{11, 12}, seqs)

	stop := errors.New("stop")
	err = s.Scan(0, func(uint64, tracker.Report) error { return stop })
	assert.True(t, errors.Is(err, stop))
}

func TestCursorIsOutsideReports(t *testing.T) {
	s, err := Open(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	c, err := s.Cursor("kafka")
	require.NoError(t, err)
	assert.Zero(t, c)

	require.NoError(t, s.SetCursor("kafka", 41))
	c, err = s.Cursor("kafka")
	require.NoError(t, err)
	assert.Equal(t, uint64(41), c)

	n := 0
	require.NoError(t, s.Scan(0, func(uint64, tracker.Report) error { n++; return nil }))
	assert.Zero(t, n)
}
