package journal

import (
	"bufio"
	"io"
	"os"
	"sync"
	"time"

	"netbuf/infra/sequence"
	"netbuf/tracker"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

type Config struct {
	Dir string
	// SegmentSize is the size after which a new segment is started.
	SegmentSize int64
	// SyncEvery fsyncs after that many appends; zero leaves syncing to
	// Sync and Close.
	SyncEvery int
}

func (c Config) WithDefaults() Config {
	if c.SegmentSize <= 0 {
		c.SegmentSize = 4 << 20
	}
	return c
}

// Journal is an append-only log of buffer lifecycle events. It implements
// tracker.Sink.
type Journal struct {
	cfg Config
	seq *sequence.Sequencer

	mu       sync.Mutex
	current  *segment
	segIndex int
	unsynced int
	closed   bool
}

var _ tracker.Sink = (*Journal)(nil)

// Open creates the directory if needed and continues after the last
// record already on disk.
func Open(cfg Config) (*Journal, error) {
	cfg = cfg.WithDefaults()
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, errors.Wrap(err, "journal: mkdir")
	}
	files, err := segments(cfg.Dir)
	if err != nil {
		return nil, err
	}

	var last uint64
	index := 0
	for _, path := range files {
		max, err := maxSeqInSegment(path)
		if err != nil {
			return nil, errors.Wrapf(err, "journal: scan %s", path)
		}
		if max > last {
			last = max
		}
		if i, err := segmentIndex(path); err == nil && i >= index {
			// never append after a possibly torn tail
			index = i + 1
		}
	}

	seg, err := openSegment(cfg.Dir, index)
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("[journal] open %s segment %d after seq %d", cfg.Dir, index, last)
	return &Journal{
		cfg:      cfg,
		seq:      sequence.New(last),
		current:  seg,
		segIndex: index,
	}, nil
}

// Write appends ev. It is the tracker.Sink entry point.
func (j *Journal) Write(ev tracker.Event) error {
	_, err := j.Append(ev)
	return err
}

// Append writes ev and returns its sequence number.
func (j *Journal) Append(ev tracker.Event) (uint64, error) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return 0, errors.New("journal: closed")
	}

	seq := j.seq.Next()
	if err := j.current.append(encode(seq, ev)); err != nil {
		return 0, errors.Wrapf(err, "journal: append seq %d", seq)
	}
	j.unsynced++
	if j.cfg.SyncEvery > 0 && j.unsynced >= j.cfg.SyncEvery {
		if err := j.syncLocked(); err != nil {
			return seq, err
		}
	}
	if j.current.offset >= j.cfg.SegmentSize {
		return seq, j.rotate()
	}
	return seq, nil
}

// LastSeq returns the sequence of the last appended record.
func (j *Journal) LastSeq() uint64 {
	return j.seq.Current()
}

func (j *Journal) rotate() error {
	if err := j.current.close(); err != nil {
		return errors.Wrap(err, "journal: close segment")
	}
	j.segIndex++
	seg, err := openSegment(j.cfg.Dir, j.segIndex)
	if err != nil {
		return err
	}
	j.current = seg
	j.unsynced = 0
	return nil
}

func (j *Journal) Sync() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	return j.syncLocked()
}

func (j *Journal) syncLocked() error {
	if err := j.current.sync(); err != nil {
		return errors.Wrap(err, "journal: sync")
	}
	j.unsynced = 0
	return nil
}

func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return nil
	}
	j.closed = true
	if err := j.current.sync(); err != nil {
		_ = j.current.close()
		return errors.Wrap(err, "journal: sync on close")
	}
	return j.current.close()
}

// TruncateBefore removes closed segments whose records all have sequence
// numbers at or below seq.
func (j *Journal) TruncateBefore(seq uint64) (int, error) {
	j.mu.Lock()
	current := segmentPath(j.cfg.Dir, j.segIndex)
	j.mu.Unlock()

	files, err := segments(j.cfg.Dir)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, path := range files {
		if path == current {
			continue
		}
		max, err := maxSeqInSegment(path)
		if err != nil {
			glog.Warningf("[journal] skip truncate of %s: %v", path, err)
			continue
		}
		if max <= seq {
			if err := os.Remove(path); err != nil {
				return removed, errors.Wrap(err, "journal: remove segment")
			}
			removed++
		}
	}
	return removed, nil
}

// Replay calls fn for every record in dir in sequence order and returns
// the last sequence seen. A torn record at the end of a segment ends that
// segment.
func Replay(dir string, fn func(Entry) error) (uint64, error) {
	files, err := segments(dir)
	if err != nil {
		return 0, err
	}
	var last uint64
	for _, path := range files {
		if err := replaySegment(path, &last, fn); err != nil {
			return last, err
		}
	}
	return last, nil
}

func replaySegment(path string, last *uint64, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.Wrap(err, "journal: open for replay")
	}
	defer f.Close()

	r := bufio.NewReader(f)
	for {
		e, err := readEntry(r)
		if err == io.EOF {
			return nil
		}
		if err == io.ErrUnexpectedEOF {
			glog.Warningf("[journal] torn record at end of %s after seq %d", path, *last)
			return nil
		}
		if err != nil {
			return errors.Wrapf(err, "journal: replay %s", path)
		}
		if e.Seq <= *last {
			return errors.Newf("journal: non-monotonic seq %d after %d in %s", e.Seq, *last, path)
		}
		*last = e.Seq
		if err := fn(e); err != nil {
			return err
		}
	}
}
