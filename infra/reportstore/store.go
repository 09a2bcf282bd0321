// Package reportstore persists leak reports in pebble so they survive a
// restart and can be published later.
package reportstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"netbuf/infra/sequence"
	"netbuf/tracker"

	"github.com/cockroachdb/errors"
	"github.com/cockroachdb/pebble"
	"github.com/klauspost/compress/zstd"
)

const (
	prefix = "report/"
	upper  = "report/~"

	cursorPrefix = "cursor/"
)

var ErrNotFound = errors.New("reportstore: report not found")

type Store struct {
	db  *pebble.DB
	seq *sequence.Sequencer

	mu  sync.Mutex
	enc *zstd.Encoder
	dec *zstd.Decoder
}

// Open opens or creates the store in dir. Sequence numbers continue after
// the newest stored report.
func Open(dir string) (*Store, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "reportstore: open %s", dir)
	}
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "reportstore: zstd encoder")
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "reportstore: zstd decoder")
	}
	s := &Store{db: db, enc: enc, dec: dec, seq: sequence.New(0)}

	last, _, err := s.Latest()
	if err != nil && !errors.Is(err, ErrNotFound) {
		_ = s.Close()
		return nil, err
	}
	s.seq.Advance(last)
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enc != nil {
		_ = s.enc.Close()
		s.dec.Close()
		s.enc, s.dec = nil, nil
	}
	return s.db.Close()
}

// Append stores r under the next sequence number and returns it.
func (s *Store) Append(r tracker.Report) (uint64, error) {
	seq := s.seq.Next()
	return seq, s.Put(seq, r)
}

// Put stores r under seq, replacing any report already there.
func (s *Store) Put(seq uint64, r tracker.Report) error {
	raw, err := json.Marshal(r)
	if err != nil {
		return errors.Wrap(err, "reportstore: marshal")
	}
	s.mu.Lock()
	val := s.enc.EncodeAll(raw, nil)
	s.mu.Unlock()

	if err := s.db.Set(keyFor(seq), val, pebble.Sync); err != nil {
		return errors.Wrapf(err, "reportstore: put %d", seq)
	}
	s.seq.Advance(seq)
	return nil
}

func (s *Store) Get(seq uint64) (tracker.Report, error) {
	val, closer, err := s.db.Get(keyFor(seq))
	if errors.Is(err, pebble.ErrNotFound) {
		return tracker.Report{}, errors.Wrapf(ErrNotFound, "seq %d", seq)
	}
	if err != nil {
		return tracker.Report{}, errors.Wrapf(err, "reportstore: get %d", seq)
	}
	defer closer.Close()
	return s.decode(val)
}

// Latest returns the newest report and its sequence.
func (s *Store) Latest() (uint64, tracker.Report, error) {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(upper),
	})
	if err != nil {
		return 0, tracker.Report{}, err
	}
	defer iter.Close()

	if !iter.Last() {
		if err := iter.Error(); err != nil {
			return 0, tracker.Report{}, err
		}
		return 0, tracker.Report{}, ErrNotFound
	}
	seq, err := parseKey(iter.Key())
	if err != nil {
		return 0, tracker.Report{}, err
	}
	r, err := s.decode(iter.Value())
	return seq, r, err
}

// Scan calls fn for each report with a sequence greater than after, in
// sequence order. Returning an error from fn stops the scan.
func (s *Store) Scan(after uint64, fn func(seq uint64, r tracker.Report) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: keyFor(after + 1),
		UpperBound: []byte(upper),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		seq, err := parseKey(iter.Key())
		if err != nil {
			return err
		}
		r, err := s.decode(iter.Value())
		if err != nil {
			return errors.Wrapf(err, "reportstore: seq %d", seq)
		}
		if err := fn(seq, r); err != nil {
			return err
		}
	}
	return iter.Error()
}

// DeleteBefore removes every report with a sequence below seq.
func (s *Store) DeleteBefore(seq uint64) error {
	return s.db.DeleteRange([]byte(prefix), keyFor(seq), pebble.Sync)
}

func (s *Store) decode(val []byte) (tracker.Report, error) {
	s.mu.Lock()
	raw, err := s.dec.DecodeAll(val, nil)
	s.mu.Unlock()
	if err != nil {
		return tracker.Report{}, errors.Wrap(err, "reportstore: decompress")
	}
	var r tracker.Report
	if err := json.Unmarshal(raw, &r); err != nil {
		return tracker.Report{}, errors.Wrap(err, "reportstore: unmarshal")
	}
	return r, nil
}

func keyFor(seq uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", prefix, seq))
}

func parseKey(b []byte) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(string(b), prefix), 10, 64)
}

// Cursor returns the last sequence a named consumer recorded with
// SetCursor, or zero.
func (s *Store) Cursor(name string) (uint64, error) {
	val, closer, err := s.db.Get([]byte(cursorPrefix + name))
	if errors.Is(err, pebble.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "reportstore: cursor %s", name)
	}
	defer closer.Close()
	return strconv.ParseUint(string(val), 10, 64)
}

func (s *Store) SetCursor(name string, seq uint64) error {
	return s.db.Set([]byte(cursorPrefix+name), []byte(strconv.FormatUint(seq, 10)), pebble.Sync)
}
