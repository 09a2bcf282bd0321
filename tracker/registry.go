package tracker

import (
	"encoding/binary"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"netbuf/domain/buffer"
	"netbuf/infra/memory"

	"github.com/cespare/xxhash/v2"
	"github.com/golang/glog"
)

type shard struct {
	mu      sync.Mutex
	records map[buffer.ID]*Record
	// freed IDs in retirement order, for bounding KeepFreed
	freed *memory.Ring[buffer.ID]
}

// Registry is the instrumented Tracker. Each buffer identity hashes to one
// shard and every operation holds only that shard's lock, so operations on
// the same identity are totally ordered.
type Registry struct {
	cfg    Config
	shards []shard
	mask   uint64

	tracked     atomic.Uint64
	untracked   atomic.Uint64
	marks       atomic.Uint64
	doubleTrack atomic.Uint64
	doubleFree  atomic.Uint64
	unknownMark atomic.Uint64
	dropped     atomic.Uint64

	metrics *metrics
	events  *eventPump
}

func NewRegistry(cfg Config) *Registry {
	cfg = cfg.WithDefaults()
	r := &Registry{
		cfg:     cfg,
		shards:  make([]shard, cfg.Shards),
		mask:    uint64(cfg.Shards - 1),
		metrics: newMetrics(cfg.Registerer),
	}
	for i := range r.shards {
		r.shards[i].records = make(map[buffer.ID]*Record)
		r.shards[i].freed = memory.NewRing[buffer.ID](64)
	}
	if cfg.Sink != nil {
		r.events = newEventPump(cfg.Sink, cfg.EventBuffer, func() {
			r.dropped.Add(1)
			r.metrics.dropped.Inc()
		})
	}
	return r
}

func (r *Registry) shardFor(id buffer.ID) *shard {
	var k [8]byte
	binary.LittleEndian.PutUint64(k[:], uint64(id))
	return &r.shards[xxhash.Sum64(k[:])&r.mask]
}

func (r *Registry) Enabled() bool { return true }

func (r *Registry) Track(b *buffer.Buffer, site string) {
	if b == nil {
		return
	}
	s := r.shardFor(b.ID)
	s.mu.Lock()
	if rec, ok := s.records[b.ID]; ok && !rec.Freed {
		s.mu.Unlock()
		r.doubleTrack.Add(1)
		r.metrics.doubleTrack.Inc()
		glog.Warningf("[tracker] double track of buf#%d at %s (live since %s)", b.ID, site, rec.Site)
		r.emit(EventDoubleTrack, b, site)
		return
	}
	s.records[b.ID] = &Record{
		ID:        b.ID,
		Size:      b.Cap(),
		Site:      site,
		Shadow:    b.ShadowID(),
		Allocated: time.Now(),
	}
	s.mu.Unlock()

	r.tracked.Add(1)
	r.metrics.live.Inc()
	r.emit(EventTrack, b, site)
}

func (r *Registry) Untrack(b *buffer.Buffer, site string) bool {
	if b == nil {
		return false
	}
	s := r.shardFor(b.ID)
	s.mu.Lock()
	rec, ok := s.records[b.ID]
	if !ok || rec.Freed {
		s.mu.Unlock()
		r.doubleFree.Add(1)
		r.metrics.doubleFree.Inc()
		if ok {
			glog.Warningf("[tracker] double free of buf#%d at %s (already freed at %s, allocated at %s)",
				b.ID, site, rec.FreedAt, rec.Site)
		} else {
			glog.Warningf("[tracker] free of untracked buf#%d at %s", b.ID, site)
		}
		r.emit(EventDoubleFree, b, site)
		return false
	}
	if r.cfg.KeepFreed {
		rec.Freed = true
		rec.FreedAt = site
		s.freed.Push(b.ID)
		for s.freed.Len() > r.cfg.MaxFreed {
			old, _ := s.freed.Dequeue()
			if o, ok := s.records[old]; ok && o.Freed {
				delete(s.records, old)
			}
		}
	} else {
		delete(s.records, b.ID)
	}
	s.mu.Unlock()

	r.untracked.Add(1)
	r.metrics.live.Dec()
	r.emit(EventUntrack, b, site)
	return true
}

func (r *Registry) Mark(b *buffer.Buffer, site string) bool {
	if b == nil {
		return false
	}
	s := r.shardFor(b.ID)
	s.mu.Lock()
	rec, ok := s.records[b.ID]
	if !ok || rec.Freed {
		s.mu.Unlock()
		r.unknownMark.Add(1)
		r.metrics.unknownMark.Inc()
		glog.Warningf("[tracker] marker on unknown buf#%d at %s", b.ID, site)
		return false
	}
	rec.Marker = site
	rec.Marks++
	rec.Shadow = b.ShadowID()
	s.mu.Unlock()

	r.marks.Add(1)
	r.emit(EventMark, b, site)
	return true
}

// Lookup returns a copy of the record for id, live or kept-freed.
func (r *Registry) Lookup(id buffer.ID) (Record, bool) {
	s := r.shardFor(id)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

func (r *Registry) Report() Report {
	rep := Report{Time: time.Now(), Enabled: true}
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		for _, rec := range s.records {
			if !rec.Freed {
				rep.Live = append(rep.Live, *rec)
			}
		}
		s.mu.Unlock()
	}
	sort.Slice(rep.Live, func(i, j int) bool { return rep.Live[i].ID < rep.Live[j].ID })
	rep.Stats = r.Stats()
	rep.Stats.Live = len(rep.Live)
	return rep
}

func (r *Registry) Stats() Stats {
	st := Stats{
		Tracked:     r.tracked.Load(),
		Untracked:   r.untracked.Load(),
		Marks:       r.marks.Load(),
		DoubleTrack: r.doubleTrack.Load(),
		DoubleFree:  r.doubleFree.Load(),
		UnknownMark: r.unknownMark.Load(),
		Dropped:     r.dropped.Load(),
	}
	st.Live = int(st.Tracked - st.Untracked)
	return st
}

// Reset empties the registry and zeroes the counters.
func (r *Registry) Reset() {
	for i := range r.shards {
		s := &r.shards[i]
		s.mu.Lock()
		clear(s.records)
		s.freed = memory.NewRing[buffer.ID](64)
		s.mu.Unlock()
	}
	for _, c := range []*atomic.Uint64{
		&r.tracked, &r.untracked, &r.marks,
		&r.doubleTrack, &r.doubleFree, &r.unknownMark, &r.dropped,
	} {
		c.Store(0)
	}
	r.metrics.live.Set(0)
}

// Close stops event delivery to the sink, flushing what is queued.
func (r *Registry) Close() error {
	if r.events == nil {
		return nil
	}
	return r.events.close()
}

func (r *Registry) emit(kind EventKind, b *buffer.Buffer, site string) {
	if r.events == nil {
		return
	}
	r.events.send(Event{
		Kind: kind,
		ID:   b.ID,
		Size: b.Cap(),
		Site: site,
		Time: time.Now(),
	})
}
