package service

import (
	"context"
	"time"

	"netbuf/alloc"
	"netbuf/infra/journal"
	"netbuf/infra/reportstore"
	"netbuf/tracker"
	"netbuf/workq"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
)

var ErrNoStore = errors.New("service: no report store configured")

type Options struct {
	Tracker   tracker.Tracker
	Allocator *alloc.Allocator
	Group     *workq.Group
	// Store and Journal are optional.
	Store   *reportstore.Store
	Journal *journal.Journal
}

// Diagnostics is the read side of the buffer layer: leak reports, counters
// and their persistence.
type Diagnostics struct {
	tracker tracker.Tracker
	alloc   *alloc.Allocator
	group   *workq.Group
	store   *reportstore.Store
	journal *journal.Journal
}

func NewDiagnostics(o Options) *Diagnostics {
	t := o.Tracker
	if t == nil && o.Allocator != nil {
		t = o.Allocator.Tracker()
	}
	if t == nil {
		t = tracker.Nop{}
	}
	return &Diagnostics{
		tracker: t,
		alloc:   o.Allocator,
		group:   o.Group,
		store:   o.Store,
		journal: o.Journal,
	}
}

// Snapshot returns the current leak report.
func (d *Diagnostics) Snapshot() tracker.Report {
	return d.tracker.Report()
}

// Persist stores the current report and returns its sequence. Journal
// segments fully covered by the report are dropped.
func (d *Diagnostics) Persist() (uint64, error) {
	if d.store == nil {
		return 0, ErrNoStore
	}
	var upTo uint64
	if d.journal != nil {
		if err := d.journal.Sync(); err != nil {
			glog.Warningf("[diag] journal sync: %v", err)
		}
		upTo = d.journal.LastSeq()
	}
	r := d.tracker.Report()
	seq, err := d.store.Append(r)
	if err != nil {
		return 0, err
	}
	if d.journal != nil && upTo > 0 {
		if n, err := d.journal.TruncateBefore(upTo); err != nil {
			glog.Warningf("[diag] journal truncate before %d: %v", upTo, err)
		} else if n > 0 {
			glog.V(1).Infof("[diag] dropped %d journal segments up to seq %d", n, upTo)
		}
	}
	glog.V(1).Infof("[diag] report %d persisted, %d live buffers", seq, len(r.Live))
	return seq, nil
}

// Stats collects the counters of every component.
type Stats struct {
	Tracker tracker.Stats `json:"tracker"`
	Alloc   alloc.Stats   `json:"alloc"`
	Queues  []workq.Stats `json:"queues,omitempty"`
	Time    time.Time     `json:"time"`
}

func (d *Diagnostics) Stats() Stats {
	st := Stats{
		Tracker: d.tracker.Stats(),
		Time:    time.Now(),
	}
	if d.alloc != nil {
		st.Alloc = d.alloc.Stats()
	}
	if d.group != nil {
		for _, q := range d.group.Queues() {
			st.Queues = append(st.Queues, q.Stats())
		}
	}
	return st
}

// Reset clears the tracker's records and counters.
func (d *Diagnostics) Reset() {
	glog.Warningf("[diag] tracker reset, %d live records dropped", d.tracker.Stats().Live)
	d.tracker.Reset()
}

// StartReportJob persists a report every interval until ctx ends. The
// returned channel is closed when the job has stopped.
func (d *Diagnostics) StartReportJob(ctx context.Context, interval time.Duration) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				if _, err := d.Persist(); err != nil {
					glog.Errorf("[diag] periodic report: %v", err)
				}
			}
		}
	}()
	return done
}
