package tracker

import (
	"netbuf/domain/buffer"

	"github.com/prometheus/client_golang/prometheus"
)

// Tracker is the interface shared by the instrumented registry and the
// disabled build. All methods are safe for concurrent use and never block
// on other subsystems.
type Tracker interface {
	// Track registers b as live, tagged with its allocation site.
	Track(b *buffer.Buffer, site string)
	// Untrack retires b. False means b was not live: the caller must not
	// free it.
	Untrack(b *buffer.Buffer, site string) bool
	// Mark records a checkpoint on a live buffer and refreshes its shadow
	// link. False means b is unknown.
	Mark(b *buffer.Buffer, site string) bool
	// Report returns the live records without changing them.
	Report() Report
	// Reset drops every record and counter.
	Reset()
	Stats() Stats
	Enabled() bool
	Close() error
}

// Config selects and tunes the tracker.
type Config struct {
	Enabled bool
	// Shards is rounded up to a power of two.
	Shards int
	// KeepFreed keeps freed records so a later double free can name the
	// site that freed first. At most MaxFreed per shard are kept.
	KeepFreed bool
	MaxFreed  int

	// Sink, if set, receives lifecycle events asynchronously. Events that do
	// not fit in EventBuffer are dropped and counted.
	Sink        Sink
	EventBuffer int

	Registerer prometheus.Registerer
}

func (c Config) WithDefaults() Config {
	if c.Shards <= 0 {
		c.Shards = 16
	}
	n := 1
	for n < c.Shards {
		n <<= 1
	}
	c.Shards = n
	if c.MaxFreed <= 0 {
		c.MaxFreed = 1024
	}
	if c.EventBuffer <= 0 {
		c.EventBuffer = 4096
	}
	return c
}

// New returns a Registry when cfg.Enabled, otherwise Nop.
func New(cfg Config) Tracker {
	if !cfg.Enabled {
		return Nop{}
	}
	return NewRegistry(cfg)
}

// Stats are the tracker's diagnostic counters.
type Stats struct {
	Live        int    `json:"live"`
	Tracked     uint64 `json:"tracked"`
	Untracked   uint64 `json:"untracked"`
	Marks       uint64 `json:"marks"`
	DoubleTrack uint64 `json:"double_track"`
	DoubleFree  uint64 `json:"double_free"`
	UnknownMark uint64 `json:"unknown_mark"`
	Dropped     uint64 `json:"dropped_events"`
}

// Nop is the disabled tracker. Untrack and Mark always succeed so release
// paths behave as if every buffer were tracked.
type Nop struct{}

func (Nop) Track(*buffer.Buffer, string)         {}
func (Nop) Untrack(*buffer.Buffer, string) bool { return true }
func (Nop) Mark(*buffer.Buffer, string) bool    { return true }
func (Nop) Report() Report                      { return Report{} }
func (Nop) Reset()                              {}
func (Nop) Stats() Stats                        { return Stats{} }
func (Nop) Enabled() bool                       { return false }
func (Nop) Close() error                        { return nil }

var _ Tracker = Nop{}
