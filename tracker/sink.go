package tracker

import (
	"sync"
	"time"

	"netbuf/domain/buffer"

	"github.com/golang/glog"
)

// EventKind is the lifecycle transition an Event records.
type EventKind uint8

const (
	EventTrack EventKind = iota + 1
	EventUntrack
	EventMark
	EventDoubleFree
	EventDoubleTrack
)

func (k EventKind) String() string {
	switch k {
	case EventTrack:
		return "track"
	case EventUntrack:
		return "untrack"
	case EventMark:
		return "mark"
	case EventDoubleFree:
		return "double-free"
	case EventDoubleTrack:
		return "double-track"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind
	ID   buffer.ID
	Size int
	Site string
	Time time.Time
}

// Sink consumes lifecycle events off the tracking path. Write is called
// from a single goroutine.
type Sink interface {
	Write(Event) error
}

// eventPump decouples Sink latency from tracker callers: send never blocks.
type eventPump struct {
	ch     chan Event
	onDrop func()
	done   chan struct{}
	once   sync.Once
	mu     sync.RWMutex
	closed bool
}

func newEventPump(sink Sink, size int, onDrop func()) *eventPump {
	p := &eventPump{
		ch:     make(chan Event, size),
		onDrop: onDrop,
		done:   make(chan struct{}),
	}
	go func() {
		defer close(p.done)
		for ev := range p.ch {
			if err := sink.Write(ev); err != nil {
				glog.Errorf("[tracker] sink write %s buf#%d: %v", ev.Kind, ev.ID, err)
			}
		}
	}()
	return p
}

func (p *eventPump) send(ev Event) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		p.onDrop()
		return
	}
	select {
	case p.ch <- ev:
	default:
		p.onDrop()
	}
}

func (p *eventPump) close() error {
	p.once.Do(func() {
		p.mu.Lock()
		p.closed = true
		close(p.ch)
		p.mu.Unlock()
	})
	<-p.done
	return nil
}
