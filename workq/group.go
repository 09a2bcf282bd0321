package workq

import (
	"context"
	"sync"

	"netbuf/alloc"
	"netbuf/infra/rcu"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// ErrNoResources is returned by Init when the group cannot take another
// live queue.
var ErrNoResources = errors.New("workq: no resources for another queue")

type Config struct {
	Name string
	// MaxQueues limits live queues; zero is unlimited.
	MaxQueues int
	// Allocator releases rejected and purged buffers. Defaults to an
	// untracked allocator.
	Allocator  *alloc.Allocator
	Registerer prometheus.Registerer
}

// Group is a set of queues sharing an allocator and one grace-period
// domain.
type Group struct {
	cfg   Config
	alloc *alloc.Allocator
	dom   rcu.Domain

	mu     sync.Mutex
	queues []*Queue
	live   int

	metrics *metrics
}

func NewGroup(cfg Config) *Group {
	if cfg.Name == "" {
		cfg.Name = "default"
	}
	if cfg.Allocator == nil {
		cfg.Allocator = alloc.New(alloc.Config{})
	}
	return &Group{
		cfg:     cfg,
		alloc:   cfg.Allocator,
		metrics: newMetrics(cfg.Registerer),
	}
}

func (g *Group) Name() string                { return g.cfg.Name }
func (g *Group) Allocator() *alloc.Allocator { return g.alloc }
func (g *Group) Domain() *rcu.Domain         { return &g.dom }

// NewQueue returns an uninitialized queue bound to g.
func (g *Group) NewQueue() *Queue {
	q := &Queue{group: g}
	g.mu.Lock()
	g.queues = append(g.queues, q)
	g.mu.Unlock()
	return q
}

// Queues returns every queue created through g, in creation order.
func (g *Group) Queues() []*Queue {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]*Queue(nil), g.queues...)
}

// Live returns the number of queues holding a slot.
func (g *Group) Live() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.live
}

func (g *Group) acquire(name string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cfg.MaxQueues > 0 && g.live >= g.cfg.MaxQueues {
		return errors.Wrapf(ErrNoResources, "group %s: %d/%d queues live, cannot add %s",
			g.cfg.Name, g.live, g.cfg.MaxQueues, name)
	}
	g.live++
	return nil
}

func (g *Group) releaseSlot() {
	g.mu.Lock()
	g.live--
	g.mu.Unlock()
}

// DeinitAll tears down every live queue concurrently and returns the first
// error.
func (g *Group) DeinitAll(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	for _, q := range g.Queues() {
		if q.State() != Live {
			continue
		}
		q := q
		eg.Go(func() error {
			return q.Deinit(ctx)
		})
	}
	if err := eg.Wait(); err != nil {
		glog.Errorf("[workq] group %s teardown: %v", g.cfg.Name, err)
		return err
	}
	return nil
}
