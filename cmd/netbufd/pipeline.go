package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"netbuf/alloc"
	"netbuf/codec"
	"netbuf/config"
	"netbuf/domain/buffer"
	"netbuf/workq"

	"github.com/cockroachdb/errors"
	"github.com/golang/glog"
	"github.com/mdlayher/netlink"
	"golang.org/x/sync/errgroup"
)

// Station attributes carried after the Ethernet header of every loopback
// frame.
const (
	attrSeq uint16 = iota + 1
	attrRSSI
	attrRate
	attrBSSID
	attrPad
)

const etherTypeIPv4 = 0x0800

type device struct {
	name string
	mac  [codec.AddrLen]byte

	rxFrames atomic.Uint64
	rxBytes  atomic.Uint64
	dropped  atomic.Uint64
	lastSeq  atomic.Uint64
	lastRSSI atomic.Int32
}

// pipeline is a loopback RX path: producers play the firmware and hand
// vendor-framed buffers to each device's queue, the queue worker converts
// them to Ethernet and consumes them.
type pipeline struct {
	cfg     config.Pipeline
	alloc   *alloc.Allocator
	devices []*device
	queues  []*workq.Queue
}

func newPipeline(cfg config.Pipeline, g *workq.Group) (*pipeline, error) {
	p := &pipeline{cfg: cfg, alloc: g.Allocator()}
	for i := 0; i < cfg.Devices; i++ {
		dev := &device{name: fmt.Sprintf("wlan%d", i)}
		dev.mac = [codec.AddrLen]byte{0x02, 0x00, 0x00, 0x00, 0x00, byte(i)}
		q := g.NewQueue()
		if err := q.Init(dev, dev.name+"-rx", p.rxWork(dev)); err != nil {
			return p, errors.Wrapf(err, "init %s", dev.name)
		}
		p.devices = append(p.devices, dev)
		p.queues = append(p.queues, q)
	}
	return p, nil
}

func (p *pipeline) rxWork(dev *device) workq.Func {
	return func(q *workq.Queue) {
		batch := p.alloc.NewList()
		for b := q.Dequeue(); b != nil; b = q.Dequeue() {
			batch.QueueTail(b)
		}
		for b := batch.Dequeue(); b != nil; b = batch.Dequeue() {
			if err := p.deliver(dev, b); err != nil {
				dev.dropped.Add(1)
				glog.V(2).Infof("[rx] %s drop %s: %v", dev.name, b, err)
			}
			p.alloc.Release(b)
		}
	}
}

func (p *pipeline) deliver(dev *device, b *buffer.Buffer) error {
	if err := codec.ToStandardHeader(b); err != nil {
		return err
	}
	frame := b.Bytes()
	if !codec.AddrEqual(frame[0:6], dev.mac[:]) && !codec.IsBroadcast(frame[0:6]) {
		return errors.Newf("not for %s", dev.name)
	}
	attrs, err := codec.ParseAttributes(frame[codec.EtherHLen:])
	if err != nil {
		return err
	}
	var bssid [codec.AddrLen]byte
	for _, a := range attrs {
		switch a.Type {
		case attrSeq:
			seq, err := codec.Decode[uint64](a)
			if err != nil {
				return err
			}
			dev.lastSeq.Store(seq)
		case attrRSSI:
			rssi, err := codec.Decode[int8](a)
			if err != nil {
				return err
			}
			dev.lastRSSI.Store(int32(rssi))
		case attrRate:
			if _, err := codec.Decode[uint32](a); err != nil {
				return err
			}
		case attrBSSID:
			if err := codec.DecodeBytes(a, codec.AddrLen, bssid[:]); err != nil {
				return err
			}
		}
	}
	dev.rxFrames.Add(1)
	dev.rxBytes.Add(uint64(b.Len()))
	return nil
}

// frame builds one vendor-framed buffer as the firmware would hand it up.
func (p *pipeline) frame(dev *device, seq uint64) (*buffer.Buffer, error) {
	ae := netlink.NewAttributeEncoder()
	ae.Uint64(attrSeq, seq)
	ae.Int8(attrRSSI, int8(-40-int(seq%50)))
	ae.Uint32(attrRate, 54000)
	ae.Bytes(attrBSSID, dev.mac[:])
	attrs, err := ae.Encode()
	if err != nil {
		return nil, err
	}
	if pad := p.cfg.FrameSize - codec.EtherHLen - len(attrs) - 4; pad > 0 {
		ae.Bytes(attrPad, make([]byte, pad))
		if attrs, err = ae.Encode(); err != nil {
			return nil, err
		}
	}

	b, err := p.alloc.DevAlloc(codec.EtherHLen + len(attrs))
	if err != nil {
		return nil, err
	}
	eth, _ := b.Put(codec.EtherHLen)
	codec.CopyAddr(eth[0:6], dev.mac[:])
	codec.CopyAddr(eth[6:12], []byte{0x02, 0xaa, 0xbb, 0xcc, 0xdd, byte(seq)})
	eth[12], eth[13] = etherTypeIPv4>>8, etherTypeIPv4&0xff
	if err := b.Append(attrs); err != nil {
		p.alloc.Release(b)
		return nil, err
	}
	if err := codec.ToVendorHeader(b); err != nil {
		p.alloc.Release(b)
		return nil, err
	}
	return b, nil
}

// run feeds every device until ctx ends.
func (p *pipeline) run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	var seq atomic.Uint64
	for i := 0; i < p.cfg.Producers; i++ {
		i := i
		eg.Go(func() error {
			var tick <-chan time.Time
			if p.cfg.Interval > 0 {
				t := time.NewTicker(p.cfg.Interval)
				defer t.Stop()
				tick = t.C
			}
			for n := i; ; n++ {
				select {
				case <-ctx.Done():
					return nil
				default:
				}
				if tick != nil {
					select {
					case <-ctx.Done():
						return nil
					case <-tick:
					}
				}
				dev := p.devices[n%len(p.devices)]
				b, err := p.frame(dev, seq.Add(1))
				if errors.Is(err, alloc.ErrNoMemory) {
					time.Sleep(time.Millisecond)
					continue
				}
				if err != nil {
					return err
				}
				p.queues[n%len(p.queues)].Enqueue(b)
			}
		})
	}
	return eg.Wait()
}

func (p *pipeline) summary() {
	for i, dev := range p.devices {
		st := p.queues[i].Stats()
		glog.Infof("[rx] %s frames=%d bytes=%d dropped=%d rssi=%d enqueued=%d rejected=%d purged=%d",
			dev.name, dev.rxFrames.Load(), dev.rxBytes.Load(), dev.dropped.Load(), dev.lastRSSI.Load(),
			st.Enqueued, st.Rejected, st.Purged)
	}
}
