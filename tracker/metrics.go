package tracker

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	live        prometheus.Gauge
	doubleTrack prometheus.Counter
	doubleFree  prometheus.Counter
	unknownMark prometheus.Counter
	dropped     prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netbuf", Subsystem: "tracker", Name: "live_buffers",
			Help: "Tracked buffers not yet released.",
		}),
		doubleTrack: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netbuf", Subsystem: "tracker", Name: "double_track_total",
			Help: "Track calls on an identity that was already live.",
		}),
		doubleFree: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netbuf", Subsystem: "tracker", Name: "double_free_total",
			Help: "Untrack calls on an identity that was freed or never tracked.",
		}),
		unknownMark: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netbuf", Subsystem: "tracker", Name: "unknown_mark_total",
			Help: "Checkpoints recorded against buffers that are not live.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netbuf", Subsystem: "tracker", Name: "dropped_events_total",
			Help: "Lifecycle events dropped because the sink fell behind.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.live, m.doubleTrack, m.doubleFree, m.unknownMark, m.dropped)
	}
	return m
}
