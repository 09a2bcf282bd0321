package alloc

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	live     prometheus.Gauge
	bytes    prometheus.Gauge
	failures prometheus.Counter
	leaked   prometheus.Counter
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		live: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netbuf", Subsystem: "alloc", Name: "live_buffers",
			Help: "Buffers allocated and not yet released.",
		}),
		bytes: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "netbuf", Subsystem: "alloc", Name: "live_bytes",
			Help: "Storage bytes held by live buffers.",
		}),
		failures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netbuf", Subsystem: "alloc", Name: "failures_total",
			Help: "Allocations refused for lack of memory.",
		}),
		leaked: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "netbuf", Subsystem: "alloc", Name: "refused_releases_total",
			Help: "Releases refused and leaked to avoid a double free.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.live, m.bytes, m.failures, m.leaked)
	}
	return m
}
