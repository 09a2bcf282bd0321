package workq

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	enqueued  *prometheus.CounterVec
	rejected  *prometheus.CounterVec
	processed *prometheus.CounterVec
	purged    *prometheus.CounterVec
	panics    *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	labels := []string{"queue"}
	m := &metrics{
		enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netbuf", Subsystem: "workq", Name: "enqueued_total",
			Help: "Buffers appended to a live queue.",
		}, labels),
		rejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netbuf", Subsystem: "workq", Name: "rejected_total",
			Help: "Buffers released because their queue was torn down.",
		}, labels),
		processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netbuf", Subsystem: "workq", Name: "dequeued_total",
			Help: "Buffers handed to the worker.",
		}, labels),
		purged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netbuf", Subsystem: "workq", Name: "purged_total",
			Help: "Buffers released from the queue during teardown.",
		}, labels),
		panics: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "netbuf", Subsystem: "workq", Name: "worker_panics_total",
			Help: "Worker passes that panicked.",
		}, labels),
	}
	if reg != nil {
		reg.MustRegister(m.enqueued, m.rejected, m.processed, m.purged, m.panics)
	}
	return m
}
