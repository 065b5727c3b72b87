// Package metrics provides the Prometheus instrumentation a worker exposes
// when given WithMetrics, grounded on the teacher repo's cmd/worker/main.go
// prometheus.CounterVec/HistogramVec/GaugeVec set, generalized from
// package-level vars tied to one worker process into a struct any number
// of Workers in an App can share or keep separate registries for.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics bundles the counters, histograms, and gauges LTQ instruments
// task processing with.
type Metrics struct {
	Processed    *prometheus.CounterVec
	Duration     *prometheus.HistogramVec
	QueueDepth   *prometheus.GaugeVec
	QueueLatency *prometheus.HistogramVec
}

// New registers a fresh Metrics set against reg. Pass
// prometheus.NewRegistry() for an isolated registry (e.g. in tests), or
// prometheus.DefaultRegisterer to expose via promhttp.Handler().
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ltq_processed_total",
			Help: "Total number of processed messages by outcome and task.",
		}, []string{"outcome", "task_name"}),

		Duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ltq_task_duration_seconds",
			Help:    "Duration of task body execution.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_name"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ltq_queue_depth",
			Help: "Number of visible messages per queue.",
		}, []string{"queue"}),

		QueueLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ltq_queue_latency_seconds",
			Help:    "Time a message spent in queue before processing started.",
			Buckets: prometheus.DefBuckets,
		}, []string{"task_name"}),
	}

	reg.MustRegister(m.Processed, m.Duration, m.QueueDepth, m.QueueLatency)
	return m
}
