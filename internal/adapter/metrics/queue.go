package metrics

import "github.com/prometheus/client_golang/prometheus"

// QueueMetrics holds Prometheus metrics for bounded background work queues.
type QueueMetrics struct {
	Enqueued  *prometheus.CounterVec
	Dropped   *prometheus.CounterVec
	Processed *prometheus.CounterVec
	Failures  *prometheus.CounterVec
	Depth     *prometheus.GaugeVec
}

// NewQueueMetrics creates and registers work queue metrics on the given registry.
func NewQueueMetrics(reg prometheus.Registerer) *QueueMetrics {
	m := &QueueMetrics{
		Enqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "enqueued_total",
			Help:      "Total number of items accepted by the queue.",
		}, []string{"queue"}),
		Dropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "dropped_total",
			Help:      "Total number of items dropped because the queue was full.",
		}, []string{"queue"}),
		Processed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "processed_total",
			Help:      "Total number of items handed to the queue's handler.",
		}, []string{"queue"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "handler_failures_total",
			Help:      "Total number of handler calls that returned an error.",
		}, []string{"queue"}),
		Depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Current number of buffered items.",
		}, []string{"queue"}),
	}

	reg.MustRegister(m.Enqueued, m.Dropped, m.Processed, m.Failures, m.Depth)
	return m
}

// QueueObserver records events for one named queue.
type QueueObserver struct {
	enqueued  prometheus.Counter
	dropped   prometheus.Counter
	processed prometheus.Counter
	failures  prometheus.Counter
	depth     prometheus.Gauge
}

// For binds the queue metrics to a queue name.
func (m *QueueMetrics) For(queue string) *QueueObserver {
	return &QueueObserver{
		enqueued:  m.Enqueued.WithLabelValues(queue),
		dropped:   m.Dropped.WithLabelValues(queue),
		processed: m.Processed.WithLabelValues(queue),
		failures:  m.Failures.WithLabelValues(queue),
		depth:     m.Depth.WithLabelValues(queue),
	}
}

func (o *QueueObserver) Enqueued() { o.enqueued.Inc() }
func (o *QueueObserver) Dropped() { o.dropped.Inc() }
func (o *QueueObserver) Processed(n int) { o.processed.Add(float64(n)) }
func (o *QueueObserver) Failed() { o.failures.Inc() }
func (o *QueueObserver) Depth(n int) { o.depth.Set(float64(n)) }
