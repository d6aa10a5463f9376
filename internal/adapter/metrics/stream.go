package metrics

import "github.com/prometheus/client_golang/prometheus"

// StreamMetrics holds Prometheus metrics for streaming connections and fan-out.
type StreamMetrics struct {
	ActiveConnections   *prometheus.GaugeVec
	ConnectionsRejected *prometheus.CounterVec
	MessagesDelivered   prometheus.Counter
	DeliveryFailures    *prometheus.CounterVec
	SlowClientsEvicted  prometheus.Counter
	ProtocolErrors      *prometheus.CounterVec
	WriteDuration       prometheus.Histogram
}

// NewStreamMetrics creates and registers stream metrics on the given registry.
func NewStreamMetrics(reg prometheus.Registerer) *StreamMetrics {
	m := &StreamMetrics{
		ActiveConnections: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "active_connections",
			Help:      "Number of open streaming connections, by authentication state.",
		}, []string{"auth"}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "connections_rejected_total",
			Help:      "Total number of handshakes rejected before upgrade, by reason.",
		}, []string{"reason"}),
		MessagesDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "messages_delivered_total",
			Help:      "Total number of messages enqueued to connections.",
		}),
		DeliveryFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "delivery_failures_total",
			Help:      "Total number of per-connection delivery failures, by reason.",
		}, []string{"reason"}),
		SlowClientsEvicted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "slow_clients_evicted_total",
			Help:      "Total number of connections closed because their send queue overflowed.",
		}),
		ProtocolErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "protocol_errors_total",
			Help:      "Total number of client frames answered with an error, by kind.",
		}, []string{"kind"}),
		WriteDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "stream",
			Name:      "write_duration_seconds",
			Help:      "Duration of a single frame write to the socket.",
			Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
		}),
	}

	reg.MustRegister(
		m.ActiveConnections,
		m.ConnectionsRejected,
		m.MessagesDelivered,
		m.DeliveryFailures,
		m.SlowClientsEvicted,
		m.ProtocolErrors,
		m.WriteDuration,
	)
	return m
}
