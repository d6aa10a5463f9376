package metrics

import "github.com/prometheus/client_golang/prometheus"

// PollerMetrics holds Prometheus metrics for the change-detection pollers.
type PollerMetrics struct {
	Ticks           *prometheus.CounterVec
	FetchDuration   *prometheus.HistogramVec
	ItemsEmitted    *prometheus.CounterVec
	AlertsTriggered prometheus.Counter
}

// NewPollerMetrics creates and registers poller metrics on the given registry.
func NewPollerMetrics(reg prometheus.Registerer) *PollerMetrics {
	m := &PollerMetrics{
		Ticks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "ticks_total",
			Help:      "Total number of poll ticks, by poller and result.",
		}, []string{"poller", "result"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "fetch_duration_seconds",
			Help:      "Duration of the data source fetch per tick.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"poller"}),
		ItemsEmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "items_emitted_total",
			Help:      "Total number of changed instruments or new articles emitted.",
		}, []string{"poller"}),
		AlertsTriggered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "poller",
			Name:      "price_alerts_triggered_total",
			Help:      "Total number of user price alerts claimed and delivered.",
		}),
	}

	reg.MustRegister(m.Ticks, m.FetchDuration, m.ItemsEmitted, m.AlertsTriggered)
	return m
}
