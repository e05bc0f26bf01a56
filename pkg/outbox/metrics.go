package outbox

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// metrics covers the staging-to-delivery pipeline: rows staged by the
// publisher, rows delivered or parked dead by the relay, and the
// backlog gauges the relay refreshes each pass.
type metrics struct {
	staged    *prometheus.CounterVec
	delivered *prometheus.CounterVec
	dead      *prometheus.CounterVec

	deliveryLatency *prometheus.HistogramVec

	backlog     *prometheus.GaugeVec
	inFlight    *prometheus.GaugeVec
	relayLeader *prometheus.GaugeVec
}

var metricsSingleton = sync.OnceValue(func() *metrics {
	return &metrics{
		staged: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workshop",
			Subsystem: "outbox",
			Name:      "staged_total",
			Help:      "Transition events staged for delivery.",
		}, []string{"table", "topic"}),
		delivered: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workshop",
			Subsystem: "outbox",
			Name:      "delivered_total",
			Help:      "Delivery attempts by outcome.",
		}, []string{"table", "topic", "result"}),
		dead: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "workshop",
			Subsystem: "outbox",
			Name:      "dead_total",
			Help:      "Events parked after exhausting delivery attempts.",
		}, []string{"table", "topic"}),
		deliveryLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "workshop",
			Subsystem: "outbox",
			Name:      "delivery_latency_seconds",
			Help:      "Latency of a single delivery attempt.",
			Buckets: []float64{
				0.001, 0.002, 0.005,
				0.01, 0.02, 0.05,
				0.1, 0.2, 0.5,
				1, 2, 5, 10,
			},
		}, []string{"table", "topic", "result"}),
		backlog: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workshop",
			Subsystem: "outbox",
			Name:      "backlog",
			Help:      "Undelivered events currently staged.",
		}, []string{"table"}),
		inFlight: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workshop",
			Subsystem: "outbox",
			Name:      "in_flight",
			Help:      "Undelivered events currently claimed by a relay.",
		}, []string{"table"}),
		relayLeader: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "workshop",
			Subsystem: "outbox",
			Name:      "relay_leader",
			Help:      "Whether this instance holds the relay lock for a table (1/0).",
		}, []string{"table"}),
	}
})

func getMetrics() *metrics {
	return metricsSingleton()
}
