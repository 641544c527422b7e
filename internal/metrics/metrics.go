package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "storefront"

// Metrics holds every collector the core records into.
type Metrics struct {
	CheckoutTotal     *prometheus.CounterVec
	CheckoutDuration  *prometheus.HistogramVec
	ReservationsTotal *prometheus.CounterVec
	CartCacheRequests *prometheus.CounterVec
	CartLinesDropped  prometheus.Counter
	OutboxPublished   *prometheus.CounterVec
	EventsPublished   *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CheckoutTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "requests_total",
			Help:      "Checkout attempts by outcome.",
		}, []string{"outcome"}),
		CheckoutDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "checkout",
			Name:      "duration_seconds",
			Help:      "Checkout latency by outcome.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"outcome"}),
		ReservationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "inventory",
			Name:      "reservation_operations_total",
			Help:      "Stock ledger operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
		CartCacheRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "cache_requests_total",
			Help:      "Cart cache lookups by result.",
		}, []string{"result"}),
		CartLinesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cart",
			Name:      "lines_dropped_total",
			Help:      "Cart lines dropped because their variant no longer exists.",
		}),
		OutboxPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Outbox rows relayed to Kafka by result.",
		}, []string{"result"}),
		EventsPublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "events",
			Name:      "published_total",
			Help:      "In-process domain events by name and result.",
		}, []string{"event", "result"}),
	}

	reg.MustRegister(
		m.CheckoutTotal,
		m.CheckoutDuration,
		m.ReservationsTotal,
		m.CartCacheRequests,
		m.CartLinesDropped,
		m.OutboxPublished,
		m.EventsPublished,
	)
	return m
}

// Discard returns collectors bound to a private registry, for callers that do not export metrics.
func Discard() *Metrics {
	return New(prometheus.NewRegistry())
}

// Or returns m, or Discard() when m is nil.
func Or(m *Metrics) *Metrics {
	if m == nil {
		return Discard()
	}
	return m
}
