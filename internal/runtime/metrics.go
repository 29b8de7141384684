package runtime

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks hub, cache, and rate-limiter statistics. All instance
// methods are nil-safe so components can skip the nil checks at call sites.
type Metrics struct {
	mu         sync.Mutex
	registerer prometheus.Registerer
	registered bool

	subscribersCurrent   prometheus.Gauge
	eventsPublishedTotal *prometheus.CounterVec
	eventsDeliveredTotal prometheus.Counter
	eventsDroppedTotal   prometheus.Counter

	cacheOpsTotal *prometheus.CounterVec

	rateLimitDecisionsTotal *prometheus.CounterVec
}

// newHubCounterVec creates a counter vec under the pulsehub/hub namespace.
func newHubCounterVec(name, help string, labels []string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "pulsehub",
			Subsystem: "hub",
			Name:      name,
			Help:      help,
		},
		labels,
	)
}

// NewMetrics creates the pulsehub metrics collectors.
func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &Metrics{
		registerer: registerer,
		subscribersCurrent: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "pulsehub",
			Subsystem: "hub",
			Name:      "subscribers_current",
			Help:      "Current number of active subscriptions",
		}),
		eventsPublishedTotal: newHubCounterVec("events_published_total", "Total number of events published to the backend", []string{"event_type"}),
		eventsDeliveredTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsehub",
			Subsystem: "hub",
			Name:      "events_delivered_total",
			Help:      "Total number of events delivered to subscriber sinks",
		}),
		eventsDroppedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "pulsehub",
			Subsystem: "hub",
			Name:      "events_dropped_total",
			Help:      "Total number of events dropped because a subscriber queue was full",
		}),
		cacheOpsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsehub",
			Subsystem: "cache",
			Name:      "ops_total",
			Help:      "Total number of cache operations by op and result",
		}, []string{"op", "result"}),
		rateLimitDecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "pulsehub",
			Subsystem: "ratelimit",
			Name:      "decisions_total",
			Help:      "Total number of rate limit decisions by outcome",
		}, []string{"outcome"}),
	}
}

// Register registers the Prometheus collectors. Safe to call multiple times.
func (m *Metrics) Register() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.registered {
		return nil
	}

	for _, c := range m.collectors() {
		if err := m.registerer.Register(c); err != nil {
			return err
		}
	}
	m.registered = true
	return nil
}

// Unregister removes the collectors, e.g. at service shutdown.
func (m *Metrics) Unregister() {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.registered {
		return
	}
	for _, c := range m.collectors() {
		m.registerer.Unregister(c)
	}
	m.registered = false
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.subscribersCurrent,
		m.eventsPublishedTotal,
		m.eventsDeliveredTotal,
		m.eventsDroppedTotal,
		m.cacheOpsTotal,
		m.rateLimitDecisionsTotal,
	}
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribersCurrent.Inc()
}

func (m *Metrics) SubscriberClosed() {
	if m == nil {
		return
	}
	m.subscribersCurrent.Dec()
}

func (m *Metrics) EventPublished(eventType string) {
	if m == nil {
		return
	}
	m.eventsPublishedTotal.WithLabelValues(eventType).Inc()
}

func (m *Metrics) EventDelivered() {
	if m == nil {
		return
	}
	m.eventsDeliveredTotal.Inc()
}

func (m *Metrics) EventDropped() {
	if m == nil {
		return
	}
	m.eventsDroppedTotal.Inc()
}

func (m *Metrics) CacheOp(op, result string) {
	if m == nil {
		return
	}
	m.cacheOpsTotal.WithLabelValues(op, result).Inc()
}

func (m *Metrics) RateLimitDecision(outcome string) {
	if m == nil {
		return
	}
	m.rateLimitDecisionsTotal.WithLabelValues(outcome).Inc()
}
