package hub

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles Prometheus collectors for the event pipeline and the hub.
type Metrics struct {
	registry        *prometheus.Registry
	eventsTotal     *prometheus.CounterVec
	suppressedTotal *prometheus.CounterVec
	subscribers     prometheus.Gauge
	broadcastDrops  prometheus.Counter
	rateLimited     prometheus.Counter
}

func newMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		eventsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liveoverlay",
			Name:      "events_total",
			Help:      "Canonical events broadcast, by event type",
		}, []string{"type"}),
		suppressedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "liveoverlay",
			Name:      "suppressed_total",
			Help:      "Events suppressed by the dedup layer, by namespace",
		}, []string{"namespace"}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "liveoverlay",
			Name:      "subscribers",
			Help:      "Currently connected WebSocket subscribers",
		}),
		broadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "liveoverlay",
			Name:      "broadcast_drops_total",
			Help:      "Broadcast deliveries skipped because a subscriber was not ready",
		}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "liveoverlay",
			Name:      "http_rate_limited_total",
			Help:      "Admin requests rejected due to rate limiting",
		}),
	}

	registry.MustRegister(
		m.eventsTotal,
		m.suppressedTotal,
		m.subscribers,
		m.broadcastDrops,
		m.rateLimited,
	)

	return m
}

// Handler returns the metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// IncEvent counts one broadcast canonical event.
func (m *Metrics) IncEvent(eventType string) {
	if m == nil {
		return
	}
	m.eventsTotal.WithLabelValues(eventType).Inc()
}

// IncSuppressed counts one dedup suppression in a namespace.
func (m *Metrics) IncSuppressed(namespace string) {
	if m == nil {
		return
	}
	m.suppressedTotal.WithLabelValues(namespace).Inc()
}

// IncSubscribers adjusts the subscriber gauge by delta.
func (m *Metrics) IncSubscribers(delta float64) {
	if m == nil {
		return
	}
	m.subscribers.Add(delta)
}

// IncBroadcastDrops counts a skipped delivery.
func (m *Metrics) IncBroadcastDrops() {
	if m == nil {
		return
	}
	m.broadcastDrops.Inc()
}

// IncRateLimited counts a rejected admin request.
func (m *Metrics) IncRateLimited() {
	if m == nil {
		return
	}
	m.rateLimited.Inc()
}
