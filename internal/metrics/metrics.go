package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Drop reasons for EventDropped.
const (
	DropNotMapped   = "not_mapped"
	DropUnavailable = "registry_unavailable"
	DropRemoved     = "removed"
	DropFiltered    = "filtered"
	DropDecode      = "decode_error"
	DropPanic       = "handler_panic"
)

// Metrics holds Prometheus counters.
type Metrics struct {
	eventsReceived *prometheus.CounterVec
	eventsDropped  *prometheus.CounterVec
	webhooks       *prometheus.CounterVec
	reconnects     prometheus.Counter
	errors         prometheus.Counter
}

var (
	once    sync.Once
	metrics *Metrics
)

// Init initializes global metrics (idempotent).
func Init() *Metrics {
	once.Do(func() {
		metrics = newMetrics()
		prometheus.MustRegister(
			metrics.eventsReceived,
			metrics.eventsDropped,
			metrics.webhooks,
			metrics.reconnects,
			metrics.errors,
		)
	})
	return metrics
}

func newMetrics() *Metrics {
	return &Metrics{
		eventsReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cask_bridge_events_received_total",
			Help: "Subscription events decoded from the chain stream",
		}, []string{"event"}),
		eventsDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cask_bridge_events_dropped_total",
			Help: "Events dropped before delivery, by reason",
		}, []string{"reason"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cask_bridge_webhooks_total",
			Help: "Webhook delivery attempts by outcome",
		}, []string{"outcome"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cask_bridge_reconnects_total",
			Help: "Successful chain stream reconnects",
		}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "cask_bridge_errors_total",
			Help: "Total number of errors encountered",
		}),
	}
}

// EventReceived counts a decoded event by name.
func (m *Metrics) EventReceived(event string) {
	if m != nil {
		m.eventsReceived.WithLabelValues(event).Inc()
	}
}

// EventDropped counts an event that never reached a webhook.
func (m *Metrics) EventDropped(reason string) {
	if m != nil {
		m.eventsDropped.WithLabelValues(reason).Inc()
	}
}

// Webhook counts a delivery outcome.
func (m *Metrics) Webhook(outcome string) {
	if m != nil {
		m.webhooks.WithLabelValues(outcome).Inc()
	}
}

// Reconnected increments the reconnect counter.
func (m *Metrics) Reconnected() {
	if m != nil {
		m.reconnects.Inc()
	}
}

// Errors increments the errors counter.
func (m *Metrics) Errors() {
	if m != nil {
		m.errors.Inc()
	}
}

// Handler returns an HTTP handler for /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
