package stubrelay

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors for one relay instance.
// Each instance owns its registry so several relays can run in one process.
type Metrics struct {
	registry *prometheus.Registry

	SessionsTotal    prometheus.Counter
	SessionsActive   prometheus.Gauge
	AuthAttempts     *prometheus.CounterVec
	MessagesAccepted prometheus.Counter
	MessagesRejected *prometheus.CounterVec
	MessageSize      prometheus.Histogram
}

// NewMetrics creates and registers the relay collectors on a fresh registry.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "stubrelay_sessions_total",
			Help: "Total number of SMTP sessions accepted",
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "stubrelay_sessions_active",
			Help: "Number of SMTP sessions in progress",
		}),
		AuthAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stubrelay_auth_attempts_total",
			Help: "AUTH attempts by mechanism and result",
		}, []string{"mechanism", "result"}),
		MessagesAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "stubrelay_messages_accepted_total",
			Help: "Messages accepted and queued",
		}),
		MessagesRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "stubrelay_messages_rejected_total",
			Help: "Messages rejected after DATA by reply code",
		}, []string{"code"}),
		MessageSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "stubrelay_message_size_bytes",
			Help:    "Size of received DATA payloads",
			Buckets: prometheus.ExponentialBuckets(64, 4, 8),
		}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
