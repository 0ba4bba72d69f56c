package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP-level Prometheus collectors shared by all handlers.
type Metrics struct {
	EndpointLatency *prometheus.HistogramVec
	AuthFailures    prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		EndpointLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "acs_endpoint_latency_seconds",
			Help:    "Latency of endpoints in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "acs_auth_failures_total",
			Help: "Total number of rejected bearer tokens and failed sign-ins",
		}),
	}
}

// ObserveEndpointLatency records a request duration for the route pattern.
func (m *Metrics) ObserveEndpointLatency(endpoint string, seconds float64) {
	m.EndpointLatency.WithLabelValues(endpoint).Observe(seconds)
}

func (m *Metrics) IncrementAuthFailures() {
	m.AuthFailures.Inc()
}
