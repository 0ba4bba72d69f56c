package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the tab session protocol.
type Metrics struct {
	Terminations          *prometheus.CounterVec
	DuplicateTerminations *prometheus.CounterVec
	Outcomes              *prometheus.CounterVec
	OpenTabs              prometheus.Gauge
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Terminations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_tab_terminations_total",
			Help: "Tabs ended by a remote deletion, by detection source",
		}, []string{"source"}),
		DuplicateTerminations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_tab_terminations_suppressed_total",
			Help: "Termination signals ignored because the tab had already ended",
		}, []string{"source"}),
		Outcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_tab_background_outcomes_total",
			Help: "Background tab operations by operation and disposition",
		}, []string{"operation", "disposition"}),
		OpenTabs: factory.NewGauge(prometheus.GaugeOpts{
			Name: "acs_tab_watching",
			Help: "Tabs currently running termination watchers",
		}),
	}
}

func (m *Metrics) IncrementTermination(source string) { m.Terminations.WithLabelValues(source).Inc() }
func (m *Metrics) IncrementDuplicate(source string) {
	m.DuplicateTerminations.WithLabelValues(source).Inc()
}
func (m *Metrics) ObserveOutcome(operation, disposition string) {
	m.Outcomes.WithLabelValues(operation, disposition).Inc()
}
func (m *Metrics) WatchStarted() { m.OpenTabs.Inc() }
func (m *Metrics) WatchStopped() { m.OpenTabs.Dec() }
