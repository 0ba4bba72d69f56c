package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the session ledger.
type Metrics struct {
	RowsInserted   prometheus.Counter
	RowsTouched    prometheus.Counter
	RowsDeleted    *prometheus.CounterVec
	FeedPublishErr prometheus.Counter
	JanitorRuns    *prometheus.CounterVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RowsInserted: factory.NewCounter(prometheus.CounterOpts{
			Name: "acs_ledger_rows_inserted_total",
			Help: "Total number of ledger rows created by tab registration",
		}),
		RowsTouched: factory.NewCounter(prometheus.CounterOpts{
			Name: "acs_ledger_rows_touched_total",
			Help: "Total number of last_active refreshes",
		}),
		RowsDeleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_ledger_rows_deleted_total",
			Help: "Ledger rows removed, by reason",
		}, []string{"reason"}),
		FeedPublishErr: factory.NewCounter(prometheus.CounterOpts{
			Name: "acs_ledger_feed_publish_errors_total",
			Help: "Deletion events that could not be published",
		}),
		JanitorRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_ledger_janitor_runs_total",
			Help: "Stale-row sweeps by result",
		}, []string{"result"}),
	}
}

func (m *Metrics) IncrementInserted()      { m.RowsInserted.Inc() }
func (m *Metrics) IncrementTouched()       { m.RowsTouched.Inc() }
func (m *Metrics) IncrementPublishErrors() { m.FeedPublishErr.Inc() }
func (m *Metrics) ObserveJanitorRun(ok bool) {
	if ok {
		m.JanitorRuns.WithLabelValues("ok").Inc()
		return
	}
	m.JanitorRuns.WithLabelValues("error").Inc()
}

// AddDeleted counts n rows removed for reason.
func (m *Metrics) AddDeleted(reason string, n int) {
	if n > 0 {
		m.RowsDeleted.WithLabelValues(reason).Add(float64(n))
	}
}
