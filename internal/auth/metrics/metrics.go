package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for account and sign-in operations.
type Metrics struct {
	AccountsCreated   prometheus.Counter
	AccountsActivated prometheus.Counter
	SignIns           *prometheus.CounterVec
	GlobalSignOuts    prometheus.Counter
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		AccountsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "acs_accounts_created_total",
			Help: "Total number of admin signups",
		}),
		AccountsActivated: factory.NewCounter(prometheus.CounterOpts{
			Name: "acs_accounts_activated_total",
			Help: "Total number of admin accounts that received a code",
		}),
		SignIns: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "acs_sign_ins_total",
			Help: "Sign-in attempts by result",
		}, []string{"result"}),
		GlobalSignOuts: factory.NewCounter(prometheus.CounterOpts{
			Name: "acs_global_sign_outs_total",
			Help: "Total number of sign-outs from every device",
		}),
	}
}

func (m *Metrics) IncrementAccountsCreated()   { m.AccountsCreated.Inc() }
func (m *Metrics) IncrementAccountsActivated() { m.AccountsActivated.Inc() }
func (m *Metrics) IncrementGlobalSignOuts()    { m.GlobalSignOuts.Inc() }

// ObserveSignIn records a sign-in attempt: "ok", "invalid_credentials",
// "inactive" or "locked".
func (m *Metrics) ObserveSignIn(result string) {
	m.SignIns.WithLabelValues(result).Inc()
}
