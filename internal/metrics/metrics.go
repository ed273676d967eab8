package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Исходы обработки заказа за проход сверки
const (
	OutcomeExpired     = "expired"
	OutcomeConfirmed   = "confirmed"
	OutcomeRecovered   = "recovered"
	OutcomeReminded    = "reminded"
	OutcomeLatePayment = "late_payment"
	OutcomeNoKey       = "no_key"
	OutcomeOracleError = "oracle_error"
	OutcomeError       = "error"
)

// Metrics holds reconciliation and inventory signals. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	cycles        prometheus.Counter
	cycleDuration prometheus.Histogram
	outcomes      *prometheus.CounterVec
	anomalies     *prometheus.CounterVec
	keysAvailable *prometheus.GaugeVec
}

func New(registerer prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "keyvend",
			Subsystem: "reconciler",
			Name:      "cycles_total",
			Help:      "Completed reconciliation passes.",
		}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "keyvend",
			Subsystem: "reconciler",
			Name:      "cycle_duration_seconds",
			Help:      "Duration of one reconciliation pass.",
			Buckets:   prometheus.DefBuckets,
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyvend",
			Subsystem: "reconciler",
			Name:      "order_outcomes_total",
			Help:      "Per-order reconciliation outcomes.",
		}, []string{"outcome"}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "keyvend",
			Name:      "anomalies_total",
			Help:      "Invariant violations detected.",
		}, []string{"kind"}),
		keysAvailable: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "keyvend",
			Subsystem: "inventory",
			Name:      "keys_available",
			Help:      "Available keys per variant.",
		}, []string{"variant"}),
	}
	if registerer != nil {
		registerer.MustRegister(m.cycles, m.cycleDuration, m.outcomes, m.anomalies, m.keysAvailable)
	}
	return m
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.cycles.Inc()
	m.cycleDuration.Observe(d.Seconds())
}

func (m *Metrics) IncOutcome(outcome string) {
	if m == nil {
		return
	}
	m.outcomes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncAnomaly(kind string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(kind).Inc()
}

func (m *Metrics) SetKeysAvailable(variant string, count int) {
	if m == nil {
		return
	}
	m.keysAvailable.WithLabelValues(variant).Set(float64(count))
}
