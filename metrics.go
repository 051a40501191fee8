package correlator

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Transaction outcomes reported by Metrics.
const (
	outcomeDelivered = "delivered"
	outcomeDropped   = "dropped"
	outcomeDiscarded = "discarded"
)

// Metrics holds the Prometheus collectors of a Controller. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	registry     *prometheus.Registry
	Pending      prometheus.Gauge
	Transactions *prometheus.CounterVec
	PartFailures *prometheus.CounterVec
	Sessions     prometheus.Counter
}

// NewMetrics creates the collectors and registers them on a new registry.
func NewMetrics() *Metrics {
	r := prometheus.NewRegistry()
	m := &Metrics{
		registry: r,
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "correlator",
			Name:      "pending_transactions",
			Help:      "Transactions buffered waiting for in-order delivery",
		}),
		Transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "transactions_total",
			Help:      "Captured transactions by outcome",
		}, []string{"outcome"}),
		PartFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "rule_part_failures_total",
			Help:      "Rule part failures by part",
		}, []string{"part"}),
		Sessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "correlator",
			Name:      "sessions_total",
			Help:      "Recording sessions started",
		}),
	}
	r.MustRegister(m.Pending, m.Transactions, m.PartFailures, m.Sessions)
	return m
}

// Registry returns the registry the collectors are registered on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}

func (m *Metrics) outcome(o string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.Transactions.WithLabelValues(o).Add(float64(n))
}

func (m *Metrics) partFailed(part string) {
	if m == nil {
		return
	}
	m.PartFailures.WithLabelValues(part).Inc()
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.Sessions.Inc()
}

// Outcomes returns the number of transactions counted per outcome:
// "delivered", "dropped" and "discarded". Outcomes that never occurred are
// reported as zero.
func (m *Metrics) Outcomes() (map[string]int, error) {
	out := map[string]int{outcomeDelivered: 0, outcomeDropped: 0, outcomeDiscarded: 0}
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}
	for _, f := range families {
		if f.GetName() != "correlator_transactions_total" {
			continue
		}
		for _, metric := range f.GetMetric() {
			for _, l := range metric.GetLabel() {
				if l.GetName() == "outcome" {
					out[l.GetValue()] = int(metric.GetCounter().GetValue())
				}
			}
		}
	}
	return out, nil
}
