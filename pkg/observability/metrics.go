package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "strata"

// Metrics holds the kernel's Prometheus collectors.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	StorageOps     *prometheus.CounterVec
	StorageLatency *prometheus.HistogramVec
	Transitions    *prometheus.CounterVec
	Transactions   *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them on reg.
// reg may be nil to keep the collectors unregistered.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		StorageOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "storage_operations_total",
				Help:      "Storage operations by backend, cluster, operation and result",
			},
			[]string{"backend", "cluster", "op", "result"},
		),
		StorageLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "storage_operation_duration_seconds",
				Help:      "Duration of storage operations",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"backend", "op"},
		),
		Transitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Transition requests by state machine, transition and result",
			},
			[]string{"machine", "transition", "result"},
		),
		Transactions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transactions_total",
				Help:      "Transaction keys closed, by outcome",
			},
			[]string{"outcome"},
		),
	}
	if reg != nil {
		reg.MustRegister(m.StorageOps, m.StorageLatency, m.Transitions, m.Transactions)
	}
	return m
}

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// ObserveStorage records one backend call.
func (m *Metrics) ObserveStorage(backend, cluster, op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.StorageOps.WithLabelValues(backend, cluster, op, result(err)).Inc()
	m.StorageLatency.WithLabelValues(backend, op).Observe(elapsed.Seconds())
}

// ObserveTransition records one transition request.
func (m *Metrics) ObserveTransition(machine string, transition int, err error) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(machine, strconv.Itoa(transition), result(err)).Inc()
}

// Transaction outcomes.
const (
	OutcomeCommit = "commit"
	OutcomeAbort  = "abort"
)

// ObserveTransaction records a commit or abort.
func (m *Metrics) ObserveTransaction(outcome string) {
	if m == nil {
		return
	}
	m.Transactions.WithLabelValues(outcome).Inc()
}

// Handler serves the gatherer's metrics in the Prometheus exposition format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
