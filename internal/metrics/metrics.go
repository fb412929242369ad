// Package metrics exposes prometheus collectors for the queue, bundles and
// order monitor. A nil *Metrics is valid and records nothing.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bundler"

type Metrics struct {
	registry *prometheus.Registry

	QueueDepth       prometheus.Gauge
	QueueAttempts    prometheus.Counter
	QueueResults     *prometheus.CounterVec
	BundleRuns       *prometheus.CounterVec
	RiskChecks       *prometheus.CounterVec
	OrderTransitions *prometheus.CounterVec
}

// New builds the collectors on a private registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "queue_depth", Help: "Transactions waiting or in flight",
		}),
		QueueAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_attempts_total", Help: "Submission attempts including retries",
		}),
		QueueResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "queue_results_total", Help: "Queue items by terminal outcome",
		}, []string{"outcome"}),
		BundleRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bundle_runs_total", Help: "Bundle strategy runs",
		}, []string{"strategy", "outcome"}),
		RiskChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "risk_checks_total", Help: "MEV risk evaluations",
		}, []string{"result"}),
		OrderTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "order_transitions_total", Help: "Limit order status changes",
		}, []string{"status"}),
	}
	m.registry.MustRegister(
		m.QueueDepth, m.QueueAttempts, m.QueueResults,
		m.BundleRuns, m.RiskChecks, m.OrderTransitions,
	)
	return m
}

// Registry returns the registry backing Handler
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the prometheus text format
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetQueueDepth(n int) {
	if m != nil {
		m.QueueDepth.Set(float64(n))
	}
}

func (m *Metrics) QueueAttempt() {
	if m != nil {
		m.QueueAttempts.Inc()
	}
}

func (m *Metrics) QueueResult(outcome string) {
	if m != nil {
		m.QueueResults.WithLabelValues(outcome).Inc()
	}
}

func (m *Metrics) BundleRun(strategy, outcome string) {
	if m != nil {
		m.BundleRuns.WithLabelValues(strategy, outcome).Inc()
	}
}

func (m *Metrics) RiskCheck(risky bool) {
	if m == nil {
		return
	}
	result := "clear"
	if risky {
		result = "risky"
	}
	m.RiskChecks.WithLabelValues(result).Inc()
}

func (m *Metrics) OrderTransition(status string) {
	if m != nil {
		m.OrderTransitions.WithLabelValues(status).Inc()
	}
}
