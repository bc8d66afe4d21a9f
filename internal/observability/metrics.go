// Package observability defines the Prometheus metrics for evaluation
// cycles, oracle traffic and contingency planning.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "fcsentinel"

// Metrics holds the Prometheus counters and histograms for the service.
type Metrics struct {
	// Cycle metrics.
	CyclesTotal   *prometheus.CounterVec // labels: outcome={completed,cancelled,failed}
	CycleDuration prometheus.Histogram
	FCEvaluations *prometheus.CounterVec // labels: outcome={ok,error}

	// Oracle metrics.
	OracleRequests  *prometheus.CounterVec // labels: outcome={success,error,timeout}
	OracleDuration  prometheus.Histogram
	OracleFallbacks prometheus.Counter
	ParserDefaults  *prometheus.CounterVec // labels: field={score,status,reasoning,classifications}

	PlanOutcomes   *prometheus.CounterVec // labels: outcome
	EvidencePurged prometheus.Counter
	RowsPublished  prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := build(true)
	prometheus.MustRegister(m.collectors()...)
	return m
}

// NewMetricsForTesting creates unregistered Metrics so tests can build as
// many as they like without "already registered" panics.
func NewMetricsForTesting() *Metrics {
	return build(false)
}

func build(withHelp bool) *Metrics {
	help := func(s string) string {
		if withHelp {
			return s
		}
		return ""
	}
	return &Metrics{
		CyclesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      help("Evaluation cycles by outcome."),
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      help("Wall time of a complete evaluation cycle."),
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}),
		FCEvaluations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fc_evaluations_total",
			Help:      help("Per-FC evaluations by outcome."),
		}, []string{"outcome"}),
		OracleRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_requests_total",
			Help:      help("Risk oracle requests by outcome."),
		}, []string{"outcome"}),
		OracleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "oracle_request_duration_seconds",
			Help:      help("Risk oracle request duration in seconds."),
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 20, 30},
		}),
		OracleFallbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "oracle_fallbacks_total",
			Help:      help("Evaluations that used the default verdict because the oracle failed."),
		}),
		ParserDefaults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "parser_defaults_total",
			Help:      help("Reply fields the parser had to default, by field."),
		}, []string{"field"}),
		PlanOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "plan_outcomes_total",
			Help:      help("Contingency planner shipment decisions by outcome."),
		}, []string{"outcome"}),
		EvidencePurged: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "evidence_purged_total",
			Help:      help("Evidence records deleted by the retention purge."),
		}),
		RowsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rows_published_total",
			Help:      help("Per-FC rows written to the external sink."),
		}),
	}
}

func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.CyclesTotal,
		m.CycleDuration,
		m.FCEvaluations,
		m.OracleRequests,
		m.OracleDuration,
		m.OracleFallbacks,
		m.ParserDefaults,
		m.PlanOutcomes,
		m.EvidencePurged,
		m.RowsPublished,
	}
}
