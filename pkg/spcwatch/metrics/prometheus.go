package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "spcwatch"

// Collectors groups the Prometheus instruments a Monitor updates.
type Collectors struct {
	SamplesTotal       *prometheus.CounterVec
	ViolationsTotal    *prometheus.CounterVec
	EvaluationDuration *prometheus.HistogramVec
	EvaluationErrors   *prometheus.CounterVec
	ChartValue         *prometheus.GaugeVec
	ChartLimits        *prometheus.GaugeVec
	Capability         *prometheus.GaugeVec
	ActionsTotal       *prometheus.CounterVec
	PolicyErrors       *prometheus.CounterVec
}

// NewCollectors creates and registers the collectors with reg. A nil reg
// creates unregistered collectors, which is what tests want.
func NewCollectors(reg prometheus.Registerer) *Collectors {
	f := promauto.With(reg)
	return &Collectors{
		SamplesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chart",
			Name:      "samples_total",
			Help:      "Total samples recorded per chart",
		}, []string{"chart"}),

		ViolationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "violations_total",
			Help:      "New Western Electric rule violations",
		}, []string{"chart", "rule", "severity"}),

		EvaluationDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "evaluation_duration_seconds",
			Help:      "Time to evaluate one chart",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
		}, []string{"chart"}),

		EvaluationErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "rules",
			Name:      "evaluation_errors_total",
			Help:      "Chart evaluations that failed",
		}, []string{"chart"}),

		ChartValue: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chart",
			Name:      "value",
			Help:      "Most recent sample value",
		}, []string{"chart"}),

		ChartLimits: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chart",
			Name:      "limit",
			Help:      "Control chart lines (center, ucl, lcl)",
		}, []string{"chart", "line"}),

		Capability: f.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chart",
			Name:      "capability",
			Help:      "Process capability indices (cp, cpk, ppk)",
		}, []string{"chart", "index"}),

		ActionsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "actions",
			Name:      "executed_total",
			Help:      "Actions dispatched to handlers",
		}, []string{"type", "severity"}),

		PolicyErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "policy",
			Name:      "errors_total",
			Help:      "Policy evaluation failures",
		}, []string{"policy"}),
	}
}

// SetLimits publishes the three chart lines.
func (c *Collectors) SetLimits(chart string, center, ucl, lcl float64) {
	c.ChartLimits.WithLabelValues(chart, "center").Set(center)
	c.ChartLimits.WithLabelValues(chart, "ucl").Set(ucl)
	c.ChartLimits.WithLabelValues(chart, "lcl").Set(lcl)
}

// Forget drops every series labelled with chart.
func (c *Collectors) Forget(chart string) {
	labels := prometheus.Labels{"chart": chart}
	c.SamplesTotal.DeletePartialMatch(labels)
	c.ViolationsTotal.DeletePartialMatch(labels)
	c.EvaluationDuration.DeletePartialMatch(labels)
	c.EvaluationErrors.DeletePartialMatch(labels)
	c.ChartValue.DeletePartialMatch(labels)
	c.ChartLimits.DeletePartialMatch(labels)
	c.Capability.DeletePartialMatch(labels)
}
