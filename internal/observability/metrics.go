// Package observability provides Prometheus metrics for the issue service.
//
// Metrics cover HTTP traffic (requests by route and status, latency) and
// issue mutations (by intent and outcome). They are registered on the
// registry handed to NewMetrics so tests can use a private registry, and
// exposed through Handler on /metrics.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const metricsNamespace = "issues"

// Mutation outcomes.
const (
	OutcomeSuccess  = "success"
	OutcomeInvalid  = "invalid"
	OutcomeRejected = "rejected"
)

type Metrics struct {
	// RequestsTotal counts HTTP requests.
	// Labels: route (gin full path), method, status
	RequestsTotal *prometheus.CounterVec

	// RequestDuration measures HTTP handling latency.
	// Labels: route, method
	RequestDuration *prometheus.HistogramVec

	// MutationsTotal counts applied mutations.
	// Labels: intent (create-issue, delete-issues, ...), outcome (success, invalid, rejected)
	MutationsTotal *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetrics registers all metrics on reg. Passing nil uses a fresh
// private registry.
func NewMetrics(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		RequestsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Total number of HTTP requests by route, method and status",
			},
			[]string{"route", "method", "status"},
		),
		RequestDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "HTTP request latency by route and method",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route", "method"},
		),
		MutationsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "store",
				Name:      "mutations_total",
				Help:      "Total number of issue mutations by intent and outcome",
			},
			[]string{"intent", "outcome"},
		),
		gatherer: reg,
	}
}

func (m *Metrics) RecordMutation(intent, outcome string) {
	if m == nil {
		return
	}
	m.MutationsTotal.WithLabelValues(intent, outcome).Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
