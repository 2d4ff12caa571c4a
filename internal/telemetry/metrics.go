// Package telemetry holds the node's Prometheus metrics.
//
// All metrics are registered against the default registry and served by the
// API server at GET /metrics.
package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Runtime metrics: one observation per Execute call.
//
// RuntimeCallsTotal has label {outcome} = committed | rolled_back | commit_failed.
var (
	RuntimeCallsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgreg_runtime_calls_total",
			Help: "Total number of runtime calls, by outcome.",
		},
		[]string{"outcome"},
	)

	RuntimeCallDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "orgreg_runtime_call_duration_seconds",
			Help:    "Duration of a runtime call from lock acquisition to commit or rollback.",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
		},
	)
)

// Commitment ledger metrics.
//
// CommitmentsDepositedTotal has label {mode} = allowance | delegated.
// CommitmentsRedeemedTotal counts successful redemptions only.
var (
	CommitmentsDepositedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgreg_commitments_deposited_total",
			Help: "Total number of commitment deposits, by fee authorisation mode.",
		},
		[]string{"mode"},
	)

	CommitmentsRedeemedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "orgreg_commitments_redeemed_total",
			Help: "Total number of commitments redeemed.",
		},
	)
)

// Orchestration metrics.
//
// OrchestrationsTotal has labels {op, result}; op is single | multi | reclaim and
// result is ok or the short name of the failure (owner_mismatch, not_found, ...).
var (
	OrchestrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "orgreg_orchestrations_total",
			Help: "Total number of orchestration calls, by operation and result.",
		},
		[]string{"op", "result"},
	)

	OrchestrationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "orgreg_orchestration_duration_seconds",
			Help:    "Duration of orchestration calls, by operation.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)
)

// ObserveOrchestration records the outcome and duration of one orchestration.
func ObserveOrchestration(op, result string, start time.Time) {
	OrchestrationsTotal.WithLabelValues(op, result).Inc()
	OrchestrationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
