package telemetry

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_AllRegistered(t *testing.T) {
	cases := []struct {
		name string
		c    prometheus.Collector
	}{
		{"orgreg_runtime_calls_total", RuntimeCallsTotal},
		{"orgreg_runtime_call_duration_seconds", RuntimeCallDuration},
		{"orgreg_commitments_deposited_total", CommitmentsDepositedTotal},
		{"orgreg_commitments_redeemed_total", CommitmentsRedeemedTotal},
		{"orgreg_orchestrations_total", OrchestrationsTotal},
		{"orgreg_orchestration_duration_seconds", OrchestrationDuration},
	}

	for _, tc := range cases {
		err := prometheus.DefaultRegisterer.Register(tc.c)
		if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
			t.Errorf("%s: expected AlreadyRegisteredError, got %v", tc.name, err)
		}
	}
}

func TestObserveOrchestration(t *testing.T) {
	before := testutil.ToFloat64(OrchestrationsTotal.WithLabelValues("single", "ok"))

	ObserveOrchestration("single", "ok", time.Now())

	after := testutil.ToFloat64(OrchestrationsTotal.WithLabelValues("single", "ok"))
	if after != before+1 {
		t.Errorf("counter: got %v, want %v", after, before+1)
	}
}
