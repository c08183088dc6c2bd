package mirror

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsRegisterRejectsDuplicates(t *testing.T) {
	t.Parallel()

	registry := prometheus.NewRegistry()
	if err := NewMetrics().Register(registry); err != nil {
		t.Fatalf("first Register failed: %v", err)
	}
	if err := NewMetrics().Register(registry); err == nil {
		t.Fatal("expected duplicate registration error")
	}
	if err := NewMetrics().Register(nil); err != nil {
		t.Fatalf("Register(nil) = %v, want nil", err)
	}
}

func TestNilMetricsRecordNothing(t *testing.T) {
	t.Parallel()

	var metrics *Metrics
	metrics.messageObserved()
	metrics.relayAttempt(outcomeSent)
	metrics.endpointCreated(true)
	metrics.propagation(operationEdit, outcomeApplied)
	metrics.relayCacheSize(3)

	live := NewMetrics()
	live.relayCacheSize(3)
	if got := testutil.ToFloat64(live.relayCacheEntries); got != 3 {
		t.Fatalf("relay cache gauge = %v, want 3", got)
	}
}
