package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestWorkflowMetricsOutcomes(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newWorkflowMetricsWithRegisterer(registry)

	m.RecordOrderStarted()
	m.RecordOrderStarted()
	m.RecordOrderFinished("COMPLETED", 50*time.Millisecond)
	m.RecordOrderFinished("FAILED", 10*time.Millisecond)

	if got := testutil.ToFloat64(m.ordersStarted); got != 2 {
		t.Fatalf("orders started = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.ordersCompleted); got != 1 {
		t.Fatalf("orders completed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ordersFailed); got != 1 {
		t.Fatalf("orders failed = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.activeOrders); got != 0 {
		t.Fatalf("active orders = %v, want 0", got)
	}
}

func TestWorkflowMetricsDoubleRegistration(t *testing.T) {
	registry := prometheus.NewRegistry()

	// Повторная регистрация должна переиспользовать коллекторы, а не паниковать.
	first := newWorkflowMetricsWithRegisterer(registry)
	second := newWorkflowMetricsWithRegisterer(registry)

	first.RecordAuditEvent()
	second.RecordAuditEvent()

	if got := testutil.ToFloat64(first.auditEvents); got != 2 {
		t.Fatalf("audit events = %v, want 2", got)
	}
}

func TestWorkflowMetricsRetryCounter(t *testing.T) {
	registry := prometheus.NewRegistry()
	m := newWorkflowMetricsWithRegisterer(registry)

	m.RecordActivityRetry("payment_charged")
	m.RecordActivityRetry("payment_charged")
	m.RecordActivityRetry("carrier_dispatched")

	if got := testutil.ToFloat64(m.activityRetries.WithLabelValues("payment_charged")); got != 2 {
		t.Fatalf("payment retries = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.activityRetries.WithLabelValues("carrier_dispatched")); got != 1 {
		t.Fatalf("carrier retries = %v, want 1", got)
	}
}
