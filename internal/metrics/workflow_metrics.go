package metrics

import (
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// WorkflowMetrics содержит метрики workflow-движка заказов.
type WorkflowMetrics struct {
	// Счётчики исходов заказов
	ordersStarted   prometheus.Counter
	ordersCompleted prometheus.Counter
	ordersFailed    prometheus.Counter
	ordersCancelled prometheus.Counter
	ordersTimedOut  prometheus.Counter

	// Гистограммы времени выполнения
	orderDuration prometheus.Histogram
	stepDuration  *prometheus.HistogramVec

	// Счётчики retry и аудита
	activityRetries *prometheus.CounterVec
	auditEvents     prometheus.Counter

	// Gauge для активных инстансов
	activeOrders prometheus.Gauge
}

// NewWorkflowMetrics создаёт новый экземпляр метрик движка.
func NewWorkflowMetrics() *WorkflowMetrics {
	return newWorkflowMetricsWithRegisterer(prometheus.DefaultRegisterer)
}

func newWorkflowMetricsWithRegisterer(registerer prometheus.Registerer) *WorkflowMetrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	return &WorkflowMetrics{
		ordersStarted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_orders_started_total",
			Help: "Total number of order workflows started",
		}),
		ordersCompleted: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_orders_completed_total",
			Help: "Total number of order workflows completed successfully",
		}),
		ordersFailed: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_orders_failed_total",
			Help: "Total number of order workflows ended in FAILED",
		}),
		ordersCancelled: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_orders_cancelled_total",
			Help: "Total number of order workflows cancelled by signal",
		}),
		ordersTimedOut: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_orders_approval_timeout_total",
			Help: "Total number of order workflows ended in APPROVAL_TIMEOUT",
		}),
		orderDuration: registerHistogram(registerer, prometheus.HistogramOpts{
			Name:    "orderflow_order_duration_seconds",
			Help:    "Duration of order workflows in seconds",
			Buckets: prometheus.DefBuckets,
		}),
		stepDuration: registerHistogramVec(registerer, prometheus.HistogramOpts{
			Name:    "orderflow_step_duration_seconds",
			Help:    "Duration of individual workflow activities in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0},
		}, []string{"operation"}),
		activityRetries: registerCounterVec(registerer, prometheus.CounterOpts{
			Name: "orderflow_activity_retries_total",
			Help: "Total number of activity retry attempts grouped by operation",
		}, []string{"operation"}),
		auditEvents: registerCounter(registerer, prometheus.CounterOpts{
			Name: "orderflow_audit_events_total",
			Help: "Total number of audit events appended",
		}),
		activeOrders: registerGauge(registerer, prometheus.GaugeOpts{
			Name: "orderflow_active_orders",
			Help: "Number of order workflow instances currently in flight",
		}),
	}
}

// RecordOrderStarted инкрементирует счётчик запусков и gauge активных заказов.
func (m *WorkflowMetrics) RecordOrderStarted() {
	m.ordersStarted.Inc()
	m.activeOrders.Inc()
}

// RecordOrderFinished фиксирует исход заказа и его длительность.
func (m *WorkflowMetrics) RecordOrderFinished(outcome string, elapsed time.Duration) {
	m.activeOrders.Dec()
	m.orderDuration.Observe(elapsed.Seconds())
	switch outcome {
	case "COMPLETED":
		m.ordersCompleted.Inc()
	case "FAILED":
		m.ordersFailed.Inc()
	case "CANCELLED":
		m.ordersCancelled.Inc()
	case "APPROVAL_TIMEOUT":
		m.ordersTimedOut.Inc()
	}
}

// RecordOrderSuspended уменьшает gauge активных заказов, не фиксируя исход:
// инстанс выгружен (остановка процесса) и будет возобновлён позже.
func (m *WorkflowMetrics) RecordOrderSuspended() {
	m.activeOrders.Dec()
}

// RecordStepDuration фиксирует длительность одной активности.
func (m *WorkflowMetrics) RecordStepDuration(operation string, elapsed time.Duration) {
	m.stepDuration.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// RecordActivityRetry инкрементирует счётчик retry для операции.
func (m *WorkflowMetrics) RecordActivityRetry(operation string) {
	m.activityRetries.WithLabelValues(operation).Inc()
}

// RecordAuditEvent инкрементирует счётчик аудит-событий.
func (m *WorkflowMetrics) RecordAuditEvent() {
	m.auditEvents.Inc()
}

func registerCounter(registerer prometheus.Registerer, opts prometheus.CounterOpts) prometheus.Counter {
	collector := prometheus.NewCounter(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Counter)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter %q: %v", opts.Name, err))
	}
	return collector
}

func registerCounterVec(registerer prometheus.Registerer, opts prometheus.CounterOpts, labels []string) *prometheus.CounterVec {
	collector := prometheus.NewCounterVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.CounterVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register counter vec %q: %v", opts.Name, err))
	}
	return collector
}

func registerGauge(registerer prometheus.Registerer, opts prometheus.GaugeOpts) prometheus.Gauge {
	collector := prometheus.NewGauge(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Gauge)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register gauge %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogram(registerer prometheus.Registerer, opts prometheus.HistogramOpts) prometheus.Histogram {
	collector := prometheus.NewHistogram(opts)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(prometheus.Histogram)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram %q: %v", opts.Name, err))
	}
	return collector
}

func registerHistogramVec(registerer prometheus.Registerer, opts prometheus.HistogramOpts, labels []string) *prometheus.HistogramVec {
	collector := prometheus.NewHistogramVec(opts, labels)
	if err := registerer.Register(collector); err != nil {
		if alreadyRegistered, ok := err.(prometheus.AlreadyRegisteredError); ok {
			existing, ok := alreadyRegistered.ExistingCollector.(*prometheus.HistogramVec)
			if !ok {
				panic(fmt.Sprintf("collector %q already registered with unexpected type", opts.Name))
			}
			return existing
		}
		panic(fmt.Sprintf("register histogram vec %q: %v", opts.Name, err))
	}
	return collector
}
