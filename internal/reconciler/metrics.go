package reconciler

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metric names as constants for consistency.
const (
	MetricFramesProcessed = "reconciler_frames_processed_total"
	MetricFramesError     = "reconciler_frames_error_total"
	MetricRepairs         = "reconciler_repairs_total"
	MetricRepairFailures  = "reconciler_repair_failures_total"
	MetricPending         = "reconciler_pending_records"
)

// Metrics contains Prometheus metrics for the reconciler.
// All operations are thread-safe.
type Metrics struct {
	framesProcessed prometheus.Counter
	framesError     prometheus.Counter
	repairs         prometheus.Counter
	repairFailures  prometheus.Counter
	pending         prometheus.Gauge
}

// NewMetrics creates a Metrics instance with all collectors initialized.
// The metrics are not registered; call Register to add them to a registry.
func NewMetrics() *Metrics {
	return &Metrics{
		framesProcessed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricFramesProcessed,
			Help: "Total number of commit stream frames processed",
		}),
		framesError: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricFramesError,
			Help: "Total number of commit stream frames that failed to decode",
		}),
		repairs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRepairs,
			Help: "Total number of orphaned records restored to their index",
		}),
		repairFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: MetricRepairFailures,
			Help: "Total number of failed index repair attempts",
		}),
		pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: MetricPending,
			Help: "Number of ledger-committed records awaiting an index repair",
		}),
	}
}

// Register registers all metrics with the given registry.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, c := range m.Collectors() {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// IncFramesProcessed increments the frames processed counter.
func (m *Metrics) IncFramesProcessed() {
	m.framesProcessed.Inc()
}

// IncFramesError increments the frame decode error counter.
func (m *Metrics) IncFramesError() {
	m.framesError.Inc()
}

// IncRepairs increments the successful repair counter.
func (m *Metrics) IncRepairs() {
	m.repairs.Inc()
}

// IncRepairFailures increments the failed repair counter.
func (m *Metrics) IncRepairFailures() {
	m.repairFailures.Inc()
}

// SetPending sets the pending records gauge.
func (m *Metrics) SetPending(n int) {
	m.pending.Set(float64(n))
}

// Collectors returns all Prometheus collectors for testing.
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.framesProcessed,
		m.framesError,
		m.repairs,
		m.repairFailures,
		m.pending,
	}
}
