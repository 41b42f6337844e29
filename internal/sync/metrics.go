package sync

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kimhsiao/cutlog/internal/models"
)

// Metrics holds the prometheus collectors of the sync engine. A nil
// *Metrics records nothing.
type Metrics struct {
	Passes       *prometheus.CounterVec
	Operations   *prometheus.CounterVec
	Reconciled   *prometheus.CounterVec
	Pending      prometheus.Gauge
	PassDuration prometheus.Histogram
}

// NewMetrics creates the collectors and registers them with reg when non-nil.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Passes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cutlog",
			Subsystem: "sync",
			Name:      "passes_total",
		}, []string{"result"}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cutlog",
			Subsystem: "sync",
			Name:      "operations_total",
		}, []string{"op", "entity", "result"}),
		Reconciled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cutlog",
			Subsystem: "sync",
			Name:      "reconciled_total",
		}, []string{"entity", "action"}),
		Pending: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "cutlog",
			Subsystem: "sync",
			Name:      "pending_operations",
		}),
		PassDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cutlog",
			Subsystem: "sync",
			Name:      "pass_duration_seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Passes, m.Operations, m.Reconciled, m.Pending, m.PassDuration)
	}
	return m
}

func (m *Metrics) observePass(res *SyncResult) {
	if m == nil {
		return
	}
	result := "success"
	if !res.Success {
		result = "failure"
	}
	m.Passes.WithLabelValues(result).Inc()
	m.PassDuration.Observe(res.Duration.Seconds())
}

// observeOperation counts a dispatched operation; result is ok, retry or dead.
func (m *Metrics) observeOperation(op *models.PendingOperation, result string) {
	if m == nil {
		return
	}
	m.Operations.WithLabelValues(string(op.Kind), string(op.Entity), result).Inc()
}

func (m *Metrics) observeReconciled(entity models.EntityKind, action string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Reconciled.WithLabelValues(string(entity), action).Add(float64(n))
}

func (m *Metrics) setPending(n int) {
	if m == nil {
		return
	}
	m.Pending.Set(float64(n))
}
