// Package metrics provides Prometheus metrics for the retention engine.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "pcapkeeper"

// Removal modes used as label values.
const (
	ModeTargeted   = "targeted"
	ModeBruteForce = "brute_force"
)

// PrometheusMetrics holds the engine's Prometheus collectors. A nil
// *PrometheusMetrics is valid and records nothing.
type PrometheusMetrics struct {
	CycleCounter   *prometheus.CounterVec
	CycleDuration  prometheus.Histogram
	LastCycle      prometheus.Gauge
	FilesRemoved   *prometheus.CounterVec
	SpaceFreedMB   *prometheus.CounterVec
	FilesNotFound  prometheus.Counter
	IndexErrors    *prometheus.CounterVec
	TotalFilesSeen prometheus.Gauge
}

// NewPrometheusMetrics creates the collectors and registers them with reg.
func NewPrometheusMetrics(reg prometheus.Registerer) (*PrometheusMetrics, error) {
	m := &PrometheusMetrics{
		CycleCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Retention cycles by outcome.",
		}, []string{"outcome"}),
		CycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of retention cycles.",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 15, 30, 60, 120, 300},
		}),
		LastCycle: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_cycle_timestamp_seconds",
			Help:      "Unix time the last retention cycle finished.",
		}),
		FilesRemoved: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_removed_total",
			Help:      "Capture files removed from disk by removal mode.",
		}, []string{"mode"}),
		SpaceFreedMB: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "space_freed_megabytes_total",
			Help:      "Megabytes freed by removal mode.",
		}, []string{"mode"}),
		FilesNotFound: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "files_not_found_total",
			Help:      "Indexed files that were already missing from disk.",
		}),
		IndexErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "index_errors_total",
			Help:      "Failed document index operations.",
		}, []string{"op"}),
		TotalFilesSeen: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "indexed_files",
			Help:      "Capture files last reported by the index.",
		}),
	}

	collectors := []prometheus.Collector{
		m.CycleCounter, m.CycleDuration, m.LastCycle, m.FilesRemoved,
		m.SpaceFreedMB, m.FilesNotFound, m.IndexErrors, m.TotalFilesSeen,
	}
	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// RecordCycle records a finished cycle.
func (m *PrometheusMetrics) RecordCycle(outcome string, seconds float64, finishedUnix float64) {
	if m == nil {
		return
	}
	m.CycleCounter.WithLabelValues(outcome).Inc()
	m.CycleDuration.Observe(seconds)
	m.LastCycle.Set(finishedUnix)
}

// RecordRemoved adds removed files and freed megabytes for a mode.
func (m *PrometheusMetrics) RecordRemoved(mode string, files int, freedMB uint64) {
	if m == nil {
		return
	}
	m.FilesRemoved.WithLabelValues(mode).Add(float64(files))
	m.SpaceFreedMB.WithLabelValues(mode).Add(float64(freedMB))
}

// RecordNotFound counts indexed files that were absent on disk.
func (m *PrometheusMetrics) RecordNotFound(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.FilesNotFound.Add(float64(n))
}

// RecordIndexError counts a failed index operation.
func (m *PrometheusMetrics) RecordIndexError(op string) {
	if m == nil {
		return
	}
	m.IndexErrors.WithLabelValues(op).Inc()
}

// SetTotalFiles records the index file count.
func (m *PrometheusMetrics) SetTotalFiles(n int64) {
	if m == nil {
		return
	}
	m.TotalFilesSeen.Set(float64(n))
}
