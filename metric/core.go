package metric

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics contains all platform-level metrics for the workflow run core
type Metrics struct {
	// Stream metrics
	FramesParsed    *prometheus.CounterVec
	FramesMalformed prometheus.Counter

	// Run metrics
	RunsStarted  prometheus.Counter
	RunsActive   prometheus.Gauge
	RunsFinished *prometheus.CounterVec
	SweepResets  prometheus.Counter

	// History metrics
	SnapshotsTaken  prometheus.Counter
	SnapshotsDedup  prometheus.Counter
	UndoOperations  prometheus.Counter
	RedoOperations  prometheus.Counter

	// Persistence metrics
	SavesTotal   prometheus.Counter
	SaveFailures prometheus.Counter
	SaveDuration prometheus.Histogram

	registry *prometheus.Registry
}

// NewMetrics creates a Metrics instance with all core metrics registered
// on a fresh registry (plus the standard Go and process collectors).
func NewMetrics() *Metrics {
	m := &Metrics{
		FramesParsed: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hedgeflow",
				Subsystem: "stream",
				Name:      "frames_parsed_total",
				Help:      "Total stream frames parsed by event type",
			},
			[]string{"event"},
		),

		FramesMalformed: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hedgeflow",
				Subsystem: "stream",
				Name:      "frames_malformed_total",
				Help:      "Total malformed stream frames skipped",
			},
		),

		RunsStarted: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hedgeflow",
				Subsystem: "runs",
				Name:      "started_total",
				Help:      "Total runs started",
			},
		),

		RunsActive: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "hedgeflow",
				Subsystem: "runs",
				Name:      "active",
				Help:      "Number of runs currently connecting or connected",
			},
		),

		RunsFinished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "hedgeflow",
				Subsystem: "runs",
				Name:      "finished_total",
				Help:      "Total runs finished by outcome (completed, error, cancelled, stale)",
			},
			[]string{"outcome"},
		),

		SweepResets: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hedgeflow",
				Subsystem: "runs",
				Name:      "sweep_resets_total",
				Help:      "Total stale connections force-reset by the sweep",
			},
		),

		SnapshotsTaken: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hedgeflow",
				Subsystem: "history",
				Name:      "snapshots_taken_total",
				Help:      "Total history snapshots stored",
			},
		),

		SnapshotsDedup: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hedgeflow",
				Subsystem: "history",
				Name:      "snapshots_deduped_total",
				Help:      "Total snapshot attempts skipped as structurally identical",
			},
		),

		UndoOperations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hedgeflow",
				Subsystem: "history",
				Name:      "undo_total",
				Help:      "Total undo operations applied",
			},
		),

		RedoOperations: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hedgeflow",
				Subsystem: "history",
				Name:      "redo_total",
				Help:      "Total redo operations applied",
			},
		),

		SavesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hedgeflow",
				Subsystem: "persistence",
				Name:      "saves_total",
				Help:      "Total workflow saves attempted",
			},
		),

		SaveFailures: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "hedgeflow",
				Subsystem: "persistence",
				Name:      "save_failures_total",
				Help:      "Total workflow saves that failed",
			},
		),

		SaveDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "hedgeflow",
				Subsystem: "persistence",
				Name:      "save_duration_seconds",
				Help:      "Workflow save duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
		),

		registry: prometheus.NewRegistry(),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.FramesParsed,
		m.FramesMalformed,
		m.RunsStarted,
		m.RunsActive,
		m.RunsFinished,
		m.SweepResets,
		m.SnapshotsTaken,
		m.SnapshotsDedup,
		m.UndoOperations,
		m.RedoOperations,
		m.SavesTotal,
		m.SaveFailures,
		m.SaveDuration,
	)

	return m
}

// Registry returns the underlying prometheus registry
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler serving the metrics endpoint
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
