package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Session lifecycle metrics
var (
	// SessionsCreatedTotal counts sessions accepted by the intake path
	SessionsCreatedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tryon_sessions_created_total",
			Help: "Total try-on sessions created",
		},
	)

	// SessionsFinishedTotal counts sessions reaching a terminal status
	SessionsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tryon_sessions_finished_total",
			Help: "Total try-on sessions reaching a terminal status",
		},
		[]string{"status"},
	)

	// TransformDurationSeconds tracks the latency of the transform step
	TransformDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tryon_transform_duration_seconds",
			Help:    "Transform step duration in seconds",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
	)
)

// Dispatcher metrics
var (
	// DispatchQueueDepth tracks the current depth of the dispatch queue
	DispatchQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tryon_dispatch_queue_depth",
			Help: "Current number of sessions waiting in the dispatch queue",
		},
	)

	// DispatchPanicsTotal counts worker panic recoveries
	DispatchPanicsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tryon_dispatch_panics_total",
			Help: "Total dispatcher worker panic recoveries",
		},
	)
)

// Reaper metrics
var (
	// ReapedSessionsTotal counts expired sessions removed by the reaper
	ReapedSessionsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tryon_reaped_sessions_total",
			Help: "Total expired sessions removed by the reaper",
		},
	)

	// ReaperSweepErrorsTotal counts per-session errors swallowed during sweeps
	ReaperSweepErrorsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tryon_reaper_sweep_errors_total",
			Help: "Total per-session errors encountered during reaper sweeps",
		},
	)

	// ReaperSweepDurationSeconds tracks the duration of a full sweep
	ReaperSweepDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tryon_reaper_sweep_duration_seconds",
			Help:    "Reaper sweep duration in seconds",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 60},
		},
	)
)
