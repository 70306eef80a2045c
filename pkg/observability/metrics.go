package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

//nolint:gochecknoglobals // Prometheus metrics must be global for registration
var (
	// StageRequestsTotal counts pipeline stage requests by outcome
	StageRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granary_stage_requests_total",
			Help: "Total number of pipeline stage requests",
		},
		[]string{"stage", "status"}, // status: ok, warning, error, failed
	)

	// StageDuration measures stage execution duration in seconds
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "granary_stage_duration_seconds",
			Help:    "Stage execution duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
		},
		[]string{"stage"},
	)

	// DatabaseQueries counts warehouse queries executed
	DatabaseQueries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granary_db_queries_total",
			Help: "Total number of warehouse queries executed",
		},
		[]string{"status"}, // status: success, error
	)

	// SessionsActive tracks sessions created minus sessions deleted
	SessionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "granary_sessions_active",
			Help: "Number of live dataset-building sessions",
		},
	)

	// ExportsTotal counts dataset exports by outcome
	ExportsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "granary_exports_total",
			Help: "Total number of dataset exports",
		},
		[]string{"status"}, // status: success, refused, error
	)

	// ExportRows counts rows written across all exports
	ExportRows = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "granary_export_rows_total",
			Help: "Total number of dataset rows exported",
		},
	)
)

// ObserveStage records one stage request with its duration
func ObserveStage(stage, status string, seconds float64) {
	StageRequestsTotal.WithLabelValues(stage, status).Inc()
	StageDuration.WithLabelValues(stage).Observe(seconds)
}
