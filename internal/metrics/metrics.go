// Package metrics exposes Prometheus collectors for the session engine.
//
// Collectors are registered on the default registry at init, so the
// /metrics handler only needs promhttp.Handler().
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	OutcomeOK       = "ok"
	OutcomeRejected = "rejected"
	OutcomeFailed   = "failed"
)

var (
	// ConnectionsActive counts authenticated websocket connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tasting_connections_active",
		Help: "Number of open realtime connections",
	})

	// SessionsLive counts sessions with at least one joined connection.
	SessionsLive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "tasting_sessions_live",
		Help: "Number of sessions with at least one joined connection",
	})

	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasting_commands_total",
			Help: "Realtime commands processed, by type and outcome",
		},
		[]string{"command", "outcome"},
	)

	RateLimitBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasting_rate_limit_blocks_total",
		Help: "Messages rejected by the per-user rate limiter",
	})

	BackpressureKicksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasting_backpressure_kicks_total",
		Help: "Connections closed because their send buffer was full",
	})

	SummaryJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tasting_summary_jobs_total",
			Help: "Summary generation jobs, by outcome",
		},
		[]string{"outcome"},
	)

	SessionsSweptTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tasting_sessions_swept_total",
		Help: "Sessions ended by the idle sweep",
	})
)

// RecordCommand counts one processed command.
func RecordCommand(command, outcome string) {
	CommandsTotal.WithLabelValues(command, outcome).Inc()
}
