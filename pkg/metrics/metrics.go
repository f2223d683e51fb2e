package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectAttempts records provider connection attempts by mode (silent|interactive|input)
	// and result (connected|miss|cancelled|denied|error).
	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyprovider_connect_attempts_total",
			Help: "Total number of provider connection attempts",
		},
		[]string{"mode", "result"},
	)

	// PermissionDecisions counts permission lookups and popup decisions by source
	// (store|popup) and outcome (granted|denied|unknown|abandoned).
	PermissionDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyprovider_permission_decisions_total",
			Help: "Total number of permission decisions",
		},
		[]string{"source", "outcome"},
	)

	// PopupOutcomes counts popup resolutions by kind (login|permission) and outcome
	// (payload|closed|error).
	PopupOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "skyprovider_popup_outcomes_total",
			Help: "Total number of resolved popups",
		},
		[]string{"kind", "outcome"},
	)

	// OpenPopups tracks popups awaiting a result.
	OpenPopups = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyprovider_open_popups",
			Help: "Number of popups awaiting a result",
		},
	)

	// HandshakeSessions tracks connected host sessions.
	HandshakeSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "skyprovider_handshake_sessions",
			Help: "Number of connected host sessions",
		},
	)

	// StoreLatency measures backing store round-trips.
	StoreLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skyprovider_store_latency_seconds",
			Help:    "Backing store round-trip latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "status"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "skyprovider_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
