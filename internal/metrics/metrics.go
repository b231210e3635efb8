// Package metrics provides Prometheus metrics for the interaction gateway.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InteractionsCreated counts interactions that became pending.
	InteractionsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interaction_created_total",
			Help: "Total number of interactions created",
		},
		[]string{"kind"},
	)

	// InteractionsSettled counts terminal transitions by outcome.
	InteractionsSettled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "interaction_settled_total",
			Help: "Total number of interactions that reached a terminal status",
		},
		[]string{"kind", "status"},
	)

	// InteractionsPending tracks the live pending set across all conversations.
	InteractionsPending = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "interaction_pending",
			Help: "Number of interactions currently pending",
		},
	)

	// DecisionDuration tracks time from creation to terminal transition.
	DecisionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "interaction_decision_seconds",
			Help:    "Time from interaction creation until it was settled",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 900, 1800},
		},
		[]string{"kind"},
	)

	// CapacityRejections counts creates refused by the per-conversation cap.
	CapacityRejections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interaction_capacity_rejections_total",
			Help: "Total number of interactions refused because the conversation was at capacity",
		},
	)

	// UnauthorizedAttempts counts decisions submitted for the wrong conversation.
	UnauthorizedAttempts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "interaction_unauthorized_attempts_total",
			Help: "Total number of resolve or reject attempts with a mismatched conversation",
		},
	)

	// GatewayConnections tracks connected viewers.
	GatewayConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_connections",
			Help: "Number of viewer connections registered with the gateway",
		},
	)

	// MessagesDropped counts messages that could not be handed to a connection.
	MessagesDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gateway_messages_dropped_total",
			Help: "Total number of outbound messages dropped by the gateway",
		},
	)

	// PermissionCacheHits counts permission requests answered from the allow-cache.
	PermissionCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "permission_cache_hits_total",
			Help: "Total number of permission requests short-circuited by a remembered decision",
		},
		[]string{"decision"},
	)
)

// RecordCreated updates metrics for a new pending interaction.
func RecordCreated(kind string) {
	InteractionsCreated.WithLabelValues(kind).Inc()
	InteractionsPending.Inc()
}

// RecordSettled updates metrics for a terminal transition.
func RecordSettled(kind, status string, pendingFor time.Duration) {
	InteractionsSettled.WithLabelValues(kind, status).Inc()
	InteractionsPending.Dec()
	DecisionDuration.WithLabelValues(kind).Observe(pendingFor.Seconds())
}
