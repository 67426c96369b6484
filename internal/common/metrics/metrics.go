// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ChannelAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_channel_attempts_total",
			Help: "Total number of channel delivery attempts by outcome",
		},
		[]string{"channel", "status"},
	)

	NotificationsPersisted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notifications_persisted_total",
			Help: "Total number of notifications durably recorded",
		},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "notification_dispatch_duration_seconds",
			Help: "Duration of a full notification dispatch in seconds",
		},
		[]string{"target"},
	)

	LivePushes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inapp_live_pushes_total",
			Help: "Live in-app pushes by event and whether a connection was reached",
		},
		[]string{"event", "delivered"},
	)

	GuardAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "retry_guard_attempts_total",
			Help: "Guarded query attempts by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	RoomEmits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "realtime_room_emits_total",
			Help: "Room emissions by namespace and event",
		},
		[]string{"namespace", "event"},
	)

	ActiveConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "realtime_active_connections",
			Help: "Number of open websocket connections per namespace",
		},
		[]string{"namespace"},
	)

	StatusTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "order_status_transitions_total",
			Help: "Applied order status transitions by target status",
		},
		[]string{"status"},
	)
)
