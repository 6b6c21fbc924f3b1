package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Connection metrics
	ConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "roomchat_connections_active",
			Help: "Currently open chat connections",
		},
	)

	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_connections_total",
			Help: "Total accepted chat connections",
		},
		[]string{"transport"}, // "tcp" or "websocket"
	)

	// Protocol metrics
	Logins = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_logins_total",
			Help: "Login attempts by result",
		},
		[]string{"result"}, // "ok" or "wrong"
	)

	MessagesReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_messages_received_total",
			Help: "Decoded inbound messages by kind",
		},
		[]string{"kind"},
	)

	Kicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_kicks_total",
			Help: "Connections kicked by the server",
		},
		[]string{"reason"}, // "unauthorized", "reentered", "malformed"
	)

	// Room metrics
	RoomMoves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "roomchat_room_moves_total",
			Help: "Go requests by result",
		},
		[]string{"result"}, // "moved" or "refused"
	)

	Broadcasts = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_public_broadcasts_total",
			Help: "Public messages broadcast to a room",
		},
	)

	DroppedConnections = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_dropped_connections_total",
			Help: "Connections closed because their send queue was full",
		},
	)

	// Liveness metrics
	KeepAlivesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "roomchat_keepalives_sent_total",
			Help: "KeepAlive probes sent to idle connections",
		},
	)
)
