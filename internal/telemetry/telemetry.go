package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linkup_ws_connections_active",
		Help: "Live WebSocket connections.",
	})

	MessagesPersisted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkup_messages_persisted_total",
		Help: "Messages accepted and written to the store.",
	})

	EventsDelivered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "linkup_events_delivered_total",
		Help: "Events enqueued to live connections, by event name.",
	}, []string{"event"})

	EventsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linkup_events_dropped_total",
		Help: "Events dropped because a connection's send queue was full.",
	})
)
