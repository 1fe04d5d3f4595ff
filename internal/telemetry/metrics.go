package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "gudritis"

var (
	// SessionsActive is the number of running session actors.
	SessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "sessions_active",
		Help:      "Number of game sessions currently hosted.",
	})

	// SessionCommands counts commands applied by session actors.
	SessionCommands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "session_commands_total",
		Help:      "Commands applied to game sessions, by command.",
	}, []string{"command"})

	// Deliveries counts outbound messages per recipient, by result.
	Deliveries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Outbound messages per recipient, by result.",
	}, []string{"result"})

	// ConnectionsActive is the number of open websocket connections.
	ConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "connections_active",
		Help:      "Number of open websocket connections.",
	})

	// EventsDispatched counts event bus handler runs, by event and result.
	EventsDispatched = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dispatched_total",
		Help:      "Event handler executions, by event name and result.",
	}, []string{"event", "result"})
)

const (
	DeliveryOK      = "ok"
	DeliveryTimeout = "timeout"
	DeliveryClosed  = "closed"
	DeliveryOffline = "offline"
)
