// Package metrics defines the Prometheus instrumentation for the process.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Hub metrics
var (
	// HubConnectedClients tracks connected websocket clients by role.
	HubConnectedClients = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hub_connected_clients",
			Help: "Connected websocket clients by role",
		},
		[]string{"role"},
	)

	// HubActiveEvents tracks event instances with at least one connection.
	HubActiveEvents = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hub_active_events",
			Help: "Event instances with at least one live connection",
		},
	)

	// HubBroadcastsTotal tracks role-targeted broadcast deliveries.
	HubBroadcastsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hub_broadcasts_total",
			Help: "Broadcast messages delivered by role",
		},
		[]string{"role"},
	)

	// HubSlowClientsEvicted tracks clients dropped because their send buffer filled.
	HubSlowClientsEvicted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "hub_slow_clients_evicted_total",
			Help: "Websocket clients evicted due to full send buffer",
		},
	)
)

// Command metrics
var (
	// CommandsTotal tracks processed controller commands by action and outcome.
	CommandsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "commands_total",
			Help: "Controller commands by action and status",
		},
		[]string{"action", "status"},
	)

	// CommandDuration tracks command handling latency, broadcast included.
	CommandDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "command_duration_seconds",
			Help:    "Command handling duration in seconds",
			Buckets: []float64{.0005, .001, .005, .01, .025, .05, .1, .25},
		},
	)
)

// Sweep metrics
var (
	// SweepRunsTotal tracks schedule-derived refresh sweeps.
	SweepRunsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sweep_runs_total",
			Help: "Schedule ticker refresh sweeps executed",
		},
	)

	// SweepDuration tracks sweep latency in seconds.
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sweep_duration_seconds",
			Help:    "Schedule ticker sweep duration in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1},
		},
	)
)

// Server metrics
var (
	// ConnectionsRejectedTotal tracks websocket upgrades refused before registration.
	ConnectionsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "connections_rejected_total",
			Help: "Websocket connections rejected by reason",
		},
		[]string{"reason"},
	)

	// WebSocketPingFailures tracks keepalive ping write failures.
	WebSocketPingFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "websocket_ping_failures_total",
			Help: "Websocket keepalive ping failures",
		},
	)

	// WebSocketMessageSendDuration tracks per-message write latency.
	WebSocketMessageSendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "websocket_message_send_duration_seconds",
			Help:    "Websocket message send duration in seconds",
			Buckets: []float64{.0001, .0005, .001, .005, .01, .05, .1},
		},
	)
)
