// Package telemetry holds the control plane's Prometheus instrumentation.
package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SessionsLaunched counts sessions created through the launch endpoint.
	SessionsLaunched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentdeck",
		Name:      "sessions_launched_total",
		Help:      "Number of sessions launched.",
	})

	// AgentsRecreated counts worker containers rebuilt after disappearing
	// from the host.
	AgentsRecreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentdeck",
		Name:      "agents_recreated_total",
		Help:      "Number of agent containers recreated after external removal.",
	})

	// IdleSessionsStopped counts sessions stopped by the idle sweeper.
	IdleSessionsStopped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentdeck",
		Name:      "idle_sessions_stopped_total",
		Help:      "Number of sessions stopped by the idle sweeper.",
	})

	// ChatStreams counts streaming chat requests proxied to workers.
	ChatStreams = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentdeck",
		Name:      "chat_streams_total",
		Help:      "Number of chat streams proxied to agent workers.",
	})

	// LogStreams counts WebSocket log streams opened against agents.
	LogStreams = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "agentdeck",
		Name:      "log_streams_total",
		Help:      "Number of WebSocket log streams opened.",
	})
)
