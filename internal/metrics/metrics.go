// SPDX-License-Identifier: MIT

// Package metrics declares the Prometheus instruments for the show core.
// Labels stay low-cardinality: roles, command types and cue kinds only,
// never user or show ids.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CommandsTotal counts processed commands by type and outcome
	// (accepted, noop, rejected).
	CommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yggdrasil_commands_total",
		Help: "Total number of processed commands, by type and outcome.",
	}, []string{"type", "outcome"})

	// CommandDuration observes state machine processing latency.
	CommandDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "yggdrasil_command_duration_seconds",
		Help:    "Latency of command processing, excluding fan-out.",
		Buckets: prometheus.DefBuckets,
	})

	// ConnectedClients tracks current websocket clients by role.
	ConnectedClients = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "yggdrasil_connected_clients",
		Help: "Currently connected websocket clients, by role.",
	}, []string{"role"})

	// BroadcastsTotal counts projection fan-outs by role.
	BroadcastsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yggdrasil_broadcasts_total",
		Help: "Total number of state broadcasts, by role.",
	}, []string{"role"})

	// DroppedMessagesTotal counts messages dropped on slow client buffers.
	DroppedMessagesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "yggdrasil_dropped_messages_total",
		Help: "Total messages dropped because a client send buffer was full.",
	})

	// DAWMessagesTotal counts OSC traffic by direction (sent/received).
	DAWMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yggdrasil_daw_messages_total",
		Help: "Total OSC messages exchanged with the DAW, by direction.",
	}, []string{"direction"})

	// SnapshotsTotal counts persistence snapshots by result.
	SnapshotsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yggdrasil_snapshots_total",
		Help: "Total state snapshots written, by result.",
	}, []string{"result"})

	// BackupsTotal counts backup files written by result.
	BackupsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yggdrasil_backups_total",
		Help: "Total backup files written, by result.",
	}, []string{"result"})

	// TimerFiresTotal counts scheduler fires by staleness.
	TimerFiresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "yggdrasil_timer_fires_total",
		Help: "Total phase timer fires, by outcome (applied/stale).",
	}, []string{"outcome"})
)
