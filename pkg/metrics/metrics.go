// Package metrics defines the Prometheus metrics exported by maildock.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Connection metrics
var (
	ConnectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maildock_connections_total",
			Help: "Total number of connections accepted",
		},
		[]string{"protocol"},
	)

	ConnectionsCurrent = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "maildock_connections_current",
			Help: "Current number of tracked connections",
		},
		[]string{"protocol"},
	)

	ListenerActive = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "maildock_listener_active",
			Help: "Whether the protocol listener is active (1) or stopped (0)",
		},
		[]string{"protocol"},
	)
)
