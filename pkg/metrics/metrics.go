package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ConnectAttempts records remote connect attempts by result (success|failure|superseded).
	ConnectAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionlens_connect_attempts_total",
			Help: "Total number of remote connection attempts",
		},
		[]string{"result"},
	)

	// StateTransitions counts connection state changes by target state.
	StateTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionlens_connection_state_transitions_total",
			Help: "Total number of connection state transitions",
		},
		[]string{"state"},
	)

	// RemoteOperations counts filesystem calls served by the remote backend (ok|error).
	RemoteOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sessionlens_remote_fs_operations_total",
			Help: "Total number of remote filesystem operations",
		},
		[]string{"op", "result"},
	)

	// RemoteConnected is 1 while the remote backend is the active provider.
	RemoteConnected = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sessionlens_remote_connected",
			Help: "Whether a remote backend is currently active",
		},
	)
)

// ObserveRemoteOp records the outcome of a single remote filesystem operation.
func ObserveRemoteOp(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	RemoteOperations.WithLabelValues(op, result).Inc()
}
