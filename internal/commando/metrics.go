package commando

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics grounded directly on internal/rpc/metrics.go's promauto
// counter/histogram vectors, relabeled from command-exec results to
// Commando call/reconnect outcomes.
var (
	callsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lnsocket",
			Subsystem: "commando",
			Name:      "calls_total",
			Help:      "Total number of Commando calls by result.",
		},
		[]string{"result", "method"},
	)

	callDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "lnsocket",
			Subsystem: "commando",
			Name:      "call_duration_seconds",
			Help:      "Duration of Commando calls in seconds.",
			Buckets:   prometheus.ExponentialBuckets(0.001, 2, 15),
		},
		[]string{"method"},
	)

	reconnectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lnsocket",
			Subsystem: "commando",
			Name:      "reconnects_total",
			Help:      "Total reconnect attempts by outcome.",
		},
		[]string{"outcome"},
	)

	bytesSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lnsocket",
			Subsystem: "commando",
			Name:      "bytes_sent_total",
			Help:      "Total bytes written to the peer connection.",
		},
	)

	bytesReceived = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "lnsocket",
			Subsystem: "commando",
			Name:      "bytes_received_total",
			Help:      "Total bytes read from the peer connection.",
		},
	)

	handshakesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "lnsocket",
			Subsystem: "commando",
			Name:      "handshakes_total",
			Help:      "Total Noise_XK handshake attempts by result.",
		},
		[]string{"result"},
	)
)

const (
	resultSuccess = "success"
	resultRpcErr  = "rpc_error"
	resultTimeout = "timeout"
	resultFailed  = "failed"
)

func recordCall(method string, durationSeconds float64, result string) {
	callsTotal.WithLabelValues(result, method).Inc()
	callDuration.WithLabelValues(method).Observe(durationSeconds)
}

func recordReconnectAttempt(success bool) {
	outcome := "failed"
	if success {
		outcome = "success"
	}
	reconnectsTotal.WithLabelValues(outcome).Inc()
}

// RecordHandshake records the outcome of one Noise_XK handshake attempt.
// Exported so callers that dial and handshake before Spawn (the initial
// connection; Spawn itself only reconnects) can report into the same
// lnsocket_commando_handshakes_total series as the client's own reconnects.
func RecordHandshake(err error) {
	result := resultSuccess
	if err != nil {
		result = resultFailed
	}
	handshakesTotal.WithLabelValues(result).Inc()
}
