// Package metrics declares the Prometheus collectors of the lobby client.
// Collectors register with the default registry on import and are served
// by the API server on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// =============================================================================
// Transport
// =============================================================================

var (
	// BytesReadTotal counts bytes read from lobby sockets
	BytesReadTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobby_bytes_read_total",
			Help: "Total bytes read from lobby server sockets",
		},
	)

	// BytesWrittenTotal counts bytes written to lobby sockets
	BytesWrittenTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobby_bytes_written_total",
			Help: "Total bytes written to lobby server sockets",
		},
	)

	// PipelineBytesTotal counts bytes passing through the buffer pipeline
	PipelineBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_pipeline_bytes_total",
			Help: "Total bytes seen by the buffer transform pipeline",
		},
		[]string{"direction"},
	)

	// IOErrorsTotal counts socket errors by classification
	IOErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_io_errors_total",
			Help: "Socket errors by class (would_block, fatal, unknown)",
		},
		[]string{"class"},
	)
)

// =============================================================================
// Codec
// =============================================================================

var (
	// PacketsEncodedTotal counts packets written into outbound buffers
	PacketsEncodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobby_packets_encoded_total",
			Help: "Total packets encoded",
		},
	)

	// BuffersEncodedTotal counts transport buffers produced by encoders
	BuffersEncodedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobby_buffers_encoded_total",
			Help: "Total transport buffers produced by packet encoders",
		},
	)

	// PacketsDecodedTotal counts packets decoded by type
	PacketsDecodedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_packets_decoded_total",
			Help: "Total packets decoded, by packet type",
		},
		[]string{"type"},
	)
)

// =============================================================================
// Connections
// =============================================================================

var (
	// ConnectionsOpenedTotal counts connection attempts
	ConnectionsOpenedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobby_connections_opened_total",
			Help: "Total connections opened (including reconnects)",
		},
	)

	// ConnectionsClosedTotal counts closed connections by reason
	ConnectionsClosedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_connections_closed_total",
			Help: "Total connections closed, by reason (local, peer, transport, protocol)",
		},
		[]string{"reason"},
	)

	// ActiveConnections tracks connections that are not closed
	ActiveConnections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "lobby_active_connections",
			Help: "Number of lobby connections not in the closed state",
		},
	)

	// ReconnectAttemptsTotal counts reconnects issued by the client facade
	ReconnectAttemptsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "lobby_reconnect_attempts_total",
			Help: "Total reconnect attempts",
		},
	)

	// TickDurationSeconds measures one manager tick, poll wait included
	TickDurationSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "lobby_tick_duration_seconds",
			Help:    "Duration of connection manager ticks",
			Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.02, 0.05, 0.1, 0.5},
		},
	)
)

// =============================================================================
// Application
// =============================================================================

var (
	// EventsTotal counts lobby events surfaced to the application
	EventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_events_total",
			Help: "Total lobby events surfaced to the application, by type",
		},
		[]string{"type"},
	)

	// ActionsTotal counts user actions accepted by the runner
	ActionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lobby_actions_total",
			Help: "Total user actions processed, by kind and status",
		},
		[]string{"kind", "status"},
	)
)
