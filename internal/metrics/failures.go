package metrics

import "enginesync/logger"

// FailureMetric identifies the metric name emitted when a recoverable failure
// is absorbed by one of the sync loops.
type FailureMetric string

const (
	// FailureMetricHandshake records engine connect attempts that never
	// reached the connected state.
	FailureMetricHandshake FailureMetric = "engine_handshake_failures"
	// FailureMetricTransport records transport-initiated closes and read
	// errors on an established connection.
	FailureMetricTransport FailureMetric = "engine_transport_failures"
	// FailureMetricFrameDropped records inbound frames dropped because the
	// frame buffer was full.
	FailureMetricFrameDropped FailureMetric = "engine_frames_dropped"
	// FailureMetricTickPoll records price polls that failed and kept the
	// previous tick.
	FailureMetricTickPoll FailureMetric = "market_tick_poll_failures"
	// FailureMetricStatusPoll records status polls that failed and kept the
	// previous snapshot.
	FailureMetricStatusPoll FailureMetric = "engine_status_poll_failures"
	// FailureMetricPulseDropped records pulse signals dropped because no
	// consumer was draining them in time.
	FailureMetricPulseDropped FailureMetric = "market_pulses_dropped"
	// FailureMetricExchange records OAuth code exchanges that resolved to an
	// error redirect.
	FailureMetricExchange FailureMetric = "oauth_exchange_failures"
)

// EmitFailureMetric logs and emits a metric representing one absorbed failure.
// Optional metadata (symbol, reason) is added to the metric fields when
// provided which enables downstream aggregation per stream.
func EmitFailureMetric(log *logger.Log, metric FailureMetric, symbol, reason string) {
	fields := logger.Fields{}
	if symbol != "" {
		fields["symbol"] = symbol
	}
	if reason != "" {
		fields["reason"] = reason
	}

	EmitMetric(log, "failures", string(metric), 1, "counter", fields)
}
