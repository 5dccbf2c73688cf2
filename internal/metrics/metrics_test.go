package metrics

import (
	"testing"

	"enginesync/logger"
)

func resetMetricHandlers() {
	metricHandlersMu.Lock()
	metricHandlers = make(map[MetricHandlerID]MetricHandler)
	nextMetricHandlerID = 0
	metricHandlersMu.Unlock()
}

func TestRegisterMetricHandlerReturnsUniqueIDs(t *testing.T) {
	resetMetricHandlers()

	id := RegisterMetricHandler(func(Metric) {})
	if id == 0 {
		t.Fatalf("expected non-zero handler id")
	}

	second := RegisterMetricHandler(func(Metric) {})
	if second == 0 || second == id {
		t.Fatalf("expected unique handler id")
	}
}

func TestRegisterMetricHandlerNil(t *testing.T) {
	resetMetricHandlers()

	if id := RegisterMetricHandler(nil); id != 0 {
		t.Fatalf("expected zero id for nil handler, got %d", id)
	}
}

func TestEmitMetricDispatchesToHandlers(t *testing.T) {
	resetMetricHandlers()

	received := make([]Metric, 0, 1)
	id := RegisterMetricHandler(func(m Metric) {
		received = append(received, m)
	})
	defer UnregisterMetricHandler(id)

	EmitMetric(logger.GetLogger(), "test_component", "test_metric", 3, "", logger.Fields{"symbol": "BTCUSDT"})

	if len(received) != 1 {
		t.Fatalf("expected 1 dispatched metric, got %d", len(received))
	}
	m := received[0]
	if m.Component != "test_component" || m.Name != "test_metric" {
		t.Fatalf("unexpected metric identity: %+v", m)
	}
	if m.Type != "counter" {
		t.Fatalf("expected default counter type, got %s", m.Type)
	}
	if m.Fields["symbol"] != "BTCUSDT" {
		t.Fatalf("fields not carried: %+v", m.Fields)
	}
}

func TestEmitMetricIgnoresEmptyName(t *testing.T) {
	resetMetricHandlers()

	called := false
	id := RegisterMetricHandler(func(Metric) { called = true })
	defer UnregisterMetricHandler(id)

	EmitMetric(logger.GetLogger(), "test_component", "", 1, "counter", nil)

	if called {
		t.Fatalf("handler invoked for empty metric name")
	}
}

func TestUnregisterMetricHandlerStopsDispatch(t *testing.T) {
	resetMetricHandlers()

	count := 0
	id := RegisterMetricHandler(func(Metric) { count++ })

	EmitFailureMetric(logger.GetLogger(), FailureMetricTickPoll, "BTCUSDT", "timeout")
	UnregisterMetricHandler(id)
	EmitFailureMetric(logger.GetLogger(), FailureMetricTickPoll, "BTCUSDT", "timeout")

	if count != 1 {
		t.Fatalf("expected exactly one dispatch, got %d", count)
	}
}
