package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Trend classifies a price move relative to the previous tick for the same
// symbol. The first tick for a symbol has no prior sample and carries
// TrendNone.
type Trend string

const (
	TrendNone Trend = "none"
	TrendUp   Trend = "up"
	TrendDown Trend = "down"
	TrendFlat Trend = "flat"
)

// Pulse is the transient signal emitted on a price change. The presentation
// layer owns clearing it after its animation window; this layer only emits.
type Pulse string

const (
	PulseUp   Pulse = "price-up"
	PulseDown Pulse = "price-down"
)

// MarketTick is one market observation for a symbol at a point in time.
type MarketTick struct {
	Symbol        string          `json:"symbol"`
	Price         decimal.Decimal `json:"price"`
	ChangePercent decimal.Decimal `json:"change_percent"`
	CapturedAt    time.Time       `json:"captured_at"`
	Trend         Trend           `json:"trend"`
}

// TrendAgainst computes the trend of this tick relative to a previous tick.
func (t MarketTick) TrendAgainst(prev *MarketTick) Trend {
	if prev == nil {
		return TrendNone
	}
	switch t.Price.Cmp(prev.Price) {
	case 1:
		return TrendUp
	case -1:
		return TrendDown
	default:
		return TrendFlat
	}
}

// LastSignal is the most recent engine signal included in the status payload.
type LastSignal struct {
	Verdict    string    `json:"final_verdict"`
	ChaosScore float64   `json:"chaos"`
	Timestamp  time.Time `json:"timestamp"`
}

// EngineStatusSnapshot is the most recently accepted engine status. It is
// fully replaced on a successful poll and retained as-is across failed ones.
type EngineStatusSnapshot struct {
	EngineMetricA float64     `json:"engine_metric_a"`
	EngineMetricB float64     `json:"engine_metric_b"`
	LastSignal    *LastSignal `json:"last_signal,omitempty"`
	FetchedAt     time.Time   `json:"fetched_at"`
}
