package marketdata

import (
	"context"
	"fmt"
	"sync"
	"time"

	"enginesync/config"
	"enginesync/internal/metrics"
	"enginesync/logger"
	"enginesync/models"
)

// PulseEvent is emitted once per observed price change. Consumers that fall
// behind lose events; the pulse is a transient animation signal, not a feed.
type PulseEvent struct {
	Symbol string
	Pulse  models.Pulse
	At     time.Time
}

// Synchronizer keeps the latest market tick per symbol and the latest engine
// status snapshot, polling each on its own fixed period. Failed polls retain
// the previous value so readers always see the last known good data.
type Synchronizer struct {
	cfg    config.MarketConfig
	log    *logger.Log
	source PriceSource
	status StatusSource
	clock  Clock

	mu            sync.RWMutex
	ticks         map[string]models.MarketTick
	snapshot      *models.EngineStatusSnapshot
	lastTickErr   error
	lastStatusErr error

	pulses chan PulseEvent

	runMu   sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// NewSynchronizer wires a synchronizer from its poll sources. A nil clock
// falls back to the wall clock.
func NewSynchronizer(cfg config.MarketConfig, log *logger.Log, source PriceSource, status StatusSource, clock Clock) *Synchronizer {
	if log == nil {
		log = logger.GetLogger()
	}
	if clock == nil {
		clock = NewClock()
	}
	buffer := cfg.PulseBuffer
	if buffer <= 0 {
		buffer = 16
	}
	return &Synchronizer{
		cfg:    cfg,
		log:    log,
		source: source,
		status: status,
		clock:  clock,
		ticks:  make(map[string]models.MarketTick, len(cfg.Symbols)),
		pulses: make(chan PulseEvent, buffer),
	}
}

// Start launches one tick worker per configured symbol plus the status
// worker. Calling Start on a running synchronizer is an error.
func (s *Synchronizer) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.running {
		return fmt.Errorf("market synchronizer already running")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true

	s.log.WithComponent("market_sync").WithFields(logger.Fields{
		"symbols":            s.cfg.Symbols,
		"interval_ms":        s.cfg.IntervalMs,
		"status_interval_ms": s.cfg.StatusIntervalMs,
		"source":             s.cfg.Source,
	}).Info("starting market synchronizer")

	for _, symbol := range s.cfg.Symbols {
		s.wg.Add(1)
		go s.tickWorker(runCtx, symbol)
	}

	s.wg.Add(1)
	go s.statusWorker(runCtx)

	return nil
}

// Stop cancels the poll workers and waits for them to drain. Safe to call
// more than once and before Start.
func (s *Synchronizer) Stop() {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if !s.running {
		return
	}
	s.cancel()
	s.wg.Wait()
	s.running = false
	s.log.WithComponent("market_sync").Info("market synchronizer stopped")
}

// Pulses returns the channel of transient price-change signals.
func (s *Synchronizer) Pulses() <-chan PulseEvent {
	return s.pulses
}

// Tick returns the latest observation for a symbol, if one has been accepted.
func (s *Synchronizer) Tick(symbol string) (models.MarketTick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	tick, ok := s.ticks[symbol]
	return tick, ok
}

// Ticks returns a copy of the latest observation per symbol.
func (s *Synchronizer) Ticks() map[string]models.MarketTick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.MarketTick, len(s.ticks))
	for symbol, tick := range s.ticks {
		out[symbol] = tick
	}
	return out
}

// Status returns the latest accepted engine status snapshot, if any.
func (s *Synchronizer) Status() (models.EngineStatusSnapshot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.snapshot == nil {
		return models.EngineStatusSnapshot{}, false
	}
	return *s.snapshot, true
}

// LastError reports the most recent unrecovered poll failure. Each poll kind
// clears only its own failure on the next success, so a healthy status poll
// cannot mask a failing price feed.
func (s *Synchronizer) LastError() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastTickErr != nil {
		return s.lastTickErr
	}
	return s.lastStatusErr
}

func (s *Synchronizer) tickWorker(ctx context.Context, symbol string) {
	defer s.wg.Done()

	s.pollTick(ctx, symbol)

	ticker := s.clock.NewTicker(time.Duration(s.cfg.IntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.pollTick(ctx, symbol)
		}
	}
}

func (s *Synchronizer) statusWorker(ctx context.Context) {
	defer s.wg.Done()

	s.pollStatus(ctx)

	ticker := s.clock.NewTicker(time.Duration(s.cfg.StatusIntervalMs) * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.pollStatus(ctx)
		}
	}
}

func (s *Synchronizer) pollTick(ctx context.Context, symbol string) {
	reqCtx, cancel := s.requestContext(ctx)
	tick, err := s.source.Quote(reqCtx, symbol)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.WithComponent("market_sync").WithError(err).WithFields(logger.Fields{"symbol": symbol}).Warn("price poll failed, keeping previous tick")
		metrics.EmitFailureMetric(s.log, metrics.FailureMetricTickPoll, symbol, err.Error())
		s.mu.Lock()
		s.lastTickErr = err
		s.mu.Unlock()
		return
	}

	tick.Symbol = symbol
	tick.CapturedAt = s.clock.Now()

	s.mu.Lock()
	var prev *models.MarketTick
	if p, ok := s.ticks[symbol]; ok {
		prev = &p
		// Observations never move backwards in time even if the clock does.
		if tick.CapturedAt.Before(p.CapturedAt) {
			tick.CapturedAt = p.CapturedAt
		}
	}
	tick.Trend = tick.TrendAgainst(prev)
	s.ticks[symbol] = tick
	s.lastTickErr = nil
	s.mu.Unlock()

	switch tick.Trend {
	case models.TrendUp:
		s.emitPulse(symbol, models.PulseUp, tick.CapturedAt)
	case models.TrendDown:
		s.emitPulse(symbol, models.PulseDown, tick.CapturedAt)
	}
}

func (s *Synchronizer) pollStatus(ctx context.Context) {
	reqCtx, cancel := s.requestContext(ctx)
	snap, err := s.status.Dashboard(reqCtx)
	cancel()

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		s.log.WithComponent("market_sync").WithError(err).Warn("status poll failed, keeping previous snapshot")
		metrics.EmitFailureMetric(s.log, metrics.FailureMetricStatusPoll, "", err.Error())
		s.mu.Lock()
		s.lastStatusErr = err
		s.mu.Unlock()
		return
	}

	snap.FetchedAt = s.clock.Now()

	s.mu.Lock()
	if s.snapshot != nil && snap.FetchedAt.Before(s.snapshot.FetchedAt) {
		snap.FetchedAt = s.snapshot.FetchedAt
	}
	s.snapshot = &snap
	s.lastStatusErr = nil
	s.mu.Unlock()
}

// emitPulse never blocks a poll loop: a full buffer means the consumer has
// fallen behind the animation window and the signal is already stale.
func (s *Synchronizer) emitPulse(symbol string, pulse models.Pulse, at time.Time) {
	select {
	case s.pulses <- PulseEvent{Symbol: symbol, Pulse: pulse, At: at}:
	default:
		metrics.EmitFailureMetric(s.log, metrics.FailureMetricPulseDropped, symbol, "pulse buffer full")
	}
}

func (s *Synchronizer) requestContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.RequestTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.cfg.RequestTimeout)
}
