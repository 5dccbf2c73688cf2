package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"enginesync/config"
	"enginesync/logger"
	"enginesync/models"
)

type fakeTicker struct {
	ch chan time.Time
}

func (t *fakeTicker) C() <-chan time.Time { return t.ch }
func (t *fakeTicker) Stop()               {}

// fakeClock drives poll loops by hand. advance moves the reported time and
// fires every ticker created so far.
type fakeClock struct {
	mu      sync.Mutex
	now     time.Time
	tickers []*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) NewTicker(time.Duration) Ticker {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTicker{ch: make(chan time.Time, 1)}
	c.tickers = append(c.tickers, t)
	return t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	now := c.now
	tickers := append([]*fakeTicker(nil), c.tickers...)
	c.mu.Unlock()

	for _, t := range tickers {
		t.ch <- now
	}
}

func (c *fakeClock) rewind(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(-d)
	c.mu.Unlock()
}

type quoteResult struct {
	price string
	err   error
}

// fakeSource replays a scripted sequence of quotes and repeats the last entry
// once the script is exhausted.
type fakeSource struct {
	mu      sync.Mutex
	results []quoteResult
	idx     int
	calls   int
}

func (s *fakeSource) Quote(_ context.Context, symbol string) (models.MarketTick, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if len(s.results) == 0 {
		return models.MarketTick{}, errors.New("no scripted quotes")
	}
	r := s.results[s.idx]
	if s.idx < len(s.results)-1 {
		s.idx++
	}
	if r.err != nil {
		return models.MarketTick{}, r.err
	}
	return models.MarketTick{Symbol: symbol, Price: decimal.RequireFromString(r.price)}, nil
}

func (s *fakeSource) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type statusResult struct {
	snap models.EngineStatusSnapshot
	err  error
}

type fakeStatus struct {
	mu      sync.Mutex
	results []statusResult
	idx     int
}

func (s *fakeStatus) Dashboard(context.Context) (models.EngineStatusSnapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.results) == 0 {
		return models.EngineStatusSnapshot{}, errors.New("no scripted status")
	}
	r := s.results[s.idx]
	if s.idx < len(s.results)-1 {
		s.idx++
	}
	return r.snap, r.err
}

func marketTestConfig() config.MarketConfig {
	return config.MarketConfig{
		Symbols:          []string{"BTCUSDT"},
		IntervalMs:       1000,
		StatusIntervalMs: 1000,
		Source:           "binance",
		RequestTimeout:   time.Second,
		PulseBuffer:      8,
	}
}

func testLog() *logger.Log {
	return logger.GetLogger()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestTickTrendSequence(t *testing.T) {
	clock := newFakeClock()
	source := &fakeSource{results: []quoteResult{
		{price: "100"}, {price: "105"}, {price: "105"}, {price: "98"},
	}}
	status := &fakeStatus{results: []statusResult{{snap: models.EngineStatusSnapshot{}}}}

	s := NewSynchronizer(marketTestConfig(), testLog(), source, status, clock)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, "first tick", func() bool {
		tick, ok := s.Tick("BTCUSDT")
		return ok && tick.Trend == models.TrendNone
	})
	tick, _ := s.Tick("BTCUSDT")
	if tick.Price.String() != "100" {
		t.Fatalf("first price = %s, want 100", tick.Price)
	}

	steps := []struct {
		price string
		trend models.Trend
	}{
		{"105", models.TrendUp},
		{"105", models.TrendFlat},
		{"98", models.TrendDown},
	}
	for _, step := range steps {
		clock.advance(time.Second)
		waitFor(t, "trend "+string(step.trend), func() bool {
			tick, ok := s.Tick("BTCUSDT")
			return ok && tick.Trend == step.trend && tick.Price.String() == step.price
		})
	}
}

func TestTickPulsesOnPriceChange(t *testing.T) {
	clock := newFakeClock()
	source := &fakeSource{results: []quoteResult{
		{price: "100"}, {price: "105"}, {price: "105"}, {price: "98"},
	}}
	status := &fakeStatus{results: []statusResult{{snap: models.EngineStatusSnapshot{}}}}

	s := NewSynchronizer(marketTestConfig(), testLog(), source, status, clock)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, "first tick", func() bool {
		_, ok := s.Tick("BTCUSDT")
		return ok
	})

	clock.advance(time.Second) // 100 -> 105
	clock.advance(time.Second) // 105 -> 105, no pulse
	clock.advance(time.Second) // 105 -> 98

	var pulses []models.Pulse
	waitFor(t, "two pulses", func() bool {
		for {
			select {
			case ev := <-s.Pulses():
				pulses = append(pulses, ev.Pulse)
			default:
				return len(pulses) >= 2
			}
		}
	})
	if pulses[0] != models.PulseUp || pulses[1] != models.PulseDown {
		t.Fatalf("pulses = %v, want [price-up price-down]", pulses)
	}
}

func TestFailedTickPollKeepsPreviousTick(t *testing.T) {
	clock := newFakeClock()
	source := &fakeSource{results: []quoteResult{
		{price: "100"},
		{err: errors.New("upstream down")},
		{price: "101"},
	}}
	status := &fakeStatus{results: []statusResult{{snap: models.EngineStatusSnapshot{}}}}

	s := NewSynchronizer(marketTestConfig(), testLog(), source, status, clock)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, "first tick", func() bool {
		_, ok := s.Tick("BTCUSDT")
		return ok
	})

	clock.advance(time.Second)
	waitFor(t, "poll failure recorded", func() bool {
		return s.LastError() != nil
	})
	tick, _ := s.Tick("BTCUSDT")
	if tick.Price.String() != "100" {
		t.Fatalf("price after failed poll = %s, want retained 100", tick.Price)
	}

	clock.advance(time.Second)
	waitFor(t, "recovery", func() bool {
		tick, ok := s.Tick("BTCUSDT")
		return ok && tick.Price.String() == "101" && s.LastError() == nil
	})
}

func TestFailedStatusPollKeepsPreviousSnapshot(t *testing.T) {
	clock := newFakeClock()
	source := &fakeSource{results: []quoteResult{{price: "100"}}}
	status := &fakeStatus{results: []statusResult{
		{snap: models.EngineStatusSnapshot{EngineMetricA: 0.9, EngineMetricB: 0.7}},
		{err: errors.New("backend unavailable")},
	}}

	s := NewSynchronizer(marketTestConfig(), testLog(), source, status, clock)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, "first snapshot", func() bool {
		snap, ok := s.Status()
		return ok && snap.EngineMetricA == 0.9
	})

	clock.advance(time.Second)
	waitFor(t, "status failure recorded", func() bool {
		return s.LastError() != nil
	})

	snap, ok := s.Status()
	if !ok || snap.EngineMetricA != 0.9 || snap.EngineMetricB != 0.7 {
		t.Fatalf("snapshot after failed poll = %+v, want retained values", snap)
	}
}

func TestCapturedAtNeverMovesBackwards(t *testing.T) {
	clock := newFakeClock()
	source := &fakeSource{results: []quoteResult{{price: "100"}, {price: "101"}}}
	status := &fakeStatus{results: []statusResult{{snap: models.EngineStatusSnapshot{}}}}

	s := NewSynchronizer(marketTestConfig(), testLog(), source, status, clock)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	waitFor(t, "first tick", func() bool {
		_, ok := s.Tick("BTCUSDT")
		return ok
	})
	first, _ := s.Tick("BTCUSDT")

	// Wall clocks jump backwards under NTP correction; the captured time must
	// stay monotonic regardless.
	clock.rewind(time.Minute)
	clock.advance(time.Second)

	waitFor(t, "second tick", func() bool {
		tick, ok := s.Tick("BTCUSDT")
		return ok && tick.Price.String() == "101"
	})
	second, _ := s.Tick("BTCUSDT")
	if second.CapturedAt.Before(first.CapturedAt) {
		t.Fatalf("captured at moved backwards: %s -> %s", first.CapturedAt, second.CapturedAt)
	}
}

func TestStartWhileRunningFails(t *testing.T) {
	clock := newFakeClock()
	source := &fakeSource{results: []quoteResult{{price: "100"}}}
	status := &fakeStatus{results: []statusResult{{snap: models.EngineStatusSnapshot{}}}}

	s := NewSynchronizer(marketTestConfig(), testLog(), source, status, clock)
	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	if err := s.Start(context.Background()); err == nil {
		t.Fatal("second Start should fail while running")
	}
}

func TestStopIsIdempotent(t *testing.T) {
	clock := newFakeClock()
	source := &fakeSource{results: []quoteResult{{price: "100"}}}
	status := &fakeStatus{results: []statusResult{{snap: models.EngineStatusSnapshot{}}}}

	s := NewSynchronizer(marketTestConfig(), testLog(), source, status, clock)

	s.Stop() // before Start

	if err := s.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	waitFor(t, "first tick", func() bool {
		_, ok := s.Tick("BTCUSDT")
		return ok
	})

	s.Stop()
	s.Stop()

	calls := source.callCount()
	time.Sleep(20 * time.Millisecond)
	if source.callCount() != calls {
		t.Fatal("poll worker still running after Stop")
	}
}
