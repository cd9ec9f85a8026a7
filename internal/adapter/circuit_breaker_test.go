package adapter

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeClock provides a controllable time source for tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock { return &fakeClock{now: t} }

func (fc *fakeClock) Now() time.Time {
	fc.mu.Lock()
	defer fc.mu.Unlock()
	return fc.now
}

func (fc *fakeClock) Advance(d time.Duration) {
	fc.mu.Lock()
	fc.now = fc.now.Add(d)
	fc.mu.Unlock()
}

// newTestBreaker returns a breaker whose sweep only runs when the test
// calls it.
func newTestBreaker(clock *fakeClock) *CircuitBreaker {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		StaleThreshold: time.Second,
		CoolOff:        2 * time.Second,
		PollInterval:   time.Hour,
	}, nil, nil)
	cb.nowFunc = clock.Now
	return cb
}

func book(instrumentID string) BookUpdate {
	return BookUpdate{Exchange: ExchangeOKX, MarketID: instrumentID}
}

// expectHalt fails unless Check blocks with a message containing want.
func expectHalt(t *testing.T, cb *CircuitBreaker, instrumentID, want string) {
	t.Helper()
	err := cb.Check(ExchangeOKX, instrumentID)
	if !errors.Is(err, ErrTradingHalted) || !strings.Contains(err.Error(), want) {
		t.Fatalf("expected halt containing %q, got %v", want, err)
	}
}

func TestCircuitBreaker_FirstDataCoolsOff(t *testing.T) {
	clock := newFakeClock(time.Now())
	cb := newTestBreaker(clock)

	expectHalt(t, cb, "BTC-USDT", "no market data")

	cb.record(book("BTC-USDT"))
	expectHalt(t, cb, "BTC-USDT", "cooling off")

	clock.Advance(900 * time.Millisecond)
	cb.record(book("BTC-USDT"))
	clock.Advance(900 * time.Millisecond)
	cb.record(book("BTC-USDT"))
	expectHalt(t, cb, "BTC-USDT", "cooling off")

	clock.Advance(300 * time.Millisecond)
	if err := cb.Check(ExchangeOKX, "BTC-USDT"); err != nil {
		t.Fatalf("expected tradeable after cool-off, got %v", err)
	}
}

func TestCircuitBreaker_StaleData(t *testing.T) {
	clock := newFakeClock(time.Now())
	cb := newTestBreaker(clock)
	cb.record(book("ETH-USDT"))
	clock.Advance(900 * time.Millisecond)
	cb.record(book("ETH-USDT"))
	clock.Advance(900 * time.Millisecond)
	cb.record(book("ETH-USDT"))
	clock.Advance(300 * time.Millisecond)
	if !cb.CanTrade(ExchangeOKX, "ETH-USDT") {
		t.Fatal("expected fresh data to be tradeable")
	}

	// Check alone blocks on age, even before a sweep.
	clock.Advance(1500 * time.Millisecond)
	expectHalt(t, cb, "ETH-USDT", "stale market data")

	// Once swept, fresh data has to sit out a new cool-off.
	cb.sweep()
	cb.record(book("ETH-USDT"))
	expectHalt(t, cb, "ETH-USDT", "cooling off")

	clock.Advance(500 * time.Millisecond)
	cb.record(book("ETH-USDT"))
	clock.Advance(500 * time.Millisecond)
	cb.record(book("ETH-USDT"))
	clock.Advance(500 * time.Millisecond)
	cb.record(book("ETH-USDT"))
	clock.Advance(600 * time.Millisecond)
	if !cb.CanTrade(ExchangeOKX, "ETH-USDT") {
		t.Fatal("expected tradeable after recovery cool-off")
	}
}

func TestCircuitBreaker_Disconnect(t *testing.T) {
	clock := newFakeClock(time.Now())
	cb := newTestBreaker(clock)

	ws := &WSClient{}
	cb.WatchConnection(ExchangeOKX, ws)

	cb.record(book("BTC-USDT"))
	clock.Advance(2100 * time.Millisecond)
	cb.record(book("BTC-USDT"))
	if !cb.CanTrade(ExchangeOKX, "BTC-USDT") {
		t.Fatal("expected tradeable while connected")
	}

	ws.circuit.Store(int32(CircuitOpen))
	expectHalt(t, cb, "BTC-USDT", "stream disconnected")
	cb.sweep()

	// Reconnected: the book still looks fresh but the instrument was
	// marked down, so trading waits for new data and a cool-off.
	ws.circuit.Store(int32(CircuitClosed))
	expectHalt(t, cb, "BTC-USDT", "disconnected")

	cb.record(book("BTC-USDT"))
	expectHalt(t, cb, "BTC-USDT", "cooling off")
}

func TestCircuitBreaker_MarkStale(t *testing.T) {
	clock := newFakeClock(time.Now())
	cb := newTestBreaker(clock)
	cb.MarkStale(ExchangeOKX, "SOL-USDT") // unknown instrument is a no-op

	cb.record(book("SOL-USDT"))
	clock.Advance(2100 * time.Millisecond)
	cb.record(book("SOL-USDT"))
	if !cb.CanTrade(ExchangeOKX, "SOL-USDT") {
		t.Fatal("expected tradeable before MarkStale")
	}

	cb.MarkStale(ExchangeOKX, "SOL-USDT")
	expectHalt(t, cb, "SOL-USDT", "marked stale")

	cb.record(book("SOL-USDT"))
	expectHalt(t, cb, "SOL-USDT", "cooling off")
}

func TestCircuitBreaker_ManualHalt(t *testing.T) {
	clock := newFakeClock(time.Now())
	cb := newTestBreaker(clock)
	cb.record(book("XRP-USDT"))
	clock.Advance(2100 * time.Millisecond)
	cb.record(book("XRP-USDT"))

	cb.ManualHalt()
	expectHalt(t, cb, "XRP-USDT", "manual halt")

	cb.Resume()
	if !cb.CanTrade(ExchangeOKX, "XRP-USDT") {
		t.Fatal("expected tradeable after Resume")
	}
}

func TestCircuitBreaker_RunConsumesFeed(t *testing.T) {
	feed := make(chan BookUpdate, 4)
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		StaleThreshold: time.Minute,
		PollInterval:   5 * time.Millisecond,
	}, feed, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan struct{})
	go func() {
		cb.Run(ctx)
		close(done)
	}()

	feed <- book("BTC-USDT")
	deadline := time.After(time.Second)
	for !cb.CanTrade(ExchangeOKX, "BTC-USDT") {
		select {
		case <-deadline:
			t.Fatalf("feed never reached the breaker: %v", cb.Check(ExchangeOKX, "BTC-USDT"))
		case <-time.After(5 * time.Millisecond):
		}
	}

	close(feed)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the feed closed")
	}
}
